package dlmm

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"lukechampine.com/uint128"

	"dlmmpilot/pkg/anchor"
	"dlmmpilot/pkg/sol"
)

type fakeRPC struct {
	mu              sync.Mutex
	accounts        map[solana.PublicKey]*sol.Account
	programAccounts []*sol.Account
	err             error
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{accounts: make(map[solana.PublicKey]*sol.Account)}
}

func (f *fakeRPC) put(address, owner solana.PublicKey, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[address] = &sol.Account{Address: address, Owner: owner, Data: data}
}

func (f *fakeRPC) Endpoint() string { return "http://fake" }

func (f *fakeRPC) GetAccount(ctx context.Context, address solana.PublicKey) (*sol.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.accounts[address], nil
}

func (f *fakeRPC) GetMultipleAccounts(ctx context.Context, addresses ...solana.PublicKey) ([]*sol.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*sol.Account, len(addresses))
	for i, a := range addresses {
		out[i] = f.accounts[a]
	}
	return out, nil
}

func (f *fakeRPC) GetProgramAccounts(ctx context.Context, program solana.PublicKey, filters ...rpc.RPCFilter) ([]*sol.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.programAccounts, f.err
}

func (f *fakeRPC) GetLatestBlockhash(ctx context.Context) (solana.Hash, uint64, error) {
	return solana.Hash{9, 9, 9}, 100, f.err
}

type pairFixture struct {
	LbPair   solana.PublicKey
	MintX    solana.PublicKey
	MintY    solana.PublicKey
	ReserveX solana.PublicKey
	ReserveY solana.PublicKey
	ActiveID int32
	BinStep  uint16
}

func newPairFixture(activeID int32) pairFixture {
	return pairFixture{
		LbPair:   solana.NewWallet().PublicKey(),
		MintX:    solana.NewWallet().PublicKey(),
		MintY:    solana.NewWallet().PublicKey(),
		ReserveX: solana.NewWallet().PublicKey(),
		ReserveY: solana.NewWallet().PublicKey(),
		ActiveID: activeID,
		BinStep:  10,
	}
}

func (p pairFixture) lbPairData() []byte {
	data := make([]byte, 904)
	copy(data, anchor.AccountDiscriminator("LbPair"))
	binary.LittleEndian.PutUint32(data[lbPairActiveIDOffset:], uint32(p.ActiveID))
	binary.LittleEndian.PutUint16(data[lbPairBinStepOffset:], p.BinStep)
	copy(data[lbPairTokenXMintOffset:], p.MintX.Bytes())
	copy(data[lbPairTokenYMintOffset:], p.MintY.Bytes())
	copy(data[lbPairReserveXOffset:], p.ReserveX.Bytes())
	copy(data[lbPairReserveYOffset:], p.ReserveY.Bytes())
	return data
}

func mintData(decimals uint8) []byte {
	data := make([]byte, mintMinSize)
	data[mintDecimalsOffset] = decimals
	return data
}

// install registers the pair, its mints and the active bin array.
func (p pairFixture) install(f *fakeRPC, amountX, amountY uint64) {
	f.put(p.LbPair, DLMMProgramID, p.lbPairData())
	f.put(p.MintX, solana.TokenProgramID, mintData(9))
	f.put(p.MintY, solana.TokenProgramID, mintData(6))

	idx := BinArrayIndex(p.ActiveID)
	key, _ := DeriveBinArray(p.LbPair, idx)
	data := make([]byte, binArrayHeaderSize+MaxBinPerArray*binSize)
	slot := int(int64(p.ActiveID) - idx*MaxBinPerArray)
	off := binArrayHeaderSize + slot*binSize
	binary.LittleEndian.PutUint64(data[off:], amountX)
	binary.LittleEndian.PutUint64(data[off+8:], amountY)
	f.put(key, DLMMProgramID, data)
}

func positionData(lbPair, owner solana.PublicKey, lower, upper int32, shares map[int32]uint64) []byte {
	data := make([]byte, PositionV2Size)
	copy(data, anchor.AccountDiscriminator("PositionV2"))
	copy(data[positionLbPairOffset:], lbPair.Bytes())
	copy(data[positionOwnerOffset:], owner.Bytes())
	for id, v := range shares {
		off := positionSharesOffset + int(id-lower)*16
		u := uint128.From64(v)
		binary.LittleEndian.PutUint64(data[off:], u.Lo)
		binary.LittleEndian.PutUint64(data[off+8:], u.Hi)
	}
	binary.LittleEndian.PutUint32(data[positionLowerBinOffset:], uint32(lower))
	binary.LittleEndian.PutUint32(data[positionUpperBinOffset:], uint32(upper))
	return data
}
