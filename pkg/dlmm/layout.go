package dlmm

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"lukechampine.com/uint128"

	"dlmmpilot/pkg/anchor"
)

// LbPair is the subset of the on-chain LbPair account the engine reads.
type LbPair struct {
	ActiveID   int32
	BinStep    uint16
	Status     uint8
	TokenXMint solana.PublicKey
	TokenYMint solana.PublicKey
	ReserveX   solana.PublicKey
	ReserveY   solana.PublicKey
}

func (p *LbPair) Decode(data []byte) error {
	if len(data) < LbPairMinSize {
		return fmt.Errorf("insufficient data: expected at least %d bytes, got %d", LbPairMinSize, len(data))
	}
	if !bytes.Equal(data[:8], anchor.AccountDiscriminator("LbPair")) {
		return fmt.Errorf("account is not an LbPair")
	}

	decoder := bin.NewBinDecoder(data[lbPairActiveIDOffset : lbPairActiveIDOffset+4])
	if err := decoder.Decode(&p.ActiveID); err != nil {
		return fmt.Errorf("decode active_id: %w", err)
	}
	decoder = bin.NewBinDecoder(data[lbPairBinStepOffset : lbPairBinStepOffset+2])
	if err := decoder.Decode(&p.BinStep); err != nil {
		return fmt.Errorf("decode bin_step: %w", err)
	}
	p.Status = data[lbPairStatusOffset]

	p.TokenXMint = solana.PublicKeyFromBytes(data[lbPairTokenXMintOffset : lbPairTokenXMintOffset+32])
	p.TokenYMint = solana.PublicKeyFromBytes(data[lbPairTokenYMintOffset : lbPairTokenYMintOffset+32])
	p.ReserveX = solana.PublicKeyFromBytes(data[lbPairReserveXOffset : lbPairReserveXOffset+32])
	p.ReserveY = solana.PublicKeyFromBytes(data[lbPairReserveYOffset : lbPairReserveYOffset+32])
	return nil
}

// Position is a decoded PositionV2 account.
type Position struct {
	Address         solana.PublicKey
	LbPair          solana.PublicKey
	Owner           solana.PublicKey
	LowerBinID      int32
	UpperBinID      int32
	LiquidityShares [MaxBinPerArray]uint128.Uint128
	FeeXPending     uint64
	FeeYPending     uint64
}

func (p *Position) Decode(data []byte) error {
	if len(data) < PositionV2Size {
		return fmt.Errorf("insufficient data: expected %d bytes, got %d", PositionV2Size, len(data))
	}
	if !bytes.Equal(data[:8], anchor.AccountDiscriminator("PositionV2")) {
		return fmt.Errorf("account is not a PositionV2")
	}

	p.LbPair = solana.PublicKeyFromBytes(data[positionLbPairOffset : positionLbPairOffset+32])
	p.Owner = solana.PublicKeyFromBytes(data[positionOwnerOffset : positionOwnerOffset+32])

	decoder := bin.NewBinDecoder(data[positionSharesOffset : positionSharesOffset+16*MaxBinPerArray])
	if err := decoder.Decode(&p.LiquidityShares); err != nil {
		return fmt.Errorf("decode liquidity_shares: %w", err)
	}

	p.FeeXPending, p.FeeYPending = 0, 0
	for i := 0; i < MaxBinPerArray; i++ {
		base := positionFeeInfoOffset + i*positionFeeInfoSize + 32
		p.FeeXPending += binary.LittleEndian.Uint64(data[base : base+8])
		p.FeeYPending += binary.LittleEndian.Uint64(data[base+8 : base+16])
	}

	decoder = bin.NewBinDecoder(data[positionLowerBinOffset : positionLowerBinOffset+4])
	if err := decoder.Decode(&p.LowerBinID); err != nil {
		return fmt.Errorf("decode lower_bin_id: %w", err)
	}
	decoder = bin.NewBinDecoder(data[positionUpperBinOffset : positionUpperBinOffset+4])
	if err := decoder.Decode(&p.UpperBinID); err != nil {
		return fmt.Errorf("decode upper_bin_id: %w", err)
	}
	return nil
}

// BinsWithLiquidity lists the bins in [from, to] where the position holds
// non-zero shares, ascending.
func (p *Position) BinsWithLiquidity(from, to int32) []int32 {
	if from < p.LowerBinID {
		from = p.LowerBinID
	}
	if to > p.UpperBinID {
		to = p.UpperBinID
	}
	var out []int32
	for id := from; id <= to; id++ {
		i := int(id - p.LowerBinID)
		if i < 0 || i >= MaxBinPerArray {
			continue
		}
		if !p.LiquidityShares[i].IsZero() {
			out = append(out, id)
		}
	}
	return out
}

// HasLiquidity reports whether any bin holds shares.
func (p *Position) HasLiquidity() bool {
	return len(p.BinsWithLiquidity(p.LowerBinID, p.UpperBinID)) > 0
}

// binAmounts reads amount_x and amount_y of binID from a BinArray account.
func binAmounts(data []byte, binID int32) (uint64, uint64, error) {
	slot := int(int64(binID) - BinArrayIndex(binID)*MaxBinPerArray)
	off := binArrayHeaderSize + slot*binSize
	if len(data) < off+16 {
		return 0, 0, fmt.Errorf("bin array too short for bin %d", binID)
	}
	return binary.LittleEndian.Uint64(data[off : off+8]), binary.LittleEndian.Uint64(data[off+8 : off+16]), nil
}

func mintDecimals(data []byte) (uint8, error) {
	if len(data) < mintMinSize {
		return 0, fmt.Errorf("mint account too short: %d bytes", len(data))
	}
	return data[mintDecimalsOffset], nil
}
