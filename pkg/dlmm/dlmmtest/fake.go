// Package dlmmtest provides in-memory pool handles for tests.
package dlmmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	"dlmmpilot/pkg/dlmm"
	"dlmmpilot/pkg/sol"
)

var errOffline = errors.New("dlmmtest: offline connection")

// Conn is a dlmm.RPC that only knows its endpoint.
type Conn struct {
	URL string
}

func (c Conn) Endpoint() string { return c.URL }

func (c Conn) GetAccount(ctx context.Context, address solana.PublicKey) (*sol.Account, error) {
	return nil, errOffline
}

func (c Conn) GetMultipleAccounts(ctx context.Context, addresses ...solana.PublicKey) ([]*sol.Account, error) {
	return nil, errOffline
}

func (c Conn) GetProgramAccounts(ctx context.Context, program solana.PublicKey, filters ...rpc.RPCFilter) ([]*sol.Account, error) {
	return nil, errOffline
}

func (c Conn) GetLatestBlockhash(ctx context.Context) (solana.Hash, uint64, error) {
	return solana.Hash{}, 0, errOffline
}

// Handle is a scripted dlmm.Handle. Builders return TxCount distinct dummy
// transactions paid by the user.
type Handle struct {
	mu sync.Mutex

	Addr       solana.PublicKey
	EndpointID string

	Active    *dlmm.ActiveBin
	ActiveErr error
	BuildErr  error
	TxCount   int

	Positions map[solana.PublicKey]*dlmm.Position

	ActiveCalls int
	Calls       []string
	LastAdd     *dlmm.AddLiquidityParams
	LastRemove  *dlmm.RemoveLiquidityParams
}

// NewHandle returns a handle whose active bin is activeID.
func NewHandle(activeID int32) *Handle {
	return &Handle{
		Addr:       solana.NewWallet().PublicKey(),
		EndpointID: "http://fake",
		Active:     &dlmm.ActiveBin{BinID: activeID, Price: "1.5", PricePerToken: "1500", XAmount: "1000", YAmount: "1500"},
		TxCount:    1,
		Positions:  make(map[solana.PublicKey]*dlmm.Position),
	}
}

var _ dlmm.Handle = (*Handle)(nil)

func (h *Handle) record(call string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Calls = append(h.Calls, call)
}

// CallLog returns a copy of the builder calls made so far.
func (h *Handle) CallLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.Calls...)
}

func (h *Handle) Address() solana.PublicKey { return h.Addr }

func (h *Handle) Endpoint() string { return h.EndpointID }

func (h *Handle) ActiveBin(ctx context.Context) (*dlmm.ActiveBin, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ActiveCalls++
	if h.ActiveErr != nil {
		return nil, h.ActiveErr
	}
	active := *h.Active
	return &active, nil
}

func (h *Handle) txs(payer solana.PublicKey, n int) ([]*solana.Transaction, error) {
	if h.BuildErr != nil {
		return nil, h.BuildErr
	}
	out := make([]*solana.Transaction, 0, n)
	for i := 0; i < n; i++ {
		tx, err := solana.NewTransaction(
			[]solana.Instruction{system.NewTransferInstruction(uint64(i+1), payer, payer).Build()},
			solana.Hash{byte(i + 1)},
			solana.TransactionPayer(payer),
		)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (h *Handle) InitializePositionAndAddLiquidityByStrategy(ctx context.Context, params dlmm.AddLiquidityParams) ([]*solana.Transaction, error) {
	h.record("create")
	h.mu.Lock()
	h.LastAdd = &params
	h.mu.Unlock()
	return h.txs(params.User, h.TxCount)
}

func (h *Handle) AddLiquidityByStrategy(ctx context.Context, params dlmm.AddLiquidityParams) ([]*solana.Transaction, error) {
	h.record("add")
	h.mu.Lock()
	h.LastAdd = &params
	h.mu.Unlock()
	return h.txs(params.User, h.TxCount)
}

func (h *Handle) RemoveLiquidity(ctx context.Context, params dlmm.RemoveLiquidityParams) ([]*solana.Transaction, error) {
	h.record("remove")
	h.mu.Lock()
	h.LastRemove = &params
	h.mu.Unlock()
	return h.txs(params.User, h.TxCount)
}

func (h *Handle) ClaimSwapFee(ctx context.Context, owner, position solana.PublicKey) (*solana.Transaction, error) {
	h.record("claim")
	txs, err := h.txs(owner, 1)
	if err != nil {
		return nil, err
	}
	return txs[0], nil
}

func (h *Handle) ClaimAllSwapFee(ctx context.Context, owner solana.PublicKey, positions []solana.PublicKey) ([]*solana.Transaction, error) {
	h.record("claim-all")
	n := (len(positions) + dlmm.MaxClaimAllAllowed - 1) / dlmm.MaxClaimAllAllowed
	return h.txs(owner, n)
}

func (h *Handle) ClosePosition(ctx context.Context, owner, position solana.PublicKey) (*solana.Transaction, error) {
	h.record("close")
	txs, err := h.txs(owner, 1)
	if err != nil {
		return nil, err
	}
	return txs[0], nil
}

func (h *Handle) Position(ctx context.Context, position solana.PublicKey) (*dlmm.Position, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pos, ok := h.Positions[position]
	if !ok {
		return nil, errors.New("position not found")
	}
	return pos, nil
}

func (h *Handle) PositionsByUser(ctx context.Context, user solana.PublicKey) ([]*dlmm.Position, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*dlmm.Position
	for _, pos := range h.Positions {
		if pos.Owner.Equals(user) {
			out = append(out, pos)
		}
	}
	return out, nil
}
