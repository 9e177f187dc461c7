package dlmm

import (
	"context"
	"fmt"
	"sort"

	cosmath "cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"dlmmpilot/pkg/errs"
	"dlmmpilot/pkg/sol"
)

// RPC is the subset of sol.Client a pool handle needs.
type RPC interface {
	Endpoint() string
	GetAccount(ctx context.Context, address solana.PublicKey) (*sol.Account, error)
	GetMultipleAccounts(ctx context.Context, addresses ...solana.PublicKey) ([]*sol.Account, error)
	GetProgramAccounts(ctx context.Context, program solana.PublicKey, filters ...rpc.RPCFilter) ([]*sol.Account, error)
	GetLatestBlockhash(ctx context.Context) (solana.Hash, uint64, error)
}

// ActiveBin is a fresh read of the bin currently holding the pool price.
// Price is lamport-per-lamport, PricePerToken is adjusted for decimals.
type ActiveBin struct {
	BinID         int32  `json:"binId"`
	Price         string `json:"price"`
	PricePerToken string `json:"pricePerToken"`
	XAmount       string `json:"xAmount"`
	YAmount       string `json:"yAmount"`
}

// AddLiquidityParams describes a deposit into a position. PositionSigner is
// required when the position is created in the same transaction.
type AddLiquidityParams struct {
	Position       solana.PublicKey
	PositionSigner solana.PrivateKey
	User           solana.PublicKey
	TotalXAmount   cosmath.Int
	TotalYAmount   cosmath.Int
	Strategy       Strategy
	SlippageBps    uint16
	ComputeUnits   uint32
}

// RemoveLiquidityParams describes a withdrawal. BpsToRemove holds either a
// single value applied to every bin or one value per bin of
// [FromBinID, ToBinID].
type RemoveLiquidityParams struct {
	Position            solana.PublicKey
	User                solana.PublicKey
	FromBinID           int32
	ToBinID             int32
	BpsToRemove         []uint16
	ShouldClaimAndClose bool
}

// Handle is a connected client for one pool on one endpoint. Builders return
// unsigned transactions, except that a new position's keypair has already
// signed.
type Handle interface {
	Address() solana.PublicKey
	Endpoint() string
	ActiveBin(ctx context.Context) (*ActiveBin, error)
	InitializePositionAndAddLiquidityByStrategy(ctx context.Context, params AddLiquidityParams) ([]*solana.Transaction, error)
	AddLiquidityByStrategy(ctx context.Context, params AddLiquidityParams) ([]*solana.Transaction, error)
	RemoveLiquidity(ctx context.Context, params RemoveLiquidityParams) ([]*solana.Transaction, error)
	ClaimSwapFee(ctx context.Context, owner, position solana.PublicKey) (*solana.Transaction, error)
	ClaimAllSwapFee(ctx context.Context, owner solana.PublicKey, positions []solana.PublicKey) ([]*solana.Transaction, error)
	ClosePosition(ctx context.Context, owner, position solana.PublicKey) (*solana.Transaction, error)
	Position(ctx context.Context, position solana.PublicKey) (*Position, error)
	PositionsByUser(ctx context.Context, user solana.PublicKey) ([]*Position, error)
}

// Pool is the Meteora DLMM implementation of Handle. Its fields are fixed at
// construction; every read goes to the network.
type Pool struct {
	conn      RPC
	pair      pairAccounts
	binStep   uint16
	decimalsX uint8
	decimalsY uint8
}

var _ Handle = (*Pool)(nil)

// NewPool loads the LbPair account at address and its mints.
func NewPool(ctx context.Context, conn RPC, address string) (*Pool, error) {
	lbPair, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, errs.InvalidPool(err, "malformed pool address %q", address)
	}

	acc, err := conn.GetAccount(ctx, lbPair)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, errs.InvalidPool(nil, "pool %s not found", address)
	}
	if !acc.Owner.Equals(DLMMProgramID) {
		return nil, errs.InvalidPool(nil, "account %s is not owned by the DLMM program", address)
	}
	var state LbPair
	if err := state.Decode(acc.Data); err != nil {
		return nil, errs.InvalidPool(err, "decode pool %s", address)
	}

	mints, err := conn.GetMultipleAccounts(ctx, state.TokenXMint, state.TokenYMint)
	if err != nil {
		return nil, err
	}
	if len(mints) != 2 || mints[0] == nil || mints[1] == nil {
		return nil, errs.InvalidPool(nil, "pool %s mints not found", address)
	}
	for _, mint := range mints {
		if !mint.Owner.Equals(solana.TokenProgramID) && !mint.Owner.Equals(Token2022ProgramID) {
			return nil, errs.InvalidPool(nil, "mint %s is not owned by a token program", mint.Address)
		}
	}
	decimalsX, err := mintDecimals(mints[0].Data)
	if err != nil {
		return nil, errs.InvalidPool(err, "token X mint")
	}
	decimalsY, err := mintDecimals(mints[1].Data)
	if err != nil {
		return nil, errs.InvalidPool(err, "token Y mint")
	}

	eventAuthority, err := DeriveEventAuthority()
	if err != nil {
		return nil, err
	}

	return &Pool{
		conn: conn,
		pair: pairAccounts{
			LbPair:         lbPair,
			ReserveX:       state.ReserveX,
			ReserveY:       state.ReserveY,
			TokenXMint:     state.TokenXMint,
			TokenYMint:     state.TokenYMint,
			TokenXProgram:  mints[0].Owner,
			TokenYProgram:  mints[1].Owner,
			EventAuthority: eventAuthority,
		},
		binStep:   state.BinStep,
		decimalsX: decimalsX,
		decimalsY: decimalsY,
	}, nil
}

func (p *Pool) Address() solana.PublicKey { return p.pair.LbPair }

func (p *Pool) Endpoint() string { return p.conn.Endpoint() }

func (p *Pool) BinStep() uint16 { return p.binStep }

func (p *Pool) TokenMints() (solana.PublicKey, solana.PublicKey) {
	return p.pair.TokenXMint, p.pair.TokenYMint
}

func (p *Pool) loadState(ctx context.Context) (*LbPair, error) {
	acc, err := p.conn.GetAccount(ctx, p.pair.LbPair)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, errs.InvalidPool(nil, "pool %s not found", p.pair.LbPair)
	}
	var state LbPair
	if err := state.Decode(acc.Data); err != nil {
		return nil, errs.InvalidPool(err, "decode pool %s", p.pair.LbPair)
	}
	return &state, nil
}

func (p *Pool) ActiveBin(ctx context.Context) (*ActiveBin, error) {
	state, err := p.loadState(ctx)
	if err != nil {
		return nil, err
	}

	binArray, err := DeriveBinArray(p.pair.LbPair, BinArrayIndex(state.ActiveID))
	if err != nil {
		return nil, err
	}
	acc, err := p.conn.GetAccount(ctx, binArray)
	if err != nil {
		return nil, err
	}
	var amountX, amountY uint64
	if acc != nil {
		if amountX, amountY, err = binAmounts(acc.Data, state.ActiveID); err != nil {
			return nil, fmt.Errorf("read active bin: %w", err)
		}
	}

	price := BinPrice(state.ActiveID, state.BinStep)
	return &ActiveBin{
		BinID:         state.ActiveID,
		Price:         price.String(),
		PricePerToken: price.Shift(int32(p.decimalsX) - int32(p.decimalsY)).String(),
		XAmount:       fmt.Sprintf("%d", amountX),
		YAmount:       fmt.Sprintf("%d", amountY),
	}, nil
}

func (p *Pool) userAccounts(owner solana.PublicKey) (userAccounts, error) {
	ataX, err := associatedTokenAddress(owner, p.pair.TokenXMint, p.pair.TokenXProgram)
	if err != nil {
		return userAccounts{}, err
	}
	ataY, err := associatedTokenAddress(owner, p.pair.TokenYMint, p.pair.TokenYProgram)
	if err != nil {
		return userAccounts{}, err
	}
	return userAccounts{Owner: owner, UserTokenX: ataX, UserTokenY: ataY}, nil
}

// ataInstructions creates the user's token accounts if needed and wraps SOL
// for native-mint deposits.
func (p *Pool) ataInstructions(user userAccounts, amountX, amountY cosmath.Int) []solana.Instruction {
	ixs := []solana.Instruction{
		createATAIdempotent(user.Owner, user.UserTokenX, user.Owner, p.pair.TokenXMint, p.pair.TokenXProgram),
		createATAIdempotent(user.Owner, user.UserTokenY, user.Owner, p.pair.TokenYMint, p.pair.TokenYProgram),
	}
	wrap := func(mint, ata solana.PublicKey, amount cosmath.Int) {
		if !mint.Equals(solana.SolMint) || amount.IsNil() || !amount.IsPositive() || !amount.IsUint64() {
			return
		}
		ixs = append(ixs,
			system.NewTransferInstruction(amount.Uint64(), user.Owner, ata).Build(),
			token.NewSyncNativeInstruction(ata).Build(),
		)
	}
	wrap(p.pair.TokenXMint, user.UserTokenX, amountX)
	wrap(p.pair.TokenYMint, user.UserTokenY, amountY)
	return ixs
}

// binArrayInstructions initializes the bin arrays covering [minBinID,
// maxBinID] that do not exist yet.
func (p *Pool) binArrayInstructions(ctx context.Context, funder solana.PublicKey, minBinID, maxBinID int32) ([]solana.Instruction, error) {
	lower, upper := binArrayPair(minBinID, maxBinID)
	var (
		indexes []int64
		keys    []solana.PublicKey
	)
	for idx := lower; idx <= upper; idx++ {
		key, err := DeriveBinArray(p.pair.LbPair, idx)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
		keys = append(keys, key)
	}

	accounts, err := p.conn.GetMultipleAccounts(ctx, keys...)
	if err != nil {
		return nil, err
	}
	var ixs []solana.Instruction
	for i, acc := range accounts {
		if acc == nil {
			ixs = append(ixs, newInitializeBinArrayInstruction(p.pair, keys[i], funder, indexes[i]))
		}
	}
	return ixs, nil
}

func (p *Pool) binArrays(lowerBinID, upperBinID int32) (solana.PublicKey, solana.PublicKey, error) {
	lowerIdx, upperIdx := binArrayPair(lowerBinID, upperBinID)
	lower, err := DeriveBinArray(p.pair.LbPair, lowerIdx)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	upper, err := DeriveBinArray(p.pair.LbPair, upperIdx)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	return lower, upper, nil
}

func (p *Pool) InitializePositionAndAddLiquidityByStrategy(ctx context.Context, params AddLiquidityParams) ([]*solana.Transaction, error) {
	if len(params.PositionSigner) == 0 {
		return nil, fmt.Errorf("position keypair is required to initialize a position")
	}
	params.Position = params.PositionSigner.PublicKey()
	return p.buildAddLiquidity(ctx, params, true)
}

func (p *Pool) AddLiquidityByStrategy(ctx context.Context, params AddLiquidityParams) ([]*solana.Transaction, error) {
	return p.buildAddLiquidity(ctx, params, false)
}

func (p *Pool) buildAddLiquidity(ctx context.Context, params AddLiquidityParams, initialize bool) ([]*solana.Transaction, error) {
	s := params.Strategy
	if s.Width() < 1 || s.Width() > MaxBinPerArray {
		return nil, fmt.Errorf("strategy width %d outside [1, %d]", s.Width(), MaxBinPerArray)
	}
	amountX, amountY := params.TotalXAmount, params.TotalYAmount
	if amountX.IsNil() {
		amountX = cosmath.ZeroInt()
	}
	if amountY.IsNil() {
		amountY = cosmath.ZeroInt()
	}
	if !amountX.IsUint64() || !amountY.IsUint64() {
		return nil, fmt.Errorf("liquidity amounts must fit in u64")
	}

	state, err := p.loadState(ctx)
	if err != nil {
		return nil, err
	}
	user, err := p.userAccounts(params.User)
	if err != nil {
		return nil, err
	}

	pre := p.ataInstructions(user, amountX, amountY)
	binArrayIxs, err := p.binArrayInstructions(ctx, params.User, s.MinBinID, s.MaxBinID)
	if err != nil {
		return nil, err
	}
	pre = append(pre, binArrayIxs...)
	if initialize {
		pre = append(pre, newInitializePositionInstruction(p.pair, params.User, params.Position, s.MinBinID, int32(s.Width())))
	}

	slippage := maxActiveBinSlippage(params.SlippageBps, state.BinStep)
	chunks := chunkLiquidity(s.MinBinID, s.MaxBinID, state.ActiveID, amountX, amountY)

	blockhash, _, err := p.conn.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	txs := make([]*solana.Transaction, 0, len(chunks))
	for i, chunk := range chunks {
		lower, upper, err := p.binArrays(chunk.MinBinID, chunk.MaxBinID)
		if err != nil {
			return nil, err
		}
		ix := newAddLiquidityByStrategyInstruction(p.pair, user, params.Position, lower, upper, liquidityParameterByStrategy{
			AmountX:              chunk.AmountX.Uint64(),
			AmountY:              chunk.AmountY.Uint64(),
			ActiveID:             state.ActiveID,
			MaxActiveBinSlippage: slippage,
			StrategyParameters: strategyParameters{
				MinBinID:     chunk.MinBinID,
				MaxBinID:     chunk.MaxBinID,
				StrategyType: s.Type.onChain(),
			},
		})

		ixs := computeBudget(params.ComputeUnits)
		if i == 0 {
			ixs = append(ixs, pre...)
		}
		ixs = append(ixs, ix)

		tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(params.User))
		if err != nil {
			return nil, fmt.Errorf("build add liquidity transaction %d: %w", i, err)
		}
		if initialize && i == 0 {
			signer := params.PositionSigner
			if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
				if key.Equals(params.Position) {
					return &signer
				}
				return nil
			}); err != nil {
				return nil, fmt.Errorf("position partial sign: %w", err)
			}
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (p *Pool) RemoveLiquidity(ctx context.Context, params RemoveLiquidityParams) ([]*solana.Transaction, error) {
	position, err := p.Position(ctx, params.Position)
	if err != nil {
		return nil, err
	}
	if params.FromBinID > params.ToBinID {
		return nil, fmt.Errorf("invalid bin range [%d, %d]", params.FromBinID, params.ToBinID)
	}

	bins := position.BinsWithLiquidity(params.FromBinID, params.ToBinID)
	if len(bins) == 0 && !params.ShouldClaimAndClose {
		return nil, fmt.Errorf("position %s has no liquidity in [%d, %d]", params.Position, params.FromBinID, params.ToBinID)
	}

	reductions := make([]binLiquidityReduction, 0, len(bins))
	for _, id := range bins {
		bps, err := bpsFor(params, id)
		if err != nil {
			return nil, err
		}
		if bps > 0 {
			reductions = append(reductions, binLiquidityReduction{BinID: id, BpsToRemove: bps})
		}
	}

	user, err := p.userAccounts(params.User)
	if err != nil {
		return nil, err
	}
	lower, upper, err := p.binArrays(position.LowerBinID, position.UpperBinID)
	if err != nil {
		return nil, err
	}
	blockhash, _, err := p.conn.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	var txs []*solana.Transaction
	for start := 0; start < len(reductions); start += MaxBinLengthAllowedInOneTx {
		end := start + MaxBinLengthAllowedInOneTx
		if end > len(reductions) {
			end = len(reductions)
		}
		ixs := computeBudget(0)
		if start == 0 {
			ixs = append(ixs, p.ataInstructions(user, cosmath.ZeroInt(), cosmath.ZeroInt())...)
		}
		ixs = append(ixs, newRemoveLiquidityInstruction(p.pair, user, params.Position, lower, upper, reductions[start:end]))
		tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(params.User))
		if err != nil {
			return nil, fmt.Errorf("build remove liquidity transaction: %w", err)
		}
		txs = append(txs, tx)
	}

	if params.ShouldClaimAndClose {
		ixs := []solana.Instruction{
			newClaimFeeInstruction(p.pair, user, params.Position, lower, upper),
			newClosePositionInstruction(p.pair, params.User, params.Position, lower, upper),
		}
		if len(txs) == 0 {
			ixs = append(p.ataInstructions(user, cosmath.ZeroInt(), cosmath.ZeroInt()), ixs...)
		}
		tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(params.User))
		if err != nil {
			return nil, fmt.Errorf("build claim and close transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func bpsFor(params RemoveLiquidityParams, binID int32) (uint16, error) {
	var bps uint16
	switch n := len(params.BpsToRemove); {
	case n == 0:
		bps = BasisPointMax
	case n == 1:
		bps = params.BpsToRemove[0]
	case n == int(params.ToBinID-params.FromBinID)+1:
		bps = params.BpsToRemove[binID-params.FromBinID]
	default:
		return 0, fmt.Errorf("expected 1 or %d bps values, got %d", params.ToBinID-params.FromBinID+1, n)
	}
	if bps > BasisPointMax {
		return 0, fmt.Errorf("bps %d exceeds %d", bps, BasisPointMax)
	}
	return bps, nil
}

func (p *Pool) ClaimSwapFee(ctx context.Context, owner, position solana.PublicKey) (*solana.Transaction, error) {
	txs, err := p.ClaimAllSwapFee(ctx, owner, []solana.PublicKey{position})
	if err != nil {
		return nil, err
	}
	return txs[0], nil
}

// ClaimAllSwapFee batches MaxClaimAllAllowed positions per transaction.
func (p *Pool) ClaimAllSwapFee(ctx context.Context, owner solana.PublicKey, positions []solana.PublicKey) ([]*solana.Transaction, error) {
	if len(positions) == 0 {
		return nil, fmt.Errorf("no positions to claim")
	}
	user, err := p.userAccounts(owner)
	if err != nil {
		return nil, err
	}

	accounts, err := p.conn.GetMultipleAccounts(ctx, positions...)
	if err != nil {
		return nil, err
	}
	claims := make([]solana.Instruction, 0, len(positions))
	for i, acc := range accounts {
		pos, err := p.decodePosition(positions[i], acc)
		if err != nil {
			return nil, err
		}
		lower, upper, err := p.binArrays(pos.LowerBinID, pos.UpperBinID)
		if err != nil {
			return nil, err
		}
		claims = append(claims, newClaimFeeInstruction(p.pair, user, pos.Address, lower, upper))
	}

	blockhash, _, err := p.conn.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	var txs []*solana.Transaction
	for start := 0; start < len(claims); start += MaxClaimAllAllowed {
		end := start + MaxClaimAllAllowed
		if end > len(claims) {
			end = len(claims)
		}
		ixs := p.ataInstructions(user, cosmath.ZeroInt(), cosmath.ZeroInt())
		ixs = append(ixs, claims[start:end]...)
		tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(owner))
		if err != nil {
			return nil, fmt.Errorf("build claim fee transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (p *Pool) ClosePosition(ctx context.Context, owner, position solana.PublicKey) (*solana.Transaction, error) {
	pos, err := p.Position(ctx, position)
	if err != nil {
		return nil, err
	}
	if pos.HasLiquidity() {
		return nil, fmt.Errorf("position %s still holds liquidity", position)
	}
	lower, upper, err := p.binArrays(pos.LowerBinID, pos.UpperBinID)
	if err != nil {
		return nil, err
	}
	blockhash, _, err := p.conn.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := solana.NewTransaction(
		[]solana.Instruction{newClosePositionInstruction(p.pair, owner, position, lower, upper)},
		blockhash,
		solana.TransactionPayer(owner),
	)
	if err != nil {
		return nil, fmt.Errorf("build close position transaction: %w", err)
	}
	return tx, nil
}

func (p *Pool) Position(ctx context.Context, position solana.PublicKey) (*Position, error) {
	acc, err := p.conn.GetAccount(ctx, position)
	if err != nil {
		return nil, err
	}
	return p.decodePosition(position, acc)
}

func (p *Pool) decodePosition(address solana.PublicKey, acc *sol.Account) (*Position, error) {
	if acc == nil {
		return nil, fmt.Errorf("position %s not found", address)
	}
	var pos Position
	if err := pos.Decode(acc.Data); err != nil {
		return nil, fmt.Errorf("decode position %s: %w", address, err)
	}
	if !pos.LbPair.Equals(p.pair.LbPair) {
		return nil, fmt.Errorf("position %s belongs to pool %s", address, pos.LbPair)
	}
	pos.Address = address
	return &pos, nil
}

// PositionsByUser lists user's positions in this pool, ordered by address.
func (p *Pool) PositionsByUser(ctx context.Context, user solana.PublicKey) ([]*Position, error) {
	accounts, err := p.conn.GetProgramAccounts(ctx, DLMMProgramID,
		rpc.RPCFilter{DataSize: PositionV2Size},
		rpc.RPCFilter{Memcmp: &rpc.RPCFilterMemcmp{Offset: positionLbPairOffset, Bytes: solana.Base58(p.pair.LbPair.Bytes())}},
		rpc.RPCFilter{Memcmp: &rpc.RPCFilterMemcmp{Offset: positionOwnerOffset, Bytes: solana.Base58(user.Bytes())}},
	)
	if err != nil {
		return nil, err
	}

	positions := make([]*Position, 0, len(accounts))
	for _, acc := range accounts {
		pos, err := p.decodePosition(acc.Address, acc)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Address.String() < positions[j].Address.String()
	})
	return positions, nil
}

func computeBudget(units uint32) []solana.Instruction {
	if units == 0 {
		return nil
	}
	return []solana.Instruction{computebudget.NewSetComputeUnitLimitInstruction(units).Build()}
}

func associatedTokenAddress(owner, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	if tokenProgram.Equals(solana.TokenProgramID) {
		addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
		return addr, err
	}
	addr, _, err := solana.FindProgramAddress(
		[][]byte{owner.Bytes(), tokenProgram.Bytes(), mint.Bytes()},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	return addr, err
}

// createATAIdempotent is the associated token program's CreateIdempotent
// instruction, which works for both token programs.
func createATAIdempotent(payer, ata, owner, mint, tokenProgram solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(payer, true, true),
			solana.NewAccountMeta(ata, true, false),
			solana.NewAccountMeta(owner, false, false),
			solana.NewAccountMeta(mint, false, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
			solana.NewAccountMeta(tokenProgram, false, false),
		},
		[]byte{1},
	)
}
