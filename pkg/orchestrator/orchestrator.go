package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	cosmath "cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dlmmpilot/pkg/dlmm"
	"dlmmpilot/pkg/errs"
	"dlmmpilot/pkg/funds"
	"dlmmpilot/pkg/metrics"
	"dlmmpilot/pkg/signer"
	"dlmmpilot/pkg/sol"
)

// Chain is the network surface the orchestrator needs after building.
type Chain interface {
	funds.BalanceReader
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*sol.SimulationResult, error)
	ConfirmTransaction(ctx context.Context, signature solana.Signature) (*sol.Confirmation, error)
}

// ErrCannotSign is the cause when the signer backend is not ready.
var ErrCannotSign = errors.New("signer backend cannot sign")

// Orchestrator runs operations against one signer backend. It keeps no
// per-operation state, so a failed operation is retried by calling again.
type Orchestrator struct {
	backend  signer.Backend
	chain    Chain
	simulate bool
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Orchestrator)

// WithSimulation dry-runs each transaction before it is signed. The first
// is simulated before any signing; each later one after its predecessor
// confirms.
func WithSimulation(enabled bool) Option {
	return func(o *Orchestrator) { o.simulate = enabled }
}

// WithStepTimeout bounds each network step: build, balance check,
// simulation and each confirmation. Signing is not bounded since it may wait
// on the user.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator. chain is the default connection; a backend
// with its own native connection overrides it.
func New(backend signer.Backend, chain Chain, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend: backend,
		chain:   chain,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) connection(capability signer.Capability) Chain {
	if capability.NativeConnection != nil {
		return capability.NativeConnection
	}
	return o.chain
}

func (o *Orchestrator) step(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

// plan is a prepared operation.
type plan struct {
	kind     Kind
	position solana.PublicKey
	required decimal.Decimal
	estimate funds.CostEstimate
	build    func(ctx context.Context, user solana.PublicKey) ([]*solana.Transaction, error)
}

func (o *Orchestrator) run(ctx context.Context, p plan) (*Result, error) {
	started := o.now()
	res := &Result{
		OperationID:      uuid.New(),
		Kind:             p.kind,
		State:            StatePending,
		PositionIdentity: p.position,
	}
	t := &tracker{result: res, now: o.now}
	logger := o.logger.With(
		zap.String("operation", string(p.kind)),
		zap.String("operationId", res.OperationID.String()))

	defer func() {
		o.metrics.OperationFinished(string(p.kind), string(res.State), o.now().Sub(started))
		if res.State == StateFailed {
			logger.Warn("Operation failed",
				zap.Int("confirmed", len(res.Signatures)),
				zap.Error(res.Cause))
		} else {
			logger.Info("✓ Operation confirmed", zap.Int("transactions", len(res.Signatures)))
		}
	}()

	capability := o.backend.Capability()
	if !capability.CanSign {
		t.fail(-1, solana.Signature{}, errs.Unknown(ErrCannotSign))
		return res, res.Cause
	}
	conn := o.connection(capability)
	if conn == nil {
		t.fail(-1, solana.Signature{}, errs.Connection(nil, "no connection available"))
		return res, res.Cause
	}

	stepCtx, cancel := o.step(ctx)
	txs, err := p.build(stepCtx, capability.Signer)
	cancel()
	if err == nil && len(txs) == 0 {
		err = fmt.Errorf("%s built no transactions", p.kind)
	}
	if err != nil {
		t.fail(-1, solana.Signature{}, errs.Unknown(err))
		return res, res.Cause
	}
	res.Transactions = len(txs)
	t.move(StateBuilt, -1, solana.Signature{}, nil)

	stepCtx, cancel = o.step(ctx)
	check := funds.Validate(stepCtx, conn, capability.Signer, p.required, p.estimate)
	cancel()
	if err := check.Error(); err != nil {
		t.fail(-1, solana.Signature{}, err)
		return res, res.Cause
	}
	if err := o.simulateTx(ctx, conn, t, 0, txs[0]); err != nil {
		return res, err
	}
	t.move(StateBalanceChecked, -1, solana.Signature{}, nil)

	for i, tx := range txs {
		if i > 0 {
			// Later transactions touch accounts created by earlier ones, so
			// they are only simulated once those have confirmed.
			if err := o.simulateTx(ctx, conn, t, i, tx); err != nil {
				return res, err
			}
			capability = o.backend.Capability()
		}
		if !capability.CanSign {
			t.fail(i, solana.Signature{}, errs.Unknown(ErrCannotSign))
			return res, res.Cause
		}

		sig, err := capability.Sign(ctx, tx)
		if err != nil {
			t.fail(i, solana.Signature{}, errs.Unknown(err))
			return res, res.Cause
		}
		t.move(StateSigned, i, sig, nil)
		t.move(StateSubmitted, i, sig, nil)

		stepCtx, cancel := o.step(ctx)
		conf, err := conn.ConfirmTransaction(stepCtx, sig)
		cancel()
		if err != nil {
			o.metrics.TransactionFinished(false)
			t.fail(i, sig, err)
			return res, res.Cause
		}
		if conf.Err != nil {
			o.metrics.TransactionFinished(false)
			t.fail(i, sig, errs.Transaction(sig.String(), conf.Err))
			return res, res.Cause
		}
		o.metrics.TransactionFinished(true)
		res.Signatures = append(res.Signatures, sig)
		logger.Debug("Transaction confirmed", zap.Int("tx", i), zap.String("signature", sig.String()))
		if i < len(txs)-1 {
			// Back to BalanceChecked until the next transaction is signed.
			t.move(StateBalanceChecked, i, sig, nil)
		}
	}
	t.move(StateConfirmed, -1, solana.Signature{}, nil)
	return res, nil
}

// simulateTx dry-runs tx when simulation is enabled and fails the operation
// on a simulation error.
func (o *Orchestrator) simulateTx(ctx context.Context, conn Chain, t *tracker, i int, tx *solana.Transaction) error {
	if !o.simulate {
		return nil
	}
	stepCtx, cancel := o.step(ctx)
	sim, err := conn.SimulateTransaction(stepCtx, tx)
	cancel()
	if err != nil {
		t.fail(i, solana.Signature{}, err)
		return t.result.Cause
	}
	if sim.Err != nil {
		t.fail(i, solana.Signature{}, errs.SimulationFailed(sim.Err, sim.Logs))
		return t.result.Cause
	}
	return nil
}

// LiquidityIntent describes a deposit. A nil TotalYAmount with AutoFill set
// is derived from the active bin's reserve ratio.
type LiquidityIntent struct {
	TotalXAmount cosmath.Int
	TotalYAmount *cosmath.Int
	AutoFill     bool
	Strategy     dlmm.Strategy
	SlippageBps  uint16
	// RequiredSol is the native SOL the deposit itself spends.
	RequiredSol decimal.Decimal
}

func (o *Orchestrator) liquidityParams(ctx context.Context, handle dlmm.Handle, user solana.PublicKey, intent LiquidityIntent) (dlmm.AddLiquidityParams, error) {
	x := intent.TotalXAmount
	if x.IsNil() {
		x = cosmath.ZeroInt()
	}
	y := cosmath.ZeroInt()
	switch {
	case intent.TotalYAmount != nil:
		y = *intent.TotalYAmount
	case intent.AutoFill:
		active, err := handle.ActiveBin(ctx)
		if err != nil {
			return dlmm.AddLiquidityParams{}, fmt.Errorf("read active bin for auto-fill: %w", err)
		}
		y = dlmm.BalancedAmount(x, active)
	}

	bins := intent.Strategy.Width()
	if bins > dlmm.MaxBinLengthAllowedInOneTx {
		bins = dlmm.MaxBinLengthAllowedInOneTx
	}
	return dlmm.AddLiquidityParams{
		User:         user,
		TotalXAmount: x,
		TotalYAmount: y,
		Strategy:     intent.Strategy,
		SlippageBps:  intent.SlippageBps,
		ComputeUnits: funds.ComputeUnits(bins),
	}, nil
}

// CreatePosition opens a new position with a fresh keypair and deposits
// into it.
func (o *Orchestrator) CreatePosition(ctx context.Context, handle dlmm.Handle, intent LiquidityIntent) (*Result, error) {
	positionKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate position keypair: %w", err)
	}
	return o.run(ctx, plan{
		kind:     KindCreate,
		position: positionKey.PublicKey(),
		required: intent.RequiredSol,
		estimate: funds.Estimate(intent.Strategy.Width()),
		build: func(ctx context.Context, user solana.PublicKey) ([]*solana.Transaction, error) {
			params, err := o.liquidityParams(ctx, handle, user, intent)
			if err != nil {
				return nil, err
			}
			params.PositionSigner = positionKey
			params.Position = positionKey.PublicKey()
			return handle.InitializePositionAndAddLiquidityByStrategy(ctx, params)
		},
	})
}

// AddLiquidity deposits into an existing position.
func (o *Orchestrator) AddLiquidity(ctx context.Context, handle dlmm.Handle, position solana.PublicKey, intent LiquidityIntent) (*Result, error) {
	return o.run(ctx, plan{
		kind:     KindAdd,
		position: position,
		required: intent.RequiredSol,
		estimate: funds.EstimateFees(intent.Strategy.Width()),
		build: func(ctx context.Context, user solana.PublicKey) ([]*solana.Transaction, error) {
			params, err := o.liquidityParams(ctx, handle, user, intent)
			if err != nil {
				return nil, err
			}
			params.Position = position
			return handle.AddLiquidityByStrategy(ctx, params)
		},
	})
}

// RemoveIntent describes a withdrawal from a position. With AllFundedBins
// set, FromBinID and ToBinID are ignored and the span of bins still holding
// liquidity is read from the position at build time.
type RemoveIntent struct {
	Position            solana.PublicKey
	FromBinID           int32
	ToBinID             int32
	AllFundedBins       bool
	BpsToRemove         []uint16
	ShouldClaimAndClose bool
}

func (o *Orchestrator) RemoveLiquidity(ctx context.Context, handle dlmm.Handle, intent RemoveIntent) (*Result, error) {
	bins := 0
	if !intent.AllFundedBins {
		bins = int(intent.ToBinID-intent.FromBinID) + 1
	}
	return o.run(ctx, plan{
		kind:     KindRemove,
		position: intent.Position,
		estimate: funds.EstimateFees(bins),
		build: func(ctx context.Context, user solana.PublicKey) ([]*solana.Transaction, error) {
			from, to := intent.FromBinID, intent.ToBinID
			if intent.AllFundedBins {
				pos, err := handle.Position(ctx, intent.Position)
				if err != nil {
					return nil, err
				}
				funded := pos.BinsWithLiquidity(pos.LowerBinID, pos.UpperBinID)
				if len(funded) == 0 {
					return nil, fmt.Errorf("position %s holds no liquidity", intent.Position)
				}
				from, to = funded[0], funded[len(funded)-1]
			}
			return handle.RemoveLiquidity(ctx, dlmm.RemoveLiquidityParams{
				Position:            intent.Position,
				User:                user,
				FromBinID:           from,
				ToBinID:             to,
				BpsToRemove:         intent.BpsToRemove,
				ShouldClaimAndClose: intent.ShouldClaimAndClose,
			})
		},
	})
}

func (o *Orchestrator) ClaimFee(ctx context.Context, handle dlmm.Handle, position solana.PublicKey) (*Result, error) {
	return o.run(ctx, plan{
		kind:     KindClaim,
		position: position,
		estimate: funds.EstimateFees(0),
		build: func(ctx context.Context, user solana.PublicKey) ([]*solana.Transaction, error) {
			tx, err := handle.ClaimSwapFee(ctx, user, position)
			if err != nil {
				return nil, err
			}
			return []*solana.Transaction{tx}, nil
		},
	})
}

// ClaimAllFees claims every listed position's fees. PositionIdentity of the
// result is left zero.
func (o *Orchestrator) ClaimAllFees(ctx context.Context, handle dlmm.Handle, positions []solana.PublicKey) (*Result, error) {
	return o.run(ctx, plan{
		kind:     KindClaimAll,
		estimate: funds.EstimateFees(0),
		build: func(ctx context.Context, user solana.PublicKey) ([]*solana.Transaction, error) {
			return handle.ClaimAllSwapFee(ctx, user, positions)
		},
	})
}

func (o *Orchestrator) ClosePosition(ctx context.Context, handle dlmm.Handle, position solana.PublicKey) (*Result, error) {
	return o.run(ctx, plan{
		kind:     KindClose,
		position: position,
		estimate: funds.EstimateFees(0),
		build: func(ctx context.Context, user solana.PublicKey) ([]*solana.Transaction, error) {
			tx, err := handle.ClosePosition(ctx, user, position)
			if err != nil {
				return nil, err
			}
			return []*solana.Transaction{tx}, nil
		},
	})
}
