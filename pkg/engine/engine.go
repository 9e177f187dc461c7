// Package engine is the caller-facing API: range resolution, cost and
// balance checks, and orchestrated position operations over one signer
// backend. Each Service owns its caches.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	cosmath "cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dlmmpilot/pkg/cache"
	"dlmmpilot/pkg/dlmm"
	"dlmmpilot/pkg/errs"
	"dlmmpilot/pkg/funds"
	"dlmmpilot/pkg/metrics"
	"dlmmpilot/pkg/orchestrator"
	"dlmmpilot/pkg/poolcache"
	"dlmmpilot/pkg/rangefinder"
	"dlmmpilot/pkg/signer"
)

// Conn is the default connection. *sol.Client satisfies it.
type Conn interface {
	dlmm.RPC
	orchestrator.Chain
}

// DefaultRPCTimeout bounds each network step.
const DefaultRPCTimeout = 30 * time.Second

type options struct {
	factory    poolcache.Factory
	rangeTTL   time.Duration
	clock      cache.Clock
	rpcTimeout time.Duration
	simulate   bool
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

type Option func(*options)

// WithPoolFactory replaces dlmm.NewPool as the handle constructor.
func WithPoolFactory(factory poolcache.Factory) Option {
	return func(o *options) { o.factory = factory }
}

func WithRangeTTL(ttl time.Duration) Option {
	return func(o *options) { o.rangeTTL = ttl }
}

func WithClock(clock cache.Clock) Option {
	return func(o *options) { o.clock = clock }
}

func WithRPCTimeout(d time.Duration) Option {
	return func(o *options) { o.rpcTimeout = d }
}

// WithSimulation dry-runs transactions before they are signed.
func WithSimulation(enabled bool) Option {
	return func(o *options) { o.simulate = enabled }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Service is one engine instance.
type Service struct {
	conn       Conn
	backend    signer.Backend
	pools      *poolcache.PoolCache
	resolver   *rangefinder.Resolver
	validator  *funds.Validator
	orch       *orchestrator.Orchestrator
	rpcTimeout time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// New creates a Service over conn. backend may be nil for read-only use.
func New(conn Conn, backend signer.Backend, opts ...Option) *Service {
	o := options{
		rangeTTL:   rangefinder.DefaultTTL,
		rpcTimeout: DefaultRPCTimeout,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	pools := poolcache.NewPoolCache(o.factory, o.metrics, o.logger.Named("pools"))
	resolverOpts := []rangefinder.Option{
		rangefinder.WithTTL(o.rangeTTL),
		rangefinder.WithMetrics(o.metrics),
		rangefinder.WithLogger(o.logger.Named("ranges")),
	}
	if o.clock != nil {
		resolverOpts = append(resolverOpts, rangefinder.WithClock(o.clock))
	}

	s := &Service{
		conn:       conn,
		backend:    backend,
		pools:      pools,
		resolver:   rangefinder.NewResolver(pools, resolverOpts...),
		rpcTimeout: o.rpcTimeout,
		metrics:    o.metrics,
		logger:     o.logger,
	}
	s.validator = funds.NewValidator(balanceReader{s}, o.metrics, o.logger.Named("funds"))
	if backend != nil {
		s.orch = orchestrator.New(backend, conn,
			orchestrator.WithSimulation(o.simulate),
			orchestrator.WithStepTimeout(o.rpcTimeout),
			orchestrator.WithMetrics(o.metrics),
			orchestrator.WithLogger(o.logger.Named("orchestrator")))
	}
	return s
}

// connection prefers the signer backend's own client.
func (s *Service) connection() Conn {
	if s.backend != nil {
		if native := s.backend.Capability().NativeConnection; native != nil {
			return native
		}
	}
	return s.conn
}

type balanceReader struct{ s *Service }

func (b balanceReader) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	return b.s.connection().GetBalance(ctx, account)
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.rpcTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.rpcTimeout)
}

func (s *Service) handle(ctx context.Context, poolAddress string) (dlmm.Handle, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.pools.Get(ctx, poolAddress, s.connection())
}

func (s *Service) orchestrator() (*orchestrator.Orchestrator, error) {
	if s.orch == nil {
		return nil, errs.Unknown(orchestrator.ErrCannotSign)
	}
	return s.orch, nil
}

// ResolveRanges returns candidate ranges for poolAddress, best first.
func (s *Service) ResolveRanges(ctx context.Context, poolAddress string, maxWidth int, profile rangefinder.RiskProfile) ([]rangefinder.BinRange, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.resolver.Resolve(ctx, poolAddress, maxWidth, profile, s.connection())
}

// ResolveRangesOrFallback answers a NoSuitableRange error that knows the
// active bin with the default window around it. The bool reports whether
// the fallback was used.
func (s *Service) ResolveRangesOrFallback(ctx context.Context, poolAddress string, maxWidth int, profile rangefinder.RiskProfile) ([]rangefinder.BinRange, bool, error) {
	ranges, err := s.ResolveRanges(ctx, poolAddress, maxWidth, profile)
	if err == nil {
		return ranges, false, nil
	}
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindNoSuitableRange || e.ActiveBinID == nil {
		return nil, false, err
	}
	s.metrics.RangeFallback()
	s.logger.Info("Using fallback range",
		zap.String("pool", poolAddress),
		zap.Int32("activeBin", *e.ActiveBinID),
		zap.Error(err))
	return []rangefinder.BinRange{rangefinder.Fallback(*e.ActiveBinID)}, true, nil
}

// EstimateCost returns the SOL cost of a position over binsUsed bins.
func (s *Service) EstimateCost(binsUsed int) funds.CostEstimate {
	return funds.Estimate(binsUsed)
}

// ValidateBalance checks account against required plus estimate.Total.
func (s *Service) ValidateBalance(ctx context.Context, account solana.PublicKey, required decimal.Decimal, estimate funds.CostEstimate) funds.BalanceCheckResult {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.validator.Validate(ctx, account, required, estimate)
}

// BinSpan is an inclusive bin range. Bin 0 is an ordinary bin.
type BinSpan struct {
	MinBinID int32
	MaxBinID int32
}

// PositionIntent describes a deposit. A nil Range is filled from the best
// resolved range of RiskProfile, or the fallback window.
type PositionIntent struct {
	PoolAddress  string
	TotalXAmount cosmath.Int
	TotalYAmount *cosmath.Int
	AutoFill     bool
	StrategyType dlmm.StrategyType
	Range        *BinSpan
	RiskProfile  rangefinder.RiskProfile
	MaxWidth     int
	SlippageBps  uint16
	RequiredSol  decimal.Decimal
}

func (s *Service) strategy(ctx context.Context, intent PositionIntent) (dlmm.Strategy, error) {
	if r := intent.Range; r != nil {
		if r.MaxBinID < r.MinBinID {
			return dlmm.Strategy{}, fmt.Errorf("invalid bin range [%d, %d]", r.MinBinID, r.MaxBinID)
		}
		return dlmm.Strategy{MinBinID: r.MinBinID, MaxBinID: r.MaxBinID, Type: intent.StrategyType}, nil
	}
	profile := intent.RiskProfile
	if profile == "" {
		profile = rangefinder.Moderate
	}
	maxWidth := intent.MaxWidth
	if maxWidth <= 0 || maxWidth > dlmm.MaxBinPerArray {
		maxWidth = dlmm.MaxBinPerArray
	}
	ranges, _, err := s.ResolveRangesOrFallback(ctx, intent.PoolAddress, maxWidth, profile)
	if err != nil {
		return dlmm.Strategy{}, err
	}
	best := ranges[0]
	return dlmm.Strategy{MinBinID: best.MinBinID, MaxBinID: best.MaxBinID, Type: intent.StrategyType}, nil
}

func (i PositionIntent) liquidity(strategy dlmm.Strategy) orchestrator.LiquidityIntent {
	return orchestrator.LiquidityIntent{
		TotalXAmount: i.TotalXAmount,
		TotalYAmount: i.TotalYAmount,
		AutoFill:     i.AutoFill,
		Strategy:     strategy,
		SlippageBps:  i.SlippageBps,
		RequiredSol:  i.RequiredSol,
	}
}

// CreatePosition opens a position and deposits into it.
func (s *Service) CreatePosition(ctx context.Context, intent PositionIntent) (*orchestrator.Result, error) {
	o, err := s.orchestrator()
	if err != nil {
		return nil, err
	}
	strategy, err := s.strategy(ctx, intent)
	if err != nil {
		return nil, err
	}
	handle, err := s.handle(ctx, intent.PoolAddress)
	if err != nil {
		return nil, err
	}
	return o.CreatePosition(ctx, handle, intent.liquidity(strategy))
}

// AddLiquidity deposits into an existing position.
func (s *Service) AddLiquidity(ctx context.Context, position solana.PublicKey, intent PositionIntent) (*orchestrator.Result, error) {
	o, err := s.orchestrator()
	if err != nil {
		return nil, err
	}
	handle, err := s.handle(ctx, intent.PoolAddress)
	if err != nil {
		return nil, err
	}
	if intent.Range == nil {
		pos, err := s.position(ctx, handle, position)
		if err != nil {
			return nil, err
		}
		intent.Range = &BinSpan{MinBinID: pos.LowerBinID, MaxBinID: pos.UpperBinID}
	}
	strategy, err := s.strategy(ctx, intent)
	if err != nil {
		return nil, err
	}
	return o.AddLiquidity(ctx, handle, position, intent.liquidity(strategy))
}

func (s *Service) position(ctx context.Context, handle dlmm.Handle, position solana.PublicKey) (*dlmm.Position, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return handle.Position(ctx, position)
}

// RemoveLiquidity withdraws from a position. With intent.AllFundedBins set
// it covers every bin of the position that still holds liquidity.
func (s *Service) RemoveLiquidity(ctx context.Context, poolAddress string, intent orchestrator.RemoveIntent) (*orchestrator.Result, error) {
	o, err := s.orchestrator()
	if err != nil {
		return nil, err
	}
	handle, err := s.handle(ctx, poolAddress)
	if err != nil {
		return nil, err
	}
	return o.RemoveLiquidity(ctx, handle, intent)
}

func (s *Service) ClaimFees(ctx context.Context, poolAddress string, position solana.PublicKey) (*orchestrator.Result, error) {
	o, err := s.orchestrator()
	if err != nil {
		return nil, err
	}
	handle, err := s.handle(ctx, poolAddress)
	if err != nil {
		return nil, err
	}
	return o.ClaimFee(ctx, handle, position)
}

// ClaimAllFees claims fees of positions, or of every position the signer
// holds in the pool when positions is empty.
func (s *Service) ClaimAllFees(ctx context.Context, poolAddress string, positions []solana.PublicKey) (*orchestrator.Result, error) {
	o, err := s.orchestrator()
	if err != nil {
		return nil, err
	}
	handle, err := s.handle(ctx, poolAddress)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		owned, err := s.Positions(ctx, poolAddress, s.backend.Capability().Signer)
		if err != nil {
			return nil, err
		}
		for _, pos := range owned {
			positions = append(positions, pos.Address)
		}
		if len(positions) == 0 {
			return nil, errors.New("no positions to claim")
		}
	}
	return o.ClaimAllFees(ctx, handle, positions)
}

func (s *Service) ClosePosition(ctx context.Context, poolAddress string, position solana.PublicKey) (*orchestrator.Result, error) {
	o, err := s.orchestrator()
	if err != nil {
		return nil, err
	}
	handle, err := s.handle(ctx, poolAddress)
	if err != nil {
		return nil, err
	}
	return o.ClosePosition(ctx, handle, position)
}

// Positions lists user's positions in poolAddress.
func (s *Service) Positions(ctx context.Context, poolAddress string, user solana.PublicKey) ([]*dlmm.Position, error) {
	handle, err := s.handle(ctx, poolAddress)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return handle.PositionsByUser(ctx, user)
}

// ActiveBin reads the pool's active bin.
func (s *Service) ActiveBin(ctx context.Context, poolAddress string) (*dlmm.ActiveBin, error) {
	handle, err := s.handle(ctx, poolAddress)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return handle.ActiveBin(ctx)
}

// ClearCache drops pool handles and resolved ranges.
func (s *Service) ClearCache() {
	s.pools.Clear()
	s.resolver.Clear()
	s.logger.Info("Cleared caches")
}

// CacheStats reports both caches.
type CacheStats struct {
	Pools  cache.Stats `json:"pools"`
	Ranges cache.Stats `json:"ranges"`
}

func (s *Service) CacheStats() CacheStats {
	return CacheStats{Pools: s.pools.Stats(), Ranges: s.resolver.Stats()}
}
