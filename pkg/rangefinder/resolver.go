package rangefinder

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dlmmpilot/pkg/cache"
	"dlmmpilot/pkg/dlmm"
	"dlmmpilot/pkg/errs"
	"dlmmpilot/pkg/metrics"
	"dlmmpilot/pkg/poolcache"
)

// DefaultTTL is how long resolved ranges are reused.
const DefaultTTL = 120 * time.Second

// resolution is what the range cache stores: every surviving range of the
// profile plus the active bin it was computed from.
type resolution struct {
	ActiveBinID int32
	Ranges      []BinRange
}

// Resolver picks ranges for a pool and caches them per
// (pool, profile, endpoint).
type Resolver struct {
	pools   *poolcache.PoolCache
	ranges  *cache.TTLCache[resolution]
	metrics *metrics.Metrics
	logger  *zap.Logger
}

type options struct {
	ttl     time.Duration
	clock   cache.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Option configures a Resolver.
type Option func(*options)

func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

func WithClock(clock cache.Clock) Option {
	return func(o *options) { o.clock = clock }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func NewResolver(pools *poolcache.PoolCache, opts ...Option) *Resolver {
	o := options{ttl: DefaultTTL, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	var cacheOpts []cache.Option[resolution]
	if o.clock != nil {
		cacheOpts = append(cacheOpts, cache.WithClock[resolution](o.clock))
	}
	return &Resolver{
		pools:   pools,
		ranges:  cache.New[resolution](o.ttl, cacheOpts...),
		metrics: o.metrics,
		logger:  o.logger,
	}
}

// Key is the composite cache key of a resolution.
func Key(poolAddress string, profile RiskProfile, endpoint string) string {
	return poolAddress + "|" + string(profile) + "|" + endpoint
}

// Resolve returns the ranges of profile no wider than maxWidth, best first.
// maxWidth <= 0 means no limit. Handle construction errors are returned as
// is; a failed active bin read or an empty result is a NoSuitableRange
// error, which carries the active bin when it is known.
func (r *Resolver) Resolve(ctx context.Context, poolAddress string, maxWidth int, profile RiskProfile, conn dlmm.RPC) ([]BinRange, error) {
	key := Key(poolAddress, profile, conn.Endpoint())
	res, cached, err := r.ranges.GetOrLoad(ctx, key, func(ctx context.Context) (resolution, error) {
		return r.compute(ctx, poolAddress, profile, conn)
	})
	r.metrics.CacheLookup("ranges", cached)
	if err != nil {
		r.metrics.RangeResolved(string(profile), "error")
		return nil, err
	}
	if !cached {
		if n := r.ranges.Prune(); n > 0 {
			r.logger.Debug("Pruned expired ranges", zap.Int("count", n))
		}
	}

	out := make([]BinRange, 0, len(res.Ranges))
	for _, br := range res.Ranges {
		if maxWidth > 0 && br.Width() > maxWidth {
			continue
		}
		out = append(out, br.clone())
	}
	if len(out) == 0 {
		r.metrics.RangeResolved(string(profile), "no_range")
		active := res.ActiveBinID
		return nil, errs.NoSuitableRange(nil, &active,
			"no %s range fits within %d bins around active bin %d", profile, maxWidth, active)
	}

	r.metrics.RangeResolved(string(profile), "ok")
	return out, nil
}

func (r *Resolver) compute(ctx context.Context, poolAddress string, profile RiskProfile, conn dlmm.RPC) (resolution, error) {
	handle, err := r.pools.Get(ctx, poolAddress, conn)
	if err != nil {
		return resolution{}, err
	}

	active, err := handle.ActiveBin(ctx)
	if err != nil {
		r.logger.Warn("Failed to read active bin", zap.String("pool", poolAddress), zap.Error(err))
		return resolution{}, errs.NoSuitableRange(err, nil, "read active bin of %s", poolAddress)
	}

	ranges := EstimateRanges(active.BinID, profile)
	if len(ranges) == 0 {
		id := active.BinID
		return resolution{}, errs.NoSuitableRange(nil, &id, "no %s range around active bin %d", profile, id)
	}

	r.metrics.CacheFill("ranges")
	r.logger.Info("✓ Resolved ranges",
		zap.String("pool", poolAddress),
		zap.String("profile", string(profile)),
		zap.Int32("activeBin", active.BinID),
		zap.Int("count", len(ranges)))
	return resolution{ActiveBinID: active.BinID, Ranges: ranges}, nil
}

// Clear drops every cached resolution.
func (r *Resolver) Clear() {
	r.ranges.Clear()
}

// Stats returns the range cache contents.
func (r *Resolver) Stats() cache.Stats {
	return r.ranges.Stats()
}
