// Package poolcache memoizes connected pool handles per (pool, endpoint).
package poolcache

import (
	"context"

	"go.uber.org/zap"

	"dlmmpilot/pkg/cache"
	"dlmmpilot/pkg/dlmm"
	"dlmmpilot/pkg/metrics"
)

// Factory constructs and connects a handle. It performs the network round
// trip the cache amortizes.
type Factory func(ctx context.Context, conn dlmm.RPC, poolAddress string) (dlmm.Handle, error)

// DefaultFactory builds Meteora DLMM handles.
func DefaultFactory(ctx context.Context, conn dlmm.RPC, poolAddress string) (dlmm.Handle, error) {
	return dlmm.NewPool(ctx, conn, poolAddress)
}

// PoolCache holds handles for the lifetime of the owning engine. Entries
// never expire; Clear is the only eviction.
type PoolCache struct {
	entries *cache.TTLCache[dlmm.Handle]
	factory Factory
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewPoolCache creates an empty cache. A nil factory means DefaultFactory.
func NewPoolCache(factory Factory, m *metrics.Metrics, logger *zap.Logger) *PoolCache {
	if factory == nil {
		factory = DefaultFactory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolCache{
		entries: cache.New[dlmm.Handle](0),
		factory: factory,
		metrics: m,
		logger:  logger,
	}
}

// Key is the composite cache key of a handle.
func Key(poolAddress, endpoint string) string {
	return poolAddress + "|" + endpoint
}

// Get returns the handle for poolAddress on conn's endpoint, constructing it
// on first access. Concurrent first accesses share one construction.
func (pc *PoolCache) Get(ctx context.Context, poolAddress string, conn dlmm.RPC) (dlmm.Handle, error) {
	key := Key(poolAddress, conn.Endpoint())
	handle, cached, err := pc.entries.GetOrLoad(ctx, key, func(ctx context.Context) (dlmm.Handle, error) {
		h, err := pc.factory(ctx, conn, poolAddress)
		if err != nil {
			pc.logger.Warn("Failed to connect pool",
				zap.String("pool", poolAddress),
				zap.String("endpoint", conn.Endpoint()),
				zap.Error(err))
			return nil, err
		}
		pc.metrics.CacheFill("pools")
		pc.logger.Debug("Connected pool", zap.String("pool", poolAddress), zap.String("endpoint", conn.Endpoint()))
		return h, nil
	})
	pc.metrics.CacheLookup("pools", cached)
	return handle, err
}

// Clear drops every handle.
func (pc *PoolCache) Clear() {
	pc.entries.Clear()
}

// Stats returns the handle count and keys.
func (pc *PoolCache) Stats() cache.Stats {
	return pc.entries.Stats()
}
