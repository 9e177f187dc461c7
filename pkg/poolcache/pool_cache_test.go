package poolcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dlmmpilot/pkg/cache"
	"dlmmpilot/pkg/dlmm"
	"dlmmpilot/pkg/dlmm/dlmmtest"
	"dlmmpilot/pkg/metrics"
)

func countingFactory(calls *atomic.Int32, delay time.Duration) Factory {
	return func(ctx context.Context, conn dlmm.RPC, poolAddress string) (dlmm.Handle, error) {
		calls.Add(1)
		time.Sleep(delay)
		h := dlmmtest.NewHandle(1000)
		h.EndpointID = conn.Endpoint()
		return h, nil
	}
}

func TestPoolCache_ConstructsOncePerKey(t *testing.T) {
	var calls atomic.Int32
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	pc := NewPoolCache(countingFactory(&calls, 0), m, nil)
	conn := dlmmtest.Conn{URL: "https://rpc-a"}

	first, err := pc.Get(context.Background(), "PoolA", conn)
	require.NoError(t, err)
	second, err := pc.Get(context.Background(), "PoolA", conn)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("pools", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheFills.WithLabelValues("pools")))
}

func TestPoolCache_KeyIncludesEndpoint(t *testing.T) {
	var calls atomic.Int32
	pc := NewPoolCache(countingFactory(&calls, 0), nil, nil)

	a, err := pc.Get(context.Background(), "PoolA", dlmmtest.Conn{URL: "https://rpc-a"})
	require.NoError(t, err)
	b, err := pc.Get(context.Background(), "PoolA", dlmmtest.Conn{URL: "https://rpc-b"})
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{"PoolA|https://rpc-a", "PoolA|https://rpc-b"}, pc.Stats().Keys)
}

func TestPoolCache_ConcurrentFirstAccessSharesConstruction(t *testing.T) {
	var calls atomic.Int32
	pc := NewPoolCache(countingFactory(&calls, 50*time.Millisecond), nil, nil)
	conn := dlmmtest.Conn{URL: "https://rpc-a"}

	var wg sync.WaitGroup
	handles := make([]dlmm.Handle, 8)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := pc.Get(context.Background(), "PoolA", conn)
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, h := range handles[1:] {
		assert.Same(t, handles[0], h)
	}
}

func TestPoolCache_FailuresAreNotCached(t *testing.T) {
	fail := true
	pc := NewPoolCache(func(ctx context.Context, conn dlmm.RPC, poolAddress string) (dlmm.Handle, error) {
		if fail {
			return nil, errors.New("rpc down")
		}
		return dlmmtest.NewHandle(1), nil
	}, nil, nil)
	conn := dlmmtest.Conn{URL: "https://rpc-a"}

	_, err := pc.Get(context.Background(), "PoolA", conn)
	require.Error(t, err)
	assert.Equal(t, 0, pc.Stats().Entries)

	fail = false
	h, err := pc.Get(context.Background(), "PoolA", conn)
	require.NoError(t, err)
	assert.NotNil(t, h)
}

func TestPoolCache_NilHandleIsAnError(t *testing.T) {
	pc := NewPoolCache(func(ctx context.Context, conn dlmm.RPC, poolAddress string) (dlmm.Handle, error) {
		return nil, nil
	}, nil, nil)

	h, err := pc.Get(context.Background(), "PoolA", dlmmtest.Conn{URL: "https://rpc-a"})
	assert.ErrorIs(t, err, cache.ErrNilValue)
	assert.Nil(t, h)
	assert.Equal(t, 0, pc.Stats().Entries)
}

func TestPoolCache_Clear(t *testing.T) {
	var calls atomic.Int32
	pc := NewPoolCache(countingFactory(&calls, 0), nil, nil)
	conn := dlmmtest.Conn{URL: "https://rpc-a"}

	_, err := pc.Get(context.Background(), "PoolA", conn)
	require.NoError(t, err)
	pc.Clear()
	assert.Equal(t, 0, pc.Stats().Entries)

	_, err = pc.Get(context.Background(), "PoolA", conn)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDefaultFactoryRejectsMalformedAddress(t *testing.T) {
	pc := NewPoolCache(nil, nil, nil)
	_, err := pc.Get(context.Background(), "not a pubkey", dlmmtest.Conn{URL: "https://rpc-a"})
	assert.Error(t, err)
}
