package dlmm

import (
	"testing"

	cosmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategyType(t *testing.T) {
	for in, want := range map[string]StrategyType{
		"spot":    StrategySpot,
		"":        StrategySpot,
		"Curve":   StrategyCurve,
		"bid-ask": StrategyBidAsk,
		"BIDASK":  StrategyBidAsk,
	} {
		got, err := ParseStrategyType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStrategyType("zigzag")
	assert.Error(t, err)
}

func TestStrategyOnChainVariants(t *testing.T) {
	assert.Equal(t, uint8(3), StrategySpot.onChain())
	assert.Equal(t, uint8(4), StrategyCurve.onChain())
	assert.Equal(t, uint8(5), StrategyBidAsk.onChain())
}

func TestMaxActiveBinSlippage(t *testing.T) {
	assert.Equal(t, int32(MaxActiveBinSlippage), maxActiveBinSlippage(0, 10))
	assert.Equal(t, int32(5), maxActiveBinSlippage(50, 10))
	assert.Equal(t, int32(6), maxActiveBinSlippage(51, 10))
}

func TestBalancedAmount_UsesReserveRatio(t *testing.T) {
	active := &ActiveBin{BinID: 1000, Price: "2.5", XAmount: "1000", YAmount: "4000"}
	got := BalancedAmount(cosmath.NewInt(250), active)
	assert.Equal(t, "1000", got.String())
}

func TestBalancedAmount_FallsBackToPrice(t *testing.T) {
	active := &ActiveBin{BinID: 1000, Price: "2.5", XAmount: "0", YAmount: "0"}
	got := BalancedAmount(cosmath.NewInt(100), active)
	assert.Equal(t, "250", got.String())

	assert.True(t, BalancedAmount(cosmath.ZeroInt(), active).IsZero())
	assert.True(t, BalancedAmount(cosmath.NewInt(5), nil).IsZero())
}

func TestChunkLiquidity_SplitsWideRange(t *testing.T) {
	totalX := cosmath.NewInt(1_000_000_007)
	totalY := cosmath.NewInt(3_000_000_011)
	chunks := chunkLiquidity(966, 1034, 1000, totalX, totalY)
	require.Len(t, chunks, 3)

	assert.Equal(t, int32(966), chunks[0].MinBinID)
	assert.Equal(t, int32(991), chunks[0].MaxBinID)
	assert.Equal(t, int32(992), chunks[1].MinBinID)
	assert.Equal(t, int32(1017), chunks[1].MaxBinID)
	assert.Equal(t, int32(1018), chunks[2].MinBinID)
	assert.Equal(t, int32(1034), chunks[2].MaxBinID)

	// X only lands at or above the active bin, Y at or below.
	assert.True(t, chunks[0].AmountX.IsZero())
	assert.True(t, chunks[2].AmountY.IsZero())

	sumX, sumY := cosmath.ZeroInt(), cosmath.ZeroInt()
	for _, c := range chunks {
		sumX = sumX.Add(c.AmountX)
		sumY = sumY.Add(c.AmountY)
	}
	assert.True(t, sumX.Equal(totalX), sumX.String())
	assert.True(t, sumY.Equal(totalY), sumY.String())
}

func TestChunkLiquidity_NarrowRangeIsOneChunk(t *testing.T) {
	chunks := chunkLiquidity(990, 1010, 1000, cosmath.NewInt(10), cosmath.NewInt(20))
	require.Len(t, chunks, 1)
	assert.Equal(t, "10", chunks[0].AmountX.String())
	assert.Equal(t, "20", chunks[0].AmountY.String())
	assert.Nil(t, chunkLiquidity(10, 9, 0, cosmath.NewInt(1), cosmath.NewInt(1)))
}

func TestBinPrice(t *testing.T) {
	assert.Equal(t, "1", BinPrice(0, 10).String())
	p := BinPrice(100, 10)
	f, _ := p.Float64()
	assert.InDelta(t, 1.10511, f, 1e-4)
}
