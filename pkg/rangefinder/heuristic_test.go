package rangefinder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRiskProfile(t *testing.T) {
	p, err := ParseRiskProfile(" Conservative ")
	require.NoError(t, err)
	assert.Equal(t, Conservative, p)

	_, err = ParseRiskProfile("yolo")
	assert.Error(t, err)
}

func TestProfileFloors(t *testing.T) {
	assert.Equal(t, 6, Conservative.Floor())
	assert.Equal(t, 4, Moderate.Floor())
	assert.Equal(t, 3, Aggressive.Floor())
	assert.Equal(t, []int{69, 68, 67}, Conservative.Widths())
	assert.Equal(t, []int{63, 62, 61, 60}, Aggressive.Widths())
}

func TestInclusionProbability(t *testing.T) {
	cons := Conservative.params()
	assert.InDelta(t, 0.95, inclusionProbability(0, cons), 1e-9, "capped")
	assert.InDelta(t, 0.8*1.2*(1-4*0.007), inclusionProbability(4, cons), 1e-9)

	aggr := Aggressive.params()
	assert.InDelta(t, 0.4*0.8*(1-30*0.003), inclusionProbability(30, aggr), 1e-9)

	// Decay never drops below 0.1.
	assert.InDelta(t, 0.4*1.2*0.1, inclusionProbability(500, cons), 1e-9)
}

func TestDrawIsDeterministicAndInRange(t *testing.T) {
	for id := int32(-100); id < 100; id++ {
		v := draw(id, 7, Moderate)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
		assert.Equal(t, v, draw(id, 7, Moderate))
	}
	assert.NotEqual(t, draw(5, 7, Moderate), draw(5, 7, Aggressive))
}

func TestEstimateRanges_Invariants(t *testing.T) {
	for _, profile := range Profiles {
		for _, active := range []int32{-443636, -5000, -1, 0, 1, 1000, 8388} {
			ranges := EstimateRanges(active, profile)
			require.NotEmpty(t, ranges, "%s/%d", profile, active)
			for _, r := range ranges {
				assert.GreaterOrEqual(t, len(r.ExistingBins), profile.Floor())
				assert.Equal(t, len(r.ExistingBins), r.LiquidityDepth)
				assert.LessOrEqual(t, r.MinBinID, r.ExistingBins[0])
				assert.GreaterOrEqual(t, r.MaxBinID, r.ExistingBins[len(r.ExistingBins)-1])
				for i := 1; i < len(r.ExistingBins); i++ {
					assert.Less(t, r.ExistingBins[i-1], r.ExistingBins[i], "ascending and unique")
				}
				if r.Contains(active) {
					assert.Contains(t, r.ExistingBins, active)
				}
				for d := int32(-3); d <= 3; d++ {
					if r.Contains(active + d) {
						assert.Contains(t, r.ExistingBins, active+d)
					}
				}
			}
		}
	}
}

func TestEstimateRanges_ConservativeAroundThousand(t *testing.T) {
	ranges := EstimateRanges(1000, Conservative)
	require.Len(t, ranges, 3)
	for _, r := range ranges {
		assert.Contains(t, []int{67, 68, 69}, r.Width())
	}
	assert.True(t, ranges[0].IsPopular)
	assert.Equal(t, 69, ranges[0].Width())
	assert.Equal(t, int32(966), ranges[0].MinBinID)
	assert.Equal(t, int32(1034), ranges[0].MaxBinID)
	for i := 2; i < len(ranges); i++ {
		assert.GreaterOrEqual(t, len(ranges[i-1].ExistingBins), len(ranges[i].ExistingBins))
	}
}

func TestEstimateWindow_ExpandsToFloor(t *testing.T) {
	// The active bin lies below the window, so expansion starts from the
	// window's lower edge and fills all three bins.
	r, ok := estimateWindow(0, pattern{Width: 3, Offset: 40}, Aggressive)
	require.True(t, ok)
	assert.Equal(t, []int32{39, 40, 41}, r.ExistingBins)
	assert.Contains(t, r.Description, "above")

	r, ok = estimateWindow(0, pattern{Width: 9, Offset: -40}, Conservative)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(r.ExistingBins), Conservative.Floor())
	assert.Contains(t, r.Description, "below")
}

func TestEstimateWindow_TooNarrowIsDiscarded(t *testing.T) {
	_, ok := estimateWindow(0, pattern{Width: 2}, Aggressive)
	assert.False(t, ok)

	_, ok = estimateWindow(0, pattern{Width: 5}, Conservative)
	assert.False(t, ok, "cannot reach the conservative floor")
}

func TestSortRanges(t *testing.T) {
	ranges := []BinRange{
		{ExistingBins: make([]int32, 5)},
		{ExistingBins: make([]int32, 9)},
		{ExistingBins: make([]int32, 4), IsPopular: true},
	}
	sortRanges(ranges)
	assert.True(t, ranges[0].IsPopular)
	assert.Len(t, ranges[1].ExistingBins, 9)
	assert.Len(t, ranges[2].ExistingBins, 5)
}

func TestFallback(t *testing.T) {
	r := Fallback(1000)
	assert.Equal(t, int32(970), r.MinBinID)
	assert.Equal(t, int32(1030), r.MaxBinID)
	assert.Equal(t, 61, r.Width())
	assert.Equal(t, []int32{997, 998, 999, 1000, 1001, 1002, 1003}, r.ExistingBins)
	assert.False(t, r.IsPopular)
}
