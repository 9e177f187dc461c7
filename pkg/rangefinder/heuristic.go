package rangefinder

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// BinRange is a candidate position range with the bins assumed to exist.
type BinRange struct {
	MinBinID       int32   `json:"minBinId"`
	MaxBinID       int32   `json:"maxBinId"`
	ExistingBins   []int32 `json:"existingBins"`
	LiquidityDepth int     `json:"liquidityDepth"`
	IsPopular      bool    `json:"isPopular"`
	Description    string  `json:"description"`
}

// Width is the number of bins spanned by the range.
func (r BinRange) Width() int {
	return int(r.MaxBinID-r.MinBinID) + 1
}

// Contains reports whether binID lies inside [MinBinID, MaxBinID].
func (r BinRange) Contains(binID int32) bool {
	return binID >= r.MinBinID && binID <= r.MaxBinID
}

func (r BinRange) clone() BinRange {
	r.ExistingBins = append([]int32(nil), r.ExistingBins...)
	return r
}

const (
	// Bins within this distance of the active bin are always included.
	certainDistance = 3
	// Windows with fewer bins are never returned, whatever the profile.
	minBinsPerRange = 3
	maxProbability  = 0.95
	minDecay        = 0.1
)

func baseProbability(distance int) float64 {
	switch {
	case distance <= 2:
		return 0.95
	case distance <= 5:
		return 0.8
	case distance <= 10:
		return 0.6
	default:
		return 0.4
	}
}

func inclusionProbability(distance int, params profileParams) float64 {
	decay := math.Max(minDecay, 1-float64(distance)*params.Factor/100)
	return math.Min(maxProbability, baseProbability(distance)*params.Multiplier*decay)
}

// draw maps (binID, activeBinID, profile) to a uniform value in [0, 1).
// The same inputs always give the same value.
func draw(binID, activeBinID int32, profile RiskProfile) float64 {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(binID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(activeBinID))

	d := xxhash.New()
	_, _ = d.Write(buf[:])
	_, _ = d.WriteString(string(profile))
	return float64(d.Sum64()>>11) / float64(uint64(1)<<53)
}

func abs32(v int32) int {
	if v < 0 {
		return int(-v)
	}
	return int(v)
}

// estimateWindow builds the range for one pattern. It returns false when the
// window cannot hold enough bins.
func estimateWindow(activeBinID int32, pt pattern, profile RiskProfile) (BinRange, bool) {
	params := profile.params()
	center := activeBinID + int32(pt.Offset)
	minID := center - int32(pt.Width/2)
	maxID := minID + int32(pt.Width) - 1

	included := make(map[int32]bool, pt.Width)
	for id := minID; id <= maxID; id++ {
		d := abs32(id - activeBinID)
		if d <= certainDistance || draw(id, activeBinID, profile) < inclusionProbability(d, params) {
			included[id] = true
		}
	}
	if activeBinID >= minID && activeBinID <= maxID {
		included[activeBinID] = true
	}

	if len(included) < params.Floor {
		anchor := activeBinID
		if anchor < minID {
			anchor = minID
		} else if anchor > maxID {
			anchor = maxID
		}
		included[anchor] = true
		for k := int32(1); len(included) < params.Floor && k < int32(pt.Width); k++ {
			if id := anchor + k; id <= maxID {
				included[id] = true
			}
			if len(included) >= params.Floor {
				break
			}
			if id := anchor - k; id >= minID {
				included[id] = true
			}
		}
	}

	if len(included) < minBinsPerRange || len(included) < params.Floor {
		return BinRange{}, false
	}

	bins := make([]int32, 0, len(included))
	for id := range included {
		bins = append(bins, id)
	}
	sort.Slice(bins, func(i, j int) bool { return bins[i] < bins[j] })

	return BinRange{
		MinBinID:       minID,
		MaxBinID:       maxID,
		ExistingBins:   bins,
		LiquidityDepth: len(bins),
		IsPopular:      pt.Popular,
		Description:    describe(profile, pt),
	}, true
}

func describe(profile RiskProfile, pt pattern) string {
	placement := "centered on the active bin"
	if pt.Offset > 0 {
		placement = fmt.Sprintf("shifted %d bins above the active bin", pt.Offset)
	} else if pt.Offset < 0 {
		placement = fmt.Sprintf("shifted %d bins below the active bin", -pt.Offset)
	}
	label := ""
	if pt.Popular {
		label = "popular "
	}
	return fmt.Sprintf("%s%s %d-bin range %s", label, profile, pt.Width, placement)
}

// EstimateRanges runs the heuristic for every pattern of profile and returns
// the surviving ranges, popular first, then by bin count.
func EstimateRanges(activeBinID int32, profile RiskProfile) []BinRange {
	var ranges []BinRange
	for _, pt := range profile.params().Patterns {
		if r, ok := estimateWindow(activeBinID, pt, profile); ok {
			ranges = append(ranges, r)
		}
	}
	sortRanges(ranges)
	return ranges
}

func sortRanges(ranges []BinRange) {
	sort.SliceStable(ranges, func(i, j int) bool {
		if ranges[i].IsPopular != ranges[j].IsPopular {
			return ranges[i].IsPopular
		}
		return len(ranges[i].ExistingBins) > len(ranges[j].ExistingBins)
	})
}

// FallbackHalfWidth is the half width of the default window.
const FallbackHalfWidth = 30

// Fallback is the 61-bin window centered on activeBinID that callers use when
// resolution fails. Only the bins within three of the active bin are
// assumed to exist.
func Fallback(activeBinID int32) BinRange {
	bins := make([]int32, 0, 2*certainDistance+1)
	for id := activeBinID - certainDistance; id <= activeBinID+certainDistance; id++ {
		bins = append(bins, id)
	}
	return BinRange{
		MinBinID:       activeBinID - FallbackHalfWidth,
		MaxBinID:       activeBinID + FallbackHalfWidth,
		ExistingBins:   bins,
		LiquidityDepth: len(bins),
		Description:    fmt.Sprintf("default %d-bin range centered on the active bin", 2*FallbackHalfWidth+1),
	}
}
