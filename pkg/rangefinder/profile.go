// Package rangefinder picks bin ranges for new positions without reading
// every bin on-chain. Bins near the active bin are assumed to exist; farther
// bins are included with a decaying probability.
package rangefinder

import (
	"fmt"
	"strings"
)

// RiskProfile selects range width, inclusion odds and the minimum bin count.
type RiskProfile string

const (
	Conservative RiskProfile = "conservative"
	Moderate     RiskProfile = "moderate"
	Aggressive   RiskProfile = "aggressive"
)

// Profiles lists every risk profile.
var Profiles = []RiskProfile{Conservative, Moderate, Aggressive}

func ParseRiskProfile(s string) (RiskProfile, error) {
	switch p := RiskProfile(strings.ToLower(strings.TrimSpace(s))); p {
	case Conservative, Moderate, Aggressive:
		return p, nil
	}
	return "", fmt.Errorf("unknown risk profile %q", s)
}

// pattern is a candidate window relative to the active bin.
type pattern struct {
	Width   int
	Offset  int
	Popular bool
}

type profileParams struct {
	Patterns []pattern
	// Multiplier scales the distance-based probability.
	Multiplier float64
	// Factor is the per-bin distance decay, in percent.
	Factor float64
	// Floor is the minimum number of bins in a returned range.
	Floor int
}

var profileTable = map[RiskProfile]profileParams{
	Conservative: {
		Patterns:   []pattern{{Width: 69, Popular: true}, {Width: 68}, {Width: 67}},
		Multiplier: 1.2,
		Factor:     0.7,
		Floor:      6,
	},
	Moderate: {
		Patterns:   []pattern{{Width: 66, Popular: true}, {Width: 65}, {Width: 64}},
		Multiplier: 1.0,
		Factor:     0.5,
		Floor:      4,
	},
	Aggressive: {
		Patterns:   []pattern{{Width: 63, Popular: true}, {Width: 62}, {Width: 61}, {Width: 60}},
		Multiplier: 0.8,
		Factor:     0.3,
		Floor:      3,
	},
}

func (p RiskProfile) params() profileParams {
	if params, ok := profileTable[p]; ok {
		return params
	}
	return profileTable[Moderate]
}

// Floor is the minimum ExistingBins length of ranges for p.
func (p RiskProfile) Floor() int {
	return p.params().Floor
}

// Widths lists the window widths p tries, widest first.
func (p RiskProfile) Widths() []int {
	patterns := p.params().Patterns
	out := make([]int, len(patterns))
	for i, pt := range patterns {
		out[i] = pt.Width
	}
	return out
}
