package dlmm

import (
	"fmt"
	"math"
	"strings"

	cosmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// StrategyType is the liquidity shape requested by the caller.
type StrategyType int

const (
	StrategySpot StrategyType = iota
	StrategyCurve
	StrategyBidAsk
)

func (s StrategyType) String() string {
	switch s {
	case StrategyCurve:
		return "curve"
	case StrategyBidAsk:
		return "bidask"
	default:
		return "spot"
	}
}

// ParseStrategyType accepts spot, curve and bidask (any case).
func ParseStrategyType(s string) (StrategyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spot", "":
		return StrategySpot, nil
	case "curve":
		return StrategyCurve, nil
	case "bidask", "bid_ask", "bid-ask":
		return StrategyBidAsk, nil
	}
	return 0, fmt.Errorf("unknown strategy type %q", s)
}

// onChain maps to the program's balanced StrategyType variant.
func (s StrategyType) onChain() uint8 {
	switch s {
	case StrategyCurve:
		return 4 // CurveBalanced
	case StrategyBidAsk:
		return 5 // BidAskBalanced
	default:
		return 3 // SpotBalanced
	}
}

// Strategy is a liquidity shape over a bin window.
type Strategy struct {
	MinBinID int32
	MaxBinID int32
	Type     StrategyType
}

func (s Strategy) Width() int {
	return int(s.MaxBinID-s.MinBinID) + 1
}

// BinPrice is the raw (lamport per lamport) price of binID.
func BinPrice(binID int32, binStep uint16) decimal.Decimal {
	base := 1 + float64(binStep)/BasisPointMax
	return decimal.NewFromFloat(math.Pow(base, float64(binID)))
}

// BalancedAmount returns the Y amount matching totalX at the active bin.
// It uses the active bin's reserve ratio when both reserves are present and
// falls back to the bin price otherwise.
func BalancedAmount(totalX cosmath.Int, active *ActiveBin) cosmath.Int {
	if totalX.IsNil() || !totalX.IsPositive() || active == nil {
		return cosmath.ZeroInt()
	}

	x := decimal.NewFromBigInt(totalX.BigInt(), 0)
	reserveX, errX := decimal.NewFromString(active.XAmount)
	reserveY, errY := decimal.NewFromString(active.YAmount)
	if errX == nil && errY == nil && reserveX.IsPositive() && reserveY.IsPositive() {
		return cosmath.NewIntFromBigInt(x.Mul(reserveY).Div(reserveX).Floor().BigInt())
	}

	price, err := decimal.NewFromString(active.Price)
	if err != nil || !price.IsPositive() {
		return cosmath.ZeroInt()
	}
	return cosmath.NewIntFromBigInt(x.Mul(price).Floor().BigInt())
}

// maxActiveBinSlippage converts a slippage in basis points to a bin count.
func maxActiveBinSlippage(slippageBps uint16, binStep uint16) int32 {
	if slippageBps == 0 || binStep == 0 {
		return MaxActiveBinSlippage
	}
	return int32(math.Ceil(float64(slippageBps) / float64(binStep)))
}

// liquidityChunk is one add-liquidity instruction's share of a range.
type liquidityChunk struct {
	MinBinID int32
	MaxBinID int32
	AmountX  cosmath.Int
	AmountY  cosmath.Int
}

// chunkLiquidity splits [minBinID, maxBinID] into windows of at most
// MaxBinLengthAllowedInOneTx bins. X is spread over bins at or above the
// active bin and Y over bins at or below it, proportionally to each chunk's
// share of those bins. The last chunk with a side absorbs rounding remainder.
func chunkLiquidity(minBinID, maxBinID, activeID int32, totalX, totalY cosmath.Int) []liquidityChunk {
	if maxBinID < minBinID {
		return nil
	}

	xBins := countBins(minBinID, maxBinID, activeID, maxBinID)
	yBins := countBins(minBinID, maxBinID, minBinID, activeID)

	var chunks []liquidityChunk
	for lo := minBinID; lo <= maxBinID; lo += MaxBinLengthAllowedInOneTx {
		hi := lo + MaxBinLengthAllowedInOneTx - 1
		if hi > maxBinID {
			hi = maxBinID
		}
		chunks = append(chunks, liquidityChunk{
			MinBinID: lo,
			MaxBinID: hi,
			AmountX:  share(totalX, countBins(lo, hi, activeID, hi), xBins),
			AmountY:  share(totalY, countBins(lo, hi, lo, activeID), yBins),
		})
	}

	fixRemainder(chunks, totalX, func(c *liquidityChunk) *cosmath.Int { return &c.AmountX }, func(c liquidityChunk) bool {
		return countBins(c.MinBinID, c.MaxBinID, activeID, c.MaxBinID) > 0
	})
	fixRemainder(chunks, totalY, func(c *liquidityChunk) *cosmath.Int { return &c.AmountY }, func(c liquidityChunk) bool {
		return countBins(c.MinBinID, c.MaxBinID, c.MinBinID, activeID) > 0
	})
	return chunks
}

// countBins counts bins of [lo, hi] that also lie in [from, to].
func countBins(lo, hi, from, to int32) int64 {
	if from > lo {
		lo = from
	}
	if to < hi {
		hi = to
	}
	if hi < lo {
		return 0
	}
	return int64(hi-lo) + 1
}

func share(total cosmath.Int, part, whole int64) cosmath.Int {
	if total.IsNil() || whole == 0 || part == 0 {
		return cosmath.ZeroInt()
	}
	return total.MulRaw(part).QuoRaw(whole)
}

func fixRemainder(chunks []liquidityChunk, total cosmath.Int, field func(*liquidityChunk) *cosmath.Int, eligible func(liquidityChunk) bool) {
	if total.IsNil() || total.IsZero() {
		return
	}
	sum := cosmath.ZeroInt()
	last := -1
	for i := range chunks {
		sum = sum.Add(*field(&chunks[i]))
		if eligible(chunks[i]) {
			last = i
		}
	}
	if last < 0 {
		return
	}
	f := field(&chunks[last])
	*f = f.Add(total.Sub(sum))
}
