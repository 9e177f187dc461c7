// Package funds estimates what opening a position costs and checks that a
// wallet can pay for it.
package funds

import (
	"github.com/shopspring/decimal"
)

var (
	// PositionRent is the refundable deposit for a position account, in SOL.
	PositionRent = decimal.RequireFromString("0.057")
	// TransactionFees covers signature and priority fees of a full
	// create sequence, in SOL.
	TransactionFees = decimal.RequireFromString("0.015")
)

const (
	baseComputeUnits   = 200_000
	computeUnitsPerBin = 10_000
	// MaxComputeUnits is the per-transaction compute limit.
	MaxComputeUnits = 1_400_000
)

// CostEstimate is the SOL needed on top of the deposited amounts.
type CostEstimate struct {
	PositionRent         decimal.Decimal `json:"positionRent"`
	TransactionFees      decimal.Decimal `json:"transactionFees"`
	Total                decimal.Decimal `json:"total"`
	BinsUsed             int             `json:"binsUsed"`
	ComputeUnitsEstimate uint32          `json:"computeUnitsEstimate"`
}

// Estimate returns the cost of a position spanning binsUsed bins. The SOL
// total does not depend on the bin count.
func Estimate(binsUsed int) CostEstimate {
	return CostEstimate{
		PositionRent:         PositionRent,
		TransactionFees:      TransactionFees,
		Total:                PositionRent.Add(TransactionFees),
		BinsUsed:             binsUsed,
		ComputeUnitsEstimate: ComputeUnits(binsUsed),
	}
}

// ComputeUnits is the compute limit requested for a transaction touching
// bins bins.
func ComputeUnits(bins int) uint32 {
	if bins < 0 {
		bins = 0
	}
	units := baseComputeUnits + computeUnitsPerBin*bins
	if units > MaxComputeUnits {
		units = MaxComputeUnits
	}
	return uint32(units)
}

// EstimateFees is the cost of an operation on an existing position, which
// needs no new rent deposit.
func EstimateFees(binsUsed int) CostEstimate {
	return CostEstimate{
		PositionRent:         decimal.Zero,
		TransactionFees:      TransactionFees,
		Total:                TransactionFees,
		BinsUsed:             binsUsed,
		ComputeUnitsEstimate: ComputeUnits(binsUsed),
	}
}
