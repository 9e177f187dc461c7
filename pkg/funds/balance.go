package funds

import (
	"context"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dlmmpilot/pkg/errs"
	"dlmmpilot/pkg/metrics"
	"dlmmpilot/pkg/sol"
)

// BalanceReader reads an account's native balance in lamports.
type BalanceReader interface {
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// BalanceCheckResult reports whether an account covers required plus the
// estimated cost. Amounts are in SOL. Err is set when the balance could not
// be read; the result is then invalid with nothing available.
type BalanceCheckResult struct {
	IsValid   bool            `json:"isValid"`
	Available decimal.Decimal `json:"available"`
	Required  decimal.Decimal `json:"required"`
	Shortfall decimal.Decimal `json:"shortfall"`
	Err       error           `json:"-"`
}

// Error returns Err, or an InsufficientBalance error when the check failed
// on funds alone.
func (r BalanceCheckResult) Error() error {
	if r.Err != nil {
		return r.Err
	}
	if !r.IsValid {
		return errs.InsufficientBalance(r.Shortfall)
	}
	return nil
}

var lamportsPerSol = decimal.NewFromInt(sol.LamportsPerSol)

// LamportsToSol converts a lamport amount to SOL.
func LamportsToSol(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), 0).Div(lamportsPerSol)
}

// Validator checks balances against cost estimates.
type Validator struct {
	reader  BalanceReader
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewValidator(reader BalanceReader, m *metrics.Metrics, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{reader: reader, metrics: m, logger: logger}
}

// Validate compares the balance of account with required + estimate.Total.
// A failed read is reported through the result, never as a returned error.
func (v *Validator) Validate(ctx context.Context, account solana.PublicKey, required decimal.Decimal, estimate CostEstimate) BalanceCheckResult {
	return validate(ctx, v.reader, account, required, estimate, v.metrics, v.logger)
}

// Validate is the stateless form of Validator.Validate.
func Validate(ctx context.Context, reader BalanceReader, account solana.PublicKey, required decimal.Decimal, estimate CostEstimate) BalanceCheckResult {
	return validate(ctx, reader, account, required, estimate, nil, zap.NewNop())
}

func validate(ctx context.Context, reader BalanceReader, account solana.PublicKey, required decimal.Decimal, estimate CostEstimate, m *metrics.Metrics, logger *zap.Logger) BalanceCheckResult {
	total := required.Add(estimate.Total)

	lamports, err := reader.GetBalance(ctx, account)
	if err != nil {
		logger.Warn("Failed to read balance", zap.String("account", account.String()), zap.Error(err))
		m.BalanceChecked("error")
		if errs.KindOf(err) != errs.KindConnection {
			err = errs.Connection(err, "read balance of %s", account)
		}
		return BalanceCheckResult{
			Available: decimal.Zero,
			Required:  total,
			Shortfall: total,
			Err:       err,
		}
	}

	available := LamportsToSol(lamports)
	shortfall := decimal.Max(decimal.Zero, total.Sub(available))
	result := BalanceCheckResult{
		IsValid:   available.GreaterThanOrEqual(total),
		Available: available,
		Required:  total,
		Shortfall: shortfall,
	}
	if result.IsValid {
		m.BalanceChecked("valid")
	} else {
		m.BalanceChecked("insufficient")
		logger.Info("Insufficient balance",
			zap.String("account", account.String()),
			zap.String("available", available.String()),
			zap.String("required", total.String()))
	}
	return result
}
