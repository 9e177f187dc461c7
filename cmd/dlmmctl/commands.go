package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	cosmath "cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"dlmmpilot/pkg/dlmm"
	"dlmmpilot/pkg/engine"
	"dlmmpilot/pkg/funds"
	"dlmmpilot/pkg/orchestrator"
	"dlmmpilot/pkg/rangefinder"
	"dlmmpilot/pkg/signer"
)

type RangesResponse struct {
	Pool     string                 `json:"pool"`
	Profile  string                 `json:"profile"`
	Fallback bool                   `json:"fallback"`
	Ranges   []rangefinder.BinRange `json:"ranges"`
	Cache    *engine.CacheStats     `json:"cache,omitempty"`
}

type BalanceResponse struct {
	Account   string `json:"account"`
	IsValid   bool   `json:"isValid"`
	Available string `json:"available"`
	Required  string `json:"required"`
	Shortfall string `json:"shortfall"`
	Error     string `json:"error,omitempty"`
}

func rangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ranges",
		Short: "Resolve candidate bin ranges for a pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, _ := cmd.Flags().GetString("pool")
			profileName, _ := cmd.Flags().GetString("profile")
			maxWidth, _ := cmd.Flags().GetInt("max-width")
			fallback, _ := cmd.Flags().GetBool("fallback")
			if pool == "" {
				return fmt.Errorf("--pool is required")
			}
			profile, err := rangefinder.ParseRiskProfile(profileName)
			if err != nil {
				return err
			}

			return run(cmd, false, func(ctx context.Context, a *app) (interface{}, error) {
				resp := RangesResponse{Pool: pool, Profile: string(profile)}
				if fallback {
					resp.Ranges, resp.Fallback, err = a.svc.ResolveRangesOrFallback(ctx, pool, maxWidth, profile)
				} else {
					resp.Ranges, err = a.svc.ResolveRanges(ctx, pool, maxWidth, profile)
				}
				if err != nil {
					return nil, err
				}
				if a.cfg.LogLevel == "debug" {
					stats := a.svc.CacheStats()
					resp.Cache = &stats
				}
				return resp, nil
			})
		},
	}
	cmd.Flags().String("pool", "", "DLMM pool (LbPair) address")
	cmd.Flags().String("profile", string(rangefinder.Moderate), "risk profile (conservative, moderate, aggressive)")
	cmd.Flags().Int("max-width", dlmm.MaxBinPerArray, "maximum range width in bins")
	cmd.Flags().Bool("fallback", true, "answer with the default window when no range fits")
	return cmd
}

func activeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "active",
		Short: "Show the active bin of a pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, _ := cmd.Flags().GetString("pool")
			if pool == "" {
				return fmt.Errorf("--pool is required")
			}
			return run(cmd, false, func(ctx context.Context, a *app) (interface{}, error) {
				return a.svc.ActiveBin(ctx, pool)
			})
		},
	}
	cmd.Flags().String("pool", "", "DLMM pool (LbPair) address")
	return cmd
}

func costCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Estimate the SOL cost of opening a position",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bins, _ := cmd.Flags().GetInt("bins")
			printJSON(funds.Estimate(bins))
			return nil
		},
	}
	cmd.Flags().Int("bins", 69, "number of bins the position spans")
	return cmd
}

func balanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Check that an account can pay for a position",
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, _ := cmd.Flags().GetString("account")
			requiredStr, _ := cmd.Flags().GetString("required")
			bins, _ := cmd.Flags().GetInt("bins")
			required, err := decimal.NewFromString(requiredStr)
			if err != nil {
				return fmt.Errorf("invalid --required: %w", err)
			}

			return run(cmd, false, func(ctx context.Context, a *app) (interface{}, error) {
				owner, err := ownerOrSigner(a, account)
				if err != nil {
					return nil, err
				}
				res := a.svc.ValidateBalance(ctx, owner, required, a.svc.EstimateCost(bins))
				resp := BalanceResponse{
					Account:   owner.String(),
					IsValid:   res.IsValid,
					Available: res.Available.String(),
					Required:  res.Required.String(),
					Shortfall: res.Shortfall.String(),
				}
				if res.Err != nil {
					resp.Error = res.Err.Error()
				}
				return resp, nil
			})
		},
	}
	cmd.Flags().String("account", "", "account to check (defaults to the keypair)")
	cmd.Flags().String("required", "0", "SOL the deposit itself needs")
	cmd.Flags().Int("bins", 69, "number of bins the position spans")
	return cmd
}

func positionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List an owner's positions in a pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, _ := cmd.Flags().GetString("pool")
			ownerStr, _ := cmd.Flags().GetString("owner")
			if pool == "" {
				return fmt.Errorf("--pool is required")
			}
			return run(cmd, false, func(ctx context.Context, a *app) (interface{}, error) {
				owner, err := ownerOrSigner(a, ownerStr)
				if err != nil {
					return nil, err
				}
				return a.svc.Positions(ctx, pool, owner)
			})
		},
	}
	cmd.Flags().String("pool", "", "DLMM pool (LbPair) address")
	cmd.Flags().String("owner", "", "position owner (defaults to the keypair)")
	return cmd
}

func liquidityFlags(cmd *cobra.Command) {
	cmd.Flags().String("pool", "", "DLMM pool (LbPair) address")
	cmd.Flags().String("amount-x", "0", "token X amount in smallest units")
	cmd.Flags().String("amount-y", "", "token Y amount in smallest units (empty to auto-fill)")
	cmd.Flags().Bool("auto-fill", true, "derive Y from the active bin when --amount-y is empty")
	cmd.Flags().String("strategy", "spot", "liquidity shape (spot, curve, bid-ask)")
	cmd.Flags().Int32("min-bin", 0, "lowest bin; omit with --max-bin to resolve a range")
	cmd.Flags().Int32("max-bin", 0, "highest bin, inclusive")
	cmd.Flags().String("profile", string(rangefinder.Moderate), "risk profile used to resolve a range")
	cmd.Flags().Int("max-width", dlmm.MaxBinPerArray, "maximum range width in bins")
	cmd.Flags().Uint16("slippage-bps", 0, "active bin slippage in basis points")
	cmd.Flags().String("required-sol", "0", "native SOL the deposit spends")
}

func liquidityIntent(cmd *cobra.Command) (engine.PositionIntent, error) {
	f := cmd.Flags()
	pool, _ := f.GetString("pool")
	if pool == "" {
		return engine.PositionIntent{}, fmt.Errorf("--pool is required")
	}
	amountX, _ := f.GetString("amount-x")
	amountY, _ := f.GetString("amount-y")
	autoFill, _ := f.GetBool("auto-fill")
	strategyName, _ := f.GetString("strategy")
	profileName, _ := f.GetString("profile")
	maxWidth, _ := f.GetInt("max-width")
	slippage, _ := f.GetUint16("slippage-bps")
	requiredSol, _ := f.GetString("required-sol")

	x, ok := cosmath.NewIntFromString(amountX)
	if !ok || x.IsNegative() {
		return engine.PositionIntent{}, fmt.Errorf("invalid --amount-x %q", amountX)
	}
	var y *cosmath.Int
	if amountY != "" {
		v, ok := cosmath.NewIntFromString(amountY)
		if !ok || v.IsNegative() {
			return engine.PositionIntent{}, fmt.Errorf("invalid --amount-y %q", amountY)
		}
		y = &v
	}
	strategy, err := dlmm.ParseStrategyType(strategyName)
	if err != nil {
		return engine.PositionIntent{}, err
	}
	profile, err := rangefinder.ParseRiskProfile(profileName)
	if err != nil {
		return engine.PositionIntent{}, err
	}
	required, err := decimal.NewFromString(requiredSol)
	if err != nil {
		return engine.PositionIntent{}, fmt.Errorf("invalid --required-sol: %w", err)
	}
	var span *engine.BinSpan
	if f.Changed("min-bin") || f.Changed("max-bin") {
		if !f.Changed("min-bin") || !f.Changed("max-bin") {
			return engine.PositionIntent{}, fmt.Errorf("--min-bin and --max-bin must be given together")
		}
		minBin, _ := f.GetInt32("min-bin")
		maxBin, _ := f.GetInt32("max-bin")
		span = &engine.BinSpan{MinBinID: minBin, MaxBinID: maxBin}
	}

	return engine.PositionIntent{
		PoolAddress:  pool,
		TotalXAmount: x,
		TotalYAmount: y,
		AutoFill:     autoFill,
		StrategyType: strategy,
		Range:        span,
		RiskProfile:  profile,
		MaxWidth:     maxWidth,
		SlippageBps:  slippage,
		RequiredSol:  required,
	}, nil
}

func createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a position and add liquidity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			intent, err := liquidityIntent(cmd)
			if err != nil {
				return err
			}
			return run(cmd, true, func(ctx context.Context, a *app) (interface{}, error) {
				return a.svc.CreatePosition(ctx, intent)
			})
		},
	}
	liquidityFlags(cmd)
	return cmd
}

func addCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add liquidity to an existing position",
		RunE: func(cmd *cobra.Command, _ []string) error {
			intent, err := liquidityIntent(cmd)
			if err != nil {
				return err
			}
			position, err := positionFlag(cmd)
			if err != nil {
				return err
			}
			return run(cmd, true, func(ctx context.Context, a *app) (interface{}, error) {
				return a.svc.AddLiquidity(ctx, position, intent)
			})
		},
	}
	liquidityFlags(cmd)
	cmd.Flags().String("position", "", "position address")
	return cmd
}

func removeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove liquidity from a position",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, _ := cmd.Flags().GetString("pool")
			if pool == "" {
				return fmt.Errorf("--pool is required")
			}
			intent, err := removeIntent(cmd)
			if err != nil {
				return err
			}
			return run(cmd, true, func(ctx context.Context, a *app) (interface{}, error) {
				return a.svc.RemoveLiquidity(ctx, pool, intent)
			})
		},
	}
	cmd.Flags().String("pool", "", "DLMM pool (LbPair) address")
	cmd.Flags().String("position", "", "position address")
	cmd.Flags().Int32("from-bin", 0, "first bin; omit with --to-bin to cover every funded bin")
	cmd.Flags().Int32("to-bin", 0, "last bin, inclusive")
	cmd.Flags().UintSlice("bps", []uint{dlmm.BasisPointMax}, "basis points to remove, one value or one per bin")
	cmd.Flags().Bool("claim-and-close", false, "claim fees and close the position afterwards")
	return cmd
}

func removeIntent(cmd *cobra.Command) (orchestrator.RemoveIntent, error) {
	f := cmd.Flags()
	from, _ := f.GetInt32("from-bin")
	to, _ := f.GetInt32("to-bin")
	bps, _ := f.GetUintSlice("bps")
	claimAndClose, _ := f.GetBool("claim-and-close")

	position, err := positionFlag(cmd)
	if err != nil {
		return orchestrator.RemoveIntent{}, err
	}
	intent := orchestrator.RemoveIntent{
		Position:            position,
		FromBinID:           from,
		ToBinID:             to,
		ShouldClaimAndClose: claimAndClose,
	}
	switch fromSet, toSet := f.Changed("from-bin"), f.Changed("to-bin"); {
	case !fromSet && !toSet:
		intent.AllFundedBins = true
	case fromSet != toSet:
		return orchestrator.RemoveIntent{}, fmt.Errorf("--from-bin and --to-bin must be given together")
	}
	for _, v := range bps {
		if v > dlmm.BasisPointMax {
			return orchestrator.RemoveIntent{}, fmt.Errorf("--bps value %d exceeds %d", v, dlmm.BasisPointMax)
		}
		intent.BpsToRemove = append(intent.BpsToRemove, uint16(v))
	}
	return intent, nil
}

func claimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim swap fees of one, several or all positions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, _ := cmd.Flags().GetString("pool")
			addresses, _ := cmd.Flags().GetStringSlice("position")
			if pool == "" {
				return fmt.Errorf("--pool is required")
			}
			positions := make([]solana.PublicKey, 0, len(addresses))
			for _, s := range addresses {
				key, err := solana.PublicKeyFromBase58(s)
				if err != nil {
					return fmt.Errorf("invalid position %q: %w", s, err)
				}
				positions = append(positions, key)
			}
			return run(cmd, true, func(ctx context.Context, a *app) (interface{}, error) {
				if len(positions) == 1 {
					return a.svc.ClaimFees(ctx, pool, positions[0])
				}
				return a.svc.ClaimAllFees(ctx, pool, positions)
			})
		},
	}
	cmd.Flags().String("pool", "", "DLMM pool (LbPair) address")
	cmd.Flags().StringSlice("position", nil, "position addresses (empty claims every owned position)")
	return cmd
}

func closeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Close an empty position and reclaim its rent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, _ := cmd.Flags().GetString("pool")
			if pool == "" {
				return fmt.Errorf("--pool is required")
			}
			position, err := positionFlag(cmd)
			if err != nil {
				return err
			}
			return run(cmd, true, func(ctx context.Context, a *app) (interface{}, error) {
				return a.svc.ClosePosition(ctx, pool, position)
			})
		},
	}
	cmd.Flags().String("pool", "", "DLMM pool (LbPair) address")
	cmd.Flags().String("position", "", "position address")
	return cmd
}

func positionFlag(cmd *cobra.Command) (solana.PublicKey, error) {
	s, _ := cmd.Flags().GetString("position")
	if s == "" {
		return solana.PublicKey{}, fmt.Errorf("--position is required")
	}
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid --position: %w", err)
	}
	return key, nil
}

func ownerOrSigner(a *app, s string) (solana.PublicKey, error) {
	if s != "" {
		return solana.PublicKeyFromBase58(s)
	}
	if a.local == nil {
		return solana.PublicKey{}, fmt.Errorf("an account is required: pass one or configure --keypair")
	}
	return a.local.PublicKey(), nil
}

// promptApprover asks on in before every signature.
func promptApprover(in io.Reader, out io.Writer) signer.Approver {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, tx *solana.Transaction) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Sign transaction with %d instruction(s), fee payer %s? [y/N] ",
			len(tx.Message.Instructions), tx.Message.AccountKeys[0])
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return false, signer.ErrUserCancelled
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}
