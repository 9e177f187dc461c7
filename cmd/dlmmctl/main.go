package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dlmmpilot/pkg/config"
	"dlmmpilot/pkg/engine"
	"dlmmpilot/pkg/errs"
	"dlmmpilot/pkg/metrics"
	"dlmmpilot/pkg/orchestrator"
	"dlmmpilot/pkg/signer"
	"dlmmpilot/pkg/sol"
	"dlmmpilot/pkg/subscription"
)

type CommandError struct {
	Error    string `json:"error"`
	Category string `json:"category"`
	Detail   string `json:"detail"`
}

func main() {
	// Load .env file
	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load .env file: %v\n", err)
	}

	root := &cobra.Command{
		Use:           "dlmmctl",
		Short:         "Pick bin ranges and manage Meteora DLMM positions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file path")
	pf.StringSlice("rpc", nil, "Solana RPC endpoints (comma-separated, reads RPC_ENDPOINTS if not specified)")
	pf.String("ws", "", "WebSocket endpoint for confirmation subscriptions")
	pf.String("jito", "", "Jito block engine endpoint for submission")
	pf.String("network", config.NetworkMainnet, "network used for the default endpoint (mainnet-beta, devnet)")
	pf.Int("rate-limit", 10, "RPC requests per second per endpoint")
	pf.Duration("rpc-timeout", config.DefaultRPCTimeout, "timeout of each network step")
	pf.Duration("range-ttl", config.DefaultRangeTTL, "lifetime of resolved ranges")
	pf.String("keypair", "", "keypair file (solana-keygen JSON or base58)")
	pf.Bool("simulate", true, "simulate transactions before signing")
	pf.Bool("yes", false, "sign without asking for confirmation")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		rangesCmd(),
		activeCmd(),
		costCmd(),
		balanceCmd(),
		positionsCmd(),
		createCmd(),
		addCmd(),
		removeCmd(),
		claimCmd(),
		closeCmd(),
	)

	if err := root.Execute(); err != nil {
		outputError(err)
		os.Exit(1)
	}
}

// app is the per-invocation wiring shared by the commands.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	client  *sol.Client
	local   *signer.Local
	svc     *engine.Service
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

// setup builds the engine for cmd. needSigner requires a keypair.
func setup(ctx context.Context, cmd *cobra.Command, needSigner bool) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	pool, err := sol.NewRPCPool(ctx, cfg.RPCEndpoints, cfg.JitoEndpoint, cfg.RateLimit)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create RPC pool: %w", err)
	}
	a.client = pool.Primary()
	if pool.Size() > 1 {
		logger.Info("Using primary RPC endpoint",
			zap.String("endpoint", a.client.Endpoint()),
			zap.Strings("configured", pool.Endpoints()))
	}

	if cfg.WSEndpoint != "" {
		ws, err := subscription.NewWebSocketClient(ctx, cfg.WSEndpoint, logger)
		if err != nil {
			logger.Warn("WebSocket unavailable, confirming by polling", zap.Error(err))
		} else {
			a.client.SetSignatureWaiter(ws)
			a.closers = append(a.closers, func() { _ = ws.Close() })
		}
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		a.closers = append(a.closers, serveMetrics(cfg.MetricsAddr, reg, logger))
	}

	var backend signer.Backend
	if cfg.Keypair != "" {
		key, err := signer.LoadKeypair(cfg.Keypair)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts := []signer.LocalOption{signer.WithLogger(logger.Named("signer"))}
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			opts = append(opts, signer.WithApprover(promptApprover(os.Stdin, os.Stderr)))
		}
		a.local = signer.NewLocal(key, a.client, opts...)
		backend = a.local
	} else if needSigner {
		a.Close()
		return nil, errors.New("a keypair is required: use --keypair or DLMM_KEYPAIR")
	}

	a.svc = engine.New(a.client, backend,
		engine.WithRangeTTL(cfg.RangeTTL),
		engine.WithRPCTimeout(cfg.RPCTimeout),
		engine.WithSimulation(cfg.Simulate),
		engine.WithMetrics(m),
		engine.WithLogger(logger))

	logger.Debug("dlmmctl start",
		zap.Strings("rpc", cfg.RPCEndpoints),
		zap.Bool("jito", cfg.JitoEndpoint != ""),
		zap.Bool("ws", cfg.WSEndpoint != ""),
		zap.Duration("rpc_timeout", cfg.RPCTimeout),
		zap.Bool("simulate", cfg.Simulate))
	return a, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Metrics server stopped", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// run executes fn with a signal-aware context and a wired app.
func run(cmd *cobra.Command, needSigner bool, fn func(ctx context.Context, a *app) (interface{}, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cmd, needSigner)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := fn(ctx, a)
	if err == nil {
		printJSON(out)
	} else if res, ok := out.(*orchestrator.Result); ok && res != nil {
		// Partial progress of a failed operation.
		printJSON(res)
	}
	return err
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode output: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func outputError(err error) {
	data, _ := json.MarshalIndent(CommandError{
		Error:    errs.UserMessage(err),
		Category: string(errs.CategoryOf(err)),
		Detail:   err.Error(),
	}, "", "  ")
	fmt.Fprintln(os.Stderr, string(data))
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
