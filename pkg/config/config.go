// Package config loads engine settings from flags, DLMM_* environment
// variables, an optional config file and .env.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	NetworkMainnet = "mainnet-beta"
	NetworkDevnet  = "devnet"

	DefaultRangeTTL   = 120 * time.Second
	DefaultRPCTimeout = 30 * time.Second
)

var defaultEndpoints = map[string]string{
	NetworkMainnet: "https://api.mainnet-beta.solana.com",
	NetworkDevnet:  "https://api.devnet.solana.com",
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Network      string
	RPCEndpoints []string
	WSEndpoint   string
	JitoEndpoint string
	RateLimit    int
	RangeTTL     time.Duration
	RPCTimeout   time.Duration
	Keypair      string
	Simulate     bool
	MetricsAddr  string
	LogLevel     string
}

// Endpoint is the primary RPC endpoint.
func (c Config) Endpoint() string {
	if len(c.RPCEndpoints) == 0 {
		return ""
	}
	return c.RPCEndpoints[0]
}

// Load merges config file, environment variables, and flags into Config.
// Without an rpc setting it falls back to RPC_ENDPOINTS and then to the
// public endpoint of the network.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DLMM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("network", NetworkMainnet)
	v.SetDefault("rate-limit", 10)
	v.SetDefault("range-ttl", DefaultRangeTTL)
	v.SetDefault("rpc-timeout", DefaultRPCTimeout)
	v.SetDefault("simulate", true)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("dlmmpilot")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Network:      v.GetString("network"),
		RPCEndpoints: getStringSlice(v, "rpc"),
		WSEndpoint:   v.GetString("ws"),
		JitoEndpoint: v.GetString("jito"),
		RateLimit:    v.GetInt("rate-limit"),
		RangeTTL:     v.GetDuration("range-ttl"),
		RPCTimeout:   v.GetDuration("rpc-timeout"),
		Keypair:      v.GetString("keypair"),
		Simulate:     v.GetBool("simulate"),
		MetricsAddr:  v.GetString("metrics-addr"),
		LogLevel:     v.GetString("log-level"),
	}

	if len(cfg.RPCEndpoints) == 0 {
		cfg.RPCEndpoints = GetRPCEndpoints()
	}
	if len(cfg.RPCEndpoints) == 0 {
		endpoint, ok := defaultEndpoints[cfg.Network]
		if !ok {
			return Config{}, fmt.Errorf("unknown network %q and no rpc endpoint configured", cfg.Network)
		}
		cfg.RPCEndpoints = []string{endpoint}
	}
	if cfg.RPCTimeout <= 0 {
		return Config{}, fmt.Errorf("rpc-timeout must be positive, got %s", cfg.RPCTimeout)
	}

	return cfg, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}
