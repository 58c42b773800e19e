// Package config defines all configuration for the trading bot.
// Config is loaded from a YAML file (default path overridable by
// POLY_CONFIG) with sensitive fields overridable via POLY_* environment
// variables, following the reference loader's viper-based convention.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file.
type Config struct {
	TradingMode string         `mapstructure:"trading_mode"` // "paper" or "live"
	Wallet      WalletConfig   `mapstructure:"wallet"`
	API         APIConfig      `mapstructure:"api"`
	Risk        RiskConfig     `mapstructure:"risk"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Store       StoreConfig    `mapstructure:"store"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	Mirror      MirrorConfig   `mapstructure:"mirror"`
	Health      HealthConfig   `mapstructure:"health"`
}

// IsPaper reports whether the engine should simulate orders rather than
// submit them live.
func (c *Config) IsPaper() bool { return c.TradingMode != "live" }

// WalletConfig holds the signing wallet. Per spec §1, wallet/cryptography
// is an opaque collaborator: the engine only needs an address to derive
// balances from and a signer it hands orders to for submission.
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds exchange endpoints and optional pre-derived L2 credentials.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	DataBaseURL  string `mapstructure:"data_base_url"` // external-account position reads
	WSMarketURL  string `mapstructure:"ws_market_url"`
	PolygonRPCURL string `mapstructure:"polygon_rpc_url"` // USDC balanceOf reads
	USDCAddress  string `mapstructure:"usdc_address"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// RiskConfig parameterizes the risk manager's twelve ordered checks (§4.5).
type RiskConfig struct {
	MaxPositionPct      float64       `mapstructure:"max_position_pct"`
	MinPositionSizeUSD  float64       `mapstructure:"min_position_size_usd"`
	MaxOpenPositions    int           `mapstructure:"max_open_positions"`
	DailyLossLimitPct   float64       `mapstructure:"daily_loss_limit_pct"`
	MinCashReservePct   float64       `mapstructure:"min_cash_reserve_pct"`
	MinEdgePct          float64       `mapstructure:"min_edge_pct"`
	StrategyAllocations map[string]float64 `mapstructure:"strategy_allocations"` // strategy name -> cap on open exposure, in USDC
	StopLossPct         float64       `mapstructure:"stop_loss_pct"`
	TrailingStopPct     float64       `mapstructure:"trailing_stop_pct"`
	TakeProfitTiers     []TakeProfitTier `mapstructure:"take_profit_tiers"`
}

// TakeProfitTier is one entry in the position manager's ordered tier list.
type TakeProfitTier struct {
	GainPct float64 `mapstructure:"gain_pct"`
	SellPct float64 `mapstructure:"sell_pct"`
}

// RateLimitConfig parameterizes the token-bucket rate limiter (§4.2).
// Defaults (55 per 60s) are chosen strictly below the exchange's
// advertised 60/min, matching the reference implementation's safety margin.
type RateLimitConfig struct {
	MaxRequests   int           `mapstructure:"max_requests"`
	WindowSeconds float64       `mapstructure:"window_seconds"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
}

// StoreConfig sets where the relational store lives.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MirrorConfig tunes the worked-example mirror strategy (§4.8.1).
type MirrorConfig struct {
	Enabled              bool           `mapstructure:"enabled"`
	SizingMethod         string         `mapstructure:"sizing_method"` // fixed | portfolio_pct | source_pct
	FixedNotional        float64        `mapstructure:"fixed_notional_usd"`
	PortfolioPctPerTrade float64        `mapstructure:"portfolio_pct_per_trade"`
	SourcePct            float64        `mapstructure:"source_pct"`
	MinSourceNotional    float64        `mapstructure:"min_source_notional_usd"`
	MaxSlippagePct       float64        `mapstructure:"max_slippage_pct"`
	PollInterval         time.Duration  `mapstructure:"poll_interval"`
	Discipline           string         `mapstructure:"discipline"`
	Accounts             []TrackedAccount `mapstructure:"accounts"`
}

// TrackedAccount is one external wallet the mirror strategy follows.
type TrackedAccount struct {
	Address          string  `mapstructure:"address"`
	Name             string  `mapstructure:"name"`
	MaxAllocationUSD float64 `mapstructure:"max_allocation_usd"`
}

// HealthConfig configures the operator-facing HTTP/WebSocket surface: the
// health and status endpoints, the event/command socket, and who is
// allowed to issue chat commands over it.
type HealthConfig struct {
	Port             int      `mapstructure:"port"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	OperatorPrincipal string  `mapstructure:"operator_principal"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_PRIVATE_KEY, POLY_API_KEY,
// POLY_API_SECRET, POLY_PASSPHRASE. TRADING_MODE selects paper or live.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if mode := os.Getenv("TRADING_MODE"); mode != "" {
		cfg.TradingMode = mode
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Store.Path = dsn
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if port := os.Getenv("HEALTH_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Health.Port = p
		}
	}
	if key := os.Getenv("WALLET_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if addr := os.Getenv("FUNDER_ADDRESS"); addr != "" {
		cfg.Wallet.FunderAddress = addr
	}
	if rpc := os.Getenv("POLYGON_RPC_URL"); rpc != "" {
		cfg.API.PolygonRPCURL = rpc
	}
	if chainID := os.Getenv("CHAIN_ID"); chainID != "" {
		if c, err := strconv.Atoi(chainID); err == nil {
			cfg.Wallet.ChainID = c
		}
	}
	if key := os.Getenv("EXCHANGE_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("EXCHANGE_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("EXCHANGE_API_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 55
	}
	if c.RateLimit.WindowSeconds == 0 {
		c.RateLimit.WindowSeconds = 60.0
	}
	if c.RateLimit.MaxBackoff == 0 {
		c.RateLimit.MaxBackoff = 60 * time.Second
	}
	if c.TradingMode == "" {
		c.TradingMode = "paper"
	}
	if c.Health.Port == 0 {
		c.Health.Port = 8090
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.TradingMode != "paper" && c.TradingMode != "live" {
		return fmt.Errorf("trading_mode must be \"paper\" or \"live\"")
	}
	if c.TradingMode == "live" {
		if c.Wallet.PrivateKey == "" {
			return fmt.Errorf("wallet.private_key is required in live mode (set POLY_PRIVATE_KEY)")
		}
		if c.Wallet.ChainID == 0 {
			return fmt.Errorf("wallet.chain_id is required in live mode")
		}
		if c.API.ApiKey == "" || c.API.Secret == "" || c.API.Passphrase == "" {
			return fmt.Errorf("api credentials are required in live mode")
		}
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.Risk.MaxPositionPct <= 0 {
		return fmt.Errorf("risk.max_position_pct must be > 0")
	}
	if c.Risk.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk.max_open_positions must be > 0")
	}
	if c.Risk.MinCashReservePct < 0 {
		return fmt.Errorf("risk.min_cash_reserve_pct must be >= 0")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be > 0")
	}
	return nil
}
