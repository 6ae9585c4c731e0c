// Package config defines the top-level configuration for the settlement
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/fundsettle/internal/amount"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FUNDSETTLE_* environment variables.
type Config struct {
	Solana     SolanaConfig     `toml:"solana"`
	Aggregator AggregatorConfig `toml:"aggregator"`
	Settlement SettlementConfig `toml:"settlement"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Pools      []PoolConfig     `toml:"pools"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// SolanaConfig holds RPC and signing parameters for the pool authority.
type SolanaConfig struct {
	RPCURL            string   `toml:"rpc_url"`
	Commitment        string   `toml:"commitment"`
	ProgramID         string   `toml:"program_id"`
	PrivateKey        string   `toml:"private_key"`
	EncryptedKeyPath  string   `toml:"encrypted_key_path"`
	KeyPassword       string   `toml:"key_password"`
	JournalPath       string   `toml:"journal_path"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	ConfirmTimeout    duration `toml:"confirm_timeout"`
}

// AggregatorConfig holds swap aggregator endpoints and routing parameters.
type AggregatorConfig struct {
	BaseURL                string   `toml:"base_url"`
	APIKey                 string   `toml:"api_key"`
	RequestsPerSecond      float64  `toml:"requests_per_second"`
	Burst                  int      `toml:"burst"`
	Timeout                duration `toml:"timeout"`
	LiquidationSlippageBps int      `toml:"liquidation_slippage_bps"`
	OracleSlippageBps      int      `toml:"oracle_slippage_bps"`
	ExcludeDexes           []string `toml:"exclude_dexes"`
}

// SettlementConfig holds withdrawal protocol defaults. Per-pool values in
// PoolConfig override the fee split and dust threshold.
type SettlementConfig struct {
	PriceTTL               duration `toml:"price_ttl"`
	NAVTTL                 duration `toml:"nav_ttl"`
	PlatformFeeBps         int      `toml:"platform_fee_bps"`
	OperatorSplitBps       int      `toml:"operator_split_bps"`
	DustThreshold          string   `toml:"dust_threshold"`
	LockTTL                duration `toml:"lock_ttl"`
	InitiateWait           duration `toml:"initiate_wait"`
	BatchConcurrency       int      `toml:"batch_concurrency"`
	MaxLiquidationAttempts int      `toml:"max_liquidation_attempts"`
	MaxRequestAge          duration `toml:"max_request_age"`
	AutoFinalize           bool     `toml:"auto_finalize"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`

	// StatementTimeout and LockTimeout are session defaults; zero leaves the
	// server default.
	StatementTimeout duration `toml:"statement_timeout"`
	LockTimeout      duration `toml:"lock_timeout"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PipelineConfig holds scheduled job parameters.
type PipelineConfig struct {
	Enabled              bool     `toml:"enabled"`
	SweepInterval        duration `toml:"sweep_interval"`
	NAVInterval          duration `toml:"nav_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveCron          string   `toml:"archive_cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Solana: SolanaConfig{
			RPCURL:            "https://api.mainnet-beta.solana.com",
			Commitment:        "confirmed",
			JournalPath:       "data/journal.db",
			RequestsPerSecond: 2.0,
			Burst:             5,
			ConfirmTimeout:    duration{90 * time.Second},
		},
		Aggregator: AggregatorConfig{
			BaseURL:                "https://lite-api.jup.ag",
			RequestsPerSecond:      1.0,
			Burst:                  2,
			Timeout:                duration{30 * time.Second},
			LiquidationSlippageBps: 2000,
			OracleSlippageBps:      50,
		},
		Settlement: SettlementConfig{
			PriceTTL:               duration{300 * time.Second},
			NAVTTL:                 duration{10 * time.Minute},
			PlatformFeeBps:         100,
			OperatorSplitBps:       8000,
			DustThreshold:          "0.0001",
			LockTTL:                duration{2 * time.Minute},
			InitiateWait:           duration{5 * time.Second},
			BatchConcurrency:       1,
			MaxLiquidationAttempts: 5,
			MaxRequestAge:          duration{24 * time.Hour},
			AutoFinalize:           false,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,

			StatementTimeout: duration{30 * time.Second},
			LockTimeout:      duration{5 * time.Second},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "fundsettle-data",
			ForcePathStyle: true,
		},
		Pipeline: PipelineConfig{
			Enabled:              true,
			SweepInterval:        duration{5 * time.Minute},
			NAVInterval:          duration{10 * time.Minute},
			ArchiveRetentionDays: 90,
			ArchiveCron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"withdrawal_completed", "liquidation_failed", "withdrawal_stale", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"api":    true,
	"worker": true,
	"full":   true,
	"paper":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Paper reports whether the service runs against in-memory backends.
func (c *Config) Paper() bool {
	return strings.EqualFold(c.Mode, "paper")
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, worker, full, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Authority key: every live mode signs ledger operations.
	if !c.Paper() {
		if c.Solana.PrivateKey == "" && c.Solana.EncryptedKeyPath == "" {
			errs = append(errs, "solana: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Solana.EncryptedKeyPath != "" && c.Solana.KeyPassword == "" {
			errs = append(errs, "solana: key_password is required when encrypted_key_path is set")
		}
		if c.Solana.RPCURL == "" {
			errs = append(errs, "solana: rpc_url must not be empty")
		}
		if c.Solana.JournalPath == "" {
			errs = append(errs, "solana: journal_path must not be empty")
		}
	}
	if c.Solana.RequestsPerSecond <= 0 {
		errs = append(errs, "solana: requests_per_second must be > 0")
	}

	if c.Aggregator.BaseURL == "" {
		errs = append(errs, "aggregator: base_url must not be empty")
	}
	if c.Aggregator.RequestsPerSecond <= 0 {
		errs = append(errs, "aggregator: requests_per_second must be > 0")
	}
	if !validBps(c.Aggregator.LiquidationSlippageBps) {
		errs = append(errs, fmt.Sprintf("aggregator: liquidation_slippage_bps must be 0-10000, got %d", c.Aggregator.LiquidationSlippageBps))
	}
	if !validBps(c.Aggregator.OracleSlippageBps) {
		errs = append(errs, fmt.Sprintf("aggregator: oracle_slippage_bps must be 0-10000, got %d", c.Aggregator.OracleSlippageBps))
	}

	// Settlement
	if c.Settlement.PriceTTL.Duration <= 0 {
		errs = append(errs, "settlement: price_ttl must be > 0")
	}
	if !validBps(c.Settlement.PlatformFeeBps) {
		errs = append(errs, fmt.Sprintf("settlement: platform_fee_bps must be 0-10000, got %d", c.Settlement.PlatformFeeBps))
	}
	if !validBps(c.Settlement.OperatorSplitBps) {
		errs = append(errs, fmt.Sprintf("settlement: operator_split_bps must be 0-10000, got %d", c.Settlement.OperatorSplitBps))
	}
	if _, err := amount.Parse(c.Settlement.DustThreshold, 9); err != nil {
		errs = append(errs, fmt.Sprintf("settlement: dust_threshold: %v", err))
	}
	if c.Settlement.BatchConcurrency < 1 {
		errs = append(errs, "settlement: batch_concurrency must be >= 1")
	}
	if c.Settlement.MaxLiquidationAttempts < 1 {
		errs = append(errs, "settlement: max_liquidation_attempts must be >= 1")
	}
	if c.Settlement.MaxRequestAge.Duration <= 0 {
		errs = append(errs, "settlement: max_request_age must be > 0")
	}
	if c.Settlement.LockTTL.Duration <= 0 {
		errs = append(errs, "settlement: lock_ttl must be > 0")
	}
	if c.Settlement.InitiateWait.Duration < 0 || c.Settlement.InitiateWait.Duration >= c.Settlement.LockTTL.Duration {
		errs = append(errs, "settlement: initiate_wait must be >= 0 and below lock_ttl")
	}

	if !c.Paper() {
		// Postgres
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}

		// Redis
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 is optional: archival is skipped without a bucket.
	if c.S3.Bucket != "" && c.S3.Endpoint == "" && c.S3.Region == "" {
		errs = append(errs, "s3: endpoint or region must be set when bucket is set")
	}

	if c.Pipeline.Enabled {
		if c.Pipeline.SweepInterval.Duration <= 0 {
			errs = append(errs, "pipeline: sweep_interval must be > 0")
		}
		if c.Pipeline.NAVInterval.Duration <= 0 {
			errs = append(errs, "pipeline: nav_interval must be > 0")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	seen := make(map[string]bool, len(c.Pools))
	for i, p := range c.Pools {
		if seen[p.ID] {
			errs = append(errs, fmt.Sprintf("pools[%d]: duplicate id %q", i, p.ID))
		}
		seen[p.ID] = true
		for _, e := range p.validate() {
			errs = append(errs, fmt.Sprintf("pools[%d]: %s", i, e))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validBps(v int) bool {
	return v >= 0 && v <= 10_000
}
