package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUNDSETTLE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FUNDSETTLE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Solana ──
	setStr(&cfg.Solana.RPCURL, "FUNDSETTLE_SOLANA_RPC_URL")
	setStr(&cfg.Solana.Commitment, "FUNDSETTLE_SOLANA_COMMITMENT")
	setStr(&cfg.Solana.ProgramID, "FUNDSETTLE_SOLANA_PROGRAM_ID")
	setStr(&cfg.Solana.PrivateKey, "FUNDSETTLE_SOLANA_PRIVATE_KEY")
	setStr(&cfg.Solana.EncryptedKeyPath, "FUNDSETTLE_SOLANA_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Solana.KeyPassword, "FUNDSETTLE_SOLANA_KEY_PASSWORD")
	setStr(&cfg.Solana.JournalPath, "FUNDSETTLE_SOLANA_JOURNAL_PATH")
	setFloat64(&cfg.Solana.RequestsPerSecond, "FUNDSETTLE_SOLANA_REQUESTS_PER_SECOND")
	setInt(&cfg.Solana.Burst, "FUNDSETTLE_SOLANA_BURST")
	setDuration(&cfg.Solana.ConfirmTimeout, "FUNDSETTLE_SOLANA_CONFIRM_TIMEOUT")

	// ── Aggregator ──
	setStr(&cfg.Aggregator.BaseURL, "FUNDSETTLE_AGGREGATOR_BASE_URL")
	setStr(&cfg.Aggregator.APIKey, "FUNDSETTLE_AGGREGATOR_API_KEY")
	setFloat64(&cfg.Aggregator.RequestsPerSecond, "FUNDSETTLE_AGGREGATOR_REQUESTS_PER_SECOND")
	setInt(&cfg.Aggregator.Burst, "FUNDSETTLE_AGGREGATOR_BURST")
	setDuration(&cfg.Aggregator.Timeout, "FUNDSETTLE_AGGREGATOR_TIMEOUT")
	setInt(&cfg.Aggregator.LiquidationSlippageBps, "FUNDSETTLE_AGGREGATOR_LIQUIDATION_SLIPPAGE_BPS")
	setInt(&cfg.Aggregator.OracleSlippageBps, "FUNDSETTLE_AGGREGATOR_ORACLE_SLIPPAGE_BPS")
	setStringSlice(&cfg.Aggregator.ExcludeDexes, "FUNDSETTLE_AGGREGATOR_EXCLUDE_DEXES")

	// ── Settlement ──
	setDuration(&cfg.Settlement.PriceTTL, "FUNDSETTLE_SETTLEMENT_PRICE_TTL")
	setDuration(&cfg.Settlement.NAVTTL, "FUNDSETTLE_SETTLEMENT_NAV_TTL")
	setInt(&cfg.Settlement.PlatformFeeBps, "FUNDSETTLE_SETTLEMENT_PLATFORM_FEE_BPS")
	setInt(&cfg.Settlement.OperatorSplitBps, "FUNDSETTLE_SETTLEMENT_OPERATOR_SPLIT_BPS")
	setStr(&cfg.Settlement.DustThreshold, "FUNDSETTLE_SETTLEMENT_DUST_THRESHOLD")
	setDuration(&cfg.Settlement.LockTTL, "FUNDSETTLE_SETTLEMENT_LOCK_TTL")
	setDuration(&cfg.Settlement.InitiateWait, "FUNDSETTLE_SETTLEMENT_INITIATE_WAIT")
	setInt(&cfg.Settlement.BatchConcurrency, "FUNDSETTLE_SETTLEMENT_BATCH_CONCURRENCY")
	setInt(&cfg.Settlement.MaxLiquidationAttempts, "FUNDSETTLE_SETTLEMENT_MAX_LIQUIDATION_ATTEMPTS")
	setDuration(&cfg.Settlement.MaxRequestAge, "FUNDSETTLE_SETTLEMENT_MAX_REQUEST_AGE")
	setBool(&cfg.Settlement.AutoFinalize, "FUNDSETTLE_SETTLEMENT_AUTO_FINALIZE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FUNDSETTLE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "FUNDSETTLE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUNDSETTLE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUNDSETTLE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUNDSETTLE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUNDSETTLE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUNDSETTLE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FUNDSETTLE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FUNDSETTLE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FUNDSETTLE_POSTGRES_RUN_MIGRATIONS")
	setDuration(&cfg.Postgres.StatementTimeout, "FUNDSETTLE_POSTGRES_STATEMENT_TIMEOUT")
	setDuration(&cfg.Postgres.LockTimeout, "FUNDSETTLE_POSTGRES_LOCK_TIMEOUT")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FUNDSETTLE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUNDSETTLE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUNDSETTLE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUNDSETTLE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUNDSETTLE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FUNDSETTLE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FUNDSETTLE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUNDSETTLE_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUNDSETTLE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUNDSETTLE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUNDSETTLE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FUNDSETTLE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FUNDSETTLE_S3_FORCE_PATH_STYLE")

	// ── Pipeline ──
	setBool(&cfg.Pipeline.Enabled, "FUNDSETTLE_PIPELINE_ENABLED")
	setDuration(&cfg.Pipeline.SweepInterval, "FUNDSETTLE_PIPELINE_SWEEP_INTERVAL")
	setDuration(&cfg.Pipeline.NAVInterval, "FUNDSETTLE_PIPELINE_NAV_INTERVAL")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "FUNDSETTLE_PIPELINE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Pipeline.ArchiveCron, "FUNDSETTLE_PIPELINE_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FUNDSETTLE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FUNDSETTLE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FUNDSETTLE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FUNDSETTLE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "FUNDSETTLE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "FUNDSETTLE_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUNDSETTLE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUNDSETTLE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUNDSETTLE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FUNDSETTLE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FUNDSETTLE_MODE")
	setStr(&cfg.LogLevel, "FUNDSETTLE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
