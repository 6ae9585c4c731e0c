package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	solanago "github.com/gagliardetto/solana-go"

	s3blob "github.com/alanyoungcy/fundsettle/internal/blob/s3"
	memcache "github.com/alanyoungcy/fundsettle/internal/cache/memory"
	"github.com/alanyoungcy/fundsettle/internal/cache/redis"
	"github.com/alanyoungcy/fundsettle/internal/config"
	"github.com/alanyoungcy/fundsettle/internal/crypto"
	"github.com/alanyoungcy/fundsettle/internal/domain"
	"github.com/alanyoungcy/fundsettle/internal/ledger/journal"
	"github.com/alanyoungcy/fundsettle/internal/ledger/memledger"
	"github.com/alanyoungcy/fundsettle/internal/notify"
	"github.com/alanyoungcy/fundsettle/internal/platform/jupiter"
	"github.com/alanyoungcy/fundsettle/internal/platform/solana"
	"github.com/alanyoungcy/fundsettle/internal/server/handler"
	"github.com/alanyoungcy/fundsettle/internal/store/memory"
	"github.com/alanyoungcy/fundsettle/internal/store/postgres"
)

// ReceiptStore is the receipt log plus the time-ranged reads archival needs.
type ReceiptStore interface {
	domain.ReceiptStore
	s3blob.ReceiptArchiveStore
}

// AuditStore is the audit log plus the cutoff read archival needs.
type AuditStore interface {
	domain.AuditStore
	s3blob.AuditArchiveStore
}

// Dependencies bundles every backend the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Pools       domain.PoolStore
	Positions   domain.PositionStore
	Deposits    domain.DepositStore
	Withdrawals domain.WithdrawalStore
	Receipts    ReceiptStore
	Audit       AuditStore

	// Caches
	PriceCache  domain.PriceCache
	Docs        domain.DocumentStore
	Locks       domain.LockManager
	RateLimiter domain.RateLimiter
	Bus         domain.SignalBus

	// Chain
	Ledger     domain.Ledger
	Aggregator domain.Aggregator
	// PaperLedger is set in paper mode so simulated deposits can fund vaults.
	PaperLedger *memledger.Ledger

	// Blob storage; nil when not configured.
	Archiver domain.Archiver

	Notifier *notify.Notifier
	Checks   map[string]handler.Check
}

// Wire constructs every backend for cfg.Mode and returns a cleanup function
// releasing them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Checks: make(map[string]handler.Check),
		Aggregator: jupiter.NewClient(jupiter.Config{
			BaseURL:           cfg.Aggregator.BaseURL,
			APIKey:            cfg.Aggregator.APIKey,
			RequestsPerSecond: cfg.Aggregator.RequestsPerSecond,
			Burst:             cfg.Aggregator.Burst,
			Timeout:           cfg.Aggregator.Timeout.Duration,
			ExcludeDexes:      cfg.Aggregator.ExcludeDexes,
		}),
		Notifier: notify.FromConfig(cfg.Notify, logger),
	}

	var err error
	if cfg.Paper() {
		wirePaper(deps, cfg)
	} else {
		closers, err = wireLive(ctx, deps, cfg, logger, closers)
	}
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	if err := seedPools(ctx, deps.Pools, cfg, logger); err != nil {
		cleanup()
		return nil, nil, err
	}
	return deps, cleanup, nil
}

// wirePaper backs everything with process memory. Quotes still come from
// the configured aggregator; swaps fill at their quoted output.
func wirePaper(deps *Dependencies, cfg *config.Config) {
	db := memory.New()
	deps.Pools = db.Pools()
	deps.Positions = db.Positions()
	deps.Deposits = db.Deposits()
	deps.Withdrawals = db.Withdrawals()
	deps.Receipts = db.Receipts()
	deps.Audit = db.Audit()

	deps.PriceCache = memcache.NewPriceCache()
	deps.Docs = memcache.NewDocumentStore()
	deps.Locks = memcache.NewLockManager()
	deps.RateLimiter = memcache.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
	deps.Bus = memcache.NewSignalBus()

	ledger := memledger.New(paperAuthority, solanago.PublicKey{})
	deps.Ledger = ledger
	deps.PaperLedger = ledger
}

// paperAuthority is the fee payer recorded by the paper ledger.
const paperAuthority = "PaperAuthority1111111111111111111111111111"

func wireLive(ctx context.Context, deps *Dependencies, cfg *config.Config, logger *slog.Logger, closers []func()) ([]func(), error) {
	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
		Workers:  cfg.Settlement.BatchConcurrency,

		StatementTimeout: cfg.Postgres.StatementTimeout.Duration,
		LockTimeout:      cfg.Postgres.LockTimeout.Duration,
	})
	if err != nil {
		return closers, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return closers, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	pool := pgClient.Pool()
	deps.Pools = postgres.NewPoolStore(pool)
	deps.Positions = postgres.NewPositionStore(pool)
	deps.Deposits = postgres.NewDepositStore(pool)
	deps.Withdrawals = postgres.NewWithdrawalStore(pool)
	deps.Receipts = postgres.NewReceiptStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)
	deps.Checks["postgres"] = pgClient.Health

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		Workers:    cfg.Settlement.BatchConcurrency,
		ClientName: "fundsettle-" + cfg.Mode,
	})
	if err != nil {
		return closers, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	// Stale prices still serve as fallback, so keep them well past the TTL.
	deps.PriceCache = redis.NewPriceCache(redisClient, 24*cfg.Settlement.PriceTTL.Duration)
	deps.Docs = redis.NewDocumentStore(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
	deps.Bus = redis.NewSignalBus(redisClient, "fundsettle")
	deps.Checks["redis"] = redisClient.Health

	// --- Solana ---
	signer, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Solana.PrivateKey,
		EncryptedKeyPath: cfg.Solana.EncryptedKeyPath,
		KeyPassword:      cfg.Solana.KeyPassword,
	})
	if err != nil {
		return closers, fmt.Errorf("wire: authority key: %w", err)
	}
	j, err := journal.Open(cfg.Solana.JournalPath)
	if err != nil {
		return closers, fmt.Errorf("wire: journal: %w", err)
	}
	closers = append(closers, func() { _ = j.Close() })
	ledger, err := solana.New(solana.Config{
		RPCURL:            cfg.Solana.RPCURL,
		Commitment:        cfg.Solana.Commitment,
		ProgramID:         cfg.Solana.ProgramID,
		RequestsPerSecond: cfg.Solana.RequestsPerSecond,
		Burst:             cfg.Solana.Burst,
		ConfirmTimeout:    cfg.Solana.ConfirmTimeout.Duration,
	}, signer, j, logger)
	if err != nil {
		return closers, fmt.Errorf("wire: solana: %w", err)
	}
	deps.Ledger = ledger
	deps.Checks["solana"] = ledger.Ping
	logger.Info("pool authority loaded", slog.String("authority", ledger.Authority()))

	// --- S3 ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return closers, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Receipts,
			deps.Audit,
			deps.Audit,
		)
		deps.Checks["s3"] = s3Client.Health
	}
	return closers, nil
}

// seedPools creates every configured pool that does not exist yet.
// Existing pools keep their stored state.
func seedPools(ctx context.Context, pools domain.PoolStore, cfg *config.Config, logger *slog.Logger) error {
	for _, pc := range cfg.Pools {
		p, err := pc.ToDomain(cfg.Settlement)
		if err != nil {
			return fmt.Errorf("wire: %w", err)
		}
		switch err := pools.Create(ctx, p); {
		case err == nil:
			logger.InfoContext(ctx, "pool created", slog.String("pool_id", p.ID), slog.Int("assets", len(p.Assets)))
		case errors.Is(err, domain.ErrAlreadyExists):
			logger.DebugContext(ctx, "pool already exists", slog.String("pool_id", p.ID))
		default:
			return fmt.Errorf("wire: seed pool %s: %w", p.ID, err)
		}
	}
	return nil
}
