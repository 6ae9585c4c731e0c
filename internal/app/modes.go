package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundsettle/internal/domain"
	"github.com/alanyoungcy/fundsettle/internal/ledger/memledger"
	"github.com/alanyoungcy/fundsettle/internal/pipeline"
	"github.com/alanyoungcy/fundsettle/internal/server"
	"github.com/alanyoungcy/fundsettle/internal/server/handler"
	"github.com/alanyoungcy/fundsettle/internal/server/ws"
	"github.com/alanyoungcy/fundsettle/internal/service"
)

// Version is reported by the status endpoint. Set at build time with
// -ldflags "-X github.com/alanyoungcy/fundsettle/internal/app.Version=...".
var Version = "dev"

// services holds the settlement services shared by the server and the
// pipeline.
type services struct {
	oracle      *service.PriceOracle
	nav         *service.NAVEstimator
	settlements *service.SettlementLedger
	deposits    handler.DepositService
	withdrawals *service.WithdrawalService
	batcher     *service.LiquidationBatcher
	sweeper     *service.WithdrawalSweeper
}

func (a *App) buildServices(deps *Dependencies) *services {
	st := a.cfg.Settlement

	oracle := service.NewPriceOracle(deps.PriceCache, deps.Aggregator, service.PriceOracleConfig{
		TTL:         st.PriceTTL.Duration,
		SlippageBps: uint32(a.cfg.Aggregator.OracleSlippageBps),
	}, a.logger)
	nav := service.NewNAVEstimator(deps.Pools, deps.Ledger, oracle, deps.Docs, deps.Bus, st.NAVTTL.Duration, a.logger)
	settlements := service.NewSettlementLedger(deps.Receipts, deps.Bus, deps.Audit, deps.Notifier, a.logger)

	depositSvc := service.NewDepositService(deps.Deposits, deps.Pools, nav, deps.Bus, deps.Audit, a.logger)
	var deposits handler.DepositService = depositSvc
	if deps.PaperLedger != nil {
		deposits = newPaperDeposits(depositSvc, deps.Pools, deps.PaperLedger)
	}

	withdrawals := service.NewWithdrawalService(service.WithdrawalDeps{
		Pools:       deps.Pools,
		Positions:   deps.Positions,
		Withdrawals: deps.Withdrawals,
		Ledger:      deps.Ledger,
		Aggregator:  deps.Aggregator,
		Oracle:      oracle,
		NAV:         nav,
		Settlements: settlements,
		Locks:       deps.Locks,
		Bus:         deps.Bus,
		Audit:       deps.Audit,
		Notifier:    deps.Notifier,
	}, service.WithdrawalConfig{
		LockTTL:      st.LockTTL.Duration,
		SlippageBps:  uint32(a.cfg.Aggregator.LiquidationSlippageBps),
		InitiateWait: st.InitiateWait.Duration,
	}, a.logger)
	batcher := service.NewLiquidationBatcher(deps.Withdrawals, deps.Pools, withdrawals, st.BatchConcurrency, a.logger)
	sweeper := service.NewWithdrawalSweeper(
		withdrawals, batcher, deps.Withdrawals, deps.Docs, deps.Notifier, deps.Audit,
		service.SweeperConfig{
			MaxAttempts:   st.MaxLiquidationAttempts,
			MaxRequestAge: st.MaxRequestAge.Duration,
			AutoFinalize:  st.AutoFinalize,
		}, a.logger)

	return &services{
		oracle:      oracle,
		nav:         nav,
		settlements: settlements,
		deposits:    deposits,
		withdrawals: withdrawals,
		batcher:     batcher,
		sweeper:     sweeper,
	}
}

// APIMode serves the HTTP API and WebSocket feed without background jobs.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)
	svc := a.buildServices(deps)
	a.startServer(ctx, g, deps, svc, nil)
	return g.Wait()
}

// WorkerMode runs the scheduled jobs without the HTTP server.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	svc := a.buildServices(deps)
	if _, err := a.startPipeline(ctx, g, deps, svc); err != nil {
		return fmt.Errorf("worker mode: %w", err)
	}
	return g.Wait()
}

// FullMode runs the scheduled jobs and the HTTP server in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svc := a.buildServices(deps)

	var jobs []string
	if a.cfg.Pipeline.Enabled {
		var err error
		if jobs, err = a.startPipeline(ctx, g, deps, svc); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	} else {
		a.logger.InfoContext(ctx, "pipeline disabled, serving api only")
	}
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, svc, jobs)
	}
	return g.Wait()
}

// PaperMode is full mode on in-memory backends. Quotes are real; swaps,
// transfers and deposits are simulated.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.WarnContext(ctx, "paper mode: nothing is sent on chain and state is lost on exit")
	return a.FullMode(ctx, deps)
}

// startPipeline registers the settlement jobs and runs them in g. It returns
// the registered job names.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services) ([]string, error) {
	pc := a.cfg.Pipeline

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, pc.ArchiveRetentionDays, a.logger)
	} else {
		a.logger.InfoContext(ctx, "blob storage not configured, archival disabled")
	}

	scheduler := pipeline.NewScheduler(deps.Docs, instanceID(), a.logger)
	orch, err := pipeline.NewOrchestrator(scheduler, svc.sweeper, svc.nav, archiver, pipeline.OrchestratorConfig{
		SweepInterval: pc.SweepInterval.Duration,
		NAVInterval:   pc.NAVInterval.Duration,
		ArchiveCron:   pc.ArchiveCron,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	g.Go(func() error {
		return orch.Run(ctx)
	})
	return scheduler.Jobs(), nil
}

// startServer builds the HTTP handlers and WebSocket hub and serves them in
// g until ctx is cancelled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services, jobs []string) {
	startedAt := time.Now().UTC()

	var statements handler.StatementExporter
	if deps.Archiver != nil {
		statements = deps.Archiver
	}

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.Checks, a.logger),
		Status:      handler.NewStatusHandler(a.cfg.Mode, Version, startedAt, jobs),
		Pools:       handler.NewPoolHandler(deps.Pools, deps.Positions, svc.nav, svc.deposits, a.logger),
		Withdrawals: handler.NewWithdrawalHandler(svc.withdrawals, svc.batcher, a.logger),
		Receipts:    handler.NewReceiptHandler(svc.settlements, deps.Pools, statements, a.logger),
		Audit:       handler.NewAuditHandler(deps.Audit, a.logger),
	}

	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      startedAt,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}

// instanceID names this process in scheduler claims.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "fundsettle"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// paperDeposits simulates incoming transfers by crediting the pool vault on
// the paper ledger before minting shares. A funding reference is credited
// at most once so retries stay idempotent.
type paperDeposits struct {
	*service.DepositService
	pools  domain.PoolStore
	ledger *memledger.Ledger

	mu       sync.Mutex
	credited map[string]bool
}

func newPaperDeposits(svc *service.DepositService, pools domain.PoolStore, ledger *memledger.Ledger) *paperDeposits {
	return &paperDeposits{
		DepositService: svc,
		pools:          pools,
		ledger:         ledger,
		credited:       make(map[string]bool),
	}
}

// Deposit credits amt of the reference asset to the vault and applies the
// deposit under fundingRef, generating one when blank.
func (p *paperDeposits) Deposit(ctx context.Context, poolID, investorID string, amt uint64, fundingRef string) (domain.DepositRecord, error) {
	if amt == 0 {
		return p.DepositService.Deposit(ctx, poolID, investorID, amt, fundingRef)
	}
	pool, err := p.pools.GetByID(ctx, poolID)
	if err != nil {
		return domain.DepositRecord{}, fmt.Errorf("paper deposit: %w", err)
	}
	if fundingRef == "" {
		fundingRef = "paper-" + uuid.NewString()
	}

	p.mu.Lock()
	if !p.credited[fundingRef] {
		bal, _ := p.ledger.TokenBalance(ctx, pool.Vault, pool.ReferenceMint)
		p.ledger.SetTokenBalance(pool.Vault, pool.ReferenceMint, bal+amt)
		p.credited[fundingRef] = true
	}
	p.mu.Unlock()

	return p.DepositService.Deposit(ctx, poolID, investorID, amt, fundingRef)
}
