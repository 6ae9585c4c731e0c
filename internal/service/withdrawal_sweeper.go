package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fundsettle/internal/domain"
	"github.com/alanyoungcy/fundsettle/internal/metrics"
)

// SweeperConfig controls retries and the stale-request policy.
type SweeperConfig struct {
	MaxAttempts   int
	MaxRequestAge time.Duration
	AutoFinalize  bool
	BatchSize     int
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Scanned   int `json:"scanned"`
	Retried   int `json:"retried"`
	Ready     int `json:"ready"`
	Finalized int `json:"finalized"`
	Failed    int `json:"failed"`
	Stale     int `json:"stale"`
}

// WithdrawalSweeper retries partially liquidated requests and applies the
// stale policy. Requests older than MaxRequestAge with nothing liquidated
// are failed; those with progress are flagged for an operator and keep
// being retried.
type WithdrawalSweeper struct {
	svc         *WithdrawalService
	batcher     *LiquidationBatcher
	withdrawals domain.WithdrawalStore
	docs        domain.DocumentStore
	events      events
	cfg         SweeperConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewWithdrawalSweeper creates a WithdrawalSweeper. docs deduplicates stale
// alerts and may be nil.
func NewWithdrawalSweeper(
	svc *WithdrawalService,
	batcher *LiquidationBatcher,
	withdrawals domain.WithdrawalStore,
	docs domain.DocumentStore,
	notifier Notifier,
	audit domain.AuditStore,
	cfg SweeperConfig,
	logger *slog.Logger,
) *WithdrawalSweeper {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MaxRequestAge <= 0 {
		cfg.MaxRequestAge = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	logger = logger.With(slog.String("component", "withdrawal_sweeper"))
	return &WithdrawalSweeper{
		svc:         svc,
		batcher:     batcher,
		withdrawals: withdrawals,
		docs:        docs,
		events:      events{audit: audit, notifier: notifier, logger: logger},
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// Sweep processes every active request once.
func (w *WithdrawalSweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	active, err := w.withdrawals.ListByStatus(ctx, domain.ActiveStatuses, domain.ListOpts{Limit: w.cfg.BatchSize})
	if err != nil {
		return rep, fmt.Errorf("withdrawal_sweeper: list active: %w", err)
	}
	metrics.ActiveWithdrawals.Set(float64(len(active)))

	var errs []error
	for _, req := range active {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Scanned++
		if err := w.sweepOne(ctx, req, &rep); err != nil {
			w.logger.WarnContext(ctx, "sweep request failed",
				slog.String("request_id", req.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}

	w.logger.InfoContext(ctx, "sweep complete",
		slog.Int("scanned", rep.Scanned),
		slog.Int("retried", rep.Retried),
		slog.Int("ready", rep.Ready),
		slog.Int("finalized", rep.Finalized),
		slog.Int("failed", rep.Failed),
		slog.Int("stale", rep.Stale),
	)
	return rep, errors.Join(errs...)
}

func (w *WithdrawalSweeper) sweepOne(ctx context.Context, req domain.WithdrawalRequest, rep *SweepReport) error {
	if w.now().Sub(req.CreatedAt) > w.cfg.MaxRequestAge {
		steps, err := w.withdrawals.ListSteps(ctx, req.ID)
		if err != nil {
			return fmt.Errorf("withdrawal_sweeper: list steps %s: %w", req.ID, err)
		}
		if len(steps) == 0 && req.SolAccumulated == 0 {
			if err := w.svc.Fail(ctx, req.ID, "stale: nothing liquidated"); err != nil {
				return err
			}
			rep.Failed++
			return nil
		}
		rep.Stale++
		w.flagStale(ctx, req)
	}

	if req.Status == domain.WithdrawalReadyToFinalize {
		return w.maybeFinalize(ctx, req.ID, rep)
	}

	if req.Attempts >= w.cfg.MaxAttempts {
		if req.SolAccumulated == 0 {
			// Left for the stale policy; finalizing would burn shares for nothing.
			return nil
		}
		if err := w.svc.MarkReady(ctx, req.ID); err != nil {
			return err
		}
		rep.Ready++
		w.logger.WarnContext(ctx, "liquidation attempts exhausted, finalizing with partial proceeds",
			slog.String("request_id", req.ID),
			slog.Int("attempts", req.Attempts),
			slog.Uint64("sol_accumulated", req.SolAccumulated),
		)
		return w.maybeFinalize(ctx, req.ID, rep)
	}

	res, err := w.batcher.RunBatch(ctx, req.ID)
	if err != nil {
		return err
	}
	rep.Retried++
	if !res.Ready {
		return nil
	}
	rep.Ready++
	return w.maybeFinalize(ctx, req.ID, rep)
}

func (w *WithdrawalSweeper) maybeFinalize(ctx context.Context, requestID string, rep *SweepReport) error {
	if !w.cfg.AutoFinalize {
		return nil
	}
	if _, _, err := w.svc.Finalize(ctx, requestID); err != nil {
		return err
	}
	rep.Finalized++
	return nil
}

// flagStale alerts operators once per request and max age window.
func (w *WithdrawalSweeper) flagStale(ctx context.Context, req domain.WithdrawalRequest) {
	if w.docs != nil {
		first, err := w.docs.PutIfAbsent(ctx, "withdrawal:stale:"+req.ID, []byte(w.now().UTC().Format(time.RFC3339)), w.cfg.MaxRequestAge)
		if err == nil && !first {
			return
		}
	}
	detail := map[string]any{
		"request_id":      req.ID,
		"pool_id":         req.PoolID,
		"investor_id":     req.InvestorID,
		"status":          req.Status,
		"sol_accumulated": req.SolAccumulated,
		"age":             w.now().Sub(req.CreatedAt).String(),
	}
	w.events.record(ctx, EventWithdrawalStale, detail)
	w.events.notify(ctx, EventWithdrawalStale, "Withdrawal stale",
		fmt.Sprintf("request %s (pool %s, investor %s) is %s old with partial liquidation; force-finalize or fail it",
			req.ID, req.PoolID, req.InvestorID, w.now().Sub(req.CreatedAt).Round(time.Minute)))
}
