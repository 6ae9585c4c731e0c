package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// BatchResult summarizes one liquidation pass over a request.
type BatchResult struct {
	RequestID string                     `json:"request_id"`
	Attempt   int                        `json:"attempt"`
	Outcomes  []domain.LiquidationResult `json:"outcomes"`
	Ready     bool                       `json:"ready"`
}

// LiquidationBatcher runs LiquidateAsset over every vault asset of a
// request. Non-reference assets go first, optionally in parallel; the
// reference asset is always processed last.
type LiquidationBatcher struct {
	withdrawals domain.WithdrawalStore
	pools       domain.PoolStore
	svc         *WithdrawalService
	concurrency int
	logger      *slog.Logger
}

// NewLiquidationBatcher creates a LiquidationBatcher. concurrency bounds how
// many distinct assets are liquidated at once; values below 1 mean one.
func NewLiquidationBatcher(
	withdrawals domain.WithdrawalStore,
	pools domain.PoolStore,
	svc *WithdrawalService,
	concurrency int,
	logger *slog.Logger,
) *LiquidationBatcher {
	return &LiquidationBatcher{
		withdrawals: withdrawals,
		pools:       pools,
		svc:         svc,
		concurrency: max(concurrency, 1),
		logger:      logger.With(slog.String("component", "liquidation_batcher")),
	}
}

// RunBatch makes one pass over the request's assets. When every asset is
// settled, already liquidated or dust the request becomes
// ready_to_finalize. Safe to call repeatedly.
func (b *LiquidationBatcher) RunBatch(ctx context.Context, requestID string) (BatchResult, error) {
	req, err := b.withdrawals.GetByID(ctx, requestID)
	if err != nil {
		return BatchResult{}, fmt.Errorf("liquidation_batcher: get request %s: %w", requestID, err)
	}
	res := BatchResult{RequestID: requestID, Attempt: req.Attempts}
	if req.Status == domain.WithdrawalReadyToFinalize {
		res.Ready = true
		return res, nil
	}
	if !req.Status.CanLiquidate() {
		return res, fmt.Errorf("liquidation_batcher: request %s is %s: %w", requestID, req.Status, domain.ErrInvalidTransition)
	}

	pool, err := b.pools.GetByID(ctx, req.PoolID)
	if err != nil {
		return res, fmt.Errorf("liquidation_batcher: get pool %s: %w", req.PoolID, err)
	}
	if res.Attempt, err = b.withdrawals.IncrementAttempts(ctx, requestID); err != nil {
		return res, fmt.Errorf("liquidation_batcher: increment attempts %s: %w", requestID, err)
	}

	assets := pool.Liquidatable()
	others, ref := assets[:len(assets)-1], assets[len(assets)-1]

	outcomes := make([]domain.LiquidationResult, len(assets))
	errs := make([]error, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, a := range others {
		g.Go(func() error {
			outcomes[i], errs[i] = b.liquidate(gctx, requestID, a.Mint)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return res, err
	}

	last := len(assets) - 1
	outcomes[last], errs[last] = b.liquidate(ctx, requestID, ref.Mint)

	res.Outcomes = outcomes
	for _, err := range errs {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return res, fmt.Errorf("liquidation_batcher: request %s: %w", requestID, err)
		}
	}

	res.Ready = true
	for _, o := range outcomes {
		if !o.Outcome.Done() {
			res.Ready = false
			break
		}
	}
	if res.Ready {
		if err := b.svc.MarkReady(ctx, requestID); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			return res, fmt.Errorf("liquidation_batcher: %w", err)
		}
	}

	b.logger.InfoContext(ctx, "batch complete",
		slog.String("request_id", requestID),
		slog.Int("attempt", res.Attempt),
		slog.Int("assets", len(assets)),
		slog.Bool("ready", res.Ready),
	)
	return res, nil
}

// liquidate runs one asset, turning infrastructure errors into an
// execution_failed outcome so the rest of the batch proceeds.
func (b *LiquidationBatcher) liquidate(ctx context.Context, requestID, mint string) (domain.LiquidationResult, error) {
	r, err := b.svc.LiquidateAsset(ctx, requestID, mint)
	if err == nil {
		return r, nil
	}
	b.logger.WarnContext(ctx, "liquidate asset error",
		slog.String("request_id", requestID),
		slog.String("mint", mint),
		slog.String("error", err.Error()),
	)
	return domain.LiquidationResult{
		Mint:    mint,
		Outcome: domain.OutcomeExecutionFailed,
		Detail:  err.Error(),
	}, err
}
