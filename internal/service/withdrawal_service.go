package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/fundsettle/internal/amount"
	"github.com/alanyoungcy/fundsettle/internal/domain"
	"github.com/alanyoungcy/fundsettle/internal/metrics"
)

// WithdrawalConfig holds the tunable parameters of the withdrawal protocol.
type WithdrawalConfig struct {
	LockTTL     time.Duration
	SlippageBps uint32
	// InitiateWait is how long Initiate waits on a concurrent initiation of
	// the same pair before reporting ErrConcurrentRequest. Zero fails fast.
	InitiateWait time.Duration
}

// WithdrawalDeps groups the collaborators of a WithdrawalService.
type WithdrawalDeps struct {
	Pools       domain.PoolStore
	Positions   domain.PositionStore
	Withdrawals domain.WithdrawalStore
	Ledger      domain.Ledger
	Aggregator  domain.Aggregator
	Oracle      *PriceOracle
	NAV         *NAVEstimator
	Settlements *SettlementLedger
	Locks       domain.LockManager
	Bus         domain.SignalBus
	Audit       domain.AuditStore
	Notifier    Notifier
}

// WithdrawalService drives withdrawal requests through
// initiated -> liquidating -> ready_to_finalize -> completed, or failed.
type WithdrawalService struct {
	pools       domain.PoolStore
	positions   domain.PositionStore
	withdrawals domain.WithdrawalStore
	ledger      domain.Ledger
	agg         domain.Aggregator
	oracle      *PriceOracle
	nav         *NAVEstimator
	settlements *SettlementLedger
	locks       domain.LockManager
	events      events
	cfg         WithdrawalConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewWithdrawalService creates a WithdrawalService with all required
// dependencies.
func NewWithdrawalService(deps WithdrawalDeps, cfg WithdrawalConfig, logger *slog.Logger) *WithdrawalService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.SlippageBps == 0 {
		cfg.SlippageBps = 2000
	}
	logger = logger.With(slog.String("component", "withdrawal_service"))
	return &WithdrawalService{
		pools:       deps.Pools,
		positions:   deps.Positions,
		withdrawals: deps.Withdrawals,
		ledger:      deps.Ledger,
		agg:         deps.Aggregator,
		oracle:      deps.Oracle,
		nav:         deps.NAV,
		settlements: deps.Settlements,
		locks:       deps.Locks,
		events:      events{bus: deps.Bus, audit: deps.Audit, notifier: deps.Notifier, logger: logger},
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *WithdrawalService) lock(ctx context.Context, key string) (func(), error) {
	unlock, err := s.locks.Acquire(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("withdrawal_service: lock %s: %w", key, err)
	}
	return unlock, nil
}

// addressSeed keeps derivation seeds within the 32-byte seed limit.
func addressSeed(s string) []byte {
	if len(s) <= 32 {
		return []byte(s)
	}
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// Initiate opens a withdrawal of shares from the investor's position; zero
// means every share held. The fraction of the pool being withdrawn is
// frozen here. If the pair already has an active request it is returned with
// resumed set; a caller racing another initiation waits up to InitiateWait
// and then resumes the request the other caller created.
func (s *WithdrawalService) Initiate(ctx context.Context, poolID, investorID string, shares uint64) (domain.WithdrawalRequest, bool, error) {
	unlock, err := s.locks.AcquireWait(ctx, "withdrawal:"+poolID+":"+investorID, s.cfg.LockTTL, s.cfg.InitiateWait)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.WithdrawalRequest{}, false, fmt.Errorf("withdrawal_service: initiate %s/%s: %w", poolID, investorID, domain.ErrConcurrentRequest)
		}
		return domain.WithdrawalRequest{}, false, fmt.Errorf("withdrawal_service: lock %s/%s: %w", poolID, investorID, err)
	}
	defer unlock()

	if active, err := s.withdrawals.GetActive(ctx, poolID, investorID); err == nil {
		return active, true, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.WithdrawalRequest{}, false, fmt.Errorf("withdrawal_service: get active %s/%s: %w", poolID, investorID, err)
	}

	pool, err := s.pools.GetByID(ctx, poolID)
	if err != nil {
		return domain.WithdrawalRequest{}, false, fmt.Errorf("withdrawal_service: get pool %s: %w", poolID, err)
	}
	pos, err := s.positions.Get(ctx, poolID, investorID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.WithdrawalRequest{}, false, fmt.Errorf("withdrawal_service: no position for %s in %s: %w", investorID, poolID, domain.ErrInvalidShares)
		}
		return domain.WithdrawalRequest{}, false, fmt.Errorf("withdrawal_service: get position %s/%s: %w", poolID, investorID, err)
	}

	if shares == 0 {
		shares = pos.Shares
	}
	if shares == 0 || shares > pos.Shares {
		return domain.WithdrawalRequest{}, false, fmt.Errorf("withdrawal_service: withdraw %d of %d shares: %w", shares, pos.Shares, domain.ErrInvalidShares)
	}
	if pool.TotalShares == 0 {
		return domain.WithdrawalRequest{}, false, fmt.Errorf("withdrawal_service: pool %s has no shares: %w", poolID, domain.ErrInvalidAmount)
	}

	fraction, err := amount.MulDiv(shares, domain.BpsDenominator, pool.TotalShares)
	if err != nil {
		return domain.WithdrawalRequest{}, false, fmt.Errorf("withdrawal_service: fraction: %w", err)
	}
	fraction = min(fraction, domain.BpsDenominator)
	if fraction == 0 {
		return domain.WithdrawalRequest{}, false, fmt.Errorf("withdrawal_service: %d of %d shares is below one basis point: %w", shares, pool.TotalShares, domain.ErrInvalidAmount)
	}

	holdings, err := s.nav.Holdings(ctx, pool)
	if err != nil {
		return domain.WithdrawalRequest{}, false, fmt.Errorf("withdrawal_service: snapshot holdings: %w", err)
	}
	costBasis, err := ProRataCostBasis(pos.CostBasis, shares, pos.Shares)
	if err != nil {
		return domain.WithdrawalRequest{}, false, fmt.Errorf("withdrawal_service: cost basis: %w", err)
	}
	address, err := s.ledger.DeriveAddress([]byte("withdrawal"), addressSeed(poolID), addressSeed(investorID))
	if err != nil {
		return domain.WithdrawalRequest{}, false, fmt.Errorf("withdrawal_service: derive address: %w", err)
	}

	now := s.now().UTC()
	req := domain.WithdrawalRequest{
		ID:                     uuid.NewString(),
		Address:                address,
		PoolID:                 poolID,
		InvestorID:             investorID,
		SharesToWithdraw:       shares,
		FractionBps:            uint32(fraction),
		TotalSharesSnapshot:    pool.TotalShares,
		PositionSharesSnapshot: pos.Shares,
		CostBasisSnapshot:      costBasis,
		BalanceSnapshot:        holdings,
		Status:                 domain.WithdrawalInitiated,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.withdrawals.Create(ctx, req); err != nil {
		if errors.Is(err, domain.ErrConcurrentRequest) {
			active, gerr := s.withdrawals.GetActive(ctx, poolID, investorID)
			if gerr == nil {
				return active, true, nil
			}
		}
		return domain.WithdrawalRequest{}, false, fmt.Errorf("withdrawal_service: create request: %w", err)
	}

	fields := map[string]any{
		"request_id":   req.ID,
		"pool_id":      poolID,
		"investor_id":  investorID,
		"shares":       shares,
		"fraction_bps": req.FractionBps,
	}
	s.events.publish(ctx, domain.ChannelWithdrawals, EventWithdrawalInitiated, fields)
	s.events.record(ctx, EventWithdrawalInitiated, fields)
	metrics.RecordWithdrawal(poolID, string(domain.WithdrawalInitiated))

	s.logger.InfoContext(ctx, "withdrawal initiated",
		slog.String("request_id", req.ID),
		slog.String("pool_id", poolID),
		slog.String("investor_id", investorID),
		slog.Uint64("shares", shares),
		slog.Uint64("fraction_bps", fraction),
	)
	return req, false, nil
}

// LiquidateAsset converts the request's share of one vault asset into the
// reference asset. Routing and execution problems are reported as outcomes;
// errors are reserved for infrastructure failures and invalid requests.
func (s *WithdrawalService) LiquidateAsset(ctx context.Context, requestID, mint string) (domain.LiquidationResult, error) {
	unlock, err := s.lock(ctx, "withdrawal:"+requestID+":asset:"+mint)
	if err != nil {
		return domain.LiquidationResult{}, err
	}
	defer unlock()

	req, err := s.withdrawals.GetByID(ctx, requestID)
	if err != nil {
		return domain.LiquidationResult{}, fmt.Errorf("withdrawal_service: get request %s: %w", requestID, err)
	}
	if !req.Status.CanLiquidate() {
		return domain.LiquidationResult{}, fmt.Errorf("withdrawal_service: liquidate %s in status %s: %w", requestID, req.Status, domain.ErrInvalidTransition)
	}
	pool, err := s.pools.GetByID(ctx, req.PoolID)
	if err != nil {
		return domain.LiquidationResult{}, fmt.Errorf("withdrawal_service: get pool %s: %w", req.PoolID, err)
	}
	asset, ok := pool.Asset(mint)
	if !ok || mint == pool.ShareMint {
		return domain.LiquidationResult{}, fmt.Errorf("withdrawal_service: asset %s in pool %s: %w", mint, pool.ID, domain.ErrNotFound)
	}

	current, err := s.ledger.TokenBalance(ctx, pool.Vault, mint)
	if err != nil {
		return domain.LiquidationResult{}, fmt.Errorf("withdrawal_service: balance of %s: %w", mint, err)
	}
	observed, ok := req.BalanceSnapshot[mint]
	if !ok {
		observed = current
	}
	progress, err := s.withdrawals.EnsureProgress(ctx, domain.AssetProgress{
		RequestID:       requestID,
		Mint:            mint,
		BalanceObserved: observed,
	})
	if err != nil {
		return domain.LiquidationResult{}, fmt.Errorf("withdrawal_service: progress of %s: %w", mint, err)
	}

	allowed, err := amount.MulDiv(progress.BalanceObserved, uint64(req.FractionBps), domain.BpsDenominator)
	if err != nil {
		return domain.LiquidationResult{}, fmt.Errorf("withdrawal_service: cap of %s: %w", mint, err)
	}
	var remaining uint64
	if allowed > progress.AmountLiquidated {
		remaining = min(allowed-progress.AmountLiquidated, current)
	}

	result := domain.LiquidationResult{Mint: mint}
	if remaining == 0 {
		result.Outcome = domain.OutcomeAlreadyLiquidated
		return result, nil
	}

	start := s.now()
	if pool.IsReference(mint) {
		step := domain.LiquidationStep{
			RequestID: requestID,
			Mint:      mint,
			AmountIn:  remaining,
			AmountOut: remaining,
			Route:     domain.RouteReference,
		}
		return s.record(ctx, pool, step, allowed, start)
	}

	if value, priced := s.oracle.ValueOf(ctx, pool, asset, remaining); priced && value < pool.DustThreshold {
		s.logger.DebugContext(ctx, "dust skipped",
			slog.String("request_id", requestID),
			slog.String("mint", mint),
			slog.Uint64("amount", remaining),
			slog.Uint64("value", value),
		)
		metrics.RecordLiquidation(pool.ID, string(domain.OutcomeDustSkipped), "", 0)
		result.Outcome = domain.OutcomeDustSkipped
		result.Detail = domain.ErrDustSkipped.Error()
		return result, nil
	}

	route, err := s.quote(ctx, mint, pool.ReferenceMint, remaining)
	if err != nil {
		return s.partialFailure(ctx, pool, req, mint, domain.OutcomeNoRoute, err), nil
	}
	ixs, err := s.agg.BuildInstructions(ctx, route, pool.Vault)
	if err != nil {
		return s.partialFailure(ctx, pool, req, mint, domain.OutcomeExecutionFailed, err), nil
	}

	key := fmt.Sprintf("liq:%s:%s:%d", requestID, mint, progress.AmountLiquidated)
	exec, err := s.ledger.Submit(ctx, key, ixs)
	if err != nil {
		return s.partialFailure(ctx, pool, req, mint, domain.OutcomeExecutionFailed, err), nil
	}

	out := route.MinOutAmount
	if d, ok := exec.Delta(pool.Vault, pool.ReferenceMint); ok && d > 0 {
		out = uint64(d)
	}
	step := domain.LiquidationStep{
		RequestID:   requestID,
		Mint:        mint,
		AmountIn:    remaining,
		AmountOut:   out,
		Route:       route.Kind(),
		OperationID: exec.OperationID,
	}
	return s.record(ctx, pool, step, allowed, start)
}

// quote asks for a direct route first and falls back to multi-hop.
func (s *WithdrawalService) quote(ctx context.Context, in, out string, amt uint64) (domain.Route, error) {
	req := domain.QuoteRequest{
		InputMint:   in,
		OutputMint:  out,
		Amount:      amt,
		SlippageBps: s.cfg.SlippageBps,
		DirectOnly:  true,
	}
	route, err := s.agg.Quote(ctx, req)
	if err == nil {
		return route, nil
	}
	if !errors.Is(err, domain.ErrNoRoute) {
		return domain.Route{}, err
	}
	req.DirectOnly = false
	return s.agg.Quote(ctx, req)
}

func (s *WithdrawalService) record(ctx context.Context, pool domain.Pool, step domain.LiquidationStep, cap uint64, start time.Time) (domain.LiquidationResult, error) {
	if _, err := s.withdrawals.RecordLiquidation(ctx, step, cap); err != nil {
		return domain.LiquidationResult{}, fmt.Errorf("withdrawal_service: record liquidation of %s: %w", step.Mint, err)
	}
	metrics.RecordLiquidation(pool.ID, string(domain.OutcomeSettled), string(step.Route), s.now().Sub(start).Seconds())

	fields := map[string]any{
		"request_id":   step.RequestID,
		"pool_id":      pool.ID,
		"mint":         step.Mint,
		"amount_in":    step.AmountIn,
		"amount_out":   step.AmountOut,
		"route":        step.Route,
		"operation_id": step.OperationID,
	}
	s.events.publish(ctx, domain.ChannelLiquidations, EventAssetLiquidated, fields)
	s.events.record(ctx, EventAssetLiquidated, fields)
	s.logger.InfoContext(ctx, "asset liquidated",
		slog.String("request_id", step.RequestID),
		slog.String("mint", step.Mint),
		slog.Uint64("amount_in", step.AmountIn),
		slog.Uint64("amount_out", step.AmountOut),
		slog.String("route", string(step.Route)),
	)
	return domain.LiquidationResult{
		Mint:      step.Mint,
		Outcome:   domain.OutcomeSettled,
		AmountIn:  step.AmountIn,
		AmountOut: step.AmountOut,
	}, nil
}

func (s *WithdrawalService) partialFailure(
	ctx context.Context,
	pool domain.Pool,
	req domain.WithdrawalRequest,
	mint string,
	outcome domain.LiquidationOutcome,
	cause error,
) domain.LiquidationResult {
	metrics.RecordLiquidation(pool.ID, string(outcome), "", 0)
	s.logger.WarnContext(ctx, "liquidation leg failed",
		slog.String("request_id", req.ID),
		slog.String("mint", mint),
		slog.String("outcome", string(outcome)),
		slog.String("error", cause.Error()),
	)
	s.events.publish(ctx, domain.ChannelLiquidations, EventLiquidationFailed, map[string]any{
		"request_id": req.ID,
		"pool_id":    pool.ID,
		"mint":       mint,
		"outcome":    outcome,
		"error":      cause.Error(),
	})
	return domain.LiquidationResult{Mint: mint, Outcome: outcome, Detail: cause.Error()}
}

// Finalize pays out the accumulated reference asset net of fees, burns the
// withdrawn shares and records the receipt. Finalizing a completed request
// returns its receipt with alreadyCompleted set.
func (s *WithdrawalService) Finalize(ctx context.Context, requestID string) (domain.Receipt, bool, error) {
	unlock, err := s.lock(ctx, "withdrawal:"+requestID+":finalize")
	if err != nil {
		return domain.Receipt{}, false, err
	}
	defer unlock()

	req, err := s.withdrawals.GetByID(ctx, requestID)
	if err != nil {
		return domain.Receipt{}, false, fmt.Errorf("withdrawal_service: get request %s: %w", requestID, err)
	}
	switch req.Status {
	case domain.WithdrawalCompleted:
		r, err := s.priorReceipt(ctx, req)
		return r, true, err
	case domain.WithdrawalFailed:
		return domain.Receipt{}, false, fmt.Errorf("withdrawal_service: finalize %s: %w", requestID, domain.ErrRequestFailed)
	}

	pool, err := s.pools.GetByID(ctx, req.PoolID)
	if err != nil {
		return domain.Receipt{}, false, fmt.Errorf("withdrawal_service: get pool %s: %w", req.PoolID, err)
	}

	if req.Settlement == nil {
		st, err := DecomposeFees(req.SolAccumulated, req.CostBasisSnapshot, FeeScheduleFor(pool))
		if err != nil {
			return domain.Receipt{}, false, fmt.Errorf("withdrawal_service: fees for %s: %w", requestID, err)
		}
		req, err = s.withdrawals.CommitSettlement(ctx, requestID, st)
		if err != nil {
			return domain.Receipt{}, false, fmt.Errorf("withdrawal_service: commit settlement %s: %w", requestID, err)
		}
		if req.Settlement == nil {
			return domain.Receipt{}, false, fmt.Errorf("withdrawal_service: commit settlement %s: request is %s: %w", requestID, req.Status, domain.ErrInvalidTransition)
		}
	}
	st := *req.Settlement

	finalizeRef := "payout:" + requestID
	if ixs := s.payoutInstructions(pool, req, st); len(ixs) > 0 {
		exec, err := s.ledger.Submit(ctx, finalizeRef, ixs)
		if err != nil {
			return domain.Receipt{}, false, fmt.Errorf("withdrawal_service: payout %s: %w", requestID, err)
		}
		finalizeRef = exec.OperationID
	}

	naturalKey := domain.ReceiptNaturalKey(req.PoolID, req.InvestorID, finalizeRef)
	receiptID := ReceiptID(naturalKey)
	err = s.withdrawals.Complete(ctx, domain.Completion{
		RequestID:         requestID,
		PoolID:            req.PoolID,
		InvestorID:        req.InvestorID,
		SharesBurned:      req.SharesToWithdraw,
		AssetsReleased:    st.Gross,
		NetPaid:           st.Net,
		CostBasisReleased: req.CostBasisSnapshot,
		FinalizeRef:       finalizeRef,
		ReceiptID:         receiptID,
		CompletedAt:       s.now().UTC(),
	})
	if err != nil && !errors.Is(err, domain.ErrAlreadyCompleted) {
		return domain.Receipt{}, false, fmt.Errorf("withdrawal_service: complete %s: %w", requestID, err)
	}

	steps, err := s.withdrawals.ListSteps(ctx, requestID)
	if err != nil {
		return domain.Receipt{}, false, fmt.Errorf("withdrawal_service: list steps %s: %w", requestID, err)
	}
	receipt, err := s.settlements.Record(ctx, domain.Receipt{
		ID:           receiptID,
		NaturalKey:   naturalKey,
		RequestID:    requestID,
		PoolID:       req.PoolID,
		InvestorID:   req.InvestorID,
		SharesBurned: req.SharesToWithdraw,
		FractionBps:  req.FractionBps,
		Settlement:   st,
		Liquidations: steps,
		FinalizeRef:  finalizeRef,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return domain.Receipt{}, false, fmt.Errorf("withdrawal_service: %w", err)
	}

	metrics.RecordWithdrawal(req.PoolID, string(domain.WithdrawalCompleted))
	metrics.RecordSettlement(req.PoolID, st.Net, st.OperatorShare, st.TreasuryShare, st.PlatformFee)
	s.events.publish(ctx, domain.ChannelWithdrawals, EventWithdrawalCompleted, map[string]any{
		"request_id": requestID,
		"pool_id":    req.PoolID,
		"receipt_id": receipt.ID,
		"net":        st.Net,
	})
	s.events.notify(ctx, EventWithdrawalCompleted, "Withdrawal completed", Summary(receipt, pool.ReferenceDecimals))
	s.logger.InfoContext(ctx, "withdrawal finalized",
		slog.String("request_id", requestID),
		slog.String("receipt_id", receipt.ID),
		slog.Uint64("gross", st.Gross),
		slog.Uint64("net", st.Net),
	)
	return receipt, false, nil
}

// payoutInstructions transfers net to the investor, the operator share to
// the operator and platform plus treasury share to the treasury.
func (s *WithdrawalService) payoutInstructions(pool domain.Pool, req domain.WithdrawalRequest, st domain.Settlement) []domain.Instruction {
	legs := []struct {
		to  string
		amt uint64
	}{
		{req.InvestorID, st.Net},
		{pool.Operator, st.OperatorShare},
		{pool.Treasury, st.TreasuryTotal()},
	}

	var ixs []domain.Instruction
	for _, leg := range legs {
		if leg.amt == 0 {
			continue
		}
		ixs = append(ixs,
			domain.EnsureTokenAccount{Payer: s.ledger.Authority(), Owner: leg.to, Mint: pool.ReferenceMint},
			domain.TokenTransfer{
				Mint:     pool.ReferenceMint,
				From:     pool.Vault,
				To:       leg.to,
				Amount:   leg.amt,
				Decimals: pool.ReferenceDecimals,
			},
		)
	}
	if len(ixs) == 0 {
		return nil
	}
	return append(ixs, domain.Memo{Text: "fundsettle:withdrawal:" + req.ID})
}

// priorReceipt returns the receipt of a completed request, recording it
// again when a crash left it unwritten.
func (s *WithdrawalService) priorReceipt(ctx context.Context, req domain.WithdrawalRequest) (domain.Receipt, error) {
	r, err := s.settlements.Get(ctx, req.ReceiptID)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Receipt{}, fmt.Errorf("withdrawal_service: %w", err)
	}
	if req.Settlement == nil {
		return domain.Receipt{}, fmt.Errorf("withdrawal_service: completed request %s has no settlement: %w", req.ID, domain.ErrNotFound)
	}

	steps, err := s.withdrawals.ListSteps(ctx, req.ID)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("withdrawal_service: list steps %s: %w", req.ID, err)
	}
	s.logger.WarnContext(ctx, "rebuilding missing receipt", slog.String("request_id", req.ID))
	return s.settlements.Record(ctx, domain.Receipt{
		ID:           req.ReceiptID,
		NaturalKey:   domain.ReceiptNaturalKey(req.PoolID, req.InvestorID, req.PayoutRef),
		RequestID:    req.ID,
		PoolID:       req.PoolID,
		InvestorID:   req.InvestorID,
		SharesBurned: req.SharesToWithdraw,
		FractionBps:  req.FractionBps,
		Settlement:   *req.Settlement,
		Liquidations: steps,
		FinalizeRef:  req.PayoutRef,
		CreatedAt:    req.UpdatedAt,
	})
}

// MarkReady moves a request with liquidation still open to
// ready_to_finalize.
func (s *WithdrawalService) MarkReady(ctx context.Context, requestID string) error {
	req, err := s.withdrawals.GetByID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("withdrawal_service: get request %s: %w", requestID, err)
	}
	err = s.withdrawals.Transition(ctx, requestID,
		[]domain.WithdrawalStatus{domain.WithdrawalInitiated, domain.WithdrawalLiquidating},
		domain.WithdrawalReadyToFinalize, "")
	if err != nil {
		return fmt.Errorf("withdrawal_service: mark %s ready: %w", requestID, err)
	}
	metrics.RecordWithdrawal(req.PoolID, string(domain.WithdrawalReadyToFinalize))
	s.events.publish(ctx, domain.ChannelWithdrawals, EventWithdrawalReady, map[string]any{
		"request_id":      requestID,
		"pool_id":         req.PoolID,
		"sol_accumulated": req.SolAccumulated,
	})
	return nil
}

// Fail moves an active request to failed. Nothing is burned; the pair may
// initiate again afterwards.
func (s *WithdrawalService) Fail(ctx context.Context, requestID, reason string) error {
	req, err := s.withdrawals.GetByID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("withdrawal_service: get request %s: %w", requestID, err)
	}
	if err := s.withdrawals.Transition(ctx, requestID, domain.ActiveStatuses, domain.WithdrawalFailed, reason); err != nil {
		return fmt.Errorf("withdrawal_service: fail %s: %w", requestID, err)
	}
	metrics.RecordWithdrawal(req.PoolID, string(domain.WithdrawalFailed))

	fields := map[string]any{
		"request_id":  requestID,
		"pool_id":     req.PoolID,
		"investor_id": req.InvestorID,
		"reason":      reason,
	}
	s.events.publish(ctx, domain.ChannelWithdrawals, EventWithdrawalFailed, fields)
	s.events.record(ctx, EventWithdrawalFailed, fields)
	s.events.notify(ctx, EventWithdrawalFailed, "Withdrawal failed",
		fmt.Sprintf("pool %s investor %s request %s: %s", req.PoolID, req.InvestorID, requestID, reason))
	s.logger.WarnContext(ctx, "withdrawal failed",
		slog.String("request_id", requestID),
		slog.String("reason", reason),
	)
	return nil
}

// Get returns a request together with its per-asset progress.
func (s *WithdrawalService) Get(ctx context.Context, requestID string) (domain.WithdrawalRequest, []domain.AssetProgress, error) {
	req, err := s.withdrawals.GetByID(ctx, requestID)
	if err != nil {
		return domain.WithdrawalRequest{}, nil, fmt.Errorf("withdrawal_service: get request %s: %w", requestID, err)
	}
	progress, err := s.withdrawals.ListProgress(ctx, requestID)
	if err != nil {
		return domain.WithdrawalRequest{}, nil, fmt.Errorf("withdrawal_service: list progress %s: %w", requestID, err)
	}
	return req, progress, nil
}

// ListActive returns the requests that are not yet completed or failed,
// oldest first.
func (s *WithdrawalService) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.WithdrawalRequest, error) {
	reqs, err := s.withdrawals.ListByStatus(ctx, domain.ActiveStatuses, opts)
	if err != nil {
		return nil, fmt.Errorf("withdrawal_service: list active: %w", err)
	}
	return reqs, nil
}
