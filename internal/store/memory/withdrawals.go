package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// WithdrawalStore implements domain.WithdrawalStore.
type WithdrawalStore struct {
	db *DB
}

// Create inserts a request. ErrConcurrentRequest when the pair already has
// an active request.
func (s *WithdrawalStore) Create(_ context.Context, r domain.WithdrawalRequest) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.requests[r.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if r.Status != domain.WithdrawalCompleted && r.Status != domain.WithdrawalFailed {
		if _, ok := s.db.activeLocked(r.PoolID, r.InvestorID); ok {
			return domain.ErrConcurrentRequest
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.db.now()
	}
	r.UpdatedAt = r.CreatedAt
	s.db.requests[r.ID] = cloneRequest(r)
	return nil
}

func (db *DB) activeLocked(poolID, investorID string) (domain.WithdrawalRequest, bool) {
	for _, r := range db.requests {
		if r.PoolID == poolID && r.InvestorID == investorID && !r.Status.Terminal() {
			return r, true
		}
	}
	return domain.WithdrawalRequest{}, false
}

// GetByID returns a request by id.
func (s *WithdrawalStore) GetByID(_ context.Context, id string) (domain.WithdrawalRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	r, ok := s.db.requests[id]
	if !ok {
		return domain.WithdrawalRequest{}, domain.ErrNotFound
	}
	return cloneRequest(r), nil
}

// GetActive returns the non-terminal request for a (pool, investor) pair.
func (s *WithdrawalStore) GetActive(_ context.Context, poolID, investorID string) (domain.WithdrawalRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	r, ok := s.db.activeLocked(poolID, investorID)
	if !ok {
		return domain.WithdrawalRequest{}, domain.ErrNotFound
	}
	return cloneRequest(r), nil
}

// ListByStatus returns requests in any of the given statuses, oldest first.
func (s *WithdrawalStore) ListByStatus(_ context.Context, statuses []domain.WithdrawalStatus, opts domain.ListOpts) ([]domain.WithdrawalRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []domain.WithdrawalRequest
	for _, r := range s.db.requests {
		if slices.Contains(statuses, r.Status) && inRange(r.CreatedAt, opts) {
			out = append(out, cloneRequest(r))
		}
	}
	slices.SortFunc(out, func(a, b domain.WithdrawalRequest) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return paginate(out, opts), nil
}

// Transition moves a request from one of `from` to `to`.
func (s *WithdrawalStore) Transition(_ context.Context, id string, from []domain.WithdrawalStatus, to domain.WithdrawalStatus, reason string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	r, ok := s.db.requests[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !slices.Contains(from, r.Status) {
		return domain.ErrInvalidTransition
	}
	r.Status = to
	if reason != "" {
		r.FailureReason = reason
	}
	r.UpdatedAt = s.db.now()
	s.db.requests[id] = r
	return nil
}

// IncrementAttempts bumps the liquidation attempt counter.
func (s *WithdrawalStore) IncrementAttempts(_ context.Context, id string) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	r, ok := s.db.requests[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	r.Attempts++
	r.UpdatedAt = s.db.now()
	s.db.requests[id] = r
	return r.Attempts, nil
}

// EnsureProgress inserts the progress row once and returns the stored row.
func (s *WithdrawalStore) EnsureProgress(_ context.Context, p domain.AssetProgress) (domain.AssetProgress, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	key := progressKey{p.RequestID, p.Mint}
	if stored, ok := s.db.progress[key]; ok {
		return stored, nil
	}
	if _, ok := s.db.requests[p.RequestID]; !ok {
		return domain.AssetProgress{}, domain.ErrNotFound
	}
	now := s.db.now()
	stored := domain.AssetProgress{
		RequestID:       p.RequestID,
		Mint:            p.Mint,
		BalanceObserved: p.BalanceObserved,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.db.progress[key] = stored
	return stored, nil
}

// ListProgress returns all progress rows of a request ordered by mint.
func (s *WithdrawalStore) ListProgress(_ context.Context, requestID string) ([]domain.AssetProgress, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []domain.AssetProgress
	for k, p := range s.db.progress {
		if k.requestID == requestID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.AssetProgress) int { return strings.Compare(a.Mint, b.Mint) })
	return out, nil
}

// RecordLiquidation advances progress, the request accumulator and the step
// log together.
func (s *WithdrawalStore) RecordLiquidation(_ context.Context, step domain.LiquidationStep, cap uint64) (domain.WithdrawalRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	key := progressKey{step.RequestID, step.Mint}
	p, ok := s.db.progress[key]
	if !ok {
		return domain.WithdrawalRequest{}, domain.ErrCapExceeded
	}
	if step.AmountIn > cap || p.AmountLiquidated > cap-step.AmountIn {
		return domain.WithdrawalRequest{}, domain.ErrCapExceeded
	}
	r, ok := s.db.requests[step.RequestID]
	if !ok {
		return domain.WithdrawalRequest{}, domain.ErrNotFound
	}
	if !r.Status.CanLiquidate() || r.Settlement != nil {
		return domain.WithdrawalRequest{}, domain.ErrInvalidTransition
	}

	now := s.db.now()
	p.AmountLiquidated += step.AmountIn
	p.AmountOut += step.AmountOut
	p.UpdatedAt = now
	s.db.progress[key] = p

	r.SolAccumulated += step.AmountOut
	r.Status = domain.WithdrawalLiquidating
	r.UpdatedAt = now
	s.db.requests[r.ID] = r

	if step.CreatedAt.IsZero() {
		step.CreatedAt = now
	}
	s.db.steps[r.ID] = append(s.db.steps[r.ID], step)
	return cloneRequest(r), nil
}

// ListSteps returns the executed legs of a request in execution order.
func (s *WithdrawalStore) ListSteps(_ context.Context, requestID string) ([]domain.LiquidationStep, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return append([]domain.LiquidationStep(nil), s.db.steps[requestID]...), nil
}

// CommitSettlement stores st if the request has none yet, moves it to
// ready_to_finalize so no further leg is recorded, and returns the request
// with whichever settlement is stored.
func (s *WithdrawalStore) CommitSettlement(_ context.Context, id string, st domain.Settlement) (domain.WithdrawalRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	r, ok := s.db.requests[id]
	if !ok {
		return domain.WithdrawalRequest{}, domain.ErrNotFound
	}
	if r.Settlement == nil && !r.Status.Terminal() {
		r.Settlement = &st
		r.Status = domain.WithdrawalReadyToFinalize
		r.UpdatedAt = s.db.now()
		s.db.requests[id] = r
	}
	return cloneRequest(r), nil
}

// Complete burns shares, updates pool and position totals, and marks the
// request completed. Nothing changes unless every check passes.
func (s *WithdrawalStore) Complete(_ context.Context, c domain.Completion) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	r, ok := s.db.requests[c.RequestID]
	if !ok {
		return domain.ErrNotFound
	}
	switch {
	case r.Status == domain.WithdrawalCompleted:
		return domain.ErrAlreadyCompleted
	case r.Status.Terminal():
		return domain.ErrInvalidTransition
	}

	posKey := positionKey{c.PoolID, c.InvestorID}
	pos, ok := s.db.positions[posKey]
	if !ok || pos.Shares < c.SharesBurned {
		return domain.ErrInvalidShares
	}
	pool, ok := s.db.pools[c.PoolID]
	if !ok || pool.TotalShares < c.SharesBurned {
		return domain.ErrInvalidShares
	}

	at := c.CompletedAt
	if at.IsZero() {
		at = s.db.now()
	}

	pos.Shares -= c.SharesBurned
	pos.TotalWithdrawn += c.NetPaid
	pos.CostBasis -= min(pos.CostBasis, c.CostBasisReleased)
	pos.LastActivityAt = at
	s.db.positions[posKey] = pos

	pool.TotalShares -= c.SharesBurned
	pool.TotalAssets -= min(pool.TotalAssets, c.AssetsReleased)
	pool.UpdatedAt = at
	s.db.pools[pool.ID] = pool

	r.Status = domain.WithdrawalCompleted
	r.PayoutRef = c.FinalizeRef
	r.ReceiptID = c.ReceiptID
	r.UpdatedAt = at
	s.db.requests[r.ID] = r
	return nil
}

// Compile-time interface check.
var _ domain.WithdrawalStore = (*WithdrawalStore)(nil)
