package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// PoolStore implements domain.PoolStore.
type PoolStore struct {
	db *DB
}

// Create inserts a pool. ErrAlreadyExists if the id is taken.
func (s *PoolStore) Create(_ context.Context, p domain.Pool) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.pools[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	now := s.db.now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.db.pools[p.ID] = clonePool(p)
	return nil
}

// GetByID returns a pool.
func (s *PoolStore) GetByID(_ context.Context, id string) (domain.Pool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	p, ok := s.db.pools[id]
	if !ok {
		return domain.Pool{}, domain.ErrNotFound
	}
	return clonePool(p), nil
}

// List returns every pool ordered by id.
func (s *PoolStore) List(_ context.Context) ([]domain.Pool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make([]domain.Pool, 0, len(s.db.pools))
	for _, p := range s.db.pools {
		out = append(out, clonePool(p))
	}
	slices.SortFunc(out, func(a, b domain.Pool) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// UpdateTotalAssets records the latest valuation of a pool.
func (s *PoolStore) UpdateTotalAssets(_ context.Context, id string, totalAssets uint64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	p, ok := s.db.pools[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.TotalAssets = totalAssets
	p.UpdatedAt = s.db.now()
	s.db.pools[id] = p
	return nil
}

// PositionStore implements domain.PositionStore.
type PositionStore struct {
	db *DB
}

// Get returns the position of investorID in poolID.
func (s *PositionStore) Get(_ context.Context, poolID, investorID string) (domain.Position, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	p, ok := s.db.positions[positionKey{poolID, investorID}]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

// ListByPool returns all positions in a pool, largest holders first.
func (s *PositionStore) ListByPool(_ context.Context, poolID string) ([]domain.Position, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []domain.Position
	for k, p := range s.db.positions {
		if k.poolID == poolID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Position) int {
		if a.Shares != b.Shares {
			if a.Shares > b.Shares {
				return -1
			}
			return 1
		}
		return strings.Compare(a.InvestorID, b.InvestorID)
	})
	return out, nil
}

// DepositStore implements domain.DepositStore.
type DepositStore struct {
	db *DB
}

// Apply mints shares for a deposit while holding the DB lock, so mint sees
// the same pool state the commit updates.
func (s *DepositStore) Apply(
	_ context.Context,
	intent domain.DepositIntent,
	mint func(pool domain.Pool) (uint64, error),
) (domain.DepositRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	refKey := intent.PoolID + ":" + intent.FundingRef
	if intent.FundingRef != "" {
		if idx, ok := s.db.fundingRefs[refKey]; ok {
			return s.db.deposits[idx], domain.ErrAlreadyExists
		}
	}

	pool, ok := s.db.pools[intent.PoolID]
	if !ok {
		return domain.DepositRecord{}, domain.ErrNotFound
	}
	shares, err := mint(clonePool(pool))
	if err != nil {
		return domain.DepositRecord{}, err
	}

	now := s.db.now()
	pool.TotalShares += shares
	pool.TotalAssets = intent.NAVBefore + intent.Amount
	pool.UpdatedAt = now
	s.db.pools[pool.ID] = pool

	key := positionKey{intent.PoolID, intent.InvestorID}
	pos, ok := s.db.positions[key]
	if !ok {
		pos = domain.Position{PoolID: intent.PoolID, InvestorID: intent.InvestorID, FirstActivityAt: now}
	}
	pos.Shares += shares
	pos.TotalDeposited += intent.Amount
	pos.CostBasis += intent.Amount
	pos.LastActivityAt = now
	s.db.positions[key] = pos

	rec := domain.DepositRecord{
		ID:           newID(),
		PoolID:       intent.PoolID,
		InvestorID:   intent.InvestorID,
		Amount:       intent.Amount,
		SharesMinted: shares,
		NAVBefore:    intent.NAVBefore,
		FundingRef:   intent.FundingRef,
		CreatedAt:    now,
	}
	s.db.deposits = append(s.db.deposits, rec)
	if intent.FundingRef != "" {
		s.db.fundingRefs[refKey] = len(s.db.deposits) - 1
	}
	return rec, nil
}

// ListByInvestor returns an investor's deposits into a pool, newest first.
func (s *DepositStore) ListByInvestor(_ context.Context, poolID, investorID string, opts domain.ListOpts) ([]domain.DepositRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []domain.DepositRecord
	for i := len(s.db.deposits) - 1; i >= 0; i-- {
		d := s.db.deposits[i]
		if d.PoolID == poolID && d.InvestorID == investorID && inRange(d.CreatedAt, opts) {
			out = append(out, d)
		}
	}
	return paginate(out, opts), nil
}

// Compile-time interface checks.
var (
	_ domain.PoolStore     = (*PoolStore)(nil)
	_ domain.PositionStore = (*PositionStore)(nil)
	_ domain.DepositStore  = (*DepositStore)(nil)
)
