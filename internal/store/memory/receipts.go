package memory

import (
	"context"
	"time"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// ReceiptStore implements domain.ReceiptStore as an append-only slice.
type ReceiptStore struct {
	db *DB
}

// AppendIfAbsent inserts r unless its natural key or id is already stored.
func (s *ReceiptStore) AppendIfAbsent(_ context.Context, r domain.Receipt) (domain.Receipt, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if idx, ok := s.db.receiptKeys[r.NaturalKey]; ok {
		return cloneReceipt(s.db.receipts[idx]), false, nil
	}
	for _, existing := range s.db.receipts {
		if existing.ID == r.ID {
			return cloneReceipt(existing), false, nil
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.db.now()
	}
	s.db.receipts = append(s.db.receipts, cloneReceipt(r))
	s.db.receiptKeys[r.NaturalKey] = len(s.db.receipts) - 1
	return cloneReceipt(r), true, nil
}

// GetByID returns a receipt by id.
func (s *ReceiptStore) GetByID(_ context.Context, id string) (domain.Receipt, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, r := range s.db.receipts {
		if r.ID == id {
			return cloneReceipt(r), nil
		}
	}
	return domain.Receipt{}, domain.ErrNotFound
}

// ListByInvestor returns an investor's receipts, newest first.
func (s *ReceiptStore) ListByInvestor(_ context.Context, investorID string, opts domain.ListOpts) ([]domain.Receipt, error) {
	return s.filter(opts, func(r domain.Receipt) bool { return r.InvestorID == investorID }), nil
}

// ListByPool returns a pool's receipts, newest first.
func (s *ReceiptStore) ListByPool(_ context.Context, poolID string, opts domain.ListOpts) ([]domain.Receipt, error) {
	return s.filter(opts, func(r domain.Receipt) bool { return r.PoolID == poolID }), nil
}

// ListBetween returns receipts created in [since, until), oldest first.
func (s *ReceiptStore) ListBetween(_ context.Context, since, until time.Time) ([]domain.Receipt, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []domain.Receipt
	for _, r := range s.db.receipts {
		if !r.CreatedAt.Before(since) && r.CreatedAt.Before(until) {
			out = append(out, cloneReceipt(r))
		}
	}
	return out, nil
}

func (s *ReceiptStore) filter(opts domain.ListOpts, keep func(domain.Receipt) bool) []domain.Receipt {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []domain.Receipt
	for i := len(s.db.receipts) - 1; i >= 0; i-- {
		r := s.db.receipts[i]
		if keep(r) && inRange(r.CreatedAt, opts) {
			out = append(out, cloneReceipt(r))
		}
	}
	return paginate(out, opts)
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	db *DB
}

// Log appends an audit entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.audit = append(s.db.audit, domain.AuditEntry{
		ID:        int64(len(s.db.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.db.now(),
	})
	return nil
}

// List returns audit entries, newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []domain.AuditEntry
	for i := len(s.db.audit) - 1; i >= 0; i-- {
		if e := s.db.audit[i]; inRange(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	return paginate(out, opts), nil
}

// ListBefore returns entries created before the cutoff, oldest first.
func (s *AuditStore) ListBefore(_ context.Context, before time.Time) ([]domain.AuditEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []domain.AuditEntry
	for _, e := range s.db.audit {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.ReceiptStore = (*ReceiptStore)(nil)
	_ domain.AuditStore   = (*AuditStore)(nil)
)
