package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// ReceiptStore implements domain.ReceiptStore using PostgreSQL. Rows are
// never updated or deleted.
type ReceiptStore struct {
	pool *pgxpool.Pool
}

// NewReceiptStore creates a new ReceiptStore backed by the given connection pool.
func NewReceiptStore(pool *pgxpool.Pool) *ReceiptStore {
	return &ReceiptStore{pool: pool}
}

const receiptSelectCols = `id, natural_key, request_id, pool_id, investor_id,
	shares_burned, fraction_bps, settlement, liquidations, finalize_ref, created_at`

func scanReceipt(row pgx.Row) (domain.Receipt, error) {
	var (
		r               domain.Receipt
		settlementJSON  []byte
		liquidationJSON []byte
	)
	err := row.Scan(&r.ID, &r.NaturalKey, &r.RequestID, &r.PoolID, &r.InvestorID,
		&r.SharesBurned, &r.FractionBps, &settlementJSON, &liquidationJSON, &r.FinalizeRef, &r.CreatedAt)
	if err != nil {
		return domain.Receipt{}, err
	}
	if err := json.Unmarshal(settlementJSON, &r.Settlement); err != nil {
		return domain.Receipt{}, fmt.Errorf("unmarshal receipt settlement: %w", err)
	}
	if len(liquidationJSON) > 0 {
		if err := json.Unmarshal(liquidationJSON, &r.Liquidations); err != nil {
			return domain.Receipt{}, fmt.Errorf("unmarshal receipt liquidations: %w", err)
		}
	}
	return r, nil
}

// AppendIfAbsent inserts r unless a receipt with the same natural key
// exists, in which case the stored receipt is returned unchanged.
func (s *ReceiptStore) AppendIfAbsent(ctx context.Context, r domain.Receipt) (domain.Receipt, bool, error) {
	settlementJSON, err := json.Marshal(r.Settlement)
	if err != nil {
		return domain.Receipt{}, false, fmt.Errorf("postgres: marshal receipt settlement: %w", err)
	}
	liquidations := r.Liquidations
	if liquidations == nil {
		liquidations = []domain.LiquidationStep{}
	}
	liquidationJSON, err := json.Marshal(liquidations)
	if err != nil {
		return domain.Receipt{}, false, fmt.Errorf("postgres: marshal receipt liquidations: %w", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO settlement_receipts (
			id, natural_key, request_id, pool_id, investor_id, shares_burned,
			fraction_bps, settlement, liquidations, finalize_ref, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT DO NOTHING`,
		r.ID, r.NaturalKey, r.RequestID, r.PoolID, r.InvestorID, r.SharesBurned,
		r.FractionBps, settlementJSON, liquidationJSON, r.FinalizeRef, r.CreatedAt)
	if err != nil {
		return domain.Receipt{}, false, fmt.Errorf("postgres: append receipt %s: %w", r.NaturalKey, err)
	}
	if tag.RowsAffected() == 1 {
		return r, true, nil
	}

	stored, err := scanReceipt(s.pool.QueryRow(ctx,
		`SELECT `+receiptSelectCols+` FROM settlement_receipts WHERE natural_key = $1 OR id = $2`,
		r.NaturalKey, r.ID))
	if err != nil {
		return domain.Receipt{}, false, fmt.Errorf("postgres: load receipt %s: %w", r.NaturalKey, err)
	}
	return stored, false, nil
}

// GetByID returns a receipt by id.
func (s *ReceiptStore) GetByID(ctx context.Context, id string) (domain.Receipt, error) {
	r, err := scanReceipt(s.pool.QueryRow(ctx,
		`SELECT `+receiptSelectCols+` FROM settlement_receipts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Receipt{}, domain.ErrNotFound
		}
		return domain.Receipt{}, fmt.Errorf("postgres: get receipt %s: %w", id, err)
	}
	return r, nil
}

// ListByInvestor returns an investor's receipts across pools, newest first.
func (s *ReceiptStore) ListByInvestor(ctx context.Context, investorID string, opts domain.ListOpts) ([]domain.Receipt, error) {
	query, args := appendListOpts(
		`SELECT `+receiptSelectCols+` FROM settlement_receipts WHERE investor_id = $1`,
		[]any{investorID}, opts, "created_at")
	return s.list(ctx, query, args...)
}

// ListByPool returns a pool's receipts, newest first.
func (s *ReceiptStore) ListByPool(ctx context.Context, poolID string, opts domain.ListOpts) ([]domain.Receipt, error) {
	query, args := appendListOpts(
		`SELECT `+receiptSelectCols+` FROM settlement_receipts WHERE pool_id = $1`,
		[]any{poolID}, opts, "created_at")
	return s.list(ctx, query, args...)
}

// ListBetween returns receipts created in [since, until), oldest first.
// Used by the archiver.
func (s *ReceiptStore) ListBetween(ctx context.Context, since, until time.Time) ([]domain.Receipt, error) {
	return s.list(ctx,
		`SELECT `+receiptSelectCols+` FROM settlement_receipts
		WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at ASC`,
		since, until)
}

func (s *ReceiptStore) list(ctx context.Context, query string, args ...any) ([]domain.Receipt, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list receipts: %w", err)
	}
	receipts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Receipt, error) {
		return scanReceipt(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list receipts: %w", err)
	}
	return receipts, nil
}

// Compile-time interface check.
var _ domain.ReceiptStore = (*ReceiptStore)(nil)
