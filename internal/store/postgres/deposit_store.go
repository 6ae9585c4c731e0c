package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// DepositStore implements domain.DepositStore using PostgreSQL.
type DepositStore struct {
	pool *pgxpool.Pool
}

// NewDepositStore creates a new DepositStore backed by the given connection pool.
func NewDepositStore(pool *pgxpool.Pool) *DepositStore {
	return &DepositStore{pool: pool}
}

const depositSelectCols = `id, pool_id, investor_id, amount, shares_minted,
	nav_before, COALESCE(funding_ref, ''), created_at`

func scanDeposit(row pgx.Row) (domain.DepositRecord, error) {
	var d domain.DepositRecord
	err := row.Scan(&d.ID, &d.PoolID, &d.InvestorID, &d.Amount, &d.SharesMinted,
		&d.NAVBefore, &d.FundingRef, &d.CreatedAt)
	return d, err
}

// Apply mints shares for a deposit. The pool row is locked for the duration
// of the transaction so mint sees a total share count no concurrent deposit
// or withdrawal can change underneath it.
func (s *DepositStore) Apply(
	ctx context.Context,
	intent domain.DepositIntent,
	mint func(pool domain.Pool) (uint64, error),
) (domain.DepositRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.DepositRecord{}, fmt.Errorf("postgres: begin deposit: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if intent.FundingRef != "" {
		existing, err := scanDeposit(tx.QueryRow(ctx,
			`SELECT `+depositSelectCols+` FROM deposits WHERE pool_id = $1 AND funding_ref = $2`,
			intent.PoolID, intent.FundingRef))
		if err == nil {
			return existing, domain.ErrAlreadyExists
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return domain.DepositRecord{}, fmt.Errorf("postgres: lookup deposit %s: %w", intent.FundingRef, err)
		}
	}

	pool, err := scanPool(tx.QueryRow(ctx,
		`SELECT `+poolSelectCols+` FROM pools WHERE id = $1 FOR UPDATE`, intent.PoolID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DepositRecord{}, domain.ErrNotFound
		}
		return domain.DepositRecord{}, fmt.Errorf("postgres: lock pool %s: %w", intent.PoolID, err)
	}

	shares, err := mint(pool)
	if err != nil {
		return domain.DepositRecord{}, err
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE pools SET
			total_shares = total_shares + $2,
			total_assets = $3,
			updated_at   = $4
		WHERE id = $1`,
		intent.PoolID, shares, intent.NAVBefore+intent.Amount, now)
	if err != nil {
		return domain.DepositRecord{}, fmt.Errorf("postgres: mint shares in pool %s: %w", intent.PoolID, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO positions (
			pool_id, investor_id, shares, total_deposited, cost_basis,
			first_activity_at, last_activity_at
		) VALUES ($1, $2, $3, $4, $4, $5, $5)
		ON CONFLICT (pool_id, investor_id) DO UPDATE SET
			shares           = positions.shares + EXCLUDED.shares,
			total_deposited  = positions.total_deposited + EXCLUDED.total_deposited,
			cost_basis       = positions.cost_basis + EXCLUDED.cost_basis,
			last_activity_at = EXCLUDED.last_activity_at`,
		intent.PoolID, intent.InvestorID, shares, intent.Amount, now)
	if err != nil {
		return domain.DepositRecord{}, fmt.Errorf("postgres: upsert position %s/%s: %w", intent.PoolID, intent.InvestorID, err)
	}

	rec := domain.DepositRecord{
		ID:           uuid.New().String(),
		PoolID:       intent.PoolID,
		InvestorID:   intent.InvestorID,
		Amount:       intent.Amount,
		SharesMinted: shares,
		NAVBefore:    intent.NAVBefore,
		FundingRef:   intent.FundingRef,
		CreatedAt:    now,
	}
	var fundingRef *string
	if rec.FundingRef != "" {
		fundingRef = &rec.FundingRef
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO deposits (id, pool_id, investor_id, amount, shares_minted, nav_before, funding_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.PoolID, rec.InvestorID, rec.Amount, rec.SharesMinted, rec.NAVBefore, fundingRef, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.DepositRecord{}, domain.ErrAlreadyExists
		}
		return domain.DepositRecord{}, fmt.Errorf("postgres: insert deposit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.DepositRecord{}, fmt.Errorf("postgres: commit deposit: %w", err)
	}
	return rec, nil
}

// ListByInvestor returns an investor's deposits into a pool, newest first.
func (s *DepositStore) ListByInvestor(ctx context.Context, poolID, investorID string, opts domain.ListOpts) ([]domain.DepositRecord, error) {
	query := `SELECT ` + depositSelectCols + ` FROM deposits WHERE pool_id = $1 AND investor_id = $2`
	args := []any{poolID, investorID}
	query, args = appendListOpts(query, args, opts, "created_at")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list deposits %s/%s: %w", poolID, investorID, err)
	}
	deposits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DepositRecord, error) {
		return scanDeposit(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list deposits %s/%s: %w", poolID, investorID, err)
	}
	return deposits, nil
}

// appendListOpts adds time filters, newest-first ordering and pagination to
// a query whose WHERE clause already has len(args) placeholders.
func appendListOpts(query string, args []any, opts domain.ListOpts, timeCol string) (string, []any) {
	argIdx := len(args) + 1
	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY %s DESC", timeCol)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

// Compile-time interface check.
var _ domain.DepositStore = (*DepositStore)(nil)
