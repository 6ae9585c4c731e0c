package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

const activeRequestIndex = "withdrawal_requests_active_idx"

// WithdrawalStore implements domain.WithdrawalStore using PostgreSQL. Every
// state change is a guarded UPDATE so concurrent workers cannot skip a
// status or push a liquidation past its cap.
type WithdrawalStore struct {
	pool *pgxpool.Pool
}

// NewWithdrawalStore creates a new WithdrawalStore backed by the given connection pool.
func NewWithdrawalStore(pool *pgxpool.Pool) *WithdrawalStore {
	return &WithdrawalStore{pool: pool}
}

const withdrawalSelectCols = `id, address, pool_id, investor_id, shares_to_withdraw,
	fraction_bps, total_shares_snapshot, position_shares_snapshot,
	cost_basis_snapshot, balance_snapshot, status, sol_accumulated, attempts,
	settlement, payout_ref, receipt_id, failure_reason, created_at, updated_at`

func scanWithdrawal(row pgx.Row) (domain.WithdrawalRequest, error) {
	var (
		r              domain.WithdrawalRequest
		status         string
		snapshotJSON   []byte
		settlementJSON []byte
	)
	err := row.Scan(
		&r.ID, &r.Address, &r.PoolID, &r.InvestorID, &r.SharesToWithdraw,
		&r.FractionBps, &r.TotalSharesSnapshot, &r.PositionSharesSnapshot,
		&r.CostBasisSnapshot, &snapshotJSON, &status, &r.SolAccumulated, &r.Attempts,
		&settlementJSON, &r.PayoutRef, &r.ReceiptID, &r.FailureReason, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}
	r.Status = domain.WithdrawalStatus(status)

	if len(snapshotJSON) > 0 {
		if err := json.Unmarshal(snapshotJSON, &r.BalanceSnapshot); err != nil {
			return domain.WithdrawalRequest{}, fmt.Errorf("unmarshal balance snapshot: %w", err)
		}
	}
	if len(settlementJSON) > 0 {
		var s domain.Settlement
		if err := json.Unmarshal(settlementJSON, &s); err != nil {
			return domain.WithdrawalRequest{}, fmt.Errorf("unmarshal settlement: %w", err)
		}
		r.Settlement = &s
	}
	return r, nil
}

func statusStrings(statuses []domain.WithdrawalStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Create inserts a new request. The partial unique index on active requests
// turns a second concurrent request into domain.ErrConcurrentRequest.
func (s *WithdrawalStore) Create(ctx context.Context, r domain.WithdrawalRequest) error {
	snapshotJSON, err := json.Marshal(r.BalanceSnapshot)
	if err != nil {
		return fmt.Errorf("postgres: marshal balance snapshot: %w", err)
	}

	const query = `
		INSERT INTO withdrawal_requests (
			id, address, pool_id, investor_id, shares_to_withdraw, fraction_bps,
			total_shares_snapshot, position_shares_snapshot, cost_basis_snapshot,
			balance_snapshot, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`
	_, err = s.pool.Exec(ctx, query,
		r.ID, r.Address, r.PoolID, r.InvestorID, r.SharesToWithdraw, r.FractionBps,
		r.TotalSharesSnapshot, r.PositionSharesSnapshot, r.CostBasisSnapshot,
		snapshotJSON, string(r.Status), r.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == activeRequestIndex {
				return domain.ErrConcurrentRequest
			}
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create withdrawal %s: %w", r.ID, err)
	}
	return nil
}

// GetByID returns a request by id.
func (s *WithdrawalStore) GetByID(ctx context.Context, id string) (domain.WithdrawalRequest, error) {
	return s.getOne(ctx, s.pool, `SELECT `+withdrawalSelectCols+` FROM withdrawal_requests WHERE id = $1`, id)
}

// GetActive returns the non-terminal request for a (pool, investor) pair.
func (s *WithdrawalStore) GetActive(ctx context.Context, poolID, investorID string) (domain.WithdrawalRequest, error) {
	return s.getOne(ctx, s.pool,
		`SELECT `+withdrawalSelectCols+` FROM withdrawal_requests
		WHERE pool_id = $1 AND investor_id = $2 AND status = ANY($3)`,
		poolID, investorID, statusStrings(domain.ActiveStatuses))
}

func (s *WithdrawalStore) getOne(ctx context.Context, q querier, query string, args ...any) (domain.WithdrawalRequest, error) {
	r, err := scanWithdrawal(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WithdrawalRequest{}, domain.ErrNotFound
		}
		return domain.WithdrawalRequest{}, fmt.Errorf("postgres: get withdrawal: %w", err)
	}
	return r, nil
}

// ListByStatus returns requests in any of the given statuses, oldest first.
func (s *WithdrawalStore) ListByStatus(ctx context.Context, statuses []domain.WithdrawalStatus, opts domain.ListOpts) ([]domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalSelectCols + ` FROM withdrawal_requests WHERE status = ANY($1)`
	args := []any{statusStrings(statuses)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY created_at ASC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list withdrawals: %w", err)
	}
	reqs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.WithdrawalRequest, error) {
		return scanWithdrawal(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list withdrawals: %w", err)
	}
	return reqs, nil
}

// Transition moves a request from one of `from` to `to`. A non-empty reason
// is stored as the failure reason.
func (s *WithdrawalStore) Transition(ctx context.Context, id string, from []domain.WithdrawalStatus, to domain.WithdrawalStatus, reason string) error {
	const query = `
		UPDATE withdrawal_requests SET
			status         = $2,
			failure_reason = CASE WHEN $3 <> '' THEN $3 ELSE failure_reason END,
			updated_at     = NOW()
		WHERE id = $1 AND status = ANY($4)`
	tag, err := s.pool.Exec(ctx, query, id, string(to), reason, statusStrings(from))
	if err != nil {
		return fmt.Errorf("postgres: transition withdrawal %s to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

// IncrementAttempts bumps the liquidation attempt counter.
func (s *WithdrawalStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx,
		`UPDATE withdrawal_requests SET attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 RETURNING attempts`, id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: increment attempts %s: %w", id, err)
	}
	return attempts, nil
}

const progressSelectCols = `request_id, mint, balance_observed, amount_liquidated,
	amount_out, created_at, updated_at`

func scanProgress(row pgx.Row) (domain.AssetProgress, error) {
	var p domain.AssetProgress
	err := row.Scan(&p.RequestID, &p.Mint, &p.BalanceObserved, &p.AmountLiquidated,
		&p.AmountOut, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// EnsureProgress inserts the progress row once; later calls return the
// stored row untouched.
func (s *WithdrawalStore) EnsureProgress(ctx context.Context, p domain.AssetProgress) (domain.AssetProgress, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO withdrawal_progress (request_id, mint, balance_observed)
		VALUES ($1, $2, $3)
		ON CONFLICT (request_id, mint) DO NOTHING`,
		p.RequestID, p.Mint, p.BalanceObserved)
	if err != nil {
		return domain.AssetProgress{}, fmt.Errorf("postgres: ensure progress %s/%s: %w", p.RequestID, p.Mint, err)
	}

	stored, err := scanProgress(s.pool.QueryRow(ctx,
		`SELECT `+progressSelectCols+` FROM withdrawal_progress WHERE request_id = $1 AND mint = $2`,
		p.RequestID, p.Mint))
	if err != nil {
		return domain.AssetProgress{}, fmt.Errorf("postgres: load progress %s/%s: %w", p.RequestID, p.Mint, err)
	}
	return stored, nil
}

// ListProgress returns all progress rows of a request ordered by mint.
func (s *WithdrawalStore) ListProgress(ctx context.Context, requestID string) ([]domain.AssetProgress, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+progressSelectCols+` FROM withdrawal_progress WHERE request_id = $1 ORDER BY mint`,
		requestID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list progress %s: %w", requestID, err)
	}
	progress, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AssetProgress, error) {
		return scanProgress(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list progress %s: %w", requestID, err)
	}
	return progress, nil
}

// RecordLiquidation applies one executed leg: progress, the request's
// accumulator and the step log move together or not at all.
func (s *WithdrawalStore) RecordLiquidation(ctx context.Context, step domain.LiquidationStep, cap uint64) (domain.WithdrawalRequest, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.WithdrawalRequest{}, fmt.Errorf("postgres: begin record liquidation: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		UPDATE withdrawal_progress SET
			amount_liquidated = amount_liquidated + $3,
			amount_out        = amount_out + $4,
			updated_at        = NOW()
		WHERE request_id = $1 AND mint = $2 AND amount_liquidated + $3 <= $5`,
		step.RequestID, step.Mint, step.AmountIn, step.AmountOut, cap)
	if err != nil {
		return domain.WithdrawalRequest{}, fmt.Errorf("postgres: advance progress %s/%s: %w", step.RequestID, step.Mint, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.WithdrawalRequest{}, domain.ErrCapExceeded
	}

	req, err := s.getOne(ctx, tx, `
		UPDATE withdrawal_requests SET
			sol_accumulated = sol_accumulated + $2,
			status          = CASE WHEN status = 'initiated' THEN 'liquidating' ELSE status END,
			updated_at      = NOW()
		WHERE id = $1 AND status IN ('initiated', 'liquidating') AND settlement IS NULL
		RETURNING `+withdrawalSelectCols,
		step.RequestID, step.AmountOut)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.WithdrawalRequest{}, domain.ErrInvalidTransition
		}
		return domain.WithdrawalRequest{}, err
	}

	createdAt := step.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO liquidation_steps (request_id, mint, amount_in, amount_out, route, operation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		step.RequestID, step.Mint, step.AmountIn, step.AmountOut, string(step.Route), step.OperationID, createdAt)
	if err != nil {
		return domain.WithdrawalRequest{}, fmt.Errorf("postgres: insert liquidation step: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.WithdrawalRequest{}, fmt.Errorf("postgres: commit record liquidation: %w", err)
	}
	return req, nil
}

// ListSteps returns the executed legs of a request in execution order.
func (s *WithdrawalStore) ListSteps(ctx context.Context, requestID string) ([]domain.LiquidationStep, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT request_id, mint, amount_in, amount_out, route, operation_id, created_at
		FROM liquidation_steps WHERE request_id = $1 ORDER BY id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list steps %s: %w", requestID, err)
	}
	defer rows.Close()

	var steps []domain.LiquidationStep
	for rows.Next() {
		var (
			st    domain.LiquidationStep
			route string
		)
		if err := rows.Scan(&st.RequestID, &st.Mint, &st.AmountIn, &st.AmountOut, &route, &st.OperationID, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan liquidation step: %w", err)
		}
		st.Route = domain.RouteKind(route)
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// CommitSettlement stores the settlement if none is stored yet and moves the
// request to ready_to_finalize in the same update, which closes it to
// RecordLiquidation. The first writer wins and every caller sees the winning
// settlement.
func (s *WithdrawalStore) CommitSettlement(ctx context.Context, id string, st domain.Settlement) (domain.WithdrawalRequest, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return domain.WithdrawalRequest{}, fmt.Errorf("postgres: marshal settlement: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE withdrawal_requests SET
			settlement = $2,
			status     = 'ready_to_finalize',
			updated_at = NOW()
		WHERE id = $1 AND settlement IS NULL AND status = ANY($3)`,
		id, data, statusStrings(domain.ActiveStatuses))
	if err != nil {
		return domain.WithdrawalRequest{}, fmt.Errorf("postgres: commit settlement %s: %w", id, err)
	}
	return s.GetByID(ctx, id)
}

// Complete burns the withdrawn shares and closes the request.
func (s *WithdrawalStore) Complete(ctx context.Context, c domain.Completion) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin complete %s: %w", c.RequestID, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	completedAt := c.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	tag, err := tx.Exec(ctx, `
		UPDATE withdrawal_requests SET
			status     = 'completed',
			payout_ref = $2,
			receipt_id = $3,
			updated_at = $4
		WHERE id = $1 AND status = ANY($5)`,
		c.RequestID, c.FinalizeRef, c.ReceiptID, completedAt, statusStrings(domain.ActiveStatuses))
	if err != nil {
		return fmt.Errorf("postgres: complete withdrawal %s: %w", c.RequestID, err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM withdrawal_requests WHERE id = $1`, c.RequestID).Scan(&status)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return domain.ErrNotFound
		case err != nil:
			return fmt.Errorf("postgres: complete withdrawal %s: %w", c.RequestID, err)
		case domain.WithdrawalStatus(status) == domain.WithdrawalCompleted:
			return domain.ErrAlreadyCompleted
		default:
			return domain.ErrInvalidTransition
		}
	}

	tag, err = tx.Exec(ctx, `
		UPDATE positions SET
			shares           = shares - $3,
			total_withdrawn  = total_withdrawn + $4,
			cost_basis       = GREATEST(cost_basis - $5, 0),
			last_activity_at = $6
		WHERE pool_id = $1 AND investor_id = $2 AND shares >= $3`,
		c.PoolID, c.InvestorID, c.SharesBurned, c.NetPaid, c.CostBasisReleased, completedAt)
	if err != nil {
		return fmt.Errorf("postgres: burn position shares %s/%s: %w", c.PoolID, c.InvestorID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidShares
	}

	tag, err = tx.Exec(ctx, `
		UPDATE pools SET
			total_shares = total_shares - $2,
			total_assets = GREATEST(total_assets - $3, 0),
			updated_at   = $4
		WHERE id = $1 AND total_shares >= $2`,
		c.PoolID, c.SharesBurned, c.AssetsReleased, completedAt)
	if err != nil {
		return fmt.Errorf("postgres: burn pool shares %s: %w", c.PoolID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidShares
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit complete %s: %w", c.RequestID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.WithdrawalStore = (*WithdrawalStore)(nil)
