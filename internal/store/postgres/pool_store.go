package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// PoolStore implements domain.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

const poolSelectCols = `id, name, operator, treasury, vault, reference_mint,
	reference_decimals, share_mint, total_shares, total_assets,
	management_fee_bps, performance_fee_bps, platform_fee_bps,
	operator_split_bps, dust_threshold, created_at, updated_at`

func scanPool(row pgx.Row) (domain.Pool, error) {
	var p domain.Pool
	err := row.Scan(
		&p.ID, &p.Name, &p.Operator, &p.Treasury, &p.Vault, &p.ReferenceMint,
		&p.ReferenceDecimals, &p.ShareMint, &p.TotalShares, &p.TotalAssets,
		&p.ManagementFeeBps, &p.PerformanceFeeBps, &p.PlatformFeeBps,
		&p.OperatorSplitBps, &p.DustThreshold, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// Create inserts a pool and its asset registry. ErrAlreadyExists if the id
// is taken.
func (s *PoolStore) Create(ctx context.Context, p domain.Pool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create pool %s: %w", p.ID, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const insertPool = `
		INSERT INTO pools (
			id, name, operator, treasury, vault, reference_mint,
			reference_decimals, share_mint, total_shares, total_assets,
			management_fee_bps, performance_fee_bps, platform_fee_bps,
			operator_split_bps, dust_threshold
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err = tx.Exec(ctx, insertPool,
		p.ID, p.Name, p.Operator, p.Treasury, p.Vault, p.ReferenceMint,
		p.ReferenceDecimals, p.ShareMint, p.TotalShares, p.TotalAssets,
		p.ManagementFeeBps, p.PerformanceFeeBps, p.PlatformFeeBps,
		p.OperatorSplitBps, p.DustThreshold,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create pool %s: %w", p.ID, err)
	}

	const insertAsset = `INSERT INTO pool_assets (pool_id, mint, symbol, decimals) VALUES ($1, $2, $3, $4)`
	for _, a := range p.Assets {
		if _, err := tx.Exec(ctx, insertAsset, p.ID, a.Mint, a.Symbol, a.Decimals); err != nil {
			return fmt.Errorf("postgres: create pool asset %s/%s: %w", p.ID, a.Mint, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create pool %s: %w", p.ID, err)
	}
	return nil
}

// GetByID returns a pool with its asset registry.
func (s *PoolStore) GetByID(ctx context.Context, id string) (domain.Pool, error) {
	p, err := scanPool(s.pool.QueryRow(ctx,
		`SELECT `+poolSelectCols+` FROM pools WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Pool{}, domain.ErrNotFound
		}
		return domain.Pool{}, fmt.Errorf("postgres: get pool %s: %w", id, err)
	}

	p.Assets, err = listPoolAssets(ctx, s.pool, id)
	if err != nil {
		return domain.Pool{}, err
	}
	return p, nil
}

// List returns every pool ordered by id.
func (s *PoolStore) List(ctx context.Context) ([]domain.Pool, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+poolSelectCols+` FROM pools ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools: %w", err)
	}
	pools, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Pool, error) {
		return scanPool(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools: %w", err)
	}

	for i := range pools {
		if pools[i].Assets, err = listPoolAssets(ctx, s.pool, pools[i].ID); err != nil {
			return nil, err
		}
	}
	return pools, nil
}

// UpdateTotalAssets records the latest valuation of a pool.
func (s *PoolStore) UpdateTotalAssets(ctx context.Context, id string, totalAssets uint64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pools SET total_assets = $2, updated_at = NOW() WHERE id = $1`, id, totalAssets)
	if err != nil {
		return fmt.Errorf("postgres: update pool %s total assets: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func listPoolAssets(ctx context.Context, q querier, poolID string) ([]domain.PoolAsset, error) {
	rows, err := q.Query(ctx,
		`SELECT mint, symbol, decimals FROM pool_assets WHERE pool_id = $1 ORDER BY mint`, poolID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pool assets %s: %w", poolID, err)
	}
	defer rows.Close()

	var assets []domain.PoolAsset
	for rows.Next() {
		var a domain.PoolAsset
		if err := rows.Scan(&a.Mint, &a.Symbol, &a.Decimals); err != nil {
			return nil, fmt.Errorf("postgres: scan pool asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Compile-time interface check.
var _ domain.PoolStore = (*PoolStore)(nil)
