package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Writes to
// positions happen only inside the deposit and withdrawal transactions.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `pool_id, investor_id, shares, total_deposited,
	total_withdrawn, cost_basis, first_activity_at, last_activity_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	err := row.Scan(
		&p.PoolID, &p.InvestorID, &p.Shares, &p.TotalDeposited,
		&p.TotalWithdrawn, &p.CostBasis, &p.FirstActivityAt, &p.LastActivityAt,
	)
	return p, err
}

// Get returns the position of investorID in poolID.
func (s *PositionStore) Get(ctx context.Context, poolID, investorID string) (domain.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE pool_id = $1 AND investor_id = $2`,
		poolID, investorID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", poolID, investorID, err)
	}
	return p, nil
}

// ListByPool returns all positions in a pool, largest holders first.
func (s *PositionStore) ListByPool(ctx context.Context, poolID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE pool_id = $1 ORDER BY shares DESC, investor_id`,
		poolID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions %s: %w", poolID, err)
	}
	positions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Position, error) {
		return scanPosition(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions %s: %w", poolID, err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
