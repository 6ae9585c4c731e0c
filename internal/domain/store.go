package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PoolStore persists pools and their asset registries.
type PoolStore interface {
	Create(ctx context.Context, pool Pool) error
	GetByID(ctx context.Context, id string) (Pool, error)
	List(ctx context.Context) ([]Pool, error)
	UpdateTotalAssets(ctx context.Context, id string, totalAssets uint64) error
}

// PositionStore reads investor positions. Positions are written only by the
// deposit and withdrawal completion paths.
type PositionStore interface {
	Get(ctx context.Context, poolID, investorID string) (Position, error)
	ListByPool(ctx context.Context, poolID string) ([]Position, error)
}

// DepositStore mints shares for deposits.
type DepositStore interface {
	// Apply locks the pool, calls mint with its current state, and commits
	// the minted shares, pool totals and position in one transaction. A
	// repeated FundingRef returns the original record and ErrAlreadyExists.
	Apply(ctx context.Context, intent DepositIntent, mint func(pool Pool) (uint64, error)) (DepositRecord, error)
	ListByInvestor(ctx context.Context, poolID, investorID string, opts ListOpts) ([]DepositRecord, error)
}

// WithdrawalStore persists withdrawal requests and liquidation progress.
type WithdrawalStore interface {
	// Create inserts a request. ErrConcurrentRequest when the pair already
	// has an active request.
	Create(ctx context.Context, req WithdrawalRequest) error
	GetByID(ctx context.Context, id string) (WithdrawalRequest, error)
	GetActive(ctx context.Context, poolID, investorID string) (WithdrawalRequest, error)
	ListByStatus(ctx context.Context, statuses []WithdrawalStatus, opts ListOpts) ([]WithdrawalRequest, error)
	// Transition moves a request to status `to` only when its current status
	// is one of `from`; ErrInvalidTransition otherwise.
	Transition(ctx context.Context, id string, from []WithdrawalStatus, to WithdrawalStatus, reason string) error
	IncrementAttempts(ctx context.Context, id string) (int, error)

	// EnsureProgress inserts p if no progress exists for its (request, mint)
	// and returns the stored row.
	EnsureProgress(ctx context.Context, p AssetProgress) (AssetProgress, error)
	ListProgress(ctx context.Context, requestID string) ([]AssetProgress, error)
	// RecordLiquidation advances progress and the request accumulator in one
	// transaction. ErrCapExceeded when the increment would pass the cap.
	RecordLiquidation(ctx context.Context, step LiquidationStep, cap uint64) (WithdrawalRequest, error)
	ListSteps(ctx context.Context, requestID string) ([]LiquidationStep, error)

	// CommitSettlement stores s if the request has none, moves the request to
	// ready_to_finalize, and returns the request with whichever settlement is
	// stored. Once committed, RecordLiquidation rejects further legs.
	CommitSettlement(ctx context.Context, id string, s Settlement) (WithdrawalRequest, error)
	// Complete burns shares, updates pool and position totals, and marks the
	// request completed in one transaction.
	Complete(ctx context.Context, c Completion) error
}

// ReceiptStore is the append-only settlement receipt log.
type ReceiptStore interface {
	// AppendIfAbsent inserts r unless its natural key exists; it returns the
	// stored receipt and whether it was inserted.
	AppendIfAbsent(ctx context.Context, r Receipt) (Receipt, bool, error)
	GetByID(ctx context.Context, id string) (Receipt, error)
	ListByInvestor(ctx context.Context, investorID string, opts ListOpts) ([]Receipt, error)
	ListByPool(ctx context.Context, poolID string, opts ListOpts) ([]Receipt, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
