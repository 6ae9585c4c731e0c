// Package memory implements the domain store interfaces in process memory.
// It backs paper mode and the service tests; every store returned by one DB
// shares a single mutex, so multi-table updates are as atomic as their
// PostgreSQL counterparts.
package memory

import (
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

type progressKey struct {
	requestID string
	mint      string
}

type positionKey struct {
	poolID     string
	investorID string
}

// DB holds all tables.
type DB struct {
	mu sync.Mutex

	pools       map[string]domain.Pool
	positions   map[positionKey]domain.Position
	deposits    []domain.DepositRecord
	fundingRefs map[string]int // poolID:fundingRef -> index into deposits
	requests    map[string]domain.WithdrawalRequest
	progress    map[progressKey]domain.AssetProgress
	steps       map[string][]domain.LiquidationStep
	receipts    []domain.Receipt
	receiptKeys map[string]int // natural key -> index into receipts
	audit       []domain.AuditEntry

	now func() time.Time
}

// New creates an empty DB.
func New() *DB {
	return &DB{
		pools:       make(map[string]domain.Pool),
		positions:   make(map[positionKey]domain.Position),
		fundingRefs: make(map[string]int),
		requests:    make(map[string]domain.WithdrawalRequest),
		progress:    make(map[progressKey]domain.AssetProgress),
		steps:       make(map[string][]domain.LiquidationStep),
		receiptKeys: make(map[string]int),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for created/updated stamps.
func (db *DB) SetClock(now func() time.Time) {
	db.mu.Lock()
	db.now = now
	db.mu.Unlock()
}

// Pools returns the pool store view.
func (db *DB) Pools() *PoolStore { return &PoolStore{db: db} }

// Positions returns the position store view.
func (db *DB) Positions() *PositionStore { return &PositionStore{db: db} }

// Deposits returns the deposit store view.
func (db *DB) Deposits() *DepositStore { return &DepositStore{db: db} }

// Withdrawals returns the withdrawal store view.
func (db *DB) Withdrawals() *WithdrawalStore { return &WithdrawalStore{db: db} }

// Receipts returns the receipt store view.
func (db *DB) Receipts() *ReceiptStore { return &ReceiptStore{db: db} }

// Audit returns the audit store view.
func (db *DB) Audit() *AuditStore { return &AuditStore{db: db} }

// PutPosition overwrites a position. Tests use it to seed state that would
// otherwise take a deposit.
func (db *DB) PutPosition(p domain.Position) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.positions[positionKey{p.PoolID, p.InvestorID}] = p
}

// PutPool overwrites a pool, including its share and asset totals.
func (db *DB) PutPool(p domain.Pool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.pools[p.ID] = clonePool(p)
}

func clonePool(p domain.Pool) domain.Pool {
	p.Assets = append([]domain.PoolAsset(nil), p.Assets...)
	return p
}

func cloneRequest(r domain.WithdrawalRequest) domain.WithdrawalRequest {
	r.BalanceSnapshot = maps.Clone(r.BalanceSnapshot)
	if r.Settlement != nil {
		s := *r.Settlement
		r.Settlement = &s
	}
	return r
}

func cloneReceipt(r domain.Receipt) domain.Receipt {
	r.Liquidations = append([]domain.LiquidationStep(nil), r.Liquidations...)
	return r
}

func inRange(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

// paginate applies Offset and Limit to an already filtered, ordered slice.
func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

func newID() string {
	return uuid.New().String()
}
