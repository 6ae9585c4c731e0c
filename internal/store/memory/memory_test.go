package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

const (
	poolID   = "pool-1"
	investor = "alice"
)

func seeded(t *testing.T) *DB {
	t.Helper()
	db := New()
	db.PutPool(domain.Pool{ID: poolID, ReferenceMint: "REF", TotalShares: 1_000, TotalAssets: 10_000})
	db.PutPosition(domain.Position{PoolID: poolID, InvestorID: investor, Shares: 400, CostBasis: 3_000})
	return db
}

func newRequest(id string) domain.WithdrawalRequest {
	return domain.WithdrawalRequest{
		ID:               id,
		PoolID:           poolID,
		InvestorID:       investor,
		SharesToWithdraw: 100,
		Status:           domain.WithdrawalInitiated,
	}
}

func TestCreateRejectsSecondActiveRequest(t *testing.T) {
	ws := seeded(t).Withdrawals()
	ctx := t.Context()

	require.NoError(t, ws.Create(ctx, newRequest("wd-1")))
	require.ErrorIs(t, ws.Create(ctx, newRequest("wd-2")), domain.ErrConcurrentRequest)
	require.ErrorIs(t, ws.Create(ctx, newRequest("wd-1")), domain.ErrAlreadyExists)

	require.NoError(t, ws.Transition(ctx, "wd-1", []domain.WithdrawalStatus{domain.WithdrawalInitiated}, domain.WithdrawalFailed, "cancelled"))
	require.NoError(t, ws.Create(ctx, newRequest("wd-2")), "a terminal request frees the pair")

	active, err := ws.GetActive(ctx, poolID, investor)
	require.NoError(t, err)
	assert.Equal(t, "wd-2", active.ID)
}

func TestTransitionChecksSource(t *testing.T) {
	ws := seeded(t).Withdrawals()
	ctx := t.Context()
	require.NoError(t, ws.Create(ctx, newRequest("wd-1")))

	err := ws.Transition(ctx, "wd-1", []domain.WithdrawalStatus{domain.WithdrawalLiquidating}, domain.WithdrawalReadyToFinalize, "")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	require.ErrorIs(t, ws.Transition(ctx, "missing", nil, domain.WithdrawalFailed, ""), domain.ErrNotFound)

	got, err := ws.GetByID(ctx, "wd-1")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalInitiated, got.Status)
}

func TestRecordLiquidationEnforcesCap(t *testing.T) {
	ws := seeded(t).Withdrawals()
	ctx := t.Context()
	require.NoError(t, ws.Create(ctx, newRequest("wd-1")))

	step := domain.LiquidationStep{RequestID: "wd-1", Mint: "SOLX", AmountIn: 60, AmountOut: 600}
	_, err := ws.RecordLiquidation(ctx, step, 100)
	require.ErrorIs(t, err, domain.ErrCapExceeded, "no progress row yet")

	_, err = ws.EnsureProgress(ctx, domain.AssetProgress{RequestID: "wd-1", Mint: "SOLX", BalanceObserved: 1_000})
	require.NoError(t, err)

	req, err := ws.RecordLiquidation(ctx, step, 100)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalLiquidating, req.Status)
	assert.Equal(t, uint64(600), req.SolAccumulated)

	_, err = ws.RecordLiquidation(ctx, step, 100)
	require.ErrorIs(t, err, domain.ErrCapExceeded)

	progress, err := ws.ListProgress(ctx, "wd-1")
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, uint64(60), progress[0].AmountLiquidated)

	steps, err := ws.ListSteps(ctx, "wd-1")
	require.NoError(t, err)
	assert.Len(t, steps, 1)
}

func TestEnsureProgressKeepsFirstObservation(t *testing.T) {
	ws := seeded(t).Withdrawals()
	ctx := t.Context()
	require.NoError(t, ws.Create(ctx, newRequest("wd-1")))

	first, err := ws.EnsureProgress(ctx, domain.AssetProgress{RequestID: "wd-1", Mint: "SOLX", BalanceObserved: 1_000})
	require.NoError(t, err)
	again, err := ws.EnsureProgress(ctx, domain.AssetProgress{RequestID: "wd-1", Mint: "SOLX", BalanceObserved: 5})
	require.NoError(t, err)
	assert.Equal(t, first.BalanceObserved, again.BalanceObserved)
}

func TestCommitSettlementFirstWins(t *testing.T) {
	ws := seeded(t).Withdrawals()
	ctx := t.Context()
	require.NoError(t, ws.Create(ctx, newRequest("wd-1")))

	req, err := ws.CommitSettlement(ctx, "wd-1", domain.Settlement{Gross: 1_000, Net: 900})
	require.NoError(t, err)
	require.NotNil(t, req.Settlement)

	req, err = ws.CommitSettlement(ctx, "wd-1", domain.Settlement{Gross: 2_000, Net: 1_800})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), req.Settlement.Gross)
}

func TestCommitSettlementClosesLiquidation(t *testing.T) {
	ws := seeded(t).Withdrawals()
	ctx := t.Context()
	require.NoError(t, ws.Create(ctx, newRequest("wd-1")))
	_, err := ws.EnsureProgress(ctx, domain.AssetProgress{RequestID: "wd-1", Mint: "SOLX", BalanceObserved: 1_000})
	require.NoError(t, err)

	req, err := ws.CommitSettlement(ctx, "wd-1", domain.Settlement{Gross: 0})
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalReadyToFinalize, req.Status)

	step := domain.LiquidationStep{RequestID: "wd-1", Mint: "SOLX", AmountIn: 10, AmountOut: 100}
	_, err = ws.RecordLiquidation(ctx, step, 1_000)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := ws.GetByID(ctx, "wd-1")
	require.NoError(t, err)
	assert.Zero(t, got.SolAccumulated)
	progress, err := ws.ListProgress(ctx, "wd-1")
	require.NoError(t, err)
	assert.Zero(t, progress[0].AmountLiquidated)
}

func TestCompleteBurnsAtomically(t *testing.T) {
	db := seeded(t)
	ws := db.Withdrawals()
	ctx := t.Context()
	require.NoError(t, ws.Create(ctx, newRequest("wd-1")))

	c := domain.Completion{
		RequestID:         "wd-1",
		PoolID:            poolID,
		InvestorID:        investor,
		SharesBurned:      100,
		AssetsReleased:    1_000,
		NetPaid:           950,
		CostBasisReleased: 750,
		FinalizeRef:       "sig-1",
		ReceiptID:         "rcpt-1",
		CompletedAt:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, ws.Complete(ctx, c))
	require.ErrorIs(t, ws.Complete(ctx, c), domain.ErrAlreadyCompleted)

	pool, err := db.Pools().GetByID(ctx, poolID)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), pool.TotalShares)
	assert.Equal(t, uint64(9_000), pool.TotalAssets)

	pos, err := db.Positions().Get(ctx, poolID, investor)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), pos.Shares)
	assert.Equal(t, uint64(2_250), pos.CostBasis)
	assert.Equal(t, uint64(950), pos.TotalWithdrawn)

	req, err := ws.GetByID(ctx, "wd-1")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalCompleted, req.Status)
	assert.Equal(t, "sig-1", req.PayoutRef)
}

func TestCompleteRejectsOverBurnWithoutSideEffects(t *testing.T) {
	db := seeded(t)
	ws := db.Withdrawals()
	ctx := t.Context()
	require.NoError(t, ws.Create(ctx, newRequest("wd-1")))

	err := ws.Complete(ctx, domain.Completion{RequestID: "wd-1", PoolID: poolID, InvestorID: investor, SharesBurned: 401})
	require.ErrorIs(t, err, domain.ErrInvalidShares)

	pool, err := db.Pools().GetByID(ctx, poolID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), pool.TotalShares)
	req, err := ws.GetByID(ctx, "wd-1")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalInitiated, req.Status)
}

func TestDepositApplyDeduplicatesFundingRef(t *testing.T) {
	db := seeded(t)
	ctx := t.Context()
	intent := domain.DepositIntent{PoolID: poolID, InvestorID: "bob", Amount: 500, NAVBefore: 10_000, FundingRef: "sig-9"}
	mint := func(domain.Pool) (uint64, error) { return 50, nil }

	first, err := db.Deposits().Apply(ctx, intent, mint)
	require.NoError(t, err)
	again, err := db.Deposits().Apply(ctx, intent, mint)
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.Equal(t, first.ID, again.ID)

	pool, err := db.Pools().GetByID(ctx, poolID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_050), pool.TotalShares)
	assert.Equal(t, uint64(10_500), pool.TotalAssets)
}

func TestReceiptAppendIfAbsent(t *testing.T) {
	rs := New().Receipts()
	ctx := t.Context()
	r := domain.Receipt{
		ID:         "rcpt-1",
		NaturalKey: domain.ReceiptNaturalKey(poolID, investor, "sig-1"),
		RequestID:  "wd-1",
		PoolID:     poolID,
		InvestorID: investor,
	}

	first, inserted, err := rs.AppendIfAbsent(ctx, r)
	require.NoError(t, err)
	assert.True(t, inserted)

	r.ID = "rcpt-2"
	second, inserted, err := rs.AppendIfAbsent(ctx, r)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, second.ID)

	list, err := rs.ListByInvestor(ctx, investor, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
