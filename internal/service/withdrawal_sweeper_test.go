package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

func (e *testEnv) sweeper(cfg SweeperConfig) *WithdrawalSweeper {
	return NewWithdrawalSweeper(e.withdrawals, e.batcher, e.db.Withdrawals(), e.docs, e.notifier, e.db.Audit(), cfg, testLogger())
}

func TestSweep_RetriesAndFinalizes(t *testing.T) {
	e := profitablePool(t)
	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)

	rep, err := e.sweeper(SweeperConfig{AutoFinalize: true}).Sweep(t.Context())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Scanned: 1, Retried: 1, Ready: 1, Finalized: 1}, rep)
	assert.Equal(t, domain.WithdrawalCompleted, e.request(t, req.ID).Status)
}

func TestSweep_WithoutAutoFinalizeStopsAtReady(t *testing.T) {
	e := profitablePool(t)
	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)

	sw := e.sweeper(SweeperConfig{})
	for range 2 {
		_, err := sw.Sweep(t.Context())
		require.NoError(t, err)
	}
	got := e.request(t, req.ID)
	assert.Equal(t, domain.WithdrawalReadyToFinalize, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestSweep_StaleWithoutProgressFails(t *testing.T) {
	e := profitablePool(t)
	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)

	sw := e.sweeper(SweeperConfig{MaxRequestAge: 24 * time.Hour})
	sw.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	rep, err := sw.Sweep(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Zero(t, rep.Retried)

	got := e.request(t, req.ID)
	assert.Equal(t, domain.WithdrawalFailed, got.Status)
	assert.Equal(t, "stale: nothing liquidated", got.FailureReason)
	assert.Equal(t, uint64(100_000_000), e.position(t, investorA).Shares)
}

func TestSweep_StaleWithProgressAlertsOnce(t *testing.T) {
	e := profitablePool(t)
	e.agg.setNoRoute(solMint, true)
	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)
	_, err = e.batcher.RunBatch(t.Context(), req.ID)
	require.NoError(t, err)

	sw := e.sweeper(SweeperConfig{MaxAttempts: 10})
	sw.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	for range 2 {
		rep, err := sw.Sweep(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Stale)
		assert.Equal(t, 1, rep.Retried)
	}
	assert.Equal(t, 1, e.notifier.count(EventWithdrawalStale))

	got := e.request(t, req.ID)
	assert.Equal(t, domain.WithdrawalLiquidating, got.Status)
	assert.Equal(t, 3, got.Attempts)
}

func TestSweep_ExhaustedAttemptsFinalizePartialProceeds(t *testing.T) {
	e := profitablePool(t)
	e.agg.setNoRoute(solMint, true)
	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)

	sw := e.sweeper(SweeperConfig{MaxAttempts: 2, AutoFinalize: true})
	for range 2 {
		rep, err := sw.Sweep(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Retried)
		assert.Zero(t, rep.Finalized)
	}

	rep, err := sw.Sweep(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Ready)
	assert.Equal(t, 1, rep.Finalized)

	got := e.request(t, req.ID)
	assert.Equal(t, domain.WithdrawalCompleted, got.Status)
	require.NotNil(t, got.Settlement)
	assert.Equal(t, uint64(50_000_000), got.Settlement.Gross)
	assert.Equal(t, uint64(500_000_000), e.balance(t, vault, solMint))
}

func TestSweep_ExhaustedWithoutProceedsWaits(t *testing.T) {
	e := newTestEnv(t)
	e.fund(t, investorA, 100_000_000, "tx-a")
	e.ledger.SetTokenBalance(vault, refMint, 0)
	e.ledger.SetTokenBalance(vault, solMint, 500_000_000)
	e.agg.setNoRoute(solMint, true)

	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)

	sw := e.sweeper(SweeperConfig{MaxAttempts: 1, AutoFinalize: true})
	_, err = sw.Sweep(t.Context())
	require.NoError(t, err)

	rep, err := sw.Sweep(t.Context())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Scanned: 1}, rep)
	assert.Equal(t, domain.WithdrawalInitiated, e.request(t, req.ID).Status)
}
