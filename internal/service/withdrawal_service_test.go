package service

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// profitablePool funds investorA with 100 REF and then moves the vault to
// 50 REF plus 0.5 SOLX, a NAV of 110 REF.
func profitablePool(t *testing.T) *testEnv {
	t.Helper()
	e := newTestEnv(t)
	e.fund(t, investorA, 100_000_000, "tx-a")
	e.ledger.SetTokenBalance(vault, refMint, 50_000_000)
	e.ledger.SetTokenBalance(vault, solMint, 500_000_000)
	return e
}

func TestInitiate_FreezesFraction(t *testing.T) {
	e := newTestEnv(t)
	e.fund(t, investorA, 25_000_000, "tx-a")
	e.fund(t, investorB, 75_000_000, "tx-b")
	e.credit(t, vault, solMint, 400_000_000)

	req, resumed, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.Equal(t, domain.WithdrawalInitiated, req.Status)
	assert.Equal(t, uint32(2500), req.FractionBps)
	assert.Equal(t, uint64(25_000_000), req.SharesToWithdraw)
	assert.Equal(t, uint64(100_000_000), req.TotalSharesSnapshot)
	assert.Equal(t, uint64(25_000_000), req.CostBasisSnapshot)
	assert.Equal(t, uint64(400_000_000), req.BalanceSnapshot[solMint])
	assert.Equal(t, uint64(100_000_000), req.BalanceSnapshot[refMint])
	assert.NotEmpty(t, req.Address)
}

func TestWithdrawal_DepositDuringWithdrawalKeepsSnapshot(t *testing.T) {
	e := newTestEnv(t)
	e.fund(t, investorA, 25_000_000, "tx-a")
	e.fund(t, investorB, 75_000_000, "tx-b")
	e.credit(t, vault, solMint, 400_000_000)

	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)

	dep := e.fund(t, investorB, 50_000_000, "tx-b2")
	require.NotZero(t, dep.SharesMinted)

	live := e.request(t, req.ID)
	assert.Equal(t, req.FractionBps, live.FractionBps)
	assert.Equal(t, req.TotalSharesSnapshot, live.TotalSharesSnapshot)
	assert.Equal(t, req.BalanceSnapshot, live.BalanceSnapshot)

	ref, err := e.withdrawals.LiquidateAsset(t.Context(), req.ID, refMint)
	require.NoError(t, err)
	assert.Equal(t, uint64(25_000_000), ref.AmountIn)
	sol, err := e.withdrawals.LiquidateAsset(t.Context(), req.ID, solMint)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000_000), sol.AmountIn)

	_, progress, err := e.withdrawals.Get(t.Context(), req.ID)
	require.NoError(t, err)
	observed := make(map[string]uint64)
	for _, p := range progress {
		observed[p.Mint] = p.BalanceObserved
	}
	assert.Equal(t, uint64(100_000_000), observed[refMint])
	assert.Equal(t, uint64(400_000_000), observed[solMint])

	receipt, _, err := e.withdrawals.Finalize(t.Context(), req.ID)
	require.NoError(t, err)
	// 25 REF plus 0.1 SOLX at 120; B's deposit is not part of A's payout.
	assert.Equal(t, uint64(37_000_000), receipt.Settlement.Gross)
	assert.Equal(t, uint32(2500), receipt.FractionBps)
	assert.Equal(t, receipt.Settlement.Net, e.balance(t, investorA, refMint))
	assert.Equal(t, 75_000_000+dep.SharesMinted, e.pool(t).TotalShares)
	assert.Equal(t, 75_000_000+dep.SharesMinted, e.position(t, investorB).Shares)
}

func TestInitiate_PartialSharesProRataCostBasis(t *testing.T) {
	e := newTestEnv(t)
	e.fund(t, investorA, 100_000_000, "tx-a")

	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 40_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint32(4000), req.FractionBps)
	assert.Equal(t, uint64(40_000_000), req.CostBasisSnapshot)
}

func TestInitiate_ResumesActiveRequest(t *testing.T) {
	e := newTestEnv(t)
	e.fund(t, investorA, 100_000_000, "tx-a")

	first, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 10_000_000)
	require.NoError(t, err)

	second, resumed, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 50_000_000)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.SharesToWithdraw, second.SharesToWithdraw)

	active, err := e.withdrawals.ListActive(t.Context(), domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestInitiate_LockHeldIsConcurrentRequest(t *testing.T) {
	e := newTestEnv(t)
	e.fund(t, investorA, 100_000_000, "tx-a")

	unlock, err := e.locks.Acquire(t.Context(), "withdrawal:"+testPool+":"+investorA, time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, _, err = e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.ErrorIs(t, err, domain.ErrConcurrentRequest)
}

func TestInitiate_WaitsOutLockHolder(t *testing.T) {
	e := newTestEnv(t)
	e.fund(t, investorA, 100_000_000, "tx-a")
	e.withdrawals.cfg.InitiateWait = 50 * time.Millisecond

	unlock, err := e.locks.Acquire(t.Context(), "withdrawal:"+testPool+":"+investorA, time.Minute)
	require.NoError(t, err)
	defer unlock()

	start := time.Now()
	_, _, err = e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.ErrorIs(t, err, domain.ErrConcurrentRequest)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestInitiate_ConcurrentCallersShareRequest(t *testing.T) {
	e := newTestEnv(t)
	e.fund(t, investorA, 100_000_000, "tx-a")
	e.withdrawals.cfg.InitiateWait = 5 * time.Second

	const callers = 4
	var (
		wg      sync.WaitGroup
		ids     [callers]string
		resumed [callers]bool
		errs    [callers]error
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, r, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
			ids[i], resumed[i], errs[i] = req.ID, r, err
		}()
	}
	wg.Wait()

	fresh := 0
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
		if !resumed[i] {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "exactly one caller creates the request")

	active, err := e.withdrawals.ListActive(t.Context(), domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestInitiate_Rejects(t *testing.T) {
	e := newTestEnv(t)
	e.fund(t, investorA, 100_000_000, "tx-a")
	e.fund(t, investorB, 1_000, "tx-b")

	tests := []struct {
		name     string
		investor string
		shares   uint64
		wantErr  error
	}{
		{name: "more than held", investor: investorA, shares: 100_000_001, wantErr: domain.ErrInvalidShares},
		{name: "no position", investor: "nobody", shares: 1, wantErr: domain.ErrInvalidShares},
		{name: "below one basis point", investor: investorB, shares: 0, wantErr: domain.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := e.withdrawals.Initiate(t.Context(), testPool, tt.investor, tt.shares)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	active, err := e.withdrawals.ListActive(t.Context(), domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestLiquidateAsset_CapHoldsUnderRetries(t *testing.T) {
	e := profitablePool(t)
	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 50_000_000)
	require.NoError(t, err)

	res, err := e.withdrawals.LiquidateAsset(t.Context(), req.ID, solMint)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSettled, res.Outcome)
	assert.Equal(t, uint64(250_000_000), res.AmountIn)
	assert.Equal(t, uint64(30_000_000), res.AmountOut)

	// Another depositor tops the vault up; the frozen snapshot still caps us.
	e.credit(t, vault, solMint, 1_000_000_000)
	for range 3 {
		res, err = e.withdrawals.LiquidateAsset(t.Context(), req.ID, solMint)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeAlreadyLiquidated, res.Outcome)
	}

	_, progress, err := e.withdrawals.Get(t.Context(), req.ID)
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, uint64(500_000_000), progress[0].BalanceObserved)
	assert.Equal(t, uint64(250_000_000), progress[0].AmountLiquidated)
	assert.Equal(t, uint64(30_000_000), e.request(t, req.ID).SolAccumulated)
	assert.Equal(t, 1, e.ledger.Submissions())
}

func TestLiquidateAsset_DustSkipped(t *testing.T) {
	e := newTestEnv(t)
	e.fund(t, investorA, 100_000_000, "tx-a")
	// 0.00005 SOLX is worth 0.006 REF, below the 0.01 threshold.
	e.credit(t, vault, solMint, 50_000)

	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)

	res, err := e.withdrawals.LiquidateAsset(t.Context(), req.ID, solMint)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDustSkipped, res.Outcome)
	assert.True(t, res.Outcome.Done())
	assert.Zero(t, e.ledger.Submissions())
	assert.Equal(t, uint64(50_000), e.balance(t, vault, solMint))
}

func TestLiquidateAsset_NoRouteThenRecovers(t *testing.T) {
	e := profitablePool(t)
	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)

	e.agg.setNoRoute(solMint, true)
	res, err := e.withdrawals.LiquidateAsset(t.Context(), req.ID, solMint)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoRoute, res.Outcome)
	assert.False(t, res.Outcome.Done())
	assert.Equal(t, domain.WithdrawalInitiated, e.request(t, req.ID).Status)

	e.agg.setNoRoute(solMint, false)
	res, err = e.withdrawals.LiquidateAsset(t.Context(), req.ID, solMint)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSettled, res.Outcome)
	assert.Equal(t, domain.WithdrawalLiquidating, e.request(t, req.ID).Status)
}

func TestLiquidateAsset_ExecutionFailureIsRetryable(t *testing.T) {
	e := profitablePool(t)
	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)

	e.ledger.FailNext(1)
	res, err := e.withdrawals.LiquidateAsset(t.Context(), req.ID, solMint)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeExecutionFailed, res.Outcome)
	assert.Zero(t, e.ledger.Submissions())
	assert.Equal(t, uint64(500_000_000), e.balance(t, vault, solMint))

	res, err = e.withdrawals.LiquidateAsset(t.Context(), req.ID, solMint)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSettled, res.Outcome)
	assert.Equal(t, 1, e.ledger.Submissions())
	assert.Zero(t, e.balance(t, vault, solMint))
}

func TestLiquidateAsset_BuildFailureIsExecutionFailed(t *testing.T) {
	e := profitablePool(t)
	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)

	e.agg.mu.Lock()
	e.agg.failBuild = true
	e.agg.mu.Unlock()

	res, err := e.withdrawals.LiquidateAsset(t.Context(), req.ID, solMint)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeExecutionFailed, res.Outcome)
}

func TestLiquidateAsset_MultiHopFallback(t *testing.T) {
	e := profitablePool(t)
	e.agg.mu.Lock()
	e.agg.multiHopOnly[solMint] = true
	e.agg.mu.Unlock()

	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)

	res, err := e.withdrawals.LiquidateAsset(t.Context(), req.ID, solMint)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeSettled, res.Outcome)

	steps, err := e.db.Withdrawals().ListSteps(t.Context(), req.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, domain.RouteMultiHop, steps[0].Route)
	assert.NotEmpty(t, steps[0].OperationID)
}

func TestLiquidateAsset_UnknownAsset(t *testing.T) {
	e := profitablePool(t)
	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)

	_, err = e.withdrawals.LiquidateAsset(t.Context(), req.ID, shareMint)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.withdrawals.LiquidateAsset(t.Context(), req.ID, "UNLISTED")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWithdrawal_FullFlowWithFees(t *testing.T) {
	e := profitablePool(t)

	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(10_000), req.FractionBps)

	batch, err := e.batcher.RunBatch(t.Context(), req.ID)
	require.NoError(t, err)
	require.True(t, batch.Ready)
	require.Len(t, batch.Outcomes, 3)
	assert.Equal(t, solMint, batch.Outcomes[0].Mint)
	assert.Equal(t, domain.OutcomeSettled, batch.Outcomes[0].Outcome)
	assert.Equal(t, domain.OutcomeAlreadyLiquidated, batch.Outcomes[1].Outcome)
	assert.Equal(t, refMint, batch.Outcomes[2].Mint)
	assert.Equal(t, domain.OutcomeSettled, batch.Outcomes[2].Outcome)

	ready := e.request(t, req.ID)
	assert.Equal(t, domain.WithdrawalReadyToFinalize, ready.Status)
	assert.Equal(t, uint64(110_000_000), ready.SolAccumulated)

	receipt, again, err := e.withdrawals.Finalize(t.Context(), req.ID)
	require.NoError(t, err)
	assert.False(t, again)

	st := receipt.Settlement
	assert.Equal(t, uint64(110_000_000), st.Gross)
	assert.Equal(t, uint64(100_000_000), st.CostBasis)
	assert.Equal(t, uint64(1_100_000), st.PlatformFee)
	assert.Equal(t, uint64(1_980_000), st.PerformanceFee)
	assert.Equal(t, uint64(1_584_000), st.OperatorShare)
	assert.Equal(t, uint64(396_000), st.TreasuryShare)
	assert.Equal(t, uint64(106_920_000), st.Net)
	require.Len(t, receipt.Liquidations, 2)
	assert.Equal(t, domain.RouteReference, receipt.Liquidations[1].Route)
	assert.True(t, strings.HasPrefix(receipt.FinalizeRef, "mem-"))

	assert.Equal(t, uint64(106_920_000), e.balance(t, investorA, refMint))
	assert.Equal(t, uint64(1_584_000), e.balance(t, operator, refMint))
	assert.Equal(t, uint64(1_496_000), e.balance(t, treasury, refMint))
	assert.Zero(t, e.balance(t, vault, refMint))
	assert.Zero(t, e.balance(t, vault, solMint))

	done := e.request(t, req.ID)
	assert.Equal(t, domain.WithdrawalCompleted, done.Status)
	assert.Equal(t, receipt.ID, done.ReceiptID)
	assert.Zero(t, e.pool(t).TotalShares)
	pos := e.position(t, investorA)
	assert.Zero(t, pos.Shares)
	assert.Zero(t, pos.CostBasis)
	assert.Equal(t, uint64(106_920_000), pos.TotalWithdrawn)

	submissions := e.ledger.Submissions()
	assert.Equal(t, 2, submissions, "one swap and one payout")

	repeat, again, err := e.withdrawals.Finalize(t.Context(), req.ID)
	require.NoError(t, err)
	assert.True(t, again)
	assert.Equal(t, receipt.ID, repeat.ID)
	assert.Equal(t, receipt.Settlement, repeat.Settlement)
	assert.Equal(t, submissions, e.ledger.Submissions())
	assert.Equal(t, uint64(106_920_000), e.balance(t, investorA, refMint))

	receipts, err := e.settlements.FindByInvestor(t.Context(), investorA, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, receipts, 1)
	assert.Equal(t, 1, e.notifier.count(EventWithdrawalCompleted))
}

func TestFinalize_PartialFailureStillSettles(t *testing.T) {
	e := profitablePool(t)
	e.agg.setNoRoute(solMint, true)

	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)

	batch, err := e.batcher.RunBatch(t.Context(), req.ID)
	require.NoError(t, err)
	assert.False(t, batch.Ready)

	require.NoError(t, e.withdrawals.MarkReady(t.Context(), req.ID))
	receipt, _, err := e.withdrawals.Finalize(t.Context(), req.ID)
	require.NoError(t, err)

	// Only the reference asset was realized; SOLX stays in the pool.
	assert.Equal(t, uint64(50_000_000), receipt.Settlement.Gross)
	assert.Equal(t, uint64(500_000_000), e.balance(t, vault, solMint))
	assert.Zero(t, e.balance(t, vault, refMint))
}

func TestFinalize_FailedRequest(t *testing.T) {
	e := profitablePool(t)
	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)

	require.NoError(t, e.withdrawals.Fail(t.Context(), req.ID, "operator cancelled"))
	assert.Equal(t, 1, e.notifier.count(EventWithdrawalFailed))

	_, _, err = e.withdrawals.Finalize(t.Context(), req.ID)
	require.ErrorIs(t, err, domain.ErrRequestFailed)

	failed := e.request(t, req.ID)
	assert.Equal(t, domain.WithdrawalFailed, failed.Status)
	assert.Equal(t, "operator cancelled", failed.FailureReason)
	assert.Equal(t, uint64(100_000_000), e.position(t, investorA).Shares)

	// The pair is free to start over.
	next, resumed, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.NotEqual(t, req.ID, next.ID)

	require.ErrorIs(t, e.withdrawals.Fail(t.Context(), req.ID, "again"), domain.ErrInvalidTransition)
}

func TestFinalize_PayoutFailureIsRetryable(t *testing.T) {
	e := profitablePool(t)
	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)
	_, err = e.batcher.RunBatch(t.Context(), req.ID)
	require.NoError(t, err)

	e.ledger.FailNext(1)
	_, _, err = e.withdrawals.Finalize(t.Context(), req.ID)
	require.ErrorIs(t, err, domain.ErrExecutionFailed)

	pending := e.request(t, req.ID)
	assert.Equal(t, domain.WithdrawalReadyToFinalize, pending.Status)
	require.NotNil(t, pending.Settlement)
	assert.Equal(t, uint64(100_000_000), e.pool(t).TotalShares)

	receipt, _, err := e.withdrawals.Finalize(t.Context(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, *pending.Settlement, receipt.Settlement)
}

func TestFinalize_CommittedSettlementClosesLiquidation(t *testing.T) {
	e := profitablePool(t)
	e.agg.setNoRoute(solMint, true)

	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)
	_, err = e.withdrawals.LiquidateAsset(t.Context(), req.ID, refMint)
	require.NoError(t, err)

	e.ledger.FailNext(1)
	_, _, err = e.withdrawals.Finalize(t.Context(), req.ID)
	require.ErrorIs(t, err, domain.ErrExecutionFailed)

	pending := e.request(t, req.ID)
	assert.Equal(t, domain.WithdrawalReadyToFinalize, pending.Status)
	require.NotNil(t, pending.Settlement)

	e.agg.setNoRoute(solMint, false)
	_, err = e.withdrawals.LiquidateAsset(t.Context(), req.ID, solMint)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = e.db.Withdrawals().RecordLiquidation(t.Context(), domain.LiquidationStep{
		RequestID: req.ID,
		Mint:      refMint,
		AmountIn:  1,
		AmountOut: 1,
	}, 100_000_000)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	receipt, _, err := e.withdrawals.Finalize(t.Context(), req.ID)
	require.NoError(t, err)
	done := e.request(t, req.ID)
	assert.Equal(t, done.SolAccumulated, receipt.Settlement.Gross)
	assert.Equal(t, uint64(50_000_000), receipt.Settlement.Gross)
	assert.Equal(t, uint64(500_000_000), e.balance(t, vault, solMint))
	require.Len(t, receipt.Liquidations, 1)
}

func TestWithdrawal_RoundTripLeavesNoResidue(t *testing.T) {
	e := newTestEnv(t)
	e.fund(t, investorA, 25_000_000, "tx-a")
	e.fund(t, investorB, 75_000_000, "tx-b")
	e.credit(t, vault, solMint, 400_000_000)

	reqA, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)
	reqB, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorB, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(7500), reqB.FractionBps)

	for _, id := range []string{reqA.ID, reqB.ID} {
		batch, err := e.batcher.RunBatch(t.Context(), id)
		require.NoError(t, err)
		require.True(t, batch.Ready)
	}

	ra, _, err := e.withdrawals.Finalize(t.Context(), reqA.ID)
	require.NoError(t, err)
	rb, _, err := e.withdrawals.Finalize(t.Context(), reqB.ID)
	require.NoError(t, err)

	assert.Equal(t, uint64(37_000_000), ra.Settlement.Gross)
	assert.Equal(t, uint64(111_000_000), rb.Settlement.Gross)

	assert.Zero(t, e.pool(t).TotalShares)
	assert.Zero(t, e.balance(t, vault, refMint))
	assert.Zero(t, e.balance(t, vault, solMint))

	paid := e.balance(t, investorA, refMint) + e.balance(t, investorB, refMint) +
		e.balance(t, operator, refMint) + e.balance(t, treasury, refMint)
	assert.Equal(t, uint64(148_000_000), paid)

	for _, r := range []domain.Receipt{ra, rb} {
		st := r.Settlement
		assert.Equal(t, st.Gross, st.Net+st.PlatformFee+st.PerformanceFee)
	}
}
