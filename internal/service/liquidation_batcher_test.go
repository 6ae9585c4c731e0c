package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

func TestRunBatch_ToleratesPartialFailure(t *testing.T) {
	e := profitablePool(t)
	e.credit(t, vault, bonkMint, 1_000_000_000)
	e.agg.setNoRoute(solMint, true)

	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)

	first, err := e.batcher.RunBatch(t.Context(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Attempt)
	assert.False(t, first.Ready)
	outcomes := map[string]domain.LiquidationOutcome{}
	for _, o := range first.Outcomes {
		outcomes[o.Mint] = o.Outcome
	}
	assert.Equal(t, domain.OutcomeNoRoute, outcomes[solMint])
	assert.Equal(t, domain.OutcomeSettled, outcomes[bonkMint])
	assert.Equal(t, domain.OutcomeSettled, outcomes[refMint])
	assert.Equal(t, domain.WithdrawalLiquidating, e.request(t, req.ID).Status)

	e.agg.setNoRoute(solMint, false)
	second, err := e.batcher.RunBatch(t.Context(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Attempt)
	assert.True(t, second.Ready)
	assert.Equal(t, domain.OutcomeSettled, second.Outcomes[0].Outcome)
	assert.Equal(t, domain.OutcomeAlreadyLiquidated, second.Outcomes[1].Outcome)
	assert.Equal(t, domain.OutcomeAlreadyLiquidated, second.Outcomes[2].Outcome)

	got := e.request(t, req.ID)
	assert.Equal(t, domain.WithdrawalReadyToFinalize, got.Status)
	// 50 REF + 60 REF from SOLX + 0.2 REF from BONK.
	assert.Equal(t, uint64(110_200_000), got.SolAccumulated)
}

func TestRunBatch_ReadyIsNoop(t *testing.T) {
	e := profitablePool(t)
	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)

	_, err = e.batcher.RunBatch(t.Context(), req.ID)
	require.NoError(t, err)
	submissions := e.ledger.Submissions()

	res, err := e.batcher.RunBatch(t.Context(), req.ID)
	require.NoError(t, err)
	assert.True(t, res.Ready)
	assert.Empty(t, res.Outcomes)
	assert.Equal(t, 1, e.request(t, req.ID).Attempts)
	assert.Equal(t, submissions, e.ledger.Submissions())
}

func TestRunBatch_TerminalRequest(t *testing.T) {
	e := profitablePool(t)
	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)
	require.NoError(t, e.withdrawals.Fail(t.Context(), req.ID, "test"))

	_, err = e.batcher.RunBatch(t.Context(), req.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = e.batcher.RunBatch(t.Context(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunBatch_AggregatorOutageKeepsRequestOpen(t *testing.T) {
	e := profitablePool(t)
	req, _, err := e.withdrawals.Initiate(t.Context(), testPool, investorA, 0)
	require.NoError(t, err)

	e.agg.setDown(true)
	res, err := e.batcher.RunBatch(t.Context(), req.ID)
	require.NoError(t, err)
	assert.False(t, res.Ready)
	assert.Equal(t, domain.OutcomeNoRoute, res.Outcomes[0].Outcome)
	assert.Equal(t, domain.OutcomeSettled, res.Outcomes[2].Outcome)
}
