package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

func sampleReceipt(investor, ref string) domain.Receipt {
	return domain.Receipt{
		RequestID:    "req-" + ref,
		PoolID:       testPool,
		InvestorID:   investor,
		SharesBurned: 10,
		FractionBps:  1000,
		Settlement:   domain.Settlement{Gross: 110_000_000, Net: 106_920_000, PlatformFee: 1_100_000, PerformanceFee: 1_980_000, OperatorShare: 1_584_000, TreasuryShare: 396_000},
		FinalizeRef:  ref,
	}
}

func TestRecord_IdempotentOnNaturalKey(t *testing.T) {
	e := newTestEnv(t)

	first, err := e.settlements.Record(t.Context(), sampleReceipt(investorA, "sig-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.ReceiptNaturalKey(testPool, investorA, "sig-1"), first.NaturalKey)
	assert.Equal(t, ReceiptID(first.NaturalKey), first.ID)

	retry := sampleReceipt(investorA, "sig-1")
	retry.SharesBurned = 99
	second, err := e.settlements.Record(t.Context(), retry)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, uint64(10), second.SharesBurned, "stored receipt is immutable")

	all, err := e.settlements.FindByInvestor(t.Context(), investorA, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	audit, err := e.db.Audit().List(t.Context(), domain.ListOpts{})
	require.NoError(t, err)
	recorded := 0
	for _, a := range audit {
		if a.Event == EventReceiptRecorded {
			recorded++
		}
	}
	assert.Equal(t, 1, recorded)
}

func TestFindByInvestorAndPool(t *testing.T) {
	e := newTestEnv(t)
	for _, r := range []domain.Receipt{
		sampleReceipt(investorA, "sig-1"),
		sampleReceipt(investorA, "sig-2"),
		sampleReceipt(investorB, "sig-3"),
	} {
		_, err := e.settlements.Record(t.Context(), r)
		require.NoError(t, err)
	}

	a, err := e.settlements.FindByInvestor(t.Context(), investorA, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, a, 2)

	b, err := e.settlements.FindByInvestor(t.Context(), investorB, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Equal(t, "sig-3", b[0].FinalizeRef)

	none, err := e.settlements.FindByInvestor(t.Context(), "nobody", domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, none)

	pool, err := e.settlements.FindByPool(t.Context(), testPool, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, pool, 2)

	_, err = e.settlements.Get(t.Context(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReceiptIDIsDeterministic(t *testing.T) {
	k := domain.ReceiptNaturalKey(testPool, investorA, "sig-1")
	assert.Equal(t, ReceiptID(k), ReceiptID(k))
	assert.NotEqual(t, ReceiptID(k), ReceiptID(domain.ReceiptNaturalKey(testPool, investorB, "sig-1")))
}

func TestSummary(t *testing.T) {
	s := Summary(sampleReceipt(investorA, "sig-1"), 6)
	assert.Contains(t, s, "gross 110")
	assert.Contains(t, s, "net 106.92")
	assert.Contains(t, s, "operator 1.584")
}
