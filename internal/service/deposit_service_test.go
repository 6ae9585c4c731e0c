package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

func TestSharesFor(t *testing.T) {
	tests := []struct {
		name             string
		amt, shares, nav uint64
		want             uint64
		wantErr          error
	}{
		{name: "bootstrap empty pool", amt: 100, shares: 0, nav: 0, want: 100},
		{name: "bootstrap worthless pool", amt: 100, shares: 50, nav: 0, want: 100},
		{name: "proportional", amt: 50, shares: 100, nav: 200, want: 25},
		{name: "floors", amt: 10, shares: 3, nav: 7, want: 4},
		{name: "zero amount", amt: 0, shares: 100, nav: 100, wantErr: domain.ErrInvalidAmount},
		{name: "rounds to zero", amt: 1, shares: 1, nav: 1_000, wantErr: domain.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SharesFor(tt.amt, tt.shares, tt.nav)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeposit_BootstrapMintsOneToOne(t *testing.T) {
	e := newTestEnv(t)

	rec := e.fund(t, investorA, 100_000_000, "tx-1")
	assert.Equal(t, uint64(100_000_000), rec.SharesMinted)
	assert.Zero(t, rec.NAVBefore)

	pool := e.pool(t)
	assert.Equal(t, uint64(100_000_000), pool.TotalShares)
	assert.Equal(t, uint64(100_000_000), pool.TotalAssets)

	pos := e.position(t, investorA)
	assert.Equal(t, uint64(100_000_000), pos.Shares)
	assert.Equal(t, uint64(100_000_000), pos.TotalDeposited)
	assert.Equal(t, uint64(100_000_000), pos.CostBasis)
}

func TestDeposit_ProportionalSecondDeposit(t *testing.T) {
	e := newTestEnv(t)
	e.fund(t, investorA, 100_000_000, "tx-1")
	// The pool doubles in value before the second deposit.
	e.credit(t, vault, refMint, 100_000_000)

	rec := e.fund(t, investorB, 50_000_000, "tx-2")
	assert.Equal(t, uint64(200_000_000), rec.NAVBefore)
	assert.Equal(t, uint64(25_000_000), rec.SharesMinted)
	assert.Equal(t, uint64(125_000_000), e.pool(t).TotalShares)
}

func TestDeposit_DuplicateFundingRefReturnsOriginal(t *testing.T) {
	e := newTestEnv(t)
	first := e.fund(t, investorA, 10_000_000, "tx-1")

	again, err := e.deposits.Deposit(t.Context(), testPool, investorA, 10_000_000, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, uint64(10_000_000), e.pool(t).TotalShares)

	history, err := e.deposits.History(t.Context(), testPool, investorA, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestDeposit_WithoutFundingRefValuesPoolAsIs(t *testing.T) {
	e := newTestEnv(t)
	e.fund(t, investorA, 100_000_000, "tx-1")

	rec, err := e.deposits.Deposit(t.Context(), testPool, investorB, 100_000_000, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000_000), rec.NAVBefore)
	assert.Equal(t, uint64(100_000_000), rec.SharesMinted)
}

func TestDeposit_Rejects(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.deposits.Deposit(t.Context(), testPool, investorA, 0, "")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = e.deposits.Deposit(t.Context(), "missing", investorA, 1, "")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
