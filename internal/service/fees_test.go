package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

var defaultSchedule = FeeSchedule{PlatformFeeBps: 100, PerformanceFeeBps: 2000, OperatorSplitBps: 8000}

func TestDecomposeFees_ProfitScenario(t *testing.T) {
	s, err := DecomposeFees(110_000_000_000, 100_000_000_000, defaultSchedule)
	require.NoError(t, err)

	assert.Equal(t, uint64(1_100_000_000), s.PlatformFee)
	assert.Equal(t, uint64(108_900_000_000), s.Remainder)
	assert.Equal(t, uint64(1_980_000_000), s.PerformanceFee)
	assert.Equal(t, uint64(1_584_000_000), s.OperatorShare)
	assert.Equal(t, uint64(396_000_000), s.TreasuryShare)
	assert.Equal(t, uint64(106_920_000_000), s.Net)
	assert.Equal(t, uint64(1_496_000_000), s.TreasuryTotal())
}

func TestDecomposeFees_NoProfitNoPerformanceFee(t *testing.T) {
	s, err := DecomposeFees(90_000_000, 100_000_000, defaultSchedule)
	require.NoError(t, err)
	assert.Equal(t, uint64(900_000), s.PlatformFee)
	assert.Zero(t, s.PerformanceFee)
	assert.Zero(t, s.OperatorShare)
	assert.Equal(t, uint64(89_100_000), s.Net)
}

func TestDecomposeFees_ZeroGross(t *testing.T) {
	s, err := DecomposeFees(0, 100, defaultSchedule)
	require.NoError(t, err)
	assert.Equal(t, domain.Settlement{CostBasis: 100}, s)
}

func TestDecomposeFees_Conservation(t *testing.T) {
	cases := []struct {
		gross, cost uint64
		fs          FeeSchedule
	}{
		{1, 0, defaultSchedule},
		{3, 1, defaultSchedule},
		{999_999_999, 123_456_789, defaultSchedule},
		{18_446_744_073_709_551_615, 1, defaultSchedule},
		{77_777, 0, FeeSchedule{PlatformFeeBps: 10_000, PerformanceFeeBps: 10_000, OperatorSplitBps: 10_000}},
		{1_000_003, 500_000, FeeSchedule{PlatformFeeBps: 33, PerformanceFeeBps: 1777, OperatorSplitBps: 5001}},
	}
	for _, c := range cases {
		s, err := DecomposeFees(c.gross, c.cost, c.fs)
		require.NoError(t, err)
		assert.Equal(t, c.gross, s.Net+s.PlatformFee+s.PerformanceFee, "gross %d", c.gross)
		assert.Equal(t, s.PerformanceFee, s.OperatorShare+s.TreasuryShare)
		assert.LessOrEqual(t, s.Net, s.Remainder)
	}
}

func TestDecomposeFees_RejectsRateAboveDenominator(t *testing.T) {
	_, err := DecomposeFees(100, 0, FeeSchedule{PlatformFeeBps: 10_001})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestProRataCostBasis(t *testing.T) {
	cb, err := ProRataCostBasis(100, 25, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), cb)

	cb, err = ProRataCostBasis(100, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), cb)

	cb, err = ProRataCostBasis(100, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(33), cb)

	cb, err = ProRataCostBasis(100, 1, 0)
	require.NoError(t, err)
	assert.Zero(t, cb)
}
