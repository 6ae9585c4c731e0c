package service

import (
	"fmt"

	"cosmossdk.io/math"

	"github.com/alanyoungcy/fundsettle/internal/amount"
	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// FeeSchedule holds the rates applied when a withdrawal is finalized.
type FeeSchedule struct {
	PlatformFeeBps    uint32
	PerformanceFeeBps uint32
	OperatorSplitBps  uint32
}

// FeeScheduleFor returns the schedule configured on a pool.
func FeeScheduleFor(p domain.Pool) FeeSchedule {
	return FeeSchedule{
		PlatformFeeBps:    p.PlatformFeeBps,
		PerformanceFeeBps: p.PerformanceFeeBps,
		OperatorSplitBps:  p.OperatorSplitBps,
	}
}

// DecomposeFees splits a gross payout into platform fee, performance fee
// (itself split between operator and treasury) and the investor's net:
//
//	platform  = floor(V * platformBps / 10000)
//	R         = V - platform
//	perf      = floor(R * max(0, V - cost) * perfBps / (V * 10000))
//	operator  = floor(perf * splitBps / 10000)
//	treasury  = perf - operator
//	net       = R - perf
//
// The components always sum back to V.
func DecomposeFees(gross, costBasis uint64, fs FeeSchedule) (domain.Settlement, error) {
	if fs.PlatformFeeBps > domain.BpsDenominator ||
		fs.PerformanceFeeBps > domain.BpsDenominator ||
		fs.OperatorSplitBps > domain.BpsDenominator {
		return domain.Settlement{}, fmt.Errorf("fees: rate above %d bps: %w", domain.BpsDenominator, domain.ErrInvalidAmount)
	}

	s := domain.Settlement{Gross: gross, CostBasis: costBasis}
	if gross == 0 {
		return s, nil
	}

	platform, err := amount.MulDiv(gross, uint64(fs.PlatformFeeBps), domain.BpsDenominator)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("fees: platform fee: %w", err)
	}
	remainder := gross - platform

	var perf uint64
	if gross > costBasis && fs.PerformanceFeeBps > 0 {
		profit := gross - costBasis
		num := amount.Int(remainder).Mul(amount.Int(profit)).Mul(amount.Int(uint64(fs.PerformanceFeeBps)))
		den := amount.Int(gross).Mul(math.NewInt(domain.BpsDenominator))
		perf, err = amount.ToUint64(num.Quo(den))
		if err != nil {
			return domain.Settlement{}, fmt.Errorf("fees: performance fee: %w", err)
		}
	}

	operator, err := amount.MulDiv(perf, uint64(fs.OperatorSplitBps), domain.BpsDenominator)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("fees: operator share: %w", err)
	}

	s.PlatformFee = platform
	s.Remainder = remainder
	s.PerformanceFee = perf
	s.OperatorShare = operator
	s.TreasuryShare = perf - operator
	s.Net = remainder - perf
	return s, nil
}

// ProRataCostBasis attributes the cost basis of a position to the shares
// being withdrawn: floor(costBasis * shares / positionShares).
func ProRataCostBasis(costBasis, shares, positionShares uint64) (uint64, error) {
	if positionShares == 0 {
		return 0, nil
	}
	if shares >= positionShares {
		return costBasis, nil
	}
	return amount.MulDiv(costBasis, shares, positionShares)
}
