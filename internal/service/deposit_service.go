package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/fundsettle/internal/amount"
	"github.com/alanyoungcy/fundsettle/internal/domain"
	"github.com/alanyoungcy/fundsettle/internal/metrics"
)

// DepositService issues pool shares against deposits of the reference asset.
type DepositService struct {
	deposits domain.DepositStore
	pools    domain.PoolStore
	nav      *NAVEstimator
	events   events
	logger   *slog.Logger
}

// NewDepositService creates a DepositService. bus and audit may be nil.
func NewDepositService(
	deposits domain.DepositStore,
	pools domain.PoolStore,
	nav *NAVEstimator,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *DepositService {
	logger = logger.With(slog.String("component", "deposit_service"))
	return &DepositService{
		deposits: deposits,
		pools:    pools,
		nav:      nav,
		events:   events{bus: bus, audit: audit, logger: logger},
		logger:   logger,
	}
}

// SharesFor returns the shares minted for a deposit of amt into a pool with
// totalShares outstanding and value navBefore. An empty or worthless pool
// mints 1:1; otherwise floor(amt * totalShares / navBefore).
func SharesFor(amt, totalShares, navBefore uint64) (uint64, error) {
	if amt == 0 {
		return 0, domain.ErrInvalidAmount
	}
	if totalShares == 0 || navBefore == 0 {
		return amt, nil
	}
	shares, err := amount.MulDiv(amt, totalShares, navBefore)
	if err != nil {
		return 0, err
	}
	if shares == 0 {
		return 0, domain.ErrInvalidAmount
	}
	return shares, nil
}

// Deposit mints shares for amt of the reference asset. When fundingRef is
// set the funds are taken to be in the vault already, so the valuation is
// reduced by amt, and a repeated fundingRef returns the original record.
func (s *DepositService) Deposit(ctx context.Context, poolID, investorID string, amt uint64, fundingRef string) (domain.DepositRecord, error) {
	if amt == 0 {
		metrics.RecordDeposit(poolID, "failed")
		return domain.DepositRecord{}, fmt.Errorf("deposit_service: deposit into %s: %w", poolID, domain.ErrInvalidAmount)
	}

	nav, err := s.nav.EstimateNAV(ctx, poolID)
	if err != nil {
		return domain.DepositRecord{}, fmt.Errorf("deposit_service: value pool %s: %w", poolID, err)
	}
	navBefore := nav.Total
	if fundingRef != "" {
		navBefore -= min(navBefore, amt)
	}

	intent := domain.DepositIntent{
		PoolID:     poolID,
		InvestorID: investorID,
		Amount:     amt,
		NAVBefore:  navBefore,
		FundingRef: fundingRef,
	}
	rec, err := s.deposits.Apply(ctx, intent, func(pool domain.Pool) (uint64, error) {
		return SharesFor(amt, pool.TotalShares, navBefore)
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) && rec.ID != "" {
			metrics.RecordDeposit(poolID, "duplicate")
			s.logger.InfoContext(ctx, "duplicate deposit",
				slog.String("pool_id", poolID),
				slog.String("funding_ref", fundingRef),
				slog.String("deposit_id", rec.ID),
			)
			return rec, nil
		}
		metrics.RecordDeposit(poolID, "failed")
		return domain.DepositRecord{}, fmt.Errorf("deposit_service: deposit into %s: %w", poolID, err)
	}
	metrics.RecordDeposit(poolID, "success")

	fields := map[string]any{
		"deposit_id":    rec.ID,
		"pool_id":       poolID,
		"investor_id":   investorID,
		"amount":        amt,
		"shares_minted": rec.SharesMinted,
		"nav_before":    navBefore,
	}
	s.events.publish(ctx, domain.ChannelDeposits, EventDepositApplied, fields)
	s.events.record(ctx, EventDepositApplied, fields)
	s.logger.InfoContext(ctx, "deposit applied",
		slog.String("pool_id", poolID),
		slog.String("investor_id", investorID),
		slog.Uint64("amount", amt),
		slog.Uint64("shares", rec.SharesMinted),
		slog.Uint64("nav_before", navBefore),
	)
	return rec, nil
}

// History returns an investor's deposits into a pool, newest first.
func (s *DepositService) History(ctx context.Context, poolID, investorID string, opts domain.ListOpts) ([]domain.DepositRecord, error) {
	recs, err := s.deposits.ListByInvestor(ctx, poolID, investorID, opts)
	if err != nil {
		return nil, fmt.Errorf("deposit_service: history %s/%s: %w", poolID, investorID, err)
	}
	return recs, nil
}
