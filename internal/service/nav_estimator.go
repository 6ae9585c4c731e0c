package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cosmossdk.io/math"

	"github.com/alanyoungcy/fundsettle/internal/amount"
	"github.com/alanyoungcy/fundsettle/internal/domain"
	"github.com/alanyoungcy/fundsettle/internal/metrics"
)

// NAVEstimator values pools from ledger balances and oracle prices.
type NAVEstimator struct {
	pools  domain.PoolStore
	ledger domain.Ledger
	oracle *PriceOracle
	docs   domain.DocumentStore
	events events
	ttl    time.Duration
	logger *slog.Logger
}

// NewNAVEstimator creates a NAVEstimator. docs and bus may be nil when
// snapshots are not persisted.
func NewNAVEstimator(
	pools domain.PoolStore,
	ledger domain.Ledger,
	oracle *PriceOracle,
	docs domain.DocumentStore,
	bus domain.SignalBus,
	ttl time.Duration,
	logger *slog.Logger,
) *NAVEstimator {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	logger = logger.With(slog.String("component", "nav_estimator"))
	return &NAVEstimator{
		pools:  pools,
		ledger: ledger,
		oracle: oracle,
		docs:   docs,
		events: events{bus: bus, logger: logger},
		ttl:    ttl,
		logger: logger,
	}
}

func navKey(poolID string) string {
	return "nav:" + poolID
}

// Holdings reads the vault balance of every liquidatable asset of the pool.
func (e *NAVEstimator) Holdings(ctx context.Context, pool domain.Pool) (domain.Holdings, error) {
	assets := pool.Liquidatable()
	holdings := make(domain.Holdings, len(assets))
	for _, a := range assets {
		bal, err := e.ledger.TokenBalance(ctx, pool.Vault, a.Mint)
		if err != nil {
			return nil, fmt.Errorf("nav_estimator: balance of %s in pool %s: %w", a.Mint, pool.ID, err)
		}
		holdings[a.Mint] = bal
	}
	return holdings, nil
}

// EstimateNAV values the pool with the given id.
func (e *NAVEstimator) EstimateNAV(ctx context.Context, poolID string) (domain.NAV, error) {
	pool, err := e.pools.GetByID(ctx, poolID)
	if err != nil {
		return domain.NAV{}, fmt.Errorf("nav_estimator: get pool %s: %w", poolID, err)
	}
	return e.Estimate(ctx, pool)
}

// Estimate values every vault asset in reference units. Unpriced assets
// count as zero and mark the result degraded.
func (e *NAVEstimator) Estimate(ctx context.Context, pool domain.Pool) (domain.NAV, error) {
	holdings, err := e.Holdings(ctx, pool)
	if err != nil {
		return domain.NAV{}, err
	}

	now := time.Now().UTC()
	nav := domain.NAV{PoolID: pool.ID, AsOf: now, ExpiresAt: now.Add(e.ttl)}
	total := math.ZeroInt()
	for _, a := range pool.Liquidatable() {
		bal := holdings[a.Mint]
		row := domain.AssetValue{Mint: a.Mint, Balance: bal}
		if bal > 0 {
			price, ok := e.oracle.PriceOf(ctx, pool, a)
			if ok {
				v, verr := amount.Value(bal, price.AmountPerUnit, a.Decimals)
				if verr == nil {
					row.UnitPrice = price.AmountPerUnit
					row.Value = v
					row.Priced = true
				}
			}
			if !row.Priced {
				nav.Degraded = true
				e.logger.WarnContext(ctx, "asset unpriced, valued at zero",
					slog.String("pool_id", pool.ID),
					slog.String("mint", a.Mint),
					slog.Uint64("balance", bal),
				)
			}
		} else {
			row.Priced = true
		}
		total = total.Add(amount.Int(row.Value))
		nav.Assets = append(nav.Assets, row)
	}

	nav.Total, err = amount.ToUint64(total)
	if err != nil {
		return domain.NAV{}, fmt.Errorf("nav_estimator: total of pool %s: %w", pool.ID, err)
	}
	return nav, nil
}

// Snapshot estimates a pool, records the valuation on the pool row, caches
// it until it expires and publishes it.
func (e *NAVEstimator) Snapshot(ctx context.Context, poolID string) (domain.NAV, error) {
	nav, err := e.EstimateNAV(ctx, poolID)
	if err != nil {
		return domain.NAV{}, err
	}

	if err := e.pools.UpdateTotalAssets(ctx, poolID, nav.Total); err != nil {
		return domain.NAV{}, fmt.Errorf("nav_estimator: update pool %s: %w", poolID, err)
	}
	metrics.SetPoolNAV(poolID, nav.Total)

	if e.docs != nil {
		data, err := json.Marshal(nav)
		if err != nil {
			return domain.NAV{}, fmt.Errorf("nav_estimator: marshal snapshot: %w", err)
		}
		if err := e.docs.Put(ctx, navKey(poolID), data, e.ttl); err != nil {
			e.logger.WarnContext(ctx, "cache nav snapshot failed",
				slog.String("pool_id", poolID),
				slog.String("error", err.Error()),
			)
		}
	}

	e.events.publish(ctx, domain.ChannelNAV, EventNAVSnapshot, map[string]any{
		"pool_id":  poolID,
		"total":    nav.Total,
		"degraded": nav.Degraded,
	})
	e.logger.InfoContext(ctx, "nav snapshot",
		slog.String("pool_id", poolID),
		slog.Uint64("total", nav.Total),
		slog.Bool("degraded", nav.Degraded),
	)
	return nav, nil
}

// SnapshotAll snapshots every pool and returns how many succeeded.
func (e *NAVEstimator) SnapshotAll(ctx context.Context) (int, error) {
	pools, err := e.pools.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("nav_estimator: list pools: %w", err)
	}
	var (
		n    int
		errs []error
	)
	for _, p := range pools {
		if _, err := e.Snapshot(ctx, p.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Latest returns the cached snapshot of a pool, estimating a fresh one when
// none is cached.
func (e *NAVEstimator) Latest(ctx context.Context, poolID string) (domain.NAV, error) {
	if e.docs != nil {
		data, err := e.docs.Get(ctx, navKey(poolID))
		if err == nil {
			var nav domain.NAV
			if err := json.Unmarshal(data, &nav); err == nil {
				return nav, nil
			}
		}
	}
	return e.EstimateNAV(ctx, poolID)
}
