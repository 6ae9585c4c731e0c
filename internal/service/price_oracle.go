package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fundsettle/internal/amount"
	"github.com/alanyoungcy/fundsettle/internal/domain"
	"github.com/alanyoungcy/fundsettle/internal/metrics"
)

// PriceOracleConfig holds price freshness and quoting parameters.
type PriceOracleConfig struct {
	TTL         time.Duration
	SlippageBps uint32
}

// PriceOracle prices pool assets in reference units. Prices are cached for
// TTL; expired prices are refreshed by quoting one whole unit through the
// aggregator and served stale when the refresh fails.
type PriceOracle struct {
	cache  domain.PriceCache
	agg    domain.Aggregator
	cfg    PriceOracleConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewPriceOracle creates a PriceOracle with all required dependencies.
func NewPriceOracle(
	cache domain.PriceCache,
	agg domain.Aggregator,
	cfg PriceOracleConfig,
	logger *slog.Logger,
) *PriceOracle {
	if cfg.TTL <= 0 {
		cfg.TTL = 300 * time.Second
	}
	return &PriceOracle{
		cache:  cache,
		agg:    agg,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "price_oracle")),
		now:    time.Now,
	}
}

// priceKey scopes a cached price to the reference asset it is quoted in.
func priceKey(referenceMint, mint string) string {
	return mint + ":" + referenceMint
}

// PriceOf returns the reference-unit price of one whole unit of asset. The
// second result is false when no price, fresh or stale, is available. It
// never fails: cache and aggregator errors degrade to stale or no price.
func (o *PriceOracle) PriceOf(ctx context.Context, pool domain.Pool, asset domain.PoolAsset) (domain.PriceQuote, bool) {
	now := o.now()
	if pool.IsReference(asset.Mint) {
		par, err := amount.ToUint64(amount.Pow10(pool.ReferenceDecimals))
		if err != nil {
			return domain.PriceQuote{}, false
		}
		return domain.PriceQuote{AmountPerUnit: par, AsOf: now}, true
	}

	key := priceKey(pool.ReferenceMint, asset.Mint)
	cached, err := o.cache.GetPrice(ctx, key)
	hasCached := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		o.logger.WarnContext(ctx, "price cache read failed",
			slog.String("mint", asset.Mint),
			slog.String("error", err.Error()),
		)
	}
	if hasCached && now.Sub(cached.AsOf) <= o.cfg.TTL {
		metrics.RecordPriceLookup("cache")
		return cached, true
	}

	fresh, err := o.quoteUnit(ctx, pool, asset)
	if err == nil {
		if werr := o.cache.SetPrice(ctx, key, fresh.AmountPerUnit, fresh.AsOf); werr != nil {
			o.logger.WarnContext(ctx, "price cache write failed",
				slog.String("mint", asset.Mint),
				slog.String("error", werr.Error()),
			)
		}
		metrics.RecordPriceLookup("quote")
		return fresh, true
	}

	if hasCached {
		o.logger.WarnContext(ctx, "serving stale price",
			slog.String("mint", asset.Mint),
			slog.Time("as_of", cached.AsOf),
			slog.String("error", err.Error()),
		)
		metrics.RecordPriceLookup("stale")
		return cached, true
	}

	o.logger.WarnContext(ctx, "no price available",
		slog.String("mint", asset.Mint),
		slog.String("error", err.Error()),
	)
	metrics.RecordPriceLookup("unpriced")
	return domain.PriceQuote{}, false
}

// ValueOf converts amt of asset into reference units. The second result is
// false when the asset has no price.
func (o *PriceOracle) ValueOf(ctx context.Context, pool domain.Pool, asset domain.PoolAsset, amt uint64) (uint64, bool) {
	if pool.IsReference(asset.Mint) {
		return amt, true
	}
	if amt == 0 {
		return 0, true
	}
	price, ok := o.PriceOf(ctx, pool, asset)
	if !ok {
		return 0, false
	}
	v, err := amount.Value(amt, price.AmountPerUnit, asset.Decimals)
	if err != nil {
		o.logger.WarnContext(ctx, "value overflow",
			slog.String("mint", asset.Mint),
			slog.Uint64("amount", amt),
			slog.String("error", err.Error()),
		)
		return 0, false
	}
	return v, true
}

func (o *PriceOracle) quoteUnit(ctx context.Context, pool domain.Pool, asset domain.PoolAsset) (domain.PriceQuote, error) {
	unit, err := amount.ToUint64(amount.Pow10(asset.Decimals))
	if err != nil {
		return domain.PriceQuote{}, err
	}
	route, err := o.agg.Quote(ctx, domain.QuoteRequest{
		InputMint:   asset.Mint,
		OutputMint:  pool.ReferenceMint,
		Amount:      unit,
		SlippageBps: o.cfg.SlippageBps,
	})
	if err != nil {
		return domain.PriceQuote{}, err
	}
	return domain.PriceQuote{AmountPerUnit: route.OutAmount, AsOf: o.now()}, nil
}
