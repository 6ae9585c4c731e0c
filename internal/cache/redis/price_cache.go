package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/fundsettle/internal/domain"
	"github.com/redis/go-redis/v9"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each mint's price is stored at key "price:{mint}" with fields "amount"
// (reference base units per whole unit) and "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. Keys expire
// after retention so abandoned mints do not accumulate; retention should be
// well above the oracle freshness window since stale entries still serve as
// fallback.
func NewPriceCache(c *Client, retention time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: retention}
}

func priceKey(mint string) string {
	return "price:" + mint
}

// SetPrice stores the latest price and observation time for a mint.
func (pc *PriceCache) SetPrice(ctx context.Context, mint string, amountPerUnit uint64, asOf time.Time) error {
	key := priceKey(mint)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"amount": strconv.FormatUint(amountPerUnit, 10),
		"ts":     strconv.FormatInt(asOf.UnixNano(), 10),
	})
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", mint, err)
	}
	return nil
}

// GetPrice retrieves the cached price for a mint.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrice(ctx context.Context, mint string) (domain.PriceQuote, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(mint)).Result()
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get price %s: %w", mint, err)
	}
	q, err := parsePriceHash(vals)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.PriceQuote{}, err
		}
		return domain.PriceQuote{}, fmt.Errorf("redis: parse price %s: %w", mint, err)
	}
	return q, nil
}

// GetPrices retrieves cached prices for several mints in one pipeline.
// Mints without a usable entry are omitted from the result map.
func (pc *PriceCache) GetPrices(ctx context.Context, mints []string) (map[string]domain.PriceQuote, error) {
	if len(mints) == 0 {
		return map[string]domain.PriceQuote{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(mints))
	for _, m := range mints {
		cmds[m] = pipe.HGetAll(ctx, priceKey(m))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]domain.PriceQuote, len(mints))
	for m, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		q, err := parsePriceHash(vals)
		if err != nil {
			continue
		}
		result[m] = q
	}
	return result, nil
}

func parsePriceHash(vals map[string]string) (domain.PriceQuote, error) {
	amountStr, ok := vals["amount"]
	if !ok {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		return domain.PriceQuote{}, err
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.PriceQuote{}, err
	}
	return domain.PriceQuote{AmountPerUnit: amount, AsOf: time.Unix(0, tsNano)}, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
