package domain

import (
	"context"
	"time"
)

// PriceQuote is a cached reference-asset price for one whole unit of an asset.
type PriceQuote struct {
	AmountPerUnit uint64
	AsOf          time.Time
}

// PriceCache provides fast access to the latest asset prices.
type PriceCache interface {
	SetPrice(ctx context.Context, mint string, amountPerUnit uint64, asOf time.Time) error
	GetPrice(ctx context.Context, mint string) (PriceQuote, error)
	GetPrices(ctx context.Context, mints []string) (map[string]PriceQuote, error)
}

// DocumentStore is a key/value store with an atomic put-if-absent.
type DocumentStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	// AcquireWait retries Acquire for up to maxWait and returns ErrLockHeld
	// if the lock is still held.
	AcquireWait(ctx context.Context, key string, ttl, maxWait time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channels carrying settlement events.
const (
	ChannelWithdrawals  = "withdrawals"
	ChannelLiquidations = "liquidations"
	ChannelReceipts     = "receipts"
	ChannelDeposits     = "deposits"
	ChannelNAV          = "nav"
)
