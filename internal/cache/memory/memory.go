// Package memory implements the domain cache interfaces in process memory
// for paper mode and tests. Semantics mirror the Redis implementations:
// SETNX-style locks and documents, hash-per-mint prices, fan-out pub/sub.
package memory

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// PriceCache implements domain.PriceCache.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]domain.PriceQuote
}

// NewPriceCache creates an empty PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]domain.PriceQuote)}
}

// SetPrice stores the latest price for mint.
func (c *PriceCache) SetPrice(_ context.Context, mint string, amountPerUnit uint64, asOf time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[mint] = domain.PriceQuote{AmountPerUnit: amountPerUnit, AsOf: asOf}
	return nil
}

// GetPrice returns the cached price or domain.ErrNotFound.
func (c *PriceCache) GetPrice(_ context.Context, mint string) (domain.PriceQuote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.prices[mint]
	if !ok {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	return q, nil
}

// GetPrices returns the cached prices that exist among mints.
func (c *PriceCache) GetPrices(_ context.Context, mints []string) (map[string]domain.PriceQuote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]domain.PriceQuote, len(mints))
	for _, m := range mints {
		if q, ok := c.prices[m]; ok {
			out[m] = q
		}
	}
	return out, nil
}

type document struct {
	value     []byte
	expiresAt time.Time
}

func (d document) expired(now time.Time) bool {
	return !d.expiresAt.IsZero() && !now.Before(d.expiresAt)
}

// DocumentStore implements domain.DocumentStore with lazy expiry.
type DocumentStore struct {
	mu   sync.Mutex
	docs map[string]document
	now  func() time.Time
}

// NewDocumentStore creates an empty DocumentStore.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[string]document), now: time.Now}
}

// SetClock overrides the time source used for expiry.
func (s *DocumentStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Get returns the stored value or domain.ErrNotFound.
func (s *DocumentStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[key]
	if !ok || d.expired(s.now()) {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), d.value...), nil
}

// Put overwrites the value. A zero ttl keeps the key forever.
func (s *DocumentStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = s.newDocument(value, ttl)
	return nil
}

// PutIfAbsent stores value only when key is missing or expired.
func (s *DocumentStore) PutIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[key]; ok && !d.expired(s.now()) {
		return false, nil
	}
	s.docs[key] = s.newDocument(value, ttl)
	return true, nil
}

func (s *DocumentStore) newDocument(value []byte, ttl time.Duration) document {
	d := document{value: append([]byte(nil), value...)}
	if ttl > 0 {
		d.expiresAt = s.now().Add(ttl)
	}
	return d
}

// LockManager implements domain.LockManager. TTLs are honoured so a lock
// whose holder never unlocks is eventually released.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]lease
	seq   uint64
	clock func() time.Time
}

type lease struct {
	token     uint64
	expiresAt time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lease), clock: time.Now}
}

// Acquire obtains key once or returns domain.ErrLockHeld.
func (m *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if l, ok := m.held[key]; ok && now.Before(l.expiresAt) {
		return nil, domain.ErrLockHeld
	}
	m.seq++
	token := m.seq
	m.held[key] = lease{token: token, expiresAt: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if l, ok := m.held[key]; ok && l.token == token {
				delete(m.held, key)
			}
		})
	}, nil
}

// AcquireWait polls Acquire every few milliseconds until it succeeds,
// maxWait elapses or ctx is done.
func (m *LockManager) AcquireWait(ctx context.Context, key string, ttl, maxWait time.Duration) (func(), error) {
	deadline := time.Now().Add(maxWait)
	for {
		unlock, err := m.Acquire(ctx, key, ttl)
		if !errors.Is(err, domain.ErrLockHeld) || !time.Now().Before(deadline) {
			return unlock, err
		}
		timer := time.NewTimer(5 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Held reports whether key is currently locked.
func (m *LockManager) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.held[key]
	return ok && m.clock().Before(l.expiresAt)
}

// RateLimiter implements domain.RateLimiter with a per-key sliding window.
type RateLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter creates a RateLimiter whose Wait admits limit calls per
// window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{hits: make(map[string][]time.Time), limit: limit, window: window}
}

// Allow reports whether one more call fits in the window and counts it.
func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)
	kept := r.hits[key][:0]
	for _, t := range r.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		r.hits[key] = kept
		return false, nil
	}
	r.hits[key] = append(kept, now)
	return true, nil
}

// Wait blocks until a call for key is admitted or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		ok, err := r.Allow(ctx, key, r.limit, r.window)
		if err != nil || ok {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// SignalBus implements domain.SignalBus. Subscribers whose buffer is full
// miss messages, like a slow Redis Pub/Sub client.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
	}
}

// Publish delivers payload to every subscriber whose pattern matches channel.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for pattern, chans := range b.subs {
		if !matches(pattern, channel) {
			continue
		}
		for _, ch := range chans {
			select {
			case ch <- append([]byte(nil), payload...):
			default:
			}
		}
	}
	return nil
}

// Subscribe registers a subscriber; "*" matches every channel.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[channel]
		for i, c := range chans {
			if c == ch {
				b.subs[channel] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func matches(pattern, channel string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(channel, prefix)
	}
	return pattern == channel
}

// StreamAppend appends payload to a stream. IDs are sequence numbers.
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.streams[stream]
	id := strconv.Itoa(len(msgs) + 1)
	b.streams[stream] = append(msgs, domain.StreamMessage{ID: id, Payload: append([]byte(nil), payload...)})
	return nil
}

// StreamRead returns up to count messages after lastID.
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.streams[stream]
	start := 0
	if n, err := strconv.Atoi(lastID); err == nil && n > 0 {
		start = n
	}
	if start >= len(msgs) {
		return nil, nil
	}
	out := msgs[start:]
	if count > 0 && count < len(out) {
		out = out[:count]
	}
	return append([]domain.StreamMessage(nil), out...), nil
}

// Compile-time interface checks.
var (
	_ domain.PriceCache    = (*PriceCache)(nil)
	_ domain.DocumentStore = (*DocumentStore)(nil)
	_ domain.LockManager   = (*LockManager)(nil)
	_ domain.RateLimiter   = (*RateLimiter)(nil)
	_ domain.SignalBus     = (*SignalBus)(nil)
)
