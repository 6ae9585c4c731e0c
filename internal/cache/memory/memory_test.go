package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

func TestDocumentStoreExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewDocumentStore()
	s.SetClock(func() time.Time { return now })
	ctx := t.Context()

	ok, err := s.PutIfAbsent(ctx, "job:sweep:1", []byte("a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.PutIfAbsent(ctx, "job:sweep:1", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	_, err = s.Get(ctx, "job:sweep:1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	ok, err = s.PutIfAbsent(ctx, "job:sweep:1", []byte("b"), 0)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(365 * 24 * time.Hour)
	v, err := s.Get(ctx, "job:sweep:1")
	require.NoError(t, err)
	assert.Equal(t, "b", string(v))
}

func TestLockManager(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewLockManager()
	m.clock = func() time.Time { return now }
	ctx := t.Context()

	unlock, err := m.Acquire(ctx, "withdraw:pool-1:alice", time.Minute)
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "withdraw:pool-1:alice", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	assert.False(t, m.Held("withdraw:pool-1:alice"))

	// An expired lease is taken over, and the stale unlock leaves the new
	// holder alone.
	stale, err := m.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	now = now.Add(2 * time.Second)
	_, err = m.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	stale()
	assert.True(t, m.Held("k"))
}

func TestLockManagerAcquireWait(t *testing.T) {
	m := NewLockManager()
	ctx := t.Context()

	unlock, err := m.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	_, err = m.AcquireWait(ctx, "k", time.Minute, 20*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	go func() {
		time.Sleep(20 * time.Millisecond)
		unlock()
	}()
	next, err := m.AcquireWait(ctx, "k", time.Minute, 5*time.Second)
	require.NoError(t, err)
	next()
	assert.False(t, m.Held("k"))
}

func TestRateLimiterAllow(t *testing.T) {
	r := NewRateLimiter(2, time.Hour)
	ctx := t.Context()

	for i, want := range []bool{true, true, false} {
		ok, err := r.Allow(ctx, "ip:1", 2, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, want, ok, "call %d", i)
	}
	ok, err := r.Allow(ctx, "ip:2", 2, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	r := NewRateLimiter(1, time.Hour)
	require.NoError(t, r.Wait(t.Context(), "rpc"))

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, r.Wait(ctx, "rpc"), context.DeadlineExceeded)
}

func TestSignalBusPatternsAndStreams(t *testing.T) {
	b := NewSignalBus()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	all, err := b.Subscribe(ctx, "*")
	require.NoError(t, err)
	receipts, err := b.Subscribe(ctx, domain.ChannelReceipts)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, domain.ChannelReceipts, []byte("r1")))
	require.NoError(t, b.Publish(ctx, domain.ChannelNAV, []byte("n1")))

	assert.Equal(t, "r1", string(<-receipts))
	assert.Equal(t, "r1", string(<-all))
	assert.Equal(t, "n1", string(<-all))
	select {
	case msg := <-receipts:
		t.Fatalf("unexpected message %q", msg)
	default:
	}

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, b.StreamAppend(ctx, "audit", []byte(p)))
	}
	msgs, err := b.StreamRead(ctx, "audit", "1", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "2", msgs[0].ID)
	assert.Equal(t, "b", string(msgs[0].Payload))

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-receipts
		return !open
	}, time.Second, 10*time.Millisecond)
}
