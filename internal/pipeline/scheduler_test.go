package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/fundsettle/internal/cache/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func countingJob(name string, runs *atomic.Int32) Job {
	return Job{
		Name:     name,
		Interval: time.Minute,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}
}

func TestRunBucket_OneInstancePerBucket(t *testing.T) {
	claims := memcache.NewDocumentStore()
	a := NewScheduler(claims, "instance-a", testLogger())
	b := NewScheduler(claims, "instance-b", testLogger())

	var runs atomic.Int32
	job := countingJob("sweep", &runs)
	bucket := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	ran, err := a.RunBucket(t.Context(), job, bucket, 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ran)

	ran, err = b.RunBucket(t.Context(), job, bucket, 2*time.Minute)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, int32(1), runs.Load())

	owner, err := claims.Get(t.Context(), "job:sweep:1767268800")
	require.NoError(t, err)
	assert.Equal(t, "instance-a", string(owner))

	ran, err = b.RunBucket(t.Context(), job, bucket.Add(time.Minute), 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int32(2), runs.Load())
}

func TestRunBucket_NoClaimsAlwaysRuns(t *testing.T) {
	s := NewScheduler(nil, "solo", testLogger())
	var runs atomic.Int32
	job := countingJob("nav", &runs)
	bucket := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for range 3 {
		ran, err := s.RunBucket(t.Context(), job, bucket, time.Minute)
		require.NoError(t, err)
		assert.True(t, ran)
	}
	assert.Equal(t, int32(3), runs.Load())
}

func TestRunBucket_JobErrorReturned(t *testing.T) {
	s := NewScheduler(memcache.NewDocumentStore(), "a", testLogger())
	boom := errors.New("boom")
	job := Job{Name: "fail", Interval: time.Minute, Run: func(context.Context) error { return boom }}

	ran, err := s.RunBucket(t.Context(), job, time.Now(), time.Minute)
	assert.True(t, ran)
	require.ErrorIs(t, err, boom)
}

func TestAdd_Validates(t *testing.T) {
	s := NewScheduler(nil, "a", testLogger())
	noop := func(context.Context) error { return nil }

	require.Error(t, s.Add(Job{Interval: time.Minute, Run: noop}))
	require.Error(t, s.Add(Job{Name: "x", Interval: time.Minute}))
	require.Error(t, s.Add(Job{Name: "x", Run: noop}))
	require.Error(t, s.Add(Job{Name: "x", Interval: time.Minute, Cron: "* * * * *", Run: noop}))
	require.Error(t, s.Add(Job{Name: "x", Cron: "bad", Run: noop}))
	require.NoError(t, s.Add(Job{Name: "x", Cron: "0 3 1 * *", Run: noop}))
	assert.Equal(t, []string{"x"}, s.Jobs())
}

func TestRun_IntervalJobRunsImmediatelyAndStops(t *testing.T) {
	s := NewScheduler(memcache.NewDocumentStore(), "a", testLogger())
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add(Job{
		Name:     "tick",
		Interval: time.Hour,
		Run: func(context.Context) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		},
	}))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on start")
	}
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
