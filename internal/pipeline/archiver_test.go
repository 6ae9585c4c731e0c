package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchiver struct {
	months  []time.Time
	cutoffs []time.Time
	err     error
}

func (f *fakeArchiver) ArchiveReceipts(_ context.Context, month time.Time) (int64, error) {
	f.months = append(f.months, month)
	return 2, f.err
}

func (f *fakeArchiver) ArchiveAudit(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 1, nil
}

func (f *fakeArchiver) ExportStatement(context.Context, string) (string, error) {
	return "", nil
}

func TestArchiver_RunCoversPreviousAndCurrentMonth(t *testing.T) {
	fake := &fakeArchiver{}
	a := NewArchiver(fake, 90, testLogger())
	a.now = func() time.Time { return time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC) }

	require.NoError(t, a.Run(t.Context()))
	assert.Equal(t, []time.Time{
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}, fake.months)
	require.Len(t, fake.cutoffs, 1)
	assert.Equal(t, time.Date(2025, 12, 1, 3, 0, 0, 0, time.UTC), fake.cutoffs[0])
}

func TestArchiver_RunStopsOnReceiptError(t *testing.T) {
	fake := &fakeArchiver{err: errors.New("bucket gone")}
	a := NewArchiver(fake, 90, testLogger())

	require.Error(t, a.Run(t.Context()))
	assert.Empty(t, fake.cutoffs)
}
