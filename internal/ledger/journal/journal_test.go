package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

func tempJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal", "submissions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_PutAndGet(t *testing.T) {
	j := tempJournal(t)

	e := Entry{
		Key:                  "payout:req-1",
		Signature:            "sig-1",
		Status:               StatusPending,
		LastValidBlockHeight: 1234,
	}
	require.NoError(t, j.Put(e))

	got, err := j.Get("payout:req-1")
	require.NoError(t, err)
	assert.Equal(t, "sig-1", got.Signature)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, uint64(1234), got.LastValidBlockHeight)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestJournal_GetMissing(t *testing.T) {
	j := tempJournal(t)
	_, err := j.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJournal_PutRequiresKey(t *testing.T) {
	j := tempJournal(t)
	assert.ErrorIs(t, j.Put(Entry{}), ErrKeyRequired)
}

func TestJournal_UpdateKeepsCreatedAt(t *testing.T) {
	j := tempJournal(t)
	require.NoError(t, j.Put(Entry{Key: "k", Signature: "s", Status: StatusPending}))
	first, err := j.Get("k")
	require.NoError(t, err)

	exec := domain.Execution{
		OperationID: "s",
		Deltas:      map[string]int64{domain.BalanceKey("vault", "ref"): 500},
	}
	require.NoError(t, j.Put(Entry{Key: "k", Signature: "s", Status: StatusConfirmed, Execution: exec}))

	got, err := j.Get("k")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, first.CreatedAt, got.CreatedAt)
	d, ok := got.Execution.Delta("vault", "ref")
	assert.True(t, ok)
	assert.Equal(t, int64(500), d)
}

func TestJournal_ListByStatus(t *testing.T) {
	j := tempJournal(t)
	require.NoError(t, j.Put(Entry{Key: "a", Status: StatusPending}))
	require.NoError(t, j.Put(Entry{Key: "b", Status: StatusConfirmed}))
	require.NoError(t, j.Put(Entry{Key: "c", Status: StatusPending}))

	pending, err := j.List(StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].Key)
	assert.Equal(t, "c", pending[1].Key)

	all, err := j.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestJournal_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.db")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Put(Entry{Key: "liq:r:m:0", Signature: "sig", Status: StatusConfirmed}))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	got, err := j.Get("liq:r:m:0")
	require.NoError(t, err)
	assert.Equal(t, "sig", got.Signature)
}

func TestJournal_Delete(t *testing.T) {
	j := tempJournal(t)
	require.NoError(t, j.Put(Entry{Key: "k", Status: StatusFailed}))
	require.NoError(t, j.Delete("k"))
	_, err := j.Get("k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, j.Delete("k"))
}
