// Package journal records ledger submissions in a local bbolt file keyed by
// the caller's idempotency key. A submitter consults it before signing so a
// retried key resumes confirmation of the original transaction instead of
// sending a second one.
package journal

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

var bucketSubmissions = []byte("submissions")

var (
	// ErrNotFound indicates no submission is recorded for the key.
	ErrNotFound = errors.New("journal: submission not found")
	// ErrKeyRequired indicates an entry without an idempotency key.
	ErrKeyRequired = errors.New("journal: key required")
)

// Status is the lifecycle of one submission.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Entry is one journaled submission.
type Entry struct {
	Key                  string
	Signature            string
	Status               Status
	LastValidBlockHeight uint64
	Execution            domain.Execution
	Error                string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Journal wraps a bbolt database.
type Journal struct {
	db *bbolt.DB
}

// Open opens or creates the journal at path, creating its directory.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("journal: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSubmissions)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: create bucket: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error { return j.db.Close() }

// Get returns the entry for key or ErrNotFound.
func (j *Journal) Get(key string) (Entry, error) {
	var e Entry
	err := j.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSubmissions).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		return gob.NewDecoder(bytes.NewReader(data)).Decode(&e)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("journal: get %s: %w", key, err)
	}
	return e, nil
}

// Put writes e, keeping the original CreatedAt of an existing entry.
func (j *Journal) Put(e Entry) error {
	if e.Key == "" {
		return ErrKeyRequired
	}
	now := time.Now().UTC()
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSubmissions)
		e.CreatedAt = now
		if prev := b.Get([]byte(e.Key)); prev != nil {
			var old Entry
			if err := gob.NewDecoder(bytes.NewReader(prev)).Decode(&old); err == nil {
				e.CreatedAt = old.CreatedAt
			}
		}
		e.UpdatedAt = now

		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(e); err != nil {
			return fmt.Errorf("journal: encode %s: %w", e.Key, err)
		}
		return b.Put([]byte(e.Key), buf.Bytes())
	})
}

// Delete removes the entry for key. Missing keys are not an error.
func (j *Journal) Delete(key string) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSubmissions).Delete([]byte(key))
	})
}

// List returns entries in a status, in key order. An empty status lists
// everything.
func (j *Journal) List(status Status) ([]Entry, error) {
	var out []Entry
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSubmissions).ForEach(func(k, v []byte) error {
			var e Entry
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&e); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			if status == "" || e.Status == status {
				out = append(out, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return out, nil
}
