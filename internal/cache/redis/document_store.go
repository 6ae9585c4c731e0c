package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/fundsettle/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DocumentStore implements domain.DocumentStore with plain string keys under
// the "doc:" prefix. PutIfAbsent is a single SETNX, which is what makes it
// usable as a compare-and-swap claim.
type DocumentStore struct {
	rdb *redis.Client
}

// NewDocumentStore creates a DocumentStore backed by the given Client.
func NewDocumentStore(c *Client) *DocumentStore {
	return &DocumentStore{rdb: c.Underlying()}
}

func docKey(key string) string {
	return "doc:" + key
}

// Get returns the stored value or domain.ErrNotFound.
func (ds *DocumentStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := ds.rdb.Get(ctx, docKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get document %s: %w", key, err)
	}
	return val, nil
}

// Put overwrites the value. A zero ttl keeps the key forever.
func (ds *DocumentStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ds.rdb.Set(ctx, docKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put document %s: %w", key, err)
	}
	return nil
}

// PutIfAbsent stores value only when key does not exist and reports whether
// this call created it.
func (ds *DocumentStore) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := ds.rdb.SetNX(ctx, docKey(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: put-if-absent document %s: %w", key, err)
	}
	return ok, nil
}

// Compile-time interface check.
var _ domain.DocumentStore = (*DocumentStore)(nil)
