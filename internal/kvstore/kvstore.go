// Package kvstore defines the key-value collaborator shared by the cache,
// tenant lookups and usage counters.
package kvstore

import (
	"context"
	"time"
)

// Store is a minimal TTL-aware key-value store.
type Store interface {
	// Get returns the value for key. A missing key is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put overwrites key. A ttl <= 0 stores without expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Conditional is implemented by stores that can write atomically only when
// a key is absent.
type Conditional interface {
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// CompareDeleter is implemented by stores that can delete a key only while
// it still holds an expected value.
type CompareDeleter interface {
	DeleteIfValue(ctx context.Context, key string, value []byte) (bool, error)
}

// Pinger is implemented by stores with a cheap liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PutIfAbsent uses the store's atomic primitive when it has one and falls
// back to get-then-put otherwise. The fallback can race; callers must
// tolerate two winners.
func PutIfAbsent(ctx context.Context, s Store, key string, value []byte, ttl time.Duration) (bool, error) {
	if c, ok := s.(Conditional); ok {
		return c.PutIfAbsent(ctx, key, value, ttl)
	}
	_, found, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if found {
		return false, nil
	}
	if err := s.Put(ctx, key, value, ttl); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteIfValue removes key only if it still holds value. Stores without an
// atomic primitive get a get-compare-delete sequence.
func DeleteIfValue(ctx context.Context, s Store, key string, value []byte) (bool, error) {
	if c, ok := s.(CompareDeleter); ok {
		return c.DeleteIfValue(ctx, key, value)
	}
	current, found, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !found || string(current) != string(value) {
		return false, nil
	}
	if err := s.Delete(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}
