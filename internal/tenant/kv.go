package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/crawler-edge/internal/fingerprint"
	"github.com/JakeFAU/crawler-edge/internal/kvstore"
)

const (
	hashedKeyPrefix = "tenant:hashed:"
	legacyKeyPrefix = "tenant:legacy:"
)

// HashedKV looks credentials up by their SHA-256 hex digest.
type HashedKV struct {
	store kvstore.Store
}

// NewHashedKV wraps store.
func NewHashedKV(store kvstore.Store) *HashedKV {
	return &HashedKV{store: store}
}

// Name implements Lookup.
func (h *HashedKV) Name() string { return "kv-hashed" }

// Find implements Lookup.
func (h *HashedKV) Find(ctx context.Context, credential string) (Tenant, bool, error) {
	return findKV(ctx, h.store, HashedKey(credential))
}

// Store writes t under the credential's hashed key with no expiry.
func (h *HashedKV) Store(ctx context.Context, credential string, t Tenant) error {
	raw, err := Encode(t)
	if err != nil {
		return err
	}
	if err := h.store.Put(ctx, HashedKey(credential), raw, 0); err != nil {
		return fmt.Errorf("write hashed tenant: %w", err)
	}
	return nil
}

// LegacyKV looks credentials up by their raw value.
type LegacyKV struct {
	store kvstore.Store
}

// NewLegacyKV wraps store.
func NewLegacyKV(store kvstore.Store) *LegacyKV {
	return &LegacyKV{store: store}
}

// Name implements Lookup.
func (l *LegacyKV) Name() string { return "kv-legacy" }

// Find implements Lookup.
func (l *LegacyKV) Find(ctx context.Context, credential string) (Tenant, bool, error) {
	return findKV(ctx, l.store, legacyKeyPrefix+credential)
}

// HashedKey is the store key for a credential's hashed record.
func HashedKey(credential string) string {
	return hashedKeyPrefix + fingerprint.HashCredential(credential)
}

// LegacyKey is the store key for a credential's plaintext-era record.
func LegacyKey(credential string) string {
	return legacyKeyPrefix + credential
}

func findKV(ctx context.Context, store kvstore.Store, key string) (Tenant, bool, error) {
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return Tenant{}, false, fmt.Errorf("read tenant: %w", err)
	}
	if !ok {
		return Tenant{}, false, nil
	}
	t, err := Decode(raw)
	if errors.Is(err, ErrCorruptRecord) {
		// An undecodable record cannot authorize anything.
		return Tenant{}, false, nil
	}
	if err != nil {
		return Tenant{}, false, err
	}
	return t, true, nil
}

// Legacy marks this lookup as the plaintext-era store.
func (l *LegacyKV) Legacy() bool { return true }
