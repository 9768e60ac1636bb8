// Package usage keeps approximate per-tenant extraction counters in the KV
// store, bucketed by hour.
package usage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/crawler-edge/internal/clock"
	"github.com/JakeFAU/crawler-edge/internal/kvstore"
)

const bucketLayout = "2006010215"

// Counter increments usage:<tenant>:<bucket> keys. Increments are a plain
// get then put, so concurrent writers can lose updates.
type Counter struct {
	store     kvstore.Store
	clock     clock.Clock
	retention time.Duration
	bucket    time.Duration
}

// New returns a Counter. A zero bucket means hourly buckets.
func New(store kvstore.Store, c clock.Clock, retention, bucket time.Duration) *Counter {
	if c == nil {
		c = clock.New()
	}
	if bucket <= 0 {
		bucket = time.Hour
	}
	return &Counter{store: store, clock: c, retention: retention, bucket: bucket}
}

// Key names the counter for tenantID at t.
func (c *Counter) Key(tenantID string, t time.Time) string {
	return fmt.Sprintf("usage:%s:%s", tenantID, t.UTC().Truncate(c.bucket).Format(bucketLayout))
}

// Increment adds one extraction to the tenant's current bucket. Anonymous
// traffic is not counted.
func (c *Counter) Increment(ctx context.Context, tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return nil
	}
	key := c.Key(tenantID, c.clock.Now())
	current, err := c.read(ctx, key)
	if err != nil {
		return err
	}
	if err := c.store.Put(ctx, key, []byte(strconv.FormatInt(current+1, 10)), c.retention); err != nil {
		return fmt.Errorf("write usage counter: %w", err)
	}
	return nil
}

// Count returns the counter for the bucket containing t.
func (c *Counter) Count(ctx context.Context, tenantID string, t time.Time) (int64, error) {
	return c.read(ctx, c.Key(tenantID, t))
}

func (c *Counter) read(ctx context.Context, key string) (int64, error) {
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read usage counter: %w", err)
	}
	if !found {
		return 0, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		// A garbled counter restarts from zero.
		return 0, nil
	}
	return n, nil
}
