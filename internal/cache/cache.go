// Package cache stores lightweight renderings keyed by URL fingerprint and
// coordinates fills so that, per fingerprint, only one caller at a time
// talks to the extraction backend.
//
// Coordination uses an advisory lease in the shared store. It is a hint,
// not a lock: a lost lease only means a duplicate extraction.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/crawler-edge/internal/clock"
	"github.com/JakeFAU/crawler-edge/internal/detach"
	"github.com/JakeFAU/crawler-edge/internal/id"
	"github.com/JakeFAU/crawler-edge/internal/kvstore"
	"github.com/JakeFAU/crawler-edge/internal/markup"
)

const (
	entryKeyPrefix = "render:entry:"
	leaseKeyPrefix = "render:lease:"
)

// Outcome labels how a request was served. The string form is sent to
// clients in the X-Edge-Cache header.
type Outcome string

// Outcomes.
const (
	OutcomeHit      Outcome = "hit"
	OutcomeMiss     Outcome = "miss"
	OutcomeFallback Outcome = "fallback"
	OutcomeError    Outcome = "error"
	OutcomeBypass   Outcome = "bypass"
)

// Entry is one cached rendering. Entries are replaced wholesale.
type Entry struct {
	URL       string    `json:"url"`
	Content   string    `json:"content"`
	Schema    int       `json:"schema"`
	CreatedAt time.Time `json:"createdAt"`
	// OriginalBytes is the size of the page the rendering replaced.
	OriginalBytes int `json:"originalBytes,omitempty"`
}

// Result is what Resolve hands back to the request.
type Result struct {
	Entry   Entry
	Outcome Outcome
}

// FillFunc produces a fresh entry. ok=false means extraction failed and the
// caller should fall back to the original page.
type FillFunc func(ctx context.Context) (entry Entry, ok bool)

// Config controls entry lifetime and the wait on another holder's lease.
type Config struct {
	EntryTTL     time.Duration
	LeaseTTL     time.Duration
	PollInterval time.Duration
	PollAttempts int
	Schema       int
}

const (
	defaultEntryTTL     = 24 * time.Hour
	defaultLeaseTTL     = 30 * time.Second
	defaultPollInterval = 300 * time.Millisecond
	defaultPollAttempts = 10
	defaultSchema       = 1
)

// Cache implements the read-through, lease-guarded render cache.
type Cache struct {
	store  kvstore.Store
	cfg    Config
	clock  clock.Clock
	runner *detach.Runner
	logger *zap.Logger
	holder []byte
	group  singleflight.Group
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock overrides the clock used to stamp entries.
func WithClock(c clock.Clock) Option {
	return func(cache *Cache) {
		if c != nil {
			cache.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cache *Cache) {
		if logger != nil {
			cache.logger = logger
		}
	}
}

// WithRunner sets the runner used for write-back and lease cleanup.
func WithRunner(r *detach.Runner) Option {
	return func(cache *Cache) {
		if r != nil {
			cache.runner = r
		}
	}
}

// New builds a Cache over store. Zero Config fields take defaults.
func New(store kvstore.Store, cfg Config, opts ...Option) *Cache {
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = defaultEntryTTL
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = defaultPollAttempts
	}
	if cfg.Schema <= 0 {
		cfg.Schema = defaultSchema
	}
	c := &Cache{
		store:  store,
		cfg:    cfg,
		clock:  clock.New(),
		logger: zap.NewNop(),
		holder: []byte(id.New().RequestID()),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("cache")
	if c.runner == nil {
		c.runner = detach.New(c.logger, 0)
	}
	return c
}

// EntryKey is the store key for a fingerprint's entry.
func EntryKey(fp string) string { return entryKeyPrefix + fp }

// LeaseKey is the store key for a fingerprint's pending lease.
func LeaseKey(fp string) string { return leaseKeyPrefix + fp }

// Get reads an entry. Entries that fail to decode, carry another schema or
// hold HTML instead of a rendering are reported as absent.
func (c *Cache) Get(ctx context.Context, fp string) (Entry, bool, error) {
	raw, ok, err := c.store.Get(ctx, EntryKey(fp))
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache get: %w", err)
	}
	if !ok {
		return Entry{}, false, nil
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Debug("discarding undecodable entry", zap.String("fp", fp), zap.Error(err))
		return Entry{}, false, nil
	}
	if entry.Schema != c.cfg.Schema {
		return Entry{}, false, nil
	}
	if entry.Content == "" || markup.LooksLikeHTML(entry.Content) {
		c.logger.Debug("discarding poisoned entry", zap.String("fp", fp))
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Put overwrites the entry for fp with the configured TTL.
func (c *Cache) Put(ctx context.Context, fp string, entry Entry) error {
	if entry.Schema == 0 {
		entry.Schema = c.cfg.Schema
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.clock.Now()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	if err := c.store.Put(ctx, EntryKey(fp), raw, c.cfg.EntryTTL); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// TryAcquireLease claims the fill for fp. Stores without an atomic
// put-if-absent fall back to get-then-put, which can admit two holders.
func (c *Cache) TryAcquireLease(ctx context.Context, fp string) (bool, error) {
	ok, err := kvstore.PutIfAbsent(ctx, c.store, LeaseKey(fp), c.holder, c.cfg.LeaseTTL)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return ok, nil
}

// ReleaseLease drops this process's lease on fp. Failures are logged only;
// the lease TTL bounds the damage.
func (c *Cache) ReleaseLease(ctx context.Context, fp string) {
	if _, err := kvstore.DeleteIfValue(ctx, c.store, LeaseKey(fp), c.holder); err != nil {
		c.logger.Warn("release lease failed", zap.String("fp", fp), zap.Error(err))
	}
}

// Resolve serves fp from the cache or fills it through fill. Concurrent
// callers in this process share one resolution. The error is set only
// for OutcomeError.
func (c *Cache) Resolve(ctx context.Context, fp string, fill FillFunc) (Result, error) {
	ch := c.group.DoChan(fp, func() (any, error) {
		return c.resolve(context.WithoutCancel(ctx), fp, fill)
	})
	select {
	case res := <-ch:
		r, _ := res.Val.(Result)
		if res.Err != nil {
			return Result{Outcome: OutcomeError}, res.Err
		}
		return r, nil
	case <-ctx.Done():
		return Result{Outcome: OutcomeError}, fmt.Errorf("resolve %s: %w", fp, ctx.Err())
	}
}

func (c *Cache) resolve(ctx context.Context, fp string, fill FillFunc) (Result, error) {
	entry, ok, err := c.Get(ctx, fp)
	if err != nil {
		return Result{Outcome: OutcomeError}, err
	}
	if ok {
		return Result{Entry: entry, Outcome: OutcomeHit}, nil
	}

	acquired, err := c.TryAcquireLease(ctx, fp)
	if err != nil {
		return Result{Outcome: OutcomeError}, err
	}
	if !acquired {
		return c.awaitPeer(ctx, fp)
	}

	written := false
	defer func() {
		if !written {
			c.runner.Go(ctx, "lease-release", func(ctx context.Context) error {
				c.ReleaseLease(ctx, fp)
				return nil
			})
		}
	}()

	entry, ok = c.safeFill(ctx, fp, fill)
	if !ok {
		return Result{Outcome: OutcomeFallback}, nil
	}
	if entry.Schema == 0 {
		entry.Schema = c.cfg.Schema
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.clock.Now()
	}
	written = true
	c.runner.Go(ctx, "cache-write-back", func(ctx context.Context) error {
		// Write before release so waiters polling the entry see it.
		err := c.Put(ctx, fp, entry)
		c.ReleaseLease(ctx, fp)
		return err
	})
	return Result{Entry: entry, Outcome: OutcomeMiss}, nil
}

// safeFill runs fill and reports a panic as a failed fill. Resolutions run
// on a singleflight goroutine, where an escaping panic would end the process.
func (c *Cache) safeFill(ctx context.Context, fp string, fill FillFunc) (entry Entry, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("fill panicked", zap.String("fp", fp), zap.Any("panic", p))
			entry, ok = Entry{}, false
		}
	}()
	return fill(ctx)
}

// awaitPeer polls for the entry another holder is filling.
func (c *Cache) awaitPeer(ctx context.Context, fp string) (Result, error) {
	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()
	for attempt := 0; attempt < c.cfg.PollAttempts; attempt++ {
		if attempt > 0 {
			timer.Reset(c.cfg.PollInterval)
		}
		select {
		case <-ctx.Done():
			return Result{Outcome: OutcomeFallback}, nil
		case <-timer.C:
		}
		entry, ok, err := c.Get(ctx, fp)
		if err != nil {
			return Result{Outcome: OutcomeError}, err
		}
		if ok {
			return Result{Entry: entry, Outcome: OutcomeHit}, nil
		}
	}
	c.logger.Debug("gave up waiting on lease holder", zap.String("fp", fp))
	return Result{Outcome: OutcomeFallback}, nil
}
