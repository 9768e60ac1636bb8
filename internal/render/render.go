// Package render runs the crawler render pipeline: canonicalize the target,
// fingerprint it, and resolve the fingerprint through the lease-guarded
// cache with the extraction gateway as the fill. Successful extractions also
// feed usage counters and comparison snapshots off the request path.
package render

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-edge/internal/cache"
	"github.com/JakeFAU/crawler-edge/internal/canonical"
	"github.com/JakeFAU/crawler-edge/internal/clock"
	"github.com/JakeFAU/crawler-edge/internal/detach"
	"github.com/JakeFAU/crawler-edge/internal/extract"
	"github.com/JakeFAU/crawler-edge/internal/fetch"
	"github.com/JakeFAU/crawler-edge/internal/fingerprint"
	"github.com/JakeFAU/crawler-edge/internal/respond"
	"github.com/JakeFAU/crawler-edge/internal/snapshot"
	"github.com/JakeFAU/crawler-edge/internal/usage"
)

// ErrInvalidURL is returned when the target cannot be canonicalized.
var ErrInvalidURL = errors.New("render: invalid target url")

const defaultFallbackTimeout = 10 * time.Second

// Extractor is satisfied by *extract.Gateway.
type Extractor interface {
	Extract(ctx context.Context, url string) (extract.Rendering, bool)
}

// OriginFetcher retrieves the original page for fallbacks.
type OriginFetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (fetch.Response, error)
}

// Config wires a Pipeline. Usage, Snapshots and Origin are optional.
type Config struct {
	Canonicalizer   *canonical.Canonicalizer
	Fingerprinter   *fingerprint.Fingerprinter
	Cache           *cache.Cache
	Extractor       Extractor
	Origin          OriginFetcher
	Usage           *usage.Counter
	Snapshots       *snapshot.Archiver
	Runner          *detach.Runner
	Clock           clock.Clock
	FallbackTimeout time.Duration
	Logger          *zap.Logger
}

// Result is the outcome of one render.
type Result struct {
	// Content is set for hit and miss outcomes only.
	Content       string
	Outcome       cache.Outcome
	Canonical     string
	Fingerprint   string
	OriginalBytes int
}

// Rendered reports whether Content can be served.
func (r Result) Rendered() bool {
	return r.Outcome == cache.OutcomeHit || r.Outcome == cache.OutcomeMiss
}

// Pipeline renders targets for crawlers.
type Pipeline struct {
	canon     *canonical.Canonicalizer
	fp        *fingerprint.Fingerprinter
	cache     *cache.Cache
	extractor Extractor
	origin    OriginFetcher
	usage     *usage.Counter
	snapshots *snapshot.Archiver
	runner    *detach.Runner
	clock     clock.Clock
	fallback  time.Duration
	logger    *zap.Logger
}

// New builds a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Cache == nil || cfg.Extractor == nil {
		return nil, errors.New("render: cache and extractor are required")
	}
	p := &Pipeline{
		canon:     cfg.Canonicalizer,
		fp:        cfg.Fingerprinter,
		cache:     cfg.Cache,
		extractor: cfg.Extractor,
		origin:    cfg.Origin,
		usage:     cfg.Usage,
		snapshots: cfg.Snapshots,
		runner:    cfg.Runner,
		clock:     cfg.Clock,
		fallback:  cfg.FallbackTimeout,
		logger:    cfg.Logger,
	}
	if p.canon == nil {
		p.canon = canonical.New()
	}
	if p.fp == nil {
		p.fp = fingerprint.New(fingerprint.Version)
	}
	if p.clock == nil {
		p.clock = clock.New()
	}
	if p.fallback <= 0 {
		p.fallback = defaultFallbackTimeout
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.Named("render")
	if p.runner == nil {
		p.runner = detach.New(p.logger, 0)
	}
	return p, nil
}

// Render resolves target for tenantID, which may be empty for proxy
// traffic. Only an unusable target is an error; infrastructure failures are
// reported through the fallback and error outcomes.
func (p *Pipeline) Render(ctx context.Context, target, tenantID string) (Result, error) {
	canonicalURL, err := p.canon.Canonicalize(target)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	fp := p.fp.Of(canonicalURL)
	res := Result{Canonical: canonicalURL, Fingerprint: fp}

	resolved, err := p.cache.Resolve(ctx, fp, p.fill(canonicalURL, fp, tenantID))
	res.Outcome = resolved.Outcome
	if err != nil {
		p.logger.Warn("cache unavailable, falling back",
			zap.String("url", canonicalURL),
			zap.String("fp", fp),
			zap.Error(err),
		)
		res.Outcome = cache.OutcomeError
		return res, nil
	}
	if res.Rendered() {
		res.Content = resolved.Entry.Content
		res.OriginalBytes = resolved.Entry.OriginalBytes
	}
	return res, nil
}

func (p *Pipeline) fill(canonicalURL, fp, tenantID string) cache.FillFunc {
	return func(ctx context.Context) (cache.Entry, bool) {
		rendering, ok := p.extractor.Extract(ctx, canonicalURL)
		if !ok {
			return cache.Entry{}, false
		}
		now := p.clock.Now()
		if p.usage != nil {
			p.runner.Go(ctx, "usage-increment", func(ctx context.Context) error {
				return p.usage.Increment(ctx, tenantID)
			})
		}
		if p.snapshots != nil {
			snap := snapshot.Snapshot{
				URL:         canonicalURL,
				Host:        hostOf(canonicalURL),
				Fingerprint: fp,
				TenantID:    tenantID,
				CreatedAt:   now,
				Original:    rendering.Original,
				Rendered:    rendering.Content,
			}
			p.runner.Go(ctx, "snapshot-archive", func(ctx context.Context) error {
				_, err := p.snapshots.Archive(ctx, snap)
				return err
			})
		}
		return cache.Entry{
			URL:           canonicalURL,
			Content:       rendering.Content,
			CreatedAt:     now,
			OriginalBytes: len(rendering.Original),
		}, true
	}
}

// Original fetches the page a crawler should see when no rendering is
// available. Only language preferences from the inbound request are
// forwarded.
func (p *Pipeline) Original(ctx context.Context, target string, inbound http.Header) (fetch.Response, error) {
	if p.origin == nil {
		return fetch.Response{}, errors.New("render: no origin fetcher configured")
	}
	ctx, cancel := context.WithTimeout(ctx, p.fallback)
	defer cancel()
	resp, err := p.origin.Fetch(ctx, fetch.Request{URL: target, Headers: respond.SafeFallbackHeaders(inbound)})
	if err != nil {
		return fetch.Response{}, fmt.Errorf("fetch original: %w", err)
	}
	return resp, nil
}

func hostOf(rawURL string) string {
	host, err := canonical.Hostname(rawURL)
	if err != nil {
		return ""
	}
	return host
}
