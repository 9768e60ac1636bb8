// Package extract turns origin pages into lightweight renderings through a
// pluggable backend, under a hard deadline and a circuit breaker.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-edge/internal/markup"
)

// Payload rejections. Both count as backend failures for the breaker.
var (
	ErrEmptyRendering = errors.New("extract: empty rendering")
	ErrHTMLRendering  = errors.New("extract: backend returned HTML")
	ErrBackendPanic   = errors.New("extract: backend panicked")
)

// MarkdownContentType is the media type of every rendering.
const MarkdownContentType = "text/markdown; charset=utf-8"

// Rendering is a successful extraction.
type Rendering struct {
	Content     string
	Title       string
	ContentType string
	// Original is the page the rendering was derived from, when the backend
	// exposes it. Used for comparison snapshots and size accounting.
	Original []byte
}

// Backend produces a rendering for a URL. Implementations must honor ctx.
type Backend interface {
	Name() string
	Extract(ctx context.Context, url string) (Rendering, error)
}

// Config tunes the Gateway.
type Config struct {
	Timeout time.Duration
	// BreakerFailureRatio and BreakerMinRequests trip the breaker once the
	// ratio of failures over the last BreakerMinRequests calls is reached.
	BreakerFailureRatio float64
	BreakerMinRequests  int
	// BreakerDelay is how long the breaker stays open before probing.
	BreakerDelay time.Duration
	// OnStateChange observes breaker transitions, e.g. for a gauge.
	OnStateChange func(open bool)
	Logger        *zap.Logger
}

const (
	defaultTimeout      = 8 * time.Second
	defaultFailureRatio = 0.5
	defaultMinRequests  = 20
	defaultBreakerDelay = 15 * time.Second
)

// Gateway wraps a Backend so that every failure collapses to "no rendering".
type Gateway struct {
	backend  Backend
	timeout  time.Duration
	breaker  circuitbreaker.CircuitBreaker[Rendering]
	executor failsafe.Executor[Rendering]
	logger   *zap.Logger
}

// NewGateway builds a Gateway around backend.
func NewGateway(backend Backend, cfg Config) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BreakerFailureRatio <= 0 || cfg.BreakerFailureRatio > 1 {
		cfg.BreakerFailureRatio = defaultFailureRatio
	}
	if cfg.BreakerMinRequests <= 0 {
		cfg.BreakerMinRequests = defaultMinRequests
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = defaultBreakerDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("extract").With(zap.String("backend", backend.Name()))

	threshold := uint(float64(cfg.BreakerMinRequests) * cfg.BreakerFailureRatio)
	if threshold < 1 {
		threshold = 1
	}
	breaker := circuitbreaker.NewBuilder[Rendering]().
		WithFailureThresholdRatio(threshold, uint(cfg.BreakerMinRequests)).
		WithDelay(cfg.BreakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			logger.Warn("extraction breaker state change",
				zap.String("from", stateName(event.OldState)),
				zap.String("to", stateName(event.NewState)),
			)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(event.NewState == circuitbreaker.OpenState)
			}
		}).
		Build()

	return &Gateway{
		backend:  backend,
		timeout:  cfg.Timeout,
		breaker:  breaker,
		executor: failsafe.With[Rendering](breaker),
		logger:   logger,
	}
}

// Extract returns a rendering of url, or ok=false on any failure: timeout,
// backend error, malformed payload, or an open breaker.
func (g *Gateway) Extract(ctx context.Context, url string) (Rendering, bool) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	rendering, err := g.executor.WithContext(ctx).Get(func() (r Rendering, err error) {
		// A panic counts as a breaker failure like any other.
		defer func() {
			if p := recover(); p != nil {
				r, err = Rendering{}, fmt.Errorf("%w: %v", ErrBackendPanic, p)
			}
		}()
		r, err = g.backend.Extract(ctx, url)
		if err != nil {
			return Rendering{}, err
		}
		return validate(r)
	})
	if err != nil {
		g.logger.Info("extraction failed", zap.String("url", url), zap.Error(err))
		return Rendering{}, false
	}
	return rendering, true
}

// BreakerOpen reports whether the breaker is currently shedding calls.
func (g *Gateway) BreakerOpen() bool {
	return g.breaker.IsOpen()
}

// Backend returns the wrapped backend's name.
func (g *Gateway) Backend() string {
	return g.backend.Name()
}

func validate(r Rendering) (Rendering, error) {
	if strings.TrimSpace(r.Content) == "" {
		return Rendering{}, ErrEmptyRendering
	}
	if markup.LooksLikeHTML(r.Content) {
		return Rendering{}, ErrHTMLRendering
	}
	if r.ContentType == "" {
		r.ContentType = MarkdownContentType
	}
	return r, nil
}

func stateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.ClosedState:
		return "closed"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	case circuitbreaker.OpenState:
		return "open"
	default:
		return fmt.Sprintf("state(%d)", state)
	}
}
