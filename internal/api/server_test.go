package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawler-edge/internal/auth"
	"github.com/JakeFAU/crawler-edge/internal/botclass"
	"github.com/JakeFAU/crawler-edge/internal/cache"
	"github.com/JakeFAU/crawler-edge/internal/detach"
	"github.com/JakeFAU/crawler-edge/internal/events"
	"github.com/JakeFAU/crawler-edge/internal/extract"
	"github.com/JakeFAU/crawler-edge/internal/fetch"
	"github.com/JakeFAU/crawler-edge/internal/id"
	"github.com/JakeFAU/crawler-edge/internal/kvstore"
	"github.com/JakeFAU/crawler-edge/internal/kvstore/memory"
	"github.com/JakeFAU/crawler-edge/internal/proxy"
	"github.com/JakeFAU/crawler-edge/internal/render"
	"github.com/JakeFAU/crawler-edge/internal/respond"
	"github.com/JakeFAU/crawler-edge/internal/tenant"
)

const (
	gptBot = "Mozilla/5.0 AppleWebKit/537.36 (KHTML, like Gecko; compatible; GPTBot/1.0; +https://openai.com/gptbot)"
	chrome = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type fakeBackend struct {
	calls atomic.Int32
	err   error
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Extract(_ context.Context, target string) (extract.Rendering, error) {
	f.calls.Add(1)
	if f.err != nil {
		return extract.Rendering{}, f.err
	}
	return extract.Rendering{
		Content:  "# Rendered\n\nContent for " + target + "\n",
		Original: []byte("<html><body><h1>Rendered</h1><p>a much heavier original page</p></body></html>"),
	}, nil
}

type fakeOrigin struct {
	status int
	err    error
}

func (f fakeOrigin) Fetch(_ context.Context, req fetch.Request) (fetch.Response, error) {
	if f.err != nil {
		return fetch.Response{}, f.err
	}
	return fetch.Response{
		URL:        req.URL,
		StatusCode: f.status,
		Headers:    http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte("<html>original " + req.URL + "</html>"),
	}, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return events.Event{}
	}
	return r.events[len(r.events)-1]
}

type erroringLookup struct{}

func (erroringLookup) Name() string { return "broken" }

func (erroringLookup) Find(context.Context, string) (tenant.Tenant, bool, error) {
	return tenant.Tenant{}, false, errors.New("postgres: connection refused")
}

type harness struct {
	server  *Server
	backend *fakeBackend
	runner  *detach.Runner
	emitter *recordingEmitter
}

type harnessOptions struct {
	cacheStore kvstore.Store
	origin     render.OriginFetcher
	lookups    []tenant.Lookup
	proxies    *proxy.Registry
	backendErr error
	ready      func(context.Context) error
}

func newHarness(t *testing.T, opts harnessOptions) harness {
	t.Helper()
	ctx := context.Background()

	tenantStore := memory.New(nil)
	hashed := tenant.NewHashedKV(tenantStore)
	require.NoError(t, hashed.Store(ctx, "test-key", tenant.Tenant{
		ID:      "acme",
		Plan:    "pro",
		Domains: []string{"example.com", "127.0.0.1"},
	}))
	lookups := opts.lookups
	if lookups == nil {
		lookups = []tenant.Lookup{hashed, tenant.NewLegacyKV(tenantStore)}
	}

	cacheStore := opts.cacheStore
	if cacheStore == nil {
		cacheStore = memory.New(nil)
	}
	origin := opts.origin
	if origin == nil {
		origin = fakeOrigin{status: http.StatusOK}
	}

	runner := detach.New(nil, time.Second)
	backend := &fakeBackend{err: opts.backendErr}
	pipeline, err := render.New(render.Config{
		Cache:     cache.New(cacheStore, cache.Config{PollInterval: 5 * time.Millisecond, PollAttempts: 4}, cache.WithRunner(runner)),
		Extractor: extract.NewGateway(backend, extract.Config{Timeout: time.Second}),
		Origin:    origin,
		Runner:    runner,
	})
	require.NoError(t, err)

	emitter := &recordingEmitter{}
	server := NewServer(Config{
		Authorizer: auth.NewResolver(auth.Config{Lookups: lookups, Runner: runner}),
		Renderer:   pipeline,
		Bots:       botclass.New(),
		Proxies:    opts.proxies,
		Events:     emitter,
		Ready:      opts.ready,
		IDs:        id.New(),
	})
	return harness{server: server, backend: backend, runner: runner, emitter: emitter}
}

func (h harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func renderRequest(target, key, ua string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/render?url="+url.QueryEscape(target), nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	req.Header.Set("User-Agent", ua)
	return req
}

func TestRenderMissThenHitIsByteIdentical(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})

	first := h.do(renderRequest("https://example.com/docs", "test-key", gptBot))
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, "miss", first.Header().Get(respond.HeaderCache))
	require.Equal(t, respond.MarkdownContentType, first.Header().Get("Content-Type"))
	require.Contains(t, first.Body.String(), "# Rendered")
	require.NoError(t, h.runner.Wait(context.Background()))

	second := h.do(renderRequest("https://example.com/docs#section", "test-key", gptBot))
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, "hit", second.Header().Get(respond.HeaderCache))
	require.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	require.EqualValues(t, 1, h.backend.calls.Load())

	evt := h.emitter.Last()
	require.Equal(t, events.ModeAPI, evt.Mode)
	require.Equal(t, "hit", evt.Outcome)
	require.Equal(t, "acme", evt.TenantID)
	require.True(t, evt.Bot)
	require.Positive(t, evt.OriginalBytes)
}

func TestRenderAcceptsBearerToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	req := renderRequest("https://example.com/", "", gptBot)
	req.Header.Set("Authorization", "Bearer test-key")

	rec := h.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRenderTenantErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		target  string
		key     string
		lookups []tenant.Lookup
		status  int
		message string
	}{
		{name: "missing key", target: "https://example.com/", status: http.StatusUnauthorized, message: auth.ErrMissingCredential.Error()},
		{name: "unknown key", target: "https://example.com/", key: "nope", status: http.StatusUnauthorized, message: auth.ErrInvalidCredential.Error()},
		{name: "plain http", target: "http://example.com/", key: "test-key", status: http.StatusBadRequest, message: auth.ErrInsecureScheme.Error()},
		{name: "relative url", target: "/docs", key: "test-key", status: http.StatusBadRequest, message: auth.ErrMalformedURL.Error()},
		{name: "not allowlisted", target: "https://notallowed.example/", key: "test-key", status: http.StatusForbidden, message: auth.ErrDomainNotAllowed.Error()},
		{name: "private address", target: "https://127.0.0.1/admin", key: "test-key", status: http.StatusForbidden, message: auth.ErrPrivateAddress.Error()},
		{
			name:    "lookup backend down",
			target:  "https://example.com/",
			key:     "test-key",
			lookups: []tenant.Lookup{erroringLookup{}},
			status:  http.StatusServiceUnavailable,
			message: auth.ErrBackendUnavailable.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, harnessOptions{lookups: tt.lookups})
			rec := h.do(renderRequest(tt.target, tt.key, gptBot))

			require.Equal(t, tt.status, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tt.message, body["error"])
			require.NotEmpty(t, body["requestId"])
			require.Equal(t, rec.Header().Get(respond.HeaderRequestID), body["requestId"])
			require.NotContains(t, rec.Body.String(), "postgres")
			require.Zero(t, h.backend.calls.Load())
			require.Equal(t, "denied", h.emitter.Last().Outcome)
		})
	}
}

type downStore struct{}

func (downStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("redis: connection refused")
}

func (downStore) Put(context.Context, string, []byte, time.Duration) error {
	return errors.New("redis: connection refused")
}

func (downStore) Delete(context.Context, string) error {
	return errors.New("redis: connection refused")
}

func TestRenderFaultsStillServe200(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		opts         harnessOptions
		outcome      string
		originStatus string
	}{
		{
			name:         "extraction backend error",
			opts:         harnessOptions{backendErr: errors.New("backend 500"), origin: fakeOrigin{status: http.StatusNotFound}},
			outcome:      "fallback",
			originStatus: "404",
		},
		{
			name:         "extraction timeout",
			opts:         harnessOptions{backendErr: context.DeadlineExceeded, origin: fakeOrigin{status: http.StatusOK}},
			outcome:      "fallback",
			originStatus: "200",
		},
		{
			name:         "cache store unavailable",
			opts:         harnessOptions{cacheStore: downStore{}, origin: fakeOrigin{status: http.StatusOK}},
			outcome:      "error",
			originStatus: "200",
		},
		{
			name:    "origin unreachable too",
			opts:    harnessOptions{backendErr: errors.New("down"), origin: fakeOrigin{err: errors.New("dial tcp: refused")}},
			outcome: "error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, tt.opts)
			rec := h.do(renderRequest("https://example.com/page", "test-key", gptBot))

			require.Equal(t, http.StatusOK, rec.Code)
			require.Equal(t, tt.outcome, rec.Header().Get(respond.HeaderCache))
			require.Equal(t, tt.originStatus, rec.Header().Get(respond.HeaderOriginStatus))
			require.NotEmpty(t, rec.Body.String())
			if tt.originStatus != "" {
				require.Contains(t, rec.Body.String(), "original https://example.com/page")
			}
		})
	}
}

func newProxyRegistry(t *testing.T, exclude ...string) (*proxy.Registry, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("X-API-Key") != "" {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, "<html>not here</html>")
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, "<html>broken</html>")
		default:
			_, _ = io.WriteString(w, "<html>origin "+r.URL.Path+"</html>")
		}
	}))
	t.Cleanup(upstream.Close)

	reg, err := proxy.NewRegistry([]proxy.OriginConfig{{
		Host:     "docs.example.com",
		Upstream: upstream.URL,
		TenantID: "acme",
		Bots:     botclass.Overrides{Exclude: exclude},
	}}, proxy.Options{})
	require.NoError(t, err)
	return reg, &hits
}

func proxyRequest(method, path, ua string) *http.Request {
	req := httptest.NewRequest(method, "http://docs.example.com"+path, nil)
	req.Header.Set("User-Agent", ua)
	return req
}

func TestProxyBrowserPassesThroughUnchanged(t *testing.T) {
	t.Parallel()

	reg, hits := newProxyRegistry(t)
	h := newHarness(t, harnessOptions{proxies: reg})

	req := proxyRequest(http.MethodGet, "/missing", chrome)
	req.Header.Set("X-API-Key", "leak")
	rec := h.do(req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "404", rec.Header().Get(respond.HeaderOriginStatus))
	require.Equal(t, "bypass", rec.Header().Get(respond.HeaderCache))
	require.Equal(t, "<html>not here</html>", rec.Body.String())
	require.EqualValues(t, 1, hits.Load())
	require.Zero(t, h.backend.calls.Load())

	evt := h.emitter.Last()
	require.Equal(t, events.ModeProxy, evt.Mode)
	require.Equal(t, "bypass", evt.Outcome)
	require.Equal(t, http.StatusNotFound, evt.OriginStatus)
	require.False(t, evt.Bot)
}

func TestProxyCrawlerGetsRendering(t *testing.T) {
	t.Parallel()

	reg, hits := newProxyRegistry(t)
	h := newHarness(t, harnessOptions{proxies: reg})

	first := h.do(proxyRequest(http.MethodGet, "/guide?utm_source=x", gptBot))
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, "miss", first.Header().Get(respond.HeaderCache))
	require.Contains(t, first.Body.String(), "Content for https://docs.example.com/guide")
	require.NoError(t, h.runner.Wait(context.Background()))

	second := h.do(proxyRequest(http.MethodGet, "/guide", gptBot))
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, "hit", second.Header().Get(respond.HeaderCache))
	require.Equal(t, first.Body.String(), second.Body.String())
	require.Zero(t, hits.Load(), "renderings must not touch the origin through the proxy")
	require.EqualValues(t, 1, h.backend.calls.Load())
}

func TestProxyCrawlerFallbackIsAlways200(t *testing.T) {
	t.Parallel()

	reg, _ := newProxyRegistry(t)
	h := newHarness(t, harnessOptions{proxies: reg, backendErr: errors.New("backend down")})

	rec := h.do(proxyRequest(http.MethodGet, "/broken", gptBot))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "fallback", rec.Header().Get(respond.HeaderCache))
	require.Equal(t, "500", rec.Header().Get(respond.HeaderOriginStatus))
	require.Equal(t, "<html>broken</html>", rec.Body.String())
	require.Equal(t, http.StatusInternalServerError, h.emitter.Last().OriginStatus)
}

func TestProxyCrawlerWithStoreOutage(t *testing.T) {
	t.Parallel()

	reg, _ := newProxyRegistry(t)
	h := newHarness(t, harnessOptions{proxies: reg, cacheStore: downStore{}})

	rec := h.do(proxyRequest(http.MethodGet, "/page", gptBot))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "error", rec.Header().Get(respond.HeaderCache))
	require.Equal(t, "<html>origin /page</html>", rec.Body.String())
}

func TestProxyBypassesNonGetAndExcludedCrawlers(t *testing.T) {
	t.Parallel()

	reg, _ := newProxyRegistry(t, "gptbot")
	h := newHarness(t, harnessOptions{proxies: reg})

	rec := h.do(proxyRequest(http.MethodGet, "/page", gptBot))
	require.Equal(t, "bypass", rec.Header().Get(respond.HeaderCache))

	reg, _ = newProxyRegistry(t)
	h = newHarness(t, harnessOptions{proxies: reg})
	rec = h.do(proxyRequest(http.MethodPost, "/form", gptBot))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "bypass", rec.Header().Get(respond.HeaderCache))
	require.Zero(t, h.backend.calls.Load())
}

type panickingRenderer struct{}

func (panickingRenderer) Render(context.Context, string, string) (render.Result, error) {
	panic("boom")
}

func (panickingRenderer) Original(context.Context, string, http.Header) (fetch.Response, error) {
	return fetch.Response{}, errors.New("unused")
}

func TestProxyCrawlerPanicStill200(t *testing.T) {
	t.Parallel()

	reg, _ := newProxyRegistry(t)
	server := NewServer(Config{Renderer: panickingRenderer{}, Proxies: reg, IDs: id.New()})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, proxyRequest(http.MethodGet, "/page", gptBot))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "error", rec.Header().Get(respond.HeaderCache))
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	rec := h.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = h.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	h = newHarness(t, harnessOptions{ready: func(context.Context) error { return errors.New("redis down") }})
	rec = h.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotContains(t, rec.Body.String(), "redis")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	h.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec := h.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	a := h.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	b := h.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, a.Header().Get(respond.HeaderRequestID))
	require.NotEqual(t, a.Header().Get(respond.HeaderRequestID), b.Header().Get(respond.HeaderRequestID))
}
