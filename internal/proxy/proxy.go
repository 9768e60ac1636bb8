// Package proxy forwards traffic for configured origins. Browsers and other
// non-crawler clients get a transparent pass-through; crawlers that cannot
// be served a rendering get the origin page through the always-200 writer.
package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-edge/internal/botclass"
	"github.com/JakeFAU/crawler-edge/internal/cache"
	"github.com/JakeFAU/crawler-edge/internal/canonical"
	"github.com/JakeFAU/crawler-edge/internal/respond"
)

// OriginConfig describes one proxied origin.
type OriginConfig struct {
	// Host is the public host crawlers and browsers request.
	Host     string
	Upstream string
	TenantID string
	Bots     botclass.Overrides
}

// Origin is a resolved OriginConfig with its reverse proxy.
type Origin struct {
	Host     string
	Upstream *url.URL
	TenantID string
	Bots     botclass.Overrides

	proxy *httputil.ReverseProxy
}

// conditionalHeaders are dropped on crawler fallbacks so the origin always
// returns a full body.
var conditionalHeaders = []string{"If-None-Match", "If-Modified-Since", "If-Match", "If-Unmodified-Since", "If-Range", "Range"}

// Registry maps public hosts to origins.
type Registry struct {
	origins map[string]*Origin
}

// Options are shared by every origin proxy.
type Options struct {
	// CredentialHeader is stripped along with the built-in sensitive set.
	CredentialHeader string
	Transport        http.RoundTripper
	Logger           *zap.Logger
}

// NewRegistry builds a proxy per origin.
func NewRegistry(configs []OriginConfig, opts Options) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("proxy")
	r := &Registry{origins: make(map[string]*Origin, len(configs))}
	for _, cfg := range configs {
		key := canonical.MatchHost(cfg.Host)
		if key == "" {
			return nil, errors.New("proxy origin host is required")
		}
		upstream, err := url.Parse(cfg.Upstream)
		if err != nil || upstream.Scheme == "" || upstream.Host == "" {
			return nil, fmt.Errorf("proxy origin %s: upstream must be an absolute URL", cfg.Host)
		}
		if _, dup := r.origins[key]; dup {
			return nil, fmt.Errorf("proxy origin %s configured twice", cfg.Host)
		}
		origin := &Origin{
			Host:     strings.ToLower(cfg.Host),
			Upstream: upstream,
			TenantID: cfg.TenantID,
			Bots:     cfg.Bots,
		}
		origin.proxy = newReverseProxy(upstream, opts, logger.With(zap.String("origin", origin.Host)))
		r.origins[key] = origin
	}
	return r, nil
}

// Lookup finds the origin serving host. Ports and a leading www. are
// ignored for matching.
func (r *Registry) Lookup(host string) (*Origin, bool) {
	if r == nil || len(r.origins) == 0 {
		return nil, false
	}
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	origin, ok := r.origins[canonical.MatchHost(host)]
	return origin, ok
}

// Len is the number of configured origins.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.origins)
}

// PublicURL is the URL the client asked for, used as the cache identity.
// The client's Host is kept; apex and www may serve different pages.
func (o *Origin) PublicURL(req *http.Request) string {
	u := url.URL{
		Scheme:   "https",
		Host:     req.Host,
		Path:     req.URL.Path,
		RawPath:  req.URL.RawPath,
		RawQuery: req.URL.RawQuery,
	}
	if h, _, ok := strings.Cut(u.Host, ":"); ok {
		u.Host = h
	}
	return u.String()
}

// Pass forwards req unchanged apart from sensitive headers. The origin
// status is preserved.
func (o *Origin) Pass(w http.ResponseWriter, req *http.Request) {
	o.proxy.ServeHTTP(w, req)
}

// ServeBotFallback serves the origin page to a crawler with status 200 and
// the true status in X-Origin-Status. It returns that status, or 0 when the
// origin could not be reached.
func (o *Origin) ServeBotFallback(w http.ResponseWriter, req *http.Request, outcome cache.Outcome) int {
	out := req.Clone(req.Context())
	for _, name := range conditionalHeaders {
		out.Header.Del(name)
	}
	bw := respond.NewBotWriter(w, outcome)
	o.proxy.ServeHTTP(bw, out)
	return bw.UpstreamStatus()
}

func newReverseProxy(upstream *url.URL, opts Options, logger *zap.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			respond.StripSensitive(pr.Out.Header, opts.CredentialHeader)
			pr.SetURL(upstream)
			pr.SetXForwarded()
		},
		Transport: opts.Transport,
		ModifyResponse: func(res *http.Response) error {
			res.Header.Set(respond.HeaderOriginStatus, strconv.Itoa(res.StatusCode))
			res.Header.Set(respond.HeaderCache, string(cache.OutcomeBypass))
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			logger.Warn("origin request failed",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Error(err),
			)
			if bw, ok := w.(*respond.BotWriter); ok {
				if !bw.Written() {
					respond.BotUnavailable(bw.Unwrap(), cache.OutcomeError)
				}
				return
			}
			w.Header().Set(respond.HeaderCache, string(cache.OutcomeError))
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		},
	}
}
