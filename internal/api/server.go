package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-edge/internal/auth"
	"github.com/JakeFAU/crawler-edge/internal/botclass"
	"github.com/JakeFAU/crawler-edge/internal/events"
	"github.com/JakeFAU/crawler-edge/internal/fetch"
	"github.com/JakeFAU/crawler-edge/internal/id"
	"github.com/JakeFAU/crawler-edge/internal/metrics"
	"github.com/JakeFAU/crawler-edge/internal/proxy"
	"github.com/JakeFAU/crawler-edge/internal/render"
	"github.com/JakeFAU/crawler-edge/internal/respond"
)

const defaultCredentialHeader = "X-API-Key"

// Authorizer resolves API credentials; *auth.Resolver satisfies it.
type Authorizer interface {
	Resolve(ctx context.Context, credential, targetURL string) (auth.Authorization, error)
}

// Renderer is the render pipeline; *render.Pipeline satisfies it.
type Renderer interface {
	Render(ctx context.Context, target, tenantID string) (render.Result, error)
	Original(ctx context.Context, target string, inbound http.Header) (fetch.Response, error)
}

// Config wires a Server.
type Config struct {
	CredentialHeader string
	Authorizer       Authorizer
	Renderer         Renderer
	Bots             *botclass.Classifier
	// Proxies is optional; without it every host gets the API.
	Proxies *proxy.Registry
	Events  events.Emitter
	// Ready reports KV store health for /readyz.
	Ready  func(ctx context.Context) error
	IDs    id.Generator
	Logger *zap.Logger
}

// Server is the edge HTTP handler.
type Server struct {
	router           chi.Router
	credentialHeader string
	authorizer       Authorizer
	renderer         Renderer
	bots             *botclass.Classifier
	proxies          *proxy.Registry
	events           events.Emitter
	ready            func(ctx context.Context) error
	logger           *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")
	s := &Server{
		credentialHeader: cfg.CredentialHeader,
		authorizer:       cfg.Authorizer,
		renderer:         cfg.Renderer,
		bots:             cfg.Bots,
		proxies:          cfg.Proxies,
		events:           cfg.Events,
		ready:            cfg.Ready,
		logger:           logger,
	}
	if s.credentialHeader == "" {
		s.credentialHeader = defaultCredentialHeader
	}
	if s.bots == nil {
		s.bots = botclass.New()
	}
	if s.events == nil {
		s.events = events.Discard{}
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(cfg.IDs))
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(s.proxyDispatch)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/render", s.handleRender)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			metrics.ObserveReadinessFailure()
			s.logger.Warn("readiness check failed", zap.Error(err))
			respond.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// credential reads the configured header, then a Bearer token.
func (s *Server) credential(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(s.credentialHeader)); v != "" {
		return v
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

var publicErrors = []error{
	auth.ErrMissingCredential,
	auth.ErrInvalidCredential,
	auth.ErrBackendUnavailable,
	auth.ErrMalformedURL,
	auth.ErrInsecureScheme,
	auth.ErrDomainNotAllowed,
	auth.ErrPrivateAddress,
}

// publicMessage hides wrapped backend detail from tenants.
func publicMessage(err error) string {
	for _, known := range publicErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal server error"
}
