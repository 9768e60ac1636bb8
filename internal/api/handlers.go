package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-edge/internal/auth"
	"github.com/JakeFAU/crawler-edge/internal/botclass"
	"github.com/JakeFAU/crawler-edge/internal/cache"
	"github.com/JakeFAU/crawler-edge/internal/events"
	"github.com/JakeFAU/crawler-edge/internal/metrics"
	"github.com/JakeFAU/crawler-edge/internal/proxy"
	"github.com/JakeFAU/crawler-edge/internal/respond"
)

// outcomeDenied labels API requests rejected before rendering.
const outcomeDenied = "denied"

// handleRender serves GET /render for tenants.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	reqID := RequestIDFromContext(ctx)
	target := r.URL.Query().Get("url")
	evt := events.Event{
		RequestID: reqID,
		TS:        start.UTC(),
		Mode:      events.ModeAPI,
		Host:      metrics.SanitizeHost(target),
		Bot:       s.bots.IsAIBot(r.UserAgent(), botclass.Overrides{}),
	}
	defer func() {
		evt.Dur = time.Since(start)
		s.events.Emit(evt)
	}()

	authz, err := s.authorizer.Resolve(ctx, s.credential(r), target)
	if err != nil {
		status := auth.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			s.logger.Warn("authorization failed", zap.String("request_id", reqID), zap.Error(err))
		}
		evt.Outcome = outcomeDenied
		evt.Note = publicMessage(err)
		respond.APIError(w, status, publicMessage(err), reqID)
		return
	}
	evt.TenantID = authz.Tenant.ID
	targetURL := authz.TargetURL.String()

	res, err := s.renderer.Render(ctx, targetURL, authz.Tenant.ID)
	if err != nil {
		evt.Outcome = outcomeDenied
		respond.APIError(w, http.StatusBadRequest, auth.ErrMalformedURL.Error(), reqID)
		return
	}
	evt.Outcome = string(res.Outcome)
	if res.Rendered() {
		evt.OriginalBytes = int64(res.OriginalBytes)
		evt.RenderedBytes = int64(len(res.Content))
		respond.Markdown(w, res.Content, res.Outcome)
		return
	}
	evt.OriginStatus = s.serveOriginal(w, r, targetURL, res.Outcome)
}

// serveOriginal fetches the page itself and serves it under the bot
// contract. It returns the upstream status, or 0 if the fetch failed.
func (s *Server) serveOriginal(w http.ResponseWriter, r *http.Request, target string, outcome cache.Outcome) int {
	resp, err := s.renderer.Original(r.Context(), target, r.Header)
	if err != nil {
		s.logger.Warn("fallback fetch failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("url", target),
			zap.Error(err),
		)
		respond.BotUnavailable(w, cache.OutcomeError)
		return 0
	}
	respond.BotBody(w, resp.StatusCode, outcome, resp.ContentType(), resp.Body)
	return resp.StatusCode
}

// proxyDispatch diverts requests for configured origins before routing.
func (s *Server) proxyDispatch(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin, ok := s.proxies.Lookup(r.Host)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		s.handleProxy(w, r, origin)
	})
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request, origin *proxy.Origin) {
	start := time.Now()
	evt := events.Event{
		RequestID: RequestIDFromContext(r.Context()),
		TS:        start.UTC(),
		Mode:      events.ModeProxy,
		Host:      metrics.SanitizeHost(r.Host),
		TenantID:  origin.TenantID,
		Bot:       s.bots.IsAIBot(r.UserAgent(), origin.Bots),
	}
	defer func() {
		evt.Dur = time.Since(start)
		s.events.Emit(evt)
	}()

	if !evt.Bot || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
		evt.Outcome = string(cache.OutcomeBypass)
		origin.Pass(w, r)
		evt.OriginStatus, _ = strconv.Atoi(w.Header().Get(respond.HeaderOriginStatus))
		return
	}

	ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("panic serving crawler", zap.Any("panic", rec), zap.String("host", r.Host))
			evt.Outcome = string(cache.OutcomeError)
			if !ww.wroteHeader {
				respond.BotUnavailable(w, cache.OutcomeError)
			}
		}
	}()

	res, err := s.renderer.Render(r.Context(), origin.PublicURL(r), origin.TenantID)
	outcome := res.Outcome
	if err != nil {
		outcome = cache.OutcomeError
	}
	evt.Outcome = string(outcome)
	if err == nil && res.Rendered() {
		evt.OriginalBytes = int64(res.OriginalBytes)
		evt.RenderedBytes = int64(len(res.Content))
		respond.BotBody(ww, 0, outcome, respond.MarkdownContentType, []byte(res.Content))
		return
	}
	evt.OriginStatus = origin.ServeBotFallback(ww, r, outcome)
}
