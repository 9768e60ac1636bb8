// Package respond writes the two external response contracts: precise
// status codes for tenants calling the API, and always-200 responses for
// crawlers.
package respond

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-edge/internal/cache"
)

// Response headers.
const (
	HeaderCache        = "X-Edge-Cache"
	HeaderOriginStatus = "X-Origin-Status"
	HeaderRequestID    = "X-Request-ID"
)

// MarkdownContentType is sent with every rendering.
const MarkdownContentType = "text/markdown; charset=utf-8"

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId"`
}

// JSON writes payload with status.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

// APIError writes the tenant-facing error body.
func APIError(w http.ResponseWriter, status int, msg, requestID string) {
	w.Header().Set("Cache-Control", "no-store")
	JSON(w, status, errorBody{Error: msg, RequestID: requestID})
}

// Markdown writes a successful rendering to a tenant.
func Markdown(w http.ResponseWriter, body string, outcome cache.Outcome) {
	h := w.Header()
	h.Set("Content-Type", MarkdownContentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set(HeaderCache, string(outcome))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil {
		zap.L().Debug("write markdown failed", zap.Error(err))
	}
}

// Bot finalizes a crawler-facing response. The status on the wire is always
// 200; the real upstream status travels in X-Origin-Status. upstreamStatus
// <= 0 means no origin was contacted.
func Bot(w http.ResponseWriter, upstreamStatus int, outcome cache.Outcome) {
	h := w.Header()
	h.Set(HeaderCache, string(outcome))
	if upstreamStatus > 0 {
		h.Set(HeaderOriginStatus, strconv.Itoa(upstreamStatus))
	}
	if upstreamStatus > 0 && (upstreamStatus < 200 || upstreamStatus > 299) {
		// An error page served as 200 must not be stored downstream.
		h.Set("Cache-Control", "no-store")
	}
	switch upstreamStatus {
	case http.StatusNoContent, http.StatusNotModified:
		h.Del("Content-Length")
	}
	w.WriteHeader(http.StatusOK)
}

// BotBody finalizes and writes a complete crawler-facing body.
func BotBody(w http.ResponseWriter, upstreamStatus int, outcome cache.Outcome, contentType string, body []byte) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	Bot(w, upstreamStatus, outcome)
	if _, err := w.Write(body); err != nil {
		zap.L().Debug("write bot body failed", zap.Error(err))
	}
}

// BotUnavailable is the last resort when neither a rendering nor the
// original page could be produced.
func BotUnavailable(w http.ResponseWriter, outcome cache.Outcome) {
	w.Header().Set("Cache-Control", "no-store")
	BotBody(w, 0, outcome, "text/plain; charset=utf-8", []byte("content temporarily unavailable\n"))
}

// BotWriter routes a streamed response, such as a reverse-proxied origin
// page, through Bot so the client still sees 200.
type BotWriter struct {
	http.ResponseWriter
	outcome     cache.Outcome
	status      int
	wroteHeader bool
}

// NewBotWriter wraps w.
func NewBotWriter(w http.ResponseWriter, outcome cache.Outcome) *BotWriter {
	return &BotWriter{ResponseWriter: w, outcome: outcome}
}

// WriteHeader records code as the upstream status and writes 200.
func (b *BotWriter) WriteHeader(code int) {
	if b.wroteHeader {
		return
	}
	b.wroteHeader = true
	b.status = code
	Bot(b.ResponseWriter, code, b.outcome)
}

// Write implies a 200 upstream status when none was set.
func (b *BotWriter) Write(p []byte) (int, error) {
	if !b.wroteHeader {
		b.WriteHeader(http.StatusOK)
	}
	n, err := b.ResponseWriter.Write(p)
	if err != nil {
		return n, fmt.Errorf("write bot response: %w", err)
	}
	return n, nil
}

// Flush supports streaming bodies.
func (b *BotWriter) Flush() {
	if !b.wroteHeader {
		b.WriteHeader(http.StatusOK)
	}
	if f, ok := b.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is not meaningful for crawler traffic but keeps the wrapper
// transparent to middleware that type-asserts it.
func (b *BotWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := b.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijacker not supported")
	}
	conn, rw, err := h.Hijack()
	if err != nil {
		return nil, nil, fmt.Errorf("hijack: %w", err)
	}
	return conn, rw, nil
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (b *BotWriter) Unwrap() http.ResponseWriter {
	return b.ResponseWriter
}

// UpstreamStatus is the status the wrapped handler tried to write.
func (b *BotWriter) UpstreamStatus() int {
	return b.status
}

// Written reports whether the response has been finalized.
func (b *BotWriter) Written() bool {
	return b.wroteHeader
}
