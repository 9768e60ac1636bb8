package respond

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawler-edge/internal/cache"
)

func TestAPIErrorBody(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	APIError(rec, http.StatusForbidden, "domain not allowed", "req-42")

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, map[string]string{"error": "domain not allowed", "requestId": "req-42"}, body)
}

func TestMarkdown(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	Markdown(rec, "# Title\n", cache.OutcomeHit)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, MarkdownContentType, rec.Header().Get("Content-Type"))
	require.Equal(t, "hit", rec.Header().Get(HeaderCache))
	require.Equal(t, "8", rec.Header().Get("Content-Length"))
	require.Equal(t, "# Title\n", rec.Body.String())
}

func TestBotAlwaysWrites200(t *testing.T) {
	t.Parallel()

	for _, upstream := range []int{0, 200, 404, 500, 503} {
		rec := httptest.NewRecorder()
		BotBody(rec, upstream, cache.OutcomeFallback, "text/html", []byte("<html></html>"))
		require.Equal(t, http.StatusOK, rec.Code, "upstream %d", upstream)
		require.Equal(t, "fallback", rec.Header().Get(HeaderCache))
		if upstream == 0 {
			require.Empty(t, rec.Header().Get(HeaderOriginStatus))
			continue
		}
		require.Equal(t, strconv.Itoa(upstream), rec.Header().Get(HeaderOriginStatus))
	}
}

func TestBotMarksErrorPagesUncacheable(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	Bot(rec, http.StatusBadGateway, cache.OutcomeError)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = httptest.NewRecorder()
	Bot(rec, http.StatusOK, cache.OutcomeFallback)
	require.Empty(t, rec.Header().Get("Cache-Control"))
}

func TestBotUnavailable(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	BotUnavailable(rec, cache.OutcomeError)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "error", rec.Header().Get(HeaderCache))
	require.NotEmpty(t, rec.Body.String())
}

func TestBotWriterForces200(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "<html>down</html>")
	})

	rec := httptest.NewRecorder()
	bw := NewBotWriter(rec, cache.OutcomeFallback)
	handler.ServeHTTP(bw, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "503", rec.Header().Get(HeaderOriginStatus))
	require.Equal(t, "fallback", rec.Header().Get(HeaderCache))
	require.Equal(t, "<html>down</html>", rec.Body.String())
	require.Equal(t, http.StatusServiceUnavailable, bw.UpstreamStatus())
	require.True(t, bw.Written())
}

func TestBotWriterImplicitStatus(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	bw := NewBotWriter(rec, cache.OutcomeFallback)
	_, err := bw.Write([]byte("body"))
	require.NoError(t, err)
	bw.WriteHeader(http.StatusInternalServerError)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "200", rec.Header().Get(HeaderOriginStatus))
	require.Equal(t, rec, bw.Unwrap())
}
