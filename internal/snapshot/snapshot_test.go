package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawler-edge/internal/storage/memory"
)

func TestArchiveWritesPair(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewBlobStore()
	a := New(store, "/snapshots/")

	s, err := a.Archive(ctx, Snapshot{
		URL:         "https://example.com/a",
		Host:        "example.com",
		Fingerprint: "abc",
		TenantID:    "tenant-1",
		CreatedAt:   time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC),
		Original:    []byte("<html><body><p>hello world</p></body></html>"),
		Rendered:    "hello world",
	})
	require.NoError(t, err)
	require.Equal(t, "memory://snapshots/example.com/20250304/abc/rendered.md", s.RenderedURI)
	require.Equal(t, "memory://snapshots/example.com/20250304/abc/original.html", s.OriginalURI)
	require.InDelta(t, 11.0/44.0, s.Ratio, 0.0001)

	raw, err := store.GetObject(ctx, "snapshots/example.com/20250304/abc/meta.json")
	require.NoError(t, err)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(raw, &meta))
	require.Equal(t, "tenant-1", meta["tenantId"])
	require.NotContains(t, meta, "Original")
	require.Equal(t, "text/markdown; charset=utf-8", store.ContentType("snapshots/example.com/20250304/abc/rendered.md"))
}

func TestArchiveWithoutOriginal(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	s, err := New(store, "").Archive(context.Background(), Snapshot{Fingerprint: "fp", Rendered: "# x"})
	require.NoError(t, err)
	require.Empty(t, s.OriginalURI)
	require.Zero(t, s.Ratio)
	require.Len(t, store.Paths(), 2)

	_, err = New(store, "").Archive(context.Background(), Snapshot{})
	require.Error(t, err)
}

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

func TestArchivePropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	_, err := New(failingStore{}, "p").Archive(context.Background(), Snapshot{Fingerprint: "fp", Rendered: "x"})
	require.ErrorContains(t, err, "bucket gone")
}
