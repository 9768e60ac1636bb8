package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawler-edge/internal/storage"
)

var (
	_ storage.BlobStore  = (*BlobStore)(nil)
	_ storage.BlobReader = (*BlobStore)(nil)
)

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewBlobStore()
	uri, err := s.PutObject(ctx, "snapshots/b.md", "text/markdown", strings.NewReader("# hi"))
	require.NoError(t, err)
	require.Equal(t, "memory://snapshots/b.md", uri)
	_, err = s.PutObject(ctx, "snapshots/a.html", "text/html", strings.NewReader("<p>"))
	require.NoError(t, err)

	data, err := s.GetObject(ctx, "snapshots/b.md")
	require.NoError(t, err)
	require.Equal(t, "# hi", string(data))
	require.Equal(t, "text/markdown", s.ContentType("snapshots/b.md"))
	require.Equal(t, []string{"snapshots/a.html", "snapshots/b.md"}, s.Paths())

	_, err = s.GetObject(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}
