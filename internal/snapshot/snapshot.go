// Package snapshot archives the original page next to its rendering so the
// two can be reviewed side by side.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/JakeFAU/crawler-edge/internal/storage"
)

// Snapshot is one original/rendered pair.
type Snapshot struct {
	URL         string    `json:"url"`
	Host        string    `json:"host"`
	Fingerprint string    `json:"fingerprint"`
	TenantID    string    `json:"tenantId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Original    []byte    `json:"-"`
	Rendered    string    `json:"-"`

	OriginalBytes int     `json:"originalBytes"`
	RenderedBytes int     `json:"renderedBytes"`
	Ratio         float64 `json:"ratio"`
	OriginalURI   string  `json:"originalUri,omitempty"`
	RenderedURI   string  `json:"renderedUri,omitempty"`
}

// Archiver writes snapshots to a BlobStore.
type Archiver struct {
	store  storage.BlobStore
	prefix string
}

// New returns an Archiver writing under prefix.
func New(store storage.BlobStore, prefix string) *Archiver {
	return &Archiver{store: store, prefix: strings.Trim(prefix, "/")}
}

// Dir is the object directory for a snapshot.
func (a *Archiver) Dir(s Snapshot) string {
	host := s.Host
	if host == "" {
		host = "unknown"
	}
	return path.Join(a.prefix, host, s.CreatedAt.UTC().Format("20060102"), s.Fingerprint)
}

// Archive writes original.html, rendered.md and meta.json and returns the
// snapshot with its URIs and size accounting filled in.
func (a *Archiver) Archive(ctx context.Context, s Snapshot) (Snapshot, error) {
	if s.Fingerprint == "" {
		return s, fmt.Errorf("snapshot fingerprint is required")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	s.OriginalBytes = len(s.Original)
	s.RenderedBytes = len(s.Rendered)
	if s.OriginalBytes > 0 {
		s.Ratio = float64(s.RenderedBytes) / float64(s.OriginalBytes)
	}

	dir := a.Dir(s)
	if len(s.Original) > 0 {
		uri, err := a.store.PutObject(ctx, path.Join(dir, "original.html"), "text/html; charset=utf-8", bytes.NewReader(s.Original))
		if err != nil {
			return s, fmt.Errorf("archive original: %w", err)
		}
		s.OriginalURI = uri
	}
	uri, err := a.store.PutObject(ctx, path.Join(dir, "rendered.md"), "text/markdown; charset=utf-8", strings.NewReader(s.Rendered))
	if err != nil {
		return s, fmt.Errorf("archive rendering: %w", err)
	}
	s.RenderedURI = uri

	meta, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return s, fmt.Errorf("encode snapshot meta: %w", err)
	}
	if _, err := a.store.PutObject(ctx, path.Join(dir, "meta.json"), "application/json", bytes.NewReader(meta)); err != nil {
		return s, fmt.Errorf("archive meta: %w", err)
	}
	return s, nil
}
