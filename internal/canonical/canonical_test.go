package canonical

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeNormalizes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"fragment stripped", "https://example.com/docs#intro", "https://example.com/docs"},
		{"host lowercased", "https://Docs.EXAMPLE.com/Path", "https://docs.example.com/Path"},
		{"utm removed", "https://example.com/a?utm_source=x&utm_Medium=y&id=3", "https://example.com/a?id=3"},
		{"click ids removed", "https://example.com/a?gclid=1&fbclid=2&msclkid=3", "https://example.com/a"},
		{"params sorted", "https://example.com/a?z=1&a=2&m=3", "https://example.com/a?a=2&m=3&z=1"},
		{"repeated names keep order", "https://example.com/a?b=2&a=9&b=1", "https://example.com/a?a=9&b=2&b=1"},
		{"scheme agnostic", "http://example.com/a", "http://example.com/a"},
		{"empty query dropped", "https://example.com/a?", "https://example.com/a"},
		{"semicolon value kept", "https://example.com/search?q=a;b&utm_source=x", "https://example.com/search?q=a;b"},
		{"bad escape kept", "https://example.com/search?q=%zz&a=1", "https://example.com/search?a=1&q=%zz"},
		{"encoded tracking name removed", "https://example.com/a?utm%5Fsource=x&id=3", "https://example.com/a?id=3"},
		{"bare flag kept", "https://example.com/a?preview&a=1", "https://example.com/a?a=1&preview"},
		{"empty pairs dropped", "https://example.com/a?&a=1&&b=2", "https://example.com/a?a=1&b=2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Canonicalize(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"https://Example.com/a?q=hello+world&utm_campaign=x#top",
		"https://example.com/?flag&b=%2F&a=1",
		"https://example.com:8443/path/?x=1&x=2",
		"https://example.com/search?q=a;b",
		"https://example.com/search?q=%zz&utm_term=y",
	}
	for _, in := range inputs {
		once, err := Canonicalize(in)
		require.NoError(t, err)
		twice, err := Canonicalize(once)
		require.NoError(t, err)
		require.Equal(t, once, twice, "input %q", in)
	}
}

func TestUnparseableQueriesStayDistinct(t *testing.T) {
	t.Parallel()

	bare, err := Canonicalize("https://example.com/search")
	require.NoError(t, err)
	seen := map[string]string{bare: "bare"}
	for _, in := range []string{
		"https://example.com/search?q=a;b",
		"https://example.com/search?q=%zz",
		"https://example.com/search?q=a",
	} {
		got, err := Canonicalize(in)
		require.NoError(t, err)
		prev, dup := seen[got]
		require.False(t, dup, "%q collapsed onto %s", in, prev)
		seen[got] = in
	}
}

func TestCanonicalizeRejectsRelative(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "/docs", "example.com/docs", "https://", "::not a url"} {
		_, err := Canonicalize(in)
		require.Error(t, err, "input %q", in)
		require.True(t, errors.Is(err, ErrNotAbsolute), "input %q", in)
	}
}

func TestExtraTrackingParams(t *testing.T) {
	t.Parallel()

	c := New("Session_Ref", " ")
	got, err := c.Canonicalize("https://example.com/?session_ref=abc&page=2")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/?page=2", got)
	require.Contains(t, c.TrackingParams(), "session_ref")
	require.NotContains(t, New().TrackingParams(), "session_ref")
}

func TestHostnameAndMatchHost(t *testing.T) {
	t.Parallel()

	host, err := Hostname("https://WWW.Example.com:8443/a")
	require.NoError(t, err)
	require.Equal(t, "www.example.com", host)
	require.Equal(t, "example.com", MatchHost(host))
	require.Equal(t, "example.com", MatchHost("Example.COM."))
	require.Equal(t, "docs.example.com", MatchHost("docs.example.com"))

	_, err = Hostname("relative/path")
	require.ErrorIs(t, err, ErrNotAbsolute)
}
