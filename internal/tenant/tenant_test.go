package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawler-edge/internal/botclass"
	"github.com/JakeFAU/crawler-edge/internal/kvstore/memory"
)

func TestNormalizedAndAllows(t *testing.T) {
	t.Parallel()

	tn := Tenant{ID: "t1", Domains: []string{"WWW.Example.com", "example.com", " docs.example.com ", ""}}.Normalized()
	require.Equal(t, []string{"example.com", "docs.example.com"}, tn.Domains)

	require.True(t, tn.Allows("example.com"))
	require.True(t, tn.Allows("www.example.com"))
	require.True(t, tn.Allows("DOCS.example.com"))
	require.False(t, tn.Allows("blog.example.com"))
	require.False(t, tn.Allows("example.com.evil.io"))
	require.False(t, tn.Allows(""))
}

func TestDecodeRejectsCorruptRecords(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte("{not json"))
	require.ErrorIs(t, err, ErrCorruptRecord)
	_, err = Decode([]byte(`{"plan":"pro"}`))
	require.ErrorIs(t, err, ErrCorruptRecord)

	tn, err := Decode([]byte(`{"id":"t1","plan":"pro","domains":["WWW.a.com"],"bots":{"exclude":["gptbot"]}}`))
	require.NoError(t, err)
	require.Equal(t, []string{"a.com"}, tn.Domains)
	require.Equal(t, []string{"gptbot"}, tn.Bots.Exclude)
}

func TestKVLookups(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New(nil)
	hashed := NewHashedKV(store)
	legacy := NewLegacyKV(store)

	want := Tenant{
		ID:      "tenant-1",
		Plan:    "pro",
		Domains: []string{"example.com"},
		Bots:    botclass.Overrides{Include: []string{"acmebot"}},
	}
	require.NoError(t, hashed.Store(ctx, "key-new", want))

	got, ok, err := hashed.Find(ctx, "key-new")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)

	_, ok, err = legacy.Find(ctx, "key-new")
	require.NoError(t, err)
	require.False(t, ok)

	raw, err := Encode(want)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, LegacyKey("key-old"), raw, time.Hour))
	got, ok, err = legacy.Find(ctx, "key-old")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tenant-1", got.ID)

	require.NoError(t, store.Put(ctx, HashedKey("broken"), []byte("{"), 0))
	_, ok, err = hashed.Find(ctx, "broken")
	require.NoError(t, err)
	require.False(t, ok)
}
