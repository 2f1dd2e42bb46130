package fs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"crmcore/internal/blob/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	info, err := store.Put(ctx, "exports/leads.csv", bytes.NewReader([]byte("id,company\n")), core.PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"entity": "leads"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), info.Size)
	assert.Equal(t, "http://local.blob/exports/leads.csv", info.URL)

	got, rc, err := store.Get(ctx, "exports/leads.csv")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "id,company\n", string(body))
	assert.Equal(t, "text/csv", got.ContentType)
	assert.Equal(t, "leads", got.Metadata["entity"])
	assert.Equal(t, info.ETag, got.ETag)

	head, err := store.Head(ctx, "exports/leads.csv")
	require.NoError(t, err)
	assert.Equal(t, info.ETag, head.ETag)
}

func TestStoreCreateOnlyUnlessOverwrite(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	first, err := store.Put(ctx, "snapshots/settings.json", bytes.NewReader([]byte(`{}`)), core.PutOptions{})
	require.NoError(t, err)
	_, err = store.Put(ctx, "snapshots/settings.json", bytes.NewReader([]byte(`{"a":1}`)), core.PutOptions{})
	require.ErrorIs(t, err, core.ErrExists)

	second, err := store.Put(ctx, "snapshots/settings.json", bytes.NewReader([]byte(`{"a":1}`)), core.PutOptions{Overwrite: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.ETag, second.ETag)
	assert.Equal(t, int64(7), second.Size)
}

func TestStoreMissingAndDelete(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = store.Get(ctx, "nope")
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = store.Head(ctx, "nope")
	require.ErrorIs(t, err, core.ErrNotFound)
	ok, err := store.Delete(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Put(ctx, "a/b", bytes.NewReader([]byte("x")), core.PutOptions{})
	require.NoError(t, err)
	ok, err = store.Delete(ctx, "a/b")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = os.Stat(filepath.Join(store.Root(), "a", "b.meta"))
	assert.True(t, os.IsNotExist(err))
}

func TestStoreListFiltersPrefix(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	for _, key := range []string{"snapshots/deals.json", "snapshots/accounts.json", "exports/x.json"} {
		_, err := store.Put(ctx, key, bytes.NewReader([]byte("[]")), core.PutOptions{})
		require.NoError(t, err)
	}
	list, err := store.List(ctx, "snapshots/")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "snapshots/accounts.json", list[0].Key)
	assert.Equal(t, "snapshots/deals.json", list[1].Key)
}

func TestStoreRejectsBadKeys(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	for _, key := range []string{"", "../escape", "/abs", "x.meta"} {
		_, err := store.Put(ctx, key, bytes.NewReader(nil), core.PutOptions{})
		assert.Error(t, err, key)
	}
	_, err = store.PresignURL(ctx, "k", core.SignedURLOptions{Method: "PUT"})
	require.ErrorIs(t, err, core.ErrUnsupported)
	url, err := store.PresignURL(ctx, "k", core.SignedURLOptions{})
	require.NoError(t, err)
	assert.Equal(t, "http://local.blob/k", url)
	assert.Equal(t, core.DriverFilesystem, store.Driver())
}
