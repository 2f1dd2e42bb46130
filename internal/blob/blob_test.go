package blob

import (
	"bytes"
	"context"
	"testing"

	"crmcore/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ domain.SnapshotStore = (*SnapshotStore)(nil)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	fsStore, err := Open(ctx, Config{FSRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, fsStore.Driver())

	mem, err := Open(ctx, Config{Driver: DriverMemory})
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, mem.Driver())

	_, err = Open(ctx, Config{Driver: DriverS3})
	require.ErrorContains(t, err, "bucket required")

	_, err = Open(ctx, Config{Driver: "ftp"})
	require.ErrorContains(t, err, "unknown blob driver")
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	snaps := NewSnapshotStore(store, "tenant-a")

	require.NoError(t, snaps.SaveBuckets(ctx, map[string][]byte{
		"leads":    []byte(`[{"id":"L1"}]`),
		"settings": []byte(`{"activeIndustry":"solar"}`),
	}))
	require.NoError(t, snaps.SaveBuckets(ctx, map[string][]byte{
		"leads": []byte(`[{"id":"L1"},{"id":"L2"}]`),
	}))
	_, err := store.Put(ctx, "tenant-a/nested/ignored.json", bytes.NewReader([]byte("{}")), PutOptions{})
	require.NoError(t, err)
	_, err = store.Put(ctx, "tenant-a/readme.txt", bytes.NewReader([]byte("x")), PutOptions{})
	require.NoError(t, err)

	loaded, err := snaps.LoadBuckets(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.JSONEq(t, `[{"id":"L1"},{"id":"L2"}]`, string(loaded["leads"]))
	assert.JSONEq(t, `{"activeIndustry":"solar"}`, string(loaded["settings"]))

	info, err := store.Head(ctx, "tenant-a/leads.json")
	require.NoError(t, err)
	assert.Equal(t, "application/json", info.ContentType)
}

func TestSnapshotStoreEmpty(t *testing.T) {
	loaded, err := NewSnapshotStore(NewMemory(), "").LoadBuckets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
