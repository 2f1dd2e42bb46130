package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
)

// DefaultSnapshotPrefix is the key prefix used for snapshot buckets.
const DefaultSnapshotPrefix = "snapshots/"

const snapshotSuffix = ".json"

// SnapshotStore keeps each snapshot bucket as one JSON object at
// <prefix><bucket>.json. It satisfies domain.SnapshotStore.
type SnapshotStore struct {
	store  Store
	prefix string
}

// NewSnapshotStore wraps store. An empty prefix selects DefaultSnapshotPrefix.
func NewSnapshotStore(store Store, prefix string) *SnapshotStore {
	if prefix == "" {
		prefix = DefaultSnapshotPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &SnapshotStore{store: store, prefix: prefix}
}

func (s *SnapshotStore) key(bucket string) string { return s.prefix + bucket + snapshotSuffix }

// SaveBuckets overwrites every given bucket. Writes are not atomic across
// buckets; the first failure aborts the remaining writes.
func (s *SnapshotStore) SaveBuckets(ctx context.Context, buckets map[string][]byte) error {
	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, err := s.store.Put(ctx, s.key(name), bytes.NewReader(buckets[name]), PutOptions{
			ContentType: "application/json",
			Overwrite:   true,
		})
		if err != nil {
			return fmt.Errorf("save snapshot bucket %s: %w", name, err)
		}
	}
	return nil
}

// LoadBuckets reads every bucket under the prefix.
func (s *SnapshotStore) LoadBuckets(ctx context.Context) (map[string][]byte, error) {
	infos, err := s.store.List(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("list snapshot buckets: %w", err)
	}
	out := make(map[string][]byte, len(infos))
	for _, info := range infos {
		name := strings.TrimPrefix(info.Key, s.prefix)
		if !strings.HasSuffix(name, snapshotSuffix) || strings.Contains(name, "/") {
			continue
		}
		data, err := s.read(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		out[strings.TrimSuffix(name, snapshotSuffix)] = data
	}
	return out, nil
}

func (s *SnapshotStore) read(ctx context.Context, key string) ([]byte, error) {
	_, rc, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	return data, nil
}
