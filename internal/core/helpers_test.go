package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crmcore/internal/infra/persistence/memory"
	"crmcore/pkg/domain"
)

var testEpoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	store := memory.NewStore(NewDefaultRulesEngine(),
		memory.WithClock(fixedClock(testEpoch)),
		memory.WithIDGenerator(sequentialIDs("rec-")),
	)
	opts = append([]Option{WithIDGenerator(sequentialIDs("gen-"))}, opts...)
	return NewService(store, opts...)
}

func mustUpsert(t *testing.T, s *Service, typ EntityType, fields map[string]any) Record {
	t.Helper()
	rec, ok := s.UpsertRecord(context.Background(), typ, domain.NewRecord(fields))
	require.True(t, ok, "upsert %s %v", typ, fields)
	return rec
}

func mustGet(t *testing.T, s *Service, typ EntityType, id string) Record {
	t.Helper()
	rec, ok := s.GetRecord(typ, id)
	require.True(t, ok, "%s %s missing", typ, id)
	return rec
}

func auditActions(s *Service, typ EntityType, id string) []string {
	var out []string
	for _, e := range s.AuditTrail(string(typ), id) {
		out = append(out, e.Action)
	}
	return out
}

// fakeRemote is an in-memory RemoteStore that can be told to fail.
type fakeRemote struct {
	mu       sync.Mutex
	tables   map[string]map[string]domain.Record
	calls    []string
	failures map[string]int
	failAll  error
	loadErr  error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		tables:   make(map[string]map[string]domain.Record),
		failures: make(map[string]int),
	}
}

var errRemoteDown = errors.New("remote down")

func (f *fakeRemote) fail(table, id string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[table+"/"+id] = times
}

func (f *fakeRemote) check(op, table, id string) error {
	f.calls = append(f.calls, op+" "+table+"/"+id)
	if f.failAll != nil {
		return f.failAll
	}
	key := table + "/" + id
	if n := f.failures[key]; n > 0 {
		f.failures[key] = n - 1
		return errRemoteDown
	}
	return nil
}

func (f *fakeRemote) put(table string, rec domain.Record) {
	if f.tables[table] == nil {
		f.tables[table] = make(map[string]domain.Record)
	}
	f.tables[table][rec.ID] = rec.Clone()
}

func (f *fakeRemote) Insert(_ context.Context, table string, rec domain.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("insert", table, rec.ID); err != nil {
		return err
	}
	if _, exists := f.tables[table][rec.ID]; !exists {
		f.put(table, rec)
	}
	return nil
}

func (f *fakeRemote) Update(_ context.Context, table, id string, rec domain.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("update", table, id); err != nil {
		return err
	}
	rec.ID = id
	f.put(table, rec)
	return nil
}

func (f *fakeRemote) Delete(_ context.Context, table, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("delete", table, id); err != nil {
		return err
	}
	delete(f.tables[table], id)
	return nil
}

func (f *fakeRemote) LoadAll(context.Context) (map[string][]domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := make(map[string][]domain.Record, len(f.tables))
	for table, rows := range f.tables {
		for _, rec := range rows {
			out[table] = append(out[table], rec.Clone())
		}
	}
	return out, nil
}

func (f *fakeRemote) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) row(table, id string) (domain.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.tables[table][id]
	return rec, ok
}
