package core

import (
	"context"
	"fmt"
	"sort"
)

// HydrateReport describes what Hydrate loaded.
type HydrateReport struct {
	LocalBuckets int      `json:"localBuckets"`
	RestoredOps  int      `json:"restoredOps,omitempty"`
	RemoteTables []string `json:"remoteTables,omitempty"`
	RemoteError  string   `json:"remoteError,omitempty"`
}

// Hydrate loads the local snapshot, requeues the unsynced operations it
// carries and then merges every non-empty remote table record by record.
// Records with unsynced operations keep their local state, as do local
// copies newer than the remote row. An unreachable remote leaves the local
// state in place. Merged tables are written back to the snapshot.
func (s *Service) Hydrate(ctx context.Context) (HydrateReport, error) {
	var report HydrateReport
	var localErr error
	if s.snapshot != nil {
		buckets, err := s.snapshot.LoadBuckets(ctx)
		switch {
		case err != nil:
			localErr = fmt.Errorf("load snapshot: %w", err)
		default:
			if err := s.store.ImportBuckets(buckets); err != nil {
				localErr = fmt.Errorf("import snapshot: %w", err)
				break
			}
			report.LocalBuckets = len(buckets)
			if data, ok := buckets[OutboxBucket]; ok && s.outbox != nil {
				n, err := s.outbox.RestoreState(data)
				if err != nil {
					localErr = err
					break
				}
				report.RestoredOps = n
			}
		}
		if localErr != nil {
			s.log.Error().Err(localErr).Msg("local snapshot unavailable")
		}
	}
	if s.remote == nil {
		return report, localErr
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	tables, err := s.remote.LoadAll(ctx)
	if err != nil {
		report.RemoteError = err.Error()
		s.log.Warn().Err(err).Int("restored_ops", report.RestoredOps).Msg("remote unreachable, keeping local state")
		return report, localErr
	}
	names := make([]string, 0, len(tables))
	for name, recs := range tables {
		if len(recs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	unsynced := s.outbox.Unsynced()
	for _, name := range names {
		if err := s.store.MergeTable(name, tables[name], unsynced[name]); err != nil {
			s.log.Warn().Err(err).Str("table", name).Msg("skip remote table")
			continue
		}
		report.RemoteTables = append(report.RemoteTables, name)
	}
	s.persistSnapshot(ctx, report.RemoteTables)
	s.log.Info().Int("local_buckets", report.LocalBuckets).Int("restored_ops", report.RestoredOps).
		Strs("remote_tables", report.RemoteTables).Msg("hydrated")
	return report, localErr
}
