package memory

import (
	"encoding/json"
	"fmt"
	"sort"

	"crmcore/pkg/domain"
)

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Collections map[EntityType][]Record                        `json:"collections"`
	Custom      map[string][]Record                            `json:"customEntities"`
	Numbering   map[domain.DocumentKind]domain.NumberingSeries `json:"numbering"`
	Settings    domain.Settings                                `json:"settings"`
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Collections: make(map[EntityType][]Record, len(state.collections)),
		Custom:      make(map[string][]Record, len(state.custom)),
		Numbering:   make(map[domain.DocumentKind]domain.NumberingSeries, len(state.numbering)),
		Settings:    state.settings,
	}
	for t, coll := range state.collections {
		s.Collections[t] = sortedRecords(coll)
	}
	for name, coll := range state.custom {
		s.Custom[name] = sortedRecords(coll)
	}
	for k, v := range state.numbering {
		s.Numbering[k] = v
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for t, recs := range s.Collections {
		for _, rec := range recs {
			state.collections[t][rec.ID] = rec.Clone()
			if t == domain.EntityAuditLogs {
				if seq := rec.Decimal(domain.KeyAuditSequence).IntPart(); seq > state.auditSeq {
					state.auditSeq = seq
				}
			}
		}
	}
	for name, recs := range s.Custom {
		coll := make(map[string]Record, len(recs))
		for _, rec := range recs {
			coll[rec.ID] = rec.Clone()
		}
		state.custom[name] = coll
	}
	for k, v := range s.Numbering {
		state.numbering[k] = v
	}
	state.settings = s.Settings
	return state
}

// migrateSnapshot drops unknown collections and records without ids, fills
// in missing numbering series and settings, and re-applies relation
// normalization to data written before it was enforced.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Collections == nil {
		snapshot.Collections = map[EntityType][]Record{}
	}
	if snapshot.Custom == nil {
		snapshot.Custom = map[string][]Record{}
	}
	for t, recs := range snapshot.Collections {
		if !t.Valid() {
			delete(snapshot.Collections, t)
			continue
		}
		kept := recs[:0]
		for _, rec := range recs {
			if rec.ID == "" {
				continue
			}
			if domain.HasRelation(t) {
				domain.NormalizeRelationFields(&rec)
			}
			kept = append(kept, rec)
		}
		snapshot.Collections[t] = kept
	}
	for name, recs := range snapshot.Custom {
		kept := recs[:0]
		for _, rec := range recs {
			if rec.ID == "" {
				continue
			}
			rec.Set(KeyEntityName, name)
			kept = append(kept, rec)
		}
		snapshot.Custom[name] = kept
	}
	defaults := domain.DefaultNumbering()
	if snapshot.Numbering == nil {
		snapshot.Numbering = defaults
	}
	for kind, series := range defaults {
		current, ok := snapshot.Numbering[kind]
		if !ok || current.NextNumber < 1 {
			snapshot.Numbering[kind] = series
		}
	}
	if snapshot.Settings.ActiveIndustry == "" {
		snapshot.Settings.ActiveIndustry = domain.DefaultIndustry
	}
	return snapshot
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// Buckets lists every snapshot bucket name.
func Buckets() []string {
	out := make([]string, 0, len(domain.EntityTypes())+3)
	for _, t := range domain.EntityTypes() {
		out = append(out, string(t))
	}
	return append(out, domain.CustomEntitiesTable, domain.BucketNumbering, domain.BucketSettings)
}

// ExportBuckets serializes the named buckets, or every bucket when names is
// empty. Record buckets are JSON arrays of the full collection.
func (s *Store) ExportBuckets(names ...string) (map[string][]byte, error) {
	if len(names) == 0 {
		names = Buckets()
	}
	snapshot := s.ExportState()
	out := make(map[string][]byte, len(names))
	for _, name := range names {
		var payload any
		switch name {
		case domain.CustomEntitiesTable:
			payload = snapshot.Custom
		case domain.BucketNumbering:
			payload = snapshot.Numbering
		case domain.BucketSettings:
			payload = snapshot.Settings
		default:
			t, ok := domain.ParseEntityType(name)
			if !ok {
				return nil, fmt.Errorf("export bucket %q: %w", name, domain.ErrUnknownEntityType)
			}
			recs := snapshot.Collections[t]
			if recs == nil {
				recs = []Record{}
			}
			payload = recs
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

// ImportBuckets overlays the given buckets onto the current state. Buckets
// that are absent keep their current contents; unknown bucket names are
// ignored.
func (s *Store) ImportBuckets(buckets map[string][]byte) error {
	snapshot := s.ExportState()
	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data := buckets[name]
		switch name {
		case domain.CustomEntitiesTable:
			var custom map[string][]Record
			if err := json.Unmarshal(data, &custom); err != nil {
				return fmt.Errorf("decode %s: %w", name, err)
			}
			snapshot.Custom = custom
		case domain.BucketNumbering:
			var numbering map[domain.DocumentKind]domain.NumberingSeries
			if err := json.Unmarshal(data, &numbering); err != nil {
				return fmt.Errorf("decode %s: %w", name, err)
			}
			snapshot.Numbering = numbering
		case domain.BucketSettings:
			var settings domain.Settings
			if err := json.Unmarshal(data, &settings); err != nil {
				return fmt.Errorf("decode %s: %w", name, err)
			}
			snapshot.Settings = settings
		default:
			t, ok := domain.ParseEntityType(name)
			if !ok {
				continue
			}
			var recs []Record
			if err := json.Unmarshal(data, &recs); err != nil {
				return fmt.Errorf("decode %s: %w", name, err)
			}
			snapshot.Collections[t] = recs
		}
	}
	s.ImportState(snapshot)
	return nil
}

// MergeTable folds a remote table into the store record by record. A remote
// row replaces the local one unless the local copy is newer or its id is in
// keep. Local rows the remote lacks survive only when kept, and kept ids the
// local store no longer holds are not resurrected. Custom entity rows are
// regrouped by their entityName field.
func (s *Store) MergeTable(table string, remote []Record, keep map[string]struct{}) error {
	snapshot := s.ExportState()
	if table == domain.CustomEntitiesTable {
		var local []Record
		for _, recs := range snapshot.Custom {
			local = append(local, recs...)
		}
		grouped := make(map[string][]Record)
		for _, rec := range mergeRecords(local, remote, keep) {
			name := rec.String(KeyEntityName)
			if name == "" {
				continue
			}
			grouped[name] = append(grouped[name], rec)
		}
		snapshot.Custom = grouped
		s.ImportState(snapshot)
		return nil
	}
	t, ok := domain.ParseEntityType(table)
	if !ok {
		return fmt.Errorf("merge %q: %w", table, domain.ErrUnknownEntityType)
	}
	snapshot.Collections[t] = mergeRecords(snapshot.Collections[t], remote, keep)
	s.ImportState(snapshot)
	return nil
}

func mergeRecords(local, remote []Record, keep map[string]struct{}) []Record {
	mine := make(map[string]Record, len(local))
	for _, rec := range local {
		mine[rec.ID] = rec
	}
	seen := make(map[string]struct{}, len(remote))
	out := make([]Record, 0, len(remote)+len(keep))
	for _, rec := range remote {
		if rec.ID == "" {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		cur, ok := mine[rec.ID]
		_, kept := keep[rec.ID]
		switch {
		case kept:
			if ok {
				out = append(out, cur)
			}
		case ok && cur.UpdatedAt.After(rec.UpdatedAt):
			out = append(out, cur)
		default:
			out = append(out, rec)
		}
	}
	for _, rec := range local {
		if _, ok := seen[rec.ID]; ok {
			continue
		}
		if _, kept := keep[rec.ID]; kept {
			out = append(out, rec)
		}
	}
	return out
}
