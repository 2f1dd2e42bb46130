package core

import (
	"context"
	"sort"

	"crmcore/pkg/domain"
)

func (s *Service) auditEntry(t EntityType, id, action string, newValue any, meta map[string]any) domain.AuditEntry {
	return domain.AuditEntry{
		EntityType: string(t),
		EntityID:   id,
		Action:     action,
		NewValue:   newValue,
		Metadata:   meta,
		CreatedBy:  s.Actor().ID,
	}
}

// AddAuditLog appends an entry. Id, timestamp and author are assigned when
// absent. There is no API to change or remove entries.
func (s *Service) AddAuditLog(ctx context.Context, entry domain.AuditEntry) (Record, bool) {
	if entry.EntityType == "" || entry.Action == "" {
		return Record{}, false
	}
	if entry.CreatedBy == "" {
		entry.CreatedBy = s.Actor().ID
	}
	var out Record
	_, err := s.run(ctx, "audit", func(tx domain.Transaction) error {
		rec, err := tx.AppendAudit(entry)
		out = rec
		return err
	})
	if err != nil {
		s.log.Warn().Err(err).Str("entity", entry.EntityType).Msg("audit append failed")
		return Record{}, false
	}
	return out, true
}

// AuditTrail returns the entries for one entity in append order.
func (s *Service) AuditTrail(entityType, entityID string) []domain.AuditEntry {
	var out []domain.AuditEntry
	for _, rec := range s.store.List(domain.EntityAuditLogs) {
		entry := domain.AuditEntryFrom(rec)
		if entry.EntityType == entityType && entry.EntityID == entityID {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
