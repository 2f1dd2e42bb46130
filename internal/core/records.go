package core

import (
	"context"
	"errors"
	"sort"
	"strings"

	"crmcore/pkg/domain"
)

const (
	keyStatus = "status"
	keyRole   = "role"
)

func sameRole(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// UpsertRecord creates data when its id is empty or unknown and merges it
// over the existing record otherwise. The boolean is false when the type is
// unknown, the actor lacks permission or the transaction was rejected.
func (s *Service) UpsertRecord(ctx context.Context, t EntityType, data Record) (Record, bool) {
	if !t.Valid() || t == domain.EntityAuditLogs {
		return Record{}, false
	}
	var out Record
	_, err := s.run(ctx, "upsert", func(tx domain.Transaction) error {
		rec, err := s.upsertTx(tx, t, data)
		out = rec
		return err
	})
	if err != nil {
		s.log.Warn().Err(err).Str("entity", string(t)).Str("id", data.ID).Msg("upsert rejected")
		return Record{}, false
	}
	return out, true
}

// AddRecord always creates a new record; any id in data is discarded.
func (s *Service) AddRecord(ctx context.Context, t EntityType, data Record) (Record, bool) {
	data = data.Clone()
	data.ID = ""
	return s.UpsertRecord(ctx, t, data)
}

// UpdateRecord merges data into the record with the given id, creating it
// when it does not exist yet.
func (s *Service) UpdateRecord(ctx context.Context, t EntityType, id string, data Record) (Record, bool) {
	data = data.Clone()
	data.ID = id
	return s.UpsertRecord(ctx, t, data)
}

func (s *Service) upsertTx(tx domain.Transaction, t EntityType, data Record) (Record, error) {
	actor := s.Actor()
	if data.ID != "" {
		if existing, ok := tx.Find(t, data.ID); ok {
			if !s.allowed(t, domain.PermEdit) {
				return Record{}, ErrForbidden
			}
			if t == domain.EntityUsers && data.Has(keyRole) && !sameRole(data.String(keyRole), existing.String(keyRole)) && !s.isAdmin() {
				return Record{}, ErrForbidden
			}
			updated, err := tx.Update(t, data.ID, func(r *Record) error {
				r.Merge(data)
				return nil
			})
			if err != nil {
				return Record{}, err
			}
			if data.Has(keyStatus) && updated.String(keyStatus) != existing.String(keyStatus) {
				if _, err := tx.AppendAudit(s.auditEntry(t, updated.ID, domain.AuditStatusChanged,
					updated.String(keyStatus), map[string]any{"from": existing.String(keyStatus)})); err != nil {
					return Record{}, err
				}
			}
			return updated, nil
		}
	}
	if !s.allowed(t, domain.PermCreate) {
		return Record{}, ErrForbidden
	}
	if t == domain.EntityUsers && data.Has(keyRole) && !s.isAdmin() {
		return Record{}, ErrForbidden
	}
	rec := data.Clone()
	rec.CreatedBy = actor.ID
	if err := applyNumbering(tx, t, &rec); err != nil {
		return Record{}, err
	}
	return tx.Create(t, rec)
}

// DeleteRecord removes a record and runs the cascade for parent types. It
// returns whether the type was recognized and the delete was carried out;
// deleting an id that does not exist is a successful no-op.
func (s *Service) DeleteRecord(ctx context.Context, t EntityType, id string) bool {
	if !t.Valid() || t == domain.EntityAuditLogs {
		return false
	}
	if err := s.deleteRecord(ctx, t, id); err != nil {
		s.log.Warn().Err(err).Str("entity", string(t)).Str("id", id).Msg("delete rejected")
		return false
	}
	return true
}

func (s *Service) deleteRecord(ctx context.Context, t EntityType, id string) error {
	if !s.allowed(t, domain.PermDelete) || (t == domain.EntityUsers && !s.isAdmin()) {
		return ErrForbidden
	}
	_, err := s.run(ctx, "delete", func(tx domain.Transaction) error {
		if _, ok := tx.Find(t, id); !ok {
			return nil
		}
		steps := planCascade(tx.Snapshot(), t, id)
		if err := tx.Delete(t, id); err != nil {
			return err
		}
		if err := applyCascade(tx, steps); err != nil {
			return err
		}
		var meta map[string]any
		if len(steps) > 0 {
			meta = map[string]any{"cascaded": len(steps)}
		}
		_, err := tx.AppendAudit(s.auditEntry(t, id, domain.AuditDeleted, nil, meta))
		return err
	})
	return err
}

// GetRecord returns a record by type and id.
func (s *Service) GetRecord(t EntityType, id string) (Record, bool) {
	return s.store.Get(t, id)
}

// ListRecords returns every record of type t ordered by creation.
func (s *Service) ListRecords(t EntityType) []Record {
	return s.store.List(t)
}

// VisibleRecords returns the records of type t the actor may see.
func (s *Service) VisibleRecords(t EntityType) []Record {
	recs := s.store.List(t)
	actor := s.Actor()
	if actor.Role == domain.RoleAdmin {
		return recs
	}
	users := s.users()
	out := recs[:0]
	for _, rec := range recs {
		if domain.CanAccessRecord(actor, rec, users) {
			out = append(out, rec)
		}
	}
	return out
}

// GetCommunicationsForEntity returns the communications related to the
// given entity, newest first.
func (s *Service) GetCommunicationsForEntity(t string, id string) []Record {
	comms := s.RelatedRecords(domain.EntityCommunications, t, id)
	sort.SliceStable(comms, func(i, j int) bool {
		return comms[i].CreatedAt.After(comms[j].CreatedAt)
	})
	return comms
}

// RelatedRecords returns the records of childType whose polymorphic relation
// points at (parentType, parentID).
func (s *Service) RelatedRecords(childType EntityType, parentType string, parentID string) []Record {
	var out []Record
	for _, rec := range s.store.List(childType) {
		if domain.RelatesTo(rec, parentID, parentType) {
			out = append(out, rec)
		}
	}
	return out
}

func (s *Service) users() []domain.User {
	recs := s.store.List(domain.EntityUsers)
	out := make([]domain.User, 0, len(recs))
	for _, rec := range recs {
		u, err := domain.DecodeRecord[domain.User](rec)
		if err != nil {
			continue
		}
		out = append(out, u)
	}
	return out
}

func isNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf) || errors.Is(err, domain.ErrRecordNotFound)
}
