package core

import (
	"context"
	"errors"
	"strings"

	"crmcore/pkg/domain"
)

// NoteType is the communication type of notes.
const NoteType = "note"

// AddNote attaches a note communication to an entity and audits it on the
// entity's trail.
func (s *Service) AddNote(ctx context.Context, t EntityType, id, body string) (Record, bool) {
	body = strings.TrimSpace(body)
	if !t.Valid() || body == "" {
		return Record{}, false
	}
	if !s.allowed(domain.EntityCommunications, domain.PermCreate) {
		return Record{}, false
	}
	var out Record
	_, err := s.run(ctx, "add_note", func(tx domain.Transaction) error {
		if _, ok := tx.Find(t, id); !ok {
			return ErrNotFound{Entity: t, ID: id}
		}
		note, err := s.create(tx, domain.EntityCommunications, "", map[string]any{
			"type":                  NoteType,
			"body":                  body,
			domain.KeyRelatedToID:   id,
			domain.KeyRelatedToType: string(t),
		})
		if err != nil {
			return err
		}
		out = note
		_, err = tx.AppendAudit(s.auditEntry(t, id, domain.AuditNoteAdded, nil, map[string]any{"communicationId": note.ID}))
		return err
	})
	if err != nil {
		var nf ErrNotFound
		if !errors.As(err, &nf) {
			s.log.Warn().Err(err).Str("entity", string(t)).Str("id", id).Msg("note rejected")
		}
		return Record{}, false
	}
	return out, true
}
