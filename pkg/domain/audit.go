package domain

import "time"

// Audit actions emitted by the lifecycle service.
const (
	AuditCreated         = "created"
	AuditUpdated         = "updated"
	AuditDeleted         = "deleted"
	AuditStatusChanged   = "status_changed"
	AuditConverted       = "converted"
	AuditNoteAdded       = "note_added"
	AuditPaymentRecorded = "payment_recorded"
	AuditReconciled      = "reconciled"
	AuditAccepted        = "accepted"
	AuditSuperseded      = "superseded"
	AuditClosedWon       = "closed_won"
	AuditRoleChanged     = "role_changed"
)

// KeyAuditSequence is the audit_logs field holding the append sequence.
const KeyAuditSequence = "sequence"

// AuditEntry is an immutable record of something that happened to an entity.
// Sequence is assigned by the store on append and orders entries that share
// a timestamp.
type AuditEntry struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Action     string         `json:"action"`
	NewValue   any            `json:"newValue,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	CreatedBy  string         `json:"createdBy,omitempty"`
	Sequence   int64          `json:"sequence,omitempty"`
}

// Before reports whether e was appended before other.
func (e AuditEntry) Before(other AuditEntry) bool {
	if !e.CreatedAt.Equal(other.CreatedAt) {
		return e.CreatedAt.Before(other.CreatedAt)
	}
	return e.Sequence < other.Sequence
}

// Record converts the entry into its audit_logs record.
func (e AuditEntry) Record() Record {
	rec := Record{
		ID:        e.ID,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.CreatedAt,
		CreatedBy: e.CreatedBy,
		Fields: map[string]any{
			"entityType": e.EntityType,
			"entityId":   e.EntityID,
			"action":     e.Action,
		},
	}
	if e.NewValue != nil {
		rec.Fields["newValue"] = e.NewValue
	}
	if len(e.Metadata) > 0 {
		rec.Fields["metadata"] = e.Metadata
	}
	if e.Sequence > 0 {
		rec.Fields[KeyAuditSequence] = e.Sequence
	}
	return rec
}

// AuditEntryFrom reads an audit_logs record back into an entry.
func AuditEntryFrom(rec Record) AuditEntry {
	entry := AuditEntry{
		ID:         rec.ID,
		EntityType: rec.String("entityType"),
		EntityID:   rec.String("entityId"),
		Action:     rec.String("action"),
		CreatedAt:  rec.CreatedAt,
		CreatedBy:  rec.CreatedBy,
		Sequence:   rec.Decimal(KeyAuditSequence).IntPart(),
	}
	if v, ok := rec.Get("newValue"); ok {
		entry.NewValue = v
	}
	if v, ok := rec.Get("metadata"); ok {
		if m, isMap := v.(map[string]any); isMap {
			entry.Metadata = m
		}
	}
	return entry
}
