package domain

import "strings"

// Polymorphic relation keys carried by child records.
const (
	KeyRelatedToID   = "relatedToId"
	KeyRelatedToType = "relatedToType"
)

var relationBearing = map[EntityType]struct{}{
	EntityCommunications: {},
	EntityTasks:          {},
	EntityDocuments:      {},
	EntityTickets:        {},
}

// HasRelation reports whether records of type t carry a polymorphic
// (relatedToId, relatedToType) reference.
func HasRelation(t EntityType) bool {
	_, ok := relationBearing[t]
	return ok
}

// RelationTypes lists the relation-bearing collections.
func RelationTypes() []EntityType {
	return []EntityType{EntityCommunications, EntityTasks, EntityDocuments, EntityTickets}
}

// NormalizeRelation canonicalizes a relatedToType value. Every write and every
// comparison goes through it.
func NormalizeRelation(relatedToType string) string {
	return strings.ToLower(strings.TrimSpace(relatedToType))
}

// Relation is a child record's reference to an arbitrary parent.
type Relation struct {
	ID   string
	Type string
}

// RelationOf extracts the normalized relation of rec.
func RelationOf(rec Record) (Relation, bool) {
	id := rec.String(KeyRelatedToID)
	if id == "" {
		return Relation{}, false
	}
	return Relation{ID: id, Type: NormalizeRelation(rec.String(KeyRelatedToType))}, true
}

// Matches reports whether the relation points at (id, parentType). Both sides
// are normalized before comparing.
func (r Relation) Matches(id string, parentType string) bool {
	return r.ID == id && NormalizeRelation(r.Type) == NormalizeRelation(parentType)
}

// RelatesTo is shorthand for RelationOf(rec).Matches(id, parentType).
func RelatesTo(rec Record, id string, parentType string) bool {
	rel, ok := RelationOf(rec)
	return ok && rel.Matches(id, parentType)
}

// NormalizeRelationFields lower-cases relatedToType in place when present.
func NormalizeRelationFields(rec *Record) {
	if v, ok := rec.Get(KeyRelatedToType); ok && v != nil {
		rec.Set(KeyRelatedToType, NormalizeRelation(asString(v)))
	}
}
