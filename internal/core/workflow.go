package core

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"crmcore/pkg/domain"
)

// errAlreadyConverted marks a repeated terminal transition.
var errAlreadyConverted = errors.New("already converted")

// amount stores a decimal as a JSON number field value.
func amount(d decimal.Decimal) any {
	return json.Number(d.String())
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// find loads and decodes a record inside a transaction.
func find[T any](tx domain.Transaction, t EntityType, id string) (Record, T, error) {
	var zero T
	rec, ok := tx.Find(t, id)
	if !ok {
		return Record{}, zero, ErrNotFound{Entity: t, ID: id}
	}
	typed, err := domain.DecodeRecord[T](rec)
	if err != nil {
		return Record{}, zero, err
	}
	return rec, typed, nil
}

// setFields returns an Update mutator assigning every key of fields.
func setFields(fields map[string]any) func(*Record) error {
	return func(r *Record) error {
		for k, v := range fields {
			r.Set(k, v)
		}
		return nil
	}
}

// create inserts a record stamped with the actor.
func (s *Service) create(tx domain.Transaction, t EntityType, id string, fields map[string]any) (Record, error) {
	rec := domain.Record{ID: id, CreatedBy: s.Actor().ID, Fields: fields}
	if err := applyNumbering(tx, t, &rec); err != nil {
		return Record{}, err
	}
	return tx.Create(t, rec)
}

// migrateRelations re-points polymorphic relations from one entity to another.
func migrateRelations(tx domain.Transaction, fromType EntityType, fromID string, toType EntityType, toID string) (int, error) {
	moved := 0
	for _, child := range domain.RelationTypes() {
		for _, rec := range tx.List(child) {
			if !domain.RelatesTo(rec, fromID, string(fromType)) {
				continue
			}
			if _, err := tx.Update(child, rec.ID, setFields(map[string]any{
				domain.KeyRelatedToID:   toID,
				domain.KeyRelatedToType: string(toType),
			})); err != nil {
				return moved, err
			}
			moved++
		}
	}
	return moved, nil
}

func (s *Service) conversionFailed(kind string, id string, err error) string {
	s.metrics.conversion(kind, false)
	s.log.Info().Err(err).Str("kind", kind).Str("id", id).Msg("conversion rejected")
	return errorMessage(err)
}

func (s *Service) conversionDone(kind string, id string) {
	s.metrics.conversion(kind, true)
	s.log.Info().Str("kind", kind).Str("id", id).Msg("conversion completed")
}
