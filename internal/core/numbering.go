package core

import (
	"context"
	"fmt"

	"crmcore/pkg/domain"
)

// applyNumbering assigns the next document number to a record being created
// when t is numbered and the caller did not supply a number.
func applyNumbering(tx domain.Transaction, t EntityType, rec *Record) error {
	kind, ok := domain.DocumentKindFor(t)
	if !ok || rec.Has(kind.NumberField()) {
		return nil
	}
	number, err := tx.NextDocumentNumber(kind)
	if err != nil {
		return err
	}
	rec.Set(kind.NumberField(), number)
	return nil
}

// ConfigureNumbering replaces the prefix and next counter of a series.
// Lowering the counter below an issued number is caught by the
// document-number rule when the duplicate is created.
func (s *Service) ConfigureNumbering(ctx context.Context, kind domain.DocumentKind, prefix string, next int) OpResult {
	if _, ok := domain.ParseDocumentKind(string(kind)); !ok {
		return OpResult{Error: fmt.Sprintf("unknown document kind %q", kind)}
	}
	if !s.allowed(domain.EntityIndustryTemplates, domain.PermEdit) {
		return opResult(ErrForbidden)
	}
	_, err := s.run(ctx, "configure_numbering", func(tx domain.Transaction) error {
		return tx.SetNumbering(kind, domain.NumberingSeries{Prefix: prefix, NextNumber: next})
	})
	return opResult(err)
}

// NumberingSeries returns every series.
func (s *Service) NumberingSeries() map[domain.DocumentKind]domain.NumberingSeries {
	return s.store.Numbering()
}
