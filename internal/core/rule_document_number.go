package core

import (
	"context"
	"fmt"

	"crmcore/pkg/domain"
)

// NewDocumentNumberRule returns the rule rejecting duplicate document numbers
// within a numbered collection.
func NewDocumentNumberRule() domain.Rule {
	return documentNumberRule{}
}

type documentNumberRule struct{}

func (documentNumberRule) Name() string { return "document_number_unique" }

func (documentNumberRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	checked := make(map[domain.EntityType]bool)
	for _, ch := range changes {
		if ch.After == nil || checked[ch.Entity] {
			continue
		}
		kind, ok := domain.DocumentKindFor(ch.Entity)
		if !ok {
			continue
		}
		checked[ch.Entity] = true
		field := kind.NumberField()
		owners := make(map[string]string)
		for _, rec := range view.List(ch.Entity) {
			number := rec.String(field)
			if number == "" {
				continue
			}
			if first, dup := owners[number]; dup {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "document_number_unique",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("%s %s is already used by %s", field, number, first),
					Entity:   ch.Entity,
					EntityID: rec.ID,
				})
				continue
			}
			owners[number] = rec.ID
		}
	}
	return res, nil
}
