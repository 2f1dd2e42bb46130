package core

import (
	"context"
	"fmt"

	"crmcore/pkg/domain"
)

// NewRelationTargetRule returns a warning rule flagging polymorphic relations
// that point at a record which does not exist.
func NewRelationTargetRule() domain.Rule {
	return relationTargetRule{}
}

type relationTargetRule struct{}

func (relationTargetRule) Name() string { return "relation_target" }

func (relationTargetRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, ch := range changes {
		if ch.After == nil || !domain.HasRelation(ch.Entity) {
			continue
		}
		rel, ok := domain.RelationOf(*ch.After)
		if !ok {
			continue
		}
		// Relations to types outside the built-in set cannot be checked.
		parent, known := domain.ParseEntityType(rel.Type)
		if !known {
			continue
		}
		if _, exists := view.Find(parent, rel.ID); exists {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "relation_target",
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("%s %s relates to missing %s %s", ch.Entity, ch.After.ID, rel.Type, rel.ID),
			Entity:   ch.Entity,
			EntityID: ch.After.ID,
		})
	}
	return res, nil
}
