package core

import (
	"context"

	"crmcore/pkg/domain"
)

// NewLastAdminRule returns the rule that keeps at least one admin user once
// one exists.
func NewLastAdminRule() domain.Rule {
	return lastAdminRule{}
}

type lastAdminRule struct{}

func (lastAdminRule) Name() string { return "last_admin" }

func (lastAdminRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var lost *domain.Record
	for _, ch := range changes {
		if ch.Entity != domain.EntityUsers || ch.Before == nil {
			continue
		}
		if domain.Role(ch.Before.String("role")) != domain.RoleAdmin {
			continue
		}
		if ch.After != nil && domain.Role(ch.After.String("role")) == domain.RoleAdmin {
			continue
		}
		lost = ch.Before
		break
	}
	if lost == nil {
		return domain.Result{}, nil
	}
	for _, u := range view.List(domain.EntityUsers) {
		if domain.Role(u.String("role")) == domain.RoleAdmin {
			return domain.Result{}, nil
		}
	}
	return domain.Result{Violations: []domain.Violation{{
		Rule:     "last_admin",
		Severity: domain.SeverityBlock,
		Message:  "cannot remove or demote the last admin user",
		Entity:   domain.EntityUsers,
		EntityID: lost.ID,
	}}}, nil
}
