package core

import "crmcore/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewLastAdminRule())
	engine.Register(NewDocumentNumberRule())
	engine.Register(NewRelationTargetRule())
	return engine
}
