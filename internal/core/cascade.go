package core

import (
	"errors"

	"crmcore/pkg/domain"
)

// cascadeAction is what happens to a dependent record when its parent goes.
type cascadeAction string

const (
	cascadeRemove cascadeAction = "remove"
	// cascadeDetach clears the polymorphic relation but keeps the record.
	cascadeDetach cascadeAction = "detach"
)

// cascadeStep is one planned change to a dependent record.
type cascadeStep struct {
	Entity EntityType
	ID     string
	Action cascadeAction
}

var cascadeParents = map[EntityType]struct{}{
	domain.EntityAccounts: {},
	domain.EntityContacts: {},
	domain.EntityDeals:    {},
	domain.EntityLeads:    {},
}

// Children removed when their relation points at a deleted parent.
var relationChildren = []EntityType{
	domain.EntityCommunications,
	domain.EntityTasks,
	domain.EntityDocuments,
}

// Children removed when their accountId points at a deleted account.
var accountChildren = []EntityType{
	domain.EntityContacts,
	domain.EntityDeals,
	domain.EntityInvoices,
	domain.EntitySubscriptions,
}

const keyAccountID = "accountId"

// IsCascadeParent reports whether deleting a record of t triggers a cascade.
func IsCascadeParent(t EntityType) bool {
	_, ok := cascadeParents[t]
	return ok
}

// planCascade lists the changes implied by deleting (parentType, parentID).
// Only accounts cascade through a direct foreign key; contacts, deals and
// leads cascade through polymorphic relations alone.
func planCascade(view domain.RuleView, parentType EntityType, parentID string) []cascadeStep {
	if !IsCascadeParent(parentType) {
		return nil
	}
	var steps []cascadeStep
	for _, child := range relationChildren {
		for _, rec := range view.List(child) {
			if domain.RelatesTo(rec, parentID, string(parentType)) {
				steps = append(steps, cascadeStep{Entity: child, ID: rec.ID, Action: cascadeRemove})
			}
		}
	}
	for _, rec := range view.List(domain.EntityTickets) {
		if domain.RelatesTo(rec, parentID, string(parentType)) {
			steps = append(steps, cascadeStep{Entity: domain.EntityTickets, ID: rec.ID, Action: cascadeDetach})
		}
	}
	if parentType == domain.EntityAccounts {
		for _, child := range accountChildren {
			for _, rec := range view.List(child) {
				if rec.String(keyAccountID) == parentID {
					steps = append(steps, cascadeStep{Entity: child, ID: rec.ID, Action: cascadeRemove})
				}
			}
		}
	}
	return steps
}

// applyCascade executes steps. Records already gone are skipped.
func applyCascade(tx domain.Transaction, steps []cascadeStep) error {
	for _, step := range steps {
		var err error
		switch step.Action {
		case cascadeRemove:
			err = tx.Delete(step.Entity, step.ID)
		case cascadeDetach:
			_, err = tx.Update(step.Entity, step.ID, func(r *Record) error {
				delete(r.Fields, domain.KeyRelatedToID)
				delete(r.Fields, domain.KeyRelatedToType)
				return nil
			})
		}
		if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
			return err
		}
	}
	return nil
}
