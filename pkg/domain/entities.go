// Package domain defines the CRM record vocabulary shared by the store, the
// lifecycle service and the persistence adapters. It has no dependencies on
// internal packages.
package domain

import "strings"

// EntityType names a record collection.
type EntityType string

// Entity collections managed by the record store.
const (
	EntityLeads               EntityType = "leads"
	EntityDeals               EntityType = "deals"
	EntityAccounts            EntityType = "accounts"
	EntityContacts            EntityType = "contacts"
	EntityQuotes              EntityType = "quotes"
	EntityInvoices            EntityType = "invoices"
	EntitySubscriptions       EntityType = "subscriptions"
	EntityCommunications      EntityType = "communications"
	EntityTasks               EntityType = "tasks"
	EntityDocuments           EntityType = "documents"
	EntityTickets             EntityType = "tickets"
	EntityJobs                EntityType = "jobs"
	EntityPurchaseOrders      EntityType = "purchase_orders"
	EntityProducts            EntityType = "products"
	EntityServices            EntityType = "services"
	EntityCampaigns           EntityType = "campaigns"
	EntityUsers               EntityType = "users"
	EntityCrews               EntityType = "crews"
	EntityZones               EntityType = "zones"
	EntityEquipment           EntityType = "equipment"
	EntityInventoryItems      EntityType = "inventory_items"
	EntityWarehouses          EntityType = "warehouses"
	EntityBankTransactions    EntityType = "bank_transactions"
	EntityExpenses            EntityType = "expenses"
	EntityReviews             EntityType = "reviews"
	EntityReferralRewards     EntityType = "referral_rewards"
	EntityInboundForms        EntityType = "inbound_forms"
	EntityChatWidgets         EntityType = "chat_widgets"
	EntityCalculators         EntityType = "calculators"
	EntityAutomationWorkflows EntityType = "automation_workflows"
	EntityWebhooks            EntityType = "webhooks"
	EntityIndustryTemplates   EntityType = "industry_templates"
	EntityCalendarEvents      EntityType = "calendar_events"
	EntityAuditLogs           EntityType = "audit_logs"
	EntityTacticalQueue       EntityType = "tactical_queue"
)

// CustomEntitiesTable is the remote table and snapshot bucket holding
// tenant-defined records of every custom entity.
const CustomEntitiesTable = "custom_entities"

var entityTypes = []EntityType{
	EntityLeads, EntityDeals, EntityAccounts, EntityContacts, EntityQuotes,
	EntityInvoices, EntitySubscriptions, EntityCommunications, EntityTasks,
	EntityDocuments, EntityTickets, EntityJobs, EntityPurchaseOrders,
	EntityProducts, EntityServices, EntityCampaigns, EntityUsers, EntityCrews,
	EntityZones, EntityEquipment, EntityInventoryItems, EntityWarehouses,
	EntityBankTransactions, EntityExpenses, EntityReviews, EntityReferralRewards,
	EntityInboundForms, EntityChatWidgets, EntityCalculators,
	EntityAutomationWorkflows, EntityWebhooks, EntityIndustryTemplates,
	EntityCalendarEvents, EntityAuditLogs, EntityTacticalQueue,
}

var entityIndex = func() map[EntityType]struct{} {
	idx := make(map[EntityType]struct{}, len(entityTypes))
	for _, t := range entityTypes {
		idx[t] = struct{}{}
	}
	return idx
}()

// EntityTypes returns every known collection in declaration order.
func EntityTypes() []EntityType {
	return append([]EntityType(nil), entityTypes...)
}

// ParseEntityType resolves a collection name. Matching is exact after trimming
// surrounding whitespace; unknown names are rejected.
func ParseEntityType(name string) (EntityType, bool) {
	t := EntityType(strings.TrimSpace(name))
	if _, ok := entityIndex[t]; !ok {
		return "", false
	}
	return t, true
}

// Valid reports whether t is a known collection.
func (t EntityType) Valid() bool {
	_, ok := entityIndex[t]
	return ok
}

func (t EntityType) String() string { return string(t) }

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Action enumerates record mutations captured by a transaction.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change describes a single committed mutation. Custom is set for
// tenant-defined entities, in which case Entity is empty.
type Change struct {
	Entity EntityType
	Custom string
	Action Action
	Before *Record
	After  *Record
}

// Table returns the remote table / snapshot bucket affected by the change.
func (c Change) Table() string {
	if c.Custom != "" {
		return CustomEntitiesTable
	}
	return string(c.Entity)
}

// RecordID returns the id of the record touched by the change.
func (c Change) RecordID() string {
	if c.After != nil {
		return c.After.ID
	}
	if c.Before != nil {
		return c.Before.ID
	}
	return ""
}

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// FirstBlocking returns the first blocking violation, if any.
func (r Result) FirstBlocking() (Violation, bool) {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return v, true
		}
	}
	return Violation{}, false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	if v, ok := e.Result.FirstBlocking(); ok && v.Message != "" {
		return "transaction blocked by rules: " + v.Message
	}
	return "transaction blocked by rules"
}

// Snapshot buckets that do not hold records.
const (
	BucketNumbering = "numbering"
	BucketSettings  = "settings"
)

// Commit is returned by a successful transaction. Buckets lists non-record
// state (numbering, settings) modified by the transaction.
type Commit struct {
	Result  Result
	Changes []Change
	Buckets []string
}

// Touched returns the distinct buckets affected by the commit in first-seen
// order.
func (c Commit) Touched() []string {
	seen := make(map[string]struct{}, len(c.Changes)+len(c.Buckets))
	var out []string
	add := func(bucket string) {
		if _, ok := seen[bucket]; ok {
			return
		}
		seen[bucket] = struct{}{}
		out = append(out, bucket)
	}
	for _, ch := range c.Changes {
		add(ch.Table())
	}
	for _, b := range c.Buckets {
		add(b)
	}
	return out
}
