package domain

import "strings"

// Role is a user's permission role.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleSalesRep   Role = "sales_rep"
	RoleFinance    Role = "finance"
	RoleTechnician Role = "technician"
	RoleMarketing  Role = "marketing"
)

// PermissionDomain groups entity types for permission checks.
type PermissionDomain string

const (
	DomainSales      PermissionDomain = "sales"
	DomainFinance    PermissionDomain = "finance"
	DomainOperations PermissionDomain = "operations"
	DomainField      PermissionDomain = "field"
	DomainMarketing  PermissionDomain = "marketing"
)

// PermissionAction is a gated capability within a domain.
type PermissionAction string

const (
	PermViewGlobal PermissionAction = "viewGlobal"
	PermViewTeam   PermissionAction = "viewTeam"
	PermViewOwn    PermissionAction = "viewOwn"
	PermCreate     PermissionAction = "create"
	PermEdit       PermissionAction = "edit"
	PermDelete     PermissionAction = "delete"
	PermExport     PermissionAction = "export"
)

// PermissionSet holds the allowed actions for one role within one domain.
type PermissionSet struct {
	ViewGlobal bool `json:"viewGlobal" yaml:"viewGlobal"`
	ViewTeam   bool `json:"viewTeam" yaml:"viewTeam"`
	ViewOwn    bool `json:"viewOwn" yaml:"viewOwn"`
	Create     bool `json:"create" yaml:"create"`
	Edit       bool `json:"edit" yaml:"edit"`
	Delete     bool `json:"delete" yaml:"delete"`
	Export     bool `json:"export" yaml:"export"`
}

// Allows reports whether action is granted.
func (p PermissionSet) Allows(action PermissionAction) bool {
	switch action {
	case PermViewGlobal:
		return p.ViewGlobal
	case PermViewTeam:
		return p.ViewTeam
	case PermViewOwn:
		return p.ViewOwn
	case PermCreate:
		return p.Create
	case PermEdit:
		return p.Edit
	case PermDelete:
		return p.Delete
	case PermExport:
		return p.Export
	default:
		return false
	}
}

// PermissionMatrix maps ROLE-<UPPER(role)> to per-domain permission sets.
type PermissionMatrix map[string]map[PermissionDomain]PermissionSet

// RoleKey returns the matrix key of role.
func RoleKey(role Role) string {
	return "ROLE-" + strings.ToUpper(string(role))
}

// Allows looks up role/domain/action. A role/domain pair missing from the
// matrix passes for admins and fails for everyone else.
func (m PermissionMatrix) Allows(role Role, domain PermissionDomain, action PermissionAction) bool {
	domains, ok := m[RoleKey(role)]
	if !ok {
		return role == RoleAdmin
	}
	set, ok := domains[domain]
	if !ok {
		return role == RoleAdmin
	}
	return set.Allows(action)
}

var (
	fullAccess = PermissionSet{ViewGlobal: true, ViewTeam: true, ViewOwn: true, Create: true, Edit: true, Delete: true, Export: true}
	teamLead   = PermissionSet{ViewTeam: true, ViewOwn: true, Create: true, Edit: true, Delete: true, Export: true}
	ownWork    = PermissionSet{ViewOwn: true, Create: true, Edit: true}
	readOwn    = PermissionSet{ViewOwn: true}
	readAll    = PermissionSet{ViewGlobal: true, ViewTeam: true, ViewOwn: true}
)

// DefaultPermissionMatrix returns the built-in matrix.
func DefaultPermissionMatrix() PermissionMatrix {
	return PermissionMatrix{
		RoleKey(RoleAdmin): {
			DomainSales: fullAccess, DomainFinance: fullAccess, DomainOperations: fullAccess,
			DomainField: fullAccess, DomainMarketing: fullAccess,
		},
		RoleKey(RoleManager): {
			DomainSales: teamLead, DomainFinance: readAll, DomainOperations: teamLead,
			DomainField: teamLead, DomainMarketing: teamLead,
		},
		RoleKey(RoleSalesRep): {
			DomainSales: ownWork, DomainMarketing: readOwn,
		},
		RoleKey(RoleFinance): {
			DomainFinance: fullAccess, DomainSales: readAll,
		},
		RoleKey(RoleTechnician): {
			DomainField: ownWork, DomainOperations: readOwn,
		},
		RoleKey(RoleMarketing): {
			DomainMarketing: fullAccess, DomainSales: {ViewTeam: true, ViewOwn: true},
		},
	}
}

var entityDomains = map[EntityType]PermissionDomain{
	EntityLeads: DomainSales, EntityDeals: DomainSales, EntityAccounts: DomainSales,
	EntityContacts: DomainSales, EntityQuotes: DomainSales, EntityCommunications: DomainSales,
	EntityTasks: DomainSales, EntityDocuments: DomainSales, EntityCalendarEvents: DomainSales,
	EntityTacticalQueue: DomainSales,

	EntityInvoices: DomainFinance, EntitySubscriptions: DomainFinance,
	EntityBankTransactions: DomainFinance, EntityExpenses: DomainFinance,
	EntityPurchaseOrders: DomainFinance,

	EntityProducts: DomainOperations, EntityServices: DomainOperations,
	EntityInventoryItems: DomainOperations, EntityWarehouses: DomainOperations,
	EntityUsers: DomainOperations, EntityIndustryTemplates: DomainOperations,
	EntityAutomationWorkflows: DomainOperations, EntityWebhooks: DomainOperations,
	EntityAuditLogs: DomainOperations,

	EntityJobs: DomainField, EntityTickets: DomainField, EntityCrews: DomainField,
	EntityZones: DomainField, EntityEquipment: DomainField,

	EntityCampaigns: DomainMarketing, EntityReviews: DomainMarketing,
	EntityReferralRewards: DomainMarketing, EntityInboundForms: DomainMarketing,
	EntityChatWidgets: DomainMarketing, EntityCalculators: DomainMarketing,
}

// DomainFor returns the permission domain that gates records of type t.
func DomainFor(t EntityType) PermissionDomain {
	if d, ok := entityDomains[t]; ok {
		return d
	}
	return DomainOperations
}

// Ownership keys consulted by row-level visibility.
const (
	KeyOwnerID    = "ownerId"
	KeyAssigneeID = "assigneeId"
	KeyManagerID  = "managerId"
)

// OwnedBy reports whether rec belongs to userID through ownerId, assigneeId
// or createdBy.
func OwnedBy(rec Record, userID string) bool {
	if userID == "" {
		return false
	}
	return rec.String(KeyOwnerID) == userID ||
		rec.String(KeyAssigneeID) == userID ||
		rec.CreatedBy == userID
}

// CanAccessRecord applies row-level visibility for viewer. Admins see every
// record; a manager sees records owned by themselves or by users reporting to
// them; everyone else only sees records they own.
func CanAccessRecord(viewer User, rec Record, users []User) bool {
	switch viewer.Role {
	case RoleAdmin:
		return true
	case RoleManager:
		if OwnedBy(rec, viewer.ID) {
			return true
		}
		for _, u := range users {
			if u.ManagerID == viewer.ID && u.ID != "" && OwnedBy(rec, u.ID) {
				return true
			}
		}
		return false
	default:
		return OwnedBy(rec, viewer.ID)
	}
}
