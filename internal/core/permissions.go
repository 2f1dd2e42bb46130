package core

import (
	"context"
	"fmt"
	"strings"

	"crmcore/pkg/domain"
)

var knownRoles = map[domain.Role]struct{}{
	domain.RoleAdmin:      {},
	domain.RoleManager:    {},
	domain.RoleSalesRep:   {},
	domain.RoleFinance:    {},
	domain.RoleTechnician: {},
	domain.RoleMarketing:  {},
}

// HasPermission evaluates the actor's role against the permission matrix.
func (s *Service) HasPermission(d domain.PermissionDomain, action domain.PermissionAction) bool {
	return s.matrix.Allows(s.Actor().Role, d, action)
}

// CanAccessRecord applies row-level visibility for the actor.
func (s *Service) CanAccessRecord(rec Record) bool {
	actor := s.Actor()
	if actor.Role == domain.RoleAdmin {
		return true
	}
	return domain.CanAccessRecord(actor, rec, s.users())
}

// isAdmin reports whether the actor may administer users.
func (s *Service) isAdmin() bool {
	return s.Actor().Role == domain.RoleAdmin
}

// UpdateUserRole changes a user's role. Only admins may call it, and
// demoting the last admin is rejected.
func (s *Service) UpdateUserRole(ctx context.Context, userID string, role domain.Role) OpResult {
	role = domain.Role(strings.ToLower(strings.TrimSpace(string(role))))
	if _, ok := knownRoles[role]; !ok {
		return OpResult{Error: fmt.Sprintf("unknown role %q", role)}
	}
	if !s.isAdmin() {
		return opResult(ErrForbidden)
	}
	_, err := s.run(ctx, "update_user_role", func(tx domain.Transaction) error {
		rec, ok := tx.Find(domain.EntityUsers, userID)
		if !ok {
			return ErrNotFound{Entity: domain.EntityUsers, ID: userID}
		}
		from := rec.String("role")
		if from == string(role) {
			return nil
		}
		if _, err := tx.Update(domain.EntityUsers, userID, setFields(map[string]any{"role": string(role)})); err != nil {
			return err
		}
		_, err := tx.AppendAudit(s.auditEntry(domain.EntityUsers, userID, domain.AuditRoleChanged, string(role), map[string]any{"from": from}))
		return err
	})
	return opResult(err)
}

// DeleteUser removes a user. Only admins may call it, and removing the last
// admin is rejected.
func (s *Service) DeleteUser(ctx context.Context, userID string) OpResult {
	if !s.isAdmin() {
		return opResult(ErrForbidden)
	}
	_, err := s.run(ctx, "delete_user", func(tx domain.Transaction) error {
		if _, ok := tx.Find(domain.EntityUsers, userID); !ok {
			return ErrNotFound{Entity: domain.EntityUsers, ID: userID}
		}
		if err := tx.Delete(domain.EntityUsers, userID); err != nil {
			return err
		}
		_, err := tx.AppendAudit(s.auditEntry(domain.EntityUsers, userID, domain.AuditDeleted, nil, nil))
		return err
	})
	return opResult(err)
}
