package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmcore/pkg/domain"
)

func TestHasPermissionMissingDomain(t *testing.T) {
	s := newTestService(t)
	s.SetActor(domain.User{ID: "m", Role: domain.RoleMarketing})
	assert.False(t, s.HasPermission(domain.DomainFinance, domain.PermDelete), "no finance entry for marketing")
	assert.True(t, s.HasPermission(domain.DomainMarketing, domain.PermDelete))

	empty := newTestService(t, WithPermissionMatrix(domain.PermissionMatrix{
		domain.RoleKey(domain.RoleFinance): {},
	}))
	empty.SetActor(domain.User{ID: "a", Role: domain.RoleAdmin})
	assert.True(t, empty.HasPermission(domain.DomainFinance, domain.PermDelete), "admins pass missing entries")
	empty.SetActor(domain.User{ID: "f", Role: domain.RoleFinance})
	assert.False(t, empty.HasPermission(domain.DomainFinance, domain.PermDelete))
}

func TestCanAccessRecord(t *testing.T) {
	s := newTestService(t)
	mustUpsert(t, s, domain.EntityUsers, map[string]any{"id": "rep", "role": "sales_rep", "managerId": "mgr"})
	own := domain.NewRecord(map[string]any{"id": "x", "ownerId": "rep"})
	foreign := domain.NewRecord(map[string]any{"id": "y", "ownerId": "someone"})

	s.SetActor(domain.User{ID: "mgr", Role: domain.RoleManager})
	assert.True(t, s.CanAccessRecord(own))
	assert.False(t, s.CanAccessRecord(foreign))

	s.SetActor(domain.User{ID: "rep", Role: domain.RoleSalesRep})
	assert.True(t, s.CanAccessRecord(own))
	assert.False(t, s.CanAccessRecord(foreign))

	s.SetActor(domain.User{ID: "boss", Role: domain.RoleAdmin})
	assert.True(t, s.CanAccessRecord(foreign))
}

func TestLastAdminCannotBeRemoved(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustUpsert(t, s, domain.EntityUsers, map[string]any{"id": "root", "role": "admin"})
	mustUpsert(t, s, domain.EntityUsers, map[string]any{"id": "ops", "role": "manager"})

	res := s.DeleteUser(ctx, "root")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "last admin")
	mustGet(t, s, domain.EntityUsers, "root")

	res = s.UpdateUserRole(ctx, "root", domain.RoleManager)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "last admin")

	assert.False(t, s.DeleteRecord(ctx, domain.EntityUsers, "root"), "generic delete hits the same rule")

	require.True(t, s.UpdateUserRole(ctx, "ops", "ADMIN").Success)
	assert.Equal(t, []string{domain.AuditRoleChanged}, auditActions(s, domain.EntityUsers, "ops"))

	res = s.UpdateUserRole(ctx, "root", domain.RoleFinance)
	require.True(t, res.Success, res.Error)
	res = s.DeleteUser(ctx, "root")
	require.True(t, res.Success, res.Error)

	res = s.DeleteUser(ctx, "ops")
	assert.False(t, res.Success)
}

func TestUserAdministrationValidation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	assert.False(t, s.UpdateUserRole(ctx, "ghost", domain.RoleAdmin).Success)
	assert.Contains(t, s.UpdateUserRole(ctx, "ghost", "wizard").Error, "unknown role")
	assert.False(t, s.DeleteUser(ctx, "ghost").Success)

	mustUpsert(t, s, domain.EntityUsers, map[string]any{"id": "u1", "role": "sales_rep"})
	s.SetActor(domain.User{ID: "u1", Role: domain.RoleSalesRep})
	res := s.DeleteUser(ctx, "u1")
	assert.False(t, res.Success)
	assert.Equal(t, ErrForbidden.Error(), res.Error)
}

func TestManagersCannotAdministerUsers(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustUpsert(t, s, domain.EntityUsers, map[string]any{"id": "root", "role": "admin"})
	mustUpsert(t, s, domain.EntityUsers, map[string]any{"id": "mgr", "role": "manager"})

	s.SetActor(domain.User{ID: "mgr", Role: domain.RoleManager})
	res := s.UpdateUserRole(ctx, "mgr", domain.RoleAdmin)
	assert.False(t, res.Success)
	assert.Equal(t, ErrForbidden.Error(), res.Error)
	res = s.DeleteUser(ctx, "root")
	assert.False(t, res.Success)
	assert.Equal(t, ErrForbidden.Error(), res.Error)

	_, ok := s.UpsertRecord(ctx, domain.EntityUsers, domain.NewRecord(map[string]any{"id": "mgr", "role": "admin"}))
	assert.False(t, ok, "generic upsert cannot change a role")
	_, ok = s.UpsertRecord(ctx, domain.EntityUsers, domain.NewRecord(map[string]any{"id": "new", "role": "admin"}))
	assert.False(t, ok, "generic upsert cannot create a user with a role")
	assert.False(t, s.DeleteRecord(ctx, domain.EntityUsers, "root"))

	updated, ok := s.UpsertRecord(ctx, domain.EntityUsers, domain.NewRecord(map[string]any{"id": "mgr", "role": "manager", "name": "Morgan"}))
	require.True(t, ok, "profile edits that keep the role are allowed")
	assert.Equal(t, "Morgan", updated.String("name"))

	assert.Equal(t, "manager", mustGet(t, s, domain.EntityUsers, "mgr").String("role"))
	mustGet(t, s, domain.EntityUsers, "root")
	assert.Empty(t, auditActions(s, domain.EntityUsers, "mgr"))

	s.SetActor(domain.User{ID: "root", Role: domain.RoleAdmin})
	require.True(t, s.UpdateUserRole(ctx, "mgr", domain.RoleAdmin).Success)
	require.True(t, s.DeleteUser(ctx, "root").Success)
}
