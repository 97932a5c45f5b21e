// Package policy decides which account mutations a role may perform.
//
// Every decision is a lookup in a fixed table; nothing here touches storage.
//
//	actor          create as                  edit target    assign role
//	fleet-admin    director,manager,operator  any            any (never own role)
//	director       operator                   operator       operator
//	manager        operator                   operator       operator
//	operator       -                          -              -
package policy

import (
	"github.com/ukydev/fleet-usage/internal/models"
)

type rule struct {
	create map[models.Role]bool
	edit   map[models.Role]bool
	assign map[models.Role]bool
}

func set(roles ...models.Role) map[models.Role]bool {
	m := make(map[models.Role]bool, len(roles))
	for _, r := range roles {
		m[r] = true
	}
	return m
}

var managerRule = rule{
	create: set(models.RoleOperator),
	edit:   set(models.RoleOperator),
	assign: set(models.RoleOperator),
}

var table = map[models.Role]rule{
	models.RoleFleetAdmin: {
		create: set(models.RoleDirector, models.RoleManager, models.RoleOperator),
		edit:   set(models.AllRoles...),
		assign: set(models.AllRoles...),
	},
	models.RoleDirector: managerRule,
	models.RoleManager:  managerRule,
}

// CanCreate reports whether actor may create an account with the given role.
func CanCreate(actor, role models.Role) bool {
	return table[actor].create[role]
}

// CanEdit reports whether actor may edit an account that currently has targetRole.
func CanEdit(actor, targetRole models.Role) bool {
	return table[actor].edit[targetRole]
}

// CanAssign reports whether actor may set an account's role to newRole.
func CanAssign(actor, newRole models.Role) bool {
	return table[actor].assign[newRole]
}

// CanManageFleet reports whether actor may edit assets, maintenance plans and service logs.
func CanManageFleet(actor models.Role) bool {
	return actor.IsManagerTier()
}

// AuthorizeUpdate decides a whole profile patch at once. The self-role-change veto is
// checked before the table, and a rejected role change rejects the name change with it.
// Resubmitting the target's current role is not a role change.
func AuthorizeUpdate(actor models.Identity, target models.Profile, patch models.ProfilePatch) error {
	changesRole := patch.Role != nil && *patch.Role != target.Role
	if changesRole && target.ID == actor.ActorID {
		return models.ErrSelfRoleChange
	}
	if !CanEdit(actor.Role, target.Role) {
		return models.ErrPermissionDenied
	}
	if patch.Role != nil && !CanAssign(actor.Role, *patch.Role) {
		return models.ErrPermissionDenied
	}
	return nil
}
