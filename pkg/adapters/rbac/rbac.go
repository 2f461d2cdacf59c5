// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keychain.
//
// go-keychain is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package rbac is the role engine pkg/permission.Oracle sits on top of: a
// subject (Oracle always passes "app:<app_id>") is assigned one or more
// named roles, and a role is a set of resource:action permissions. Oracle
// never talks to Resource/Action strings directly outside rbacPermissionFor;
// everything else here is generic enough to host a larger permission model
// than the keystore's own handful of checks needs today.
package rbac

import (
	"context"
	"fmt"
)

// Permission is a resource:action pair a Role can carry and CheckPermission
// tests a subject's roles against.
type Permission struct {
	Resource string
	Action   string
}

// String renders p as "resource:action".
func (p Permission) String() string {
	return fmt.Sprintf("%s:%s", p.Resource, p.Action)
}

// Matches reports whether p and other denote the same permission, treating
// ActionAll on either side's Resource or Action as a wildcard.
func (p Permission) Matches(other Permission) bool {
	resourceMatch := p.Resource == other.Resource || p.Resource == ActionAll || other.Resource == ActionAll
	actionMatch := p.Action == other.Action || p.Action == ActionAll || other.Action == ActionAll
	return resourceMatch && actionMatch
}

// Role is a named, reusable bundle of permissions. Metadata["system"] marks
// the six roles initializeDefaultRoles seeds, which CreateRole/UpdateRole/
// DeleteRole/GrantPermission/RevokePermission all refuse to touch.
type Role struct {
	Name        string
	Description string
	Permissions []Permission
	Metadata    map[string]interface{}
}

// HasPermission reports whether r directly carries permission (no wildcard
// expansion; callers wanting wildcard matching use Permission.Matches).
func (r *Role) HasPermission(permission Permission) bool {
	for _, p := range r.Permissions {
		if p.Resource == permission.Resource && p.Action == permission.Action {
			return true
		}
	}
	return false
}

// RBACAdapter is the role-assignment and permission-check surface Oracle
// depends on. MemoryRBACAdapter is the only implementation wired today;
// the interface exists so a database-backed adapter can replace it without
// touching Oracle.
type RBACAdapter interface {
	// CheckPermission reports whether subject holds permission via any of
	// its assigned roles.
	CheckPermission(ctx context.Context, subject string, permission Permission) (bool, error)

	// AssignRole assigns roleName to subject. Errors if roleName is unknown.
	AssignRole(ctx context.Context, subject string, roleName string) error

	// RevokeRole removes roleName from subject. Errors if it wasn't assigned.
	RevokeRole(ctx context.Context, subject string, roleName string) error

	// GetUserRoles lists the role names currently assigned to subject.
	GetUserRoles(ctx context.Context, subject string) ([]string, error)

	// CreateRole defines a new role. Errors if the name is already taken.
	CreateRole(ctx context.Context, role *Role) error

	// UpdateRole replaces a non-system role's permissions wholesale.
	UpdateRole(ctx context.Context, role *Role) error

	// DeleteRole removes a role. Errors if it's system-owned or still
	// assigned to a subject.
	DeleteRole(ctx context.Context, roleName string) error

	// GetRole fetches a role by name.
	GetRole(ctx context.Context, roleName string) (*Role, error)

	// ListRoles returns every role known to the adapter.
	ListRoles(ctx context.Context) ([]*Role, error)

	// ListPermissions aggregates and deduplicates the permissions carried
	// by every role assigned to subject.
	ListPermissions(ctx context.Context, subject string) ([]Permission, error)

	// GrantPermission adds permission to a non-system role.
	GrantPermission(ctx context.Context, roleName string, permission Permission) error

	// RevokePermission removes permission from a non-system role.
	RevokePermission(ctx context.Context, roleName string, permission Permission) error
}

// The six system roles initializeDefaultRoles seeds every MemoryRBACAdapter
// with when constructed via NewMemoryRBACAdapter(true). Oracle's own
// cmd/keystored demo only ever assigns RoleAdmin and RoleOperator; the rest
// stay available for a deployment that wants finer-grained app_id tiers
// without defining its own roles through CreateRole.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleAuditor  = "auditor"
	RoleUser     = "user"
	RoleReadOnly = "readonly"
	RoleGuest    = "guest"
)

// Resources a Permission can target. rbacPermissionFor in pkg/permission
// only ever produces ResourceKeys, ResourceUsers, and ResourceSystem; the
// rest round out the default role set for resources this core doesn't
// manage today (certificates, secrets, audit) but the underlying RBAC
// model already covers.
const (
	ResourceKeys         = "keys"
	ResourceSecrets      = "secrets"
	ResourceCertificates = "certificates"
	ResourceBackends     = "backends"
	ResourceUsers        = "users"
	ResourceRoles        = "roles"
	ResourceAudit        = "audit"
	ResourceSystem       = "system"
)

// Actions a Permission can grant on a Resource.
const (
	ActionCreate  = "create"
	ActionRead    = "read"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionList    = "list"
	ActionSign    = "sign"
	ActionVerify  = "verify"
	ActionEncrypt = "encrypt"
	ActionDecrypt = "decrypt"
	ActionImport  = "import"
	ActionExport  = "export"
	ActionRotate  = "rotate"
	ActionManage  = "manage"
	ActionAll     = "*"
)

// NewPermission builds a Permission from a resource and action.
func NewPermission(resource, action string) Permission {
	return Permission{
		Resource: resource,
		Action:   action,
	}
}
