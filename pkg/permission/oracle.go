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

// Package permission implements types.PermissionOracle over the RBAC role
// engine: app_ids are assigned named roles, and roles carry resource:action
// permissions the same way the rest of the codebase's RBAC adapters do.
package permission

import (
	"context"
	"sync"

	"github.com/automatethethings/keystore-core/pkg/adapters/rbac"
	"github.com/automatethethings/keystore-core/pkg/types"
)

// GrantSource answers IsGrantedTo by listing the grants issued against a
// target UID. *blobstore.Store (built by NewFileStore or NewMemoryStore)
// satisfies this with its grant table.
type GrantSource interface {
	ListGrantsToUid(uid types.UID) ([]*types.Grant, error)
}

// Oracle is a role-based types.PermissionOracle. The zero value is not
// usable; construct with NewOracle.
type Oracle struct {
	mu            sync.RWMutex
	rbac          *rbac.MemoryRBACAdapter
	appRoles      map[int32]string
	platformPerms map[int32]map[string]bool
	grants        GrantSource
}

// NewOracle constructs an Oracle seeded with the standard admin/operator/
// auditor/user/readonly/guest role set. grants may be nil; IsGrantedTo then
// always reports false.
func NewOracle(grants GrantSource) *Oracle {
	return &Oracle{
		rbac:          rbac.NewMemoryRBACAdapter(true),
		appRoles:      make(map[int32]string),
		platformPerms: make(map[int32]map[string]bool),
		grants:        grants,
	}
}

// AssignRole assigns roleName (one of the rbac.Role* constants, or a role
// previously created via CreateRole) to appID. Unassigned app_ids default
// to rbac.RoleGuest.
func (o *Oracle) AssignRole(appID int32, roleName string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.rbac.AssignRole(context.Background(), subjectFor(appID), roleName); err != nil {
		return err
	}
	o.appRoles[appID] = roleName
	return nil
}

// CreateRole delegates to the underlying RBAC adapter, letting callers
// define roles beyond the default set.
func (o *Oracle) CreateRole(role *rbac.Role) error {
	return o.rbac.CreateRole(context.Background(), role)
}

// GrantPlatformPermission marks appID as holding the named platform-level
// capability (e.g. "READ_PRIVILEGED_PHONE_STATE"), checked by
// CheckPlatformPermission.
func (o *Oracle) GrantPlatformPermission(appID int32, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	perms := o.platformPerms[appID]
	if perms == nil {
		perms = make(map[string]bool)
		o.platformPerms[appID] = perms
	}
	perms[name] = true
}

// Has reports whether callingUID's assigned role carries perm.
func (o *Oracle) Has(perm types.Permission, callingUID, callingPID int32) bool {
	appID := types.UID(callingUID).AppID()
	ok, err := o.rbac.CheckPermission(context.Background(), subjectFor(appID), rbacPermissionFor(perm))
	return err == nil && ok
}

// IsGrantedTo reports whether targetUID has issued callingUID a grant over
// one of its keys, per the GrantSource supplied at construction.
func (o *Oracle) IsGrantedTo(callingUID, targetUID types.UID) bool {
	if o.grants == nil {
		return false
	}
	grants, err := o.grants.ListGrantsToUid(callingUID)
	if err != nil {
		return false
	}
	for _, g := range grants {
		if g.OwnerUID == targetUID {
			return true
		}
	}
	return false
}

// CheckPlatformPermission reports whether appID holds the named
// platform-level capability.
func (o *Oracle) CheckPlatformPermission(name string, uid, pid int32) bool {
	appID := types.UID(uid).AppID()
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.platformPerms[appID][name]
}

var _ types.PermissionOracle = (*Oracle)(nil)

func subjectFor(appID int32) string {
	return "app:" + types.UID(appID).String()
}

// rbacPermissionFor maps the keystore's small Permission taxonomy onto the
// RBAC engine's resource:action pairs, following the grouping the default
// role set already uses (operator/admin own ResourceKeys wholesale, user
// owns only the cryptographic-use actions).
func rbacPermissionFor(perm types.Permission) rbac.Permission {
	switch perm {
	case types.PermissionGenerateKey:
		return rbac.Permission{Resource: rbac.ResourceKeys, Action: rbac.ActionCreate}
	case types.PermissionImportKey:
		return rbac.Permission{Resource: rbac.ResourceKeys, Action: rbac.ActionImport}
	case types.PermissionDeleteKey:
		return rbac.Permission{Resource: rbac.ResourceKeys, Action: rbac.ActionDelete}
	case types.PermissionUseKey:
		return rbac.Permission{Resource: rbac.ResourceKeys, Action: rbac.ActionSign}
	case types.PermissionManageUsers:
		return rbac.Permission{Resource: rbac.ResourceUsers, Action: rbac.ActionManage}
	case types.PermissionNonPruneableOp, types.PermissionIncludeUniqueID, types.PermissionReadPrivilegedPhoneState:
		return rbac.Permission{Resource: rbac.ResourceSystem, Action: rbac.ActionManage}
	default:
		return rbac.Permission{Resource: rbac.ResourceSystem, Action: rbac.ActionManage}
	}
}
