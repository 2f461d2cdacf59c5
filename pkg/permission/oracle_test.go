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

package permission

import (
	"testing"

	"github.com/automatethethings/keystore-core/pkg/types"
	"github.com/stretchr/testify/require"
)

type fakeGrantSource struct {
	grants map[types.UID][]*types.Grant
}

func (f *fakeGrantSource) ListGrantsToUid(uid types.UID) ([]*types.Grant, error) {
	return f.grants[uid], nil
}

func TestHasDefaultsToGuest(t *testing.T) {
	o := NewOracle(nil)
	require.False(t, o.Has(types.PermissionGenerateKey, 1000, 1))
}

func TestHasOperatorRoleOwnsKeysWildcard(t *testing.T) {
	o := NewOracle(nil)
	require.NoError(t, o.AssignRole(1000, "operator"))

	require.True(t, o.Has(types.PermissionGenerateKey, 1000, 1))
	require.True(t, o.Has(types.PermissionImportKey, 1000, 1))
	require.True(t, o.Has(types.PermissionDeleteKey, 1000, 1))
	require.True(t, o.Has(types.PermissionUseKey, 1000, 1))
}

func TestHasUserRoleOnlySignVerify(t *testing.T) {
	o := NewOracle(nil)
	require.NoError(t, o.AssignRole(1000, "user"))

	require.True(t, o.Has(types.PermissionUseKey, 1000, 1))
	require.False(t, o.Has(types.PermissionGenerateKey, 1000, 1))
	require.False(t, o.Has(types.PermissionDeleteKey, 1000, 1))
}

func TestIsGrantedToChecksGranteeNotOwner(t *testing.T) {
	grants := &fakeGrantSource{grants: map[types.UID][]*types.Grant{
		2000: {{OwnerUID: 1000, Alias: "mykey", GranteeUID: 2000, GrantAlias: "theirkey"}},
	}}
	o := NewOracle(grants)

	require.True(t, o.IsGrantedTo(2000, 1000))
	require.False(t, o.IsGrantedTo(1000, 2000))
	require.False(t, o.IsGrantedTo(2000, 1001))
}

func TestIsGrantedToWithNilGrantSource(t *testing.T) {
	o := NewOracle(nil)
	require.False(t, o.IsGrantedTo(2000, 1000))
}

func TestCheckPlatformPermission(t *testing.T) {
	o := NewOracle(nil)
	require.False(t, o.CheckPlatformPermission("READ_PRIVILEGED_PHONE_STATE", 1000, 1))

	o.GrantPlatformPermission(1000, "READ_PRIVILEGED_PHONE_STATE")
	require.True(t, o.CheckPlatformPermission("READ_PRIVILEGED_PHONE_STATE", 1000, 1))
	require.False(t, o.CheckPlatformPermission("READ_PRIVILEGED_PHONE_STATE", 1001, 1))
}
