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

package keystore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/automatethethings/keystore-core/pkg/types"
)

func TestNewRequiresCollaborators(t *testing.T) {
	h := newTestHarness(t)

	_, err := New(Config{Fallback: h.fallback, Store: h.store, Permissions: h.oracle})
	require.ErrorIs(t, err, ErrBackendRequired)

	_, err = New(Config{Primary: h.fallback, Fallback: h.fallback, Permissions: h.oracle})
	require.ErrorIs(t, err, ErrBlobStoreRequired)

	_, err = New(Config{Primary: h.fallback, Fallback: h.fallback, Store: h.store})
	require.ErrorIs(t, err, ErrPermissionOracleRequired)
}

func TestOnUserAddedFreshUserStartsUninitialized(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.core.OnUserAdded(testSystemUID, 5, -1))
	state, err := h.core.GetState(testSystemUID, 5)
	require.NoError(t, err)
	require.Equal(t, types.StateUninitialized, state)
}

func TestOnUserAddedRequiresManageUsersPermission(t *testing.T) {
	h := newTestHarness(t)
	err := h.core.OnUserAdded(testOperatorUID, 5, -1)
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestOnUserPasswordChangedLifecycle(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1

	require.NoError(t, h.core.OnUserAdded(testSystemUID, userID, -1))

	// Uninitialized -> Unlocked.
	require.NoError(t, h.core.OnUserPasswordChanged(testSystemUID, userID, "first-password"))
	state, err := h.core.GetState(testSystemUID, userID)
	require.NoError(t, err)
	require.Equal(t, types.StateUnlocked, state)

	// Unlocked -> Unlocked (rewrite under new password).
	require.NoError(t, h.core.OnUserPasswordChanged(testSystemUID, userID, "second-password"))
	state, err = h.core.GetState(testSystemUID, userID)
	require.NoError(t, err)
	require.Equal(t, types.StateUnlocked, state)
	require.NoError(t, h.core.Unlock(testSystemUID, userID, "second-password"))

	// Locked -> reset then initialize under the newest password.
	require.NoError(t, h.core.Lock(testSystemUID, userID))
	require.NoError(t, h.core.OnUserPasswordChanged(testSystemUID, userID, "third-password"))
	state, err = h.core.GetState(testSystemUID, userID)
	require.NoError(t, err)
	require.Equal(t, types.StateUnlocked, state)

	// Empty password resets to Uninitialized.
	require.NoError(t, h.core.OnUserPasswordChanged(testSystemUID, userID, ""))
	state, err = h.core.GetState(testSystemUID, userID)
	require.NoError(t, err)
	require.Equal(t, types.StateUninitialized, state)
}

func TestLockUnlockWrongPassword(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 2
	h.setupUser(t, userID, "correct horse")

	require.NoError(t, h.core.Lock(testSystemUID, userID))
	state, err := h.core.GetState(testSystemUID, userID)
	require.NoError(t, err)
	require.Equal(t, types.StateLocked, state)

	err = h.core.Unlock(testSystemUID, userID, "wrong password")
	require.ErrorIs(t, err, types.ErrWrongPassword)

	require.NoError(t, h.core.Unlock(testSystemUID, userID, "correct horse"))
	state, err = h.core.GetState(testSystemUID, userID)
	require.NoError(t, err)
	require.Equal(t, types.StateUnlocked, state)
}

func TestResetUserKeepsPlaintextBlobWhenRequested(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 3
	h.setupUser(t, userID, "correct horse")

	uid := types.UID(int32(userID)*types.UserIDStride + 1)
	require.NoError(t, h.core.Insert(uid, uid, "encrypted", []byte("x"), true, false))
	require.NoError(t, h.core.Insert(uid, uid, "plaintext", []byte("y"), false, false))

	require.NoError(t, h.core.Reset(testSystemUID, userID, true))

	state, err := h.core.GetState(testSystemUID, userID)
	require.NoError(t, err)
	require.Equal(t, types.StateUninitialized, state)

	_, err = h.core.store.Get(blobPath(uid, "plaintext", types.BlobGeneric), userID)
	require.NoError(t, err)
	_, err = h.core.store.Get(blobPath(uid, "encrypted", types.BlobGeneric), userID)
	require.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestGetStateAndIsEmptyRequirePermission(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.core.GetState(testOperatorUID, 1)
	require.ErrorIs(t, err, ErrPermissionDenied)

	_, err = h.core.IsEmpty(testOperatorUID, 1)
	require.ErrorIs(t, err, ErrPermissionDenied)

	empty, err := h.core.IsEmpty(testSystemUID, 1)
	require.NoError(t, err)
	require.True(t, empty)
}

func TestAddAuthTokenIsCallableByAnyone(t *testing.T) {
	h := newTestHarness(t)
	h.core.AddAuthToken(types.AuthToken{UserSecureID: 42})
	require.Len(t, h.core.authTokens.tokens, 1)
}

func TestOnUserAddedInheritsParentMasterKeyWhileUnlocked(t *testing.T) {
	h := newTestHarness(t)
	const parentID, childID int32 = 10, 11
	h.setupUser(t, parentID, "parent-password")

	require.NoError(t, h.core.OnUserAdded(testSystemUID, childID, parentID))

	state := h.core.users.GetState(childID)
	require.Equal(t, types.StateUnlocked, state)
}

func TestOnUserAddedFromUninitializedParentFails(t *testing.T) {
	h := newTestHarness(t)
	err := h.core.OnUserAdded(testSystemUID, 21, 20)
	require.ErrorIs(t, err, types.ErrUninitialized)
}
