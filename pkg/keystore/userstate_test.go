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

	"github.com/automatethethings/keystore-core/pkg/blobstore"
	"github.com/automatethethings/keystore-core/pkg/types"
)

func TestUserStateMachineFullLifecycle(t *testing.T) {
	store := blobstore.NewMemoryStore()
	m := NewUserStateMachine(store)

	require.Equal(t, types.StateUninitialized, m.GetState(1))

	require.NoError(t, m.InitializeUser(1, "first"))
	require.Equal(t, types.StateUnlocked, m.GetState(1))

	require.NoError(t, m.WriteMasterKey(1, "second"))
	require.Equal(t, types.StateUnlocked, m.GetState(1))

	require.NoError(t, m.Lock(1))
	require.Equal(t, types.StateLocked, m.GetState(1))

	err := m.ReadMasterKey(1, "wrong")
	require.ErrorIs(t, err, types.ErrWrongPassword)

	require.NoError(t, m.ReadMasterKey(1, "second"))
	require.Equal(t, types.StateUnlocked, m.GetState(1))

	require.NoError(t, m.ResetUser(1, false))
	require.Equal(t, types.StateUninitialized, m.GetState(1))
}

func TestUserStateMachineWriteMasterKeyRequiresUnlocked(t *testing.T) {
	store := blobstore.NewMemoryStore()
	m := NewUserStateMachine(store)
	err := m.WriteMasterKey(1, "pw")
	require.ErrorIs(t, err, ErrLocked)
}

func TestUserStateMachineOnUserPasswordChangedDispatch(t *testing.T) {
	store := blobstore.NewMemoryStore()
	m := NewUserStateMachine(store)

	require.NoError(t, m.OnUserPasswordChanged(1, "first"))
	require.Equal(t, types.StateUnlocked, m.GetState(1))

	require.NoError(t, m.OnUserPasswordChanged(1, "second"))
	require.Equal(t, types.StateUnlocked, m.GetState(1))

	require.NoError(t, m.Lock(1))
	require.NoError(t, m.OnUserPasswordChanged(1, "third"))
	require.Equal(t, types.StateUnlocked, m.GetState(1))

	require.NoError(t, m.OnUserPasswordChanged(1, ""))
	require.Equal(t, types.StateUninitialized, m.GetState(1))
}

func TestUserStateMachineOnUserAddedFreshUser(t *testing.T) {
	store := blobstore.NewMemoryStore()
	m := NewUserStateMachine(store)
	require.NoError(t, m.OnUserAdded(5, -1))
	require.Equal(t, types.StateUninitialized, m.GetState(5))
}

func TestUserStateMachineOnUserAddedInheritsUnlockedParent(t *testing.T) {
	store := blobstore.NewMemoryStore()
	m := NewUserStateMachine(store)
	require.NoError(t, m.InitializeUser(1, "parent-pw"))

	require.NoError(t, m.OnUserAdded(2, 1))
	require.Equal(t, types.StateUnlocked, m.GetState(2))
}

func TestUserStateMachineOnUserAddedFromUninitializedParentFails(t *testing.T) {
	store := blobstore.NewMemoryStore()
	m := NewUserStateMachine(store)
	err := m.OnUserAdded(2, 1)
	require.ErrorIs(t, err, types.ErrUninitialized)
}

func TestUserStateMachineOnUserRemovedHardResets(t *testing.T) {
	store := blobstore.NewMemoryStore()
	m := NewUserStateMachine(store)
	require.NoError(t, m.InitializeUser(1, "pw"))
	require.NoError(t, m.OnUserRemoved(1))
	require.Equal(t, types.StateUninitialized, m.GetState(1))
}

func TestRequireReadableSuperEncrypted(t *testing.T) {
	store := blobstore.NewMemoryStore()
	m := NewUserStateMachine(store)

	err := m.RequireReadableSuperEncrypted(1, false)
	require.ErrorIs(t, err, ErrLocked)

	err = m.RequireReadableSuperEncrypted(1, true)
	require.ErrorIs(t, err, ErrKeyUserNotAuthenticated)

	require.NoError(t, m.InitializeUser(1, "pw"))
	require.NoError(t, m.RequireReadableSuperEncrypted(1, true))
}
