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
	"sync"

	"github.com/automatethethings/keystore-core/pkg/types"
)

// UserStateMachine manages the per-user master-key lifecycle (spec.md 4.H).
// Each user_id is guarded by its own mutex so that operations on distinct
// users never contend, per spec.md 5 and the design note in spec.md 9.
type UserStateMachine struct {
	store types.BlobStore

	mu    sync.Mutex // guards the locks map itself, not user state
	locks map[int32]*sync.Mutex
}

// NewUserStateMachine creates a state machine backed by store.
func NewUserStateMachine(store types.BlobStore) *UserStateMachine {
	return &UserStateMachine{
		store: store,
		locks: make(map[int32]*sync.Mutex),
	}
}

func (m *UserStateMachine) lockFor(userID int32) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// GetState returns the user's current state.
func (m *UserStateMachine) GetState(userID int32) types.UserState {
	l := m.lockFor(userID)
	l.Lock()
	defer l.Unlock()
	return m.store.GetState(userID)
}

// InitializeUser transitions Uninitialized -> Unlocked by generating a
// master key and enveloping it under pw.
func (m *UserStateMachine) InitializeUser(userID int32, pw string) error {
	l := m.lockFor(userID)
	l.Lock()
	defer l.Unlock()
	return m.store.InitializeUser(userID, pw)
}

// WriteMasterKey re-envelopes the master key under a new password.
// Unlocked -> Unlocked.
func (m *UserStateMachine) WriteMasterKey(userID int32, pw string) error {
	l := m.lockFor(userID)
	l.Lock()
	defer l.Unlock()
	if m.store.GetState(userID) != types.StateUnlocked {
		return ErrLocked
	}
	return m.store.WriteMasterKey(userID, pw)
}

// ReadMasterKey transitions Locked -> Unlocked iff pw decrypts.
func (m *UserStateMachine) ReadMasterKey(userID int32, pw string) error {
	l := m.lockFor(userID)
	l.Lock()
	defer l.Unlock()
	return m.store.ReadMasterKey(userID, pw)
}

// Lock transitions Unlocked -> Locked, discarding the in-memory key.
func (m *UserStateMachine) Lock(userID int32) error {
	l := m.lockFor(userID)
	l.Lock()
	defer l.Unlock()
	return m.store.Lock(userID)
}

// ResetUser transitions any state -> Uninitialized. If keepCore is true,
// only Encrypted and SuperEncrypted blobs are deleted; plaintext blobs
// survive.
func (m *UserStateMachine) ResetUser(userID int32, keepCore bool) error {
	l := m.lockFor(userID)
	l.Lock()
	defer l.Unlock()
	return m.store.ResetUser(userID, keepCore)
}

// OnUserPasswordChanged dispatches by current state, per spec.md 4.H:
// Uninitialized -> initialize; Unlocked -> rewrite; Locked -> reset then
// initialize; empty password -> reset with keepCore=true.
func (m *UserStateMachine) OnUserPasswordChanged(userID int32, pw string) error {
	if pw == "" {
		return m.ResetUser(userID, true)
	}

	l := m.lockFor(userID)
	l.Lock()
	state := m.store.GetState(userID)
	l.Unlock()

	switch state {
	case types.StateUninitialized:
		return m.InitializeUser(userID, pw)
	case types.StateUnlocked:
		return m.WriteMasterKey(userID, pw)
	case types.StateLocked:
		if err := m.ResetUser(userID, false); err != nil {
			return err
		}
		return m.InitializeUser(userID, pw)
	default:
		return ErrUninitialized
	}
}

// OnUserAdded creates a new user. If parent >= 0, the new user inherits
// the parent's master key by copy (profile semantics).
func (m *UserStateMachine) OnUserAdded(newUserID, parentUserID int32) error {
	if parentUserID >= 0 {
		l := m.lockFor(newUserID)
		l.Lock()
		defer l.Unlock()
		return m.store.CopyMasterKey(parentUserID, newUserID)
	}
	// A fresh user starts Uninitialized; no disk state to create until
	// the first password is set.
	return nil
}

// OnUserRemoved hard-resets the user, discarding all state including
// critical-to-device-encryption blobs.
func (m *UserStateMachine) OnUserRemoved(userID int32) error {
	return m.ResetUser(userID, false)
}

// RequireReadableSuperEncrypted enforces the gating rule in spec.md 4.H: a
// core operation that needs a readable SuperEncrypted blob fails with
// Locked when the user isn't Unlocked; if the key is AuthenticationBound,
// the error is remapped to KeyUserNotAuthenticated to keep the surface
// uniform.
func (m *UserStateMachine) RequireReadableSuperEncrypted(userID int32, authenticationBound bool) error {
	if m.GetState(userID) == types.StateUnlocked {
		return nil
	}
	if authenticationBound {
		return ErrKeyUserNotAuthenticated
	}
	return ErrLocked
}
