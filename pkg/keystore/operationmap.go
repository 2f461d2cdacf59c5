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

	"github.com/google/uuid"

	"github.com/automatethethings/keystore-core/pkg/types"
)

// MaxOperations bounds the number of concurrently live operations
// (spec.md 3/6, constant MAX_OPERATIONS=15).
const MaxOperations = 15

// operation is the OperationMap's internal record (spec.md 3's
// "Operation" tuple). Handles are moved out of the map on removal per
// spec.md 9's no-aliasing design note; callers only ever see an OpView.
type operation struct {
	token           types.OperationToken
	keyID           types.KeyID
	purpose         types.Purpose
	device          types.KeymasterDevice
	deviceHandle    types.OperationHandle
	liveness        types.LivenessHandle
	characteristics *types.KeyCharacteristics
	pruneable       bool
	authToken       *types.AuthToken
	seq             uint64 // allocation order, used to break begin-time ties
}

// OpView is the read-only projection of a live operation returned by Get.
type OpView struct {
	Token           types.OperationToken
	KeyID           types.KeyID
	Purpose         types.Purpose
	Device          types.KeymasterDevice
	DeviceHandle    types.OperationHandle
	Liveness        types.LivenessHandle
	Characteristics *types.KeyCharacteristics
	Pruneable       bool
}

// OperationMap is the bounded registry of live operations bound to
// caller-supplied liveness handles (spec.md 4.F).
type OperationMap struct {
	mu      sync.Mutex
	byToken map[types.OperationToken]*operation
	nextSeq uint64
}

// NewOperationMap creates an empty map.
func NewOperationMap() *OperationMap {
	return &OperationMap{byToken: make(map[types.OperationToken]*operation)}
}

// Add registers a newly begun operation and returns its process-unique
// token. The caller's characteristics value is conceptually moved into the
// map (spec.md 9): callers must not mutate it afterward.
func (m *OperationMap) Add(deviceHandle types.OperationHandle, keyID types.KeyID, purpose types.Purpose, device types.KeymasterDevice, liveness types.LivenessHandle, characteristics *types.KeyCharacteristics, pruneable bool) types.OperationToken {
	m.mu.Lock()
	defer m.mu.Unlock()

	token := types.OperationToken(uuid.NewString())
	m.nextSeq++
	m.byToken[token] = &operation{
		token:           token,
		keyID:           keyID,
		purpose:         purpose,
		device:          device,
		deviceHandle:    deviceHandle,
		liveness:        liveness,
		characteristics: characteristics,
		pruneable:       pruneable,
		seq:             m.nextSeq,
	}
	return token
}

// Get returns a read-only view of the operation, or ok=false if the token
// is not (or no longer) live.
func (m *OperationMap) Get(token types.OperationToken) (OpView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.byToken[token]
	if !ok {
		return OpView{}, false
	}
	return opView(op), true
}

func opView(op *operation) OpView {
	return OpView{
		Token:           op.token,
		KeyID:           op.keyID,
		Purpose:         op.purpose,
		Device:          op.device,
		DeviceHandle:    op.deviceHandle,
		Liveness:        op.liveness,
		Characteristics: op.characteristics,
		Pruneable:       op.pruneable,
	}
}

// SetAuthToken caches the token matched to this operation (spec.md 4.I
// step 10 / update-finish lazy resolution).
func (m *OperationMap) SetAuthToken(token types.OperationToken, auth types.AuthToken) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.byToken[token]
	if !ok {
		return false
	}
	op.authToken = &auth
	return true
}

// GetAuthToken returns the cached auth token for an operation, if any.
func (m *OperationMap) GetAuthToken(token types.OperationToken) (types.AuthToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.byToken[token]
	if !ok || op.authToken == nil {
		return types.AuthToken{}, false
	}
	return *op.authToken, true
}

// Remove deletes the operation, if present, returning its device handle so
// the caller can issue a final device.Abort if needed. Idempotent: removing
// an already-removed token reports ok=false.
func (m *OperationMap) Remove(token types.OperationToken) (OpView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.byToken[token]
	if !ok {
		return OpView{}, false
	}
	delete(m.byToken, token)
	return opView(op), true
}

// Count returns the number of live operations.
func (m *OperationMap) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byToken)
}

// HasPruneable reports whether any live operation may be evicted under
// pressure.
func (m *OperationMap) HasPruneable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range m.byToken {
		if op.pruneable {
			return true
		}
	}
	return false
}

// GetOldestPruneable returns the pruneable operation whose begin completed
// earliest (lowest allocation sequence number), or ok=false if none exist.
// Non-pruneable operations are never returned (spec.md 4.F).
func (m *OperationMap) GetOldestPruneable() (types.OperationToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *operation
	for _, op := range m.byToken {
		if !op.pruneable {
			continue
		}
		if oldest == nil || op.seq < oldest.seq {
			oldest = op
		}
	}
	if oldest == nil {
		return "", false
	}
	return oldest.token, true
}

// OperationsForLiveness returns the tokens of every live operation bound to
// handle.
func (m *OperationMap) OperationsForLiveness(handle types.LivenessHandle) []types.OperationToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.OperationToken
	for token, op := range m.byToken {
		if op.liveness == handle {
			out = append(out, token)
		}
	}
	return out
}
