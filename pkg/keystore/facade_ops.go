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
	"errors"

	"github.com/automatethethings/keystore-core/pkg/metrics"
	"github.com/automatethethings/keystore-core/pkg/types"
)

// BeginResult is returned by Begin (spec.md 4.I step 11).
type BeginResult struct {
	Token      types.OperationToken
	Handle     types.OperationHandle
	OutParams  types.AuthorizationList
	AuthStatus types.ResponseCode // types.OpAuthNeeded if the caller must add an auth token before Update
}

// Begin starts a cryptographic operation against (keyUID, alias), per
// spec.md 4.I.
func (k *KeyStoreCore) Begin(callingUID, keyUID types.UID, alias types.Alias, purpose types.Purpose, opParams types.AuthorizationList, pruneable bool, liveness types.LivenessHandle) (beginResult *BeginResult, err error) {
	defer k.trackOperation(metrics.OpBegin, metrics.DeviceKeymaster, callingUID)(&err)

	resolvedKeyUID := resolveUID(keyUID, callingUID)
	if err := k.checkKeyAccess(callingUID, resolvedKeyUID); err != nil {
		return nil, err
	}
	if !pruneable && callingUID.AppID() != k.systemAppID {
		return nil, ErrPermissionDenied
	}
	if tag, ok := opParams.ContainsRestricted(); ok {
		_ = tag
		return nil, ErrRestrictedTag
	}

	keyBlob, _, err := k.store.GetKeyForName(alias, resolvedKeyUID, types.BlobKeymasterBound)
	if err != nil {
		// The keymaster-bound blob is sealed under the same master key as
		// any SuperEncrypted blob, so a Locked user fails here before the
		// SuperEncrypted check below ever runs (spec.md 4.I step 4). Consult
		// the CHR sibling, which carries AuthenticationBound independently
		// of whether the key itself is sealed, to tell a bare Locked state
		// apart from a Locked + auth-bound key, which must surface as
		// KeyUserNotAuthenticated (spec.md 8).
		if errors.Is(err, types.ErrLocked) {
			if persisted, pErr := k.readPersistedCharacteristics(resolvedKeyUID, alias); pErr == nil && persisted.AuthenticationBound() {
				return nil, ErrKeyUserNotAuthenticated
			}
		}
		return nil, err
	}
	if keyBlob.SuperEncrypted {
		if err := k.users.RequireReadableSuperEncrypted(resolvedKeyUID.UserID(), true); err != nil {
			return nil, err
		}
	}

	characteristics, err := k.readCharacteristics(resolvedKeyUID, alias)
	if err != nil {
		return nil, err
	}

	// Step 6: lookup before the device handle exists; OpHandleRequired here
	// is benign, the caller may authenticate before update.
	_, _ = k.authTokens.Find(characteristics, purpose, 0, false)

	keyID := ComputeKeyID(keyBlob.Value)
	if err := k.enforcement.AuthorizeOperation(purpose, keyID, characteristics, opParams, 0, true, k.usage); err != nil {
		return nil, err
	}

	device := k.deviceFor(keyBlob)
	deviceHandle, outParams, err := k.beginWithPruning(device, purpose, keyBlob.Value, opParams)
	if err != nil {
		return nil, err
	}

	authStatus := types.NoError
	matchedToken, result := k.authTokens.Find(characteristics, purpose, deviceHandle, true)
	if result != FindOk && characteristics.AuthenticationBound() {
		authStatus = types.OpAuthNeeded
	}

	token := k.ops.Add(deviceHandle, keyID, purpose, device, liveness, characteristics, pruneable)
	if result == FindOk {
		k.ops.SetAuthToken(token, matchedToken)
	}

	return &BeginResult{Token: token, Handle: deviceHandle, OutParams: outParams, AuthStatus: authStatus}, nil
}

func (k *KeyStoreCore) checkKeyAccess(callingUID, resolvedKeyUID types.UID) error {
	if resolvedKeyUID == callingUID {
		return k.checkPermission(types.PermissionUseKey, callingUID)
	}
	if !k.perm.IsGrantedTo(callingUID, resolvedKeyUID) {
		return ErrPermissionDenied
	}
	return nil
}

// beginWithPruning evicts the oldest pruneable operation while the map is
// at capacity or the device reports TooManyOperations (spec.md 4.F/4.I).
func (k *KeyStoreCore) beginWithPruning(device types.KeymasterDevice, purpose types.Purpose, blob []byte, params types.AuthorizationList) (types.OperationHandle, types.AuthorizationList, error) {
	for k.ops.Count() >= k.maxOperations {
		token, ok := k.ops.GetOldestPruneable()
		if !ok {
			return 0, nil, ErrOperationMapFull
		}
		_ = k.Abort(token)
	}

	handle, outParams, err := device.Begin(purpose, blob, params)
	for {
		kmErr, ok := types.AsKeymasterError(err)
		if !ok || kmErr.Code != types.KMTooManyOperations {
			break
		}
		token, ok2 := k.ops.GetOldestPruneable()
		if !ok2 {
			break
		}
		_ = k.Abort(token)
		handle, outParams, err = device.Begin(purpose, blob, params)
	}
	return handle, outParams, err
}

// Update feeds input into a live operation, lazily resolving the
// per-operation auth token now that the device handle is known.
func (k *KeyStoreCore) Update(token types.OperationToken, params types.AuthorizationList, input []byte) (consumed int, output []byte, outParams types.AuthorizationList, err error) {
	defer k.trackOperation(metrics.OpUpdate, metrics.DeviceKeymaster, 0)(&err)

	op, ok := k.ops.Get(token)
	if !ok {
		return 0, nil, nil, ErrInvalidOperationHandle
	}
	if tag, ok := params.ContainsRestricted(); ok {
		_ = tag
		return 0, nil, nil, ErrRestrictedTag
	}

	if err := k.ensureAuthTokenCached(token, op); err != nil {
		k.abortInternal(token, op)
		return 0, nil, nil, err
	}

	if err := k.enforcement.AuthorizeOperation(op.Purpose, op.KeyID, op.Characteristics, params, op.DeviceHandle, false, k.usage); err != nil {
		k.abortInternal(token, op)
		return 0, nil, nil, err
	}

	consumed, output, outParams, err = op.Device.Update(op.DeviceHandle, params, input)
	if err != nil {
		k.abortInternal(token, op)
		return consumed, output, outParams, err
	}
	return consumed, output, outParams, nil
}

// Finish completes a live operation, always removing it from the map.
func (k *KeyStoreCore) Finish(token types.OperationToken, params types.AuthorizationList, input, signature []byte) (output []byte, outParams types.AuthorizationList, err error) {
	defer k.trackOperation(metrics.OpFinish, metrics.DeviceKeymaster, 0)(&err)

	op, ok := k.ops.Get(token)
	if !ok {
		return nil, nil, ErrInvalidOperationHandle
	}
	if tag, ok := params.ContainsRestricted(); ok {
		_ = tag
		k.abortInternal(token, op)
		return nil, nil, ErrRestrictedTag
	}

	authErr := k.ensureAuthTokenCached(token, op)
	if authErr != nil {
		err = authErr
	} else if err = k.enforcement.AuthorizeOperation(op.Purpose, op.KeyID, op.Characteristics, params, op.DeviceHandle, false, k.usage); err == nil {
		output, outParams, err = op.Device.Finish(op.DeviceHandle, params, input, signature)
	}

	k.abortInternal(token, op)
	return output, outParams, err
}

// Abort cancels a live operation. Idempotent: aborting an unknown or
// already-removed token is a no-op, never a fatal error for the caller.
func (k *KeyStoreCore) Abort(token types.OperationToken) (err error) {
	defer k.trackOperation(metrics.OpAbort, metrics.DeviceKeymaster, 0)(&err)

	op, ok := k.ops.Get(token)
	if !ok {
		return nil
	}
	k.abortInternal(token, op)
	return nil
}

func (k *KeyStoreCore) abortInternal(token types.OperationToken, op OpView) {
	_ = op.Device.Abort(op.DeviceHandle)
	k.ops.Remove(token)
	k.authTokens.MarkCompleted(op.DeviceHandle)
}

func (k *KeyStoreCore) ensureAuthTokenCached(token types.OperationToken, op OpView) error {
	if _, ok := k.ops.GetAuthToken(token); ok {
		return nil
	}
	if !op.Characteristics.AuthenticationBound() {
		return nil
	}
	tok, result := k.authTokens.Find(op.Characteristics, op.Purpose, op.DeviceHandle, true)
	if result != FindOk {
		return ErrKeyUserNotAuthenticated
	}
	k.ops.SetAuthToken(token, tok)
	return nil
}
