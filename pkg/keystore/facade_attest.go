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
	"os"
	"path/filepath"
	"time"

	"github.com/automatethethings/keystore-core/pkg/metrics"
	"github.com/automatethethings/keystore-core/pkg/types"
)

// AttestKey attests (uid, alias)'s key. Requests carrying an
// ATTESTATION_ID_* tag are rejected; callers wanting device-identifier
// attestation must use AttestDeviceIds instead (spec.md 4.I).
func (k *KeyStoreCore) AttestKey(callingUID, uid types.UID, alias types.Alias, params types.AuthorizationList) (chain [][]byte, err error) {
	defer k.trackOperation(metrics.OpAttest, metrics.DeviceKeymaster, callingUID)(&err)

	if params.ContainsAttestationID() {
		return nil, ErrAttestationIDsRequested
	}
	if err := k.checkPermission(types.PermissionUseKey, callingUID); err != nil {
		return nil, err
	}
	uid = resolveUID(uid, callingUID)

	augmented := params
	if k.recentFactoryReset() {
		augmented = augmented.With(types.TagResetSinceIDRotation, true)
	}
	if k.attestationIDs != nil {
		appID, err := k.attestationIDs.Gather(callingUID)
		if err == nil {
			if len(appID) > AttestationApplicationIDMaxSize {
				appID = appID[:AttestationApplicationIDMaxSize]
			}
			augmented = augmented.With(types.TagAttestationApplicationID, appID)
		}
	}

	keyBlob, _, err := k.store.GetKeyForName(alias, uid, types.BlobKeymasterBound)
	if err != nil {
		return nil, err
	}
	return k.deviceFor(keyBlob).AttestKey(keyBlob.Value, augmented)
}

// AttestDeviceIds attests platform device identifiers using a transient
// hardware signing key that is deleted regardless of outcome. Requires
// READ_PRIVILEGED_PHONE_STATE (spec.md 4.I).
func (k *KeyStoreCore) AttestDeviceIds(callingUID types.UID, callingPID int32, params types.AuthorizationList) (chain [][]byte, err error) {
	defer k.trackOperation(metrics.OpAttestDeviceIDs, metrics.DevicePrimary, callingUID)(&err)

	if !k.perm.CheckPlatformPermission("READ_PRIVILEGED_PHONE_STATE", int32(callingUID), callingPID) {
		return nil, ErrPrivilegedPermissionRequired
	}

	transientAttrs := types.AuthorizationList{
		{Tag: types.TagAlgorithm, Value: types.AlgorithmEC},
		{Tag: types.TagECCurve, Value: "p-256"},
		{Tag: types.TagPurpose, Value: types.PurposeSign},
	}
	blobBytes, _, err := k.primary.GenerateKey(transientAttrs)
	if err != nil {
		return nil, err
	}
	defer func() { _ = k.primary.DeleteKey(blobBytes) }()

	return k.primary.AttestKey(blobBytes, params)
}

// recentFactoryReset reports whether the sentinel file was written within
// IDRotationPeriod, creating it (mode 0600) on first observation.
func (k *KeyStoreCore) recentFactoryReset() bool {
	path := filepath.Join(k.workingDir, "timestamp")
	info, err := os.Stat(path)
	if err != nil {
		_ = os.WriteFile(path, nil, 0600)
		return true
	}
	return time.Since(info.ModTime()) < k.idRotationPeriod
}
