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
	"fmt"

	"github.com/automatethethings/keystore-core/pkg/metrics"
	"github.com/automatethethings/keystore-core/pkg/types"
)

// Insert writes a generic (non-keymaster-bound) blob, spec.md 4.I's blob
// CRUD surface.
func (k *KeyStoreCore) Insert(callingUID, uid types.UID, alias types.Alias, value []byte, encrypted, criticalToDeviceEncryption bool) error {
	if err := k.checkPermission(types.PermissionUseKey, callingUID); err != nil {
		return err
	}
	uid = resolveUID(uid, callingUID)
	blob := &types.Blob{
		Value:                      value,
		Type:                       types.BlobGeneric,
		Encrypted:                  encrypted,
		CriticalToDeviceEncryption: criticalToDeviceEncryption,
	}
	return k.store.Put(blobPath(uid, alias, types.BlobGeneric), blob, uid.UserID())
}

// Get reads a blob of blobType under (uid, alias).
func (k *KeyStoreCore) Get(callingUID, uid types.UID, alias types.Alias, blobType types.BlobType) (*types.Blob, error) {
	if err := k.checkPermission(types.PermissionUseKey, callingUID); err != nil {
		return nil, err
	}
	uid = resolveUID(uid, callingUID)
	blob, _, err := k.store.GetKeyForName(alias, uid, blobType)
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// Del removes a blob. Deleting a KeymasterBound blob also deletes its
// KeyCharacteristics sibling, preserving sibling consistency (spec.md 3).
func (k *KeyStoreCore) Del(callingUID, uid types.UID, alias types.Alias, blobType types.BlobType) error {
	if err := k.checkPermission(types.PermissionDeleteKey, callingUID); err != nil {
		return err
	}
	uid = resolveUID(uid, callingUID)
	if err := k.store.Del(blobPath(uid, alias, blobType), blobType, uid.UserID()); err != nil {
		return err
	}
	if blobType == types.BlobKeymasterBound {
		_ = k.store.Del(blobPath(uid, alias, types.BlobKeyCharacteristics), types.BlobKeyCharacteristics, uid.UserID())
	}
	return nil
}

// Exist reports whether a blob is present under (uid, alias, blobType).
func (k *KeyStoreCore) Exist(callingUID, uid types.UID, alias types.Alias, blobType types.BlobType) (bool, error) {
	if err := k.checkPermission(types.PermissionUseKey, callingUID); err != nil {
		return false, err
	}
	uid = resolveUID(uid, callingUID)
	_, ok := k.store.GetBlobFileNameIfExists(alias, uid, blobType)
	return ok, nil
}

// List enumerates the aliases stored under uid matching prefix.
func (k *KeyStoreCore) List(callingUID, uid types.UID, prefix string) ([]types.Alias, error) {
	if err := k.checkPermission(types.PermissionUseKey, callingUID); err != nil {
		return nil, err
	}
	uid = resolveUID(uid, callingUID)
	return k.store.List(prefix, uid.UserID())
}

// GetModTime returns the last-modified time (unix millis) of a blob.
func (k *KeyStoreCore) GetModTime(callingUID, uid types.UID, alias types.Alias, blobType types.BlobType) (int64, error) {
	if err := k.checkPermission(types.PermissionUseKey, callingUID); err != nil {
		return 0, err
	}
	uid = resolveUID(uid, callingUID)
	modTime, ok := k.store.ModTime(blobPath(uid, alias, blobType), uid.UserID())
	if !ok {
		return 0, ErrKeyNotFound
	}
	return modTime, nil
}

// Duplicate is the legacy key-duplication entry point. The original
// implementation is documented as dead code with an access-check order
// (state then grants) that differs subtly from every other operation here,
// so rather than replicate it blindly this stays a stub until a caller
// survey justifies building it out.
func (k *KeyStoreCore) Duplicate(callingUID, srcUID types.UID, srcAlias types.Alias, destUID types.UID, destAlias types.Alias) error {
	return ErrPermissionDenied
}

// ClearUID enumerates every alias stored under uid and deletes its
// KeymasterBound and KeyCharacteristics blobs. When callingUID's app_id is
// the system principal, blobs flagged CriticalToDeviceEncryption are
// retained (spec.md 4.I).
func (k *KeyStoreCore) ClearUID(callingUID, uid types.UID) (err error) {
	defer k.trackOperation(metrics.OpClearUID, metrics.DeviceKeymaster, callingUID)(&err)

	if err := k.checkPermission(types.PermissionDeleteKey, callingUID); err != nil {
		return err
	}
	uid = resolveUID(uid, callingUID)
	isSystem := callingUID.AppID() == k.systemAppID

	aliases, err := k.store.List(fmt.Sprintf("%d_", int32(uid)), uid.UserID())
	if err != nil {
		return err
	}

	for _, alias := range aliases {
		keyBlob, keyPath, err := k.store.GetKeyForName(alias, uid, types.BlobKeymasterBound)
		if err != nil {
			continue
		}
		if isSystem && keyBlob.CriticalToDeviceEncryption {
			continue
		}
		_ = k.store.Del(keyPath, types.BlobKeymasterBound, uid.UserID())
		_ = k.store.Del(blobPath(uid, alias, types.BlobKeyCharacteristics), types.BlobKeyCharacteristics, uid.UserID())
	}
	return nil
}

// Grant lets granteeUID reference callingUID's key (alias) as grantAlias.
func (k *KeyStoreCore) Grant(callingUID types.UID, alias types.Alias, granteeUID types.UID, grantAlias types.Alias) (err error) {
	defer k.trackOperation(metrics.OpGrant, metrics.DeviceKeymaster, callingUID)(&err)

	if err := k.checkPermission(types.PermissionUseKey, callingUID); err != nil {
		return err
	}
	return k.store.AddGrant(&types.Grant{
		OwnerUID:   callingUID,
		Alias:      alias,
		GranteeUID: granteeUID,
		GrantAlias: grantAlias,
	})
}

// Ungrant revokes a previously issued grant.
func (k *KeyStoreCore) Ungrant(callingUID types.UID, alias types.Alias, granteeUID types.UID) (err error) {
	defer k.trackOperation(metrics.OpUngrant, metrics.DeviceKeymaster, callingUID)(&err)

	if err := k.checkPermission(types.PermissionUseKey, callingUID); err != nil {
		return err
	}
	return k.store.RemoveGrant(callingUID, alias, granteeUID)
}

// IsHardwareBacked reports whether keys of keyTypeName are backed by
// hardware on this device.
func (k *KeyStoreCore) IsHardwareBacked(keyTypeName string) bool {
	return k.store.IsHardwareBacked(keyTypeName)
}
