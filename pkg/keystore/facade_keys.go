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
	"github.com/automatethethings/keystore-core/pkg/metrics"
	"github.com/automatethethings/keystore-core/pkg/types"
)

// GenerateKeyParams configures generateKey (spec.md 4.I).
type GenerateKeyParams struct {
	Attrs                      types.AuthorizationList
	Entropy                    []byte
	Encrypted                  bool
	CriticalToDeviceEncryption bool
}

// ImportKeyParams configures importKey.
type ImportKeyParams struct {
	Attrs                      types.AuthorizationList
	KeyData                    []byte
	Entropy                    []byte
	Encrypted                  bool
	CriticalToDeviceEncryption bool
}

// GenerateKey creates a new key under (uid, alias), persisting both the
// KeymasterBound blob and its KeyCharacteristics sibling (spec.md 4.I,
// 4.B). Returns the characteristics reported by whichever device served
// the request.
func (k *KeyStoreCore) GenerateKey(callingUID, uid types.UID, alias types.Alias, params GenerateKeyParams) (characteristics *types.KeyCharacteristics, err error) {
	defer k.trackOperation(metrics.OpGenerate, metrics.DeviceKeymaster, callingUID)(&err)

	if err = k.checkKeyCreationAllowed(callingUID, uid, params.Attrs, params.CriticalToDeviceEncryption); err != nil {
		return nil, err
	}

	uid = resolveUID(uid, callingUID)
	if len(params.Entropy) > 0 {
		_ = k.primary.AddRngEntropy(params.Entropy)
	}

	var blobBytes []byte
	var fallback bool
	blobBytes, characteristics, fallback, err = k.generateOrFallback(params.Attrs)
	if err != nil {
		return nil, err
	}
	if err = k.persistNewKey(uid, alias, blobBytes, characteristics, params.Encrypted, params.CriticalToDeviceEncryption, fallback); err != nil {
		return nil, err
	}
	return characteristics, nil
}

// ImportKey imports caller-supplied key material under (uid, alias).
func (k *KeyStoreCore) ImportKey(callingUID, uid types.UID, alias types.Alias, params ImportKeyParams) (characteristics *types.KeyCharacteristics, err error) {
	defer k.trackOperation(metrics.OpImport, metrics.DeviceKeymaster, callingUID)(&err)

	if err = k.checkKeyCreationAllowed(callingUID, uid, params.Attrs, params.CriticalToDeviceEncryption); err != nil {
		return nil, err
	}

	uid = resolveUID(uid, callingUID)
	if len(params.Entropy) > 0 {
		_ = k.primary.AddRngEntropy(params.Entropy)
	}

	var blobBytes []byte
	blobBytes, characteristics, err = k.primary.ImportKey(params.Attrs, params.KeyData)
	fallback := false
	if err != nil {
		fallback = true
		blobBytes, characteristics, err = k.fallback.ImportKey(params.Attrs, params.KeyData)
		if err != nil {
			return nil, err
		}
	}
	if err = k.persistNewKey(uid, alias, blobBytes, characteristics, params.Encrypted, params.CriticalToDeviceEncryption, fallback); err != nil {
		return nil, err
	}
	return characteristics, nil
}

func (k *KeyStoreCore) checkKeyCreationAllowed(callingUID, uid types.UID, attrs types.AuthorizationList, critical bool) error {
	if err := k.checkPermission(types.PermissionGenerateKey, callingUID); err != nil {
		return err
	}
	if attrs.Has(types.TagIncludeUniqueID) {
		if err := k.checkPermission(types.PermissionIncludeUniqueID, callingUID); err != nil {
			return err
		}
	}
	if critical && callingUID.AppID() != k.systemAppID {
		return ErrPermissionDenied
	}
	resolved := resolveUID(uid, callingUID)
	if k.users.GetState(resolved.UserID()) == types.StateUninitialized {
		return ErrUninitialized
	}
	return nil
}

func (k *KeyStoreCore) generateOrFallback(attrs types.AuthorizationList) ([]byte, *types.KeyCharacteristics, bool, error) {
	blobBytes, characteristics, err := k.primary.GenerateKey(attrs)
	if err == nil {
		return blobBytes, characteristics, false, nil
	}
	blobBytes, characteristics, err = k.fallback.GenerateKey(attrs)
	if err != nil {
		return nil, nil, false, err
	}
	return blobBytes, characteristics, true, nil
}

func (k *KeyStoreCore) persistNewKey(uid types.UID, alias types.Alias, blobBytes []byte, characteristics *types.KeyCharacteristics, encrypted, critical, fallback bool) error {
	superEncrypted := characteristics.AuthenticationBound() && !critical

	keyBlob := &types.Blob{
		Value:                      blobBytes,
		Type:                       types.BlobKeymasterBound,
		Encrypted:                  encrypted,
		SuperEncrypted:             superEncrypted,
		Fallback:                   fallback,
		CriticalToDeviceEncryption: critical,
	}
	if err := k.store.Put(blobPath(uid, alias, types.BlobKeymasterBound), keyBlob, uid.UserID()); err != nil {
		return err
	}

	chrBytes, err := k.codec.EncodeCharacteristics(characteristics)
	if err != nil {
		return err
	}
	chrBlob := &types.Blob{
		Value:     chrBytes,
		Type:      types.BlobKeyCharacteristics,
		Encrypted: encrypted,
		Fallback:  fallback,
	}
	return k.store.Put(blobPath(uid, alias, types.BlobKeyCharacteristics), chrBlob, uid.UserID())
}

// GetKeyCharacteristics returns the merged hardware+software
// characteristics for (uid, alias), per spec.md 4.I. If the KeymasterBound
// blob cannot currently be read (master key unavailable), only the
// persisted software-enforced characteristics are returned.
func (k *KeyStoreCore) GetKeyCharacteristics(callingUID, uid types.UID, alias types.Alias) (characteristics *types.KeyCharacteristics, err error) {
	defer k.trackOperation(metrics.OpGetCharacteristics, metrics.DeviceKeymaster, callingUID)(&err)

	if err = k.checkPermission(types.PermissionUseKey, callingUID); err != nil {
		return nil, err
	}
	uid = resolveUID(uid, callingUID)
	characteristics, err = k.readCharacteristics(uid, alias)
	return characteristics, err
}

func (k *KeyStoreCore) readCharacteristics(uid types.UID, alias types.Alias) (*types.KeyCharacteristics, error) {
	persisted, err := k.readPersistedCharacteristics(uid, alias)
	if err != nil {
		return nil, err
	}

	keyBlob, keyPath, err := k.store.GetKeyForName(alias, uid, types.BlobKeymasterBound)
	if err != nil {
		// Master key unavailable: surface the software-enforced domain only.
		return &types.KeyCharacteristics{SoftwareEnforced: persisted.SoftwareEnforced}, nil
	}

	fresh, err := k.deviceFor(keyBlob).GetKeyCharacteristics(keyBlob.Value)
	if kmErr, ok := types.AsKeymasterError(err); ok && kmErr.Code == types.KMKeyRequiresUpgrade {
		if keyBlob, err = k.upgradeKeyBlobAt(uid, alias, keyPath, keyBlob, nil); err != nil {
			return nil, err
		}
		fresh, err = k.deviceFor(keyBlob).GetKeyCharacteristics(keyBlob.Value)
	}
	if err != nil {
		return nil, err
	}

	merged := types.MergeSoftwareOnly(persisted, fresh)
	return &types.KeyCharacteristics{
		HardwareEnforced: fresh.HardwareEnforced,
		SoftwareEnforced: append(fresh.SoftwareEnforced.Clone(), merged...),
	}, nil
}

func (k *KeyStoreCore) readPersistedCharacteristics(uid types.UID, alias types.Alias) (*types.KeyCharacteristics, error) {
	chrBlob, _, err := k.store.GetKeyForName(alias, uid, types.BlobKeyCharacteristics)
	if err != nil {
		return nil, err
	}
	return k.codec.DecodeCharacteristics(chrBlob.Value)
}

// ExportKey exports key material, retrying once across an upgrade if the
// device reports the blob needs one.
func (k *KeyStoreCore) ExportKey(callingUID, uid types.UID, alias types.Alias, clientID, appData []byte) (keyData []byte, err error) {
	defer k.trackOperation(metrics.OpExport, metrics.DeviceKeymaster, callingUID)(&err)

	if err = k.checkPermission(types.PermissionUseKey, callingUID); err != nil {
		return nil, err
	}
	uid = resolveUID(uid, callingUID)

	keyBlob, keyPath, err := k.store.GetKeyForName(alias, uid, types.BlobKeymasterBound)
	if err != nil {
		return nil, err
	}

	keyData, err = k.deviceFor(keyBlob).ExportKey(keyBlob.Value, clientID, appData)
	if kmErr, ok := types.AsKeymasterError(err); ok && kmErr.Code == types.KMKeyRequiresUpgrade {
		if keyBlob, err = k.upgradeKeyBlobAt(uid, alias, keyPath, keyBlob, nil); err != nil {
			return nil, err
		}
		keyData, err = k.deviceFor(keyBlob).ExportKey(keyBlob.Value, clientID, appData)
	}
	return keyData, err
}

// UpgradeKeyBlob re-reads (uid, alias)'s blob by name, asks the device to
// upgrade it, and persists the replacement, preserving all five flags
// (spec.md 4.I "Upgrade dance").
func (k *KeyStoreCore) UpgradeKeyBlob(callingUID, uid types.UID, alias types.Alias, params types.AuthorizationList) (blob *types.Blob, err error) {
	defer k.trackOperation(metrics.OpUpgrade, metrics.DeviceKeymaster, callingUID)(&err)

	if err = k.checkPermission(types.PermissionUseKey, callingUID); err != nil {
		return nil, err
	}
	uid = resolveUID(uid, callingUID)
	keyBlob, keyPath, err := k.store.GetKeyForName(alias, uid, types.BlobKeymasterBound)
	if err != nil {
		return nil, err
	}
	blob, err = k.upgradeKeyBlobAt(uid, alias, keyPath, keyBlob, params)
	return blob, err
}

func (k *KeyStoreCore) upgradeKeyBlobAt(uid types.UID, alias types.Alias, oldPath string, oldBlob *types.Blob, params types.AuthorizationList) (*types.Blob, error) {
	newBlobBytes, err := k.deviceFor(oldBlob).UpgradeKey(oldBlob.Value, params)
	if err != nil {
		return nil, err
	}

	newBlob := &types.Blob{
		Value:                      newBlobBytes,
		Type:                       types.BlobKeymasterBound,
		Encrypted:                  oldBlob.Encrypted,
		SuperEncrypted:             oldBlob.SuperEncrypted,
		Fallback:                   oldBlob.Fallback,
		CriticalToDeviceEncryption: oldBlob.CriticalToDeviceEncryption,
		InfoLen:                    oldBlob.InfoLen,
	}

	if err := k.store.Del(oldPath, types.BlobKeymasterBound, uid.UserID()); err != nil {
		return nil, err
	}
	if err := k.store.Put(blobPath(uid, alias, types.BlobKeymasterBound), newBlob, uid.UserID()); err != nil {
		return nil, err
	}
	reread, _, err := k.store.GetKeyForName(alias, uid, types.BlobKeymasterBound)
	if err != nil {
		return nil, err
	}
	return reread, nil
}
