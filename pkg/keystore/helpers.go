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

	"github.com/automatethethings/keystore-core/pkg/types"
)

// blobPath builds the canonical on-disk path for a (uid, alias, blobType)
// triple, exactly as spec.md 6 dictates for the two named blob types.
func blobPath(uid types.UID, alias types.Alias, blobType types.BlobType) string {
	switch blobType {
	case types.BlobKeymasterBound:
		return fmt.Sprintf("%d_USRPKEY_%s", int32(uid), alias)
	case types.BlobKeyCharacteristics:
		return fmt.Sprintf("%d_CHR_%s", int32(uid), alias)
	default:
		return fmt.Sprintf("%d_BLOB_%s", int32(uid), alias)
	}
}

// resolveUID maps SELF to callingUID.
func resolveUID(uid, callingUID types.UID) types.UID {
	if uid == types.SELF {
		return callingUID
	}
	return uid
}

// deviceFor returns the device a blob's Fallback flag indicates it was
// produced by, matching spec.md 3's KeymasterBound invariant.
func (k *KeyStoreCore) deviceFor(blob *types.Blob) types.KeymasterDevice {
	if blob.Fallback {
		return k.fallback
	}
	return k.primary
}
