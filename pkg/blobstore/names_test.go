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

package blobstore

import (
	"testing"

	"github.com/automatethethings/keystore-core/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestGetKeyForNameResolvesCanonicalPath(t *testing.T) {
	s := NewMemoryStore()
	uid := types.UID(0)
	blob := &types.Blob{Value: []byte("x"), Type: types.BlobKeymasterBound}
	require.NoError(t, s.Put(canonicalPath(uid, "myalias", types.BlobKeymasterBound), blob, uid.UserID()))

	got, path, err := s.GetKeyForName("myalias", uid, types.BlobKeymasterBound)
	require.NoError(t, err)
	require.Equal(t, "0_USRPKEY_myalias", path)
	require.Equal(t, []byte("x"), got.Value)
}

func TestGetKeyNameForUidWithDirIsStable(t *testing.T) {
	s := NewMemoryStore()
	uid := types.UID(100000)
	path := s.GetKeyNameForUidWithDir("myalias", uid, types.BlobKeyCharacteristics)
	require.Equal(t, "100000_CHR_myalias", path)
}

func TestGetBlobFileNameIfExists(t *testing.T) {
	s := NewMemoryStore()
	uid := types.UID(0)

	_, ok := s.GetBlobFileNameIfExists("myalias", uid, types.BlobGeneric)
	require.False(t, ok)

	require.NoError(t, s.Put(canonicalPath(uid, "myalias", types.BlobGeneric), &types.Blob{Value: []byte("x")}, uid.UserID()))

	path, ok := s.GetBlobFileNameIfExists("myalias", uid, types.BlobGeneric)
	require.True(t, ok)
	require.Equal(t, "0_BLOB_myalias", path)
}

func TestAliasFromPathIgnoresMarkerLookingSubstringsInAlias(t *testing.T) {
	alias, ok := aliasFromPath("0_USRPKEY_contains_CHR_inside")
	require.True(t, ok)
	require.Equal(t, types.Alias("contains_CHR_inside"), alias)
}
