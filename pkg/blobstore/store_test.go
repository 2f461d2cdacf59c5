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

const testUserID int32 = 0

func TestPutGetRoundTripPlaintext(t *testing.T) {
	s := NewMemoryStore()
	blob := &types.Blob{Value: []byte("hello"), Type: types.BlobGeneric}
	require.NoError(t, s.Put("0_BLOB_foo", blob, testUserID))

	got, err := s.Get("0_BLOB_foo", testUserID)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got.Value)
}

func TestGetMissingReturnsKeyNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get("0_BLOB_missing", testUserID)
	require.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestPutEncryptedRequiresUnlockedUser(t *testing.T) {
	s := NewMemoryStore()
	blob := &types.Blob{Value: []byte("secret"), Type: types.BlobKeymasterBound, Encrypted: true}
	err := s.Put("0_USRPKEY_foo", blob, testUserID)
	require.ErrorIs(t, err, types.ErrLocked)
}

func TestPutGetEncryptedRoundTripWhileUnlocked(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.InitializeUser(testUserID, "correct horse"))

	blob := &types.Blob{Value: []byte("secret"), Type: types.BlobKeymasterBound, Encrypted: true}
	require.NoError(t, s.Put("0_USRPKEY_foo", blob, testUserID))

	got, err := s.Get("0_USRPKEY_foo", testUserID)
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), got.Value)

	require.NoError(t, s.Lock(testUserID))
	_, err = s.Get("0_USRPKEY_foo", testUserID)
	require.ErrorIs(t, err, types.ErrLocked)
}

func TestDelRemovesBlob(t *testing.T) {
	s := NewMemoryStore()
	blob := &types.Blob{Value: []byte("x"), Type: types.BlobGeneric}
	require.NoError(t, s.Put("0_BLOB_foo", blob, testUserID))
	require.NoError(t, s.Del("0_BLOB_foo", types.BlobGeneric, testUserID))

	_, err := s.Get("0_BLOB_foo", testUserID)
	require.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestListReturnsDistinctAliasesMatchingPrefix(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put("0_USRPKEY_alpha", &types.Blob{Type: types.BlobKeymasterBound}, testUserID))
	require.NoError(t, s.Put("0_CHR_alpha", &types.Blob{Type: types.BlobKeyCharacteristics}, testUserID))
	require.NoError(t, s.Put("0_USRPKEY_beta", &types.Blob{Type: types.BlobKeymasterBound}, testUserID))
	require.NoError(t, s.Put("1_USRPKEY_alpha", &types.Blob{Type: types.BlobKeymasterBound}, 1))

	aliases, err := s.List("0_", testUserID)
	require.NoError(t, err)
	require.ElementsMatch(t, []types.Alias{"alpha", "beta"}, aliases)
}

func TestIsEmpty(t *testing.T) {
	s := NewMemoryStore()
	require.True(t, s.IsEmpty(testUserID))
	require.NoError(t, s.Put("0_BLOB_foo", &types.Blob{Value: []byte("x")}, testUserID))
	require.False(t, s.IsEmpty(testUserID))
}

func TestModTimeReportsOkForExistingBlob(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put("0_BLOB_foo", &types.Blob{Value: []byte("x")}, testUserID))

	modTime, ok := s.ModTime("0_BLOB_foo", testUserID)
	require.True(t, ok)
	require.Greater(t, modTime, int64(0))

	_, ok = s.ModTime("0_BLOB_missing", testUserID)
	require.False(t, ok)
}

func TestIsHardwareBackedIsAlwaysFalse(t *testing.T) {
	s := NewMemoryStore()
	require.False(t, s.IsHardwareBacked("AES"))
}
