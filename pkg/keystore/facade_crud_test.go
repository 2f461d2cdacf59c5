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

	"github.com/automatethethings/keystore-core/pkg/types"
)

func TestInsertGetDelExistRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)

	require.NoError(t, h.core.Insert(uid, uid, "note", []byte("hello"), false, false))

	ok, err := h.core.Exist(uid, uid, "note", types.BlobGeneric)
	require.NoError(t, err)
	require.True(t, ok)

	blob, err := h.core.Get(uid, uid, "note", types.BlobGeneric)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), blob.Value)

	require.NoError(t, h.core.Del(uid, uid, "note", types.BlobGeneric))

	ok, err = h.core.Exist(uid, uid, "note", types.BlobGeneric)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDelKeymasterBoundRemovesCharacteristicsSibling(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)

	_, err := h.core.GenerateKey(uid, uid, "my-key", GenerateKeyParams{Attrs: ecSignAttrs()})
	require.NoError(t, err)

	require.NoError(t, h.core.Del(uid, uid, "my-key", types.BlobKeymasterBound))

	_, err = h.core.Get(uid, uid, "my-key", types.BlobKeymasterBound)
	require.ErrorIs(t, err, types.ErrKeyNotFound)
	_, err = h.core.Get(uid, uid, "my-key", types.BlobKeyCharacteristics)
	require.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestListEnumeratesAliasesByPrefix(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)

	require.NoError(t, h.core.Insert(uid, uid, "alpha", []byte("1"), false, false))
	require.NoError(t, h.core.Insert(uid, uid, "beta", []byte("2"), false, false))

	aliases, err := h.core.List(uid, uid, "")
	require.NoError(t, err)
	require.Len(t, aliases, 2)
}

func TestGetModTimeReportsBlobNotFound(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)

	_, err := h.core.GetModTime(uid, uid, "missing", types.BlobGeneric)
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, h.core.Insert(uid, uid, "present", []byte("v"), false, false))
	modTime, err := h.core.GetModTime(uid, uid, "present", types.BlobGeneric)
	require.NoError(t, err)
	require.Greater(t, modTime, int64(0))
}

func TestDuplicateIsAlwaysDenied(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)

	_, err := h.core.GenerateKey(uid, uid, "my-key", GenerateKeyParams{Attrs: ecSignAttrs()})
	require.NoError(t, err)

	err = h.core.Duplicate(uid, uid, "my-key", uid, "my-key-copy")
	require.ErrorIs(t, err, ErrPermissionDenied)

	_, _, err = h.core.store.GetKeyForName("my-key-copy", uid, types.BlobKeymasterBound)
	require.Error(t, err)
}

func TestClearUIDKeepsCriticalBlobsForSystemCaller(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)

	_, err := h.core.GenerateKey(testSystemUID, uid, "critical-key", GenerateKeyParams{
		Attrs:                      ecSignAttrs(),
		CriticalToDeviceEncryption: true,
	})
	require.NoError(t, err)
	_, err = h.core.GenerateKey(uid, uid, "ordinary-key", GenerateKeyParams{Attrs: ecSignAttrs()})
	require.NoError(t, err)

	require.NoError(t, h.core.ClearUID(testSystemUID, uid))

	_, err = h.core.Get(uid, uid, "critical-key", types.BlobKeymasterBound)
	require.NoError(t, err)
	_, err = h.core.Get(uid, uid, "ordinary-key", types.BlobKeymasterBound)
	require.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestClearUIDDropsCriticalBlobsForNonSystemCaller(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)

	_, err := h.core.GenerateKey(testSystemUID, uid, "critical-key", GenerateKeyParams{
		Attrs:                      ecSignAttrs(),
		CriticalToDeviceEncryption: true,
	})
	require.NoError(t, err)

	require.NoError(t, h.core.ClearUID(uid, uid))

	_, err = h.core.Get(uid, uid, "critical-key", types.BlobKeymasterBound)
	require.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestGrantAndUngrant(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)
	grantee := types.UID(userID*types.UserIDStride + 2)

	require.NoError(t, h.core.Grant(uid, "my-key", grantee, "granted-key"))
	require.NoError(t, h.core.Ungrant(uid, "my-key", grantee))
}

func TestIsHardwareBackedDelegatesToStore(t *testing.T) {
	h := newTestHarness(t)
	require.False(t, h.core.IsHardwareBacked("AES"))
}
