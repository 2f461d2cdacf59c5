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

func TestOperationMapAddGetRemove(t *testing.T) {
	m := NewOperationMap()
	token := m.Add(1, "key-id", types.PurposeSign, nil, "", &types.KeyCharacteristics{}, true)
	require.NotEmpty(t, token)

	view, ok := m.Get(token)
	require.True(t, ok)
	require.Equal(t, types.OperationHandle(1), view.DeviceHandle)
	require.Equal(t, 1, m.Count())

	_, ok = m.Remove(token)
	require.True(t, ok)
	require.Equal(t, 0, m.Count())

	_, ok = m.Get(token)
	require.False(t, ok)
}

func TestOperationMapRemoveIsIdempotent(t *testing.T) {
	m := NewOperationMap()
	_, ok := m.Remove("unknown")
	require.False(t, ok)
}

func TestOperationMapAuthTokenCaching(t *testing.T) {
	m := NewOperationMap()
	token := m.Add(1, "key-id", types.PurposeSign, nil, "", &types.KeyCharacteristics{}, true)

	_, ok := m.GetAuthToken(token)
	require.False(t, ok)

	require.True(t, m.SetAuthToken(token, types.AuthToken{UserSecureID: 7}))
	auth, ok := m.GetAuthToken(token)
	require.True(t, ok)
	require.Equal(t, int64(7), auth.UserSecureID)
}

func TestOperationMapGetOldestPruneableOrdersByAllocation(t *testing.T) {
	m := NewOperationMap()
	first := m.Add(1, "a", types.PurposeSign, nil, "", &types.KeyCharacteristics{}, true)
	m.Add(2, "b", types.PurposeSign, nil, "", &types.KeyCharacteristics{}, false)
	third := m.Add(3, "c", types.PurposeSign, nil, "", &types.KeyCharacteristics{}, true)

	oldest, ok := m.GetOldestPruneable()
	require.True(t, ok)
	require.Equal(t, first, oldest)

	m.Remove(first)
	oldest, ok = m.GetOldestPruneable()
	require.True(t, ok)
	require.Equal(t, third, oldest)
}

func TestOperationMapGetOldestPruneableNoneAvailable(t *testing.T) {
	m := NewOperationMap()
	m.Add(1, "a", types.PurposeSign, nil, "", &types.KeyCharacteristics{}, false)

	_, ok := m.GetOldestPruneable()
	require.False(t, ok)
	require.False(t, m.HasPruneable())
}

func TestOperationMapOperationsForLiveness(t *testing.T) {
	m := NewOperationMap()
	bound := m.Add(1, "a", types.PurposeSign, nil, "42", &types.KeyCharacteristics{}, true)
	m.Add(2, "b", types.PurposeSign, nil, "43", &types.KeyCharacteristics{}, true)

	tokens := m.OperationsForLiveness("42")
	require.Equal(t, []types.OperationToken{bound}, tokens)
}
