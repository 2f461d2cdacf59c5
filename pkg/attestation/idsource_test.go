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

package attestation

import (
	"encoding/asn1"
	"testing"

	"github.com/automatethethings/keystore-core/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestGatherReturnsEncodedApplicationID(t *testing.T) {
	s := NewLocalSource()
	id := &ApplicationID{Packages: []PackageInfo{
		{PackageName: "com.example.app", VersionCode: 3, SignatureDigests: [][]byte{{0x01, 0x02}}},
	}}
	s.Register(types.UID(10000), id)

	encoded, err := s.Gather(types.UID(10000))
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	decoded, err := DecodeApplicationID(encoded)
	require.NoError(t, err)
	require.Len(t, decoded.Packages, 1)
	require.Equal(t, "com.example.app", decoded.Packages[0].PackageName)
	require.Equal(t, int64(3), decoded.Packages[0].VersionCode)
}

func TestGatherUnregisteredUIDFails(t *testing.T) {
	s := NewLocalSource()
	_, err := s.Gather(types.UID(1))
	require.ErrorIs(t, err, ErrNoApplicationID)
}

func TestUnregisterRemovesApplicationID(t *testing.T) {
	s := NewLocalSource()
	s.Register(types.UID(1), &ApplicationID{})
	s.Unregister(types.UID(1))

	_, err := s.Gather(types.UID(1))
	require.ErrorIs(t, err, ErrNoApplicationID)
}

func TestEncodeMultiplePackagesPoolsSignatureDigests(t *testing.T) {
	id := &ApplicationID{Packages: []PackageInfo{
		{PackageName: "a", VersionCode: 1, SignatureDigests: [][]byte{{0xaa}}},
		{PackageName: "b", VersionCode: 2, SignatureDigests: [][]byte{{0xbb}, {0xcc}}},
	}}
	encoded, err := id.Encode()
	require.NoError(t, err)

	decoded, err := DecodeApplicationID(encoded)
	require.NoError(t, err)
	require.Len(t, decoded.Packages, 2)

	var raw asn1ApplicationID
	_, err = asn1.Unmarshal(encoded, &raw)
	require.NoError(t, err)
	require.Len(t, raw.Signatures, 3)
}
