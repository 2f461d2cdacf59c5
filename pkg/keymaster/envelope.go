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

package keymaster

import (
	"bytes"
	"encoding/gob"

	"github.com/automatethethings/keystore-core/pkg/types"
)

// blobEnvelope is the opaque payload SoftwareDevice returns as a key blob.
// Its wire format is private to this package; keystore.KeyStoreCore treats
// it as bytes. Unlike the keystore package's own KeyCharacteristicsCodec,
// determinism across encodes is not a requirement here, so gob carries the
// AuthorizationList's heterogeneous KeyParameter.Value without a
// hand-rolled tag switch.
type blobEnvelope struct {
	Algorithm types.Algorithm
	KeyDER    []byte
	KeyBytes  []byte
	Attrs     types.AuthorizationList
}

func init() {
	gob.Register(types.Purpose(0))
	gob.Register(types.Algorithm(0))
	gob.Register(types.Digest(0))
	gob.Register(types.Padding(0))
	gob.Register(types.BlockMode(0))
	gob.Register(types.AuthenticatorType(0))
	gob.Register(int(0))
	gob.Register(int32(0))
	gob.Register(int64(0))
	gob.Register(uint64(0))
	gob.Register(uint32(0))
	gob.Register(true)
	gob.Register("")
	gob.Register([]byte(nil))
}

func encodeEnvelope(env blobEnvelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEnvelope(blob []byte) (blobEnvelope, error) {
	var env blobEnvelope
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&env); err != nil {
		return blobEnvelope{}, err
	}
	return env, nil
}
