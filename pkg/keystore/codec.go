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
	"encoding/binary"
	"fmt"

	"github.com/automatethethings/keystore-core/pkg/types"
)

// KeyCharacteristicsCodec deterministically serializes and deserializes
// authorization lists for on-disk persistence (spec.md 4.B). The wire
// format is a flat, length-prefixed encoding rather than JSON/gob so that
// two calls given the same input always produce byte-identical output,
// which the upgrade-idempotence and sibling-consistency properties in
// spec.md 8 depend on.
type KeyCharacteristicsCodec struct{}

func NewKeyCharacteristicsCodec() *KeyCharacteristicsCodec {
	return &KeyCharacteristicsCodec{}
}

type valueKind byte

const (
	kindBool valueKind = iota
	kindInt
	kindInt64
	kindUint32
	kindUint64
	kindString
	kindPurpose
	kindAlgorithm
	kindDigest
	kindPadding
	kindBlockMode
	kindAuthType
)

// Encode serializes an AuthorizationList.
func (c *KeyCharacteristicsCodec) Encode(list types.AuthorizationList) ([]byte, error) {
	buf := make([]byte, 0, 64*len(list)+4)
	buf = appendUint32(buf, uint32(len(list)))
	for _, p := range list {
		buf = appendString(buf, string(p.Tag))
		kind, payload, err := encodeValue(p.Value)
		if err != nil {
			return nil, fmt.Errorf("keystore: encode %s: %w", p.Tag, err)
		}
		buf = append(buf, byte(kind))
		buf = appendBytes(buf, payload)
	}
	return buf, nil
}

// Decode deserializes an AuthorizationList previously produced by Encode.
func (c *KeyCharacteristicsCodec) Decode(data []byte) (types.AuthorizationList, error) {
	r := &reader{buf: data}
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	list := make(types.AuthorizationList, 0, n)
	for i := uint32(0); i < n; i++ {
		tag, err := r.string()
		if err != nil {
			return nil, err
		}
		kindByte, err := r.byte()
		if err != nil {
			return nil, err
		}
		payload, err := r.bytes()
		if err != nil {
			return nil, err
		}
		value, err := decodeValue(valueKind(kindByte), payload)
		if err != nil {
			return nil, fmt.Errorf("keystore: decode %s: %w", tag, err)
		}
		list = append(list, types.KeyParameter{Tag: types.Tag(tag), Value: value})
	}
	return list, nil
}

// EncodeCharacteristics encodes both enforcement domains as a single blob.
func (c *KeyCharacteristicsCodec) EncodeCharacteristics(ch *types.KeyCharacteristics) ([]byte, error) {
	hw, err := c.Encode(ch.HardwareEnforced)
	if err != nil {
		return nil, err
	}
	sw, err := c.Encode(ch.SoftwareEnforced)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(hw)+len(sw)+8)
	buf = appendBytes(buf, hw)
	buf = appendBytes(buf, sw)
	return buf, nil
}

// DecodeCharacteristics is the inverse of EncodeCharacteristics.
func (c *KeyCharacteristicsCodec) DecodeCharacteristics(data []byte) (*types.KeyCharacteristics, error) {
	r := &reader{buf: data}
	hw, err := r.bytes()
	if err != nil {
		return nil, err
	}
	sw, err := r.bytes()
	if err != nil {
		return nil, err
	}
	hwList, err := c.Decode(hw)
	if err != nil {
		return nil, err
	}
	swList, err := c.Decode(sw)
	if err != nil {
		return nil, err
	}
	return &types.KeyCharacteristics{HardwareEnforced: hwList, SoftwareEnforced: swList}, nil
}

func encodeValue(v any) (valueKind, []byte, error) {
	switch val := v.(type) {
	case bool:
		if val {
			return kindBool, []byte{1}, nil
		}
		return kindBool, []byte{0}, nil
	case int:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(int64(val)))
		return kindInt, b, nil
	case int64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(val))
		return kindInt64, b, nil
	case uint32:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, val)
		return kindUint32, b, nil
	case uint64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, val)
		return kindUint64, b, nil
	case string:
		return kindString, []byte(val), nil
	case types.Purpose:
		return kindPurpose, []byte{byte(val)}, nil
	case types.Algorithm:
		return kindAlgorithm, []byte{byte(val)}, nil
	case types.Digest:
		return kindDigest, []byte{byte(val)}, nil
	case types.Padding:
		return kindPadding, []byte{byte(val)}, nil
	case types.BlockMode:
		return kindBlockMode, []byte{byte(val)}, nil
	case types.AuthenticatorType:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(val))
		return kindAuthType, b, nil
	default:
		return 0, nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func decodeValue(kind valueKind, payload []byte) (any, error) {
	switch kind {
	case kindBool:
		return len(payload) > 0 && payload[0] == 1, nil
	case kindInt:
		return int(int64(binary.BigEndian.Uint64(payload))), nil
	case kindInt64:
		return int64(binary.BigEndian.Uint64(payload)), nil
	case kindUint32:
		return binary.BigEndian.Uint32(payload), nil
	case kindUint64:
		return binary.BigEndian.Uint64(payload), nil
	case kindString:
		return string(payload), nil
	case kindPurpose:
		return types.Purpose(payload[0]), nil
	case kindAlgorithm:
		return types.Algorithm(payload[0]), nil
	case kindDigest:
		return types.Digest(payload[0]), nil
	case kindPadding:
		return types.Padding(payload[0]), nil
	case kindBlockMode:
		return types.BlockMode(payload[0]), nil
	case kindAuthType:
		return types.AuthenticatorType(binary.BigEndian.Uint32(payload)), nil
	default:
		return nil, fmt.Errorf("unknown value kind %d", kind)
	}
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendString(buf []byte, s string) []byte {
	return appendBytes(buf, []byte(s))
}

func appendBytes(buf []byte, b []byte) []byte {
	buf = appendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) uint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("keystore: truncated codec stream")
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *reader) byte() (byte, error) {
	if r.pos+1 > len(r.buf) {
		return 0, fmt.Errorf("keystore: truncated codec stream")
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, fmt.Errorf("keystore: truncated codec stream")
	}
	v := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return v, nil
}

func (r *reader) string() (string, error) {
	b, err := r.bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
