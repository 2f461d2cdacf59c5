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

package types

// Tag identifies a single entry in an authorization list.
type Tag string

const (
	TagPurpose                   Tag = "purpose"
	TagAlgorithm                 Tag = "algorithm"
	TagKeySize                   Tag = "key_size"
	TagDigest                    Tag = "digest"
	TagPadding                   Tag = "padding"
	TagBlockMode                 Tag = "block_mode"
	TagRSAPublicExponent         Tag = "rsa_public_exponent"
	TagECCurve                   Tag = "ec_curve"
	TagNoAuthRequired            Tag = "no_auth_required"
	TagUserSecureID              Tag = "user_secure_id"
	TagUserAuthType              Tag = "user_auth_type"
	TagAuthTimeout               Tag = "auth_timeout"
	TagCallerNonce               Tag = "caller_nonce"
	TagMaxUsesPerBoot            Tag = "max_uses_per_boot"
	TagActiveDateTime            Tag = "active_date_time"
	TagOriginationExpireDateTime Tag = "origination_expire_date_time"
	TagUsageExpireDateTime       Tag = "usage_expire_date_time"
	TagIncludeUniqueID           Tag = "include_unique_id"

	// Restricted: keystore-owned, never accepted from a caller-supplied
	// op params list (spec.md 4.I "Restricted tags").
	TagAttestationApplicationID Tag = "attestation_application_id"
	TagAuthToken                Tag = "auth_token"
	TagResetSinceIDRotation     Tag = "reset_since_id_rotation"

	// Attestation-identifier tags; any presence in attestKey's params
	// routes the caller to attestDeviceIds instead (spec.md 4.I).
	TagAttestationIDBrand  Tag = "attestation_id_brand"
	TagAttestationIDDevice Tag = "attestation_id_device"
	TagAttestationIDSerial Tag = "attestation_id_serial"
)

// RestrictedTags is the set of tags the core owns and will reject from any
// caller-supplied operation parameter list at every entry point.
var RestrictedTags = []Tag{
	TagAttestationApplicationID,
	TagAuthToken,
	TagResetSinceIDRotation,
}

// AttestationIDTags is the set of tags that, if present in attestKey's
// params, route the request to attestDeviceIds.
var AttestationIDTags = []Tag{
	TagAttestationIDBrand,
	TagAttestationIDDevice,
	TagAttestationIDSerial,
}

// KeyParameter is a single tagged value within an authorization list.
type KeyParameter struct {
	Tag   Tag
	Value any
}

// AuthorizationList is an ordered set of tagged parameters: either the
// caller-supplied operation parameters for begin/update/finish, or one
// domain (hardware- or software-enforced) of a key's persisted
// characteristics.
type AuthorizationList []KeyParameter

// Has reports whether the list contains the tag at all.
func (l AuthorizationList) Has(tag Tag) bool {
	for _, p := range l {
		if p.Tag == tag {
			return true
		}
	}
	return false
}

// Get returns the first value stored under tag.
func (l AuthorizationList) Get(tag Tag) (any, bool) {
	for _, p := range l {
		if p.Tag == tag {
			return p.Value, true
		}
	}
	return nil, false
}

// GetAll returns every value stored under tag, in insertion order. Some
// tags (e.g. purpose) are legitimately multi-valued.
func (l AuthorizationList) GetAll(tag Tag) []any {
	var out []any
	for _, p := range l {
		if p.Tag == tag {
			out = append(out, p.Value)
		}
	}
	return out
}

// With returns a copy of l with an additional parameter appended.
func (l AuthorizationList) With(tag Tag, value any) AuthorizationList {
	out := make(AuthorizationList, len(l), len(l)+1)
	copy(out, l)
	return append(out, KeyParameter{Tag: tag, Value: value})
}

// Without returns a copy of l with every parameter under tag removed.
func (l AuthorizationList) Without(tag Tag) AuthorizationList {
	out := make(AuthorizationList, 0, len(l))
	for _, p := range l {
		if p.Tag != tag {
			out = append(out, p)
		}
	}
	return out
}

// Purposes returns every purpose value stored in the list.
func (l AuthorizationList) Purposes() []Purpose {
	var out []Purpose
	for _, v := range l.GetAll(TagPurpose) {
		if p, ok := v.(Purpose); ok {
			out = append(out, p)
		}
	}
	return out
}

// AllowsPurpose reports whether the list authorizes purpose.
func (l AuthorizationList) AllowsPurpose(purpose Purpose) bool {
	for _, p := range l.Purposes() {
		if p == purpose {
			return true
		}
	}
	return false
}

// ContainsRestricted reports whether l contains any keystore-owned tag, and
// returns the first offending tag found.
func (l AuthorizationList) ContainsRestricted() (Tag, bool) {
	for _, restricted := range RestrictedTags {
		if l.Has(restricted) {
			return restricted, true
		}
	}
	return "", false
}

// ContainsAttestationID reports whether l carries any ATTESTATION_ID_* tag.
func (l AuthorizationList) ContainsAttestationID() bool {
	for _, t := range AttestationIDTags {
		if l.Has(t) {
			return true
		}
	}
	return false
}

// Clone returns an independent deep-enough copy of l. Values themselves are
// assumed immutable (ints, strings, bool, []byte treated as owned-and-not-
// mutated by convention).
func (l AuthorizationList) Clone() AuthorizationList {
	if l == nil {
		return nil
	}
	out := make(AuthorizationList, len(l))
	copy(out, l)
	return out
}

// KeyCharacteristics partitions a key's authorization list into the domain
// the keymaster itself enforces (hardware) and the domain the core must
// enforce in software.
type KeyCharacteristics struct {
	HardwareEnforced AuthorizationList
	SoftwareEnforced AuthorizationList
}

// Union returns every parameter across both enforcement domains, hardware
// first. Used wherever enforcement or matching doesn't care which domain a
// tag lives in.
func (c *KeyCharacteristics) Union() AuthorizationList {
	if c == nil {
		return nil
	}
	out := make(AuthorizationList, 0, len(c.HardwareEnforced)+len(c.SoftwareEnforced))
	out = append(out, c.HardwareEnforced...)
	out = append(out, c.SoftwareEnforced...)
	return out
}

// AuthenticationBound reports whether the key's authorization list lacks
// NO_AUTH_REQUIRED, i.e. use requires a matching auth token.
func (c *KeyCharacteristics) AuthenticationBound() bool {
	if c == nil {
		return false
	}
	return !c.Union().Has(TagNoAuthRequired)
}

// MergeSoftwareOnly returns the software-enforced parameters of c that are
// not shadowed by any hardware-enforced tag of the same name, i.e. the
// keystore-only tags persisted at creation time that the keymaster's own
// getKeyCharacteristics response (tee-enforced only) would otherwise drop.
// Mirrors spec.md 4.I step 5 ("merge persisted-sw-enforced minus
// tee-enforced into the returned characteristics").
func MergeSoftwareOnly(persisted, fresh *KeyCharacteristics) AuthorizationList {
	if persisted == nil {
		return nil
	}
	hwTags := map[Tag]bool{}
	for _, p := range fresh.Union() {
		hwTags[p.Tag] = true
	}
	var out AuthorizationList
	for _, p := range persisted.SoftwareEnforced {
		if !hwTags[p.Tag] {
			out = append(out, p)
		}
	}
	return out
}
