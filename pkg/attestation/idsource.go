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

// Package attestation gathers the platform attestation application id
// pushed into ATTESTATION_APPLICATION_ID key generation and attestKey
// requests. The id identifies which installed packages (by name, version
// and signing certificate digest) share the calling uid, so a relying
// party inspecting an attested key's authorization list can tell which
// app asked for it.
package attestation

import (
	"encoding/asn1"
	"errors"
	"sync"

	"github.com/automatethethings/keystore-core/pkg/types"
)

// ErrNoApplicationID is returned by LocalSource.Gather when callingUID has
// no package registered against it.
var ErrNoApplicationID = errors.New("attestation: no application id registered for uid")

// PackageInfo identifies one package sharing a uid: its name, version
// code, and the SHA-256 digests of the certificates it was signed with.
type PackageInfo struct {
	PackageName      string
	VersionCode      int64
	SignatureDigests [][]byte
}

// ApplicationID is the set of packages installed under a single uid. Its
// Encode form is the ASN.1 DER sequence pushed into TagAttestationApplicationID,
// mirroring the wire format a relying party parses out of an attestation
// certificate's key description extension.
type ApplicationID struct {
	Packages []PackageInfo
}

type asn1SignatureDigest struct {
	Digest []byte
}

type asn1PackageInfo struct {
	PackageName string
	VersionCode int64
}

type asn1ApplicationID struct {
	Packages   []asn1PackageInfo
	Signatures []asn1SignatureDigest
}

// Encode renders id as the ASN.1 DER sequence expected on the wire. All
// packages' signature digests are pooled into a single flat signature set,
// matching how Android's keystore2 encodes AttestationApplicationId: the
// structure proves co-residency of a set of packages under one uid, not a
// per-package signature mapping.
func (id *ApplicationID) Encode() ([]byte, error) {
	out := asn1ApplicationID{}
	for _, pkg := range id.Packages {
		out.Packages = append(out.Packages, asn1PackageInfo{
			PackageName: pkg.PackageName,
			VersionCode: pkg.VersionCode,
		})
		for _, digest := range pkg.SignatureDigests {
			out.Signatures = append(out.Signatures, asn1SignatureDigest{Digest: digest})
		}
	}
	return asn1.Marshal(out)
}

// DecodeApplicationID parses the ASN.1 DER sequence produced by Encode.
func DecodeApplicationID(der []byte) (*ApplicationID, error) {
	var decoded asn1ApplicationID
	if _, err := asn1.Unmarshal(der, &decoded); err != nil {
		return nil, err
	}
	id := &ApplicationID{}
	for _, pkg := range decoded.Packages {
		id.Packages = append(id.Packages, PackageInfo{PackageName: pkg.PackageName, VersionCode: pkg.VersionCode})
	}
	return id, nil
}

// LocalSource is an in-memory types.AttestationIdSource backed by a
// caller-maintained uid -> installed-packages registry. A real platform
// integration would instead query the package manager for callingUID on
// every Gather call; LocalSource is the registry a deployment populates
// itself (from a package database, a config file, or a package-manager
// client) and is suitable as-is for single-node or test deployments.
type LocalSource struct {
	mu    sync.RWMutex
	byUID map[types.UID]*ApplicationID
}

// NewLocalSource constructs an empty registry.
func NewLocalSource() *LocalSource {
	return &LocalSource{byUID: make(map[types.UID]*ApplicationID)}
}

// Register associates id with uid, replacing any previous registration.
func (s *LocalSource) Register(uid types.UID, id *ApplicationID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUID[uid] = id
}

// Unregister removes uid's registration, if any.
func (s *LocalSource) Unregister(uid types.UID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byUID, uid)
}

// Gather implements types.AttestationIdSource by ASN.1-encoding the
// package set registered against callingUID.
func (s *LocalSource) Gather(callingUID types.UID) ([]byte, error) {
	s.mu.RLock()
	id, ok := s.byUID[callingUID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNoApplicationID
	}
	return id.Encode()
}

var _ types.AttestationIdSource = (*LocalSource)(nil)
