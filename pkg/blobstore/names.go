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
	"fmt"
	"strings"

	"github.com/automatethethings/keystore-core/pkg/types"
)

// blobTypeMarkers mirrors pkg/keystore's blobPath naming exactly, so a path
// built by the service layer resolves to the same key here.
var blobTypeMarkers = map[types.BlobType]string{
	types.BlobKeymasterBound:     "USRPKEY",
	types.BlobKeyCharacteristics: "CHR",
	types.BlobGeneric:            "BLOB",
}

// canonicalPath builds the on-disk path for (uid, alias, blobType), matching
// pkg/keystore.blobPath. The two packages compute this independently rather
// than sharing a helper: the service layer needs it to build Put arguments,
// this one needs it to answer name-based lookups, and the format itself is
// the fixed legacy wire contract, not an implementation detail either side
// owns.
func canonicalPath(uid types.UID, alias types.Alias, blobType types.BlobType) string {
	marker, ok := blobTypeMarkers[blobType]
	if !ok {
		marker = "BLOB"
	}
	return fmt.Sprintf("%d_%s_%s", int32(uid), marker, alias)
}

// aliasFromPath recovers the alias component of a canonical path. Paths are
// "<uid>_<marker>_<alias>"; the marker is matched as a prefix of what
// follows the uid, not a substring search, so an alias that happens to
// contain e.g. "CHR_" can't be mistaken for the marker.
func aliasFromPath(path string) (types.Alias, bool) {
	underscore := strings.IndexByte(path, '_')
	if underscore < 0 {
		return "", false
	}
	rest := path[underscore+1:]
	for _, marker := range blobTypeMarkers {
		prefix := marker + "_"
		if strings.HasPrefix(rest, prefix) {
			return types.Alias(rest[len(prefix):]), true
		}
	}
	return "", false
}

// GetKeyForName resolves (alias, uid, blobType) to its stored blob and path.
func (s *Store) GetKeyForName(alias types.Alias, uid types.UID, blobType types.BlobType) (*types.Blob, string, error) {
	path := canonicalPath(uid, alias, blobType)
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, err := s.getNoLock(path, uid.UserID())
	if err != nil {
		return nil, "", err
	}
	return blob, path, nil
}

// GetKeyNameForUidWithDir returns the canonical path for (alias, uid,
// blobType) whether or not it currently exists.
func (s *Store) GetKeyNameForUidWithDir(alias types.Alias, uid types.UID, blobType types.BlobType) string {
	return canonicalPath(uid, alias, blobType)
}

// GetBlobFileNameIfExists returns the canonical path only if the blob
// exists.
func (s *Store) GetBlobFileNameIfExists(alias types.Alias, uid types.UID, blobType types.BlobType) (string, bool) {
	path := canonicalPath(uid, alias, blobType)
	s.mu.RLock()
	defer s.mu.RUnlock()
	ok, err := s.backend.Exists(blobKey(uid.UserID(), path))
	if err != nil || !ok {
		return "", false
	}
	return path, true
}
