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
	"encoding/json"
	"fmt"

	"github.com/automatethethings/keystore-core/pkg/storage"
	"github.com/automatethethings/keystore-core/pkg/types"
)

func grantKey(g *types.Grant) string {
	return fmt.Sprintf("grants/%d/%s/%d", int32(g.OwnerUID), string(g.Alias), int32(g.GranteeUID))
}

// hydrateGrants loads any grants already on disk into the in-memory index,
// run once at FileStore construction so restarts don't lose the grant
// table.
func (s *Store) hydrateGrants() error {
	keys, err := s.backend.List("grants/")
	if err != nil {
		return fmt.Errorf("blobstore: list grants: %w", err)
	}
	for _, key := range keys {
		data, err := s.backend.Get(key)
		if err != nil {
			continue
		}
		var g types.Grant
		if err := json.Unmarshal(data, &g); err != nil {
			continue
		}
		s.grants[key] = &g
	}
	return nil
}

// AddGrant persists g, letting g.GranteeUID reference g.OwnerUID's
// (g.Alias) key as g.GrantAlias.
func (s *Store) AddGrant(g *types.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("blobstore: encode grant: %w", err)
	}
	key := grantKey(g)
	if err := s.backend.Put(key, data, nil); err != nil {
		return fmt.Errorf("blobstore: write grant: %w", err)
	}
	s.grants[key] = g
	return nil
}

// RemoveGrant revokes a previously issued grant.
func (s *Store) RemoveGrant(ownerUID types.UID, alias types.Alias, granteeUID types.UID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := grantKey(&types.Grant{OwnerUID: ownerUID, Alias: alias, GranteeUID: granteeUID})
	if err := s.backend.Delete(key); err != nil && err != storage.ErrNotFound {
		return fmt.Errorf("blobstore: delete grant: %w", err)
	}
	delete(s.grants, key)
	return nil
}

// RemoveAllGrantsToUid revokes every grant issued to uid, e.g. when uid's
// user account is removed.
func (s *Store) RemoveAllGrantsToUid(uid types.UID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, g := range s.grants {
		if g.GranteeUID != uid {
			continue
		}
		if err := s.backend.Delete(key); err != nil && err != storage.ErrNotFound {
			return fmt.Errorf("blobstore: delete grant: %w", err)
		}
		delete(s.grants, key)
	}
	return nil
}

// ListGrantsToUid returns every grant issued to uid, regardless of owner.
func (s *Store) ListGrantsToUid(uid types.UID) ([]*types.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Grant
	for _, g := range s.grants {
		if g.GranteeUID == uid {
			out = append(out, g)
		}
	}
	return out, nil
}
