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

// Package memory provides an in-memory implementation of storage.Backend.
// All byte slices are defensively copied so callers can't mutate storage
// state through a returned or stored slice.
package memory

import (
	"sort"
	"strings"
	"sync"

	"github.com/automatethethings/keystore-core/pkg/storage"
)

// Storage is an in-memory implementation of storage.Backend backed by a
// map, fully thread-safe.
type Storage struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// New returns a ready-to-use in-memory storage.Backend.
func New() storage.Backend {
	return &Storage{data: make(map[string][]byte)}
}

// Get retrieves a defensive copy of the value stored under key.
func (s *Storage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	value, exists := s.data[key]
	if !exists {
		return nil, storage.ErrNotFound
	}
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Put stores a defensive copy of value under key.
func (s *Storage) Put(key string, value []byte, opts *storage.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	s.data[key] = valueCopy
	return nil
}

// Delete removes key from storage.
func (s *Storage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	if _, exists := s.data[key]; !exists {
		return storage.ErrNotFound
	}
	delete(s.data, key)
	return nil
}

// List returns every key with the given prefix, in sorted order.
func (s *Storage) List(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	var keys []string
	for key := range s.data {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists reports whether key is present.
func (s *Storage) Exists(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, storage.ErrClosed
	}
	_, exists := s.data[key]
	return exists, nil
}

// Close discards all stored data. Subsequent calls are a no-op.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.data = nil
	return nil
}
