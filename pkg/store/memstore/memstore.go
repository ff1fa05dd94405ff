// Copyright 2024 The MerkleDB Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package memstore provides a process-local, map-backed NodeStore and
// RefTracker, for tests, examples, and single-process use before a caller
// wires in a production block store and ref service. Its mutex-guarded map
// is the same shape as perkeep.org/pkg/sorted's in-memory KeyValue
// (sorted.NewMemoryKeyValue): a naive, test/dev-purpose-only backing store
// behind the package's real interface.
package memstore

import (
	"context"
	"sync"

	"github.com/greglook/merkle-db/pkg/dberr"
	"github.com/greglook/merkle-db/pkg/store"
)

// Store is an in-memory content-addressed block store.
type Store struct {
	mu     sync.RWMutex
	blocks map[string][]byte // ref.Bytes() (as string) -> framed block
}

func New() *Store {
	return &Store{blocks: make(map[string][]byte)}
}

func (s *Store) Put(ctx context.Context, n store.Node) (store.Ref, error) {
	block, err := store.EncodeNode(n)
	if err != nil {
		return store.ZeroRef, err
	}
	ref, err := store.HashBlock(block)
	if err != nil {
		return store.ZeroRef, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Put is idempotent: an identical block always hashes identically, so
	// re-storing it is a no-op beyond overwriting with the same bytes.
	s.blocks[string(ref.Bytes())] = block
	return ref, nil
}

func (s *Store) Get(ctx context.Context, ref store.Ref) (store.Node, error) {
	s.mu.RLock()
	block, ok := s.blocks[string(ref.Bytes())]
	s.mu.RUnlock()
	if !ok {
		return nil, dberr.ErrNotFound
	}
	return store.DecodeNode(block)
}

func (s *Store) Has(ctx context.Context, ref store.Ref) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[string(ref.Bytes())]
	return ok, nil
}

func (s *Store) Size(ctx context.Context, ref store.Ref) (int64, error) {
	s.mu.RLock()
	block, ok := s.blocks[string(ref.Bytes())]
	s.mu.RUnlock()
	if !ok {
		return 0, dberr.ErrNotFound
	}
	return int64(len(block)), nil
}

// Len returns the number of distinct blocks currently stored, mostly
// useful in tests asserting structural sharing (spec.md §8 property 8).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}
