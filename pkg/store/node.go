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

package store

import "context"

// Node is the closed set of block-storable types: database, table, index,
// partition, tablet, patch (spec.md §9 "Polymorphism"). Every node type
// knows its own tag; its CBOR payload comes from its struct tags, and the
// codec in codec.go handles the shared multicodec framing and dispatch.
type Node interface {
	// NodeType returns the `type` discriminator stored in the block.
	NodeType() string
}

// NodeStore is the external content-addressed block store contract
// (spec.md §6). Implementations must be safe for concurrent use; puts
// must be idempotent since identical blocks always hash identically.
type NodeStore interface {
	Put(ctx context.Context, n Node) (Ref, error)
	Get(ctx context.Context, ref Ref) (Node, error)
	Has(ctx context.Context, ref Ref) (bool, error)
	Size(ctx context.Context, ref Ref) (int64, error)
}

// RefVersion is one entry in a ref's compare-and-set history.
type RefVersion struct {
	Name        string
	Version     int64
	NodeHash    Ref
	CommittedAt int64 // unix nanoseconds; spec.md §6 says ISO-8601 on the wire
}

// ConflictError indicates a RefTracker.SetRef lost a compare-and-set race.
type ConflictError struct {
	Name     string
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return "ref CAS conflict on " + e.Name
}

// RefTracker is the external mutable name->hash pointer contract
// (spec.md §6).
type RefTracker interface {
	ListRefs(ctx context.Context) ([]string, error)
	GetRef(ctx context.Context, name string) (RefVersion, error)
	SetRef(ctx context.Context, name string, expectedVersion int64, newHash Ref) (RefVersion, error)
	History(ctx context.Context, name string) ([]RefVersion, error)
	DropRef(ctx context.Context, name string, expectedVersion int64) error
}
