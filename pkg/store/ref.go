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

// Package store defines the node-store and ref-tracker contracts MerkleDB
// tree code is built against (spec.md §6), plus the Ref/Link content
// address types and the multicodec-framed node codec. perkeep.org, this
// module's teacher, depends directly on github.com/ipfs/go-cid (used by
// its bluesky importer to name content-addressed blocks); that same
// dependency is adopted here as the Ref type's backing representation,
// since both describe exactly the same concept: a self-describing
// multihash naming an immutable block.
package store

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	"github.com/greglook/merkle-db/pkg/dberr"
)

// multicodec code used for every MerkleDB node block. Nodes are not raw
// bytes (codec Raw); they carry the multicodec-framed CBOR payload this
// module defines, so they get their own codec point rather than reusing
// cid.Raw or cid.DagCBOR.
const NodeMulticodec = 0x90fee5 // private-use range, MerkleDB node block

// DefaultHashFunc is the multihash function used when content-addressing
// new blocks.
const DefaultHashFunc = mh.SHA2_256

// Ref is a content hash naming an immutable node block.
type Ref struct {
	c cid.Cid
}

// ZeroRef is the invalid/absent ref.
var ZeroRef = Ref{}

// IsZero reports whether r is the absent ref (e.g. a table with no data
// tree yet).
func (r Ref) IsZero() bool {
	return !r.c.Defined()
}

func (r Ref) String() string {
	if r.IsZero() {
		return "<empty>"
	}
	return r.c.String()
}

// Bytes returns the binary CID form, suitable for embedding in a parent
// node's encoded link.
func (r Ref) Bytes() []byte {
	if r.IsZero() {
		return nil
	}
	return r.c.Bytes()
}

// MarshalCBOR encodes r as a CBOR byte string holding Bytes(), so a Link
// inside an encoded node carries its target's CID.
func (r Ref) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(r.Bytes())
}

// UnmarshalCBOR is the inverse of MarshalCBOR.
func (r *Ref) UnmarshalCBOR(data []byte) error {
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return err
	}
	parsed, err := RefFromBytes(b)
	*r = parsed
	return err
}

// Equal reports whether two refs name the same block.
func (r Ref) Equal(o Ref) bool {
	return r.c.Equals(o.c)
}

// RefFromBytes parses a binary CID produced by Ref.Bytes.
func RefFromBytes(b []byte) (Ref, error) {
	if len(b) == 0 {
		return ZeroRef, nil
	}
	c, err := cid.Cast(b)
	if err != nil {
		return ZeroRef, dberr.Wrap(dberr.DecodeError, err, "parsing ref bytes")
	}
	return Ref{c: c}, nil
}

// RefFromString parses a ref's textual (base-encoded CID) form.
func RefFromString(s string) (Ref, error) {
	if s == "" || s == "<empty>" {
		return ZeroRef, nil
	}
	c, err := cid.Decode(s)
	if err != nil {
		return ZeroRef, dberr.Wrap(dberr.DecodeError, err, "parsing ref string")
	}
	return Ref{c: c}, nil
}

// HashBlock computes the Ref that Put would assign to block, without
// storing it. Node stores must agree on this function so that identical
// blocks always produce identical refs (content addressing, idempotent
// puts).
func HashBlock(block []byte) (Ref, error) {
	digest, err := mh.Sum(block, DefaultHashFunc, -1)
	if err != nil {
		return ZeroRef, dberr.Wrap(dberr.InvalidValue, err, "hashing block")
	}
	return Ref{c: cid.NewCidV1(NodeMulticodec, digest)}, nil
}

// Link is an edge in the Merkle-DAG: a child's content address plus an
// advisory size hint the parent can use for budgeting without a fetch
// (spec.md §6: "Link references inside a node embed the target multihash
// plus optional advisory reachable-size").
type Link struct {
	Ref           Ref
	ReachableSize int64
}
