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

// Package bloom implements the per-partition membership filter: a
// fixed-size bit array plus k hash functions derived from two 64-bit
// hashes (the second a rehash of the first) mixed with the probe index
// (Kirsch-Mitzenmacher). A
// positive answer may be a false positive; a negative answer never is.
//
// Hashing is done with github.com/cespare/xxhash/v2, adopted from the
// darshanime-pebble example repository (pebble uses xxhash throughout its
// block- and table-level checksums); perkeep.org, this module's primary
// teacher, has no bloom filter or general-purpose hashing package of its
// own to ground this component on.
package bloom

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/greglook/merkle-db/pkg/dberr"
)

// Filter is an immutable bloom filter once built; Insert is the only
// mutator and is only meant to be used while constructing a fresh filter
// before it is attached to a persisted Partition.
type Filter struct {
	bits []uint64 // bit array, word-packed
	m    uint64   // number of bits
	k    uint64   // number of hash probes
	seed uint64   // stable seed mixed into both base hashes
}

// Params bundles the sizing inputs for Create.
type Params struct {
	ExpectedN int     // expected number of inserted items
	FPR       float64 // target false positive rate, e.g. 0.01
	Seed      uint64  // stable seed; 0 is valid and common
}

// Create sizes a new, empty filter for the expected cardinality and target
// false positive rate using the standard optimal-m/k formulas:
//
//	m = ceil(-n*ln(p) / ln(2)^2)
//	k = round(m/n * ln(2))
func Create(p Params) *Filter {
	n := p.ExpectedN
	if n <= 0 {
		n = 1
	}
	fpr := p.FPR
	if fpr <= 0 || fpr >= 1 {
		fpr = 0.01
	}
	m := uint64(math.Ceil(-float64(n) * math.Log(fpr) / (math.Ln2 * math.Ln2)))
	if m < 64 {
		m = 64
	}
	k := uint64(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	words := (m + 63) / 64
	return &Filter{
		bits: make([]uint64, words),
		m:    words * 64,
		k:    k,
		seed: p.Seed,
	}
}

func (f *Filter) hashes(item []byte) (h1, h2 uint64) {
	h1 = xxhash.Sum64(item) ^ f.seed
	// A second, independent-enough hash: rehash the first digest and add
	// the seed, per the standard double-hashing trick.
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], h1)
	h2 = xxhash.Sum64(buf[:]) + f.seed
	if h2 == 0 {
		h2 = 1
	}
	return h1, h2
}

func (f *Filter) probe(item []byte, i uint64) uint64 {
	h1, h2 := f.hashes(item)
	combined := h1 + i*h2
	return combined % f.m
}

// Insert adds item to the filter.
func (f *Filter) Insert(item []byte) {
	for i := uint64(0); i < f.k; i++ {
		bit := f.probe(item, i)
		f.bits[bit/64] |= 1 << (bit % 64)
	}
}

// Contains reports whether item may be present. False positives are
// possible; false negatives are not.
func (f *Filter) Contains(item []byte) bool {
	for i := uint64(0); i < f.k; i++ {
		bit := f.probe(item, i)
		if f.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// NumBits returns the size of the underlying bit array.
func (f *Filter) NumBits() uint64 { return f.m }

// K returns the number of hash probes per operation.
func (f *Filter) K() uint64 { return f.k }

// Seed returns the filter's stable seed.
func (f *Filter) Seed() uint64 { return f.seed }

// Merge bit-ORs two filters of identical size and hash parameters,
// returning a new filter. Both inputs must share m, k, and seed.
func Merge(a, b *Filter) (*Filter, error) {
	if a.m != b.m || a.k != b.k || a.seed != b.seed {
		return nil, dberr.New(dberr.InvalidValue, "bloom: cannot merge filters with differing size/k/seed")
	}
	out := &Filter{
		bits: make([]uint64, len(a.bits)),
		m:    a.m,
		k:    a.k,
		seed: a.seed,
	}
	for i := range out.bits {
		out.bits[i] = a.bits[i] | b.bits[i]
	}
	return out, nil
}

// Triple is the serialized form of a Filter: bits, k, seed.
type Triple struct {
	Bits []byte
	K    uint64
	Seed uint64
}

// Marshal produces the stable serialized triple used in a Partition's
// on-disk representation (spec.md §6: `bloom: [bits, k, seed]`).
func (f *Filter) Marshal() Triple {
	buf := make([]byte, len(f.bits)*8)
	for i, w := range f.bits {
		binary.LittleEndian.PutUint64(buf[i*8:], w)
	}
	return Triple{Bits: buf, K: f.k, Seed: f.seed}
}

// Unmarshal reconstructs a Filter from its serialized triple.
func Unmarshal(t Triple) (*Filter, error) {
	if len(t.Bits)%8 != 0 {
		return nil, dberr.New(dberr.DecodeError, "bloom: bit array length not a multiple of 8")
	}
	words := make([]uint64, len(t.Bits)/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(t.Bits[i*8:])
	}
	return &Filter{
		bits: words,
		m:    uint64(len(words)) * 64,
		k:    t.K,
		seed: t.Seed,
	}, nil
}
