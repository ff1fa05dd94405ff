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

// Package key implements the MerkleDB Lexicoder family: order-preserving
// encodings from typed values to sortable byte strings.
//
// The variant set is closed: bytes, string, integer, long, instant, tuple.
// Adding a variant is a breaking codec change, so it is not left open for
// extension by callers.
package key

import (
	"bytes"

	"github.com/greglook/merkle-db/pkg/dberr"
)

// Key is an opaque, sortable byte string. Ordering is pure lexicographic
// byte comparison.
type Key []byte

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater than
// b, by byte-wise lexicographic comparison.
func Compare(a, b Key) int {
	return bytes.Compare(a, b)
}

// Less reports whether a sorts strictly before b.
func Less(a, b Key) bool {
	return Compare(a, b) < 0
}

// Lexicoder maps typed values to Keys preserving the value's natural
// ordering: for a, b in the coder's domain, Encode(a) <= Encode(b)
// lexicographically iff a <= b in natural order, and Decode(Encode(v)) == v.
type Lexicoder interface {
	// Name identifies the lexicoder variant (e.g. "integer", "tuple").
	Name() string
	Encode(v interface{}) (Key, error)
	Decode(k Key) (interface{}, error)
}

// invalid builds an InvalidValue error for a lexicoder's Encode/Decode.
func invalid(coder string, v interface{}) error {
	return dberr.Newf(dberr.InvalidValue, "%s lexicoder cannot encode %T value %v", coder, v, v)
}

// ByName resolves one of the closed set of built-in lexicoders by its
// declared name, as stored in a table root's `lexicoder` parameter.
func ByName(name string) (Lexicoder, error) {
	switch name {
	case "bytes":
		return BytesCoder{}, nil
	case "string":
		return StringCoder{}, nil
	case "integer":
		return IntegerCoder{}, nil
	case "long":
		return LongCoder{}, nil
	case "instant":
		return InstantCoder{}, nil
	default:
		return nil, dberr.Newf(dberr.InvalidValue, "unrecognized lexicoder %q", name)
	}
}
