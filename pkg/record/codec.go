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

package record

import (
	"github.com/greglook/merkle-db/pkg/dberr"
	"github.com/greglook/merkle-db/pkg/key"
)

// PrimaryKeySpec names the field, or ordered tuple of fields, that forms a
// table's primary key. A single-field spec passes that field's raw value
// to the table's Lexicoder; a multi-field spec passes the ordered slice of
// values as a []interface{}, so the table's Lexicoder must itself be a
// key.TupleCoder with one member per field in that case.
type PrimaryKeySpec struct {
	Fields []string
}

func Single(field string) PrimaryKeySpec {
	return PrimaryKeySpec{Fields: []string{field}}
}

func Composite(fields ...string) PrimaryKeySpec {
	return PrimaryKeySpec{Fields: fields}
}

// Extract pulls the primary key value(s) out of r, per spec.
func (pk PrimaryKeySpec) Extract(r Record) (interface{}, error) {
	if len(pk.Fields) == 0 {
		return nil, dberr.New(dberr.InvalidValue, "primary key spec has no fields")
	}
	if len(pk.Fields) == 1 {
		v, ok := r[pk.Fields[0]]
		if !ok {
			return nil, dberr.Newf(dberr.InvalidValue, "record missing primary key field %q", pk.Fields[0])
		}
		return v, nil
	}
	vals := make([]interface{}, len(pk.Fields))
	for i, f := range pk.Fields {
		v, ok := r[f]
		if !ok {
			return nil, dberr.Newf(dberr.InvalidValue, "record missing primary key field %q", f)
		}
		vals[i] = v
	}
	return vals, nil
}

// EncodeEntry extracts r's primary key per pk, encodes it with coder, and
// returns the (key, record) entry ready for tablet storage.
func EncodeEntry(coder key.Lexicoder, pk PrimaryKeySpec, r Record) (key.Key, Record, error) {
	if err := ValidateRecord(r); err != nil {
		return nil, nil, err
	}
	v, err := pk.Extract(r)
	if err != nil {
		return nil, nil, err
	}
	k, err := coder.Encode(v)
	if err != nil {
		return nil, nil, err
	}
	return k, r, nil
}

// DecodeEntry is the inverse of EncodeEntry for callers that need the
// primary key value(s) back out of a stored key (e.g. building a synthetic
// record when all fields live in family tablets and the base only proves
// key membership). The returned Record holds only the primary-key field(s).
func DecodeEntry(coder key.Lexicoder, pk PrimaryKeySpec, k key.Key) (Record, error) {
	v, err := coder.Decode(k)
	if err != nil {
		return nil, err
	}
	out := make(Record, len(pk.Fields))
	if len(pk.Fields) == 1 {
		out[pk.Fields[0]] = v
		return out, nil
	}
	vals, ok := v.([]interface{})
	if !ok || len(vals) != len(pk.Fields) {
		return nil, dberr.New(dberr.DecodeError, "decoded composite key does not match primary key field count")
	}
	for i, f := range pk.Fields {
		out[f] = vals[i]
	}
	return out, nil
}

// Families declares the field->family assignment for a table: each family
// owns a disjoint set of fields; fields absent from every family belong to
// the base tablet.
type Families map[string]map[string]struct{}

// SplitFamilies partitions r's fields into per-family fragments plus a
// "" (base) fragment for fields not claimed by any family. Every
// fragment, including the base, only contains fields actually present in
// r.
func SplitFamilies(r Record, families Families) map[string]Record {
	fieldFamily := make(map[string]string, len(r))
	for name, fields := range families {
		for f := range fields {
			fieldFamily[f] = name
		}
	}
	out := map[string]Record{"": {}}
	for field, v := range r {
		fam := fieldFamily[field]
		if _, ok := out[fam]; !ok {
			out[fam] = Record{}
		}
		out[fam][field] = v
	}
	return out
}

// ValidateFamilies checks that the spec.md §3 table-root invariant holds:
// every field listed in any family appears in exactly one family.
func ValidateFamilies(families Families) error {
	seen := make(map[string]string)
	for name, fields := range families {
		for f := range fields {
			if prev, ok := seen[f]; ok {
				return dberr.Newf(dberr.InvalidValue, "field %q assigned to both family %q and %q", f, prev, name)
			}
			seen[f] = name
		}
	}
	return nil
}
