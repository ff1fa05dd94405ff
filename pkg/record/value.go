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

// Package record defines the Record field-map type shared by tablets,
// patches and partitions, the primary-key/lexicoder entry codec, and the
// field-projection and family-splitting helpers.
package record

import (
	"github.com/greglook/merkle-db/pkg/dberr"
)

// Value is a field value. Its dynamic type is restricted to the closed set
// below; this is the spec's Open-Question resolution of "value opaque to
// the codec" for a statically typed implementation: a runtime-checked
// closed set stands in for a sum type, the same choice encoding/json makes
// for its own interface{}-typed values.
//
// Allowed dynamic types: nil, bool, int64, float64, []byte, string,
// []Value, map[string]Value.
type Value = interface{}

// Record is a field name to Value mapping. The empty Record is valid and
// represents a key with no field data recorded under it (e.g. before the
// first non-deleted field arrives, or a base-tablet entry whose fields all
// live in family tablets).
type Record map[string]Value

// Validate checks that v and any of its nested elements belong to the
// closed Value type set.
func Validate(v Value) error {
	switch x := v.(type) {
	case nil, bool, int64, float64, []byte, string:
		return nil
	case []Value:
		for _, e := range x {
			if err := Validate(e); err != nil {
				return err
			}
		}
		return nil
	case map[string]Value:
		for _, e := range x {
			if err := Validate(e); err != nil {
				return err
			}
		}
		return nil
	default:
		return dberr.Newf(dberr.InvalidValue, "value of type %T is not a valid record field value", v)
	}
}

// ValidateRecord checks every field in r.
func ValidateRecord(r Record) error {
	for field, v := range r {
		if err := Validate(v); err != nil {
			return dberr.Wrap(dberr.InvalidValue, err, "field "+field)
		}
	}
	return nil
}

// Clone returns a shallow copy of r (field values are not deep-copied;
// Values are treated as immutable once stored).
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a new Record with fields of patch overriding fields of
// base for coinciding field names; fields present only in base remain.
// This is the field-wise merge semantics shared by Tablet.InsertRecords
// (spec.md §4.3) and Table.Insert's pending-map accumulation (spec.md
// §4.7), implemented once here and reused by both.
func Merge(base, patch Record) Record {
	out := make(Record, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Project retains only the named fields, in no particular order (Record is
// a map). If fields is nil, r is returned unchanged (no projection).
func Project(r Record, fields map[string]struct{}) Record {
	if fields == nil {
		return r
	}
	out := make(Record, len(fields))
	for f := range fields {
		if v, ok := r[f]; ok {
			out[f] = v
		}
	}
	return out
}

// IsEmpty reports whether r has no fields, the condition Tablet.Prune uses
// to decide whether to drop a key entirely.
func (r Record) IsEmpty() bool {
	return len(r) == 0
}
