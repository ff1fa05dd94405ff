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

// Package tablet implements the leaf storage unit: a sorted map of keys to
// field-map records, possibly restricted to a declared column family.
package tablet

import (
	"sort"

	"github.com/greglook/merkle-db/pkg/dberr"
	"github.com/greglook/merkle-db/pkg/key"
	"github.com/greglook/merkle-db/pkg/record"
)

func init() {
	storeRegisterTabletType()
}

// Entry pairs a key with its record, the unit every Tablet operation reads
// or writes.
type Entry struct {
	Key    key.Key        `cbor:"key"`
	Record record.Record  `cbor:"record"`
}

// Tablet is an immutable, strictly key-sorted sequence of entries with no
// duplicate keys.
type Tablet struct {
	Entries []Entry `cbor:"entries"`
}

func (*Tablet) NodeType() string { return "tablet" }

// Empty is the canonical zero-entry tablet.
func Empty() *Tablet {
	return &Tablet{}
}

// FromRecords builds a new Tablet from an arbitrary (not necessarily
// sorted) slice of entries, sorting by key and rejecting duplicates.
func FromRecords(entries []Entry) (*Tablet, error) {
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	sort.Slice(cp, func(i, j int) bool { return key.Less(cp[i].Key, cp[j].Key) })
	for i := 1; i < len(cp); i++ {
		if key.Compare(cp[i-1].Key, cp[i].Key) == 0 {
			return nil, dberr.Newf(dberr.InvalidValue, "duplicate key in tablet records")
		}
	}
	return &Tablet{Entries: cp}, nil
}

// ReadAll returns every entry in ascending key order.
func (t *Tablet) ReadAll() []Entry {
	if t == nil {
		return nil
	}
	return t.Entries
}

func (t *Tablet) find(k key.Key) (int, bool) {
	if t == nil {
		return 0, false
	}
	i := sort.Search(len(t.Entries), func(i int) bool { return !key.Less(t.Entries[i].Key, k) })
	if i < len(t.Entries) && key.Compare(t.Entries[i].Key, k) == 0 {
		return i, true
	}
	return i, false
}

// ReadBatch returns the entries present for the requested keys, in
// ascending key order; absent keys are simply omitted.
func (t *Tablet) ReadBatch(keys []key.Key) []Entry {
	if t == nil {
		return nil
	}
	var out []Entry
	for _, k := range keys {
		if i, ok := t.find(k); ok {
			out = append(out, t.Entries[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return key.Less(out[i].Key, out[j].Key) })
	return out
}

// ReadRange returns entries with min <= key <= max, in ascending key
// order. A nil min/max means unbounded on that side.
func (t *Tablet) ReadRange(min, max key.Key) []Entry {
	if t == nil {
		return nil
	}
	lo := 0
	if min != nil {
		lo = sort.Search(len(t.Entries), func(i int) bool { return !key.Less(t.Entries[i].Key, min) })
	}
	hi := len(t.Entries)
	if max != nil {
		hi = sort.Search(len(t.Entries), func(i int) bool { return key.Less(max, t.Entries[i].Key) })
	}
	if lo >= hi {
		return nil
	}
	return t.Entries[lo:hi]
}

// InsertRecords returns a new Tablet with the given entries merged in:
// coinciding keys merge field-wise (new values override old; absent
// fields in the new record remain from the old one), new keys are added.
func (t *Tablet) InsertRecords(entries []Entry) (*Tablet, error) {
	existing := t.ReadAll()
	merged := make(map[string]Entry, len(existing)+len(entries))
	for _, e := range existing {
		merged[string(e.Key)] = e
	}
	for _, e := range entries {
		if old, ok := merged[string(e.Key)]; ok {
			merged[string(e.Key)] = Entry{Key: e.Key, Record: record.Merge(old.Record, e.Record)}
		} else {
			merged[string(e.Key)] = e
		}
	}
	out := make([]Entry, 0, len(merged))
	for _, e := range merged {
		out = append(out, e)
	}
	return FromRecords(out)
}

// RemoveBatch returns a new Tablet without the given keys. If every key is
// removed, RemoveBatch returns nil: callers must handle a null tablet
// (spec.md §4.3 edge case).
func (t *Tablet) RemoveBatch(keys []key.Key) *Tablet {
	remove := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		remove[string(k)] = struct{}{}
	}
	var out []Entry
	for _, e := range t.ReadAll() {
		if _, gone := remove[string(e.Key)]; !gone {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return &Tablet{Entries: out}
}

// RemoveRange returns a new Tablet without keys in [min, max]. Returns nil
// if every key was removed.
func (t *Tablet) RemoveRange(min, max key.Key) *Tablet {
	var out []Entry
	for _, e := range t.ReadAll() {
		inRange := (min == nil || !key.Less(e.Key, min)) && (max == nil || !key.Less(max, e.Key))
		if !inRange {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return &Tablet{Entries: out}
}

// Prune returns a new Tablet with every key whose record is empty removed.
func (t *Tablet) Prune() *Tablet {
	var out []Entry
	for _, e := range t.ReadAll() {
		if !e.Record.IsEmpty() {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return &Tablet{Entries: out}
}

// FirstKey returns the smallest key present, or ok=false if empty.
func (t *Tablet) FirstKey() (key.Key, bool) {
	if t == nil || len(t.Entries) == 0 {
		return nil, false
	}
	return t.Entries[0].Key, true
}

// LastKey returns the largest key present, or ok=false if empty.
func (t *Tablet) LastKey() (key.Key, bool) {
	if t == nil || len(t.Entries) == 0 {
		return nil, false
	}
	return t.Entries[len(t.Entries)-1].Key, true
}

// Len returns the number of entries.
func (t *Tablet) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Entries)
}

// FieldsPresent returns the union of field names across every record in
// the tablet.
func (t *Tablet) FieldsPresent() map[string]struct{} {
	out := make(map[string]struct{})
	for _, e := range t.ReadAll() {
		for f := range e.Record {
			out[f] = struct{}{}
		}
	}
	return out
}

// NthKey returns the key at position i in ascending order.
func (t *Tablet) NthKey(i int) (key.Key, bool) {
	if t == nil || i < 0 || i >= len(t.Entries) {
		return nil, false
	}
	return t.Entries[i].Key, true
}

// Split divides t into a left tablet (keys < splitKey) and a right tablet
// (keys >= splitKey). It fails if splitKey equals an existing key or lies
// outside [FirstKey, LastKey].
func (t *Tablet) Split(splitKey key.Key) (left, right *Tablet, err error) {
	entries := t.ReadAll()
	if len(entries) == 0 {
		return nil, nil, dberr.New(dberr.InvalidValue, "cannot split an empty tablet")
	}
	first, _ := t.FirstKey()
	last, _ := t.LastKey()
	if key.Compare(splitKey, first) <= 0 || key.Compare(splitKey, last) > 0 {
		return nil, nil, dberr.New(dberr.InvalidValue, "split key outside tablet range")
	}
	i := sort.Search(len(entries), func(i int) bool { return !key.Less(entries[i].Key, splitKey) })
	if i < len(entries) && key.Compare(entries[i].Key, splitKey) == 0 {
		return nil, nil, dberr.New(dberr.InvalidValue, "split key equals an existing key")
	}
	// first < splitKey <= last and splitKey matches no entry, so i lands
	// strictly inside (0, len(entries)): both halves are non-empty.
	leftEntries := append([]Entry(nil), entries[:i]...)
	rightEntries := append([]Entry(nil), entries[i:]...)
	return &Tablet{Entries: leftEntries}, &Tablet{Entries: rightEntries}, nil
}

// Join concatenates left and right, requiring left.LastKey < right.FirstKey.
func Join(left, right *Tablet) (*Tablet, error) {
	if left.Len() == 0 {
		return right, nil
	}
	if right.Len() == 0 {
		return left, nil
	}
	ll, _ := left.LastKey()
	rf, _ := right.FirstKey()
	if key.Compare(ll, rf) >= 0 {
		return nil, dberr.New(dberr.InvalidValue, "join requires left.LastKey < right.FirstKey")
	}
	out := make([]Entry, 0, left.Len()+right.Len())
	out = append(out, left.Entries...)
	out = append(out, right.Entries...)
	return &Tablet{Entries: out}, nil
}
