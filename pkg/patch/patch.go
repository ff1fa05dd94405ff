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

// Package patch implements the small sorted overlay of pending changes
// buffered at a table root to amortize updates against the partition tree.
package patch

import (
	"sort"

	"github.com/greglook/merkle-db/pkg/dberr"
	"github.com/greglook/merkle-db/pkg/key"
	"github.com/greglook/merkle-db/pkg/record"
	"github.com/greglook/merkle-db/pkg/store"
	"github.com/greglook/merkle-db/pkg/tablet"
)

func init() {
	store.RegisterNodeType("patch", func() store.Node { return &Patch{} })
}

// Change is one pending mutation: either a record (possibly touching only
// some fields, merged field-wise over whatever the layer below holds) or a
// tombstone that removes the key outright regardless of what's below.
type Change struct {
	Key       key.Key        `cbor:"key"`
	Record    record.Record  `cbor:"record,omitempty"`
	Tombstone bool           `cbor:"tombstone,omitempty"`
}

// Patch is an immutable, key-sorted sequence of Changes with no duplicate
// keys.
type Patch struct {
	Changes []Change `cbor:"changes"`
}

func (*Patch) NodeType() string { return "patch" }

// Empty is the canonical empty patch.
func Empty() *Patch {
	return &Patch{}
}

// FromChanges builds a Patch from an arbitrary-order slice of changes,
// sorting by key and rejecting duplicate keys.
func FromChanges(changes []Change) (*Patch, error) {
	cp := make([]Change, len(changes))
	copy(cp, changes)
	sort.Slice(cp, func(i, j int) bool { return key.Less(cp[i].Key, cp[j].Key) })
	for i := 1; i < len(cp); i++ {
		if key.Compare(cp[i-1].Key, cp[i].Key) == 0 {
			return nil, dberr.New(dberr.InvalidValue, "duplicate key in patch changes")
		}
	}
	return &Patch{Changes: cp}, nil
}

// Len reports the number of pending changes.
func (p *Patch) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Changes)
}

// Get returns the change recorded for k, if any.
func (p *Patch) Get(k key.Key) (Change, bool) {
	if p == nil {
		return Change{}, false
	}
	i := sort.Search(len(p.Changes), func(i int) bool { return !key.Less(p.Changes[i].Key, k) })
	if i < len(p.Changes) && key.Compare(p.Changes[i].Key, k) == 0 {
		return p.Changes[i], true
	}
	return Change{}, false
}

// ChangesInRange returns the changes with min <= key <= max, ascending.
// A nil bound is unbounded on that side.
func (p *Patch) ChangesInRange(min, max key.Key) []Change {
	if p == nil {
		return nil
	}
	lo := 0
	if min != nil {
		lo = sort.Search(len(p.Changes), func(i int) bool { return !key.Less(p.Changes[i].Key, min) })
	}
	hi := len(p.Changes)
	if max != nil {
		hi = sort.Search(len(p.Changes), func(i int) bool { return key.Less(max, p.Changes[i].Key) })
	}
	if lo >= hi {
		return nil
	}
	return p.Changes[lo:hi]
}

// MergeChange combines an older change with a newer one for the same key:
// a tombstone wins outright (it drops any fields the older change
// carried), otherwise records merge field-wise (spec.md §4.7's "existing
// pending entries for the same key merge field-wise"). This is the single
// per-key rule every layering operation in this package and in
// pkg/table's read path builds on.
func MergeChange(older, newer Change) Change {
	if newer.Tombstone {
		return newer
	}
	if older.Tombstone {
		return newer
	}
	return Change{Key: newer.Key, Record: record.Merge(older.Record, newer.Record)}
}

// MergeLayers overlays upper atop lower, two ascending-key change
// sequences, applying MergeChange at each coinciding key. Unlike Apply,
// tombstones are preserved in the output rather than dropped: the result
// is itself a layer, suitable for overlaying with one more layer above it
// (pkg/table folds tree, patch, and pending this way, one overlay at a
// time).
func MergeLayers(lower, upper []Change) []Change {
	li, ui := 0, 0
	var out []Change
	for li < len(lower) || ui < len(upper) {
		switch {
		case ui >= len(upper):
			out = append(out, lower[li])
			li++
		case li >= len(lower):
			out = append(out, upper[ui])
			ui++
		default:
			cmp := key.Compare(lower[li].Key, upper[ui].Key)
			switch {
			case cmp < 0:
				out = append(out, lower[li])
				li++
			case cmp > 0:
				out = append(out, upper[ui])
				ui++
			default:
				out = append(out, MergeChange(lower[li], upper[ui]))
				li++
				ui++
			}
		}
	}
	return out
}

// Merge combines an older patch with a newer set of changes (e.g. newly
// flushed pending edits layered atop the table's existing persisted
// patch), producing a new sorted Patch.
func Merge(older *Patch, newer []Change) (*Patch, error) {
	sortedNewer := append([]Change(nil), newer...)
	sort.Slice(sortedNewer, func(i, j int) bool { return key.Less(sortedNewer[i].Key, sortedNewer[j].Key) })
	merged := MergeLayers(older.ChangesInRange(nil, nil), sortedNewer)
	return FromChanges(merged)
}

// Apply overlays p's changes atop base, an ascending-key sequence of
// tablet entries, producing a merged ascending-key sequence: tombstoned
// keys are dropped regardless of what base holds for them; a non-tombstone
// change's record merges field-wise over base's record for that key (or
// stands alone if base has no entry for that key).
func (p *Patch) Apply(base []tablet.Entry) []tablet.Entry {
	baseChanges := make([]Change, len(base))
	for i, e := range base {
		baseChanges[i] = Change{Key: e.Key, Record: e.Record}
	}
	merged := MergeLayers(baseChanges, p.ChangesInRange(nil, nil))
	out := make([]tablet.Entry, 0, len(merged))
	for _, c := range merged {
		if c.Tombstone {
			continue
		}
		out = append(out, tablet.Entry{Key: c.Key, Record: c.Record})
	}
	return out
}
