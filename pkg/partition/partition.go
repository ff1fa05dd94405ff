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

// Package partition implements the data-tree leaf: a base tablet plus
// zero or more column-family tablets covering a contiguous key range, a
// membership bloom filter, and the bookkeeping (first/last key, counts,
// size) the index above it relies on.
package partition

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/greglook/merkle-db/pkg/bloom"
	"github.com/greglook/merkle-db/pkg/dberr"
	"github.com/greglook/merkle-db/pkg/key"
	"github.com/greglook/merkle-db/pkg/patch"
	"github.com/greglook/merkle-db/pkg/record"
	"github.com/greglook/merkle-db/pkg/store"
	"github.com/greglook/merkle-db/pkg/tablet"
)

func init() {
	store.RegisterNodeType("partition", func() store.Node { return &Partition{} })
}

// baseFamily is the reserved family key for the tablet holding every
// record's key plus any field not claimed by a declared family.
const baseFamily = ""

// Params is the slice of table parameters a partition needs to build and
// update itself: the per-partition record cap, the family schema, and the
// bloom filter's target false-positive rate.
type Params struct {
	Limit     int
	Families  record.Families
	BloomFPR  float64
}

// Partition is the immutable on-disk leaf node.
type Partition struct {
	FirstKeyField   key.Key               `cbor:"first_key"`
	LastKeyField    key.Key               `cbor:"last_key"`
	RecordCount     int                   `cbor:"record_count"`
	Size            int64                 `cbor:"size"`
	Bloom           bloom.Triple          `cbor:"bloom"`
	Tablets         map[string]store.Link `cbor:"tablets"`
	MembershipCount int                   `cbor:"membership_count"`
}

func (*Partition) NodeType() string { return "partition" }

func (p *Partition) FirstKey() key.Key { return p.FirstKeyField }
func (p *Partition) LastKey() key.Key  { return p.LastKeyField }
func (p *Partition) Count() int        { return p.RecordCount }
func (p *Partition) ByteSize() int64   { return p.Size }

// Covers reports whether k falls within [FirstKey, LastKey].
func (p *Partition) Covers(k key.Key) bool {
	return key.Compare(p.FirstKeyField, k) <= 0 && key.Compare(k, p.LastKeyField) <= 0
}

// Overlaps reports whether [min,max] (nil = unbounded) intersects p's
// range.
func (p *Partition) Overlaps(min, max key.Key) bool {
	if max != nil && key.Compare(max, p.FirstKeyField) < 0 {
		return false
	}
	if min != nil && key.Compare(p.LastKeyField, min) < 0 {
		return false
	}
	return true
}

func putTablet(ctx context.Context, ns store.NodeStore, tb *tablet.Tablet) (store.Link, error) {
	if tb.Len() == 0 {
		return store.Link{}, nil
	}
	ref, err := ns.Put(ctx, tb)
	if err != nil {
		return store.Link{}, dberr.Wrap(dberr.StoreUnavailable, err, "storing tablet")
	}
	size, err := ns.Size(ctx, ref)
	if err != nil {
		size = 0
	}
	return store.Link{Ref: ref, ReachableSize: size}, nil
}

func loadTablet(ctx context.Context, ns store.NodeStore, link store.Link) (*tablet.Tablet, error) {
	if link.Ref.IsZero() {
		return tablet.Empty(), nil
	}
	n, err := ns.Get(ctx, link.Ref)
	if err != nil {
		return nil, dberr.Wrap(dberr.StoreUnavailable, err, "loading tablet")
	}
	tb, ok := n.(*tablet.Tablet)
	if !ok {
		return nil, dberr.Newf(dberr.TreeCorrupt, "expected tablet node, got %T", n)
	}
	return tb, nil
}

// loadFamilyTablets fetches every non-base family tablet fields requires,
// concurrently (a partition with several declared families otherwise pays
// one round trip per family serially): an errgroup runs one goroutine per
// family tablet, with no cap on their number, and surfaces the first load
// error, while each goroutine writes to its own map slot guarded by a mutex.
func loadFamilyTablets(ctx context.Context, ns store.NodeStore, p *Partition, params Params, fields map[string]struct{}) (map[string]*tablet.Tablet, error) {
	fams := familiesFor(params, fields)
	out := make(map[string]*tablet.Tablet, len(fams))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for fam := range fams {
		if fam == baseFamily {
			continue
		}
		link, ok := p.Tablets[fam]
		if !ok {
			continue
		}
		fam, link := fam, link
		g.Go(func() error {
			tb, err := loadTablet(gctx, ns, link)
			if err != nil {
				return err
			}
			mu.Lock()
			out[fam] = tb
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Build splits entries (sorted, length <= params.Limit) into family
// projections, persists each resulting tablet, and returns the new
// Partition node.
func Build(ctx context.Context, ns store.NodeStore, params Params, entries []tablet.Entry) (*Partition, error) {
	if len(entries) == 0 {
		return nil, dberr.New(dberr.InvalidValue, "cannot build an empty partition")
	}
	sorted := make([]tablet.Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return key.Less(sorted[i].Key, sorted[j].Key) })
	for i := 1; i < len(sorted); i++ {
		if key.Compare(sorted[i-1].Key, sorted[i].Key) == 0 {
			return nil, dberr.New(dberr.InvalidValue, "duplicate key building partition")
		}
	}

	byFamily := make(map[string][]tablet.Entry)
	for _, e := range sorted {
		frags := record.SplitFamilies(e.Record, params.Families)
		for fam, frag := range frags {
			if fam != baseFamily && len(frag) == 0 {
				continue
			}
			byFamily[fam] = append(byFamily[fam], tablet.Entry{Key: e.Key, Record: frag})
		}
	}

	tablets := make(map[string]store.Link, len(byFamily))
	var totalSize int64
	for fam, famEntries := range byFamily {
		tb, err := tablet.FromRecords(famEntries)
		if err != nil {
			return nil, err
		}
		link, err := putTablet(ctx, ns, tb)
		if err != nil {
			return nil, err
		}
		tablets[fam] = link
		totalSize += link.ReachableSize
	}

	bf := bloom.Create(bloom.Params{ExpectedN: len(sorted), FPR: params.BloomFPR})
	for _, e := range sorted {
		bf.Insert(e.Key)
	}

	return &Partition{
		FirstKeyField:   sorted[0].Key,
		LastKeyField:    sorted[len(sorted)-1].Key,
		RecordCount:     len(sorted),
		Size:            totalSize,
		Bloom:           bf.Marshal(),
		Tablets:         tablets,
		MembershipCount: len(sorted),
	}, nil
}

func familiesFor(params Params, fields map[string]struct{}) map[string]struct{} {
	out := map[string]struct{}{baseFamily: {}}
	if fields == nil {
		for fam := range params.Families {
			out[fam] = struct{}{}
		}
		return out
	}
	for fam, famFields := range params.Families {
		for f := range famFields {
			if _, want := fields[f]; want {
				out[fam] = struct{}{}
				break
			}
		}
	}
	return out
}

// ReadAll returns every record in the partition, merged across its base
// and family tablets, optionally projected to fields. Only the tablets
// whose family intersects fields are loaded (fields == nil means "all
// fields", loading every tablet).
func ReadAll(ctx context.Context, ns store.NodeStore, params Params, p *Partition, fields map[string]struct{}) ([]tablet.Entry, error) {
	base, err := loadTablet(ctx, ns, p.Tablets[baseFamily])
	if err != nil {
		return nil, err
	}
	merged := make([]tablet.Entry, len(base.Entries))
	index := make(map[string]int, len(base.Entries))
	for i, e := range base.Entries {
		merged[i] = tablet.Entry{Key: e.Key, Record: e.Record.Clone()}
		index[string(e.Key)] = i
	}

	famTablets, err := loadFamilyTablets(ctx, ns, p, params, fields)
	if err != nil {
		return nil, err
	}
	for fam, tb := range famTablets {
		for _, e := range tb.Entries {
			i, ok := index[string(e.Key)]
			if !ok {
				return nil, dberr.Newf(dberr.TreeCorrupt, "family %q tablet has key not present in base tablet", fam)
			}
			merged[i].Record = record.Merge(merged[i].Record, e.Record)
		}
	}

	if fields != nil {
		for i := range merged {
			merged[i].Record = record.Project(merged[i].Record, fields)
		}
	}
	return merged, nil
}

// ReadBatch filters keys through the bloom filter, then reads the
// surviving candidates from the base tablet plus whichever family tablets
// fields requires, returning present entries in key order.
func ReadBatch(ctx context.Context, ns store.NodeStore, params Params, p *Partition, keys []key.Key, fields map[string]struct{}) ([]tablet.Entry, error) {
	bf, err := bloom.Unmarshal(p.Bloom)
	if err != nil {
		return nil, dberr.Wrap(dberr.DecodeError, err, "decoding partition bloom filter")
	}
	var candidates []key.Key
	for _, k := range keys {
		if !p.Covers(k) {
			continue
		}
		if bf.Contains(k) {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	base, err := loadTablet(ctx, ns, p.Tablets[baseFamily])
	if err != nil {
		return nil, err
	}
	present := base.ReadBatch(candidates)
	merged := make([]tablet.Entry, len(present))
	index := make(map[string]int, len(present))
	for i, e := range present {
		merged[i] = tablet.Entry{Key: e.Key, Record: e.Record.Clone()}
		index[string(e.Key)] = i
	}

	famTablets, err := loadFamilyTablets(ctx, ns, p, params, fields)
	if err != nil {
		return nil, err
	}
	for _, tb := range famTablets {
		for _, e := range tb.ReadBatch(candidates) {
			if i, ok := index[string(e.Key)]; ok {
				merged[i].Record = record.Merge(merged[i].Record, e.Record)
			}
		}
	}

	if fields != nil {
		for i := range merged {
			merged[i].Record = record.Project(merged[i].Record, fields)
		}
	}
	return merged, nil
}

// ReadRange is ReadAll bounded to [min, max] (nil = unbounded on that
// side), read directly off each tablet's range rather than filtering a
// full scan.
func ReadRange(ctx context.Context, ns store.NodeStore, params Params, p *Partition, min, max key.Key, fields map[string]struct{}) ([]tablet.Entry, error) {
	base, err := loadTablet(ctx, ns, p.Tablets[baseFamily])
	if err != nil {
		return nil, err
	}
	baseEntries := base.ReadRange(min, max)
	merged := make([]tablet.Entry, len(baseEntries))
	index := make(map[string]int, len(baseEntries))
	for i, e := range baseEntries {
		merged[i] = tablet.Entry{Key: e.Key, Record: e.Record.Clone()}
		index[string(e.Key)] = i
	}

	famTablets, err := loadFamilyTablets(ctx, ns, p, params, fields)
	if err != nil {
		return nil, err
	}
	for _, tb := range famTablets {
		for _, e := range tb.ReadRange(min, max) {
			if i, ok := index[string(e.Key)]; ok {
				merged[i].Record = record.Merge(merged[i].Record, e.Record)
			}
		}
	}

	if fields != nil {
		for i := range merged {
			merged[i].Record = record.Project(merged[i].Record, fields)
		}
	}
	return merged, nil
}

// Result is the outcome of Update: either one or more replacement
// partitions (overflow split into several), or an empty/underfull result
// the caller (the index) must reconcile with a sibling.
type Result struct {
	Partitions []*Partition
	// Underflow is set when Partitions holds exactly one partition whose
	// record count fell below params.Limit/2, or is empty (every record
	// removed): the caller should try to merge it with an adjacent
	// sibling or, for the empty case, drop it outright.
	Underflow bool
}

// Update applies a sorted sequence of changes (inserts/tombstones) to p
// (nil means "no partition yet, build fresh from changes alone"),
// returning one or more new partitions.
func Update(ctx context.Context, ns store.NodeStore, params Params, p *Partition, changes []patch.Change) (Result, error) {
	var current []tablet.Entry
	if p != nil {
		var err error
		current, err = ReadAll(ctx, ns, params, p, nil)
		if err != nil {
			return Result{}, err
		}
	}
	pt, err := patch.FromChanges(changes)
	if err != nil {
		return Result{}, err
	}
	merged := pt.Apply(current)

	if len(merged) == 0 {
		return Result{Underflow: true}, nil
	}

	if len(merged) <= params.Limit {
		np, err := Build(ctx, ns, params, merged)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Partitions: []*Partition{np},
			Underflow:  len(merged) < params.Limit/2,
		}, nil
	}

	chunks := splitEntries(merged, params.Limit)
	out := make([]*Partition, 0, len(chunks))
	for _, chunk := range chunks {
		np, err := Build(ctx, ns, params, chunk)
		if err != nil {
			return Result{}, err
		}
		out = append(out, np)
	}
	return Result{Partitions: out}, nil
}

// splitEntries recursively halves entries until every chunk is within
// limit, putting the extra record in the left half on an odd split
// (spec.md §9's resolved tie-break).
func splitEntries(entries []tablet.Entry, limit int) [][]tablet.Entry {
	if len(entries) <= limit {
		return [][]tablet.Entry{entries}
	}
	mid := (len(entries) + 1) / 2
	left := splitEntries(entries[:mid], limit)
	right := splitEntries(entries[mid:], limit)
	return append(left, right...)
}

// Combine merges two adjacent sibling partitions, at least one of them
// under-full (left must precede right), into one or more replacement
// partitions, splitting again
// if the combined record count exceeds params.Limit. Used by the index's
// sibling-merge pass when Update reports Underflow.
func Combine(ctx context.Context, ns store.NodeStore, params Params, left, right *Partition) (Result, error) {
	leftEntries, err := ReadAll(ctx, ns, params, left, nil)
	if err != nil {
		return Result{}, err
	}
	rightEntries, err := ReadAll(ctx, ns, params, right, nil)
	if err != nil {
		return Result{}, err
	}
	merged := append(append([]tablet.Entry(nil), leftEntries...), rightEntries...)
	if len(merged) == 0 {
		return Result{Underflow: true}, nil
	}
	if len(merged) <= params.Limit {
		np, err := Build(ctx, ns, params, merged)
		if err != nil {
			return Result{}, err
		}
		return Result{Partitions: []*Partition{np}}, nil
	}
	chunks := splitEntries(merged, params.Limit)
	out := make([]*Partition, 0, len(chunks))
	for _, chunk := range chunks {
		np, err := Build(ctx, ns, params, chunk)
		if err != nil {
			return Result{}, err
		}
		out = append(out, np)
	}
	return Result{Partitions: out}, nil
}
