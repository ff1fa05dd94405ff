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

// Package table implements the table root: table parameters, the
// partition tree (via pkg/index), the patch buffer (via pkg/patch), and
// the in-memory pending map, wired together behind the public table API
// (create, read, scan, insert, delete, flush, optimize, alter-families).
package table

import (
	"context"
	"log"
	"sort"

	"github.com/greglook/merkle-db/pkg/dberr"
	"github.com/greglook/merkle-db/pkg/index"
	"github.com/greglook/merkle-db/pkg/key"
	"github.com/greglook/merkle-db/pkg/partition"
	"github.com/greglook/merkle-db/pkg/patch"
	"github.com/greglook/merkle-db/pkg/record"
	"github.com/greglook/merkle-db/pkg/store"
	"github.com/greglook/merkle-db/pkg/tablet"
)

const (
	defaultFanOut        = 256
	defaultPartitionLimit = 1000
	defaultPatchLimit    = 100
)

// Params are a table's fixed configuration, persisted with every table
// root node (spec.md §3, §6 "Table params").
type Params struct {
	PrimaryKey     record.PrimaryKeySpec
	Lexicoder      key.Lexicoder
	FanOut         int
	PartitionLimit int
	PatchLimit     int
	Families       record.Families
	// Logger receives diagnostic lines when Flush buffers or applies the
	// patch and when Optimize repacks the data tree. A nil
	// Logger disables logging.
	Logger *log.Logger
}

func (p Params) withDefaults() Params {
	if p.FanOut <= 0 {
		p.FanOut = defaultFanOut
	}
	if p.PartitionLimit <= 0 {
		p.PartitionLimit = defaultPartitionLimit
	}
	if p.PatchLimit <= 0 {
		p.PatchLimit = defaultPatchLimit
	}
	return p
}

func (p Params) indexParams() index.Params {
	return index.Params{
		FanOut: p.FanOut,
		Partition: partition.Params{
			Limit:    p.PartitionLimit,
			Families: p.Families,
			BloomFPR: 0.01,
		},
	}
}

func (p Params) logf(format string, args ...interface{}) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
	}
}

// ReadOptions controls field projection on point/scan reads.
type ReadOptions struct {
	// Fields, if non-nil, restricts the returned records to these field
	// names. A non-nil empty set returns records with no fields (but
	// still reports which keys exist), the mechanism table.Keys uses to
	// avoid loading family tablets.
	Fields map[string]struct{}
}

// ScanOptions bounds and paginates a Scan/Keys call.
type ScanOptions struct {
	Min, Max key.Key
	Offset   int
	Limit    int
	Reverse  bool
	Fields   map[string]struct{}
}

// Table is an immutable snapshot of a table value: its parameters, a link
// to the persisted data tree, a link to the persisted patch (if any), and
// the in-memory pending map of not-yet-flushed changes. Every mutating
// operation returns a new Table; the receiver is never modified.
type Table struct {
	Params    Params
	Data      index.Root
	PatchLink store.Link
	pending   map[string]patch.Change
}

// Create returns an empty table value for params, after validating its
// family schema (spec.md §3's "every field listed in any family appears
// in exactly one family").
func Create(params Params) (*Table, error) {
	if err := record.ValidateFamilies(params.Families); err != nil {
		return nil, err
	}
	return &Table{Params: params.withDefaults()}, nil
}

// State reports the table patch lifecycle state (spec.md §4.7).
func (t *Table) State() string {
	switch {
	case len(t.pending) > 0:
		return "STAGED"
	case !t.PatchLink.Ref.IsZero():
		return "BUFFERED"
	case t.Data.IsEmpty():
		return "EMPTY"
	default:
		return "FLUSHED_TO_TREE"
	}
}

func (t *Table) clone() *Table {
	pending := make(map[string]patch.Change, len(t.pending))
	for k, v := range t.pending {
		pending[k] = v
	}
	return &Table{Params: t.Params, Data: t.Data, PatchLink: t.PatchLink, pending: pending}
}

func (t *Table) loadPatch(ctx context.Context, ns store.NodeStore) (*patch.Patch, error) {
	if t.PatchLink.Ref.IsZero() {
		return patch.Empty(), nil
	}
	n, err := ns.Get(ctx, t.PatchLink.Ref)
	if err != nil {
		return nil, dberr.Wrap(dberr.StoreUnavailable, err, "loading table patch")
	}
	p, ok := n.(*patch.Patch)
	if !ok {
		return nil, dberr.Newf(dberr.TreeCorrupt, "expected patch node, got %T", n)
	}
	return p, nil
}

func (t *Table) pendingSorted() []patch.Change {
	out := make([]patch.Change, 0, len(t.pending))
	for _, c := range t.pending {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return key.Less(out[i].Key, out[j].Key) })
	return out
}

// encodeKey encodes a raw primary-key value (as returned by
// record.PrimaryKeySpec.Extract, or supplied directly to Delete) with the
// table's lexicoder.
func (t *Table) encodeKey(pk interface{}) (key.Key, error) {
	return t.Params.Lexicoder.Encode(pk)
}

// resolveOne returns the current merged record for k, consulting pending,
// then patch, then the data tree, folding layers field-wise per
// patch.MergeChange. ok is false if the key is absent or tombstoned.
func (t *Table) resolveOne(ctx context.Context, ns store.NodeStore, k key.Key, opts ReadOptions) (record.Record, bool, error) {
	var acc patch.Change
	have := false

	parts, err := index.FindPartitionRange(ctx, ns, t.Data, k, k)
	if err != nil {
		return nil, false, err
	}
	for _, p := range parts {
		entries, err := partition.ReadBatch(ctx, ns, t.Params.indexParams().Partition, p, []key.Key{k}, opts.Fields)
		if err != nil {
			return nil, false, err
		}
		if len(entries) == 1 {
			acc = patch.Change{Key: k, Record: entries[0].Record}
			have = true
		}
	}

	pt, err := t.loadPatch(ctx, ns)
	if err != nil {
		return nil, false, err
	}
	if c, ok := pt.Get(k); ok {
		if have {
			acc = patch.MergeChange(acc, c)
		} else {
			acc = c
		}
		have = true
	}

	if c, ok := t.pending[string(k)]; ok {
		if have {
			acc = patch.MergeChange(acc, c)
		} else {
			acc = c
		}
		have = true
	}

	if !have || acc.Tombstone {
		return nil, false, nil
	}
	return record.Project(acc.Record, opts.Fields), true, nil
}

// ReadBatch looks up the records for the given primary-key values,
// returning a result slice parallel to keys (nil entries mark absent or
// deleted keys).
func (t *Table) ReadBatch(ctx context.Context, ns store.NodeStore, pkValues []interface{}, opts ReadOptions) ([]record.Record, error) {
	out := make([]record.Record, len(pkValues))
	for i, pk := range pkValues {
		k, err := t.encodeKey(pk)
		if err != nil {
			return nil, err
		}
		r, ok, err := t.resolveOne(ctx, ns, k, opts)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = r
		}
	}
	return out, nil
}

// Scan returns every record in [Min, Max] (nil bound = unbounded), 3-way
// merging the data tree, the persisted patch, and the pending map, then
// applying offset/limit/reverse/field projection.
func (t *Table) Scan(ctx context.Context, ns store.NodeStore, opts ScanOptions) ([]tablet.Entry, error) {
	parts, err := index.FindPartitionRange(ctx, ns, t.Data, opts.Min, opts.Max)
	if err != nil {
		return nil, err
	}
	var baseChanges []patch.Change
	for _, p := range parts {
		entries, err := partition.ReadRange(ctx, ns, t.Params.indexParams().Partition, p, opts.Min, opts.Max, opts.Fields)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			baseChanges = append(baseChanges, patch.Change{Key: e.Key, Record: e.Record})
		}
	}

	pt, err := t.loadPatch(ctx, ns)
	if err != nil {
		return nil, err
	}
	patchChanges := pt.ChangesInRange(opts.Min, opts.Max)

	var pendingChanges []patch.Change
	for _, c := range t.pendingSorted() {
		if opts.Min != nil && key.Less(c.Key, opts.Min) {
			continue
		}
		if opts.Max != nil && key.Less(opts.Max, c.Key) {
			continue
		}
		pendingChanges = append(pendingChanges, c)
	}

	merged := patch.MergeLayers(patch.MergeLayers(baseChanges, patchChanges), pendingChanges)

	out := make([]tablet.Entry, 0, len(merged))
	for _, c := range merged {
		if c.Tombstone {
			continue
		}
		out = append(out, tablet.Entry{Key: c.Key, Record: record.Project(c.Record, opts.Fields)})
	}

	if opts.Reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Keys is Scan projected to no fields, which skips loading every family
// tablet and returns only the base tablet's key membership.
func (t *Table) Keys(ctx context.Context, ns store.NodeStore, opts ScanOptions) ([]key.Key, error) {
	opts.Fields = map[string]struct{}{}
	entries, err := t.Scan(ctx, ns, opts)
	if err != nil {
		return nil, err
	}
	out := make([]key.Key, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out, nil
}

// Insert folds records into pending, keyed by primary key (spec.md §4.7).
// A record whose key is already pending merges field-wise with it.
func (t *Table) Insert(records []record.Record) (*Table, error) {
	next := t.clone()
	for _, r := range records {
		k, rec, err := record.EncodeEntry(t.Params.Lexicoder, t.Params.PrimaryKey, r)
		if err != nil {
			return nil, err
		}
		if old, ok := next.pending[string(k)]; ok {
			next.pending[string(k)] = patch.MergeChange(old, patch.Change{Key: k, Record: rec})
		} else {
			next.pending[string(k)] = patch.Change{Key: k, Record: rec}
		}
	}
	return next, nil
}

// Delete tombstones the given primary-key values in pending.
func (t *Table) Delete(pkValues []interface{}) (*Table, error) {
	next := t.clone()
	for _, pk := range pkValues {
		k, err := t.encodeKey(pk)
		if err != nil {
			return nil, err
		}
		next.pending[string(k)] = patch.Change{Key: k, Tombstone: true}
	}
	return next, nil
}

// Flush encodes pending into a Patch node merged with any existing patch
// link. If the combined patch exceeds Params.PatchLimit, it is applied to
// the data tree via index.UpdateTree and the patch is cleared.
func (t *Table) Flush(ctx context.Context, ns store.NodeStore) (*Table, error) {
	if len(t.pending) == 0 {
		return t, nil
	}
	next := t.clone()
	pendingChanges := next.pendingSorted()
	next.pending = map[string]patch.Change{}

	existing, err := next.loadPatch(ctx, ns)
	if err != nil {
		return nil, err
	}
	merged, err := patch.Merge(existing, pendingChanges)
	if err != nil {
		return nil, err
	}

	if merged.Len() <= t.Params.PatchLimit {
		ref, err := ns.Put(ctx, merged)
		if err != nil {
			return nil, dberr.Wrap(dberr.StoreUnavailable, err, "storing patch")
		}
		size, err := ns.Size(ctx, ref)
		if err != nil {
			size = 0
		}
		next.PatchLink = store.Link{Ref: ref, ReachableSize: size}
		t.Params.logf("table: flushed %d pending changes into patch (%d total, under limit %d)", len(pendingChanges), merged.Len(), t.Params.PatchLimit)
		return next, nil
	}

	t.Params.logf("table: patch exceeded limit (%d > %d), applying to data tree", merged.Len(), t.Params.PatchLimit)
	root, err := index.UpdateTree(ctx, ns, t.Params.indexParams(), t.Data, merged.Changes)
	if err != nil {
		return nil, err
	}
	next.Data = root
	next.PatchLink = store.Link{}
	return next, nil
}

// Optimize forces a full flush and compaction: pending and any persisted
// patch are unconditionally applied to the data tree and a fresh,
// evenly-packed partition layout is built from the merged result.
func (t *Table) Optimize(ctx context.Context, ns store.NodeStore) (*Table, error) {
	flushed, err := t.Flush(ctx, ns)
	if err != nil {
		return nil, err
	}

	pt, err := flushed.loadPatch(ctx, ns)
	if err != nil {
		return nil, err
	}

	t.Params.logf("table: optimizing, repacking %d records", flushed.Data.RecordCount)
	root, err := index.UpdateTree(ctx, ns, flushed.Params.indexParams(), flushed.Data, pt.Changes)
	if err != nil {
		return nil, err
	}

	entries, err := flatten(ctx, ns, flushed.Params, root)
	if err != nil {
		return nil, err
	}
	rebuilt, err := rebuildFromEntries(ctx, ns, flushed.Params, entries)
	if err != nil {
		return nil, err
	}

	next := flushed.clone()
	next.Data = rebuilt
	next.PatchLink = store.Link{}
	return next, nil
}

// AlterFamilies rewrites every partition's family assignment to
// newFamilies, re-deriving each tablet from the merged record set. Because
// the node store is content-addressed, tablets whose bytes don't change
// are naturally written to the same hash, so this reuses unchanged
// tablets without any special-casing.
func (t *Table) AlterFamilies(ctx context.Context, ns store.NodeStore, newFamilies record.Families) (*Table, error) {
	if err := record.ValidateFamilies(newFamilies); err != nil {
		return nil, err
	}
	flushed, err := t.Optimize(ctx, ns)
	if err != nil {
		return nil, err
	}

	newParams := flushed.Params
	newParams.Families = newFamilies
	entries, err := flatten(ctx, ns, flushed.Params, flushed.Data)
	if err != nil {
		return nil, err
	}
	rebuilt, err := rebuildFromEntries(ctx, ns, newParams, entries)
	if err != nil {
		return nil, err
	}

	next := flushed.clone()
	next.Params = newParams
	next.Data = rebuilt
	return next, nil
}

// flatten reads every record currently in the data tree (patch/pending
// are assumed already folded in by the caller).
func flatten(ctx context.Context, ns store.NodeStore, params Params, root index.Root) ([]tablet.Entry, error) {
	parts, err := index.FindPartitionRange(ctx, ns, root, nil, nil)
	if err != nil {
		return nil, err
	}
	var out []tablet.Entry
	for _, p := range parts {
		entries, err := partition.ReadAll(ctx, ns, params.indexParams().Partition, p, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

// rebuildFromEntries chunks a full record set into partition-limit-sized
// groups and bulk-builds a fresh, evenly-packed tree from them.
func rebuildFromEntries(ctx context.Context, ns store.NodeStore, params Params, entries []tablet.Entry) (index.Root, error) {
	if len(entries) == 0 {
		return index.Root{}, nil
	}
	limit := params.withDefaults().PartitionLimit
	var parts []*partition.Partition
	for start := 0; start < len(entries); start += limit {
		end := start + limit
		if end > len(entries) {
			end = len(entries)
		}
		p, err := partition.Build(ctx, ns, params.indexParams().Partition, entries[start:end])
		if err != nil {
			return index.Root{}, err
		}
		parts = append(parts, p)
	}
	return index.Build(ctx, ns, params.indexParams(), parts)
}
