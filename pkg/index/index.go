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

// Package index implements the branching B+-tree above the partition
// layer: bulk construction, range lookup, and the recursive update
// algorithm that routes changes to the right partitions and rebalances
// (splits, merges, collapses) every level they touch.
package index

import (
	"context"

	"github.com/greglook/merkle-db/pkg/dberr"
	"github.com/greglook/merkle-db/pkg/key"
	"github.com/greglook/merkle-db/pkg/patch"
	"github.com/greglook/merkle-db/pkg/partition"
	"github.com/greglook/merkle-db/pkg/store"
)

func init() {
	store.RegisterNodeType("index", func() store.Node { return &Index{} })
}

// Params bundles the parameters the tree needs at every level: its own
// fan-out plus the partition parameters passed straight through to leaves.
type Params struct {
	FanOut    int
	Partition partition.Params
}

// ChildRef is one entry in an Index node's child list: the child's own
// summary statistics (so a read never has to fetch it just to know its
// key range or count) plus the link used to actually load it.
type ChildRef struct {
	FirstKey    key.Key    `cbor:"first_key"`
	LastKey     key.Key    `cbor:"last_key"`
	RecordCount int        `cbor:"record_count"`
	Size        int64      `cbor:"size"`
	Link        store.Link `cbor:"link"`
}

// Index is a B+-tree internal node. Height 1's children are partitions;
// height h>1's children are Index nodes of height h-1.
type Index struct {
	HeightField      int        `cbor:"height"`
	RecordCountField int        `cbor:"record_count"`
	SizeField        int64      `cbor:"size"`
	FirstKeyField    key.Key    `cbor:"first_key"`
	LastKeyField     key.Key    `cbor:"last_key"`
	Children         []ChildRef `cbor:"children"`
}

func (*Index) NodeType() string     { return "index" }
func (ix *Index) FirstKey() key.Key { return ix.FirstKeyField }
func (ix *Index) LastKey() key.Key  { return ix.LastKeyField }
func (ix *Index) Count() int        { return ix.RecordCountField }
func (ix *Index) ByteSize() int64   { return ix.SizeField }
func (ix *Index) Height() int       { return ix.HeightField }

// Root describes the persisted root of a data tree: a link plus enough
// summary information that callers (the table layer) don't need to fetch
// it just to report record-count/size, and a height so traversal knows
// whether the link points at a Partition (height 0) or an Index (height
// >= 1). A Root with a zero Link is the empty tree.
type Root struct {
	Link        store.Link
	FirstKey    key.Key
	LastKey     key.Key
	RecordCount int
	Size        int64
	Height      int
}

func (r Root) IsEmpty() bool { return r.Link.Ref.IsZero() }

func childRefFromRoot(r Root) ChildRef {
	return ChildRef{FirstKey: r.FirstKey, LastKey: r.LastKey, RecordCount: r.RecordCount, Size: r.Size, Link: r.Link}
}

func rootFromChildRef(c ChildRef, height int) Root {
	return Root{Link: c.Link, FirstKey: c.FirstKey, LastKey: c.LastKey, RecordCount: c.RecordCount, Size: c.Size, Height: height}
}

func putPartition(ctx context.Context, ns store.NodeStore, p *partition.Partition) (ChildRef, error) {
	ref, err := ns.Put(ctx, p)
	if err != nil {
		return ChildRef{}, dberr.Wrap(dberr.StoreUnavailable, err, "storing partition")
	}
	size, err := ns.Size(ctx, ref)
	if err != nil {
		size = p.ByteSize()
	}
	return ChildRef{FirstKey: p.FirstKey(), LastKey: p.LastKey(), RecordCount: p.Count(), Size: p.ByteSize(), Link: store.Link{Ref: ref, ReachableSize: size}}, nil
}

func buildIndexNode(ctx context.Context, ns store.NodeStore, height int, children []ChildRef) (ChildRef, error) {
	var rc int
	var sz int64
	for _, c := range children {
		rc += c.RecordCount
		sz += c.Size
	}
	ix := &Index{
		HeightField:      height,
		RecordCountField: rc,
		SizeField:        sz,
		FirstKeyField:    children[0].FirstKey,
		LastKeyField:     children[len(children)-1].LastKey,
		Children:         children,
	}
	ref, err := ns.Put(ctx, ix)
	if err != nil {
		return ChildRef{}, dberr.Wrap(dberr.StoreUnavailable, err, "storing index node")
	}
	size, err := ns.Size(ctx, ref)
	if err != nil {
		size = sz
	}
	return ChildRef{FirstKey: ix.FirstKeyField, LastKey: ix.LastKeyField, RecordCount: rc, Size: sz, Link: store.Link{Ref: ref, ReachableSize: size}}, nil
}

func loadPartition(ctx context.Context, ns store.NodeStore, link store.Link) (*partition.Partition, error) {
	n, err := ns.Get(ctx, link.Ref)
	if err != nil {
		return nil, dberr.Wrap(dberr.StoreUnavailable, err, "loading partition")
	}
	p, ok := n.(*partition.Partition)
	if !ok {
		return nil, dberr.Newf(dberr.TreeCorrupt, "expected partition node, got %T", n)
	}
	return p, nil
}

func loadIndex(ctx context.Context, ns store.NodeStore, link store.Link) (*Index, error) {
	n, err := ns.Get(ctx, link.Ref)
	if err != nil {
		return nil, dberr.Wrap(dberr.StoreUnavailable, err, "loading index node")
	}
	ix, ok := n.(*Index)
	if !ok {
		return nil, dberr.Newf(dberr.TreeCorrupt, "expected index node, got %T", n)
	}
	return ix, nil
}

// groupChildren partitions children into balanced groups of size in
// [ceil(fanOut/2), fanOut] (a single, possibly smaller, group when
// children already fits in one). The last group at any level may come up
// short only when the whole level collapses to the root.
func groupChildren(children []ChildRef, fanOut int) [][]ChildRef {
	n := len(children)
	if n == 0 {
		return nil
	}
	if n <= fanOut {
		return [][]ChildRef{children}
	}
	numGroups := (n + fanOut - 1) / fanOut
	base := n / numGroups
	rem := n % numGroups
	groups := make([][]ChildRef, 0, numGroups)
	idx := 0
	for g := 0; g < numGroups; g++ {
		size := base
		if g < rem {
			size++
		}
		groups = append(groups, children[idx:idx+size])
		idx += size
	}
	return groups
}

// Build bulk-constructs a balanced tree from a flat, ordered sequence of
// not-yet-persisted partitions, grouping contiguous children into levels
// of [ceil(fanOut/2), fanOut] until a single root remains. A single
// partition is returned directly at height 0 (no index node wraps it).
func Build(ctx context.Context, ns store.NodeStore, params Params, partitions []*partition.Partition) (Root, error) {
	if len(partitions) == 0 {
		return Root{}, nil
	}
	children := make([]ChildRef, 0, len(partitions))
	for _, p := range partitions {
		c, err := putPartition(ctx, ns, p)
		if err != nil {
			return Root{}, err
		}
		children = append(children, c)
	}
	if len(children) == 1 {
		return rootFromChildRef(children[0], 0), nil
	}
	return buildLevels(ctx, ns, params, children, 1)
}

func buildLevels(ctx context.Context, ns store.NodeStore, params Params, children []ChildRef, height int) (Root, error) {
	groups := groupChildren(children, params.FanOut)
	next := make([]ChildRef, 0, len(groups))
	for _, g := range groups {
		c, err := buildIndexNode(ctx, ns, height, g)
		if err != nil {
			return Root{}, err
		}
		next = append(next, c)
	}
	if len(next) == 1 {
		return rootFromChildRef(next[0], height), nil
	}
	return buildLevels(ctx, ns, params, next, height+1)
}

func rangeOverlaps(firstKey, lastKey, min, max key.Key) bool {
	if max != nil && key.Compare(max, firstKey) < 0 {
		return false
	}
	if min != nil && key.Compare(lastKey, min) < 0 {
		return false
	}
	return true
}

func collectRange(ctx context.Context, ns store.NodeStore, link store.Link, height int, min, max key.Key, out *[]*partition.Partition) error {
	if height == 0 {
		p, err := loadPartition(ctx, ns, link)
		if err != nil {
			return err
		}
		if p.Overlaps(min, max) {
			*out = append(*out, p)
		}
		return nil
	}
	ix, err := loadIndex(ctx, ns, link)
	if err != nil {
		return err
	}
	for _, c := range ix.Children {
		if !rangeOverlaps(c.FirstKey, c.LastKey, min, max) {
			continue
		}
		if err := collectRange(ctx, ns, c.Link, height-1, min, max, out); err != nil {
			return err
		}
	}
	return nil
}

// FindPartitionRange returns every partition whose [first-key, last-key]
// intersects [min, max] (either bound nil meaning unbounded), in key
// order.
func FindPartitionRange(ctx context.Context, ns store.NodeStore, root Root, min, max key.Key) ([]*partition.Partition, error) {
	if root.IsEmpty() {
		return nil, nil
	}
	var out []*partition.Partition
	if err := collectRange(ctx, ns, root.Link, root.Height, min, max, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// routeChanges buckets a sorted slice of changes by which child in
// children (sorted, non-overlapping) should absorb each one: a change
// whose key falls in the gap between child[i].LastKey and
// child[i+1].FirstKey is absorbed by the left child i (spec.md §4.5's
// routing tie-break).
func routeChanges(children []ChildRef, changes []patch.Change) [][]patch.Change {
	groups := make([][]patch.Change, len(children))
	ci := 0
	for _, c := range changes {
		for ci < len(children)-1 && key.Compare(children[ci+1].FirstKey, c.Key) <= 0 {
			ci++
		}
		groups[ci] = append(groups[ci], c)
	}
	return groups
}

// treeResult is the outcome of updating one subtree: its replacement
// children at the same height as the node that was updated (zero, one,
// or several of them), and whether a lone survivor is under-full.
type treeResult struct {
	Children []ChildRef
	Underflow bool
}

func updateLeaf(ctx context.Context, ns store.NodeStore, params Params, link store.Link, changes []patch.Change) (treeResult, error) {
	var p *partition.Partition
	if !link.Ref.IsZero() {
		var err error
		p, err = loadPartition(ctx, ns, link)
		if err != nil {
			return treeResult{}, err
		}
	}
	res, err := partition.Update(ctx, ns, params.Partition, p, changes)
	if err != nil {
		return treeResult{}, err
	}
	if len(res.Partitions) == 0 {
		return treeResult{Underflow: true}, nil
	}
	out := make([]ChildRef, 0, len(res.Partitions))
	for _, np := range res.Partitions {
		c, err := putPartition(ctx, ns, np)
		if err != nil {
			return treeResult{}, err
		}
		out = append(out, c)
	}
	return treeResult{Children: out, Underflow: res.Underflow && len(out) == 1}, nil
}

// combineSiblings merges two adjacent children (at the given height), at
// least one of them under-full, into one or more replacement children,
// splitting again if the merge overflows.
func combineSiblings(ctx context.Context, ns store.NodeStore, params Params, height int, left, right ChildRef) ([]ChildRef, error) {
	if height == 0 {
		lp, err := loadPartition(ctx, ns, left.Link)
		if err != nil {
			return nil, err
		}
		rp, err := loadPartition(ctx, ns, right.Link)
		if err != nil {
			return nil, err
		}
		res, err := partition.Combine(ctx, ns, params.Partition, lp, rp)
		if err != nil {
			return nil, err
		}
		out := make([]ChildRef, 0, len(res.Partitions))
		for _, np := range res.Partitions {
			c, err := putPartition(ctx, ns, np)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	}
	li, err := loadIndex(ctx, ns, left.Link)
	if err != nil {
		return nil, err
	}
	ri, err := loadIndex(ctx, ns, right.Link)
	if err != nil {
		return nil, err
	}
	combined := append(append([]ChildRef(nil), li.Children...), ri.Children...)
	groups := groupChildren(combined, params.FanOut)
	out := make([]ChildRef, 0, len(groups))
	for _, g := range groups {
		c, err := buildIndexNode(ctx, ns, height, g)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// mergeUnderflow walks children (at the given height) left to right,
// folding each underflow-flagged entry into an adjacent sibling (the
// right sibling if available, else the left). A lone remaining child with
// no sibling to merge with is passed through unchanged: the caller one
// level up decides whether that is tolerable (it is, at the true root).
func mergeUnderflow(ctx context.Context, ns store.NodeStore, params Params, height int, children []ChildRef, underflow []bool) ([]ChildRef, error) {
	out := make([]ChildRef, 0, len(children))
	merged := make([]bool, len(children))
	for i := range children {
		if merged[i] {
			continue
		}
		if !underflow[i] || len(children) == 1 {
			out = append(out, children[i])
			continue
		}
		switch {
		case i+1 < len(children) && !merged[i+1]:
			repl, err := combineSiblings(ctx, ns, params, height, children[i], children[i+1])
			if err != nil {
				return nil, err
			}
			out = append(out, repl...)
			merged[i+1] = true
		case len(out) > 0:
			prev := out[len(out)-1]
			out = out[:len(out)-1]
			repl, err := combineSiblings(ctx, ns, params, height, prev, children[i])
			if err != nil {
				return nil, err
			}
			out = append(out, repl...)
		default:
			out = append(out, children[i])
		}
	}
	return out, nil
}

func updateNode(ctx context.Context, ns store.NodeStore, params Params, link store.Link, height int, changes []patch.Change) (treeResult, error) {
	if height == 0 {
		return updateLeaf(ctx, ns, params, link, changes)
	}
	ix, err := loadIndex(ctx, ns, link)
	if err != nil {
		return treeResult{}, err
	}
	groups := routeChanges(ix.Children, changes)

	var newChildren []ChildRef
	var underflowFlags []bool
	for i, child := range ix.Children {
		if len(groups[i]) == 0 {
			newChildren = append(newChildren, child)
			underflowFlags = append(underflowFlags, false)
			continue
		}
		res, err := updateNode(ctx, ns, params, child.Link, height-1, groups[i])
		if err != nil {
			return treeResult{}, err
		}
		for j, c := range res.Children {
			newChildren = append(newChildren, c)
			underflowFlags = append(underflowFlags, res.Underflow && len(res.Children) == 1 && j == 0)
		}
	}

	merged, err := mergeUnderflow(ctx, ns, params, height-1, newChildren, underflowFlags)
	if err != nil {
		return treeResult{}, err
	}
	if len(merged) == 0 {
		return treeResult{Underflow: true}, nil
	}
	groups2 := groupChildren(merged, params.FanOut)
	out := make([]ChildRef, 0, len(groups2))
	for _, g := range groups2 {
		c, err := buildIndexNode(ctx, ns, height, g)
		if err != nil {
			return treeResult{}, err
		}
		out = append(out, c)
	}
	underflow := len(groups2) == 1 && len(merged) < (params.FanOut+1)/2
	return treeResult{Children: out, Underflow: underflow}, nil
}

// UpdateTree is the central tree-mutation algorithm: it routes sorted
// changes down to the partitions they touch, applies them, and
// rebalances every level the update passed through (splitting overflowed
// nodes, merging under-full ones with a sibling, collapsing the root when
// it ends up with a single child).
func UpdateTree(ctx context.Context, ns store.NodeStore, params Params, root Root, changes []patch.Change) (Root, error) {
	if len(changes) == 0 {
		return root, nil
	}

	height := root.Height
	link := root.Link
	if root.IsEmpty() {
		height = 0
		link = store.Link{}
	}

	tr, err := updateNode(ctx, ns, params, link, height, changes)
	if err != nil {
		return Root{}, err
	}
	if len(tr.Children) == 0 {
		return Root{}, nil
	}

	children := tr.Children
	curHeight := height
	for len(children) > 1 {
		curHeight++
		groups := groupChildren(children, params.FanOut)
		next := make([]ChildRef, 0, len(groups))
		for _, g := range groups {
			c, err := buildIndexNode(ctx, ns, curHeight, g)
			if err != nil {
				return Root{}, err
			}
			next = append(next, c)
		}
		children = next
	}

	final := children[0]
	for {
		if curHeight == 0 {
			break
		}
		ix, err := loadIndex(ctx, ns, final.Link)
		if err != nil {
			return Root{}, err
		}
		if len(ix.Children) != 1 {
			break
		}
		final = ix.Children[0]
		curHeight--
	}
	return rootFromChildRef(final, curHeight), nil
}
