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

package table

import (
	"context"
	"sort"

	"github.com/greglook/merkle-db/pkg/dberr"
	"github.com/greglook/merkle-db/pkg/index"
	"github.com/greglook/merkle-db/pkg/key"
	"github.com/greglook/merkle-db/pkg/record"
	"github.com/greglook/merkle-db/pkg/store"
)

func init() {
	store.RegisterNodeType("table", func() store.Node { return &TableRoot{} })
}

// familyFields is the wire shape for one declared family: a plain field
// list rather than record.Families' set, since CBOR has no native set type.
type familyFields struct {
	Name   string   `cbor:"name"`
	Fields []string `cbor:"fields"`
}

// TableRoot is the persisted form of a Table: its parameters plus links to
// the data tree and patch, with the pending map necessarily left out (it
// exists only in memory until flushed).
type TableRoot struct {
	DataField        store.Link     `cbor:"data"`
	PatchField       store.Link     `cbor:"patch"`
	PrimaryKeyFields []string       `cbor:"primary_key"`
	LexicoderNames   []string       `cbor:"lexicoder"`
	FanOutField      int            `cbor:"fan_out"`
	PartitionLimit   int            `cbor:"partition_limit"`
	PatchLimit       int            `cbor:"patch_limit"`
	Families         []familyFields `cbor:"families"`
	RecordCount      int            `cbor:"record_count"`
	SizeField        int64          `cbor:"size"`
	FirstKeyField    key.Key        `cbor:"first_key,omitempty"`
	LastKeyField     key.Key        `cbor:"last_key,omitempty"`
	HeightField      int            `cbor:"height"`
}

func (*TableRoot) NodeType() string { return "table" }

// lexicoderNames decomposes coder into the flat list of variant names
// TableRoot persists: a single name for any non-tuple coder, or one name
// per member for a key.TupleCoder (composite primary keys).
func lexicoderNames(coder key.Lexicoder) []string {
	if t, ok := coder.(key.TupleCoder); ok {
		names := make([]string, len(t.Members))
		for i, m := range t.Members {
			names[i] = m.Name()
		}
		return names
	}
	return []string{coder.Name()}
}

// lexicoderFromNames is the inverse of lexicoderNames.
func lexicoderFromNames(names []string) (key.Lexicoder, error) {
	if len(names) == 0 {
		return nil, dberr.New(dberr.DecodeError, "table root has no lexicoder names")
	}
	if len(names) == 1 {
		return key.ByName(names[0])
	}
	members := make([]key.Lexicoder, len(names))
	for i, n := range names {
		m, err := key.ByName(n)
		if err != nil {
			return nil, err
		}
		members[i] = m
	}
	return key.Tuple(members...), nil
}

// toRoot converts t into its persisted form.
func (t *Table) toRoot() *TableRoot {
	names := make([]string, 0, len(t.Params.Families))
	for name := range t.Params.Families {
		names = append(names, name)
	}
	sort.Strings(names)
	fams := make([]familyFields, 0, len(names))
	for _, name := range names {
		fields := make([]string, 0, len(t.Params.Families[name]))
		for f := range t.Params.Families[name] {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		fams = append(fams, familyFields{Name: name, Fields: fields})
	}
	return &TableRoot{
		DataField:        t.Data.Link,
		PatchField:       t.PatchLink,
		PrimaryKeyFields: t.Params.PrimaryKey.Fields,
		LexicoderNames:   lexicoderNames(t.Params.Lexicoder),
		FanOutField:      t.Params.FanOut,
		PartitionLimit:   t.Params.PartitionLimit,
		PatchLimit:       t.Params.PatchLimit,
		Families:         fams,
		RecordCount:      t.Data.RecordCount,
		SizeField:        t.Data.Size,
		FirstKeyField:    t.Data.FirstKey,
		LastKeyField:     t.Data.LastKey,
		HeightField:      t.Data.Height,
	}
}

// Save persists pending/patch (via Flush) and writes t's table root node,
// returning the link a database root (or any other caller) should hold.
func (t *Table) Save(ctx context.Context, ns store.NodeStore) (*Table, store.Link, error) {
	flushed, err := t.Flush(ctx, ns)
	if err != nil {
		return nil, store.Link{}, err
	}
	ref, err := ns.Put(ctx, flushed.toRoot())
	if err != nil {
		return nil, store.Link{}, dberr.Wrap(dberr.StoreUnavailable, err, "storing table root")
	}
	size, err := ns.Size(ctx, ref)
	if err != nil {
		size = 0
	}
	return flushed, store.Link{Ref: ref, ReachableSize: size}, nil
}

// Load reads a table root node back into a ready-to-use Table. The
// partition/index/patch layers it references are fetched lazily on demand,
// not eagerly by Load.
func Load(ctx context.Context, ns store.NodeStore, link store.Link) (*Table, error) {
	n, err := ns.Get(ctx, link.Ref)
	if err != nil {
		return nil, dberr.Wrap(dberr.StoreUnavailable, err, "loading table root")
	}
	root, ok := n.(*TableRoot)
	if !ok {
		return nil, dberr.Newf(dberr.TreeCorrupt, "expected table node, got %T", n)
	}

	coder, err := lexicoderFromNames(root.LexicoderNames)
	if err != nil {
		return nil, err
	}
	pk := record.Single(root.PrimaryKeyFields[0])
	if len(root.PrimaryKeyFields) > 1 {
		pk = record.Composite(root.PrimaryKeyFields...)
	}
	families := make(record.Families, len(root.Families))
	for _, f := range root.Families {
		set := make(map[string]struct{}, len(f.Fields))
		for _, field := range f.Fields {
			set[field] = struct{}{}
		}
		families[f.Name] = set
	}

	params := Params{
		PrimaryKey:     pk,
		Lexicoder:      coder,
		FanOut:         root.FanOutField,
		PartitionLimit: root.PartitionLimit,
		PatchLimit:     root.PatchLimit,
		Families:       families,
	}.withDefaults()

	return &Table{
		Params: params,
		Data: index.Root{
			Link:        root.DataField,
			FirstKey:    root.FirstKeyField,
			LastKey:     root.LastKeyField,
			RecordCount: root.RecordCount,
			Size:        root.SizeField,
			Height:      root.HeightField,
		},
		PatchLink: root.PatchField,
	}, nil
}
