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

// Package database implements the Database node: the named-table
// directory sitting above the table layer. Opening a database against a
// live node store and ref tracker, and gluing named tables to it, is a
// connection-object concern left to callers (spec.md scopes the
// database/connection object itself out); this package only owns the
// persisted directory's shape and its pure, immutable update operations.
package database

import (
	"sort"

	"github.com/greglook/merkle-db/pkg/dberr"
	"github.com/greglook/merkle-db/pkg/store"
)

func init() {
	store.RegisterNodeType("database", func() store.Node { return &Database{} })
}

// tableEntry is the wire shape of one named table: CBOR has no map-with-
// non-string-key ordering guarantee, so names are a sorted slice rather
// than inlined as a map, matching TableRoot's family list.
type tableEntry struct {
	Name string     `cbor:"name"`
	Link store.Link `cbor:"link"`
}

// Database is the persisted root of a collection of named tables, plus
// free-form metadata and the timestamp of its last update (spec.md §6's
// database root: `{tables: {name: link}, updated-at, metadata}`).
type Database struct {
	Tables      []tableEntry           `cbor:"tables"`
	UpdatedAtNs int64                  `cbor:"updated_at"`
	Metadata    map[string]interface{} `cbor:"metadata,omitempty"`
}

func (*Database) NodeType() string { return "database" }

// Empty returns a database with no tables.
func Empty() *Database {
	return &Database{}
}

// Table returns the link registered under name, if any.
func (d *Database) Table(name string) (store.Link, bool) {
	for _, e := range d.Tables {
		if e.Name == name {
			return e.Link, true
		}
	}
	return store.Link{}, false
}

// TableNames returns every registered table name in sorted order.
func (d *Database) TableNames() []string {
	out := make([]string, len(d.Tables))
	for i, e := range d.Tables {
		out[i] = e.Name
	}
	sort.Strings(out)
	return out
}

// WithTable returns a new Database with name bound to link, replacing any
// existing binding for that name. d is not modified.
func (d *Database) WithTable(name string, link store.Link, updatedAtNs int64) *Database {
	next := &Database{
		Tables:      make([]tableEntry, 0, len(d.Tables)+1),
		UpdatedAtNs: updatedAtNs,
		Metadata:    d.Metadata,
	}
	replaced := false
	for _, e := range d.Tables {
		if e.Name == name {
			next.Tables = append(next.Tables, tableEntry{Name: name, Link: link})
			replaced = true
			continue
		}
		next.Tables = append(next.Tables, e)
	}
	if !replaced {
		next.Tables = append(next.Tables, tableEntry{Name: name, Link: link})
	}
	sort.Slice(next.Tables, func(i, j int) bool { return next.Tables[i].Name < next.Tables[j].Name })
	return next
}

// WithoutTable returns a new Database with name's binding removed, or a
// NotFound error if d has no such table. d is not modified.
func (d *Database) WithoutTable(name string, updatedAtNs int64) (*Database, error) {
	if _, ok := d.Table(name); !ok {
		return nil, dberr.Newf(dberr.NotFound, "database has no table %q", name)
	}
	next := &Database{
		Tables:      make([]tableEntry, 0, len(d.Tables)),
		UpdatedAtNs: updatedAtNs,
		Metadata:    d.Metadata,
	}
	for _, e := range d.Tables {
		if e.Name != name {
			next.Tables = append(next.Tables, e)
		}
	}
	return next, nil
}
