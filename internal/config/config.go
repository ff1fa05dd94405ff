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

// Package config parses table and database parameters out of a generic
// JSON-shaped configuration object, the same accessor-with-deferred-error
// style as perkeep.org/pkg/jsonconfig.Obj: every accessor records what key
// it read and what it expected, and errors surface together from Validate
// rather than on the first bad key.
package config

import (
	"fmt"
	"strings"

	"github.com/greglook/merkle-db/pkg/key"
	"github.com/greglook/merkle-db/pkg/record"
	"github.com/greglook/merkle-db/pkg/table"
)

// Obj is a JSON-decoded configuration map (as produced by encoding/json's
// default map[string]interface{} unmarshaling: numbers arrive as float64,
// lists as []interface{}, nested objects as map[string]interface{}).
type Obj map[string]interface{}

func (o Obj) noteKnownKey(k string) {
	known, ok := o["_knownkeys"].(map[string]bool)
	if !ok {
		known = make(map[string]bool)
		o["_knownkeys"] = known
	}
	known[k] = true
}

func (o Obj) appendError(err error) {
	if errs, ok := o["_errors"].([]error); ok {
		o["_errors"] = append(errs, err)
	} else {
		o["_errors"] = []error{err}
	}
}

// Validate reports every unknown key (one not read via an accessor, and
// without a leading underscore) plus every error recorded by an accessor
// along the way, combined into a single error.
func (o Obj) Validate() error {
	known, _ := o["_knownkeys"].(map[string]bool)
	for k := range o {
		if known[k] || strings.HasPrefix(k, "_") {
			continue
		}
		o.appendError(fmt.Errorf("unknown config key %q", k))
	}
	errs, ok := o["_errors"].([]error)
	if !ok || len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("multiple config errors: %s", strings.Join(msgs, "; "))
}

func (o Obj) RequiredString(k string) string {
	o.noteKnownKey(k)
	v, ok := o[k]
	if !ok {
		o.appendError(fmt.Errorf("missing required config key %q (string)", k))
		return ""
	}
	s, ok := v.(string)
	if !ok {
		o.appendError(fmt.Errorf("expected config key %q to be a string, got %T", k, v))
		return ""
	}
	return s
}

func (o Obj) OptionalInt(k string, def int) int {
	o.noteKnownKey(k)
	v, ok := o[k]
	if !ok {
		return def
	}
	f, ok := v.(float64)
	if !ok {
		o.appendError(fmt.Errorf("expected config key %q to be a number, got %T", k, v))
		return def
	}
	return int(f)
}

func (o Obj) OptionalStringList(k string) []string {
	o.noteKnownKey(k)
	v, ok := o[k]
	if !ok {
		return nil
	}
	switch x := v.(type) {
	case string:
		return []string{x}
	case []interface{}:
		out := make([]string, len(x))
		for i, e := range x {
			s, ok := e.(string)
			if !ok {
				o.appendError(fmt.Errorf("expected config key %q index %d to be a string, got %T", k, i, e))
				return nil
			}
			out[i] = s
		}
		return out
	default:
		o.appendError(fmt.Errorf("expected config key %q to be a string or list of strings, got %T", k, v))
		return nil
	}
}

func (o Obj) OptionalObject(k string) Obj {
	o.noteKnownKey(k)
	v, ok := o[k]
	if !ok {
		return Obj{}
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		o.appendError(fmt.Errorf("expected config key %q to be an object, got %T", k, v))
		return Obj{}
	}
	return Obj(m)
}

// parseLexicoder reads the "lexicoder" key, either a single variant name
// for a single-field primary key or a list of variant names (one per
// primary-key field, in order) composed into a key.TupleCoder for a
// composite primary key.
func parseLexicoder(o Obj, numPKFields int) (key.Lexicoder, error) {
	names := o.OptionalStringList("lexicoder")
	if len(names) == 0 {
		return nil, fmt.Errorf("missing required config key %q (string or list of strings)", "lexicoder")
	}
	if numPKFields == 1 {
		if len(names) != 1 {
			return nil, fmt.Errorf("lexicoder must name exactly one variant for a single-field primary key, got %d", len(names))
		}
		return key.ByName(names[0])
	}
	if len(names) != numPKFields {
		return nil, fmt.Errorf("lexicoder must name one variant per primary-key field (%d fields), got %d", numPKFields, len(names))
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

// TableParams parses a table's root configuration object:
//
//	{
//	  "primary-key": "id",                 // string or list of strings
//	  "lexicoder": "integer",
//	  "fan-out": 256,
//	  "partition-limit": 1000,
//	  "patch-limit": 100,
//	  "families": {"stats": ["views", "likes"]}
//	}
//
// matching the wire shape described for a table root's parameters.
func TableParams(o Obj) (table.Params, error) {
	pkFields := o.OptionalStringList("primary-key")
	if len(pkFields) == 0 {
		pkFields = []string{o.RequiredString("primary-key")}
	}

	fanOut := o.OptionalInt("fan-out", 256)
	partitionLimit := o.OptionalInt("partition-limit", 1000)
	patchLimit := o.OptionalInt("patch-limit", 100)

	familiesObj := o.OptionalObject("families")
	names := make([]string, 0, len(familiesObj))
	for name := range familiesObj {
		names = append(names, name)
	}
	families := make(record.Families, len(names))
	for _, name := range names {
		familiesObj.noteKnownKey(name)
		fields, ok := familiesObj[name].([]interface{})
		if !ok {
			familiesObj.appendError(fmt.Errorf("expected family %q to be a list of fields, got %T", name, familiesObj[name]))
			continue
		}
		set := make(map[string]struct{}, len(fields))
		for _, f := range fields {
			s, ok := f.(string)
			if !ok {
				familiesObj.appendError(fmt.Errorf("expected family %q field to be a string, got %T", name, f))
				continue
			}
			set[s] = struct{}{}
		}
		families[name] = set
	}

	lexicoder, lexErr := parseLexicoder(o, len(pkFields))

	if err := o.Validate(); err != nil {
		return table.Params{}, err
	}
	if err := familiesObj.Validate(); err != nil {
		return table.Params{}, err
	}
	if lexErr != nil {
		return table.Params{}, lexErr
	}

	pk := record.Single(pkFields[0])
	if len(pkFields) > 1 {
		pk = record.Composite(pkFields...)
	}

	return table.Params{
		PrimaryKey:     pk,
		Lexicoder:      lexicoder,
		FanOut:         fanOut,
		PartitionLimit: partitionLimit,
		PatchLimit:     patchLimit,
		Families:       families,
	}, nil
}
