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

package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/greglook/merkle-db/pkg/store"
)

func link(n byte) store.Link {
	ref, err := store.HashBlock([]byte{n})
	if err != nil {
		panic(err)
	}
	return store.Link{Ref: ref, ReachableSize: int64(n)}
}

func TestEmptyDatabaseHasNoTables(t *testing.T) {
	db := Empty()
	require.Empty(t, db.TableNames())
	_, ok := db.Table("users")
	require.False(t, ok)
}

func TestWithTableAddsAndReplaces(t *testing.T) {
	db := Empty()
	db = db.WithTable("users", link(1), 100)
	db = db.WithTable("events", link(2), 101)
	require.Equal(t, []string{"events", "users"}, db.TableNames())

	got, ok := db.Table("users")
	require.True(t, ok)
	require.Equal(t, link(1), got)

	db2 := db.WithTable("users", link(3), 102)
	got2, _ := db2.Table("users")
	require.Equal(t, link(3), got2)
	// original is untouched
	got3, _ := db.Table("users")
	require.Equal(t, link(1), got3)
}

func TestWithoutTableRemovesBinding(t *testing.T) {
	db := Empty().WithTable("users", link(1), 100)
	db2, err := db.WithoutTable("users", 101)
	require.NoError(t, err)
	_, ok := db2.Table("users")
	require.False(t, ok)

	_, err = db2.WithoutTable("users", 102)
	require.Error(t, err)
}
