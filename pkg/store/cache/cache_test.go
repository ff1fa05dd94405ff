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

package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/greglook/merkle-db/pkg/store"
	"github.com/greglook/merkle-db/pkg/store/memstore"
)

type node struct {
	V string `cbor:"v"`
}

func (node) NodeType() string { return "cache-test-node" }

func init() {
	store.RegisterNodeType("cache-test-node", func() store.Node { return &node{} })
}

func TestCacheServesFromMemoryOnHit(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	c := New(backend, 1<<20)

	ref, err := c.Put(ctx, &node{V: "hello"})
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	got, err := c.Get(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, "hello", got.(*node).V)
}

func TestCacheEvictsByByteBudget(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	c := New(backend, 1) // tiny budget forces eviction on every insert

	r1, err := c.Put(ctx, &node{V: "aaaaaaaaaa"})
	require.NoError(t, err)
	_, err = c.Put(ctx, &node{V: "bbbbbbbbbb"})
	require.NoError(t, err)

	// r1 was evicted from the cache, but the backend still has it.
	has, err := backend.Has(ctx, r1)
	require.NoError(t, err)
	require.True(t, has)

	got, err := c.Get(ctx, r1)
	require.NoError(t, err)
	require.Equal(t, "aaaaaaaaaa", got.(*node).V)
}

func TestCacheDisabledWithZeroBudget(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	c := New(backend, 0)

	ref, err := c.Put(ctx, &node{V: "x"})
	require.NoError(t, err)
	require.Equal(t, 0, c.Len())

	got, err := c.Get(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, "x", got.(*node).V)
}
