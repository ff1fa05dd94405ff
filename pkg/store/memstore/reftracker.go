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

package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/greglook/merkle-db/pkg/dberr"
	"github.com/greglook/merkle-db/pkg/store"
)

// RefTracker is an in-memory, single-process ref tracker with optimistic
// compare-and-set and full version history (spec.md §6).
type RefTracker struct {
	mu      sync.Mutex
	history map[string][]store.RefVersion
	clock   int64 // last CommittedAt handed out, in unix nanoseconds
}

func NewRefTracker() *RefTracker {
	return &RefTracker{history: make(map[string][]store.RefVersion)}
}

// tick returns the wall-clock time in unix nanoseconds, bumped past the
// previous value if needed so CommittedAt strictly increases.
func (t *RefTracker) tick() int64 {
	now := time.Now().UnixNano()
	if now <= t.clock {
		now = t.clock + 1
	}
	t.clock = now
	return now
}

func (t *RefTracker) ListRefs(ctx context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.history))
	for name, versions := range t.history {
		if len(versions) > 0 && !versions[len(versions)-1].NodeHash.IsZero() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (t *RefTracker) GetRef(ctx context.Context, name string) (store.RefVersion, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	versions := t.history[name]
	if len(versions) == 0 {
		return store.RefVersion{}, dberr.ErrNotFound
	}
	return versions[len(versions)-1], nil
}

func (t *RefTracker) SetRef(ctx context.Context, name string, expectedVersion int64, newHash store.Ref) (store.RefVersion, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	versions := t.history[name]
	var current int64
	if len(versions) > 0 {
		current = versions[len(versions)-1].Version
	}
	if current != expectedVersion {
		return store.RefVersion{}, dberr.Wrap(dberr.RefConflict, &store.ConflictError{
			Name: name, Expected: expectedVersion, Actual: current,
		}, "set-ref CAS failed")
	}
	rv := store.RefVersion{
		Name:        name,
		Version:     current + 1,
		NodeHash:    newHash,
		CommittedAt: t.tick(),
	}
	t.history[name] = append(versions, rv)
	return rv, nil
}

func (t *RefTracker) History(ctx context.Context, name string) ([]store.RefVersion, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	versions := t.history[name]
	out := make([]store.RefVersion, len(versions))
	copy(out, versions)
	return out, nil
}

// DropRef writes a tombstone version with a null hash, per spec.md §6
// ("Dropping a ref writes a tombstone version with null hash").
func (t *RefTracker) DropRef(ctx context.Context, name string, expectedVersion int64) error {
	_, err := t.SetRef(ctx, name, expectedVersion, store.ZeroRef)
	return err
}
