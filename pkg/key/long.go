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

package key

import (
	"encoding/binary"
	"time"

	"github.com/greglook/merkle-db/pkg/dberr"
)

// LongCoder encodes a fixed-width 64-bit signed integer by flipping its
// sign bit and writing it big-endian two's complement, so that the
// resulting 8-byte strings sort in numeric order.
type LongCoder struct{}

func (LongCoder) Name() string { return "long" }

func encodeFlippedInt64(n int64) Key {
	u := uint64(n) ^ (1 << 63)
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, u)
	return buf
}

func decodeFlippedInt64(k Key) (int64, error) {
	if len(k) != 8 {
		return 0, dberr.Newf(dberr.DecodeError, "long lexicoder: expected 8 bytes, got %d", len(k))
	}
	u := binary.BigEndian.Uint64(k) ^ (1 << 63)
	return int64(u), nil
}

func (LongCoder) Encode(v interface{}) (Key, error) {
	switch n := v.(type) {
	case int64:
		return encodeFlippedInt64(n), nil
	case int:
		return encodeFlippedInt64(int64(n)), nil
	case int32:
		return encodeFlippedInt64(int64(n)), nil
	default:
		return nil, invalid("long", v)
	}
}

func (LongCoder) Decode(k Key) (interface{}, error) {
	return decodeFlippedInt64(k)
}

// InstantCoder encodes a time.Time as UTC nanoseconds-since-epoch using the
// same fixed-width, sign-flipped layout as LongCoder.
type InstantCoder struct{}

func (InstantCoder) Name() string { return "instant" }

func (InstantCoder) Encode(v interface{}) (Key, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, invalid("instant", v)
	}
	return encodeFlippedInt64(t.UTC().UnixNano()), nil
}

func (InstantCoder) Decode(k Key) (interface{}, error) {
	ns, err := decodeFlippedInt64(k)
	if err != nil {
		return nil, err
	}
	return time.Unix(0, ns).UTC(), nil
}
