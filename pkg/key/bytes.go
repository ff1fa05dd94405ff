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

// BytesCoder is the identity lexicoder: raw byte strings already sort in
// their natural order, so encoding is a copy and decoding is a copy back.
type BytesCoder struct{}

func (BytesCoder) Name() string { return "bytes" }

func (BytesCoder) Encode(v interface{}) (Key, error) {
	switch b := v.(type) {
	case []byte:
		out := make([]byte, len(b))
		copy(out, b)
		return Key(out), nil
	case Key:
		out := make([]byte, len(b))
		copy(out, b)
		return Key(out), nil
	default:
		return nil, invalid("bytes", v)
	}
}

func (BytesCoder) Decode(k Key) (interface{}, error) {
	out := make([]byte, len(k))
	copy(out, k)
	return out, nil
}
