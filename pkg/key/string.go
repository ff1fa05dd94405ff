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

import "unicode/utf8"

// StringCoder encodes UTF-8 strings. Valid UTF-8 byte sequences already
// sort in code-point order, so encoding is the identity transform over the
// string's bytes; the coder exists to validate well-formedness and to
// dispatch on the "string" lexicoder name.
type StringCoder struct{}

func (StringCoder) Name() string { return "string" }

func (StringCoder) Encode(v interface{}) (Key, error) {
	s, ok := v.(string)
	if !ok {
		return nil, invalid("string", v)
	}
	if !utf8.ValidString(s) {
		return nil, invalid("string", v)
	}
	return Key(s), nil
}

func (StringCoder) Decode(k Key) (interface{}, error) {
	if !utf8.Valid(k) {
		return nil, invalid("string", k)
	}
	return string(k), nil
}
