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
	"github.com/greglook/merkle-db/pkg/dberr"
)

// TupleCoder composes member lexicoders positionally: a tuple's key is the
// concatenation of its members' encodings, each terminated by a two-byte
// marker so that no tuple's encoding is a byte-prefix of another's.
//
// A literal 0x00 byte inside a member's own encoding is escaped to the pair
// 0x00,0xff before concatenation; the (unescapable) terminator is the pair
// 0x00,0x00. Because 0x00 < 0xff, an escaped-null continuation always sorts
// after the terminator for an otherwise-identical shorter prefix, which is
// exactly the "extending a tuple sorts after it" property tuples need.
type TupleCoder struct {
	Members []Lexicoder
}

func Tuple(members ...Lexicoder) TupleCoder {
	return TupleCoder{Members: members}
}

func (TupleCoder) Name() string { return "tuple" }

const (
	tupleEscapeByte      = 0x00
	tupleEscapeSuffix    = 0xff
	tupleTerminatorByte2 = 0x00
)

func escapeMember(enc Key) []byte {
	out := make([]byte, 0, len(enc)+2)
	for _, b := range enc {
		if b == tupleEscapeByte {
			out = append(out, tupleEscapeByte, tupleEscapeSuffix)
		} else {
			out = append(out, b)
		}
	}
	out = append(out, tupleEscapeByte, tupleTerminatorByte2)
	return out
}

func (t TupleCoder) Encode(v interface{}) (Key, error) {
	vals, ok := v.([]interface{})
	if !ok {
		return nil, invalid("tuple", v)
	}
	if len(vals) != len(t.Members) {
		return nil, dberr.Newf(dberr.InvalidValue, "tuple lexicoder: expected %d members, got %d", len(t.Members), len(vals))
	}
	var out []byte
	for i, m := range t.Members {
		enc, err := m.Encode(vals[i])
		if err != nil {
			return nil, err
		}
		out = append(out, escapeMember(enc)...)
	}
	return out, nil
}

func (t TupleCoder) Decode(k Key) (interface{}, error) {
	vals := make([]interface{}, 0, len(t.Members))
	rest := []byte(k)
	for _, m := range t.Members {
		member, tail, err := splitNextMember(rest)
		if err != nil {
			return nil, err
		}
		v, err := m.Decode(member)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
		rest = tail
	}
	if len(rest) != 0 {
		return nil, dberr.New(dberr.DecodeError, "tuple lexicoder: trailing bytes after last member")
	}
	return vals, nil
}

// splitNextMember scans rest for the first unescaped terminator (0x00
// followed by 0x00), unescaping 0x00 0xff pairs as it goes, and returns the
// decoded member bytes plus whatever follows the terminator.
func splitNextMember(rest []byte) (member, tail []byte, err error) {
	out := make([]byte, 0, len(rest))
	i := 0
	for i < len(rest) {
		if rest[i] == tupleEscapeByte {
			if i+1 >= len(rest) {
				return nil, nil, dberr.New(dberr.DecodeError, "tuple lexicoder: truncated escape sequence")
			}
			switch rest[i+1] {
			case tupleEscapeSuffix:
				out = append(out, tupleEscapeByte)
				i += 2
				continue
			case tupleTerminatorByte2:
				return out, rest[i+2:], nil
			default:
				return nil, nil, dberr.Newf(dberr.DecodeError, "tuple lexicoder: invalid escape byte 0x%02x", rest[i+1])
			}
		}
		out = append(out, rest[i])
		i++
	}
	return nil, nil, dberr.New(dberr.DecodeError, "tuple lexicoder: missing terminator")
}
