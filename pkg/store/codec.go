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

package store

import (
	"bytes"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/multiformats/go-varint"

	"github.com/greglook/merkle-db/pkg/dberr"
)

// node types register a zero-value factory here so the codec can dispatch
// Decode by the `type` discriminator carried in the block, per spec.md §9
// ("prefer a sum type over open-ended dispatch"). This mirrors the
// constructor-registry idiom in perkeep.org/pkg/sorted
// (sorted.RegisterKeyValue / sorted.NewKeyValue), generalized from
// storage-backend names to node-type tags.
var nodeFactories = make(map[string]func() Node)

// RegisterNodeType makes tag decodable by DecodeNode. Each node package
// (tablet, patch, partition, index, table) calls this from an init()
// function for the type(s) it owns. Panics on duplicate registration,
// matching sorted.RegisterKeyValue's fail-fast behavior for a programming
// error that can only happen at package init time.
func RegisterNodeType(tag string, factory func() Node) {
	if tag == "" || factory == nil {
		panic("store: zero tag or nil factory")
	}
	if _, dup := nodeFactories[tag]; dup {
		panic("store: duplicate registration for node type " + tag)
	}
	nodeFactories[tag] = factory
}

type envelope struct {
	Type string          `cbor:"type"`
	Data cbor.RawMessage `cbor:"data"`
}

var cborEncMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// cborDecMode decodes dynamically typed record values back into the closed
// record.Value set: integers as int64 and maps as map[string]interface{}.
var cborDecMode = func() cbor.DecMode {
	opts := cbor.DecOptions{
		IntDec:         cbor.IntDecConvertSigned,
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}
	mode, err := opts.DecMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// EncodeNode frames n as a multicodec-prefixed CBOR block: an unsigned
// varint codec header (NodeMulticodec) followed by a CBOR envelope of
// {type, data}, where data is n's own CBOR-encoded fields.
func EncodeNode(n Node) ([]byte, error) {
	payload, err := cborEncMode.Marshal(n)
	if err != nil {
		return nil, dberr.Wrap(dberr.InvalidValue, err, "encoding node payload")
	}
	env := envelope{Type: n.NodeType(), Data: payload}
	body, err := cborEncMode.Marshal(env)
	if err != nil {
		return nil, dberr.Wrap(dberr.InvalidValue, err, "encoding node envelope")
	}

	var buf bytes.Buffer
	hdr := varint.ToUvarint(NodeMulticodec)
	buf.Write(hdr)
	buf.Write(body)
	return buf.Bytes(), nil
}

// DecodeNode reverses EncodeNode, dispatching to the node type registered
// for the envelope's `type` tag.
func DecodeNode(block []byte) (Node, error) {
	codecPoint, n, err := varint.FromUvarint(block)
	if err != nil {
		return nil, dberr.Wrap(dberr.DecodeError, err, "reading multicodec header")
	}
	if codecPoint != NodeMulticodec {
		return nil, dberr.Newf(dberr.DecodeError, "unexpected multicodec point 0x%x", codecPoint)
	}
	var env envelope
	if err := cbor.Unmarshal(block[n:], &env); err != nil {
		return nil, dberr.Wrap(dberr.DecodeError, err, "decoding node envelope")
	}
	factory, ok := nodeFactories[env.Type]
	if !ok {
		return nil, dberr.Newf(dberr.DecodeError, "unregistered node type %q", env.Type)
	}
	node := factory()
	if err := cborDecMode.Unmarshal(env.Data, node); err != nil {
		return nil, dberr.Wrap(dberr.DecodeError, err, "decoding node payload for type "+env.Type)
	}
	return node, nil
}
