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

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableParamsSingleKeyDefaults(t *testing.T) {
	params, err := TableParams(Obj{
		"primary-key": "id",
		"lexicoder":   "integer",
	})
	require.NoError(t, err)
	require.Equal(t, 256, params.FanOut)
	require.Equal(t, 1000, params.PartitionLimit)
	require.Equal(t, 100, params.PatchLimit)
	require.Equal(t, "integer", params.Lexicoder.Name())
}

func TestTableParamsCompositeKeyBuildsTuple(t *testing.T) {
	params, err := TableParams(Obj{
		"primary-key": []interface{}{"year", "name"},
		"lexicoder":   []interface{}{"integer", "string"},
		"fan-out":     float64(8),
	})
	require.NoError(t, err)
	require.Equal(t, "tuple", params.Lexicoder.Name())
	require.Equal(t, 8, params.FanOut)
}

func TestTableParamsParsesFamilies(t *testing.T) {
	params, err := TableParams(Obj{
		"primary-key": "id",
		"lexicoder":   "integer",
		"families": map[string]interface{}{
			"stats": []interface{}{"views", "likes"},
		},
	})
	require.NoError(t, err)
	require.Contains(t, params.Families, "stats")
	_, hasViews := params.Families["stats"]["views"]
	require.True(t, hasViews)
}

func TestTableParamsRejectsUnknownKey(t *testing.T) {
	_, err := TableParams(Obj{
		"primary-key": "id",
		"lexicoder":   "integer",
		"bogus":       true,
	})
	require.Error(t, err)
}

func TestTableParamsRejectsMissingPrimaryKey(t *testing.T) {
	_, err := TableParams(Obj{
		"lexicoder": "integer",
	})
	require.Error(t, err)
}

func TestTableParamsRejectsMismatchedLexicoderArity(t *testing.T) {
	_, err := TableParams(Obj{
		"primary-key": []interface{}{"year", "name"},
		"lexicoder":   "integer",
	})
	require.Error(t, err)
}
