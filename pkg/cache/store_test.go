/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

//nolint:testpackage // needs access to encode/decode internals
package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	header := Header{
		Version:   cacheVersion,
		ToolsHash: ComputeToolsHash([]string{"a", "b", "c"}, []string{"va", "vb", "vc"}),
		N:         3,
		D:         4,
	}
	matrix := []float32{
		0.1, 0.2, 0.3, 0.4,
		-0.5, 0.0, 1.5, -2.25,
		3.125, 0, 0, 0,
	}

	buf := encode(header, matrix)
	assert.Len(t, buf, headerLen+len(matrix)*bytesPerFloat)

	gotHeader, gotMatrix, ok, err := decode(buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, header, gotHeader)
	assert.Equal(t, matrix, gotMatrix)
}

func TestDecodeMissOnBadMagic(t *testing.T) {
	buf := make([]byte, headerLen)
	copy(buf, "NOTCACHE")

	_, _, ok, err := decode(buf)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeMissOnBadVersion(t *testing.T) {
	header := Header{Version: cacheVersion + 1, N: 0, D: 0}
	buf := encode(header, nil)

	_, _, ok, err := decode(buf)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeErrorsOnTruncatedBuffer(t *testing.T) {
	_, _, ok, err := decode([]byte{1, 2, 3})
	require.Error(t, err)
	assert.False(t, ok)
}

func TestDecodeErrorsOnLengthMismatch(t *testing.T) {
	header := Header{Version: cacheVersion, N: 2, D: 2}
	buf := encode(header, []float32{1, 2, 3, 4})
	buf = buf[:len(buf)-4] // truncate one float short of what the header declares

	_, _, ok, err := decode(buf)
	require.Error(t, err)
	assert.False(t, ok)
}

func TestFileStoreMissWhenAbsent(t *testing.T) {
	store := NewFileStore(&FileConfig{Path: filepath.Join(t.TempDir(), "missing.cache")})

	_, _, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "embeddings.cache")
	store := NewFileStore(&FileConfig{Path: path})

	header := Header{
		Version:   cacheVersion,
		ToolsHash: ComputeToolsHash([]string{"tool"}, []string{"view"}),
		N:         1,
		D:         2,
	}
	matrix := []float32{0.6, 0.8}

	require.NoError(t, store.Save(context.Background(), header, matrix))

	gotHeader, gotMatrix, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, header, gotHeader)
	assert.Equal(t, matrix, gotMatrix)
}

func TestIsValidForMatchesOnNameAndHash(t *testing.T) {
	header := Header{
		N:         2,
		ToolsHash: ComputeToolsHash([]string{"a", "b"}, []string{"va", "vb"}),
	}

	assert.True(t, IsValidFor(header, []string{"a", "b"}, []string{"va", "vb"}))
	assert.False(t, IsValidFor(header, []string{"a", "b", "c"}, []string{"va", "vb", "vc"}))
	assert.False(t, IsValidFor(header, []string{"a", "b"}, []string{"va", "different"}))
}
