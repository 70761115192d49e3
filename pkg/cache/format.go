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

// Package cache implements the embedding cache (C3): a versioned,
// content-hash-keyed on-disk artifact holding a matrix of L2-normalized
// tool embeddings, so the embedder evaluator need not stay loaded once
// the catalog is unchanged across restarts.
package cache

import (
	"encoding/binary"
	"math"

	"github.com/dannyavrs/encapure/pkg/apperrors"
)

const (
	cacheVersion  = 1
	magicLen      = 8
	headerLen     = magicLen + 4 + 32 + 8 + 8 // = 60
	tagHashLen    = 32
	bytesPerFloat = 4
)

var cacheMagic = [magicLen]byte{'E', 'N', 'C', 'A', 'P', 'U', 'R', 'E'}

// Header is the fixed-size prefix of a cache file: {magic, version,
// tools_hash, N, D}.
type Header struct {
	Version   uint32
	ToolsHash [32]byte
	N         uint64
	D         uint64
}

// encode serializes header+matrix (row-major, N*D float32 values)
// into the exact byte layout of §3/§6: 60-byte header followed by
// 4*N*D little-endian float bytes.
func encode(header Header, matrix []float32) []byte {
	buf := make([]byte, headerLen+len(matrix)*bytesPerFloat)
	copy(buf[0:magicLen], cacheMagic[:])
	binary.LittleEndian.PutUint32(buf[8:12], header.Version)
	copy(buf[12:44], header.ToolsHash[:])
	binary.LittleEndian.PutUint64(buf[44:52], header.N)
	binary.LittleEndian.PutUint64(buf[52:60], header.D)

	off := headerLen
	for _, v := range matrix {
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
		off += 4
	}
	return buf
}

// decode parses the byte layout written by encode. It returns
// (header, matrix, ok=false, err=nil) when the magic or version don't
// match — a cache miss, not an error, per §4.3. A buffer that is too
// short to even hold a header, or whose length disagrees with the
// N*D the header declares, is a Validation error: the bytes claim to
// be a cache file but are corrupt.
func decode(data []byte) (Header, []float32, bool, error) {
	var h Header

	if len(data) < headerLen {
		return h, nil, false, apperrors.New(apperrors.Validation, "cache file shorter than header")
	}
	if string(data[0:magicLen]) != string(cacheMagic[:]) {
		return h, nil, false, nil
	}

	h.Version = binary.LittleEndian.Uint32(data[8:12])
	if h.Version != cacheVersion {
		return h, nil, false, nil
	}
	copy(h.ToolsHash[:], data[12:44])
	h.N = binary.LittleEndian.Uint64(data[44:52])
	h.D = binary.LittleEndian.Uint64(data[52:60])

	wantLen := headerLen + int(h.N)*int(h.D)*bytesPerFloat
	if len(data) != wantLen {
		return h, nil, false, apperrors.New(apperrors.Validation,
			"cache file length does not match header's N*D")
	}

	matrix := make([]float32, h.N*h.D)
	off := headerLen
	for i := range matrix {
		matrix[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
	}

	return h, matrix, true, nil
}
