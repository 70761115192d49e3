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

//nolint:testpackage // need to test internal types
package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u32s(n int) []uint32 {
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = uint32(i + 1)
	}
	return ids
}

func TestBuildBatchPadsToBatchMax(t *testing.T) {
	rows := []pairRow{
		{ids: u32s(3), types: []uint32{0, 0, 0}},
		{ids: u32s(5), types: []uint32{0, 0, 0, 1, 1}},
	}

	batch := buildBatch(rows, 5)

	require.Equal(t, 2, batch.BatchSize)
	assert.Equal(t, 5, batch.SeqLen)
	assert.Equal(t, []int64{1, 1, 1, 0, 0}, batch.Mask[0])
	assert.Equal(t, []int64{1, 1, 1, 1, 1}, batch.Mask[1])
	assert.Equal(t, []int64{1, 2, 3, 0, 0}, batch.IDs[0])
}

func TestAssembleSegmentsNoSpecials(t *testing.T) {
	a := &Adapter{maxSeqLen: 10, hasSpecials: false}
	row := a.assembleSegments(u32s(2), u32s(3))

	assert.Len(t, row.ids, 5)
	assert.Equal(t, []uint32{0, 0, 1, 1, 1}, row.types)
}

func TestAssembleSegmentsWithSpecials(t *testing.T) {
	a := &Adapter{maxSeqLen: 10, hasSpecials: true, beginID: 101, endID: 102}
	row := a.assembleSegments(u32s(2), u32s(3))

	// begin + query(2) + end + doc(3) + end == 8
	require.Len(t, row.ids, 8)
	assert.Equal(t, uint32(101), row.ids[0])
	assert.Equal(t, uint32(102), row.ids[3])
	assert.Equal(t, uint32(102), row.ids[7])
	assert.Equal(t, []uint32{0, 0, 0, 0, 1, 1, 1, 1}, row.types)
}

func TestAssemblePairTruncatesDocumentFirst(t *testing.T) {
	a := &Adapter{maxSeqLen: 8, hasSpecials: true, beginID: 101, endID: 102}
	// overhead 3, query 2 -> budget for doc is 3, doc has 10 tokens available.
	row := a.assemblePair(u32s(2), u32s(10))

	assert.Len(t, row.ids, 8)
	// query segment (ids[1:3]) must survive untouched.
	assert.Equal(t, []uint32{1, 2}, row.ids[1:3])
}

func TestAssemblePairTruncatesQueryWhenItAloneOverruns(t *testing.T) {
	a := &Adapter{maxSeqLen: 4, hasSpecials: true, beginID: 101, endID: 102}
	row := a.assemblePair(u32s(10), u32s(10))

	assert.LessOrEqual(t, len(row.ids), 4)
}
