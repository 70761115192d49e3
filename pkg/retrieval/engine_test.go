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

//nolint:testpackage // sigmoid/dot/sortResultsDesc are unexported
package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dannyavrs/encapure/pkg/apperrors"
	"github.com/dannyavrs/encapure/pkg/catalog"
)

func TestSigmoidBoundaries(t *testing.T) {
	assert.InDelta(t, 0.5, sigmoid(0), 1e-4)
	assert.Greater(t, sigmoid(10), float32(0.99))
	assert.Less(t, sigmoid(-10), float32(0.01))
}

func TestDotProductOfNormalizedVectors(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	assert.InDelta(t, 1.0, dot(a, b), 1e-6)

	c := []float32{0, 1, 0}
	assert.InDelta(t, 0.0, dot(a, c), 1e-6)
}

func TestSortResultsDescIsStableOnTies(t *testing.T) {
	results := []RerankResult{
		{Index: 0, Score: 0.5},
		{Index: 1, Score: 0.9},
		{Index: 2, Score: 0.5},
	}
	sortResultsDesc(results)

	assert.Equal(t, 1, results[0].Index)
	assert.Equal(t, 0, results[1].Index) // tie broken by original (ascending-index) order
	assert.Equal(t, 2, results[2].Index)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestRerankRejectsEmptyQuery(t *testing.T) {
	e := &Engine{MaxDocuments: 10}
	_, err := e.Rerank(context.Background(), "", []string{"a"})
	require.Error(t, err)
	assert.True(t, apperrors.AsKind(err, apperrors.Validation))
}

func TestRerankRejectsEmptyDocuments(t *testing.T) {
	e := &Engine{MaxDocuments: 10}
	_, err := e.Rerank(context.Background(), "q", nil)
	require.Error(t, err)
	assert.True(t, apperrors.AsKind(err, apperrors.Validation))
}

func TestRerankRejectsOversizedBatch(t *testing.T) {
	e := &Engine{MaxDocuments: 2}
	_, err := e.Rerank(context.Background(), "q", []string{"a", "b", "c"})
	require.Error(t, err)
	assert.True(t, apperrors.AsKind(err, apperrors.Validation))
	assert.Contains(t, err.Error(), "2")
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	e := &Engine{Records: []catalog.Record{{Name: "t"}}}
	_, err := e.Search(context.Background(), "", 3)
	require.Error(t, err)
	assert.True(t, apperrors.AsKind(err, apperrors.Validation))
}

func TestSearchRejectsBadTopK(t *testing.T) {
	e := &Engine{Records: []catalog.Record{{Name: "t"}}}
	_, err := e.Search(context.Background(), "q", 0)
	require.Error(t, err)
	assert.True(t, apperrors.AsKind(err, apperrors.Validation))
}

func TestSearchRejectsEmptyCatalog(t *testing.T) {
	e := &Engine{}
	_, err := e.Search(context.Background(), "q", 3)
	require.Error(t, err)
	assert.True(t, apperrors.AsKind(err, apperrors.Validation))
}
