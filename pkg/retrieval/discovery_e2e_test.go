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

package retrieval_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/dannyavrs/encapure/pkg/admission"
	"github.com/dannyavrs/encapure/pkg/catalog"
	"github.com/dannyavrs/encapure/pkg/retrieval"
	"github.com/dannyavrs/encapure/pkg/tokenizer"
)

// textKeyedTokenizer stands in for the real HuggingFace adapter: it
// encodes each text as a single token whose id is looked up from a
// fixed table, so a fake reranker can recover which document a row
// represents without parsing real token ids.
type textKeyedTokenizer struct {
	ids map[string]int64
}

func (t *textKeyedTokenizer) EncodePairs(_ string, docs []string) (*tokenizer.Batch, error) {
	ids := make([][]int64, len(docs))
	mask := make([][]int64, len(docs))
	for i, d := range docs {
		ids[i] = []int64{t.ids[d]}
		mask[i] = []int64{1}
	}
	return &tokenizer.Batch{IDs: ids, Mask: mask, SeqLen: 1, BatchSize: len(docs)}, nil
}

func (t *textKeyedTokenizer) EncodeTexts(texts []string) (*tokenizer.Batch, error) {
	return t.EncodePairs("", texts)
}

// scoreLookupReranker returns a preset logit per document id, modeling
// a cross-encoder that has already learned DevOps-relevant tools
// score higher against an uptime-check query.
type scoreLookupReranker struct {
	scores map[int64]float32
}

func (r *scoreLookupReranker) Acquire() (int, error) { return 0, nil }
func (r *scoreLookupReranker) Release(int)           {}

func (r *scoreLookupReranker) RunReranker(_ int, batch *tokenizer.Batch) ([]float32, error) {
	out := make([]float32, batch.BatchSize)
	for i, row := range batch.IDs {
		out[i] = r.scores[row[0]]
	}
	return out, nil
}

// fixedEmbedder returns the same unit vector for every row, so every
// catalog row survives Stage 1 with an equal cosine score and the
// ranking in the discovery scenario is decided entirely by Stage 2.
type fixedEmbedder struct{}

func (fixedEmbedder) Acquire() (int, error) { return 0, nil }
func (fixedEmbedder) Release(int)           {}

func (fixedEmbedder) RunEmbedder(_ int, batch *tokenizer.Batch) ([][]float32, error) {
	out := make([][]float32, batch.BatchSize)
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

// TestDiscoveryRanksDevOpsToolsAboveUnrelatedOnes grounds the
// discovery scenario: a catalog of five tools, two of them unrelated
// to server health, and a query asking whether the server is running.
func TestDiscoveryRanksDevOpsToolsAboveUnrelatedOnes(t *testing.T) {
	devOps := sets.New("aws_list_instances", "k8s_get_pods", "check_service_health")
	names := []string{"aws_list_instances", "k8s_get_pods", "check_service_health", "read_file", "send_slack_message"}

	records := make([]catalog.Record, len(names))
	ids := make(map[string]int64, len(names))
	for i, name := range names {
		view := "TOOL: " + name
		records[i] = catalog.Record{Name: name, InferenceView: view, RawDefinition: "{}"}
		ids[view] = int64(i + 1)
	}

	embeddings := make([]float32, len(names)*2)
	for i := range names {
		embeddings[i*2] = 1
		embeddings[i*2+1] = 0
	}

	scores := map[int64]float32{
		ids["TOOL: aws_list_instances"]:   5,
		ids["TOOL: k8s_get_pods"]:         4,
		ids["TOOL: check_service_health"]: 3,
		ids["TOOL: read_file"]:            -2,
		ids["TOOL: send_slack_message"]:   -3,
	}

	engine := &retrieval.Engine{
		Reranker:            &scoreLookupReranker{scores: scores},
		Embedder:            fixedEmbedder{},
		RerankerTok:         &textKeyedTokenizer{ids: ids},
		EmbedderTok:         &textKeyedTokenizer{ids: ids},
		Gate:                admission.New(1),
		BatchSize:           16,
		MaxDocuments:        100,
		RetrievalCandidates: len(names),
		Records:             records,
		Embeddings:          embeddings,
		EmbeddingDim:        2,
	}

	results, err := engine.Search(context.Background(), "verify if the server is running", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	top3 := sets.New[string]()
	for _, r := range results {
		top3.Insert(r.Name)
	}

	assert.GreaterOrEqual(t, top3.Intersection(devOps).Len(), 2)
	assert.False(t, top3.Has("read_file"))
	assert.False(t, top3.Has("send_slack_message"))

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}
