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

package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dannyavrs/encapure/pkg/admission"
	"github.com/dannyavrs/encapure/pkg/apperrors"
	"github.com/dannyavrs/encapure/pkg/catalog"
)

const (
	plainRerankAdmissionTimeout = 30 * time.Second
	plainRerankComputeTimeout   = 300 * time.Second
	searchAdmissionTimeout      = 10 * time.Second
)

// Engine wires the session pool, the tokenizer adapter, the admission
// gate, and the catalog's precomputed embeddings into the two ranking
// operations the handlers expose. It is built once at startup and
// never mutated afterward: every field is read-only for the lifetime
// of the process.
type Engine struct {
	Reranker    Reranker
	Embedder    Embedder
	RerankerTok PairTokenizer
	EmbedderTok TextTokenizer
	Gate        *admission.Gate

	BatchSize           int
	MaxDocuments        int
	RetrievalCandidates int

	// Records/Embeddings/EmbeddingDim describe the preloaded tool
	// catalog. Embeddings is a row-major (len(Records) x EmbeddingDim)
	// matrix of L2-normalized vectors; both are empty when no catalog
	// was configured.
	Records      []catalog.Record
	Embeddings   []float32
	EmbeddingDim int

	// ResultCache is an optional latency optimization for Search; a nil
	// cache (or a miss) always falls through to the real pipeline.
	ResultCache *ResultCache
}

// Rerank implements the plain rerank path: chunked tokenize+inference
// over caller-supplied documents, no catalog involved.
func (e *Engine) Rerank(ctx context.Context, query string, documents []string) ([]RerankResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.New(apperrors.Validation, "query must not be empty")
	}
	if len(documents) == 0 {
		return nil, apperrors.New(apperrors.Validation, "documents must not be empty")
	}
	if len(documents) > e.MaxDocuments {
		return nil, apperrors.New(apperrors.Validation,
			fmt.Sprintf("documents exceeds max_documents (%d)", e.MaxDocuments))
	}

	release, err := e.Gate.Acquire(ctx, plainRerankAdmissionTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	computeCtx, cancel := context.WithTimeout(ctx, plainRerankComputeTimeout)
	defer cancel()

	logits, err := e.rerankChunked(computeCtx, query, documents)
	if err != nil {
		return nil, err
	}

	results := make([]RerankResult, len(documents))
	for i, logit := range logits {
		results[i] = RerankResult{Index: i, Score: sigmoid(logit), Document: documents[i]}
	}
	sortResultsDesc(results)
	return results, nil
}

// Search implements the two-stage discovery path over the preloaded
// catalog: Stage 1 candidate selection by cosine similarity, Stage 2
// rescoring by the cross-encoder on the Stage-1 survivors only.
func (e *Engine) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.New(apperrors.Validation, "query must not be empty")
	}
	if topK < 1 {
		return nil, apperrors.New(apperrors.Validation, "top_k must be >= 1")
	}
	if len(e.Records) == 0 {
		return nil, apperrors.New(apperrors.Validation, "catalog is empty")
	}
	topK = min(topK, len(e.Records))

	if e.ResultCache != nil {
		if cached, ok := e.ResultCache.Get(query, topK); ok {
			return cached, nil
		}
	}

	candidates, err := e.stage1Candidates(query)
	if err != nil {
		return nil, err
	}

	release, err := e.Gate.Acquire(ctx, searchAdmissionTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	docs := make([]string, len(candidates))
	for i, idx := range candidates {
		docs[i] = e.Records[idx].InferenceView
	}

	logits, err := e.rerankChunked(ctx, query, docs)
	if err != nil {
		return nil, err
	}

	type scoredCandidate struct {
		recordIdx int
		score     float32
	}
	scored := make([]scoredCandidate, len(candidates))
	for i, idx := range candidates {
		scored[i] = scoredCandidate{recordIdx: idx, score: sigmoid(logits[i])}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	topK = min(topK, len(scored))
	results := make([]SearchResult, topK)
	for i := 0; i < topK; i++ {
		rec := e.Records[scored[i].recordIdx]
		results[i] = SearchResult{Name: rec.Name, Score: scored[i].score, RawDefinition: rec.RawDefinition}
	}

	if e.ResultCache != nil {
		e.ResultCache.Set(query, topK, results)
	}
	return results, nil
}

// stage1Candidates embeds query with a non-blocking embedder slot,
// scores every catalog row by cosine similarity (a plain dot product,
// since every row and the query vector are L2-normalized), and
// returns the top RetrievalCandidates indices, ties broken by
// ascending index via a stable sort.
func (e *Engine) stage1Candidates(query string) ([]int, error) {
	slot, err := e.Embedder.Acquire()
	if err != nil {
		return nil, err
	}
	defer e.Embedder.Release(slot)

	batch, err := e.EmbedderTok.EncodeTexts([]string{query})
	if err != nil {
		return nil, err
	}
	vecs, err := e.Embedder.RunEmbedder(slot, batch)
	if err != nil {
		return nil, err
	}
	q := vecs[0]

	type scored struct {
		idx   int
		score float32
	}
	scores := make([]scored, len(e.Records))
	for i := range e.Records {
		row := e.Embeddings[i*e.EmbeddingDim : (i+1)*e.EmbeddingDim]
		scores[i] = scored{idx: i, score: dot(q, row)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	k := min(e.RetrievalCandidates, len(scores))
	candidates := make([]int, k)
	for i := 0; i < k; i++ {
		candidates[i] = scores[i].idx
	}
	return candidates, nil
}

// rerankChunked acquires one reranker slot and holds it across every
// chunk of docs, releasing it unconditionally when the chunked work
// finishes (successfully, with an error, or by panicking). The chunked
// work keeps running in its own goroutine past a timeout (compute is
// not cancellable mid-inference, per §5) and keeps the slot until it
// ends, but the caller sees a Resource error as soon as ctx's deadline
// fires so the request runtime is never blocked on a hung worker.
func (e *Engine) rerankChunked(ctx context.Context, query string, docs []string) ([]float32, error) {
	slot, err := e.Reranker.Acquire()
	if err != nil {
		return nil, err
	}

	type outcome struct {
		scores []float32
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer e.Reranker.Release(slot)
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: apperrors.New(apperrors.Model, fmt.Sprintf("reranker worker panicked: %v", r))}
			}
		}()

		scores := make([]float32, 0, len(docs))
		for start := 0; start < len(docs); start += e.BatchSize {
			end := min(start+e.BatchSize, len(docs))
			chunk := docs[start:end]

			batch, err := e.RerankerTok.EncodePairs(query, chunk)
			if err != nil {
				done <- outcome{err: err}
				return
			}
			logits, err := e.Reranker.RunReranker(slot, batch)
			if err != nil {
				done <- outcome{err: err}
				return
			}
			scores = append(scores, logits...)
		}
		done <- outcome{scores: scores}
	}()

	select {
	case res := <-done:
		return res.scores, res.err
	case <-ctx.Done():
		return nil, apperrors.New(apperrors.Resource, "compute timed out")
	}
}

// sigmoid is σ(x) = 1/(1+e^-x), applied to every reranker logit
// before sorting.
func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// sortResultsDesc sorts by descending score; ties keep their original
// (ascending index) order via a stable sort.
func sortResultsDesc(results []RerankResult) {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}
