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

import "github.com/dannyavrs/encapure/pkg/tokenizer"

// Reranker is the subset of evalpool.Pool's cross-encoder contract the
// engine needs, kept as an interface (mirroring the workerpool
// package's approach) so tests can exercise Rerank/Search without a
// loaded ONNX graph.
type Reranker interface {
	Acquire() (int, error)
	Release(idx int)
	RunReranker(idx int, batch *tokenizer.Batch) ([]float32, error)
}

// Embedder is the subset of evalpool.Pool's bi-encoder contract the
// engine needs.
type Embedder interface {
	Acquire() (int, error)
	Release(idx int)
	RunEmbedder(idx int, batch *tokenizer.Batch) ([][]float32, error)
}

// PairTokenizer is the subset of tokenizer.Adapter the reranker path needs.
type PairTokenizer interface {
	EncodePairs(query string, docs []string) (*tokenizer.Batch, error)
}

// TextTokenizer is the subset of tokenizer.Adapter the embedder path needs.
type TextTokenizer interface {
	EncodeTexts(texts []string) (*tokenizer.Batch, error)
}
