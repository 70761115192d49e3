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

// Package retrieval composes the tokenizer adapter, evaluator pool,
// and embedding cache into the two-stage ranking algorithm (C5): a
// plain rerank over caller-supplied documents, and a two-stage
// discovery search over the preloaded tool catalog.
package retrieval

// RerankResult is one scored document from POST /rerank.
type RerankResult struct {
	Index    int     `json:"index"`
	Score    float32 `json:"score"`
	Document string  `json:"document"`
}

// SearchResult is one scored tool from POST /search.
type SearchResult struct {
	Name          string  `json:"name"`
	Score         float32 `json:"score"`
	RawDefinition string  `json:"raw_definition"`
}
