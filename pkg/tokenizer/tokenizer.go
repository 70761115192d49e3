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

// Package tokenizer adapts HuggingFace tokenizer bindings to the
// padded-tensor contract the evaluator pool expects: batches of
// (query, document) pairs for the reranker, batches of single texts
// for the embedder.
package tokenizer

import (
	"fmt"

	"github.com/daulet/tokenizers"
	"k8s.io/klog/v2"

	"github.com/dannyavrs/encapure/pkg/apperrors"
)

// Batch is a padded 2D integer tensor triple, row-major, each of
// shape (BatchSize, SeqLen).
type Batch struct {
	IDs       [][]int64
	Mask      [][]int64
	TypeIDs   [][]int64
	SeqLen    int
	BatchSize int
}

// Config holds the settings needed to load one HuggingFace tokenizer
// file off disk.
type Config struct {
	Path      string `json:"path"`
	MaxSeqLen int    `json:"maxSeqLen"`
}

// DefaultConfig returns the zero-value-safe configuration; callers
// must still set Path.
func DefaultConfig() *Config {
	return &Config{MaxSeqLen: 512}
}

// Adapter wraps a single loaded tokenizer file. One Adapter is loaded
// for the reranker's pair tokenizer and a second, independent Adapter
// for the bi-encoder's single-text tokenizer. This service has no
// notion of multiple named models sharing a cache, so, unlike a
// multi-model serving tokenizer, a single loaded instance is held
// directly rather than behind an LRU keyed by model name.
type Adapter struct {
	tok       *tokenizers.Tokenizer
	maxSeqLen int

	// beginID/endID are the special-token ids this tokenizer wraps a
	// single sequence with (e.g. [CLS] ... [SEP] for BERT-family
	// vocabularies), discovered once at load time by encoding the
	// empty string with special tokens enabled.
	beginID, endID uint32
	hasSpecials    bool
}

// Load reads a tokenizer.json file from disk and returns an Adapter
// bounding every encode call to maxSeqLen.
func Load(cfg *Config) (*Adapter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	tok, err := tokenizers.FromFile(cfg.Path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Tokenization,
			fmt.Sprintf("loading tokenizer %q", cfg.Path), err)
	}

	a := &Adapter{tok: tok, maxSeqLen: cfg.MaxSeqLen}
	if empty := tok.EncodeWithOptions("", true); len(empty.IDs) >= 2 {
		a.beginID = empty.IDs[0]
		a.endID = empty.IDs[len(empty.IDs)-1]
		a.hasSpecials = true
	}

	klog.Background().Info("tokenizer loaded", "path", cfg.Path, "maxSeqLen", cfg.MaxSeqLen)

	return a, nil
}

// Close releases the underlying native tokenizer resources.
func (a *Adapter) Close() error {
	return a.tok.Close()
}

// EncodePairs tokenizes (query, doc) for every doc in docs, padding
// every row to the longest example in the batch (capped at
// maxSeqLen), per §4.1's "pad to batch max, not global max" design.
//
// The bound tokenizer exposes only single-sequence encoding, so each
// pair is assembled manually as begin + query + sep + doc + end (with
// token_type_ids 0 over the query segment and 1 over the document
// segment), truncating the document segment first to keep the query
// intact and truncation-keeps-the-prefix overall.
func (a *Adapter) EncodePairs(query string, docs []string) (*Batch, error) {
	if len(docs) == 0 {
		return nil, apperrors.New(apperrors.Tokenization, "documents list cannot be empty")
	}

	queryIDs := a.tok.EncodeWithOptions(query, false).IDs

	rows := make([]pairRow, len(docs))
	maxLen := 0
	for i, doc := range docs {
		docIDs := a.tok.EncodeWithOptions(doc, false).IDs
		row := a.assemblePair(queryIDs, docIDs)
		rows[i] = row
		if len(row.ids) > maxLen {
			maxLen = len(row.ids)
		}
	}

	return buildBatch(rows, maxLen), nil
}

// EncodeTexts tokenizes each entry of texts independently, padding to
// the batch's longest example (capped at maxSeqLen).
func (a *Adapter) EncodeTexts(texts []string) (*Batch, error) {
	if len(texts) == 0 {
		return nil, apperrors.New(apperrors.Tokenization, "texts list cannot be empty")
	}

	rows := make([]pairRow, len(texts))
	maxLen := 0
	for i, text := range texts {
		enc := a.tok.EncodeWithOptions(text, true,
			tokenizers.WithReturnTypeIDs(),
			tokenizers.WithReturnAttentionMask(),
		)
		ids := enc.IDs
		if len(ids) > a.maxSeqLen {
			ids = ids[:a.maxSeqLen]
		}
		types := make([]uint32, len(ids))
		copy(types, enc.TypeIDs)

		rows[i] = pairRow{ids: ids, types: types}
		if len(ids) > maxLen {
			maxLen = len(ids)
		}
	}

	return buildBatch(rows, maxLen), nil
}

// pairRow is one not-yet-padded encoded row: token ids and their
// segment (token-type) ids. The attention mask for a row is always
// all-ones over len(ids) before padding, so it is not stored here.
type pairRow struct {
	ids   []uint32
	types []uint32
}

// assemblePair builds begin + query + sep + doc + end, truncating the
// document segment (from the end) so the total fits maxSeqLen while
// always keeping the query and the boundary tokens intact. If the
// query alone (plus boundary tokens) already exceeds maxSeqLen, the
// query itself is truncated from the end as a last resort.
func (a *Adapter) assemblePair(queryIDs, docIDs []uint32) pairRow {
	overhead := 0
	if a.hasSpecials {
		overhead = 3 // begin, sep, end
	} else {
		overhead = 0
	}

	budget := a.maxSeqLen - overhead - len(queryIDs)
	if budget < 0 {
		// query alone overruns the budget; truncate it and leave no
		// room for the document.
		q := queryIDs
		if a.maxSeqLen-overhead >= 0 && len(q) > a.maxSeqLen-overhead {
			q = q[:a.maxSeqLen-overhead]
		}
		return a.assembleSegments(q, nil)
	}
	doc := docIDs
	if budget >= 0 && len(doc) > budget {
		doc = doc[:budget]
	}
	return a.assembleSegments(queryIDs, doc)
}

func (a *Adapter) assembleSegments(query, doc []uint32) pairRow {
	ids := make([]uint32, 0, len(query)+len(doc)+3)
	types := make([]uint32, 0, cap(ids))

	if a.hasSpecials {
		ids = append(ids, a.beginID)
		types = append(types, 0)
	}
	ids = append(ids, query...)
	for range query {
		types = append(types, 0)
	}
	if a.hasSpecials {
		ids = append(ids, a.endID)
		types = append(types, 0)
	}
	ids = append(ids, doc...)
	for range doc {
		types = append(types, 1)
	}
	if a.hasSpecials {
		ids = append(ids, a.endID)
		types = append(types, 1)
	}

	return pairRow{ids: ids, types: types}
}

func buildBatch(rows []pairRow, maxLen int) *Batch {
	b := &Batch{
		IDs:       make([][]int64, len(rows)),
		Mask:      make([][]int64, len(rows)),
		TypeIDs:   make([][]int64, len(rows)),
		SeqLen:    maxLen,
		BatchSize: len(rows),
	}
	for i, row := range rows {
		idRow := make([]int64, maxLen)
		maskRow := make([]int64, maxLen)
		typeRow := make([]int64, maxLen)
		n := len(row.ids)
		if n > maxLen {
			n = maxLen
		}
		for j := 0; j < n; j++ {
			idRow[j] = int64(row.ids[j])
			maskRow[j] = 1
			if j < len(row.types) {
				typeRow[j] = int64(row.types[j])
			}
		}
		b.IDs[i] = idRow
		b.Mask[i] = maskRow
		b.TypeIDs[i] = typeRow
	}
	return b
}
