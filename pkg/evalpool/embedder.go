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

package evalpool

import (
	"math"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/dannyavrs/encapure/pkg/apperrors"
	"github.com/dannyavrs/encapure/pkg/tokenizer"
)

// LoadEmbedder loads a pool of bi-encoder sessions: each consumes a
// single text and emits a per-token hidden state, read from the
// output named "last_hidden_state", which RunEmbedder mean-pools and
// L2-normalizes into one fixed-size vector per input row.
func LoadEmbedder(cfg *Config) (*Pool, error) {
	return Load(EmbedderVariant, cfg)
}

// RunEmbedder runs the loaded graph against batch using the session
// held at idx, returning one L2-normalized embedding row per input.
// Mean pooling is computed over positions where the attention mask is
// 1; a row whose mask is all-zero is left as the zero vector rather
// than divided by zero, per §4.2's pooling algorithm.
func (p *Pool) RunEmbedder(idx int, batch *tokenizer.Batch) ([][]float32, error) {
	if p.variant != EmbedderVariant {
		return nil, apperrors.New(apperrors.Model, "RunEmbedder called on a non-embedder pool")
	}

	inputs, destroy, err := p.buildInputTensors(batch)
	if err != nil {
		return nil, err
	}
	defer destroy()

	outputs := []ort.Value{nil}
	if err := p.sessions[idx].Run(inputs, outputs); err != nil {
		return nil, apperrors.Wrap(apperrors.Model, "embedder inference failed", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	hiddenTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, apperrors.New(apperrors.Model, "embedder output \"last_hidden_state\" has unexpected type")
	}

	shape := hiddenTensor.GetShape()
	if len(shape) != 3 {
		return nil, apperrors.New(apperrors.Model, "embedder output is not a 3D (batch, seq, hidden) tensor")
	}
	seqLen := int(shape[1])
	hiddenSize := int(shape[2])

	p.dimMu.Lock()
	p.embeddingDim = hiddenSize
	p.dimMu.Unlock()

	data := hiddenTensor.GetData()
	embeddings := make([][]float32, batch.BatchSize)

	for i := 0; i < batch.BatchSize; i++ {
		vec := make([]float32, hiddenSize)
		var count float32
		for j := 0; j < seqLen; j++ {
			if batch.Mask[i][j] == 0 {
				continue
			}
			base := (i*seqLen + j) * hiddenSize
			for d := 0; d < hiddenSize; d++ {
				vec[d] += data[base+d]
			}
			count++
		}
		if count > 0 {
			for d := range vec {
				vec[d] /= count
			}
		}
		l2Normalize(vec)
		embeddings[i] = vec
	}

	return embeddings, nil
}

// EmbeddingDim returns the hidden size discovered by the most recent
// RunEmbedder call, or 0 before any call has run.
func (p *Pool) EmbeddingDim() int {
	p.dimMu.Lock()
	defer p.dimMu.Unlock()
	return p.embeddingDim
}

// l2Normalize scales v in place to unit L2 norm, leaving the zero
// vector unchanged (a row that contributes no similarity, per §4.2).
func l2Normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return
	}
	inv := float32(1.0 / norm)
	for i := range v {
		v[i] *= inv
	}
}
