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
	ort "github.com/yalue/onnxruntime_go"

	"github.com/dannyavrs/encapure/pkg/apperrors"
	"github.com/dannyavrs/encapure/pkg/tokenizer"
)

// LoadReranker loads a pool of cross-encoder sessions: each consumes
// (query, doc) token pairs and emits one scalar logit per pair, read
// from the output named "logits".
func LoadReranker(cfg *Config) (*Pool, error) {
	return Load(RerankerVariant, cfg)
}

// RunReranker runs the loaded graph against batch using the session
// held at idx, returning one f32 logit per row, in row order.
// The caller must already hold idx (via Acquire) and remains
// responsible for releasing it; RunReranker never touches the slot
// queue.
func (p *Pool) RunReranker(idx int, batch *tokenizer.Batch) ([]float32, error) {
	if p.variant != RerankerVariant {
		return nil, apperrors.New(apperrors.Model, "RunReranker called on a non-reranker pool")
	}

	inputs, destroy, err := p.buildInputTensors(batch)
	if err != nil {
		return nil, err
	}
	defer destroy()

	outputs := []ort.Value{nil}
	if err := p.sessions[idx].Run(inputs, outputs); err != nil {
		return nil, apperrors.Wrap(apperrors.Model, "reranker inference failed", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	logitsTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, apperrors.New(apperrors.Model, "reranker output \"logits\" has unexpected type")
	}

	data := logitsTensor.GetData()
	if len(data) < batch.BatchSize {
		return nil, apperrors.New(apperrors.Model, "reranker output shorter than batch size")
	}

	// A (batch, 1) logits tensor and a (batch,) one both yield exactly
	// batch_size elements in row-major order; either shape is accepted.
	logits := make([]float32, batch.BatchSize)
	stride := len(data) / batch.BatchSize
	for i := 0; i < batch.BatchSize; i++ {
		logits[i] = data[i*stride]
	}

	return logits, nil
}
