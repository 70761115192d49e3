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

// Package evalpool implements the fixed-size pool of exclusive-access
// ONNX evaluator instances (C2): one pool shape, two variants
// (reranker, embedder), a slot index handed out through a buffered
// channel acting as the lock-free availability queue described in the
// design notes.
//
// Safety rests on the invariant "index in the channel XOR index held
// by a caller"; no code outside acquire/release ever touches a session
// without having received its index.
package evalpool

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"k8s.io/klog/v2"

	"github.com/dannyavrs/encapure/pkg/apperrors"
	"github.com/dannyavrs/encapure/pkg/tokenizer"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// Variant distinguishes the two evaluator shapes the pool hosts. Both
// share the same pool/slot machinery; they differ in input/output
// contract and in what RunX does with the raw tensor output.
type Variant int

const (
	RerankerVariant Variant = iota
	EmbedderVariant
)

// candidateInputNames lists every input the pool probes for at load
// time, in order. input_ids and attention_mask are mandatory;
// token_type_ids is bound only if the graph declares it, per the
// reference's "probe, don't hard-code a schema" resolution of its
// two/three-input discrepancy.
var candidateInputNames = []string{"input_ids", "attention_mask", "token_type_ids"}

func outputNameFor(v Variant) string {
	if v == RerankerVariant {
		return "logits"
	}
	return "last_hidden_state"
}

// Pool is a fixed-size set of independent ONNX sessions over the same
// model, with a non-blocking acquire/release slot protocol.
type Pool struct {
	variant Variant

	sessions []*ort.DynamicAdvancedSession
	slots    chan int // the lock-free availability queue

	inputNames []string // resolved subset of candidateInputNames this graph accepts
	outputName string

	embeddingDim int // EmbedderVariant only; 0 until the first run discovers it
	dimMu        sync.Mutex
}

// Config controls pool construction.
type Config struct {
	ModelPath    string `json:"modelPath"`
	PoolSize     int    `json:"poolSize"`
	IntraThreads int    `json:"intraThreads"`
}

// initRuntime lazily sets an explicit shared-library path (if
// ORT_LIB_PATH is set in the environment — the "given" deployment
// concern of locating onnxruntime.so) and initializes the ONNX
// Runtime environment exactly once per process.
func initRuntime() error {
	ortInitOnce.Do(func() {
		if p := os.Getenv("ORT_LIB_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// Load instantiates cfg.PoolSize independent sessions, each with
// cfg.IntraThreads compute threads and a single cross-op thread, at
// maximum graph optimization. Every session (and every input-name
// probe session) is constructed from cfg.ModelPath, so the model file
// is read once per session rather than once per pool. Every slot index
// 0..PoolSize-1 is pushed into the availability queue before Load
// returns.
func Load(variant Variant, cfg *Config) (*Pool, error) {
	if err := initRuntime(); err != nil {
		return nil, apperrors.Wrap(apperrors.Model, "initializing onnxruntime environment", err)
	}
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}

	inputNames, err := probeInputNames(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	outputName := outputNameFor(variant)

	p := &Pool{
		variant:    variant,
		sessions:   make([]*ort.DynamicAdvancedSession, cfg.PoolSize),
		slots:      make(chan int, cfg.PoolSize),
		inputNames: inputNames,
		outputName: outputName,
	}

	for i := 0; i < cfg.PoolSize; i++ {
		opts, err := ort.NewSessionOptions()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.Model, "creating session options", err)
		}
		if err := opts.SetIntraOpNumThreads(cfg.IntraThreads); err != nil {
			opts.Destroy()
			return nil, apperrors.Wrap(apperrors.Model, "setting intra-op threads", err)
		}
		if err := opts.SetInterOpNumThreads(1); err != nil {
			opts.Destroy()
			return nil, apperrors.Wrap(apperrors.Model, "setting inter-op threads", err)
		}
		if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
			opts.Destroy()
			return nil, apperrors.Wrap(apperrors.Model, "setting graph optimization level", err)
		}

		session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, []string{outputName}, opts)
		opts.Destroy()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.Model, fmt.Sprintf("creating session %d", i), err)
		}

		p.sessions[i] = session
		p.slots <- i
	}

	klog.Background().Info("evaluator pool loaded",
		"variant", variant, "poolSize", cfg.PoolSize, "intraThreads", cfg.IntraThreads,
		"inputNames", inputNames, "model", cfg.ModelPath)

	return p, nil
}

// probeInputNames tries the full candidate input list first (so that
// graphs declaring token_type_ids get it bound), falling back to the
// two-input list when session creation with all three names fails.
// This is the load-time probe the design notes call for, implemented
// without assuming a prior input-introspection call: ONNX Runtime
// itself rejects a session bound to a name the graph doesn't declare,
// so a failed trial session is the probe.
func probeInputNames(modelPath string) ([]string, error) {
	full := candidateInputNames
	reduced := candidateInputNames[:2]

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Model, "creating probe session options", err)
	}
	defer opts.Destroy()

	if probe, err := ort.NewDynamicAdvancedSession(modelPath, full, []string{"logits"}, opts); err == nil {
		probe.Destroy()
		return full, nil
	}
	if probe, err := ort.NewDynamicAdvancedSession(modelPath, full, []string{"last_hidden_state"}, opts); err == nil {
		probe.Destroy()
		return full, nil
	}
	if probe, err := ort.NewDynamicAdvancedSession(modelPath, reduced, []string{"logits"}, opts); err == nil {
		probe.Destroy()
		return reduced, nil
	}
	if probe, err := ort.NewDynamicAdvancedSession(modelPath, reduced, []string{"last_hidden_state"}, opts); err == nil {
		probe.Destroy()
		return reduced, nil
	}

	return nil, apperrors.New(apperrors.Model,
		fmt.Sprintf("model %q declares neither a 2-input nor a 3-input (ids, mask[, type_ids]) schema", modelPath))
}

// Acquire returns an available slot index. Non-blocking: fails fast
// with a Resource error when the queue is empty rather than waiting.
func (p *Pool) Acquire() (int, error) {
	select {
	case idx := <-p.slots:
		return idx, nil
	default:
		return 0, apperrors.New(apperrors.Resource, "no available sessions")
	}
}

// Release returns idx to the availability queue. Must be called
// exactly once per successful Acquire, on every exit path.
func (p *Pool) Release(idx int) {
	p.slots <- idx
}

// Size returns the number of sessions in the pool.
func (p *Pool) Size() int { return len(p.sessions) }

// HasTokenTypeIDs reports whether the loaded graph declared a
// token_type_ids input.
func (p *Pool) HasTokenTypeIDs() bool {
	return len(p.inputNames) == 3
}

// Close destroys every session in the pool. Must only be called after
// all in-flight acquisitions have released their slots.
func (p *Pool) Close() {
	for _, s := range p.sessions {
		if s != nil {
			s.Destroy()
		}
	}
}

// buildInputTensors constructs ORT tensors for a tokenizer.Batch,
// binding token_type_ids only if the graph requires it. Caller must
// destroy every returned tensor (and the []ort.Value slice is already
// in the order matching p.inputNames).
func (p *Pool) buildInputTensors(batch *tokenizer.Batch) ([]ort.Value, func(), error) {
	shape := ort.NewShape(int64(batch.BatchSize), int64(batch.SeqLen))

	idsT, err := ort.NewTensor(shape, flatten(batch.IDs))
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.Model, "building input_ids tensor", err)
	}
	maskT, err := ort.NewTensor(shape, flatten(batch.Mask))
	if err != nil {
		idsT.Destroy()
		return nil, nil, apperrors.Wrap(apperrors.Model, "building attention_mask tensor", err)
	}

	values := []ort.Value{idsT, maskT}
	destroy := func() {
		idsT.Destroy()
		maskT.Destroy()
	}

	if p.HasTokenTypeIDs() {
		typesT, err := ort.NewTensor(shape, flatten(batch.TypeIDs))
		if err != nil {
			destroy()
			return nil, nil, apperrors.Wrap(apperrors.Model, "building token_type_ids tensor", err)
		}
		values = append(values, typesT)
		prevDestroy := destroy
		destroy = func() {
			prevDestroy()
			typesT.Destroy()
		}
	}

	return values, destroy, nil
}

func flatten(rows [][]int64) []int64 {
	if len(rows) == 0 {
		return nil
	}
	out := make([]int64, 0, len(rows)*len(rows[0]))
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}
