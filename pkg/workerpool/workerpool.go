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

// Package workerpool embeds the catalog at startup (C8): batches of
// inference_view texts are tokenized and embedded concurrently across
// up to min(WorkersCount, embedder.Size()) workers, each worker
// claiming its own embedder-pool slot. With one worker or a one-slot
// embedder, the batches are processed one after another.
package workerpool

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/client-go/util/workqueue"
	"k8s.io/klog/v2"

	"github.com/dannyavrs/encapure/pkg/tokenizer"
)

const defaultBatchSize = 16

// Config controls the catalog-embedding worker pool.
type Config struct {
	WorkersCount int `json:"workersCount"`
	BatchSize    int `json:"batchSize"`
}

// DefaultConfig returns a small default pool; EmbedAll further caps
// WorkersCount at the embedder pool's own size.
func DefaultConfig() *Config {
	return &Config{WorkersCount: 4, BatchSize: defaultBatchSize}
}

// Embedder is the subset of evalpool.Pool's embedder contract this
// package needs, kept as an interface so tests can supply a fake.
type Embedder interface {
	Acquire() (int, error)
	Release(idx int)
	RunEmbedder(idx int, batch *tokenizer.Batch) ([][]float32, error)
	Size() int
}

// Tokenizer is the subset of tokenizer.Adapter's contract this
// package needs.
type Tokenizer interface {
	EncodeTexts(texts []string) (*tokenizer.Batch, error)
}

// Pool holds the worker/batch configuration; it carries no running
// goroutines between calls, unlike a long-lived queue consumer — each
// EmbedAll call spins up its own workers and queue, bounded by the
// catalog size rather than the process lifetime.
type Pool struct {
	workers   int
	batchSize int
}

// New returns a Pool configured per cfg.
func New(cfg *Config) *Pool {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	workers := cfg.WorkersCount
	if workers < 1 {
		workers = 1
	}
	batchSize := cfg.BatchSize
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	return &Pool{workers: workers, batchSize: batchSize}
}

// EmbedAll tokenizes and embeds texts in chunks of p.batchSize,
// processed concurrently across min(p.workers, embedder.Size())
// workers, and returns one embedding row per input text in the
// original order.
func (p *Pool) EmbedAll(ctx context.Context, embedder Embedder, tok Tokenizer, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	chunks := chunkTexts(texts, p.batchSize)
	results := make([][][]float32, len(chunks))
	errs := make([]error, len(chunks))

	workers := p.workers
	if embedder.Size() < workers {
		workers = embedder.Size()
	}
	if workers < 1 {
		workers = 1
	}

	queue := workqueue.NewTypedRateLimitingQueue(workqueue.DefaultTypedControllerRateLimiter[int]())
	for i := range chunks {
		queue.Add(i)
	}
	queue.ShutDown() // drains the already-queued items, then stops Get()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx, shutdown := queue.Get()
				if shutdown {
					return
				}
				if ctx.Err() != nil {
					errs[idx] = ctx.Err()
					queue.Done(idx)
					continue
				}

				vecs, err := processChunk(embedder, tok, chunks[idx])
				if err != nil {
					errs[idx] = fmt.Errorf("embedding chunk %d: %w", idx, err)
				} else {
					results[idx] = vecs
				}
				queue.Done(idx)
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	out := make([][]float32, 0, len(texts))
	for _, chunkResult := range results {
		out = append(out, chunkResult...)
	}

	klog.Background().Info("catalog embedding complete", "texts", len(texts), "chunks", len(chunks), "workers", workers)
	return out, nil
}

func processChunk(embedder Embedder, tok Tokenizer, texts []string) ([][]float32, error) {
	batch, err := tok.EncodeTexts(texts)
	if err != nil {
		return nil, err
	}

	slot, err := embedder.Acquire()
	if err != nil {
		return nil, err
	}
	defer embedder.Release(slot)

	return embedder.RunEmbedder(slot, batch)
}

func chunkTexts(texts []string, size int) [][]string {
	chunks := make([][]string, 0, (len(texts)+size-1)/size)
	for i := 0; i < len(texts); i += size {
		end := i + size
		if end > len(texts) {
			end = len(texts)
		}
		chunks = append(chunks, texts[i:end])
	}
	return chunks
}
