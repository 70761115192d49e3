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

// Package startup implements the startup orchestrator (C8): CPU
// topology probing, permit/pool budget computation, model/tokenizer
// loading, optional catalog ingestion with a cache load-or-recompute
// step, warmup, and readiness.
package startup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"k8s.io/klog/v2"

	"github.com/dannyavrs/encapure/pkg/admission"
	"github.com/dannyavrs/encapure/pkg/apperrors"
	"github.com/dannyavrs/encapure/pkg/cache"
	"github.com/dannyavrs/encapure/pkg/catalog"
	"github.com/dannyavrs/encapure/pkg/config"
	"github.com/dannyavrs/encapure/pkg/evalpool"
	"github.com/dannyavrs/encapure/pkg/retrieval"
	"github.com/dannyavrs/encapure/pkg/tokenizer"
	"github.com/dannyavrs/encapure/pkg/utils"
	"github.com/dannyavrs/encapure/pkg/workerpool"
)

// AppState is the process-singleton constructed once by Run and
// shared by reference for the remainder of the process's lifetime.
// Nothing mutates it after Run returns except ReadyFlag, which Run
// itself has already flipped true before handing it back.
type AppState struct {
	Engine    *retrieval.Engine
	Config    *config.Config
	ReadyFlag *atomic.Bool
}

// Run executes the startup sequence of §4.8 and returns the
// constructed, ready-to-serve app state.
func Run(ctx context.Context, cfg *config.Config) (*AppState, error) {
	logger := klog.FromContext(ctx).WithName("startup")

	physical, poolSize, permits := computeBudget(cfg)
	if permits*cfg.IntraThreads > physical {
		logger.Info("admission permits oversubscribe physical cores",
			"permits", permits, "intraThreads", cfg.IntraThreads, "physical", physical)
	}
	logger.Info("computed budget", "physicalCores", physical, "poolSize", poolSize, "permits", permits)

	rerankerPool, err := evalpool.LoadReranker(&evalpool.Config{
		ModelPath: cfg.ModelPath, PoolSize: poolSize, IntraThreads: cfg.IntraThreads,
	})
	if err != nil {
		return nil, err
	}

	rerankerTok, err := tokenizer.Load(&tokenizer.Config{Path: cfg.TokenizerPath, MaxSeqLen: cfg.MaxSeqLen})
	if err != nil {
		return nil, err
	}

	embedderTok, err := tokenizer.Load(&tokenizer.Config{Path: cfg.BiEncoderTokenizerPath, MaxSeqLen: cfg.MaxSeqLen})
	if err != nil {
		return nil, err
	}

	records, embeddings, embeddingDim, embedderPool, err := loadCatalog(ctx, cfg, embedderTok, poolSize)
	if err != nil {
		return nil, err
	}

	if err := warmup(rerankerPool, rerankerTok); err != nil {
		return nil, err
	}

	var resultCache *retrieval.ResultCache
	if cfg.ResultCacheSize != "" {
		resultCache, err = retrieval.NewResultCache(&retrieval.ResultCacheConfig{Size: cfg.ResultCacheSize})
		if err != nil {
			return nil, fmt.Errorf("building result cache: %w", err)
		}
	}

	engine := &retrieval.Engine{
		Reranker:            rerankerPool,
		Embedder:            embedderPool,
		RerankerTok:         rerankerTok,
		EmbedderTok:         embedderTok,
		Gate:                admission.New(permits),
		BatchSize:           cfg.BatchSize,
		MaxDocuments:        cfg.MaxDocuments,
		RetrievalCandidates: cfg.RetrievalCandidates,
		Records:             records,
		Embeddings:          embeddings,
		EmbeddingDim:        embeddingDim,
		ResultCache:         resultCache,
	}

	ready := &atomic.Bool{}
	ready.Store(true)
	logger.Info("startup complete", "tools", len(records), "ready", true)

	return &AppState{Engine: engine, Config: cfg, ReadyFlag: ready}, nil
}

// computeBudget derives physical core count, pool size, and admission
// permits per §4.8/§4.6, honoring explicit overrides in cfg.
func computeBudget(cfg *config.Config) (physical, poolSize, permits int) {
	logical := runtime.NumCPU()
	physical = max(1, logical/2)

	poolSize = physical
	if cfg.PoolSize != nil {
		poolSize = *cfg.PoolSize
	}

	permits = admission.ComputePermits(physical, cfg.IntraThreads)
	if cfg.Permits != nil {
		permits = *cfg.Permits
	}

	return physical, poolSize, permits
}

// loadCatalog implements step 4 of §4.8: when tools_path is unset, it
// returns an empty catalog and a freshly constructed embedder pool.
// When set, it atomizes the document, tries the embedding cache, and
// falls back to recomputation (saving the result) on a miss.
func loadCatalog(
	ctx context.Context, cfg *config.Config, embedderTok *tokenizer.Adapter, poolSize int,
) ([]catalog.Record, []float32, int, *evalpool.Pool, error) {
	logger := klog.FromContext(ctx).WithName("startup.loadCatalog")

	if cfg.ToolsPath == "" {
		pool, err := evalpool.LoadEmbedder(&evalpool.Config{
			ModelPath: cfg.BiEncoderModelPath, PoolSize: poolSize, IntraThreads: cfg.IntraThreads,
		})
		if err != nil {
			return nil, nil, 0, nil, err
		}
		return nil, nil, 0, pool, nil
	}

	data, err := os.ReadFile(cfg.ToolsPath) //nolint:gosec // operator-provided configuration path
	if err != nil {
		return nil, nil, 0, nil, apperrors.Wrap(apperrors.Validation,
			fmt.Sprintf("reading catalog %q", cfg.ToolsPath), err)
	}

	origin := strings.TrimSuffix(filepath.Base(cfg.ToolsPath), filepath.Ext(cfg.ToolsPath))
	records, err := catalog.Atomize(origin, data)
	if err != nil {
		return nil, nil, 0, nil, err
	}

	names := utils.SliceMap(records, func(r catalog.Record) string { return r.Name })
	views := utils.SliceMap(records, func(r catalog.Record) string { return r.InferenceView })

	store, err := buildCacheStore(cfg)
	if err != nil {
		return nil, nil, 0, nil, fmt.Errorf("building cache store: %w", err)
	}

	header, matrix, hit, loadErr := store.Load(ctx)
	if loadErr != nil {
		logger.Info("embedding cache load failed, recomputing", "error", loadErr.Error())
		hit = false
	}

	if hit && cache.IsValidFor(header, names, views) {
		logger.Info("embedding cache hit", "tools", len(records))
		pool, err := evalpool.LoadEmbedder(&evalpool.Config{
			ModelPath: cfg.BiEncoderModelPath, PoolSize: poolSize, IntraThreads: cfg.IntraThreads,
		})
		if err != nil {
			return nil, nil, 0, nil, err
		}
		return records, matrix, int(header.D), pool, nil
	}

	logger.Info("embedding cache miss or invalid, recomputing catalog embeddings", "tools", len(records))
	return recomputeCatalogEmbeddings(ctx, cfg, embedderTok, records, names, views, store, poolSize)
}

// recomputeCatalogEmbeddings builds a single embedder, batch-encodes
// every inference_view on it with one worker, saves the result to the cache,
// then reconstructs the embedder as a query-time pool, per §4.8 step 4.
func recomputeCatalogEmbeddings(
	ctx context.Context, cfg *config.Config, embedderTok *tokenizer.Adapter,
	records []catalog.Record, names, views []string, store cache.Store, poolSize int,
) ([]catalog.Record, []float32, int, *evalpool.Pool, error) {
	single, err := evalpool.LoadEmbedder(&evalpool.Config{
		ModelPath: cfg.BiEncoderModelPath, PoolSize: 1, IntraThreads: cfg.IntraThreads,
	})
	if err != nil {
		return nil, nil, 0, nil, err
	}

	wp := workerpool.New(&workerpool.Config{WorkersCount: 1, BatchSize: cfg.BatchSize})
	vecs, err := wp.EmbedAll(ctx, single, embedderTok, views)
	if err != nil {
		single.Close()
		return nil, nil, 0, nil, err
	}

	dim := single.EmbeddingDim()
	single.Close()

	flat := make([]float32, 0, len(vecs)*dim)
	for _, v := range vecs {
		flat = append(flat, v...)
	}

	header := cache.Header{
		Version:   1,
		ToolsHash: cache.ComputeToolsHash(names, views),
		N:         uint64(len(records)), //nolint:gosec // bounded by a real catalog size
		D:         uint64(dim),          //nolint:gosec // bounded by embedder hidden size
	}
	if err := store.Save(ctx, header, flat); err != nil {
		klog.FromContext(ctx).Info("embedding cache save failed, continuing without it", "error", err.Error())
	}

	pool, err := evalpool.LoadEmbedder(&evalpool.Config{
		ModelPath: cfg.BiEncoderModelPath, PoolSize: poolSize, IntraThreads: cfg.IntraThreads,
	})
	if err != nil {
		return nil, nil, 0, nil, err
	}

	return records, flat, dim, pool, nil
}

func buildCacheStore(cfg *config.Config) (cache.Store, error) {
	if cfg.RedisCacheURL != "" {
		return cache.NewStore(&cache.Config{RedisConfig: &cache.RedisConfig{Address: cfg.RedisCacheURL}})
	}
	return cache.NewStore(cache.DefaultConfig(cfg.EmbeddingsCachePath))
}

// warmup runs one encode+infer cycle so the first real request never
// pays the cost of lazy graph/runtime warmup, per §4.8 step 5.
func warmup(pool *evalpool.Pool, tok *tokenizer.Adapter) error {
	batch, err := tok.EncodePairs("warmup query", []string{"warmup document"})
	if err != nil {
		return err
	}

	slot, err := pool.Acquire()
	if err != nil {
		return err
	}
	defer pool.Release(slot)

	_, err = pool.RunReranker(slot, batch)
	return err
}
