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

// Package config loads the process-wide settings consumed by the
// startup orchestrator from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Mode is an operating-mode preset that fixes pool_size, permits, and
// intra_threads together, per §4.8.
type Mode string

const (
	Single     Mode = "single"
	Concurrent Mode = "concurrent"
	Custom     Mode = "custom"
)

// Config holds every setting named in the external interface section:
// host, port, model paths, tokenizer paths, sequencing/batching limits,
// and the operating-mode preset.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	ModelPath     string `json:"modelPath"`
	TokenizerPath string `json:"tokenizerPath"`

	BiEncoderModelPath     string `json:"biEncoderModelPath"`
	BiEncoderTokenizerPath string `json:"biEncoderTokenizerPath"`

	MaxSeqLen int `json:"maxSeqLen"`

	ShutdownTimeout time.Duration `json:"shutdownTimeout"`

	// PoolSize and Permits are nil unless explicitly configured or
	// filled by the Single/Concurrent mode preset; the orchestrator
	// derives them from probed CPU topology otherwise.
	PoolSize *int `json:"poolSize,omitempty"`
	Permits  *int `json:"permits,omitempty"`

	IntraThreads int `json:"intraThreads"`

	MaxDocuments int `json:"maxDocuments"`
	BatchSize    int `json:"batchSize"`

	RetrievalCandidates int `json:"retrievalCandidates"`

	ToolsPath         string `json:"toolsPath,omitempty"`
	EmbeddingsCachePath string `json:"embeddingsCachePath"`

	// RedisCacheURL, when set, backs the embedding cache with the
	// optional Redis store instead of the on-disk file store; the file
	// at EmbeddingsCachePath is then neither read nor written. Empty
	// disables it.
	RedisCacheURL string `json:"redisCacheUrl,omitempty"`

	// ResultCacheSize is a human-readable byte budget (e.g. "64MiB")
	// for the optional query-result cache. Empty disables it.
	ResultCacheSize string `json:"resultCacheSize,omitempty"`

	Mode Mode `json:"mode"`
}

// DefaultConfig returns the configuration used when no environment
// variable overrides a given setting.
func DefaultConfig() *Config {
	return &Config{
		Host:                   "0.0.0.0",
		Port:                   8080,
		ModelPath:              "./models/reranker/model.onnx",
		TokenizerPath:          "./models/reranker/tokenizer.json",
		BiEncoderModelPath:     "./models/bi-encoder/model.onnx",
		BiEncoderTokenizerPath: "./models/bi-encoder/tokenizer.json",
		MaxSeqLen:              512,
		ShutdownTimeout:        30 * time.Second,
		IntraThreads:           2,
		MaxDocuments:           100,
		BatchSize:              16,
		RetrievalCandidates:    50,
		EmbeddingsCachePath:    "./cache/embeddings.bin",
		Mode:                   Concurrent,
	}
}

// FromEnv loads a Config from the environment, applying
// DefaultConfig's values wherever a variable is unset, then applying
// the Mode preset on top of pool_size/permits/intra_threads unless
// those were set explicitly (Mode == Custom always defers to the
// individual settings).
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()

	cfg.Host = getString("HOST", cfg.Host)
	cfg.ModelPath = getString("MODEL_PATH", cfg.ModelPath)
	cfg.TokenizerPath = getString("TOKENIZER_PATH", cfg.TokenizerPath)
	cfg.BiEncoderModelPath = getString("BI_ENCODER_MODEL_PATH", cfg.BiEncoderModelPath)
	cfg.BiEncoderTokenizerPath = getString("BI_ENCODER_TOKENIZER_PATH", cfg.BiEncoderTokenizerPath)
	cfg.ToolsPath = getString("TOOLS_PATH", cfg.ToolsPath)
	cfg.EmbeddingsCachePath = getString("EMBEDDINGS_CACHE_PATH", cfg.EmbeddingsCachePath)
	cfg.RedisCacheURL = getString("REDIS_CACHE_URL", cfg.RedisCacheURL)
	cfg.ResultCacheSize = getString("RESULT_CACHE_SIZE", cfg.ResultCacheSize)

	var err error
	if cfg.Port, err = getInt("PORT", cfg.Port); err != nil {
		return nil, fmt.Errorf("parsing PORT: %w", err)
	}
	if cfg.MaxSeqLen, err = getInt("MAX_SEQ_LENGTH", cfg.MaxSeqLen); err != nil {
		return nil, fmt.Errorf("parsing MAX_SEQ_LENGTH: %w", err)
	}
	_, intraThreadsSet := os.LookupEnv("INTRA_THREADS")
	if cfg.IntraThreads, err = getInt("INTRA_THREADS", cfg.IntraThreads); err != nil {
		return nil, fmt.Errorf("parsing INTRA_THREADS: %w", err)
	}
	if cfg.MaxDocuments, err = getInt("MAX_DOCUMENTS", cfg.MaxDocuments); err != nil {
		return nil, fmt.Errorf("parsing MAX_DOCUMENTS: %w", err)
	}
	if cfg.BatchSize, err = getInt("BATCH_SIZE", cfg.BatchSize); err != nil {
		return nil, fmt.Errorf("parsing BATCH_SIZE: %w", err)
	}
	if cfg.RetrievalCandidates, err = getInt("RETRIEVAL_CANDIDATES", cfg.RetrievalCandidates); err != nil {
		return nil, fmt.Errorf("parsing RETRIEVAL_CANDIDATES: %w", err)
	}

	var shutdownSecs int
	if shutdownSecs, err = getInt("SHUTDOWN_TIMEOUT_SECS", int(cfg.ShutdownTimeout/time.Second)); err != nil {
		return nil, fmt.Errorf("parsing SHUTDOWN_TIMEOUT_SECS: %w", err)
	}
	cfg.ShutdownTimeout = time.Duration(shutdownSecs) * time.Second

	if v, ok := os.LookupEnv("POOL_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parsing POOL_SIZE: %w", err)
		}
		cfg.PoolSize = &n
	}
	if v, ok := os.LookupEnv("PERMITS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parsing PERMITS: %w", err)
		}
		cfg.Permits = &n
	}

	if v := getString("MODE", string(cfg.Mode)); v != "" {
		switch Mode(v) {
		case Single, Concurrent, Custom:
			cfg.Mode = Mode(v)
		default:
			return nil, fmt.Errorf("unknown MODE %q", v)
		}
	}

	cfg.applyModePreset(intraThreadsSet)

	return cfg, nil
}

// applyModePreset fills pool_size/permits/intra_threads from the
// Single/Concurrent presets, skipping any field the caller already
// pinned via POOL_SIZE/PERMITS/INTRA_THREADS. Custom always defers to
// the individually configured values.
func (c *Config) applyModePreset(intraThreadsSet bool) {
	var presetPool, presetPermits, presetIntra int
	switch c.Mode {
	case Single:
		presetPool, presetPermits, presetIntra = 1, 1, 8
	case Concurrent:
		presetPool, presetPermits, presetIntra = 10, 6, 2
	case Custom:
		return
	default:
		return
	}

	if c.PoolSize == nil {
		c.PoolSize = &presetPool
	}
	if c.Permits == nil {
		c.Permits = &presetPermits
	}
	if !intraThreadsSet {
		c.IntraThreads = presetIntra
	}
}

func getString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
