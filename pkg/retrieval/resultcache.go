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
	"fmt"
	"strconv"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"
)

const (
	resultCacheNumCounters = 1e6
	resultCacheBufferItems = 64
	// bytesPerResultEstimate approximates one SearchResult's memory
	// footprint (name + raw_definition text plus struct overhead) for
	// ristretto's cost accounting; it need not be exact, only roughly
	// proportional across entries.
	bytesPerResultEstimate = 256
)

// ResultCacheConfig configures the optional bounded cache of recent
// /search responses.
type ResultCacheConfig struct {
	// Size is a human-readable memory budget, e.g. "64MiB".
	Size string `json:"size,omitempty"`
}

// DefaultResultCacheConfig returns a modest default budget.
func DefaultResultCacheConfig() *ResultCacheConfig {
	return &ResultCacheConfig{Size: "64MiB"}
}

// ResultCache is a bounded, cost-aware cache of (query, top_k) ->
// SearchResult rows. It is a pure latency optimization: a miss always
// falls through to the real two-stage pipeline, so its presence
// changes no observable behavior beyond response time.
type ResultCache struct {
	cache *ristretto.Cache[string, []SearchResult]
}

// NewResultCache builds a ResultCache sized per cfg.
func NewResultCache(cfg *ResultCacheConfig) (*ResultCache, error) {
	if cfg == nil {
		cfg = DefaultResultCacheConfig()
	}

	maxCost, err := humanize.ParseBytes(cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("parsing result cache size %q: %w", cfg.Size, err)
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []SearchResult]{
		NumCounters: resultCacheNumCounters,
		MaxCost:     int64(maxCost), //nolint:gosec // cfg.Size is operator-provided configuration
		BufferItems: resultCacheBufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing result cache: %w", err)
	}

	return &ResultCache{cache: cache}, nil
}

// Get returns the cached results for (query, topK), if present.
func (c *ResultCache) Get(query string, topK int) ([]SearchResult, bool) {
	results, found := c.cache.Get(resultCacheKey(query, topK))
	if !found {
		return nil, false
	}
	return results, true
}

// Set stores results for (query, topK).
func (c *ResultCache) Set(query string, topK int, results []SearchResult) {
	cost := int64(len(results)) * bytesPerResultEstimate
	if cost < 1 {
		cost = 1
	}
	if !c.cache.Set(resultCacheKey(query, topK), results, cost) {
		klog.Background().V(1).Info("result cache rejected entry", "query", query, "topK", topK)
	}
	c.cache.Wait()
}

func resultCacheKey(query string, topK int) string {
	return query + "\x00" + strconv.Itoa(topK)
}
