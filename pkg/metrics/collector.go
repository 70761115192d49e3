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

// Package metrics holds the Prometheus collectors the request
// handlers observe (C7), exposed through a dedicated registry rather
// than a controller-runtime manager's global one, since this service
// has no such manager.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"k8s.io/klog/v2"
)

var (
	RerankRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "encapure", Name: "rerank_requests_total",
		Help: "Total number of /rerank requests handled.",
	})
	SearchRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "encapure", Name: "search_requests_total",
		Help: "Total number of /search requests handled.",
	})
	RerankBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "encapure", Name: "rerank_batch_size",
		Help:    "Number of documents in each /rerank request.",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200},
	})
	SearchLatencyMillis = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "encapure", Name: "search_latency_ms",
		Help:    "End-to-end latency of /search requests, in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})
)

// Collectors returns every collector this package registers.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RerankRequestsTotal, SearchRequestsTotal,
		RerankBatchSize, SearchLatencyMillis,
	}
}

var (
	registerOnce sync.Once
	registry     = prometheus.NewRegistry()
)

// Registry returns the process-wide registry, registering this
// package's collectors into it on first call.
func Registry() *prometheus.Registry {
	registerOnce.Do(func() {
		registry.MustRegister(Collectors()...)
	})
	return registry
}

// Handler returns the /metrics HTTP handler backed by Registry().
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{})
}

// StartMetricsLogging spawns a goroutine that logs current metric
// values every interval, a cheap structured-log beat for operators
// who don't scrape /metrics.
func StartMetricsLogging(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logMetrics(ctx)
			}
		}
	}()
}

func logMetrics(ctx context.Context) {
	var rerankMetric dto.Metric
	if err := RerankRequestsTotal.Write(&rerankMetric); err != nil {
		return
	}
	rerankRequests := rerankMetric.GetCounter().GetValue()

	var searchMetric dto.Metric
	if err := SearchRequestsTotal.Write(&searchMetric); err != nil {
		return
	}
	searchRequests := searchMetric.GetCounter().GetValue()

	var batchMetric dto.Metric
	if err := RerankBatchSize.Write(&batchMetric); err != nil {
		return
	}
	batchCount := batchMetric.GetHistogram().GetSampleCount()
	batchSum := batchMetric.GetHistogram().GetSampleSum()

	var latencyMetric dto.Metric
	if err := SearchLatencyMillis.Write(&latencyMetric); err != nil {
		return
	}
	latencyCount := latencyMetric.GetHistogram().GetSampleCount()
	latencySum := latencyMetric.GetHistogram().GetSampleSum()

	klog.FromContext(ctx).WithName("metrics").Info("metrics beat",
		"rerank_requests", rerankRequests,
		"search_requests", searchRequests,
		"rerank_batch_avg", safeAvg(batchSum, batchCount),
		"search_latency_avg_ms", safeAvg(latencySum, latencyCount),
	)
}

func safeAvg(sum float64, count uint64) float64 {
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
