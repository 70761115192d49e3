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

// Package server implements the request handlers (C7): validation,
// dispatch into the retrieval engine, response shaping, and the
// health/ready/metrics surfaces.
package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"k8s.io/klog/v2"

	"github.com/dannyavrs/encapure/pkg/apperrors"
	"github.com/dannyavrs/encapure/pkg/metrics"
	"github.com/dannyavrs/encapure/pkg/retrieval"
)

const rerankBodyLimitBytes = 50 * 1024 * 1024 // 50 MiB, per §6

// Server holds everything the handlers need: the immutable retrieval
// engine built at startup, and the monotonic ready flag C8 flips once.
type Server struct {
	Engine    *retrieval.Engine
	ReadyFlag *atomic.Bool
	Version   string
}

// Routes builds the HTTP mux for every endpoint in §6.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rerank", s.handleRerank)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func (s *Server) handleRerank(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rerankBodyLimitBytes)

	var req rerankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteHTTP(r.Context(), w, apperrors.Wrap(apperrors.Validation, "invalid request body", err))
		return
	}

	results, err := s.Engine.Rerank(r.Context(), req.Query, req.Documents)
	if err != nil {
		apperrors.WriteHTTP(r.Context(), w, err)
		return
	}

	metrics.RerankRequestsTotal.Inc()
	metrics.RerankBatchSize.Observe(float64(len(req.Documents)))
	writeJSON(w, http.StatusOK, rerankResponse{Results: results})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteHTTP(r.Context(), w, apperrors.Wrap(apperrors.Validation, "invalid request body", err))
		return
	}

	results, err := s.Engine.Search(r.Context(), req.Query, req.topKOrDefault())
	if err != nil {
		apperrors.WriteHTTP(r.Context(), w, err)
		return
	}

	metrics.SearchRequestsTotal.Inc()
	metrics.SearchLatencyMillis.Observe(float64(time.Since(start).Milliseconds()))
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Version: s.Version})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ReadyFlag.Load() {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ready", Version: s.Version})
		return
	}
	klog.Background().Info("readiness probe before startup completed")
	writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "not_ready", Version: s.Version})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
