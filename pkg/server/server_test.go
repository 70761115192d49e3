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

package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dannyavrs/encapure/pkg/retrieval"
	"github.com/dannyavrs/encapure/pkg/server"
)

func newTestServer(ready bool) *server.Server {
	var flag atomic.Bool
	flag.Store(ready)
	return &server.Server{
		Engine:    &retrieval.Engine{MaxDocuments: 100},
		ReadyFlag: &flag,
		Version:   "test",
	}
}

func TestHealthAlwaysReports200(t *testing.T) {
	s := newTestServer(false)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyReflectsFlag(t *testing.T) {
	notReady := newTestServer(false)
	rec := httptest.NewRecorder()
	notReady.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready := newTestServer(true)
	rec2 := httptest.NewRecorder()
	ready.Routes().ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestRerankEmptyQueryReturns400(t *testing.T) {
	s := newTestServer(true)
	body := `{"query":"","documents":["a"]}`
	req := httptest.NewRequest(http.MethodPost, "/rerank", strings.NewReader(body))
	rec := httptest.NewRecorder()

	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "empty")
	assert.InDelta(t, 400, resp["code"], 0)
}

func TestRerankOversizedBatchReturns400(t *testing.T) {
	s := &server.Server{
		Engine:    &retrieval.Engine{MaxDocuments: 1},
		ReadyFlag: new(atomic.Bool),
		Version:   "test",
	}
	body := `{"query":"q","documents":["a","b"]}`
	req := httptest.NewRequest(http.MethodPost, "/rerank", strings.NewReader(body))
	rec := httptest.NewRecorder()

	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "1")
}

func TestRerankMalformedBodyReturns400(t *testing.T) {
	s := newTestServer(true)
	req := httptest.NewRequest(http.MethodPost, "/rerank", strings.NewReader("not json"))
	rec := httptest.NewRecorder()

	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchEmptyQueryReturns400(t *testing.T) {
	s := newTestServer(true)
	body := `{"query":""}`
	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(body))
	rec := httptest.NewRecorder()

	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpointIsExposed(t *testing.T) {
	s := newTestServer(true)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
