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

package server

import "github.com/dannyavrs/encapure/pkg/retrieval"

const defaultTopK = 3

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []retrieval.RerankResult `json:"results"`
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k,omitempty"`
}

func (r searchRequest) topKOrDefault() int {
	if r.TopK == nil {
		return defaultTopK
	}
	return *r.TopK
}

type searchResponse struct {
	Results []retrieval.SearchResult `json:"results"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
