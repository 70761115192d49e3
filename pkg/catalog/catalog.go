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

// Package catalog implements the catalog atomizer (C4): it turns a
// tool-definition document into the flat records the retrieval engine
// embeds and reranks against.
package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"k8s.io/klog/v2"

	"github.com/dannyavrs/encapure/pkg/apperrors"
)

const (
	maxDescriptionBytes  = 500
	descriptionSearchWin = 50

	// maxParamDescBytes bounds a single parameter's brief description,
	// distinct from maxDescriptionBytes above: a parameter description
	// is cut at its first '.' or this many bytes, whichever is
	// shorter, never at the nearest preceding space.
	maxParamDescBytes = 50
)

// Record is one atomized catalog entry: the name, the origin it was
// loaded from, the canonical inference view embedded/reranked against,
// and the raw tool definition returned verbatim in /search responses.
type Record struct {
	Name          string
	Origin        string
	InferenceView string
	RawDefinition string
}

type document struct {
	Result struct {
		Tools []json.RawMessage `json:"tools"`
	} `json:"result"`
}

type rawProperty struct {
	Type        *string `json:"type"`
	Description *string `json:"description"`
}

type rawInputSchema struct {
	Type       *string                `json:"type"`
	Properties map[string]rawProperty `json:"properties"`
	Required   []string               `json:"required"`
}

type rawTool struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	InputSchema *rawInputSchema `json:"inputSchema"`
}

// Atomize parses data as a {result:{tools:[...]}} document and
// produces one Record per valid tool, per §3/§4.4: a missing
// result.tools fails the whole call; a record missing name is skipped
// with a warning; if every record fails while the array is non-empty,
// the call fails.
func Atomize(origin string, data []byte) ([]Record, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.Validation, "parsing catalog document", err)
	}
	if doc.Result.Tools == nil {
		return nil, apperrors.New(apperrors.Validation, "catalog document missing result.tools")
	}

	logger := klog.Background().WithName("catalog.Atomize")
	records := make([]Record, 0, len(doc.Result.Tools))

	for i, raw := range doc.Result.Tools {
		rec, ok, err := atomizeOne(origin, raw)
		if err != nil {
			logger.Info("skipping malformed tool record", "index", i, "error", err.Error())
			continue
		}
		if !ok {
			logger.Info("skipping tool record with no name", "index", i)
			continue
		}
		records = append(records, rec)
	}

	if len(records) == 0 && len(doc.Result.Tools) > 0 {
		return nil, apperrors.New(apperrors.Validation, "catalog document contained no valid tool records")
	}

	return records, nil
}

func atomizeOne(origin string, raw json.RawMessage) (Record, bool, error) {
	var tool rawTool
	if err := json.Unmarshal(raw, &tool); err != nil {
		return Record{}, false, fmt.Errorf("decoding tool: %w", err)
	}
	if tool.Name == nil || *tool.Name == "" {
		return Record{}, false, nil
	}

	desc := ""
	if tool.Description != nil {
		desc = *tool.Description
	}
	desc = truncateDescription(desc)

	params := formatParameters(tool.InputSchema)

	view := fmt.Sprintf("TOOL: %s | CONTEXT: %s | FUNC: %s | INPUTS: %s",
		*tool.Name, origin, desc, params)

	return Record{
		Name:          *tool.Name,
		Origin:        origin,
		InferenceView: view,
		RawDefinition: string(raw),
	}, true, nil
}

// truncateDescription enforces the ≤500-byte limit, breaking at the
// last space within the last 50 bytes of the limit rather than
// mid-word, falling back to a hard cut when no space is found there.
func truncateDescription(desc string) string {
	if len(desc) <= maxDescriptionBytes {
		return desc
	}

	windowStart := maxDescriptionBytes - descriptionSearchWin
	if windowStart < 0 {
		windowStart = 0
	}

	for i := maxDescriptionBytes; i > windowStart; i-- {
		if desc[i-1] == ' ' {
			return desc[:i-1]
		}
	}

	return desc[:maxDescriptionBytes]
}

// formatParameters renders a schema's properties as
// "name[*]: type[ (brief)]", where brief is briefParamDescription's
// cut of the property's description, comma-separated, sorted by
// property name for deterministic, idempotent output regardless of
// the source JSON object's key order.
func formatParameters(schema *rawInputSchema) string {
	if schema == nil || len(schema.Properties) == 0 {
		return ""
	}

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		prop := schema.Properties[name]

		typ := "any"
		if prop.Type != nil && *prop.Type != "" {
			typ = *prop.Type
		}

		entry := name
		if required[name] {
			entry += "*"
		}
		entry += ": " + typ
		if brief := briefParamDescription(prop.Description); brief != "" {
			entry += " (" + brief + ")"
		}
		parts = append(parts, entry)
	}

	return strings.Join(parts, ", ")
}

// briefParamDescription reduces a parameter's description to its
// first sentence or maxParamDescBytes bytes, whichever ends first,
// so a verbose schema never bloats a record's inference_view the way
// a verbatim multi-sentence description would.
func briefParamDescription(desc *string) string {
	if desc == nil || *desc == "" {
		return ""
	}

	d := *desc
	end := strings.IndexByte(d, '.')
	if end == -1 || end > maxParamDescBytes {
		end = maxParamDescBytes
	}
	if end > len(d) {
		end = len(d)
	}

	return d[:end]
}
