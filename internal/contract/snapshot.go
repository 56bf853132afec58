package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Info is the identifying part of a contract.
type Info struct {
	Title   string `json:"title"`
	Version string `json:"version"`
}

// Operation is the normalized form of one path+method pair.
type Operation struct {
	OperationID string   `json:"operationId,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Parameters  any      `json:"parameters,omitempty"`
	RequestBody any      `json:"requestBody,omitempty"`
	Responses   any      `json:"responses,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Snapshot is the projection of an API description onto the parts that
// affect a generated client. Paths are keyed by "<path>.<method>".
type Snapshot struct {
	Info     Info                 `json:"info"`
	Paths    map[string]Operation `json:"paths"`
	Schemas  map[string]any       `json:"schemas"`
	Security map[string]any       `json:"security"`
}

var httpMethods = map[string]struct{}{
	"get": {}, "put": {}, "post": {}, "delete": {},
	"options": {}, "head": {}, "patch": {}, "trace": {},
}

// Parse decodes a JSON contract document. Numbers are kept as json.Number
// so that hashing does not depend on float formatting.
func Parse(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode contract: %w", err)
	}
	return doc, nil
}

// Normalize projects doc onto a Snapshot. Anything that is not a JSON
// object (including nil) yields an empty snapshot.
func Normalize(doc any) Snapshot {
	s := Snapshot{
		Paths:    map[string]Operation{},
		Schemas:  map[string]any{},
		Security: map[string]any{},
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return s
	}
	if info, ok := root["info"].(map[string]any); ok {
		s.Info.Title = str(info["title"])
		s.Info.Version = str(info["version"])
	}
	if paths, ok := root["paths"].(map[string]any); ok {
		for p, item := range paths {
			methods, ok := item.(map[string]any)
			if !ok {
				continue
			}
			for m, raw := range methods {
				m = strings.ToLower(m)
				if _, ok := httpMethods[m]; !ok {
					continue
				}
				s.Paths[p+"."+m] = normalizeOperation(raw)
			}
		}
	}

	// OpenAPI 3 keeps these under components, Swagger 2 at the top level.
	components, _ := root["components"].(map[string]any)
	copyTable(s.Schemas, components["schemas"])
	copyTable(s.Schemas, root["definitions"])
	copyTable(s.Security, components["securitySchemes"])
	copyTable(s.Security, root["securityDefinitions"])
	return s
}

func normalizeOperation(raw any) Operation {
	op, ok := raw.(map[string]any)
	if !ok {
		return Operation{}
	}
	out := Operation{
		OperationID: str(op["operationId"]),
		Summary:     str(op["summary"]),
		Parameters:  op["parameters"],
		RequestBody: op["requestBody"],
		Responses:   op["responses"],
	}
	if tags, ok := op["tags"].([]any); ok {
		for _, t := range tags {
			if ts, ok := t.(string); ok {
				out.Tags = append(out.Tags, ts)
			}
		}
	}
	return out
}

func copyTable(dst map[string]any, src any) {
	m, ok := src.(map[string]any)
	if !ok {
		return
	}
	for k, v := range m {
		dst[k] = v
	}
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
