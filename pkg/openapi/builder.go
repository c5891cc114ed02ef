package openapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// Operation represents a single HTTP operation to surface in OpenAPI.
type Operation struct {
	Method      string         `json:"method"`
	Path        string         `json:"path"`
	Summary     string         `json:"summary,omitempty"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Scopes      []string       `json:"x-required-scopes,omitempty"`
	Parameters  []Parameter    `json:"parameters,omitempty"`
	RequestBody any            `json:"requestBody,omitempty"`
	Responses   map[string]any `json:"responses"`
}

type Parameter struct {
	Name        string `json:"name"`
	In          string `json:"in"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`
}

// Registry holds the operations a router registered.
type Registry struct {
	Ops    []Operation
	Scopes map[string]string
}

func NewRegistry() *Registry { return &Registry{Ops: []Operation{}, Scopes: map[string]string{}} }

func (r *Registry) Register(op Operation) {
	if op.Method != "" {
		op.Method = strings.ToLower(op.Method)
	}
	r.Ops = append(r.Ops, op)
}

// Build produces a minimal OpenAPI 3.1 document representing the currently
// registered operations. Components/schemas are kept inline for brevity.
func (r *Registry) Build(serviceName, version string) map[string]any {
	paths := map[string]any{}
	for _, op := range r.Ops {
		if _, ok := paths[op.Path]; !ok {
			paths[op.Path] = map[string]any{}
		}
		m := map[string]any{
			"summary":     op.Summary,
			"description": op.Description,
			"tags":        op.Tags,
			"responses":   op.Responses,
		}
		if len(op.Parameters) > 0 {
			params := make([]map[string]any, 0, len(op.Parameters))
			for _, p := range op.Parameters {
				params = append(params, map[string]any{
					"name":        p.Name,
					"in":          p.In,
					"required":    p.Required || p.In == "path",
					"description": p.Description,
					"schema":      map[string]any{"type": "string"},
				})
			}
			m["parameters"] = params
		}
		if len(op.Scopes) > 0 {
			m["x-required-scopes"] = op.Scopes
			m["security"] = []map[string]any{{"bearer": op.Scopes}}
		}
		if op.RequestBody != nil {
			m["requestBody"] = op.RequestBody
		}
		paths[op.Path].(map[string]any)[op.Method] = m
	}
	tags := map[string]struct{}{}
	for _, op := range r.Ops {
		for _, t := range op.Tags {
			tags[t] = struct{}{}
		}
	}
	tagList := make([]map[string]any, 0, len(tags))
	for t := range tags {
		tagList = append(tagList, map[string]any{"name": t})
	}
	sort.Slice(tagList, func(i, j int) bool { return tagList[i]["name"].(string) < tagList[j]["name"].(string) })
	return map[string]any{
		"openapi": "3.1.0",
		"info":    map[string]any{"title": serviceName, "version": version},
		"tags":    tagList,
		"paths":   paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearer": map[string]any{
					"type":         "http",
					"scheme":       "bearer",
					"bearerFormat": "JWT",
					"x-scopes":     r.Scopes,
				},
			},
		},
	}
}

// ServeHandler returns an HTTP handler that serves the built OpenAPI JSON.
func (r *Registry) ServeHandler(serviceName, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.Build(serviceName, version))
	}
}

// JSON is a response body descriptor for the common case.
func JSON(description string) map[string]any {
	return map[string]any{
		"description": description,
		"content":     map[string]any{"application/json": map[string]any{"schema": map[string]any{"type": "object"}}},
	}
}

// Problem describes an application/problem+json response.
func Problem(description string) map[string]any {
	return map[string]any{
		"description": description,
		"content":     map[string]any{"application/problem+json": map[string]any{"schema": map[string]any{"type": "object"}}},
	}
}
