package server

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v2"
)

//go:embed openapi.yaml
var openAPISpec []byte

// OpenAPISpec exposes the embedded API document for the validation
// middleware.
func OpenAPISpec() []byte {
	return openAPISpec
}

// setupDocsRoutes serves the API document in both formats.
func (s *Server) setupDocsRoutes(r *mux.Router) {
	r.HandleFunc("/docs/openapi.yaml", s.handleOpenAPISpec).Methods("GET")
	r.HandleFunc("/docs/openapi.json", s.handleOpenAPISpec).Methods("GET")
}

// handleOpenAPISpec serves the embedded OpenAPI document
func (s *Server) handleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, ".json") {
		var spec interface{}
		if err := yaml.Unmarshal(openAPISpec, &spec); err != nil {
			http.Error(w, "Error parsing OpenAPI spec", http.StatusInternalServerError)
			return
		}

		jsonData, err := json.MarshalIndent(convertYAMLKeys(spec), "", "  ")
		if err != nil {
			http.Error(w, "Error converting to JSON", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(jsonData)
		return
	}

	w.Header().Set("Content-Type", "text/yaml")
	w.Write(openAPISpec)
}

// convertYAMLKeys rewrites yaml.v2's map[interface{}]interface{} trees
// into map[string]interface{} so they survive JSON encoding.
func convertYAMLKeys(v interface{}) interface{} {
	switch v := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			if s, ok := key.(string); ok {
				out[s] = convertYAMLKeys(value)
			}
		}
		return out
	case []interface{}:
		for i, item := range v {
			v[i] = convertYAMLKeys(item)
		}
		return v
	default:
		return v
	}
}
