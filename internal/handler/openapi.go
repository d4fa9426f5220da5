package handler

import (
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

// OpenAPIHandler serves the generated OpenAPI document.
type OpenAPIHandler struct {
	doc *openapi3.T
}

// NewOpenAPIHandler creates a new OpenAPIHandler for doc.
func NewOpenAPIHandler(doc *openapi3.T) *OpenAPIHandler {
	return &OpenAPIHandler{doc: doc}
}

// ServeSpec writes the OpenAPI document as JSON.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.doc)
}
