package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/pagewise/hub/internal/api/response"
	"github.com/pagewise/hub/internal/api/validation"
	"github.com/pagewise/hub/internal/models"
	"github.com/pagewise/hub/internal/service"
)

// Retriever answers similarity queries for a tenant.
type Retriever interface {
	Retrieve(ctx context.Context, req service.RetrievalRequest) (service.RetrievalResult, error)
}

// RetrievalHandler handles POST /v1/retrieval/search.
type RetrievalHandler struct {
	service Retriever
}

// NewRetrievalHandler creates a new retrieval handler.
func NewRetrievalHandler(service Retriever) *RetrievalHandler {
	return &RetrievalHandler{service: service}
}

// SearchRequest is the body for POST /v1/retrieval/search. TopK 0 selects the adaptive default.
type SearchRequest struct {
	TenantID string `json:"tenantId" validate:"required,max=255,no_null_bytes"` //nolint:tagliatelle // API contract
	Query    string `json:"query"    validate:"max=2000,no_null_bytes"`
	TopK     int    `json:"topK"     validate:"min=0,max=50"` //nolint:tagliatelle // API contract
}

// SearchResultItem is one citation-ready hit.
type SearchResultItem struct {
	EntityType models.EntityType `json:"entityType"` //nolint:tagliatelle // API contract
	EntityID   string            `json:"entityId"`   //nolint:tagliatelle // API contract
	Similarity float64           `json:"similarity"`
	Name       string            `json:"name"`
	Kind       string            `json:"kind,omitempty"`
	Snippet    string            `json:"snippet,omitempty"`
}

// SearchResponse is the 200 body. Results is never null; an empty list means no match.
type SearchResponse struct {
	Results []SearchResultItem `json:"results"`
	TopK    int                `json:"topK"` //nolint:tagliatelle // API contract
	Shape   string             `json:"shape,omitempty"`
}

// Search handles POST /v1/retrieval/search.
func (h *RetrievalHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := validation.DecodeJSONBody(r, &req); err != nil {
		response.RespondBadRequest(w, "Invalid request body")

		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	res, err := h.service.Retrieve(r.Context(), service.RetrievalRequest{
		TenantID: req.TenantID,
		Query:    req.Query,
		TopK:     req.TopK,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingTenantID):
			response.RespondBadRequest(w, "tenantId is required")
		case errors.Is(err, service.ErrRetrievalUnavailable):
			response.RespondServiceUnavailable(w, response.ProblemTypeRetrievalUnavailable,
				"retrieval is temporarily unavailable; this is not an empty result")
		default:
			response.RespondInternalServerError(w, "An unexpected error occurred")
		}

		return
	}

	out := SearchResponse{
		Results: make([]SearchResultItem, 0, len(res.Results)),
		TopK:    res.TopK,
		Shape:   string(res.Shape),
	}

	for _, rec := range res.Results {
		out.Results = append(out.Results, SearchResultItem{
			EntityType: rec.EntityType,
			EntityID:   rec.EntityID,
			Similarity: rec.Similarity,
			Name:       rec.Metadata.Name,
			Kind:       rec.Metadata.Kind,
			Snippet:    rec.Metadata.Snippet,
		})
	}

	response.RespondJSON(w, http.StatusOK, out)
}
