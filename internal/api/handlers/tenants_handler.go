package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pagewise/hub/internal/api/response"
	"github.com/pagewise/hub/internal/service"
)

// TenantEmbeddings answers per-tenant index questions and deprovisions tenants.
type TenantEmbeddings interface {
	Count(ctx context.Context, tenantID string) (int, error)
	RequestPurge(ctx context.Context, tenantID string) (service.PurgeRequest, error)
}

// TenantsHandler handles /v1/tenants/{tenant_id}/embeddings.
type TenantsHandler struct {
	service TenantEmbeddings
}

// NewTenantsHandler creates a new tenants handler.
func NewTenantsHandler(service TenantEmbeddings) *TenantsHandler {
	return &TenantsHandler{service: service}
}

// CountResponse is the body of GET /v1/tenants/{tenant_id}/embeddings/count.
type CountResponse struct {
	TenantID string `json:"tenantId"` //nolint:tagliatelle // API contract
	Count    int    `json:"count"`
}

const maxTenantIDLen = 255

func tenantIDFromPath(r *http.Request) (string, bool) {
	tenantID := strings.TrimSpace(r.PathValue("tenant_id"))
	if tenantID == "" || len(tenantID) > maxTenantIDLen || strings.ContainsRune(tenantID, 0) {
		return "", false
	}

	return tenantID, true
}

// Count handles GET /v1/tenants/{tenant_id}/embeddings/count.
func (h *TenantsHandler) Count(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDFromPath(r)
	if !ok {
		response.RespondBadRequest(w, "tenant_id is required")

		return
	}

	n, err := h.service.Count(r.Context(), tenantID)
	if err != nil {
		slog.ErrorContext(r.Context(), "tenants: count failed", "tenant_id", tenantID, "error", err)
		response.RespondServiceUnavailable(w, "about:blank", "embedding store unavailable")

		return
	}

	response.RespondJSON(w, http.StatusOK, CountResponse{TenantID: tenantID, Count: n})
}

// Purge handles DELETE /v1/tenants/{tenant_id}/embeddings.
func (h *TenantsHandler) Purge(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDFromPath(r)
	if !ok {
		response.RespondBadRequest(w, "tenant_id is required")

		return
	}

	res, err := h.service.RequestPurge(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, service.ErrMissingTenantID) {
			response.RespondBadRequest(w, "tenant_id is required")

			return
		}

		slog.ErrorContext(r.Context(), "tenants: purge request failed", "tenant_id", tenantID, "error", err)
		response.RespondInternalServerError(w, "An unexpected error occurred")

		return
	}

	response.RespondJSON(w, http.StatusAccepted, res)
}
