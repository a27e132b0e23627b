package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pagewise/hub/internal/api/response"
	"github.com/pagewise/hub/internal/api/validation"
	"github.com/pagewise/hub/internal/huberrors"
	"github.com/pagewise/hub/internal/models"
)

// ChangeEmitter turns an entity mutation into an embedding job.
type ChangeEmitter interface {
	Emit(ctx context.Context, event models.ChangeEvent) (string, error)
}

// ChangesHandler accepts change events from the product app's mutation path.
type ChangesHandler struct {
	capture ChangeEmitter
}

// NewChangesHandler creates a new changes handler.
func NewChangesHandler(capture ChangeEmitter) *ChangesHandler {
	return &ChangesHandler{capture: capture}
}

// EmitResponse is the body of a 202 from POST /v1/changes.
type EmitResponse struct {
	JobID string `json:"jobId"` //nolint:tagliatelle // API contract
}

// Emit handles POST /v1/changes.
func (h *ChangesHandler) Emit(w http.ResponseWriter, r *http.Request) {
	var event models.ChangeEvent
	if err := validation.DecodeJSONBody(r, &event); err != nil {
		response.RespondBadRequest(w, "Invalid request body")

		return
	}

	if err := validation.ValidateStruct(&event); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	jobID, err := h.capture.Emit(r.Context(), event)
	if err != nil {
		if errors.Is(err, huberrors.ErrValidation) {
			response.RespondBadRequest(w, err.Error())

			return
		}

		slog.ErrorContext(r.Context(), "changes: emit failed",
			"tenant_id", event.TenantID,
			"entity_type", event.EntityType,
			"entity_id", event.EntityID,
			"error", err,
		)
		response.RespondServiceUnavailable(w, "about:blank", "change could not be queued")

		return
	}

	response.RespondJSON(w, http.StatusAccepted, EmitResponse{JobID: jobID})
}
