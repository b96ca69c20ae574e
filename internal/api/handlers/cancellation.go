package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"flightdeck/internal/billing"
	"flightdeck/internal/core"
	"flightdeck/internal/types"
)

// CancellationService is the workflow surface this handler drives.
// Implemented by billing.CancellationWorkflow.
type CancellationService interface {
	Cancel(ctx context.Context, actor types.Actor, orgID string, req billing.CancelRequest) (*billing.CancelResult, error)
	State(ctx context.Context, orgID string) (*billing.CancellationState, error)
}

// CancelSubscriptionRequest is the body for POST /v1/billing/cancellation.
type CancelSubscriptionRequest struct {
	Reason    types.CancellationReason `json:"reason" validate:"required"`
	Feedback  string                   `json:"feedback" validate:"max=2000"`
	Immediate bool                     `json:"cancel_immediately"`
}

// CancellationHandler serves subscription cancellation. The owner-only check
// lives in the workflow, not here, so the rule holds for every caller.
type CancellationHandler struct {
	workflow  CancellationService
	validator *core.Validator
	logger    *slog.Logger
}

// NewCancellationHandler creates the handler.
func NewCancellationHandler(workflow CancellationService, v *core.Validator, logger *slog.Logger) *CancellationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CancellationHandler{workflow: workflow, validator: v, logger: logger}
}

// RegisterRoutes mounts the cancellation endpoints.
func (h *CancellationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/cancellation", h.Cancel)
	r.Get("/billing/cancellation", h.State)
}

// Cancel handles POST /v1/billing/cancellation.
func (h *CancellationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"authentication required",
			nil,
		))
		return
	}

	var req CancelSubscriptionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.workflow.Cancel(r.Context(), actor, actor.OrganizationID, billing.CancelRequest{
		Reason:    req.Reason,
		Feedback:  req.Feedback,
		Immediate: req.Immediate,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// State handles GET /v1/billing/cancellation.
func (h *CancellationHandler) State(w http.ResponseWriter, r *http.Request) {
	orgID, err := actorOrg(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	state, err := h.workflow.State(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: state})
}
