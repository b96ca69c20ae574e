package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"flightdeck/internal/core"
	"flightdeck/internal/types"
)

// MetricsSource computes the billing metrics rollup. Implemented by
// billing.Aggregator.
type MetricsSource interface {
	Snapshot(ctx context.Context, now time.Time) (*types.BillingMetrics, error)
}

// FeedbackSource reads stored cancellation feedback. Implemented by
// db.FeedbackRepository.
type FeedbackSource interface {
	ListByOrg(ctx context.Context, orgID string) ([]*types.CancellationFeedback, error)
}

// MetricsHandler serves the admin surfaces: the billing metrics snapshot and
// the cancellation feedback listing. Access control (the admin API key) is
// applied by the route group, not in the handler.
type MetricsHandler struct {
	source   MetricsSource
	feedback FeedbackSource
	logger   *slog.Logger
}

// NewMetricsHandler creates the handler.
func NewMetricsHandler(source MetricsSource, feedback FeedbackSource, logger *slog.Logger) *MetricsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsHandler{source: source, feedback: feedback, logger: logger}
}

// RegisterRoutes mounts the admin endpoints behind the given admin-key
// middleware.
func (h *MetricsHandler) RegisterRoutes(r chi.Router, adminKey func(http.Handler) http.Handler) {
	r.With(adminKey).Get("/admin/metrics", h.Snapshot)
	r.With(adminKey).Get("/admin/cancellation-feedback", h.CancellationFeedback)
}

// Snapshot handles GET /v1/admin/metrics. The rollup is computed on demand
// over the organization table.
func (h *MetricsHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.source.Snapshot(r.Context(), time.Now())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: metrics})
}

// CancellationFeedback handles GET /v1/admin/cancellation-feedback?org_id=...
// It returns the feedback rows an organization's owners submitted when
// canceling, newest first.
func (h *MetricsHandler) CancellationFeedback(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"org_id query parameter is required",
			nil,
		))
		return
	}

	rows, err := h.feedback.ListByOrg(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if rows == nil {
		rows = []*types.CancellationFeedback{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: rows})
}
