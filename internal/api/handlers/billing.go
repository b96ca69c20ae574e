package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"flightdeck/internal/config"
	"flightdeck/internal/core"
	"flightdeck/internal/external"
	"flightdeck/internal/types"
)

// OrgReader is the minimal organization read access the billing handler
// needs.
type OrgReader interface {
	GetByID(ctx context.Context, orgID string) (*types.Organization, error)
}

// LimitChecker answers entitlement questions. Implemented by
// billing.Limiter.
type LimitChecker interface {
	CheckLimit(ctx context.Context, orgID string, resource types.ResourceType) (*types.LimitCheck, error)
}

// TrialService starts and inspects trials. Implemented by
// billing.TrialManager.
type TrialService interface {
	StartTrial(ctx context.Context, orgID string, days int) error
	TrialStatus(ctx context.Context, orgID string) (*types.TrialStatus, error)
}

// CreateCheckoutRequest is the body for POST /v1/billing/checkout-session.
// Redirect URLs are deliberately not part of the request; they are built
// server-side from DashboardURL to prevent open redirects.
type CreateCheckoutRequest struct {
	Plan types.PlanTier `json:"plan" validate:"required,oneof=pro enterprise"`
}

// CheckoutResponse is the body for a created checkout session.
type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

// PortalResponse is the body for a created portal session.
type PortalResponse struct {
	PortalURL string `json:"portal_url"`
}

// SubscriptionResponse combines local billing state with the provider view.
type SubscriptionResponse struct {
	Plan               types.PlanTier             `json:"plan"`
	SubscriptionStatus types.SubscriptionStatus   `json:"subscription_status"`
	PeriodEnd          *time.Time                 `json:"period_end,omitempty"`
	Trial              *types.TrialStatus         `json:"trial,omitempty"`
	Provider           *types.SubscriptionDetails `json:"provider,omitempty"`
}

// StartTrialRequest is the body for POST /v1/billing/trial. Days is
// optional; zero means the default trial length.
type StartTrialRequest struct {
	Days int `json:"days" validate:"min=0,max=90"`
}

// LimitsResponse reports the current usage against every plan limit.
type LimitsResponse struct {
	Plan   types.PlanTier     `json:"plan"`
	Limits []types.LimitCheck `json:"limits"`
}

// BillingHandler serves the authenticated billing endpoints: checkout and
// portal sessions, the subscription view, trials, and usage limits.
type BillingHandler struct {
	service      external.BillingService
	orgs         OrgReader
	limits       LimitChecker
	trials       TrialService
	validator    *core.Validator
	dashboardURL string
	logger       *slog.Logger
}

// NewBillingHandler creates the handler.
func NewBillingHandler(
	service external.BillingService,
	orgs OrgReader,
	limits LimitChecker,
	trials TrialService,
	cfg *config.Config,
	v *core.Validator,
	logger *slog.Logger,
) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}

	dashboardURL := ""
	if cfg != nil {
		dashboardURL = cfg.Server.DashboardURL
	}

	return &BillingHandler{
		service:      service,
		orgs:         orgs,
		limits:       limits,
		trials:       trials,
		validator:    v,
		dashboardURL: dashboardURL,
		logger:       logger,
	}
}

// RegisterRoutes mounts the billing and usage endpoints.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.With(requireMinRole(types.RoleAdmin)).Post("/billing/checkout-session", h.CreateCheckoutSession)
		r.With(requireMinRole(types.RoleAdmin)).Post("/billing/portal-session", h.CreatePortalSession)
		r.Get("/billing/subscription", h.GetSubscription)
		r.With(requireMinRole(types.RoleAdmin)).Post("/billing/trial", h.StartTrial)
		r.Get("/usage/limits", h.GetLimits)
	})
}

// requireMinRole gates a route on the actor's role. The hierarchy is
// Owner > Admin > Member; system actors bypass the check.
func requireMinRole(minRole types.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := types.GetActor(r.Context())
			if !ok {
				core.Error(w, r, types.NewAppError(
					types.ErrCodeAuthTokenMissing,
					"authentication required",
					nil,
				))
				return
			}

			if !actor.RoleHasAtLeast(minRole) {
				core.Error(w, r, types.NewAppError(
					types.ErrCodePermissionRole,
					"insufficient role for this operation",
					nil,
				))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// actorOrg pulls the acting organization from the request context.
func actorOrg(r *http.Request) (string, error) {
	orgID, ok := types.GetOrgID(r.Context())
	if !ok || orgID == "" {
		return "", types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"authentication required",
			nil,
		)
	}
	return orgID, nil
}

// CreateCheckoutSession handles POST /v1/billing/checkout-session. It
// validates the target plan, self-heals the Stripe customer, and returns
// the hosted checkout URL.
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	orgID, err := actorOrg(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req CreateCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	org, err := h.orgs.GetByID(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if _, err := h.service.EnsureCustomer(r.Context(), orgID, org.BillingEmail); err != nil {
		core.Error(w, r, err)
		return
	}

	urls := types.RedirectURLs{
		Success: h.dashboardURL + "/billing?checkout=success",
		Cancel:  h.dashboardURL + "/billing?checkout=canceled",
	}

	checkoutURL, sessionID, err := h.service.CreateCheckoutSession(r.Context(), orgID, req.Plan, urls)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session created",
		"org_id", orgID,
		"plan", req.Plan,
		"session_id", sessionID,
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CheckoutResponse{
		CheckoutURL: checkoutURL,
		SessionID:   sessionID,
	}})
}

// CreatePortalSession handles POST /v1/billing/portal-session.
func (h *BillingHandler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	orgID, err := actorOrg(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	portalURL, err := h.service.CreatePortalSession(r.Context(), orgID, h.dashboardURL+"/billing")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: PortalResponse{PortalURL: portalURL}})
}

// GetSubscription handles GET /v1/billing/subscription. Local state is the
// source of truth for the response; the provider view is attached when
// reachable, and a mismatch between the two is logged as drift for the
// reconciler to converge.
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	orgID, err := actorOrg(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	org, err := h.orgs.GetByID(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := SubscriptionResponse{
		Plan:               org.Plan,
		SubscriptionStatus: org.SubscriptionStatus,
		PeriodEnd:          org.SubscriptionPeriodEnd,
	}

	if trial, err := h.trials.TrialStatus(r.Context(), orgID); err == nil && trial.InTrial {
		resp.Trial = trial
	}

	if org.HasSubscription() {
		provider, err := h.service.GetSubscription(r.Context(), orgID)
		if err != nil {
			// Provider being down must not break the local view.
			h.logger.WarnContext(r.Context(), "provider subscription lookup failed",
				"org_id", orgID,
				"error", err,
			)
		} else {
			resp.Provider = provider
			if provider.Plan != org.Plan || provider.Status != org.SubscriptionStatus {
				h.logger.WarnContext(r.Context(), "billing state drift detected",
					"org_id", orgID,
					"local_plan", org.Plan,
					"provider_plan", provider.Plan,
					"local_status", org.SubscriptionStatus,
					"provider_status", provider.Status,
				)
			}
		}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}

// StartTrial handles POST /v1/billing/trial. Organizations that already
// have a paid subscription cannot start a trial.
func (h *BillingHandler) StartTrial(w http.ResponseWriter, r *http.Request) {
	orgID, err := actorOrg(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req StartTrialRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	org, err := h.orgs.GetByID(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if org.SubscriptionStatus == types.SubStatusActive || org.SubscriptionStatus == types.SubStatusPastDue {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeBillingSubscriptionExists,
			"organization already has a subscription",
			nil,
		))
		return
	}

	if err := h.trials.StartTrial(r.Context(), orgID, req.Days); err != nil {
		core.Error(w, r, err)
		return
	}

	status, err := h.trials.TrialStatus(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: status})
}

// GetLimits handles GET /v1/usage/limits: the live usage figure against
// every plan limit.
func (h *BillingHandler) GetLimits(w http.ResponseWriter, r *http.Request) {
	orgID, err := actorOrg(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	org, err := h.orgs.GetByID(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resources := []types.ResourceType{
		types.ResourceAircraft,
		types.ResourceUsers,
		types.ResourceFlightsPerMonth,
	}

	checks := make([]types.LimitCheck, 0, len(resources))
	for _, resource := range resources {
		check, err := h.limits.CheckLimit(r.Context(), orgID, resource)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		checks = append(checks, *check)
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: LimitsResponse{
		Plan:   org.Plan,
		Limits: checks,
	}})
}
