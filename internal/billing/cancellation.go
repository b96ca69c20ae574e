package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"flightdeck/internal/types"
)

// SubscriptionCanceler is the provider-side cancel operation.
// Implemented by external.StripeClient.
type SubscriptionCanceler interface {
	// CancelSubscription cancels the subscription at the provider:
	// immediately when immediate is true, at period end otherwise.
	CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) error
}

// CancellationStore is the persistence surface of the cancellation workflow.
// Implemented by db.OrganizationRepository.
type CancellationStore interface {
	OrgLookup

	// ApplyCancellation sets the subscription status (canceled or
	// canceling) and advances the billing event watermark. The plan is
	// deliberately untouched; only the subscription.deleted webhook resets
	// it to free.
	ApplyCancellation(ctx context.Context, orgID string, status types.SubscriptionStatus, eventAt time.Time) error
}

// MemberDirectory resolves a user's role within an organization.
// Implemented by db.MemberRepository.
type MemberDirectory interface {
	GetRole(ctx context.Context, orgID, userID string) (types.UserRole, error)
}

// FeedbackStore persists cancellation feedback for analytics.
// Implemented by db.FeedbackRepository.
type FeedbackStore interface {
	Insert(ctx context.Context, fb *types.CancellationFeedback) error
}

// CancelRequest is the validated input to the cancellation workflow.
type CancelRequest struct {
	Reason    types.CancellationReason
	Feedback  string
	Immediate bool
}

// CancelResult reports the outcome of a successful cancellation.
type CancelResult struct {
	Immediate bool
	Status    types.SubscriptionStatus
	// PeriodEnd is set for deferred cancellations: access continues until
	// the end of the already-paid period.
	PeriodEnd *time.Time
}

// CancellationState is the read-side view served by the cancellation
// endpoint.
type CancellationState struct {
	HasSubscription    bool                     `json:"has_subscription"`
	SubscriptionStatus types.SubscriptionStatus `json:"subscription_status"`
	PeriodEnd          *time.Time               `json:"period_end,omitempty"`
	Plan               types.PlanTier           `json:"plan"`
	CanCancel          bool                     `json:"can_cancel"`
}

// CancellationWorkflow executes user-initiated cancellations. Ordering is
// the invariant: the provider is canceled FIRST, and local state is only
// written after the provider call succeeds. A provider failure therefore
// leaves local state untouched, and the local store is never marked
// canceled while the provider still bills the tenant.
type CancellationWorkflow struct {
	provider SubscriptionCanceler
	store    CancellationStore
	members  MemberDirectory
	feedback FeedbackStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewCancellationWorkflow creates the workflow.
func NewCancellationWorkflow(
	provider SubscriptionCanceler,
	store CancellationStore,
	members MemberDirectory,
	feedback FeedbackStore,
	logger *slog.Logger,
) *CancellationWorkflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &CancellationWorkflow{
		provider: provider,
		store:    store,
		members:  members,
		feedback: feedback,
		logger:   logger,
		now:      time.Now,
	}
}

// Cancel runs the workflow for the acting user. Preconditions are checked
// before any mutation: the actor must be the organization owner, the
// organization must reference a provider subscription, the subscription must
// not already be canceled, and the reason must be one of the enumerated
// values. Each violation returns a typed domain error with nothing written.
func (w *CancellationWorkflow) Cancel(
	ctx context.Context,
	actor types.Actor,
	orgID string,
	req CancelRequest,
) (*CancelResult, error) {
	if !req.Reason.Valid() {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidReason,
			"reason must be one of the documented cancellation reasons",
			nil,
		)
	}

	role, err := w.members.GetRole(ctx, orgID, actor.ID)
	if err != nil {
		return nil, err
	}
	if role != types.RoleOwner {
		return nil, types.NewAppError(
			types.ErrCodePermissionRole,
			"only the organization owner can cancel the subscription",
			nil,
		)
	}

	org, err := w.store.GetByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !org.HasSubscription() {
		return nil, types.NewAppError(
			types.ErrCodeBillingNoSubscription,
			"organization has no subscription to cancel",
			nil,
		)
	}
	if org.SubscriptionStatus == types.SubStatusCanceled {
		return nil, types.NewAppError(
			types.ErrCodeBillingAlreadyCanceled,
			"subscription is already canceled",
			nil,
		)
	}

	// Provider first. Local state stays untouched if this fails.
	if err := w.provider.CancelSubscription(ctx, org.StripeSubscriptionID, req.Immediate); err != nil {
		w.logger.ErrorContext(ctx, "provider cancellation failed, local state unchanged",
			"org_id", orgID,
			"subscription_id", org.StripeSubscriptionID,
			"error", err,
		)
		return nil, err
	}

	now := w.now().UTC()
	status := types.SubStatusCanceling
	if req.Immediate {
		status = types.SubStatusCanceled
	}

	if err := w.store.ApplyCancellation(ctx, orgID, status, now); err != nil {
		// Provider-side cancel already happened; surface the error so the
		// caller retries, and let the subscription.deleted webhook converge
		// local state regardless.
		return nil, err
	}

	fb := &types.CancellationFeedback{
		ID:             "fb_" + uuid.NewString(),
		OrganizationID: orgID,
		Reason:         req.Reason,
		Feedback:       req.Feedback,
		Immediate:      req.Immediate,
		CreatedAt:      now,
	}
	if err := w.feedback.Insert(ctx, fb); err != nil {
		// Feedback is analytics, not billing state; losing a row is logged
		// rather than failing an otherwise-completed cancellation.
		w.logger.WarnContext(ctx, "failed to persist cancellation feedback",
			"org_id", orgID,
			"error", err,
		)
	}

	w.logger.InfoContext(ctx, "subscription canceled",
		"org_id", orgID,
		"immediate", req.Immediate,
		"reason", req.Reason,
	)

	result := &CancelResult{
		Immediate: req.Immediate,
		Status:    status,
	}
	if !req.Immediate {
		result.PeriodEnd = org.SubscriptionPeriodEnd
	}
	return result, nil
}

// State returns the current cancellation-relevant billing state for the
// organization.
func (w *CancellationWorkflow) State(ctx context.Context, orgID string) (*CancellationState, error) {
	org, err := w.store.GetByID(ctx, orgID)
	if err != nil {
		return nil, err
	}

	return &CancellationState{
		HasSubscription:    org.HasSubscription(),
		SubscriptionStatus: org.SubscriptionStatus,
		PeriodEnd:          org.SubscriptionPeriodEnd,
		Plan:               org.Plan,
		CanCancel:          org.HasSubscription() && org.SubscriptionStatus != types.SubStatusCanceled,
	}, nil
}
