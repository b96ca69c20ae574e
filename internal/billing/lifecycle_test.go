package billing

// Sequence tests that drive the reconciler and the cancellation workflow
// against one stateful in-memory store reproducing the repository's guard
// semantics: the last_billing_event_at watermark on subscription state
// updates, and the subscription-ID guard on deletion. The per-handler tests
// cover each mutation in isolation; these cover the orderings that matter
// across handlers.

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightdeck/internal/types"
)

// --- Stateful fake store ---

// fakeLifecycleStore holds a single organization and applies mutations with
// the same predicates the SQL statements in the db package use.
type fakeLifecycleStore struct {
	org types.Organization
}

func (s *fakeLifecycleStore) GetByID(ctx context.Context, orgID string) (*types.Organization, error) {
	org := s.org
	return &org, nil
}

func (s *fakeLifecycleStore) stale(eventAt time.Time) bool {
	return s.org.LastBillingEventAt != nil && !s.org.LastBillingEventAt.Before(eventAt)
}

func (s *fakeLifecycleStore) StoreProviderRefs(ctx context.Context, orgID, customerID, subscriptionID string, eventAt time.Time) error {
	if s.stale(eventAt) {
		return nil
	}
	s.org.StripeCustomerID = customerID
	s.org.StripeSubscriptionID = subscriptionID
	s.org.LastBillingEventAt = &eventAt
	return nil
}

func (s *fakeLifecycleStore) ApplySubscriptionState(
	ctx context.Context,
	orgID string,
	plan types.PlanTier,
	priceID string,
	subStatus types.SubscriptionStatus,
	orgStatus types.OrgStatus,
	periodEnd *time.Time,
	eventAt time.Time,
) error {
	if s.stale(eventAt) {
		return nil
	}
	s.org.Plan = plan
	s.org.StripePriceID = priceID
	if subStatus != "" {
		s.org.SubscriptionStatus = subStatus
	}
	if orgStatus != "" {
		s.org.Status = orgStatus
	}
	s.org.SubscriptionPeriodEnd = periodEnd
	s.org.LastBillingEventAt = &eventAt
	return nil
}

func (s *fakeLifecycleStore) ApplySubscriptionDeleted(ctx context.Context, orgID, subscriptionID string, eventAt time.Time) error {
	if s.org.StripeSubscriptionID != "" && s.org.StripeSubscriptionID != subscriptionID {
		return nil
	}
	s.org.Plan = types.PlanFree
	s.org.SubscriptionStatus = types.SubStatusCanceled
	s.org.StripeSubscriptionID = ""
	s.org.StripePriceID = ""
	s.org.SubscriptionPeriodEnd = nil
	if s.org.LastBillingEventAt == nil || s.org.LastBillingEventAt.Before(eventAt) {
		s.org.LastBillingEventAt = &eventAt
	}
	return nil
}

func (s *fakeLifecycleStore) ApplyPaymentSucceeded(ctx context.Context, orgID string, eventAt time.Time) error {
	if s.stale(eventAt) {
		return nil
	}
	s.org.Status = types.OrgActive
	s.org.SubscriptionStatus = types.SubStatusActive
	s.org.LastBillingEventAt = &eventAt
	return nil
}

func (s *fakeLifecycleStore) ApplyPaymentFailed(ctx context.Context, orgID string, eventAt time.Time) error {
	if s.stale(eventAt) {
		return nil
	}
	s.org.SubscriptionStatus = types.SubStatusPastDue
	s.org.LastBillingEventAt = &eventAt
	return nil
}

func (s *fakeLifecycleStore) ApplyCancellation(ctx context.Context, orgID string, status types.SubscriptionStatus, eventAt time.Time) error {
	s.org.SubscriptionStatus = status
	s.org.LastBillingEventAt = &eventAt
	return nil
}

// --- Workflow collaborators ---

type ownerDirectory struct{}

func (ownerDirectory) GetRole(ctx context.Context, orgID, userID string) (types.UserRole, error) {
	return types.RoleOwner, nil
}

type acceptingCanceler struct{}

func (acceptingCanceler) CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) error {
	return nil
}

type discardFeedback struct{}

func (discardFeedback) Insert(ctx context.Context, fb *types.CancellationFeedback) error {
	return nil
}

// --- Helpers ---

func proSubscriber(subscriptionID string) types.Organization {
	periodEnd := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	return types.Organization{
		ID:                    "org_1",
		Name:                  "Skyward Charter",
		Plan:                  types.PlanPro,
		Status:                types.OrgActive,
		SubscriptionStatus:    types.SubStatusActive,
		StripeCustomerID:      "cus_123",
		StripeSubscriptionID:  subscriptionID,
		StripePriceID:         "price_pro_123",
		SubscriptionPeriodEnd: &periodEnd,
	}
}

// --- Sequence tests ---

func TestLifecycle_SameUpdateDeliveredTwiceConverges(t *testing.T) {
	store := &fakeLifecycleStore{org: proSubscriber("sub_123")}
	r := NewReconciler(store, testCatalog(), nil, nil)

	periodEnd := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	ev := SubscriptionEvent{
		OrgID:            "org_1",
		SubscriptionID:   "sub_123",
		PriceID:          "price_ent_456",
		Status:           "active",
		CurrentPeriodEnd: &periodEnd,
		OccurredAt:       time.Date(2026, 8, 10, 14, 0, 0, 0, time.UTC),
	}

	require.NoError(t, r.HandleSubscriptionChange(context.Background(), ev))
	first := store.org

	// Stripe redelivered the same event. The second apply must be a no-op.
	require.NoError(t, r.HandleSubscriptionChange(context.Background(), ev))
	assert.Equal(t, first, store.org)
	assert.Equal(t, types.PlanEnterprise, store.org.Plan)
	assert.Equal(t, types.SubStatusActive, store.org.SubscriptionStatus)
}

func TestLifecycle_StaleUpdateDoesNotRegressState(t *testing.T) {
	store := &fakeLifecycleStore{org: proSubscriber("sub_123")}
	r := NewReconciler(store, testCatalog(), nil, nil)

	newer := SubscriptionEvent{
		OrgID:          "org_1",
		SubscriptionID: "sub_123",
		PriceID:        "price_ent_456",
		Status:         "active",
		OccurredAt:     time.Date(2026, 8, 10, 14, 0, 0, 0, time.UTC),
	}
	older := SubscriptionEvent{
		OrgID:          "org_1",
		SubscriptionID: "sub_123",
		PriceID:        "price_pro_123",
		Status:         "past_due",
		OccurredAt:     time.Date(2026, 8, 10, 13, 0, 0, 0, time.UTC),
	}

	require.NoError(t, r.HandleSubscriptionChange(context.Background(), newer))
	require.NoError(t, r.HandleSubscriptionChange(context.Background(), older))

	assert.Equal(t, types.PlanEnterprise, store.org.Plan)
	assert.Equal(t, types.SubStatusActive, store.org.SubscriptionStatus)
}

// An immediate cancellation writes status=canceled with the workflow's wall
// clock, which lands AFTER the created timestamp Stripe put on the
// customer.subscription.deleted event it minted during the cancel API call.
// The deleted webhook must still finalize the downgrade: reset the plan to
// free and clear the provider refs.
func TestLifecycle_ImmediateCancelThenDeletedWebhookResetsPlan(t *testing.T) {
	store := &fakeLifecycleStore{org: proSubscriber("sub_123")}

	w := NewCancellationWorkflow(acceptingCanceler{}, store, ownerDirectory{}, discardFeedback{}, nil)
	cancelAt := time.Date(2026, 8, 10, 14, 0, 30, 0, time.UTC)
	w.now = func() time.Time { return cancelAt }

	res, err := w.Cancel(context.Background(), types.Actor{ID: "user_1"}, "org_1", CancelRequest{
		Reason:    types.ReasonTooExpensive,
		Immediate: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Immediate)

	// Plan is untouched until the provider confirms via webhook.
	assert.Equal(t, types.PlanPro, store.org.Plan)
	assert.Equal(t, types.SubStatusCanceled, store.org.SubscriptionStatus)

	// The deleted event was created provider-side before the cancel call
	// returned, so it carries an older timestamp than the local write.
	r := NewReconciler(store, testCatalog(), nil, nil)
	err = r.HandleSubscriptionDeleted(context.Background(), SubscriptionEvent{
		OrgID:          "org_1",
		SubscriptionID: "sub_123",
		OccurredAt:     cancelAt.Add(-20 * time.Second),
	})
	require.NoError(t, err)

	assert.Equal(t, types.PlanFree, store.org.Plan)
	assert.Equal(t, types.SubStatusCanceled, store.org.SubscriptionStatus)
	assert.False(t, store.org.HasSubscription())
	assert.Empty(t, store.org.StripePriceID)
	assert.Nil(t, store.org.SubscriptionPeriodEnd)
	// The watermark never moves backwards.
	require.NotNil(t, store.org.LastBillingEventAt)
	assert.False(t, store.org.LastBillingEventAt.Before(cancelAt))
}

func TestLifecycle_DeletedForPriorSubscriptionIsIgnored(t *testing.T) {
	// The tenant canceled sub_old, resubscribed, and now holds sub_new. A
	// late deleted event for sub_old must not downgrade them.
	store := &fakeLifecycleStore{org: proSubscriber("sub_new")}
	r := NewReconciler(store, testCatalog(), nil, nil)

	err := r.HandleSubscriptionDeleted(context.Background(), SubscriptionEvent{
		OrgID:          "org_1",
		SubscriptionID: "sub_old",
		OccurredAt:     time.Date(2026, 8, 10, 14, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, types.PlanPro, store.org.Plan)
	assert.Equal(t, "sub_new", store.org.StripeSubscriptionID)
}
