package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"flightdeck/internal/types"
)

// --- Mock implementations ---

type mockBillingStateStore struct {
	mock.Mock
}

func (m *mockBillingStateStore) GetByID(ctx context.Context, orgID string) (*types.Organization, error) {
	args := m.Called(ctx, orgID)
	if org := args.Get(0); org != nil {
		return org.(*types.Organization), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBillingStateStore) StoreProviderRefs(ctx context.Context, orgID, customerID, subscriptionID string, eventAt time.Time) error {
	args := m.Called(ctx, orgID, customerID, subscriptionID, eventAt)
	return args.Error(0)
}

func (m *mockBillingStateStore) ApplySubscriptionState(
	ctx context.Context,
	orgID string,
	plan types.PlanTier,
	priceID string,
	subStatus types.SubscriptionStatus,
	orgStatus types.OrgStatus,
	periodEnd *time.Time,
	eventAt time.Time,
) error {
	args := m.Called(ctx, orgID, plan, priceID, subStatus, orgStatus, periodEnd, eventAt)
	return args.Error(0)
}

func (m *mockBillingStateStore) ApplySubscriptionDeleted(ctx context.Context, orgID, subscriptionID string, eventAt time.Time) error {
	args := m.Called(ctx, orgID, subscriptionID, eventAt)
	return args.Error(0)
}

func (m *mockBillingStateStore) ApplyPaymentSucceeded(ctx context.Context, orgID string, eventAt time.Time) error {
	args := m.Called(ctx, orgID, eventAt)
	return args.Error(0)
}

func (m *mockBillingStateStore) ApplyPaymentFailed(ctx context.Context, orgID string, eventAt time.Time) error {
	args := m.Called(ctx, orgID, eventAt)
	return args.Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) PaymentConfirmed(ctx context.Context, org *types.Organization) error {
	args := m.Called(ctx, org)
	return args.Error(0)
}

func (m *mockNotifier) PaymentFailed(ctx context.Context, org *types.Organization) error {
	args := m.Called(ctx, org)
	return args.Error(0)
}

func (m *mockNotifier) SubscriptionCanceled(ctx context.Context, org *types.Organization) error {
	args := m.Called(ctx, org)
	return args.Error(0)
}

// --- Helpers ---

var eventAt = time.Date(2026, 8, 10, 14, 0, 0, 0, time.UTC)

func setupReconciler() (*Reconciler, *mockBillingStateStore, *mockNotifier) {
	store := new(mockBillingStateStore)
	notifier := new(mockNotifier)
	r := NewReconciler(store, testCatalog(), notifier, nil)
	return r, store, notifier
}

// --- HandleCheckoutCompleted tests ---

func TestHandleCheckoutCompleted_StoresRefsOnly(t *testing.T) {
	r, store, notifier := setupReconciler()

	store.On("StoreProviderRefs", mock.Anything, "org_1", "cus_abc", "sub_xyz", eventAt).Return(nil)

	err := r.HandleCheckoutCompleted(context.Background(), CheckoutCompletedEvent{
		OrgID:          "org_1",
		CustomerID:     "cus_abc",
		SubscriptionID: "sub_xyz",
		OccurredAt:     eventAt,
	})
	require.NoError(t, err)

	// No status mutation, no email on checkout.
	store.AssertNotCalled(t, "ApplySubscriptionState",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	notifier.AssertNotCalled(t, "PaymentConfirmed", mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}

// --- HandleSubscriptionChange tests ---

func TestHandleSubscriptionChange_ActiveProSubscription(t *testing.T) {
	r, store, _ := setupReconciler()

	periodEnd := eventAt.AddDate(0, 1, 0)
	store.On("ApplySubscriptionState",
		mock.Anything, "org_1",
		types.PlanPro, "price_pro_123",
		types.SubStatusActive, types.OrgActive,
		&periodEnd, eventAt,
	).Return(nil)

	err := r.HandleSubscriptionChange(context.Background(), SubscriptionEvent{
		OrgID:            "org_1",
		SubscriptionID:   "sub_xyz",
		PriceID:          "price_pro_123",
		Status:           "active",
		CurrentPeriodEnd: &periodEnd,
		OccurredAt:       eventAt,
	})
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestHandleSubscriptionChange_PastDueSuspendsOrg(t *testing.T) {
	r, store, _ := setupReconciler()

	store.On("ApplySubscriptionState",
		mock.Anything, "org_1",
		types.PlanEnterprise, "price_ent_456",
		types.SubStatusPastDue, types.OrgSuspended,
		(*time.Time)(nil), eventAt,
	).Return(nil)

	err := r.HandleSubscriptionChange(context.Background(), SubscriptionEvent{
		OrgID:      "org_1",
		PriceID:    "price_ent_456",
		Status:     "past_due",
		OccurredAt: eventAt,
	})
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestHandleSubscriptionChange_UnknownPriceDegradesToFree(t *testing.T) {
	r, store, _ := setupReconciler()

	store.On("ApplySubscriptionState",
		mock.Anything, "org_1",
		types.PlanFree, "price_bogus",
		types.SubStatusActive, types.OrgActive,
		(*time.Time)(nil), eventAt,
	).Return(nil)

	err := r.HandleSubscriptionChange(context.Background(), SubscriptionEvent{
		OrgID:      "org_1",
		PriceID:    "price_bogus",
		Status:     "active",
		OccurredAt: eventAt,
	})
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestHandleSubscriptionChange_UnknownStatusKeepsLocalStatus(t *testing.T) {
	r, store, _ := setupReconciler()

	// Empty statuses tell the store to leave the stored values unchanged.
	store.On("ApplySubscriptionState",
		mock.Anything, "org_1",
		types.PlanPro, "price_pro_123",
		types.SubscriptionStatus(""), types.OrgStatus(""),
		(*time.Time)(nil), eventAt,
	).Return(nil)

	err := r.HandleSubscriptionChange(context.Background(), SubscriptionEvent{
		OrgID:      "org_1",
		PriceID:    "price_pro_123",
		Status:     "some_future_status",
		OccurredAt: eventAt,
	})
	require.NoError(t, err)
	store.AssertExpectations(t)
}

// --- HandleSubscriptionDeleted tests ---

func TestHandleSubscriptionDeleted_RevertsAndNotifies(t *testing.T) {
	r, store, notifier := setupReconciler()

	org := &types.Organization{ID: "org_1", BillingEmail: "ops@skyward.test"}
	store.On("ApplySubscriptionDeleted", mock.Anything, "org_1", "sub_123", eventAt).Return(nil)
	store.On("GetByID", mock.Anything, "org_1").Return(org, nil)
	notifier.On("SubscriptionCanceled", mock.Anything, org).Return(nil)

	err := r.HandleSubscriptionDeleted(context.Background(), SubscriptionEvent{
		OrgID:          "org_1",
		SubscriptionID: "sub_123",
		OccurredAt:     eventAt,
	})
	require.NoError(t, err)
	store.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestHandleSubscriptionDeleted_StoreErrorSkipsEmail(t *testing.T) {
	r, store, notifier := setupReconciler()

	store.On("ApplySubscriptionDeleted", mock.Anything, "org_1", "sub_123", eventAt).
		Return(types.NewAppError(types.ErrCodeInternalDB, "update failed", nil))

	err := r.HandleSubscriptionDeleted(context.Background(), SubscriptionEvent{
		OrgID:          "org_1",
		SubscriptionID: "sub_123",
		OccurredAt:     eventAt,
	})
	require.Error(t, err)
	notifier.AssertNotCalled(t, "SubscriptionCanceled", mock.Anything, mock.Anything)
}

// --- Invoice event tests ---

func TestHandleInvoicePaymentSucceeded_ActivatesAndConfirms(t *testing.T) {
	r, store, notifier := setupReconciler()

	org := &types.Organization{ID: "org_1", BillingEmail: "ops@skyward.test"}
	store.On("ApplyPaymentSucceeded", mock.Anything, "org_1", eventAt).Return(nil)
	store.On("GetByID", mock.Anything, "org_1").Return(org, nil)
	notifier.On("PaymentConfirmed", mock.Anything, org).Return(nil)

	err := r.HandleInvoicePaymentSucceeded(context.Background(), InvoiceEvent{
		OrgID:      "org_1",
		OccurredAt: eventAt,
	})
	require.NoError(t, err)
	store.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestHandleInvoicePaymentFailed_MarksPastDueAndWarns(t *testing.T) {
	r, store, notifier := setupReconciler()

	org := &types.Organization{ID: "org_1", BillingEmail: "ops@skyward.test"}
	store.On("ApplyPaymentFailed", mock.Anything, "org_1", eventAt).Return(nil)
	store.On("GetByID", mock.Anything, "org_1").Return(org, nil)
	notifier.On("PaymentFailed", mock.Anything, org).Return(nil)

	err := r.HandleInvoicePaymentFailed(context.Background(), InvoiceEvent{
		OrgID:      "org_1",
		OccurredAt: eventAt,
	})
	require.NoError(t, err)
	notifier.AssertExpectations(t)
}

func TestHandleInvoicePaymentSucceeded_EmailFailureIsSwallowed(t *testing.T) {
	r, store, notifier := setupReconciler()

	org := &types.Organization{ID: "org_1", BillingEmail: "ops@skyward.test"}
	store.On("ApplyPaymentSucceeded", mock.Anything, "org_1", eventAt).Return(nil)
	store.On("GetByID", mock.Anything, "org_1").Return(org, nil)
	notifier.On("PaymentConfirmed", mock.Anything, org).
		Return(types.NewAppError(types.ErrCodeUpstreamEmail, "ses unavailable", nil))

	err := r.HandleInvoicePaymentSucceeded(context.Background(), InvoiceEvent{
		OrgID:      "org_1",
		OccurredAt: eventAt,
	})
	assert.NoError(t, err)
}

func TestHandleInvoicePaymentSucceeded_NilNotifierIsSafe(t *testing.T) {
	store := new(mockBillingStateStore)
	r := NewReconciler(store, testCatalog(), nil, nil)

	store.On("ApplyPaymentSucceeded", mock.Anything, "org_1", eventAt).Return(nil)

	err := r.HandleInvoicePaymentSucceeded(context.Background(), InvoiceEvent{
		OrgID:      "org_1",
		OccurredAt: eventAt,
	})
	assert.NoError(t, err)
	store.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}
