package external

import (
	"context"

	"flightdeck/internal/types"
)

// Stripe webhook event types the platform consumes. Everything else is
// acknowledged and ignored.
const (
	EventCheckoutCompleted       = "checkout.session.completed"
	EventSubscriptionCreated     = "customer.subscription.created"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
)

// BillingService is the outbound billing provider surface consumed by the
// API handlers and the cancellation workflow. Implemented by StripeClient.
type BillingService interface {
	// EnsureCustomer returns the provider customer ID for the organization,
	// creating the customer if it does not exist yet.
	EnsureCustomer(ctx context.Context, orgID, email string) (string, error)

	// CreateCheckoutSession returns a hosted checkout URL for upgrading the
	// organization to the given plan.
	CreateCheckoutSession(ctx context.Context, orgID string, plan types.PlanTier, urls types.RedirectURLs) (checkoutURL, sessionID string, err error)

	// CreatePortalSession returns a hosted billing-portal URL.
	CreatePortalSession(ctx context.Context, orgID, returnURL string) (string, error)

	// GetSubscription returns the provider's current view of the
	// organization's subscription.
	GetSubscription(ctx context.Context, orgID string) (*types.SubscriptionDetails, error)

	// CancelSubscription cancels at the provider: immediately when immediate
	// is true, at period end otherwise.
	CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) error
}

// WebhookVerifier validates inbound webhook signatures. Implemented by
// StripeVerifier.
type WebhookVerifier interface {
	Verify(payload []byte, header, secret string) error
}

// EmailProvider sends transactional email. Implemented by SESClient.
type EmailProvider interface {
	Send(ctx context.Context, input types.SendInput) error
}
