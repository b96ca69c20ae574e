package billing

import (
	"context"
	"log/slog"
	"time"

	"flightdeck/internal/types"
)

// ---------------------------------------------------------------------------
// Provider events
// ---------------------------------------------------------------------------

// CheckoutCompletedEvent carries the identifiers from a completed Stripe
// Checkout session. Status is NOT part of this event; it arrives with the
// subscription event that follows.
type CheckoutCompletedEvent struct {
	OrgID          string
	CustomerID     string
	SubscriptionID string
	OccurredAt     time.Time
}

// SubscriptionEvent carries the state from a customer.subscription.created,
// .updated, or .deleted payload.
type SubscriptionEvent struct {
	OrgID            string
	SubscriptionID   string
	PriceID          string
	Status           string // raw Stripe status, mapped by the reconciler
	CurrentPeriodEnd *time.Time
	OccurredAt       time.Time
}

// InvoiceEvent carries the correlation fields from an invoice payment event.
type InvoiceEvent struct {
	OrgID      string
	OccurredAt time.Time
}

// ---------------------------------------------------------------------------
// Dependencies
// ---------------------------------------------------------------------------

// BillingStateStore is the persistence surface the reconciler mutates.
// Every method is an idempotent set; all but ApplySubscriptionDeleted are
// guarded by the organization's last_billing_event_at timestamp, so an
// event older than the stored watermark is silently ignored. That is what
// makes at-least-once, out-of-order delivery safe. Implemented by
// db.OrganizationRepository.
type BillingStateStore interface {
	OrgLookup

	// StoreProviderRefs records the Stripe customer and subscription IDs.
	StoreProviderRefs(ctx context.Context, orgID, customerID, subscriptionID string, eventAt time.Time) error

	// ApplySubscriptionState sets plan, price, subscription status, org
	// status, and period end. Empty subStatus/orgStatus leave the stored
	// value unchanged (the "unknown external status" path).
	ApplySubscriptionState(
		ctx context.Context,
		orgID string,
		plan types.PlanTier,
		priceID string,
		subStatus types.SubscriptionStatus,
		orgStatus types.OrgStatus,
		periodEnd *time.Time,
		eventAt time.Time,
	) error

	// ApplySubscriptionDeleted reverts the org to the free tier, marks the
	// subscription canceled, and clears the subscription and price refs.
	// Deletion is terminal and not subject to the event watermark; it is
	// guarded by the subscription ID instead, so a late delete for a prior
	// subscription cannot clobber a resubscribed organization.
	ApplySubscriptionDeleted(ctx context.Context, orgID, subscriptionID string, eventAt time.Time) error

	// ApplyPaymentSucceeded marks the org active with an active subscription.
	ApplyPaymentSucceeded(ctx context.Context, orgID string, eventAt time.Time) error

	// ApplyPaymentFailed marks the subscription past_due.
	ApplyPaymentFailed(ctx context.Context, orgID string, eventAt time.Time) error
}

// Notifier sends billing lifecycle emails. Failures are logged by the
// reconciler, never propagated: a lost email must not make Stripe redeliver
// an already-applied event. Implemented by email.BillingMailer.
type Notifier interface {
	PaymentConfirmed(ctx context.Context, org *types.Organization) error
	PaymentFailed(ctx context.Context, org *types.Organization) error
	SubscriptionCanceled(ctx context.Context, org *types.Organization) error
}

// ---------------------------------------------------------------------------
// Reconciler
// ---------------------------------------------------------------------------

// Reconciler applies provider events to local organization billing state.
// Each handler is an idempotent set, never an increment, so duplicate
// delivery converges to the same final state.
type Reconciler struct {
	store    BillingStateStore
	catalog  Catalog
	notifier Notifier
	logger   *slog.Logger
}

// NewReconciler creates a subscription reconciler.
func NewReconciler(store BillingStateStore, catalog Catalog, notifier Notifier, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:    store,
		catalog:  catalog,
		notifier: notifier,
		logger:   logger,
	}
}

// HandleCheckoutCompleted stores the provider references on the organization.
// No status change happens here; the subscription event that Stripe sends
// next carries the authoritative state.
func (r *Reconciler) HandleCheckoutCompleted(ctx context.Context, ev CheckoutCompletedEvent) error {
	r.logger.InfoContext(ctx, "reconciling checkout completed",
		"org_id", ev.OrgID,
		"subscription_id", ev.SubscriptionID,
	)
	return r.store.StoreProviderRefs(ctx, ev.OrgID, ev.CustomerID, ev.SubscriptionID, ev.OccurredAt)
}

// HandleSubscriptionChange applies a subscription.created or .updated event:
// the plan is resolved from the payload's price ID, the Stripe status is
// mapped into the local vocabulary, and the organization is activated or
// suspended accordingly.
//
// An unrecognized price ID degrades to the free tier (logged as an anomaly,
// never a crash). An unrecognized status leaves the stored status unchanged.
func (r *Reconciler) HandleSubscriptionChange(ctx context.Context, ev SubscriptionEvent) error {
	plan, known := r.catalog.ResolveByPriceID(ev.PriceID)
	if !known {
		r.logger.WarnContext(ctx, "unrecognized stripe price id, degrading to free plan",
			"org_id", ev.OrgID,
			"price_id", ev.PriceID,
		)
	}

	var subStatus types.SubscriptionStatus
	var orgStatus types.OrgStatus
	if mapped, ok := types.MapStripeStatus(ev.Status); ok {
		subStatus = mapped
		if mapped == types.SubStatusActive {
			orgStatus = types.OrgActive
		} else {
			orgStatus = types.OrgSuspended
		}
	} else {
		// Unknown provider status: leave both statuses as they are.
		r.logger.WarnContext(ctx, "unknown stripe subscription status, keeping local status",
			"org_id", ev.OrgID,
			"stripe_status", ev.Status,
		)
	}

	r.logger.InfoContext(ctx, "reconciling subscription change",
		"org_id", ev.OrgID,
		"plan", plan,
		"subscription_status", subStatus,
	)

	return r.store.ApplySubscriptionState(
		ctx, ev.OrgID, plan, ev.PriceID, subStatus, orgStatus, ev.CurrentPeriodEnd, ev.OccurredAt,
	)
}

// HandleSubscriptionDeleted reverts the organization to the free tier and
// notifies the billing contact. This is the one path that resets the plan
// after a cancellation; the synchronous cancellation workflow deliberately
// leaves the plan in place until this event confirms the provider side.
func (r *Reconciler) HandleSubscriptionDeleted(ctx context.Context, ev SubscriptionEvent) error {
	r.logger.InfoContext(ctx, "reconciling subscription deleted", "org_id", ev.OrgID)

	if err := r.store.ApplySubscriptionDeleted(ctx, ev.OrgID, ev.SubscriptionID, ev.OccurredAt); err != nil {
		return err
	}

	if r.notifier != nil {
		r.notify(ctx, ev.OrgID, "subscription_canceled", r.notifier.SubscriptionCanceled)
	}
	return nil
}

// HandleInvoicePaymentSucceeded reactivates the organization and confirms
// the payment to the billing contact.
func (r *Reconciler) HandleInvoicePaymentSucceeded(ctx context.Context, ev InvoiceEvent) error {
	r.logger.InfoContext(ctx, "reconciling invoice payment succeeded", "org_id", ev.OrgID)

	if err := r.store.ApplyPaymentSucceeded(ctx, ev.OrgID, ev.OccurredAt); err != nil {
		return err
	}

	if r.notifier != nil {
		r.notify(ctx, ev.OrgID, "payment_confirmed", r.notifier.PaymentConfirmed)
	}
	return nil
}

// HandleInvoicePaymentFailed marks the subscription past_due and warns the
// billing contact.
func (r *Reconciler) HandleInvoicePaymentFailed(ctx context.Context, ev InvoiceEvent) error {
	r.logger.WarnContext(ctx, "reconciling invoice payment failed", "org_id", ev.OrgID)

	if err := r.store.ApplyPaymentFailed(ctx, ev.OrgID, ev.OccurredAt); err != nil {
		return err
	}

	if r.notifier != nil {
		r.notify(ctx, ev.OrgID, "payment_failed", r.notifier.PaymentFailed)
	}
	return nil
}

// notify loads the organization and fires one billing email. Email delivery
// is best-effort; failures are logged and swallowed.
func (r *Reconciler) notify(ctx context.Context, orgID, kind string, send func(context.Context, *types.Organization) error) {
	if r.notifier == nil {
		return
	}

	org, err := r.store.GetByID(ctx, orgID)
	if err != nil {
		r.logger.WarnContext(ctx, "skipping billing email, organization lookup failed",
			"org_id", orgID,
			"email", kind,
			"error", err,
		)
		return
	}

	if err := send(ctx, org); err != nil {
		r.logger.WarnContext(ctx, "failed to send billing email",
			"org_id", orgID,
			"email", kind,
			"error", err,
		)
	}
}
