// Package handlers contains the HTTP handler implementations for the
// Flightdeck API.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"flightdeck/internal/billing"
	"flightdeck/internal/core"
	"flightdeck/internal/external"
	"flightdeck/internal/types"
)

// maxWebhookBodySize caps Stripe webhook payloads at 64 KB. Real payloads
// are far smaller; the cap protects against abuse.
const maxWebhookBodySize = 64 * 1024

// EventReconciler applies verified provider events to local billing state.
// Implemented by billing.Reconciler.
type EventReconciler interface {
	HandleCheckoutCompleted(ctx context.Context, ev billing.CheckoutCompletedEvent) error
	HandleSubscriptionChange(ctx context.Context, ev billing.SubscriptionEvent) error
	HandleSubscriptionDeleted(ctx context.Context, ev billing.SubscriptionEvent) error
	HandleInvoicePaymentSucceeded(ctx context.Context, ev billing.InvoiceEvent) error
	HandleInvoicePaymentFailed(ctx context.Context, ev billing.InvoiceEvent) error
}

// StripeWebhookHandler ingests asynchronous events from Stripe. The endpoint
// is outside bearer auth; its security is the Stripe-Signature check, which
// fails closed: no mutation happens on an unverified payload.
//
// Response codes drive Stripe's redelivery:
//   - 400: malformed payload or bad signature (not retried)
//   - 200: applied, or event type we do not consume
//   - 5xx: dispatch failure; Stripe redelivers and the idempotent
//     reconciler makes the retry safe
type StripeWebhookHandler struct {
	verifier   external.WebhookVerifier
	reconciler EventReconciler
	secret     string
	logger     *slog.Logger
}

// NewStripeWebhookHandler creates the webhook handler.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	reconciler EventReconciler,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:   verifier,
		reconciler: reconciler,
		secret:     secret,
		logger:     logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Kept separate from the
// authenticated billing routes because this one is public.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/webhook", h.Handle)
}

// Handle verifies, parses, and dispatches one webhook event.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSignatureInvalid,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSignatureInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to parse webhook event JSON", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
		// Non-2xx so Stripe redelivers; the reconciler's idempotent handlers
		// make the retry converge instead of double-applying.
		core.Error(w, r, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"webhook event processing failed",
			err,
		))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// routeEvent dispatches by event type. Types the platform does not consume
// are acknowledged without processing.
func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event *stripeWebhookEvent) error {
	switch event.Type {
	case external.EventCheckoutCompleted:
		return h.handleCheckoutCompleted(ctx, event)

	case external.EventSubscriptionCreated, external.EventSubscriptionUpdated:
		ev, err := event.subscriptionEvent()
		if err != nil {
			return err
		}
		return h.reconciler.HandleSubscriptionChange(ctx, ev)

	case external.EventSubscriptionDeleted:
		ev, err := event.subscriptionEvent()
		if err != nil {
			return err
		}
		return h.reconciler.HandleSubscriptionDeleted(ctx, ev)

	case external.EventInvoicePaymentSucceeded:
		ev, err := event.invoiceEvent()
		if err != nil {
			return err
		}
		return h.reconciler.HandleInvoicePaymentSucceeded(ctx, ev)

	case external.EventInvoicePaymentFailed:
		ev, err := event.invoiceEvent()
		if err != nil {
			return err
		}
		return h.reconciler.HandleInvoicePaymentFailed(ctx, ev)

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return nil
	}
}

func (h *StripeWebhookHandler) handleCheckoutCompleted(ctx context.Context, event *stripeWebhookEvent) error {
	var session stripeCheckoutSessionObj
	if err := event.unmarshalObject(&session); err != nil {
		return fmt.Errorf("%s: %w", event.Type, err)
	}

	orgID := session.ClientReferenceID
	if orgID == "" {
		orgID = session.Metadata["org_id"]
	}
	if orgID == "" {
		return fmt.Errorf("%s: missing org_id in event %s", event.Type, event.ID)
	}

	return h.reconciler.HandleCheckoutCompleted(ctx, billing.CheckoutCompletedEvent{
		OrgID:          orgID,
		CustomerID:     session.Customer,
		SubscriptionID: session.Subscription,
		OccurredAt:     event.eventTimestamp(),
	})
}

// subscriptionEvent extracts the fields shared by the subscription handlers.
func (e *stripeWebhookEvent) subscriptionEvent() (billing.SubscriptionEvent, error) {
	var sub stripeSubscriptionObj
	if err := e.unmarshalObject(&sub); err != nil {
		return billing.SubscriptionEvent{}, fmt.Errorf("%s: %w", e.Type, err)
	}

	orgID := sub.Metadata["org_id"]
	if orgID == "" {
		return billing.SubscriptionEvent{}, fmt.Errorf("%s: missing org_id in event %s", e.Type, e.ID)
	}

	ev := billing.SubscriptionEvent{
		OrgID:          orgID,
		SubscriptionID: sub.ID,
		Status:         sub.Status,
		OccurredAt:     e.eventTimestamp(),
	}
	if len(sub.Items.Data) > 0 {
		ev.PriceID = sub.Items.Data[0].Price.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		periodEnd := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		ev.CurrentPeriodEnd = &periodEnd
	}
	return ev, nil
}

func (e *stripeWebhookEvent) invoiceEvent() (billing.InvoiceEvent, error) {
	var invoice stripeInvoiceObj
	if err := e.unmarshalObject(&invoice); err != nil {
		return billing.InvoiceEvent{}, fmt.Errorf("%s: %w", e.Type, err)
	}

	orgID := ""
	if invoice.SubscriptionDetails != nil {
		orgID = invoice.SubscriptionDetails.Metadata["org_id"]
	}
	if orgID == "" {
		orgID = invoice.Metadata["org_id"]
	}
	if orgID == "" {
		return billing.InvoiceEvent{}, fmt.Errorf("%s: missing org_id in event %s", e.Type, e.ID)
	}

	return billing.InvoiceEvent{
		OrgID:      orgID,
		OccurredAt: e.eventTimestamp(),
	}, nil
}

// ---------------------------------------------------------------------------
// Stripe event parsing
// ---------------------------------------------------------------------------

// stripeWebhookEvent is a minimal view of a Stripe webhook event: only the
// fields routing and extraction need. Decoding the full stripe.Event would
// couple the handler to the library's types for no benefit.
type stripeWebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

func (e *stripeWebhookEvent) unmarshalObject(dst any) error {
	var data stripeEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return fmt.Errorf("decoding event data: %w", err)
	}
	if err := json.Unmarshal(data.Object, dst); err != nil {
		return fmt.Errorf("decoding event object: %w", err)
	}
	return nil
}

func (e *stripeWebhookEvent) eventTimestamp() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

type stripeCheckoutSessionObj struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

type stripeSubscriptionObj struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            stripeSubItems    `json:"items"`
}

type stripeSubItems struct {
	Data []stripeSubItem `json:"data"`
}

type stripeSubItem struct {
	Price stripeSubPrice `json:"price"`
}

type stripeSubPrice struct {
	ID string `json:"id"`
}

type stripeInvoiceObj struct {
	Subscription        string            `json:"subscription"`
	Metadata            map[string]string `json:"metadata"`
	SubscriptionDetails *stripeSubDetails `json:"subscription_details"`
}

type stripeSubDetails struct {
	Metadata map[string]string `json:"metadata"`
}
