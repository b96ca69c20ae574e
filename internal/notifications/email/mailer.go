// Package email renders and sends billing lifecycle emails. Rendering
// happens here; transmission is delegated to the external.EmailProvider.
package email

import (
	"context"
	"fmt"
	"log/slog"

	"flightdeck/internal/config"
	"flightdeck/internal/external"
	"flightdeck/internal/types"
)

// BillingMailer sends the three billing lifecycle emails to an
// organization's billing contact. It implements billing.Notifier.
//
// When EmailConfig.Enabled is false the mailer logs and drops every send.
// This is the kill switch for non-production environments, where real
// addresses must never receive mail.
type BillingMailer struct {
	provider external.EmailProvider
	cfg      config.EmailConfig
	logger   *slog.Logger
}

// NewBillingMailer creates a mailer.
func NewBillingMailer(provider external.EmailProvider, cfg config.EmailConfig, logger *slog.Logger) *BillingMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingMailer{provider: provider, cfg: cfg, logger: logger}
}

// PaymentConfirmed tells the billing contact an invoice was paid.
func (m *BillingMailer) PaymentConfirmed(ctx context.Context, org *types.Organization) error {
	subject := "Payment received"
	text := fmt.Sprintf(
		"Hi %s,\n\nWe received your payment for the %s plan. Your subscription is active.\n\nThe Flightdeck team",
		org.Name, org.Plan,
	)
	html := fmt.Sprintf(
		"<p>Hi %s,</p><p>We received your payment for the <strong>%s</strong> plan. Your subscription is active.</p><p>The Flightdeck team</p>",
		org.Name, org.Plan,
	)
	return m.send(ctx, org, "payment_confirmed", subject, text, html)
}

// PaymentFailed warns the billing contact a charge did not go through.
func (m *BillingMailer) PaymentFailed(ctx context.Context, org *types.Organization) error {
	subject := "Payment failed - action required"
	text := fmt.Sprintf(
		"Hi %s,\n\nWe couldn't process the payment for your %s plan. Please update your payment method to keep your account active.\n\nThe Flightdeck team",
		org.Name, org.Plan,
	)
	html := fmt.Sprintf(
		"<p>Hi %s,</p><p>We couldn't process the payment for your <strong>%s</strong> plan. Please update your payment method to keep your account active.</p><p>The Flightdeck team</p>",
		org.Name, org.Plan,
	)
	return m.send(ctx, org, "payment_failed", subject, text, html)
}

// SubscriptionCanceled confirms the subscription ended and the organization
// is back on the free plan.
func (m *BillingMailer) SubscriptionCanceled(ctx context.Context, org *types.Organization) error {
	subject := "Your subscription has been canceled"
	text := fmt.Sprintf(
		"Hi %s,\n\nYour subscription has been canceled and your account is now on the free plan. You can resubscribe at any time from the billing page.\n\nThe Flightdeck team",
		org.Name,
	)
	html := fmt.Sprintf(
		"<p>Hi %s,</p><p>Your subscription has been canceled and your account is now on the free plan. You can resubscribe at any time from the billing page.</p><p>The Flightdeck team</p>",
		org.Name,
	)
	return m.send(ctx, org, "subscription_canceled", subject, text, html)
}

func (m *BillingMailer) send(ctx context.Context, org *types.Organization, kind, subject, text, html string) error {
	if !m.cfg.Enabled {
		m.logger.InfoContext(ctx, "email sending disabled, dropping billing email",
			"org_id", org.ID,
			"email", kind,
		)
		return nil
	}
	if org.BillingEmail == "" {
		m.logger.WarnContext(ctx, "organization has no billing email, dropping billing email",
			"org_id", org.ID,
			"email", kind,
		)
		return nil
	}

	return m.provider.Send(ctx, types.SendInput{
		From: types.EmailAddress{
			Name:    m.cfg.FromName,
			Address: m.cfg.FromAddress,
		},
		To:       org.BillingEmail,
		Subject:  subject,
		BodyText: text,
		BodyHTML: html,
	})
}
