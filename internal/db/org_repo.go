package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"flightdeck/internal/types"
)

// OrganizationRepository provides data access for the organizations table.
// It is the single write path for billing state and implements the
// persistence interfaces of the billing package (BillingStateStore,
// TrialStore, CancellationStore, OrgLister).
//
// Key invariants:
//   - All billing mutations use optimistic locking via last_billing_event_at
//     to handle out-of-order provider webhooks: an event older than the
//     stored watermark is a silent no-op.
//   - Mutations reject soft-deleted organizations and log a billing alert,
//     since a webhook for a deleted tenant means the provider-side
//     subscription was never cleaned up.
type OrganizationRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewOrganizationRepository creates a repository backed by the given
// database connection (pool or transaction).
func NewOrganizationRepository(db DBTX, logger *slog.Logger) *OrganizationRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrganizationRepository{db: db, logger: logger}
}

// orgColumns is the standard column set for organization queries, kept in
// one place so the scan order cannot drift between methods.
const orgColumns = `o.id, o.name, o.billing_email, o.plan, o.status, o.subscription_status,
	o.stripe_customer_id, o.stripe_subscription_id, o.stripe_price_id,
	o.subscription_period_end, o.trial_ends_at, o.last_billing_event_at,
	o.created_at, o.updated_at, o.deleted_at`

// scanOrg scans a single organization row. Column order must match
// orgColumns.
func scanOrg(row pgx.Row) (*types.Organization, error) {
	var org types.Organization
	var customerID, subscriptionID, priceID *string

	err := row.Scan(
		&org.ID,
		&org.Name,
		&org.BillingEmail,
		&org.Plan,
		&org.Status,
		&org.SubscriptionStatus,
		&customerID,
		&subscriptionID,
		&priceID,
		&org.SubscriptionPeriodEnd,
		&org.TrialEndsAt,
		&org.LastBillingEventAt,
		&org.CreatedAt,
		&org.UpdatedAt,
		&org.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if customerID != nil {
		org.StripeCustomerID = *customerID
	}
	if subscriptionID != nil {
		org.StripeSubscriptionID = *subscriptionID
	}
	if priceID != nil {
		org.StripePriceID = *priceID
	}
	return &org, nil
}

// GetByID retrieves an organization by its ID. Excludes soft-deleted rows.
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*types.Organization, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+orgColumns+`
		 FROM organizations o
		 WHERE o.id = $1 AND o.deleted_at IS NULL`,
		id,
	)

	org, err := scanOrg(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve organization", err)
	}
	return org, nil
}

// ListAll returns every non-deleted organization. Used by the metrics
// aggregator, which computes its rollups in memory.
func (r *OrganizationRepository) ListAll(ctx context.Context) ([]*types.Organization, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+orgColumns+`
		 FROM organizations o
		 WHERE o.deleted_at IS NULL
		 ORDER BY o.created_at`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list organizations", err)
	}
	defer rows.Close()

	var orgs []*types.Organization
	for rows.Next() {
		org, err := scanOrg(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan organization", err)
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate organizations", err)
	}
	return orgs, nil
}

// guardNotDeleted rejects billing mutations against soft-deleted
// organizations. A webhook for a deleted tenant is logged as a billing alert
// so operations can cancel the orphaned provider subscription manually.
func (r *OrganizationRepository) guardNotDeleted(ctx context.Context, orgID string) error {
	var deletedAt *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT deleted_at FROM organizations WHERE id = $1`,
		orgID,
	).Scan(&deletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to check organization status", err)
	}

	if deletedAt != nil {
		r.logger.Error("BILLING_ALERT: billing event received for deleted organization",
			slog.String("org_id", orgID),
		)
		return types.NewAppError(
			types.ErrCodeConflictConcurrent,
			fmt.Sprintf("organization %s is deleted; billing update rejected", orgID),
			nil,
		)
	}
	return nil
}

// logStale records that an event lost the optimistic-lock race. Stale events
// are expected under at-least-once delivery and are not errors.
func (r *OrganizationRepository) logStale(ctx context.Context, orgID string, eventAt time.Time) {
	r.logger.InfoContext(ctx, "stale billing event ignored (optimistic lock)",
		slog.String("org_id", orgID),
		slog.Time("event_at", eventAt),
	)
}

// StoreProviderRefs records the Stripe customer and subscription IDs after a
// completed checkout. No status fields change here.
func (r *OrganizationRepository) StoreProviderRefs(
	ctx context.Context,
	orgID, customerID, subscriptionID string,
	eventAt time.Time,
) error {
	if err := r.guardNotDeleted(ctx, orgID); err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE organizations
		 SET stripe_customer_id = COALESCE(NULLIF($1, ''), stripe_customer_id),
		     stripe_subscription_id = COALESCE(NULLIF($2, ''), stripe_subscription_id),
		     last_billing_event_at = $3,
		     updated_at = NOW()
		 WHERE id = $4
		   AND deleted_at IS NULL
		   AND (last_billing_event_at IS NULL OR last_billing_event_at < $3)`,
		customerID,
		subscriptionID,
		eventAt,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to store provider references", err)
	}
	if tag.RowsAffected() == 0 {
		r.logStale(ctx, orgID, eventAt)
	}
	return nil
}

// ApplySubscriptionState sets plan, price, subscription status, org status,
// and period end in one guarded update. Empty subStatus or orgStatus keep
// the stored value (the unknown-external-status path).
func (r *OrganizationRepository) ApplySubscriptionState(
	ctx context.Context,
	orgID string,
	plan types.PlanTier,
	priceID string,
	subStatus types.SubscriptionStatus,
	orgStatus types.OrgStatus,
	periodEnd *time.Time,
	eventAt time.Time,
) error {
	if err := r.guardNotDeleted(ctx, orgID); err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE organizations
		 SET plan = $1,
		     stripe_price_id = $2,
		     subscription_status = COALESCE(NULLIF($3, ''), subscription_status),
		     status = COALESCE(NULLIF($4, ''), status),
		     subscription_period_end = $5,
		     last_billing_event_at = $6,
		     updated_at = NOW()
		 WHERE id = $7
		   AND deleted_at IS NULL
		   AND (last_billing_event_at IS NULL OR last_billing_event_at < $6)`,
		plan,
		priceID,
		string(subStatus),
		string(orgStatus),
		periodEnd,
		eventAt,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply subscription state", err)
	}
	if tag.RowsAffected() == 0 {
		r.logStale(ctx, orgID, eventAt)
	}
	return nil
}

// ApplySubscriptionDeleted reverts the organization to the free tier, marks
// the subscription canceled, and clears the subscription and price refs.
// The customer ref is kept so the tenant can resubscribe without creating a
// duplicate Stripe customer.
//
// Deletion is terminal and exempt from the event-timestamp watermark: an
// immediate cancellation advances last_billing_event_at past the deleted
// event's created time (Stripe mints the event before the cancel API call
// returns), and re-applying a delete cannot regress state. The guard is the
// subscription ID instead, so a late delete for an old subscription cannot
// clobber a tenant that already resubscribed. A NULL stored ID still matches,
// which keeps redelivery of an already-applied delete a no-op rather than a
// mismatch.
func (r *OrganizationRepository) ApplySubscriptionDeleted(ctx context.Context, orgID, subscriptionID string, eventAt time.Time) error {
	if err := r.guardNotDeleted(ctx, orgID); err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE organizations
		 SET plan = $1,
		     subscription_status = $2,
		     stripe_subscription_id = NULL,
		     stripe_price_id = NULL,
		     subscription_period_end = NULL,
		     last_billing_event_at = GREATEST(COALESCE(last_billing_event_at, $3), $3),
		     updated_at = NOW()
		 WHERE id = $4
		   AND deleted_at IS NULL
		   AND (stripe_subscription_id = $5 OR stripe_subscription_id IS NULL)`,
		types.PlanFree,
		types.SubStatusCanceled,
		eventAt,
		orgID,
		subscriptionID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply subscription deletion", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.InfoContext(ctx, "subscription deleted event ignored, subscription id does not match",
			slog.String("org_id", orgID),
			slog.String("subscription_id", subscriptionID),
		)
	}
	return nil
}

// ApplyPaymentSucceeded marks the organization active with an active
// subscription.
func (r *OrganizationRepository) ApplyPaymentSucceeded(ctx context.Context, orgID string, eventAt time.Time) error {
	return r.applyStatuses(ctx, orgID, types.OrgActive, types.SubStatusActive, eventAt)
}

// ApplyPaymentFailed marks the subscription past_due. The org status is left
// alone; suspension is driven by the subsequent subscription.updated event.
func (r *OrganizationRepository) ApplyPaymentFailed(ctx context.Context, orgID string, eventAt time.Time) error {
	return r.applyStatuses(ctx, orgID, "", types.SubStatusPastDue, eventAt)
}

// applyStatuses is the shared guarded update for the invoice events. Empty
// orgStatus keeps the stored value.
func (r *OrganizationRepository) applyStatuses(
	ctx context.Context,
	orgID string,
	orgStatus types.OrgStatus,
	subStatus types.SubscriptionStatus,
	eventAt time.Time,
) error {
	if err := r.guardNotDeleted(ctx, orgID); err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE organizations
		 SET status = COALESCE(NULLIF($1, ''), status),
		     subscription_status = $2,
		     last_billing_event_at = $3,
		     updated_at = NOW()
		 WHERE id = $4
		   AND deleted_at IS NULL
		   AND (last_billing_event_at IS NULL OR last_billing_event_at < $3)`,
		string(orgStatus),
		subStatus,
		eventAt,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply payment status", err)
	}
	if tag.RowsAffected() == 0 {
		r.logStale(ctx, orgID, eventAt)
	}
	return nil
}

// ApplyCancellation sets the subscription status after a successful
// provider-side cancel. The plan is deliberately untouched: only the
// subscription.deleted webhook resets it to free.
func (r *OrganizationRepository) ApplyCancellation(
	ctx context.Context,
	orgID string,
	status types.SubscriptionStatus,
	eventAt time.Time,
) error {
	if err := r.guardNotDeleted(ctx, orgID); err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE organizations
		 SET subscription_status = $1,
		     last_billing_event_at = $2,
		     updated_at = NOW()
		 WHERE id = $3 AND deleted_at IS NULL`,
		status,
		eventAt,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply cancellation", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found or deleted", nil)
	}
	return nil
}

// StartTrial sets plan, trialing status, and the trial end timestamp.
func (r *OrganizationRepository) StartTrial(
	ctx context.Context,
	orgID string,
	plan types.PlanTier,
	endsAt time.Time,
) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE organizations
		 SET plan = $1,
		     subscription_status = $2,
		     trial_ends_at = $3,
		     updated_at = NOW()
		 WHERE id = $4 AND deleted_at IS NULL`,
		plan,
		types.SubStatusTrialing,
		endsAt,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to start trial", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
	}
	return nil
}

// ListExpiredTrials returns the IDs of organizations whose trial has lapsed.
// The subscription_status filter is what keeps the sweep from clobbering an
// organization that already converted to a paid subscription.
func (r *OrganizationRepository) ListExpiredTrials(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM organizations
		 WHERE subscription_status = $1
		   AND trial_ends_at < $2
		   AND deleted_at IS NULL`,
		types.SubStatusTrialing,
		cutoff,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list expired trials", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan expired trial id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate expired trials", err)
	}
	return ids, nil
}

// ExpireTrial resets one lapsed trial back to the free tier. The WHERE
// clause repeats the sweep predicate so a concurrent conversion to a paid
// plan wins the race; in that case false is returned and nothing changes.
func (r *OrganizationRepository) ExpireTrial(ctx context.Context, orgID string, cutoff time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE organizations
		 SET plan = $1,
		     subscription_status = $2,
		     trial_ends_at = NULL,
		     updated_at = NOW()
		 WHERE id = $3
		   AND subscription_status = $4
		   AND trial_ends_at < $5
		   AND deleted_at IS NULL`,
		types.PlanFree,
		types.SubStatusNone,
		orgID,
		types.SubStatusTrialing,
		cutoff,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to expire trial", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetBillingInfo returns the Stripe customer ID and billing email for the
// organization. Used by the Stripe client to resolve checkout customers.
func (r *OrganizationRepository) GetBillingInfo(ctx context.Context, orgID string) (string, string, error) {
	var customerID *string
	var email string
	err := r.db.QueryRow(ctx,
		`SELECT stripe_customer_id, billing_email
		 FROM organizations
		 WHERE id = $1 AND deleted_at IS NULL`,
		orgID,
	).Scan(&customerID, &email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
		}
		return "", "", types.NewAppError(types.ErrCodeInternalDB, "failed to read billing info", err)
	}

	if customerID == nil {
		return "", email, nil
	}
	return *customerID, email, nil
}

// UpdateStripeCustomerID sets the Stripe customer reference for the
// organization.
func (r *OrganizationRepository) UpdateStripeCustomerID(ctx context.Context, orgID, customerID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE organizations
		 SET stripe_customer_id = $1,
		     updated_at = NOW()
		 WHERE id = $2 AND deleted_at IS NULL`,
		customerID,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update stripe customer id", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
	}
	return nil
}
