package types

import "time"

// Limit is a plan resource ceiling. Unlimited is a distinct sentinel rather
// than a magic zero so that enforcement code cannot accidentally compare
// against it.
type Limit int64

// Unlimited marks a resource with no ceiling.
const Unlimited Limit = -1

// IsUnlimited reports whether the limit imposes no ceiling.
func (l Limit) IsUnlimited() bool {
	return l == Unlimited
}

// Allows reports whether one more resource may be created given the current
// count.
func (l Limit) Allows(current int) bool {
	return l.IsUnlimited() || current < int(l)
}

// PlanLimits defines the resource ceilings a plan grants an organization.
type PlanLimits struct {
	MaxAircraft        Limit `json:"max_aircraft"`
	MaxUsers           Limit `json:"max_users"`
	MaxFlightsPerMonth Limit `json:"max_flights_per_month"`
}

// For returns the limit for the given resource type. Unknown resource types
// get Limit(0), which denies creation; callers validate the type first.
func (p PlanLimits) For(resource ResourceType) Limit {
	switch resource {
	case ResourceAircraft:
		return p.MaxAircraft
	case ResourceUsers:
		return p.MaxUsers
	case ResourceFlightsPerMonth:
		return p.MaxFlightsPerMonth
	default:
		return Limit(0)
	}
}

// Organization is the tenant record. Billing state on it is mutated only by
// the trial manager, the subscription reconciler, and the cancellation
// workflow; resource-CRUD code reads it for display and limit checks.
type Organization struct {
	ID                 string             `json:"id" db:"id"`
	Name               string             `json:"name" db:"name"`
	BillingEmail       string             `json:"billing_email" db:"billing_email"`
	Plan               PlanTier           `json:"plan" db:"plan"`
	Status             OrgStatus          `json:"status" db:"status"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status" db:"subscription_status"`

	// Opaque references into the payment provider.
	StripeCustomerID     string `json:"-" db:"stripe_customer_id"`
	StripeSubscriptionID string `json:"-" db:"stripe_subscription_id"`
	StripePriceID        string `json:"-" db:"stripe_price_id"`

	SubscriptionPeriodEnd *time.Time `json:"subscription_period_end,omitempty" db:"subscription_period_end"`
	TrialEndsAt           *time.Time `json:"trial_ends_at,omitempty" db:"trial_ends_at"`

	// LastBillingEventAt is the optimistic concurrency token for webhook
	// reconciliation: updates carrying an older event timestamp are no-ops.
	LastBillingEventAt *time.Time `json:"-" db:"last_billing_event_at"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"-" db:"deleted_at"`
}

// HasSubscription reports whether the org currently references a provider
// subscription.
func (o *Organization) HasSubscription() bool {
	return o.StripeSubscriptionID != ""
}

// OrganizationMember links a user to an organization with a role.
type OrganizationMember struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	UserID         string    `json:"user_id" db:"user_id"`
	Email          string    `json:"email" db:"email"`
	Role           UserRole  `json:"role" db:"role"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// CancellationFeedback is the persisted record of a user-initiated
// cancellation: who, why, and whether it was immediate.
type CancellationFeedback struct {
	ID             string             `json:"id" db:"id"`
	OrganizationID string             `json:"organization_id" db:"organization_id"`
	Reason         CancellationReason `json:"reason" db:"reason"`
	Feedback       string             `json:"feedback,omitempty" db:"feedback"`
	Immediate      bool               `json:"immediate" db:"immediate"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
}

// LimitCheck is the result of an entitlement check for one resource type.
// Limit is Unlimited or a ceiling; Current is the live count at check time.
// The check is advisory: callers that need a hard guarantee must wrap the
// check-then-insert sequence in a transaction.
type LimitCheck struct {
	Allowed  bool         `json:"allowed"`
	Resource ResourceType `json:"resource"`
	Current  int          `json:"current"`
	Limit    Limit        `json:"limit"`
	Message  string       `json:"message,omitempty"`
}

// TrialStatus describes an organization's trial window.
type TrialStatus struct {
	InTrial       bool       `json:"in_trial"`
	DaysRemaining int        `json:"days_remaining"`
	TrialEndsAt   *time.Time `json:"trial_ends_at,omitempty"`
}

// SubscriptionDetails is the provider-truth view of a subscription returned
// by the billing service.
type SubscriptionDetails struct {
	Plan               PlanTier           `json:"plan"`
	Status             SubscriptionStatus `json:"status"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
}

// RedirectURLs guides the user back to the dashboard after Stripe checkout.
type RedirectURLs struct {
	Success string
	Cancel  string
}

// Actor represents the authenticated entity performing an operation.
// Resolution of credentials into an Actor happens outside this subsystem;
// handlers consume it from the request context.
type Actor struct {
	ID             string
	Type           ActorType
	OrganizationID string
	Role           UserRole
}

// RoleHasAtLeast reports whether the actor's role meets the minimum.
// System actors always pass.
func (a Actor) RoleHasAtLeast(min UserRole) bool {
	if a.Type == ActorTypeSystem {
		return true
	}
	return roleRank[a.Role] >= roleRank[min]
}

// BillingMetrics is the on-demand revenue and growth snapshot computed over
// the organization table.
type BillingMetrics struct {
	ActiveSubscriptions int     `json:"active_subscriptions"`
	TrialsActive        int     `json:"trials_active"`
	MRR                 int64   `json:"mrr"`
	ARR                 int64   `json:"arr"`
	GrowthRatePercent   float64 `json:"growth_rate_percent"`
	NewThisMonth        int     `json:"new_this_month"`
	NewLastMonth        int     `json:"new_last_month"`

	TrialsExpiringSoon []TrialAlert   `json:"trials_expiring_soon"`
	RevenueHistory     []RevenuePoint `json:"revenue_history"`

	// PlanDistribution and StatusDistribution count organizations per
	// plan tier and subscription status.
	PlanDistribution   map[PlanTier]int           `json:"plan_distribution"`
	StatusDistribution map[SubscriptionStatus]int `json:"status_distribution"`
}

// TrialAlert identifies a trial ending within the alert window.
type TrialAlert struct {
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	TrialEndsAt    time.Time `json:"trial_ends_at"`
}

// RevenuePoint is one month of the trailing revenue history.
//
// ApproxMRR is reconstructed by filtering organizations created before the
// month's end whose CURRENT status is active/trialing. It is a dashboard
// approximation, not an audit-grade ledger: a true historical figure would
// require an append-only log of plan and status changes.
type RevenuePoint struct {
	Month     time.Time `json:"month"`
	NewOrgs   int       `json:"new_orgs"`
	ApproxMRR int64     `json:"approx_mrr"`
}
