package types

// PlanTier identifies the billing plan for an organization.
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// Valid reports whether the tier is one of the three known plans.
func (p PlanTier) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanEnterprise:
		return true
	}
	return false
}

// OrgStatus represents the operational state of an organization.
// SUSPENDED organizations keep their data but cannot use metered features.
type OrgStatus string

const (
	OrgActive    OrgStatus = "active"
	OrgSuspended OrgStatus = "suspended"
)

// SubscriptionStatus represents the state of a billing subscription as
// tracked locally. It is a closed vocabulary; Stripe status strings are
// mapped into it by MapStripeStatus and never stored raw.
type SubscriptionStatus string

const (
	SubStatusNone      SubscriptionStatus = "none"
	SubStatusTrialing  SubscriptionStatus = "trialing"
	SubStatusActive    SubscriptionStatus = "active"
	SubStatusPastDue   SubscriptionStatus = "past_due"
	SubStatusCanceling SubscriptionStatus = "canceling"
	SubStatusCanceled  SubscriptionStatus = "canceled"
)

// Valid reports whether the status is one of the six enumerated values.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubStatusNone, SubStatusTrialing, SubStatusActive,
		SubStatusPastDue, SubStatusCanceling, SubStatusCanceled:
		return true
	}
	return false
}

// MapStripeStatus translates a Stripe subscription status string into the
// local vocabulary. The mapping is total over the known Stripe statuses;
// for anything else it returns ok=false and callers must leave the stored
// status unchanged rather than guess.
func MapStripeStatus(external string) (SubscriptionStatus, bool) {
	switch external {
	case "active":
		return SubStatusActive, true
	case "trialing":
		return SubStatusTrialing, true
	case "past_due", "unpaid":
		return SubStatusPastDue, true
	case "canceled", "incomplete_expired":
		return SubStatusCanceled, true
	case "incomplete", "paused":
		// Not yet billable; locally these orgs have no live subscription.
		return SubStatusNone, true
	default:
		return "", false
	}
}

// UserRole defines authorization levels within an organization.
// The hierarchy is Owner > Admin > Member.
type UserRole string

const (
	RoleOwner  UserRole = "owner"
	RoleAdmin  UserRole = "admin"
	RoleMember UserRole = "member"
)

// roleRank orders roles for RoleHasAtLeast comparisons.
var roleRank = map[UserRole]int{
	RoleMember: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// ResourceType identifies a plan-metered resource.
type ResourceType string

const (
	ResourceAircraft        ResourceType = "aircraft"
	ResourceUsers           ResourceType = "users"
	ResourceFlightsPerMonth ResourceType = "flights_per_month"
)

// Valid reports whether the resource type is metered by the plan catalog.
func (r ResourceType) Valid() bool {
	switch r {
	case ResourceAircraft, ResourceUsers, ResourceFlightsPerMonth:
		return true
	}
	return false
}

// CancellationReason is the closed set of reasons a user may give when
// canceling a subscription.
type CancellationReason string

const (
	ReasonTooExpensive     CancellationReason = "too_expensive"
	ReasonMissingFeatures  CancellationReason = "missing_features"
	ReasonSwitchedProvider CancellationReason = "switched_provider"
	ReasonNotEnoughUse     CancellationReason = "not_enough_use"
	ReasonTooComplicated   CancellationReason = "too_complicated"
	ReasonTemporaryPause   CancellationReason = "temporary_pause"
	ReasonOther            CancellationReason = "other"
)

// AllCancellationReasons lists the accepted values for request validation.
var AllCancellationReasons = []CancellationReason{
	ReasonTooExpensive,
	ReasonMissingFeatures,
	ReasonSwitchedProvider,
	ReasonNotEnoughUse,
	ReasonTooComplicated,
	ReasonTemporaryPause,
	ReasonOther,
}

// Valid reports whether the reason is one of the seven enumerated values.
func (c CancellationReason) Valid() bool {
	for _, r := range AllCancellationReasons {
		if c == r {
			return true
		}
	}
	return false
}

// ActorType identifies the kind of authenticated entity making a request.
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)
