package billing

import (
	"context"
	"fmt"
	"time"

	"flightdeck/internal/types"
)

// OrgLookup provides the minimal organization read access the limiter and
// trial manager need. Implemented by db.OrganizationRepository.
type OrgLookup interface {
	GetByID(ctx context.Context, orgID string) (*types.Organization, error)
}

// UsageDB provides the direct count queries behind entitlement checks.
// Implemented by db.UsageDB.
type UsageDB interface {
	// CountAircraft counts aircraft owned by the organization.
	CountAircraft(ctx context.Context, orgID string) (int, error)

	// CountUsers counts members of the organization.
	CountUsers(ctx context.Context, orgID string) (int, error)

	// CountFlightsBetween counts flights created in [start, end).
	CountFlightsBetween(ctx context.Context, orgID string, start, end time.Time) (int, error)
}

// Limiter checks plan-derived resource quotas. Counts are recomputed fresh
// on every call: the flight counter is a gauge over the current calendar
// month, not an accumulator.
//
// The check is advisory. It acquires no locks; callers that must not exceed
// a quota under concurrency wrap the check and the subsequent insert in one
// transaction at an isolation level that prevents phantom reads.
type Limiter struct {
	orgs    OrgLookup
	usage   UsageDB
	catalog Catalog
	now     func() time.Time
}

// NewLimiter creates an entitlement limiter.
func NewLimiter(orgs OrgLookup, usage UsageDB, catalog Catalog) *Limiter {
	return &Limiter{
		orgs:    orgs,
		usage:   usage,
		catalog: catalog,
		now:     time.Now,
	}
}

// CheckLimit reports whether the organization may create one more resource
// of the given kind. Allowed is true iff the plan limit is unlimited or the
// live count is below it.
func (l *Limiter) CheckLimit(ctx context.Context, orgID string, resource types.ResourceType) (*types.LimitCheck, error) {
	if !resource.Valid() {
		return nil, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"unknown resource type: "+string(resource),
			nil,
		)
	}

	org, err := l.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, err
	}

	limits := l.catalog.Get(org.Plan).Limits
	limit := limits.For(resource)

	current, err := l.currentCount(ctx, orgID, resource)
	if err != nil {
		return nil, err
	}

	check := &types.LimitCheck{
		Resource: resource,
		Current:  current,
		Limit:    limit,
		Allowed:  limit.Allows(current),
	}
	if !check.Allowed {
		check.Message = fmt.Sprintf(
			"%s limit reached for the %s plan (%d of %d used); upgrade to add more",
			resource, org.Plan, current, limit,
		)
	}
	return check, nil
}

// currentCount returns the live usage figure for the resource. Flights are
// scoped to [start of current calendar month, now).
func (l *Limiter) currentCount(ctx context.Context, orgID string, resource types.ResourceType) (int, error) {
	switch resource {
	case types.ResourceAircraft:
		return l.usage.CountAircraft(ctx, orgID)
	case types.ResourceUsers:
		return l.usage.CountUsers(ctx, orgID)
	case types.ResourceFlightsPerMonth:
		now := l.now().UTC()
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return l.usage.CountFlightsBetween(ctx, orgID, monthStart, now)
	default:
		return 0, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"unhandled resource type: "+string(resource),
			nil,
		)
	}
}
