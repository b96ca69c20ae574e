package billing

import (
	"context"
	"time"

	"flightdeck/internal/types"
)

// trialAlertWindow is how far ahead the aggregator looks for trials that are
// about to lapse.
const trialAlertWindow = 3 * 24 * time.Hour

// revenueHistoryMonths is the length of the trailing revenue history.
const revenueHistoryMonths = 6

// OrgLister provides the full-table read the aggregator computes over.
// Implemented by db.OrganizationRepository.
type OrgLister interface {
	// ListAll returns every non-deleted organization.
	ListAll(ctx context.Context) ([]*types.Organization, error)
}

// Aggregator computes revenue and growth rollups over the organization
// table. It is read-only and computed on demand, not incrementally
// maintained; it consumes the invariants the reconciler upholds but is not
// part of the billing state machine.
type Aggregator struct {
	orgs    OrgLister
	catalog Catalog
}

// NewAggregator creates a metrics aggregator.
func NewAggregator(orgs OrgLister, catalog Catalog) *Aggregator {
	return &Aggregator{orgs: orgs, catalog: catalog}
}

// Snapshot computes the full metrics rollup as of now.
func (a *Aggregator) Snapshot(ctx context.Context, now time.Time) (*types.BillingMetrics, error) {
	orgs, err := a.orgs.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	thisMonthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	lastMonthStart := thisMonthStart.AddDate(0, -1, 0)

	m := &types.BillingMetrics{
		PlanDistribution:   make(map[types.PlanTier]int),
		StatusDistribution: make(map[types.SubscriptionStatus]int),
	}

	for _, org := range orgs {
		m.PlanDistribution[org.Plan]++
		m.StatusDistribution[org.SubscriptionStatus]++

		if org.SubscriptionStatus == types.SubStatusActive {
			m.ActiveSubscriptions++
		}
		if org.SubscriptionStatus == types.SubStatusTrialing ||
			(org.TrialEndsAt != nil && org.TrialEndsAt.After(now)) {
			m.TrialsActive++
		}

		if billable(org.SubscriptionStatus) {
			m.MRR += a.catalog.Get(org.Plan).MonthlyPrice
		}

		if !org.CreatedAt.Before(thisMonthStart) {
			m.NewThisMonth++
		} else if !org.CreatedAt.Before(lastMonthStart) {
			m.NewLastMonth++
		}

		if org.SubscriptionStatus == types.SubStatusTrialing &&
			org.TrialEndsAt != nil &&
			org.TrialEndsAt.After(now) &&
			!org.TrialEndsAt.After(now.Add(trialAlertWindow)) {
			m.TrialsExpiringSoon = append(m.TrialsExpiringSoon, types.TrialAlert{
				OrganizationID: org.ID,
				Name:           org.Name,
				TrialEndsAt:    *org.TrialEndsAt,
			})
		}
	}

	m.ARR = m.MRR * 12
	m.GrowthRatePercent = growthRate(m.NewLastMonth, m.NewThisMonth)
	m.RevenueHistory = a.revenueHistory(orgs, thisMonthStart)

	return m, nil
}

// billable reports whether an organization contributes to MRR.
func billable(s types.SubscriptionStatus) bool {
	return s == types.SubStatusActive || s == types.SubStatusTrialing
}

// growthRate applies the documented zero-denominator policy: 100 when last
// month was zero but this month is not, 0 when both are zero.
func growthRate(lastMonth, thisMonth int) float64 {
	switch {
	case lastMonth > 0:
		return float64(thisMonth-lastMonth) / float64(lastMonth) * 100
	case thisMonth > 0:
		return 100
	default:
		return 0
	}
}

// revenueHistory reconstructs the trailing months ending with the current
// one. Each month's ApproxMRR filters organizations created before the
// month's end whose CURRENT status is billable — an approximation using
// present status, not a historical snapshot (see types.RevenuePoint).
func (a *Aggregator) revenueHistory(orgs []*types.Organization, thisMonthStart time.Time) []types.RevenuePoint {
	history := make([]types.RevenuePoint, 0, revenueHistoryMonths)

	for i := revenueHistoryMonths - 1; i >= 0; i-- {
		monthStart := thisMonthStart.AddDate(0, -i, 0)
		monthEnd := monthStart.AddDate(0, 1, 0)

		point := types.RevenuePoint{Month: monthStart}
		for _, org := range orgs {
			if !org.CreatedAt.Before(monthStart) && org.CreatedAt.Before(monthEnd) {
				point.NewOrgs++
			}
			if org.CreatedAt.Before(monthEnd) && billable(org.SubscriptionStatus) {
				point.ApproxMRR += a.catalog.Get(org.Plan).MonthlyPrice
			}
		}
		history = append(history, point)
	}

	return history
}
