// Package billing implements the billing and entitlement engine: the plan
// catalog, entitlement limiter, trial lifecycle, subscription reconciler,
// cancellation workflow, and revenue metrics.
package billing

import "flightdeck/internal/types"

// PlanDefinition describes one billing tier: its monthly price, the Stripe
// price that sells it, and the resource limits it grants.
type PlanDefinition struct {
	Tier          types.PlanTier
	MonthlyPrice  int64 // whole currency units per month
	StripePriceID string
	Limits        types.PlanLimits
}

// Catalog is the authoritative mapping between plan tiers, Stripe price IDs,
// prices, and limits. It is the single source of truth for what each plan
// allows.
type Catalog interface {
	// Get returns the definition for the given tier. Unknown tiers return
	// the Free definition to fail safely.
	Get(tier types.PlanTier) PlanDefinition

	// ResolveByPriceID maps a Stripe price ID back to a plan tier.
	// Unknown price IDs return (PlanFree, false); the reconciler degrades
	// to the free tier and logs the anomaly rather than crashing.
	ResolveByPriceID(priceID string) (types.PlanTier, bool)
}

// staticCatalog is a compile-time catalog backed by an in-memory table.
type staticCatalog struct {
	plans []PlanDefinition
}

// planLimitDefaults defines the hardcoded plan limits:
//
//	| Plan       | Aircraft  | Users     | Flights/Month |
//	|------------|-----------|-----------|---------------|
//	| Free       | 1         | 2         | 50            |
//	| Pro        | 3         | 10        | unlimited     |
//	| Enterprise | unlimited | unlimited | unlimited     |
var planLimitDefaults = map[types.PlanTier]types.PlanLimits{
	types.PlanFree: {
		MaxAircraft:        1,
		MaxUsers:           2,
		MaxFlightsPerMonth: 50,
	},
	types.PlanPro: {
		MaxAircraft:        3,
		MaxUsers:           10,
		MaxFlightsPerMonth: types.Unlimited,
	},
	types.PlanEnterprise: {
		MaxAircraft:        types.Unlimited,
		MaxUsers:           types.Unlimited,
		MaxFlightsPerMonth: types.Unlimited,
	},
}

// Monthly prices in whole currency units.
const (
	priceFree       int64 = 0
	pricePro        int64 = 397
	priceEnterprise int64 = 697
)

// NewStaticCatalog returns the production plan catalog. The Stripe price IDs
// for the paid tiers come from configuration so that test and live Stripe
// environments can use different prices without a rebuild.
func NewStaticCatalog(proPriceID, enterprisePriceID string) Catalog {
	return &staticCatalog{
		plans: []PlanDefinition{
			{
				Tier:         types.PlanFree,
				MonthlyPrice: priceFree,
				Limits:       planLimitDefaults[types.PlanFree],
			},
			{
				Tier:          types.PlanPro,
				MonthlyPrice:  pricePro,
				StripePriceID: proPriceID,
				Limits:        planLimitDefaults[types.PlanPro],
			},
			{
				Tier:          types.PlanEnterprise,
				MonthlyPrice:  priceEnterprise,
				StripePriceID: enterprisePriceID,
				Limits:        planLimitDefaults[types.PlanEnterprise],
			},
		},
	}
}

// Get returns the definition for the given tier, or the Free definition for
// unknown tiers.
func (c *staticCatalog) Get(tier types.PlanTier) PlanDefinition {
	for _, p := range c.plans {
		if p.Tier == tier {
			return p
		}
	}
	return c.plans[0]
}

// ResolveByPriceID scans the catalog for a matching Stripe price ID.
func (c *staticCatalog) ResolveByPriceID(priceID string) (types.PlanTier, bool) {
	if priceID != "" {
		for _, p := range c.plans {
			if p.StripePriceID == priceID {
				return p.Tier, true
			}
		}
	}
	return types.PlanFree, false
}
