package billing

import (
	"context"
	"log/slog"
	"time"

	"flightdeck/internal/types"
)

// DefaultTrialDays is the fallback trial length when neither the caller nor
// the configuration supplies one.
const DefaultTrialDays = 7

// TrialStore is the persistence surface the trial manager needs.
// Implemented by db.OrganizationRepository.
type TrialStore interface {
	OrgLookup

	// StartTrial sets plan, subscription status trialing, and the trial
	// end timestamp in one update.
	StartTrial(ctx context.Context, orgID string, plan types.PlanTier, endsAt time.Time) error

	// ListExpiredTrials returns the IDs of organizations with
	// subscription_status = trialing and trial_ends_at < cutoff.
	ListExpiredTrials(ctx context.Context, cutoff time.Time) ([]string, error)

	// ExpireTrial resets a single organization to the free tier, guarded by
	// the same predicate as ListExpiredTrials so that an org which converted
	// to a paid subscription between the list and the update is untouched.
	// Returns false when the guard filtered the row out.
	ExpireTrial(ctx context.Context, orgID string, cutoff time.Time) (bool, error)
}

// TrialManager starts, inspects, and expires trial periods.
type TrialManager struct {
	store       TrialStore
	defaultDays int
	logger      *slog.Logger
	now         func() time.Time
}

// NewTrialManager creates a TrialManager. defaultDays is the trial length
// used when StartTrial is called with days <= 0; a non-positive defaultDays
// falls back to DefaultTrialDays.
func NewTrialManager(store TrialStore, defaultDays int, logger *slog.Logger) *TrialManager {
	if defaultDays <= 0 {
		defaultDays = DefaultTrialDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TrialManager{
		store:       store,
		defaultDays: defaultDays,
		logger:      logger,
		now:         time.Now,
	}
}

// StartTrial puts the organization on a Pro trial ending days from now (the
// configured default when days <= 0). Re-invocation resets the trial window;
// one-trial-per-organization is the caller's responsibility, not guarded
// here.
func (m *TrialManager) StartTrial(ctx context.Context, orgID string, days int) error {
	if days <= 0 {
		days = m.defaultDays
	}

	endsAt := m.now().UTC().Add(time.Duration(days) * 24 * time.Hour)
	if err := m.store.StartTrial(ctx, orgID, types.PlanPro, endsAt); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "trial started",
		"org_id", orgID,
		"days", days,
		"trial_ends_at", endsAt,
	)
	return nil
}

// TrialStatus reports whether the organization is in a trial window and how
// many whole days remain (ceiling, floored at zero).
func (m *TrialManager) TrialStatus(ctx context.Context, orgID string) (*types.TrialStatus, error) {
	org, err := m.store.GetByID(ctx, orgID)
	if err != nil {
		return nil, err
	}

	status := &types.TrialStatus{TrialEndsAt: org.TrialEndsAt}
	if org.TrialEndsAt == nil {
		return status, nil
	}

	now := m.now().UTC()
	if org.TrialEndsAt.After(now) {
		status.InTrial = true
		remaining := org.TrialEndsAt.Sub(now)
		status.DaysRemaining = int((remaining + 24*time.Hour - 1) / (24 * time.Hour))
	}
	return status, nil
}

// ExpireTrials resets every organization whose trial has lapsed back to the
// free tier. Only rows with subscription_status = trialing are touched: an
// organization that converted to a paid subscription keeps its plan even if
// an old trial_ends_at is still set.
//
// The sweep is best-effort and re-runnable: a failure on one organization is
// logged and the sweep continues. The guarded per-row update makes
// concurrent or overlapping sweeps idempotent.
func (m *TrialManager) ExpireTrials(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.UTC()

	ids, err := m.store.ListExpiredTrials(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, orgID := range ids {
		done, err := m.store.ExpireTrial(ctx, orgID, cutoff)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to expire trial, continuing sweep",
				"org_id", orgID,
				"error", err,
			)
			continue
		}
		if done {
			expired++
			m.logger.InfoContext(ctx, "trial expired", "org_id", orgID)
		}
	}

	if expired > 0 || len(ids) > 0 {
		m.logger.InfoContext(ctx, "trial sweep completed",
			"candidates", len(ids),
			"expired", expired,
		)
	}
	return expired, nil
}
