package db

import (
	"context"
	"time"

	"flightdeck/internal/types"
)

// UsageDB answers the live resource counts behind entitlement checks. Counts
// are computed with COUNT(*) at call time; there is no cached usage table to
// drift out of sync.
type UsageDB struct {
	db DBTX
}

// NewUsageDB creates a usage counter.
func NewUsageDB(db DBTX) *UsageDB {
	return &UsageDB{db: db}
}

// CountAircraft counts non-deleted aircraft owned by the organization.
func (u *UsageDB) CountAircraft(ctx context.Context, orgID string) (int, error) {
	return u.count(ctx,
		`SELECT COUNT(*) FROM aircraft
		 WHERE organization_id = $1 AND deleted_at IS NULL`,
		orgID,
	)
}

// CountUsers counts members of the organization.
func (u *UsageDB) CountUsers(ctx context.Context, orgID string) (int, error) {
	return u.count(ctx,
		`SELECT COUNT(*) FROM organization_members
		 WHERE organization_id = $1`,
		orgID,
	)
}

// CountFlightsBetween counts flights created in [start, end).
func (u *UsageDB) CountFlightsBetween(ctx context.Context, orgID string, start, end time.Time) (int, error) {
	return u.count(ctx,
		`SELECT COUNT(*) FROM flights
		 WHERE organization_id = $1 AND created_at >= $2 AND created_at < $3`,
		orgID, start, end,
	)
}

func (u *UsageDB) count(ctx context.Context, sql string, args ...any) (int, error) {
	var n int
	if err := u.db.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count usage", err)
	}
	return n, nil
}
