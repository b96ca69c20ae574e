package db

import (
	"context"

	"flightdeck/internal/types"
)

// FeedbackRepository persists cancellation feedback for churn analytics.
type FeedbackRepository struct {
	db DBTX
}

// NewFeedbackRepository creates a feedback repository.
func NewFeedbackRepository(db DBTX) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// Insert stores one feedback row.
func (r *FeedbackRepository) Insert(ctx context.Context, fb *types.CancellationFeedback) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO cancellation_feedback
		 (id, organization_id, reason, feedback, immediate, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		fb.ID,
		fb.OrganizationID,
		fb.Reason,
		fb.Feedback,
		fb.Immediate,
		fb.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert cancellation feedback", err)
	}
	return nil
}

// ListByOrg returns feedback rows for one organization, newest first.
func (r *FeedbackRepository) ListByOrg(ctx context.Context, orgID string) ([]*types.CancellationFeedback, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, organization_id, reason, feedback, immediate, created_at
		 FROM cancellation_feedback
		 WHERE organization_id = $1
		 ORDER BY created_at DESC`,
		orgID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list cancellation feedback", err)
	}
	defer rows.Close()

	var out []*types.CancellationFeedback
	for rows.Next() {
		var fb types.CancellationFeedback
		if err := rows.Scan(&fb.ID, &fb.OrganizationID, &fb.Reason, &fb.Feedback, &fb.Immediate, &fb.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan cancellation feedback", err)
		}
		out = append(out, &fb)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate cancellation feedback", err)
	}
	return out, nil
}
