package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"flightdeck/internal/types"
)

// MemberRepository provides data access for organization membership.
type MemberRepository struct {
	db DBTX
}

// NewMemberRepository creates a member repository.
func NewMemberRepository(db DBTX) *MemberRepository {
	return &MemberRepository{db: db}
}

// GetRole returns the user's role within the organization. A user who is not
// a member yields a permission error rather than a not-found, so handlers do
// not leak membership information.
func (r *MemberRepository) GetRole(ctx context.Context, orgID, userID string) (types.UserRole, error) {
	var role types.UserRole
	err := r.db.QueryRow(ctx,
		`SELECT role FROM organization_members
		 WHERE organization_id = $1 AND user_id = $2`,
		orgID,
		userID,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppError(
				types.ErrCodePermissionRole,
				"user is not a member of this organization",
				nil,
			)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to resolve member role", err)
	}
	return role, nil
}
