package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/jackc/pgx/v5"

	"flightdeck/internal/types"
)

// TokenAuthenticator resolves API tokens to actors. Tokens are stored as
// SHA-256 hashes; the plaintext never touches the database. The role join
// runs on every request so a role change or membership removal takes effect
// immediately, not at token expiry.
type TokenAuthenticator struct {
	db DBTX
}

// NewTokenAuthenticator creates a token authenticator.
func NewTokenAuthenticator(db DBTX) *TokenAuthenticator {
	return &TokenAuthenticator{db: db}
}

// ResolveToken returns the Actor for a plaintext bearer token. Expired and
// revoked tokens resolve to the same opaque error as unknown ones.
func (a *TokenAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	sum := sha256.Sum256([]byte(token))
	tokenHash := hex.EncodeToString(sum[:])

	var actor types.Actor
	err := a.db.QueryRow(ctx,
		`SELECT t.user_id, m.organization_id, m.role
		 FROM api_tokens t
		 JOIN organization_members m
		   ON m.user_id = t.user_id AND m.organization_id = t.organization_id
		 WHERE t.token_hash = $1
		   AND t.revoked_at IS NULL
		   AND (t.expires_at IS NULL OR t.expires_at > NOW())`,
		tokenHash,
	).Scan(&actor.ID, &actor.OrganizationID, &actor.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid authentication token", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve token", err)
	}

	actor.Type = types.ActorTypeUser
	return &actor, nil
}
