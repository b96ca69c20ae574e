package core

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightdeck/internal/config"
	"flightdeck/internal/types"
)

// --- Test helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServer(t *testing.T) *Server {
	t.Helper()

	cfg := &config.Config{}
	cfg.Security.AdminAPIKey = config.SecretString("admin-secret")

	srv, err := NewServer(cfg, testLogger())
	require.NoError(t, err)
	return srv
}

// stubAuthenticator implements Authenticator.
type stubAuthenticator struct {
	actor *types.Actor
	err   error
}

func (s *stubAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	return s.actor, s.err
}

func okHandler(sawActor *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sawActor != nil {
			_, *sawActor = types.GetActor(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	})
}

// --- AuthMiddleware tests ---

func TestAuthMiddleware_ValidTokenInjectsActor(t *testing.T) {
	srv := testServer(t)
	srv.Authenticator = &stubAuthenticator{actor: &types.Actor{
		ID:             "user_1",
		Type:           types.ActorTypeUser,
		OrganizationID: "org_1",
		Role:           types.RoleAdmin,
	}}

	var sawActor bool
	handler := srv.AuthMiddleware(okHandler(&sawActor))

	req := httptest.NewRequest(http.MethodGet, "/v1/billing/subscription", nil)
	req.Header.Set("Authorization", "Bearer fd_live_secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sawActor)
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	srv := testServer(t)
	srv.Authenticator = &stubAuthenticator{}

	handler := srv.AuthMiddleware(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/v1/billing/subscription", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	srv := testServer(t)
	srv.Authenticator = &stubAuthenticator{
		err: types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid authentication token", nil),
	}

	handler := srv.AuthMiddleware(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/v1/billing/subscription", nil)
	req.Header.Set("Authorization", "Bearer fd_live_bogus")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_WebhookPathIsPublic(t *testing.T) {
	srv := testServer(t)
	srv.Authenticator = &stubAuthenticator{
		err: types.NewAppError(types.ErrCodeAuthTokenInvalid, "should not be called", nil),
	}

	handler := srv.AuthMiddleware(okHandler(nil))

	req := httptest.NewRequest(http.MethodPost, "/v1/billing/webhook", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExtractBearerToken(t *testing.T) {
	assert.Equal(t, "tok_123", extractBearerToken("Bearer tok_123"))
	assert.Equal(t, "tok_123", extractBearerToken("bearer tok_123"))
	assert.Empty(t, extractBearerToken("Basic dXNlcjpwYXNz"))
	assert.Empty(t, extractBearerToken(""))
	assert.Empty(t, extractBearerToken("Bearer"))
}

// --- AdminKeyMiddleware tests ---

func TestAdminKeyMiddleware_ValidKey(t *testing.T) {
	srv := testServer(t)
	handler := srv.AdminKeyMiddleware(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/metrics", nil)
	req.Header.Set("X-Admin-Key", "admin-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminKeyMiddleware_WrongKey(t *testing.T) {
	srv := testServer(t)
	handler := srv.AdminKeyMiddleware(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/metrics", nil)
	req.Header.Set("X-Admin-Key", "wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminKeyMiddleware_UnconfiguredKeyRejectsEverything(t *testing.T) {
	cfg := &config.Config{}
	srv, err := NewServer(cfg, testLogger())
	require.NoError(t, err)

	handler := srv.AdminKeyMiddleware(okHandler(nil))

	// No configured key must fail closed, even for an empty provided key.
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/metrics", nil)
	req.Header.Set("X-Admin-Key", "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// --- Recoverer tests ---

func TestRecoverer_PanicBecomes500Envelope(t *testing.T) {
	srv := testServer(t)
	handler := srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeErrorResponse(t, rec)
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), resp.Error.Code)
}

// --- SecurityHeaders tests ---

func TestSecurityHeadersMiddleware(t *testing.T) {
	srv := testServer(t)
	handler := srv.SecurityHeadersMiddleware(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/v1/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

// --- Request ID tests ---

func TestRequestIDMiddleware_GeneratesWhenAbsent(t *testing.T) {
	var gotID string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = types.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, gotID)
	assert.Equal(t, gotID, rec.Header().Get("X-Request-Id"))
}

func TestRequestIDMiddleware_ReusesInbound(t *testing.T) {
	var gotID string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = types.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/test", nil)
	req.Header.Set("X-Request-Id", "req_upstream")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req_upstream", gotID)
	assert.Equal(t, "req_upstream", rec.Header().Get("X-Request-Id"))
}
