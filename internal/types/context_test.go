package types

import (
	"context"
	"testing"
)

func TestActorContextRoundTrip(t *testing.T) {
	actor := Actor{
		ID:             "user_1",
		Type:           ActorTypeUser,
		OrganizationID: "org_1",
		Role:           RoleAdmin,
	}

	ctx := WithActor(context.Background(), actor)
	got, ok := GetActor(ctx)
	if !ok {
		t.Fatal("GetActor() ok = false after WithActor")
	}
	if got != actor {
		t.Errorf("GetActor() = %+v, want %+v", got, actor)
	}
}

func TestGetActorMissing(t *testing.T) {
	if _, ok := GetActor(context.Background()); ok {
		t.Error("GetActor() ok = true on empty context")
	}
}

func TestGetOrgIDDerivedFromActor(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{ID: "user_1", OrganizationID: "org_1"})

	orgID, ok := GetOrgID(ctx)
	if !ok || orgID != "org_1" {
		t.Errorf("GetOrgID() = (%q, %v), want (org_1, true)", orgID, ok)
	}
}

func TestGetOrgIDMissingOrgFails(t *testing.T) {
	// An actor without an organization (e.g. a system actor) yields no org ID.
	ctx := WithActor(context.Background(), Actor{ID: "sweeper", Type: ActorTypeSystem})

	if _, ok := GetOrgID(ctx); ok {
		t.Error("GetOrgID() ok = true for actor without organization")
	}

	if _, ok := GetOrgID(context.Background()); ok {
		t.Error("GetOrgID() ok = true on empty context")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req_abc123")
	if got := GetRequestID(ctx); got != "req_abc123" {
		t.Errorf("GetRequestID() = %q, want req_abc123", got)
	}

	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q, want empty", got)
	}
}
