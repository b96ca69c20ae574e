package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightdeck/internal/billing"
	"flightdeck/internal/core"
	"flightdeck/internal/types"
)

// mockCancellationService implements CancellationService and records calls.
type mockCancellationService struct {
	cancelCalls []billing.CancelRequest
	cancelActor types.Actor
	result      *billing.CancelResult
	cancelErr   error
	state       *billing.CancellationState
	stateErr    error
}

func (m *mockCancellationService) Cancel(ctx context.Context, actor types.Actor, orgID string, req billing.CancelRequest) (*billing.CancelResult, error) {
	m.cancelCalls = append(m.cancelCalls, req)
	m.cancelActor = actor
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	return m.result, nil
}

func (m *mockCancellationService) State(ctx context.Context, orgID string) (*billing.CancellationState, error) {
	return m.state, m.stateErr
}

func setupCancellationHandler(workflow *mockCancellationService) *CancellationHandler {
	return NewCancellationHandler(workflow, core.NewValidator(), nil)
}

func TestCancelSubscription_Success(t *testing.T) {
	periodEnd := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	workflow := &mockCancellationService{result: &billing.CancelResult{
		Immediate: false,
		Status:    types.SubStatusCanceling,
		PeriodEnd: &periodEnd,
	}}
	h := setupCancellationHandler(workflow)

	body := []byte(`{"reason":"too_expensive","feedback":"budget cuts this quarter"}`)
	req := authedRequest(http.MethodPost, "/v1/billing/cancellation", body, types.RoleOwner)
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, workflow.cancelCalls, 1)

	call := workflow.cancelCalls[0]
	assert.Equal(t, types.ReasonTooExpensive, call.Reason)
	assert.Equal(t, "budget cuts this quarter", call.Feedback)
	assert.False(t, call.Immediate)
	assert.Equal(t, "user_1", workflow.cancelActor.ID)

	result := decodeData[billing.CancelResult](t, rec)
	assert.Equal(t, types.SubStatusCanceling, result.Status)
}

func TestCancelSubscription_ImmediateFlag(t *testing.T) {
	workflow := &mockCancellationService{result: &billing.CancelResult{
		Immediate: true,
		Status:    types.SubStatusCanceled,
	}}
	h := setupCancellationHandler(workflow)

	body := []byte(`{"reason":"switched_provider","cancel_immediately":true}`)
	req := authedRequest(http.MethodPost, "/v1/billing/cancellation", body, types.RoleOwner)
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, workflow.cancelCalls, 1)
	assert.True(t, workflow.cancelCalls[0].Immediate)
}

func TestCancelSubscription_MissingReasonRejected(t *testing.T) {
	workflow := &mockCancellationService{}
	h := setupCancellationHandler(workflow)

	req := authedRequest(http.MethodPost, "/v1/billing/cancellation",
		[]byte(`{"feedback":"no reason given"}`), types.RoleOwner)
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, workflow.cancelCalls)
}

func TestCancelSubscription_Unauthenticated(t *testing.T) {
	workflow := &mockCancellationService{}
	h := setupCancellationHandler(workflow)

	req := httptest.NewRequest(http.MethodPost, "/v1/billing/cancellation", nil)
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, workflow.cancelCalls)
}

func TestCancelSubscription_WorkflowErrorMapped(t *testing.T) {
	workflow := &mockCancellationService{
		cancelErr: types.NewAppError(types.ErrCodePermissionRole, "only the organization owner can cancel the subscription", nil),
	}
	h := setupCancellationHandler(workflow)

	req := authedRequest(http.MethodPost, "/v1/billing/cancellation",
		[]byte(`{"reason":"other"}`), types.RoleAdmin)
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCancellationState(t *testing.T) {
	periodEnd := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	workflow := &mockCancellationService{state: &billing.CancellationState{
		HasSubscription:    true,
		SubscriptionStatus: types.SubStatusActive,
		PeriodEnd:          &periodEnd,
		Plan:               types.PlanPro,
		CanCancel:          true,
	}}
	h := setupCancellationHandler(workflow)

	req := authedRequest(http.MethodGet, "/v1/billing/cancellation", nil, types.RoleMember)
	rec := httptest.NewRecorder()
	h.State(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	state := decodeData[billing.CancellationState](t, rec)
	assert.True(t, state.HasSubscription)
	assert.True(t, state.CanCancel)
	assert.Equal(t, types.PlanPro, state.Plan)
}
