package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchboard/dispatchboard-backend/internal/activity"
	"github.com/dispatchboard/dispatchboard-backend/internal/statusrequests"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	pkgerrors "github.com/dispatchboard/dispatchboard-backend/pkg/errors"
	"github.com/dispatchboard/dispatchboard-backend/pkg/pagination"
)

type testStatusRequests struct {
	requestFn func(ctx context.Context, input statusrequests.RequestInput) (activity.Record, error)
	respondFn func(ctx context.Context, input statusrequests.RespondInput) (activity.AppendResult, error)
	pendingFn func(ctx context.Context, userID uuid.UUID, page pagination.Params) (*activity.QueryResult, error)
}

func (s *testStatusRequests) Request(ctx context.Context, input statusrequests.RequestInput) (activity.Record, error) {
	return s.requestFn(ctx, input)
}

func (s *testStatusRequests) Respond(ctx context.Context, input statusrequests.RespondInput) (activity.AppendResult, error) {
	return s.respondFn(ctx, input)
}

func (s *testStatusRequests) Pending(ctx context.Context, userID uuid.UUID, page pagination.Params) (*activity.QueryResult, error) {
	return s.pendingFn(ctx, userID, page)
}

func TestCreateStatusRequest(t *testing.T) {
	userID, companyID, jobID := uuid.New(), uuid.New(), uuid.New()
	var got statusrequests.RequestInput
	svc := &testStatusRequests{requestFn: func(_ context.Context, input statusrequests.RequestInput) (activity.Record, error) {
		got = input
		return activity.Record{ID: uuid.New(), ActionType: enums.ActionStatusRequest}, nil
	}}

	body := map[string]string{"entity_type": "job", "entity_id": jobID.String(), "notes": "  any news?  "}
	req := authedRequest(http.MethodPost, "/api/v1/status-requests", body, userID, companyID)
	resp := httptest.NewRecorder()
	CreateStatusRequest(svc, fakeScope{jobID: companyID}, testLogger())(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, enums.EntityJob, got.Entity.Type)
	assert.Equal(t, jobID, got.Entity.ID)
	assert.Equal(t, userID, got.ActorID)
	assert.Equal(t, "any news?", got.Notes)
}

func TestCreateStatusRequestUnresolvedRecipient(t *testing.T) {
	companyID, jobID := uuid.New(), uuid.New()
	svc := &testStatusRequests{requestFn: func(context.Context, statusrequests.RequestInput) (activity.Record, error) {
		return activity.Record{}, pkgerrors.New(pkgerrors.CodeUnresolvedRecipient, "job has no assignee")
	}}

	body := map[string]string{"entity_type": "job", "entity_id": jobID.String()}
	req := authedRequest(http.MethodPost, "/api/v1/status-requests", body, uuid.New(), companyID)
	resp := httptest.NewRecorder()
	CreateStatusRequest(svc, fakeScope{jobID: companyID}, testLogger())(resp, req)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeUnresolvedRecipient), errorCode(t, resp))
}

func TestCreateStatusRequestValidatesBody(t *testing.T) {
	svc := &testStatusRequests{requestFn: func(context.Context, statusrequests.RequestInput) (activity.Record, error) {
		t.Fatal("service should not be called")
		return activity.Record{}, nil
	}}
	body := map[string]string{"entity_type": "chat", "entity_id": "nope"}
	req := authedRequest(http.MethodPost, "/api/v1/status-requests", body, uuid.New(), uuid.New())
	resp := httptest.NewRecorder()
	CreateStatusRequest(svc, fakeScope{}, testLogger())(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRespondStatusRequestSuppressedRepeat(t *testing.T) {
	userID, requestID := uuid.New(), uuid.New()
	var got statusrequests.RespondInput
	first := activity.Record{ID: uuid.New(), InReplyTo: &requestID}
	svc := &testStatusRequests{respondFn: func(_ context.Context, input statusrequests.RespondInput) (activity.AppendResult, error) {
		got = input
		return activity.AppendResult{Record: first, Suppressed: true}, nil
	}}

	body := map[string]string{"notes": "done", "status": "completed"}
	req := authedRequest(http.MethodPost, "/api/v1/status-requests/"+requestID.String()+"/respond", body, userID, uuid.New())
	req = addRouteParam(req, "requestId", requestID.String())
	resp := httptest.NewRecorder()
	RespondStatusRequest(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, requestID, got.RequestID)
	assert.Equal(t, userID, got.ResponderID)
	require.NotNil(t, got.Status)
	assert.Equal(t, enums.WorkStatusCompleted, *got.Status)

	var out appendResponse
	decodeData(t, resp, &out)
	assert.True(t, out.Suppressed)
	assert.Equal(t, first.ID, out.Record.ID)
}

func TestRespondStatusRequestCreated(t *testing.T) {
	requestID := uuid.New()
	svc := &testStatusRequests{respondFn: func(_ context.Context, input statusrequests.RespondInput) (activity.AppendResult, error) {
		assert.Nil(t, input.Status)
		return activity.AppendResult{Record: activity.Record{ID: uuid.New()}}, nil
	}}
	req := authedRequest(http.MethodPost, "/x", map[string]string{"notes": "on it"}, uuid.New(), uuid.New())
	req = addRouteParam(req, "requestId", requestID.String())
	resp := httptest.NewRecorder()
	RespondStatusRequest(svc, testLogger())(resp, req)

	assert.Equal(t, http.StatusCreated, resp.Code)
}

func TestRespondStatusRequestRejectsUnknownStatus(t *testing.T) {
	req := authedRequest(http.MethodPost, "/x", map[string]string{"status": "exploded"}, uuid.New(), uuid.New())
	req = addRouteParam(req, "requestId", uuid.NewString())
	resp := httptest.NewRecorder()
	RespondStatusRequest(&testStatusRequests{}, testLogger())(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestPendingStatusRequests(t *testing.T) {
	userID := uuid.New()
	svc := &testStatusRequests{pendingFn: func(_ context.Context, uid uuid.UUID, page pagination.Params) (*activity.QueryResult, error) {
		assert.Equal(t, userID, uid)
		assert.Equal(t, pagination.OrderDesc, page.Order)
		return &activity.QueryResult{Items: []activity.Record{{ID: uuid.New()}}}, nil
	}}
	req := authedRequest(http.MethodGet, "/api/v1/status-requests/pending", nil, userID, uuid.New())
	resp := httptest.NewRecorder()
	PendingStatusRequests(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var out activity.QueryResult
	decodeData(t, resp, &out)
	assert.Len(t, out.Items, 1)
}
