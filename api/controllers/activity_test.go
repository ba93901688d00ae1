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
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	pkgerrors "github.com/dispatchboard/dispatchboard-backend/pkg/errors"
	"github.com/dispatchboard/dispatchboard-backend/pkg/pagination"
)

type stubLedger struct {
	activity.Service
	queryFn func(ctx context.Context, filter activity.Filter) (*activity.QueryResult, error)
}

func (s *stubLedger) Query(ctx context.Context, filter activity.Filter) (*activity.QueryResult, error) {
	return s.queryFn(ctx, filter)
}

func TestActivityFeedScopesToCompany(t *testing.T) {
	userID, companyID, actorID := uuid.New(), uuid.New(), uuid.New()
	var got activity.Filter
	ledger := &stubLedger{queryFn: func(_ context.Context, filter activity.Filter) (*activity.QueryResult, error) {
		got = filter
		return &activity.QueryResult{Items: []activity.Record{{ID: uuid.New()}}, Cursor: "next"}, nil
	}}

	req := authedRequest(http.MethodGet, "/api/v1/activity?actorId="+actorID.String()+"&action=status_request,status_response&limit=5", nil, userID, companyID)
	resp := httptest.NewRecorder()
	ActivityFeed(ledger, fakeScope{}, testLogger())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.NotNil(t, got.CompanyID)
	assert.Equal(t, companyID, *got.CompanyID)
	require.NotNil(t, got.ActorID)
	assert.Equal(t, actorID, *got.ActorID)
	assert.Equal(t, []enums.ActionType{enums.ActionStatusRequest, enums.ActionStatusResponse}, got.Actions)
	assert.Equal(t, 5, got.Page.Limit)
	assert.Equal(t, pagination.OrderDesc, got.Page.Order)

	var result activity.QueryResult
	decodeData(t, resp, &result)
	assert.Len(t, result.Items, 1)
	assert.Equal(t, "next", result.Cursor)
}

func TestActivityFeedEntityFilterNeedsBothParts(t *testing.T) {
	ledger := &stubLedger{queryFn: func(context.Context, activity.Filter) (*activity.QueryResult, error) {
		t.Fatal("ledger should not be queried")
		return nil, nil
	}}
	req := authedRequest(http.MethodGet, "/api/v1/activity?entityType=job", nil, uuid.New(), uuid.New())
	resp := httptest.NewRecorder()
	ActivityFeed(ledger, fakeScope{}, testLogger())(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestActivityFeedHidesOtherCompanyEntity(t *testing.T) {
	jobID := uuid.New()
	scope := fakeScope{jobID: uuid.New()}
	ledger := &stubLedger{queryFn: func(context.Context, activity.Filter) (*activity.QueryResult, error) {
		t.Fatal("ledger should not be queried")
		return nil, nil
	}}
	req := authedRequest(http.MethodGet, "/api/v1/activity?entityType=job&entityId="+jobID.String(), nil, uuid.New(), uuid.New())
	resp := httptest.NewRecorder()
	ActivityFeed(ledger, scope, testLogger())(resp, req)

	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeNotFound), errorCode(t, resp))
}

func TestActivityFeedRequiresUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/activity", nil)
	resp := httptest.NewRecorder()
	ActivityFeed(&stubLedger{}, fakeScope{}, testLogger())(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestEntityTimelineDefaultsToAscending(t *testing.T) {
	companyID, taskID := uuid.New(), uuid.New()
	var got activity.Filter
	ledger := &stubLedger{queryFn: func(_ context.Context, filter activity.Filter) (*activity.QueryResult, error) {
		got = filter
		return &activity.QueryResult{Items: []activity.Record{}}, nil
	}}

	req := authedRequest(http.MethodGet, "/api/v1/activity/entities/job_task/"+taskID.String(), nil, uuid.New(), companyID)
	req = addRouteParam(req, "entityType", "job_task")
	req = addRouteParam(req, "entityId", taskID.String())
	resp := httptest.NewRecorder()
	EntityTimeline(ledger, fakeScope{taskID: companyID}, testLogger())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.NotNil(t, got.Entity)
	assert.Equal(t, enums.EntityJobTask, got.Entity.Type)
	assert.Equal(t, taskID, got.Entity.ID)
	assert.Equal(t, pagination.OrderAsc, got.Page.Order)
	assert.Nil(t, got.CompanyID)
}

func TestEntityTimelineRejectsUnknownType(t *testing.T) {
	req := authedRequest(http.MethodGet, "/api/v1/activity/entities/widget/x", nil, uuid.New(), uuid.New())
	req = addRouteParam(req, "entityType", "widget")
	req = addRouteParam(req, "entityId", uuid.NewString())
	resp := httptest.NewRecorder()
	EntityTimeline(&stubLedger{}, fakeScope{}, testLogger())(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
