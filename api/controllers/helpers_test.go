package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dispatchboard/dispatchboard-backend/api/middleware"
	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	pkgerrors "github.com/dispatchboard/dispatchboard-backend/pkg/errors"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func addRouteParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.RouteContext(req.Context())
	if routeCtx == nil {
		routeCtx = chi.NewRouteContext()
	}
	routeCtx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func authedRequest(method, target string, body any, userID, companyID uuid.UUID) *http.Request {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	ctx := middleware.WithUserID(req.Context(), userID)
	ctx = middleware.WithCompanyID(ctx, companyID)
	ctx = middleware.WithRole(ctx, "owner")
	return req.WithContext(ctx)
}

func decodeData(t *testing.T, resp *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dest))
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	envelope := struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

// fakeScope maps entity ids to owning companies; unknown ids are not found.
type fakeScope map[uuid.UUID]uuid.UUID

func (s fakeScope) CompanyOf(_ context.Context, ref directory.EntityRef) (uuid.UUID, error) {
	owner, ok := s[ref.ID]
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, string(ref.Type)+" not found")
	}
	return owner, nil
}

type fakeMembers struct {
	members map[uuid.UUID]bool
	err     error
}

func (m fakeMembers) IsCompanyMember(_ context.Context, _ uuid.UUID, userID uuid.UUID) (bool, error) {
	return m.members[userID], m.err
}
