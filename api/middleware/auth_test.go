package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchboard/dispatchboard-backend/pkg/auth"
	"github.com/dispatchboard/dispatchboard-backend/pkg/config"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	Auth(testJWT, nil, nil)(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	Auth(testJWT, nil, nil)(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthSeedsContext(t *testing.T) {
	userID := uuid.New()
	companyID := uuid.New()
	token := mintTestToken(t, userID, companyID, enums.MemberRoleOwner)

	var gotUser, gotCompany uuid.UUID
	var gotRole string
	handler := Auth(testJWT, stubMembers{ok: true}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotCompany = CompanyIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if gotUser != userID || gotCompany != companyID {
		t.Fatalf("unexpected principal %s/%s", gotUser, gotCompany)
	}
	if gotRole != string(enums.MemberRoleOwner) {
		t.Fatalf("expected role owner got %s", gotRole)
	}
}

func TestAuthAcceptsQueryToken(t *testing.T) {
	token := mintTestToken(t, uuid.New(), uuid.New(), enums.MemberRoleWorker)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream?access_token="+token, nil)
	resp := httptest.NewRecorder()
	Auth(testJWT, nil, nil)(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestAuthRejectsFormerMember(t *testing.T) {
	token := mintTestToken(t, uuid.New(), uuid.New(), enums.MemberRoleWorker)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	Auth(testJWT, stubMembers{ok: false}, nil)(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestAuthMembershipLookupFailure(t *testing.T) {
	token := mintTestToken(t, uuid.New(), uuid.New(), enums.MemberRoleWorker)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	Auth(testJWT, stubMembers{err: errors.New("db down")}, nil)(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestRequireRole(t *testing.T) {
	mw := RequireRole(nil, enums.MemberRoleOwner, enums.MemberRoleAdmin)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithRole(req.Context(), string(enums.MemberRoleAdmin)))
	resp := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithRole(req.Context(), string(enums.MemberRoleWorker)))
	resp = httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func mintTestToken(t *testing.T, userID, companyID uuid.UUID, role enums.MemberRole) string {
	t.Helper()
	token, err := auth.MintAccessToken(testJWT, time.Now(), auth.AccessTokenPayload{
		UserID:          userID,
		ActiveCompanyID: companyID,
		Role:            role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

type stubMembers struct {
	ok  bool
	err error
}

func (s stubMembers) IsCompanyMember(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return s.ok, s.err
}
