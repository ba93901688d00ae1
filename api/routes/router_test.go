package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	"github.com/dispatchboard/dispatchboard-backend/internal/fanout"
	"github.com/dispatchboard/dispatchboard-backend/internal/jobs"
	"github.com/dispatchboard/dispatchboard-backend/internal/notifications"
	pkgAuth "github.com/dispatchboard/dispatchboard-backend/pkg/auth"
	"github.com/dispatchboard/dispatchboard-backend/pkg/config"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	pkgerrors "github.com/dispatchboard/dispatchboard-backend/pkg/errors"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubDirectory struct {
	owners  map[uuid.UUID]uuid.UUID
	members map[uuid.UUID]bool
}

func (d stubDirectory) CompanyOf(_ context.Context, ref directory.EntityRef) (uuid.UUID, error) {
	owner, ok := d.owners[ref.ID]
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "not found")
	}
	return owner, nil
}

func (d stubDirectory) IsCompanyMember(_ context.Context, _ uuid.UUID, userID uuid.UUID) (bool, error) {
	return d.members[userID], nil
}

type memoryIdempotency struct {
	data map[string]string
}

func (m *memoryIdempotency) Get(_ context.Context, key string) (string, error) {
	value, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (m *memoryIdempotency) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key], _ = value.(string)
	return true, nil
}

func (m *memoryIdempotency) IdempotencyKey(scope, key string) string {
	return "test:idem:" + scope + ":" + key
}

type stubNotifications struct {
	notifications.Service
	markAllCalls int
}

func (s *stubNotifications) UnreadCount(context.Context, uuid.UUID) (int64, error) {
	return 2, nil
}

func (s *stubNotifications) MarkAllRead(context.Context, uuid.UUID) (int, error) {
	s.markAllCalls++
	return 5, nil
}

type stubJobs struct {
	jobs.Service
}

func (stubJobs) Assign(context.Context, jobs.AssignInput) (jobs.MutationResult, error) {
	return jobs.MutationResult{Notified: true}, nil
}

type routerFixture struct {
	handler   http.Handler
	cfg       *config.Config
	notes     *stubNotifications
	userID    uuid.UUID
	companyID uuid.UUID
	jobID     uuid.UUID
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		cfg: &config.Config{
			App: config.AppConfig{Env: "test", CORSOrigins: []string{"http://localhost:3000"}},
			JWT: config.JWTConfig{Secret: "secret", Issuer: "dispatch", ExpirationMinutes: 5},
		},
		notes:     &stubNotifications{},
		userID:    uuid.New(),
		companyID: uuid.New(),
		jobID:     uuid.New(),
	}
	dir := stubDirectory{
		owners:  map[uuid.UUID]uuid.UUID{f.jobID: f.companyID},
		members: map[uuid.UUID]bool{f.userID: true},
	}
	bus := fanout.NewBus(fanout.BusParams{})
	t.Cleanup(bus.Close)

	f.handler = NewRouter(f.cfg, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}), Deps{
		DB:            stubPinger{},
		Redis:         stubPinger{},
		Idempotency:   &memoryIdempotency{data: map[string]string{}},
		Directory:     dir,
		Notifications: f.notes,
		Jobs:          stubJobs{},
		Bus:           bus,
	})
	return f
}

func (f *routerFixture) token(t *testing.T, role enums.MemberRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(f.cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID:          f.userID,
		ActiveCompanyID: f.companyID,
		Role:            role,
	})
	require.NoError(t, err)
	return token
}

func (f *routerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	return resp
}

func TestHealthRoutes(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.do(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NotEmpty(t, resp.Header().Get("X-Request-Id"))

	resp = f.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/notifications/unread-count", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/unread-count", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, enums.MemberRoleWorker))
	resp = f.do(req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"data":{"unread":2}}`, resp.Body.String())
}

func TestMeEchoesClaims(t *testing.T) {
	f := newRouterFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, enums.MemberRoleVendor))
	resp := f.do(req)

	require.Equal(t, http.StatusOK, resp.Code)
	var envelope struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	assert.Equal(t, f.userID.String(), envelope.Data["user_id"])
	assert.Equal(t, f.companyID.String(), envelope.Data["company_id"])
	assert.Equal(t, "vendor", envelope.Data["role"])
}

func TestAssignmentsRequireManagerRole(t *testing.T) {
	f := newRouterFixture(t)
	body := `{"entity_type":"job","entity_id":"` + f.jobID.String() + `","kind":"vendor","target_id":"` + uuid.NewString() + `"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/assignments", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+f.token(t, enums.MemberRoleWorker))
	assert.Equal(t, http.StatusForbidden, f.do(req).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/assignments", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+f.token(t, enums.MemberRoleOwner))
	assert.Equal(t, http.StatusOK, f.do(req).Code)
}

func TestMutationsReplayWithIdempotencyKey(t *testing.T) {
	f := newRouterFixture(t)
	token := f.token(t, enums.MemberRoleWorker)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/read-all", strings.NewReader(`{}`))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", "read-all-1")
		return f.do(req)
	}

	first := send()
	second := send()
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, f.notes.markAllCalls)
}

func TestCORSPreflight(t *testing.T) {
	f := newRouterFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status-requests", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp := f.do(req)

	assert.Equal(t, "http://localhost:3000", resp.Header().Get("Access-Control-Allow-Origin"))
}
