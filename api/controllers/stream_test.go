package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchboard/dispatchboard-backend/api/middleware"
	"github.com/dispatchboard/dispatchboard-backend/internal/fanout"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	"github.com/dispatchboard/dispatchboard-backend/pkg/outbox/payloads"
)

type streamFixture struct {
	bus       *fanout.Bus
	server    *httptest.Server
	userID    uuid.UUID
	companyID uuid.UUID
	jobID     uuid.UUID
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	f := &streamFixture{
		bus:       fanout.NewBus(fanout.BusParams{SubscriberBuffer: 8}),
		userID:    uuid.New(),
		companyID: uuid.New(),
		jobID:     uuid.New(),
	}
	handler := ActivityStream(StreamParams{
		Bus:          f.bus,
		Scope:        fakeScope{f.jobID: f.companyID},
		Origins:      []string{"https://app.dispatch.test"},
		PingInterval: time.Second,
		Logger:       testLogger(),
	})
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.WithUserID(r.Context(), f.userID)
		ctx = middleware.WithCompanyID(ctx, f.companyID)
		handler(w, r.WithContext(ctx))
	}))
	t.Cleanup(func() {
		f.server.Close()
		f.bus.Close()
	})
	return f
}

func (f *streamFixture) url(query string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/stream" + query
}

func readMessage(t *testing.T, conn *websocket.Conn) fanout.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg fanout.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestActivityStreamDeliversSubscribedTopics(t *testing.T) {
	f := newStreamFixture(t)
	conn, _, err := websocket.DefaultDialer.Dial(f.url("?entity=job:"+f.jobID.String()), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, 1, f.bus.SubscriberCount())

	ctx := context.Background()
	timeline := payloads.ActivityRecord{ID: uuid.New(), EntityType: enums.EntityJob, EntityID: f.jobID, ActionType: enums.ActionStatusChange}
	f.bus.PublishRecord(ctx, timeline)

	msg := readMessage(t, conn)
	assert.Equal(t, fanout.MessageRecord, msg.Kind)
	require.NotNil(t, msg.Record)
	assert.Equal(t, timeline.ID, msg.Record.ID)

	// another company's feed is not part of this session
	other := uuid.New()
	f.bus.PublishRecord(ctx, payloads.ActivityRecord{ID: uuid.New(), EntityID: uuid.New(), CompanyID: &other})
	recipient := f.userID
	inbox := payloads.ActivityRecord{ID: uuid.New(), EntityID: uuid.New(), RecipientUserID: &recipient, ActionType: enums.ActionStatusRequest}
	f.bus.PublishRecord(ctx, inbox)

	msg = readMessage(t, conn)
	require.NotNil(t, msg.Record)
	assert.Equal(t, inbox.ID, msg.Record.ID)

	f.bus.ResyncAll("transport")
	msg = readMessage(t, conn)
	assert.Equal(t, fanout.MessageResync, msg.Kind)
	assert.Equal(t, "transport", msg.Reason)
}

func TestActivityStreamReleasesSubscriptionOnHangup(t *testing.T) {
	f := newStreamFixture(t)
	conn, _, err := websocket.DefaultDialer.Dial(f.url(""), nil)
	require.NoError(t, err)
	require.Equal(t, 1, f.bus.SubscriberCount())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return f.bus.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestActivityStreamClosesWhenBusStops(t *testing.T) {
	f := newStreamFixture(t)
	conn, _, err := websocket.DefaultDialer.Dial(f.url(""), nil)
	require.NoError(t, err)
	defer conn.Close()

	f.bus.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}

func TestActivityStreamRejectsForeignEntity(t *testing.T) {
	f := newStreamFixture(t)
	_, resp, err := websocket.DefaultDialer.Dial(f.url("?entity=job:"+uuid.NewString()), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 0, f.bus.SubscriberCount())
}

func TestActivityStreamRejectsMalformedEntity(t *testing.T) {
	f := newStreamFixture(t)
	_, resp, err := websocket.DefaultDialer.Dial(f.url("?entity="+f.jobID.String()), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestActivityStreamChecksOrigin(t *testing.T) {
	f := newStreamFixture(t)
	header := http.Header{"Origin": []string{"https://evil.test"}}
	_, resp, err := websocket.DefaultDialer.Dial(f.url(""), header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Eventually(t, func() bool { return f.bus.SubscriberCount() == 0 }, time.Second, 10*time.Millisecond)

	header = http.Header{"Origin": []string{"https://app.dispatch.test"}}
	conn, _, err := websocket.DefaultDialer.Dial(f.url(""), header)
	require.NoError(t, err)
	conn.Close()
}

func TestStreamTopicsCompanyFlag(t *testing.T) {
	userID, companyID := uuid.New(), uuid.New()
	req := authedRequest(http.MethodGet, "/api/v1/stream?company=true", nil, userID, companyID)
	p, err := principalFrom(req)
	require.NoError(t, err)

	topics, err := streamTopics(req, fakeScope{}, p)
	require.NoError(t, err)
	assert.Equal(t, []fanout.Topic{fanout.RecipientTopic(userID), fanout.CompanyTopic(companyID)}, topics)
}
