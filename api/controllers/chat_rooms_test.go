package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchboard/dispatchboard-backend/internal/chatrooms"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
)

type testChatRooms struct {
	getOrCreateFn  func(ctx context.Context, input chatrooms.GetOrCreateInput) (chatrooms.Room, bool, error)
	privateFn      func(ctx context.Context, input chatrooms.PrivateInput) (chatrooms.Room, bool, error)
	joinFn         func(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	participantsFn func(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
	roomsFn        func(ctx context.Context, userID uuid.UUID) ([]chatrooms.Room, error)
}

func (s *testChatRooms) GetOrCreate(ctx context.Context, input chatrooms.GetOrCreateInput) (chatrooms.Room, bool, error) {
	return s.getOrCreateFn(ctx, input)
}

func (s *testChatRooms) GetOrCreatePrivate(ctx context.Context, input chatrooms.PrivateInput) (chatrooms.Room, bool, error) {
	return s.privateFn(ctx, input)
}

func (s *testChatRooms) Join(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	return s.joinFn(ctx, roomID, userID)
}

func (s *testChatRooms) Participants(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	return s.participantsFn(ctx, roomID)
}

func (s *testChatRooms) RoomsForUser(ctx context.Context, userID uuid.UUID) ([]chatrooms.Room, error) {
	return s.roomsFn(ctx, userID)
}

func TestGetOrCreateRoomCreatedThenExisting(t *testing.T) {
	userID, companyID, jobID := uuid.New(), uuid.New(), uuid.New()
	room := chatrooms.Room{ID: uuid.New(), CompanyID: companyID, EntityID: jobID, RoomType: enums.RoomTypePublic, Name: "Job 12"}
	calls := 0
	svc := &testChatRooms{getOrCreateFn: func(_ context.Context, input chatrooms.GetOrCreateInput) (chatrooms.Room, bool, error) {
		calls++
		assert.Equal(t, enums.RoomTypePublic, input.RoomType)
		require.NotNil(t, input.CompanyID)
		assert.Equal(t, companyID, *input.CompanyID)
		require.NotNil(t, input.CreatedBy)
		assert.Equal(t, userID, *input.CreatedBy)
		return room, calls == 1, nil
	}}
	handler := GetOrCreateRoom(svc, fakeScope{jobID: companyID}, testLogger())
	body := map[string]string{"entity_type": "job", "entity_id": jobID.String(), "room_type": "public", "name": "Job 12"}

	first := httptest.NewRecorder()
	handler(first, authedRequest(http.MethodPost, "/api/v1/chat/rooms", body, userID, companyID))
	require.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	handler(second, authedRequest(http.MethodPost, "/api/v1/chat/rooms", body, userID, companyID))
	require.Equal(t, http.StatusOK, second.Code)

	var out roomResponse
	decodeData(t, second, &out)
	assert.False(t, out.Created)
	assert.Equal(t, room.ID, out.Room.ID)
}

func TestGetOrCreateRoomRejectsPrivateType(t *testing.T) {
	jobID, companyID := uuid.New(), uuid.New()
	body := map[string]string{"entity_type": "job", "entity_id": jobID.String(), "room_type": "private", "name": "x"}
	resp := httptest.NewRecorder()
	GetOrCreateRoom(&testChatRooms{}, fakeScope{jobID: companyID}, testLogger())(resp, authedRequest(http.MethodPost, "/", body, uuid.New(), companyID))

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetOrCreatePrivateRoomChecksCounterpart(t *testing.T) {
	userID, companyID, jobID, counterpart := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	svc := &testChatRooms{privateFn: func(context.Context, chatrooms.PrivateInput) (chatrooms.Room, bool, error) {
		t.Fatal("service should not be called")
		return chatrooms.Room{}, false, nil
	}}
	body := map[string]string{"entity_type": "job", "entity_id": jobID.String(), "counterpart_id": counterpart.String()}
	resp := httptest.NewRecorder()
	GetOrCreatePrivateRoom(svc, fakeScope{jobID: companyID}, fakeMembers{}, testLogger())(resp, authedRequest(http.MethodPost, "/", body, userID, companyID))

	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestGetOrCreatePrivateRoomMembershipLookupFails(t *testing.T) {
	companyID, jobID := uuid.New(), uuid.New()
	body := map[string]string{"entity_type": "job", "entity_id": jobID.String(), "counterpart_id": uuid.NewString()}
	resp := httptest.NewRecorder()
	members := fakeMembers{err: errors.New("db down")}
	GetOrCreatePrivateRoom(&testChatRooms{}, fakeScope{jobID: companyID}, members, testLogger())(resp, authedRequest(http.MethodPost, "/", body, uuid.New(), companyID))

	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestGetOrCreatePrivateRoom(t *testing.T) {
	userID, companyID, jobID, counterpart := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	svc := &testChatRooms{privateFn: func(_ context.Context, input chatrooms.PrivateInput) (chatrooms.Room, bool, error) {
		assert.Equal(t, userID, input.UserID)
		assert.Equal(t, counterpart, input.CounterpartID)
		return chatrooms.Room{ID: uuid.New(), RoomType: enums.RoomTypePrivate, Name: "Sam"}, true, nil
	}}
	body := map[string]string{"entity_type": "job", "entity_id": jobID.String(), "counterpart_id": counterpart.String()}
	resp := httptest.NewRecorder()
	members := fakeMembers{members: map[uuid.UUID]bool{counterpart: true}}
	GetOrCreatePrivateRoom(svc, fakeScope{jobID: companyID}, members, testLogger())(resp, authedRequest(http.MethodPost, "/", body, userID, companyID))

	require.Equal(t, http.StatusCreated, resp.Code)
	var out roomResponse
	decodeData(t, resp, &out)
	assert.Equal(t, "Sam", out.Room.Name)
}

func TestJoinRoom(t *testing.T) {
	userID, roomID := uuid.New(), uuid.New()
	svc := &testChatRooms{joinFn: func(_ context.Context, rid, uid uuid.UUID) (bool, error) {
		assert.Equal(t, roomID, rid)
		assert.Equal(t, userID, uid)
		return false, nil
	}}
	req := authedRequest(http.MethodPost, "/", nil, userID, uuid.New())
	req = addRouteParam(req, "roomId", roomID.String())
	resp := httptest.NewRecorder()
	JoinRoom(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var out map[string]bool
	decodeData(t, resp, &out)
	assert.False(t, out["joined"])
}

func TestListMyRoomsFiltersActiveCompany(t *testing.T) {
	companyID := uuid.New()
	mine := chatrooms.Room{ID: uuid.New(), CompanyID: companyID}
	other := chatrooms.Room{ID: uuid.New(), CompanyID: uuid.New()}
	svc := &testChatRooms{roomsFn: func(context.Context, uuid.UUID) ([]chatrooms.Room, error) {
		return []chatrooms.Room{mine, other}, nil
	}}
	resp := httptest.NewRecorder()
	ListMyRooms(svc, testLogger())(resp, authedRequest(http.MethodGet, "/", nil, uuid.New(), companyID))

	require.Equal(t, http.StatusOK, resp.Code)
	var out []chatrooms.Room
	decodeData(t, resp, &out)
	require.Len(t, out, 1)
	assert.Equal(t, mine.ID, out[0].ID)
}

func TestRoomParticipantsRequiresMembership(t *testing.T) {
	userID, roomID := uuid.New(), uuid.New()
	svc := &testChatRooms{participantsFn: func(context.Context, uuid.UUID) ([]uuid.UUID, error) {
		return []uuid.UUID{uuid.New(), uuid.New()}, nil
	}}
	req := addRouteParam(authedRequest(http.MethodGet, "/", nil, userID, uuid.New()), "roomId", roomID.String())
	resp := httptest.NewRecorder()
	RoomParticipants(svc, testLogger())(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	svc.participantsFn = func(context.Context, uuid.UUID) ([]uuid.UUID, error) {
		return []uuid.UUID{userID}, nil
	}
	req = addRouteParam(authedRequest(http.MethodGet, "/", nil, userID, uuid.New()), "roomId", roomID.String())
	resp = httptest.NewRecorder()
	RoomParticipants(svc, testLogger())(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var out map[string][]uuid.UUID
	decodeData(t, resp, &out)
	assert.Equal(t, []uuid.UUID{userID}, out["participants"])
}
