package statusrequests

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dispatchboard/dispatchboard-backend/internal/activity"
	"github.com/dispatchboard/dispatchboard-backend/internal/assignments"
	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	"github.com/dispatchboard/dispatchboard-backend/pkg/db/dbtest"
	"github.com/dispatchboard/dispatchboard-backend/pkg/db/models"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	pkgerrors "github.com/dispatchboard/dispatchboard-backend/pkg/errors"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
	"github.com/dispatchboard/dispatchboard-backend/pkg/outbox"
	"github.com/dispatchboard/dispatchboard-backend/pkg/pagination"
)

type protocolHarness struct {
	conn    *gorm.DB
	fx      *dbtest.Fixtures
	ledger  activity.Service
	svc     Service
	company models.Company
}

func newProtocolHarness(t *testing.T) protocolHarness {
	t.Helper()
	client, conn := dbtest.OpenClient(t)
	dir := directory.NewRepository(conn)
	ledger, err := activity.NewService(activity.ServiceParams{
		DB:        client,
		Repo:      activity.NewRepository(conn),
		Directory: dir,
		Outbox:    outbox.NewService(outbox.NewRepository(conn), nil),
	})
	require.NoError(t, err)
	resolver, err := assignments.NewResolver(dir, logger.Nop())
	require.NoError(t, err)
	svc, err := NewService(client, ledger, resolver, logger.Nop())
	require.NoError(t, err)
	fx := dbtest.NewFixtures(t, conn)
	return protocolHarness{conn: conn, fx: fx, ledger: ledger, svc: svc, company: fx.Company("Acme")}
}

func (h protocolHarness) countRecords(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(&models.ActivityRecord{}).Count(&n).Error)
	return n
}

func TestRequestAndRespondSwapRoles(t *testing.T) {
	h := newProtocolHarness(t)
	ctx := context.Background()
	requester := h.fx.User("Requester A")
	u1 := h.fx.User("Team Head U1")
	w1 := h.fx.Worker(h.company.ID, &u1.ID, "W1")
	t1 := h.fx.Team(h.company.ID, &w1.ID, "T1")
	j1 := h.fx.Job(h.company.ID, models.Assignment{AssignedToTeamID: &t1.ID}, nil)
	ref := directory.EntityRef{Type: enums.EntityJob, ID: j1.ID}

	request, err := h.svc.Request(ctx, RequestInput{Entity: ref, ActorID: requester.ID, Notes: "ETA?"})
	require.NoError(t, err)
	assert.Equal(t, enums.ActionStatusRequest, request.ActionType)
	require.NotNil(t, request.RecipientUserID)
	assert.Equal(t, u1.ID, *request.RecipientUserID)
	assert.Equal(t, requester.ID, request.ActorUserID)
	assert.False(t, request.IsRead)

	pending, err := h.svc.Pending(ctx, u1.ID, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, pending.Items, 1)

	status := enums.WorkStatusInProgress
	response, err := h.svc.Respond(ctx, RespondInput{RequestID: request.ID, ResponderID: u1.ID, Notes: "tomorrow", Status: &status})
	require.NoError(t, err)
	assert.False(t, response.Suppressed)
	assert.Equal(t, enums.ActionStatusResponse, response.Record.ActionType)
	assert.Equal(t, u1.ID, response.Record.ActorUserID)
	require.NotNil(t, response.Record.RecipientUserID)
	assert.Equal(t, requester.ID, *response.Record.RecipientUserID)
	require.NotNil(t, response.Record.InReplyTo)
	assert.Equal(t, request.ID, *response.Record.InReplyTo)
	assert.Equal(t, "in_progress", *response.Record.NewValue)

	original, err := h.ledger.Get(ctx, request.ID)
	require.NoError(t, err)
	assert.True(t, original.IsRead)

	pending, err = h.svc.Pending(ctx, u1.ID, pagination.Params{})
	require.NoError(t, err)
	assert.Empty(t, pending.Items)
}

func TestPendingKeepsReadRequestsUntilAnswered(t *testing.T) {
	h := newProtocolHarness(t)
	ctx := context.Background()
	requester := h.fx.User("Requester")
	head := h.fx.User("Vendor Owner")
	vendor := h.fx.Vendor(h.company.ID, &head.ID, "V")
	job := h.fx.Job(h.company.ID, models.Assignment{AssignedToVendorID: &vendor.ID}, nil)
	ref := directory.EntityRef{Type: enums.EntityJob, ID: job.ID}

	request, err := h.svc.Request(ctx, RequestInput{Entity: ref, ActorID: requester.ID, Notes: "update?"})
	require.NoError(t, err)
	require.NoError(t, h.ledger.MarkRead(ctx, head.ID, request.ID))

	pending, err := h.svc.Pending(ctx, head.ID, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, pending.Items, 1)
	assert.Equal(t, request.ID, pending.Items[0].ID)
	assert.True(t, pending.Items[0].IsRead)

	_, err = h.svc.Respond(ctx, RespondInput{RequestID: request.ID, ResponderID: head.ID, Notes: "on site"})
	require.NoError(t, err)
	pending, err = h.svc.Pending(ctx, head.ID, pagination.Params{})
	require.NoError(t, err)
	assert.Empty(t, pending.Items)
}

func TestRespondTwiceReturnsFirstResponse(t *testing.T) {
	h := newProtocolHarness(t)
	ctx := context.Background()
	requester := h.fx.User("Requester")
	worker := h.fx.User("Worker")
	w := h.fx.Worker(h.company.ID, &worker.ID, "W")
	job := h.fx.Job(h.company.ID, models.Assignment{AssignedToWorkerID: &w.ID}, nil)

	request, err := h.svc.Request(ctx, RequestInput{Entity: directory.EntityRef{Type: enums.EntityJob, ID: job.ID}, ActorID: requester.ID})
	require.NoError(t, err)

	first, err := h.svc.Respond(ctx, RespondInput{RequestID: request.ID, ResponderID: worker.ID, Notes: "done"})
	require.NoError(t, err)
	second, err := h.svc.Respond(ctx, RespondInput{RequestID: request.ID, ResponderID: worker.ID, Notes: "done again"})
	require.NoError(t, err)
	assert.True(t, second.Suppressed)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, int64(2), h.countRecords(t))
}

func TestRequestUnresolvedAppendsNothing(t *testing.T) {
	h := newProtocolHarness(t)
	ctx := context.Background()
	requester := h.fx.User("Requester")
	headless := h.fx.Team(h.company.ID, nil, "Headless")
	job := h.fx.Job(h.company.ID, models.Assignment{AssignedToTeamID: &headless.ID}, nil)
	unassigned := h.fx.Job(h.company.ID, models.Assignment{}, nil)

	for _, id := range []uuid.UUID{job.ID, unassigned.ID} {
		_, err := h.svc.Request(ctx, RequestInput{Entity: directory.EntityRef{Type: enums.EntityJob, ID: id}, ActorID: requester.ID})
		require.Error(t, err)
		assert.True(t, assignments.IsUnresolved(err))
	}

	_, err := h.svc.Request(ctx, RequestInput{Entity: directory.EntityRef{Type: enums.EntityJob, ID: uuid.New()}, ActorID: requester.ID})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
	assert.Zero(t, h.countRecords(t))
}

func TestRespondRejectsWrongResponderAndRecordKind(t *testing.T) {
	h := newProtocolHarness(t)
	ctx := context.Background()
	requester := h.fx.User("Requester")
	worker := h.fx.User("Worker")
	stranger := h.fx.User("Stranger")
	w := h.fx.Worker(h.company.ID, &worker.ID, "W")
	job := h.fx.Job(h.company.ID, models.Assignment{AssignedToWorkerID: &w.ID}, nil)
	ref := directory.EntityRef{Type: enums.EntityJob, ID: job.ID}

	request, err := h.svc.Request(ctx, RequestInput{Entity: ref, ActorID: requester.ID})
	require.NoError(t, err)

	_, err = h.svc.Respond(ctx, RespondInput{RequestID: request.ID, ResponderID: stranger.ID})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	comment, err := h.ledger.Append(ctx, activity.AppendInput{Entity: ref, Action: enums.ActionComment, ActorUserID: requester.ID})
	require.NoError(t, err)
	_, err = h.svc.Respond(ctx, RespondInput{RequestID: comment.Record.ID, ResponderID: worker.ID})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = h.svc.Respond(ctx, RespondInput{RequestID: uuid.New(), ResponderID: worker.ID})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	// Still unanswered and unread.
	original, err := h.ledger.Get(ctx, request.ID)
	require.NoError(t, err)
	assert.False(t, original.IsRead)
}

func TestRequestFromSelfIsRejected(t *testing.T) {
	h := newProtocolHarness(t)
	worker := h.fx.User("Worker")
	w := h.fx.Worker(h.company.ID, &worker.ID, "W")
	job := h.fx.Job(h.company.ID, models.Assignment{AssignedToWorkerID: &w.ID}, nil)

	_, err := h.svc.Request(context.Background(), RequestInput{
		Entity:  directory.EntityRef{Type: enums.EntityJob, ID: job.ID},
		ActorID: worker.ID,
	})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}
