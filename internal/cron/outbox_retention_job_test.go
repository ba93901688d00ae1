package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dispatchboard/dispatchboard-backend/pkg/db"
	"github.com/dispatchboard/dispatchboard-backend/pkg/db/dbtest"
	"github.com/dispatchboard/dispatchboard-backend/pkg/db/models"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
	"github.com/dispatchboard/dispatchboard-backend/pkg/outbox"
)

func TestOutboxRetentionJobUsesCutoff(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeOutboxPruner{}
	job := newOutboxRetentionJob(t, outboxRetentionTxRunner{}, repo)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.True(t, repo.lastCutoff.Equal(now.Add(-defaultOutboxRetention)))
	assert.Equal(t, 1, repo.called)
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	repo := &fakeOutboxPruner{err: errors.New("boom")}
	job := newOutboxRetentionJob(t, outboxRetentionTxRunner{}, repo)
	require.Error(t, job.Run(context.Background()))
}

func TestOutboxRetentionJobKeepsPendingRows(t *testing.T) {
	gdb := dbtest.Open(t)
	client := db.Wrap(gdb)
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour)

	delivered := outboxRow(old, &old)
	pending := outboxRow(old, nil)
	fresh := outboxRow(now, &now)
	require.NoError(t, gdb.Create([]models.OutboxEvent{delivered, pending, fresh}).Error)

	job := newOutboxRetentionJob(t, client, outbox.NewRepository(gdb))
	job.now = func() time.Time { return now }
	require.NoError(t, job.Run(context.Background()))

	var ids []uuid.UUID
	require.NoError(t, gdb.Model(&models.OutboxEvent{}).Order("created_at").Pluck("id", &ids).Error)
	assert.ElementsMatch(t, []uuid.UUID{pending.ID, fresh.ID}, ids)
}

func outboxRow(created time.Time, published *time.Time) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventActivityRecorded,
		AggregateType: enums.AggregateActivityRecord,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{}`),
		CreatedAt:     created,
		PublishedAt:   published,
	}
}

func newOutboxRetentionJob(t *testing.T, runner db.TxRunner, repo outboxPruner) *outboxRetentionJob {
	t.Helper()
	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.Nop(),
		DB:         runner,
		Repository: repo,
	})
	require.NoError(t, err)
	job, ok := jobIface.(*outboxRetentionJob)
	require.True(t, ok, "expected outboxRetentionJob, got %T", jobIface)
	return job
}

type fakeOutboxPruner struct {
	lastCutoff time.Time
	called     int
	err        error
}

func (f *fakeOutboxPruner) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return 7, nil
}

type outboxRetentionTxRunner struct{}

func (outboxRetentionTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
