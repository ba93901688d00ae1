package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	keys        map[string]bool
	setNXError  error
	lastTTL     time.Duration
	lastDeleted string
}

func newFakeStore() *fakeStore {
	return &fakeStore{keys: map[string]bool{}}
}

func (f *fakeStore) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	f.lastTTL = ttl
	if f.setNXError != nil {
		return false, f.setNXError
	}
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.keys, key)
		f.lastDeleted = key
	}
	return nil
}

func (f *fakeStore) DedupeKey(scope, id string) string {
	return "dispatch:dedupe:" + scope + ":" + id
}

func TestClaimOnlyOnce(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, 24*time.Hour)
	require.NoError(t, err)

	eventID := uuid.New()
	claimed, err := manager.Claim(context.Background(), "push-alerts", eventID)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, 24*time.Hour, store.lastTTL)

	claimed, err = manager.Claim(context.Background(), "push-alerts", eventID)
	require.NoError(t, err)
	assert.False(t, claimed)

	claimed, err = manager.Claim(context.Background(), "other-consumer", eventID)
	require.NoError(t, err)
	assert.True(t, claimed, "claims are scoped per consumer")
}

func TestReleaseAllowsReclaim(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	eventID := uuid.New()
	_, err = manager.Claim(context.Background(), "push-alerts", eventID)
	require.NoError(t, err)
	require.NoError(t, manager.Release(context.Background(), "push-alerts", eventID))
	assert.Equal(t, "dispatch:dedupe:push-alerts:"+eventID.String(), store.lastDeleted)

	claimed, err := manager.Claim(context.Background(), "push-alerts", eventID)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestClaimErrors(t *testing.T) {
	store := newFakeStore()
	store.setNXError = errors.New("boom")
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	_, err = manager.Claim(context.Background(), "push-alerts", uuid.New())
	assert.Error(t, err)
	_, err = manager.Claim(context.Background(), "", uuid.New())
	assert.Error(t, err)
	_, err = manager.Claim(context.Background(), "push-alerts", uuid.Nil)
	assert.Error(t, err)

	_, err = NewManager(nil, time.Hour)
	assert.Error(t, err)
}
