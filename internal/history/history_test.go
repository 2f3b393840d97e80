package history

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxCheckingStore struct {
	*MemoryStore
	appendErr error
	sawCancel bool
}

func (s *ctxCheckingStore) Append(ctx context.Context, rec *Record) error {
	s.sawCancel = ctx.Err() != nil
	if s.appendErr != nil {
		return s.appendErr
	}
	return s.MemoryStore.Append(ctx, rec)
}

type captureLogger struct {
	msgs []string
}

func (l *captureLogger) Error(msg string, _ ...any) {
	l.msgs = append(l.msgs, msg)
}

func TestRecorderRecordAndList(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder(NewMemoryStore(), nil)
	tenant, other := uuid.New(), uuid.New()
	planID := uuid.New()

	first, err := rec.Record(ctx, Record{TenantID: tenant, Status: StatusPlanCreated, SSOTHash: "h1", PlanID: &planID, Actor: "ops@example.com"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, first.ID)
	assert.False(t, first.CreatedAt.IsZero())
	assert.NotNil(t, first.Detail)

	_, err = rec.Record(ctx, Record{TenantID: other, Status: StatusPlanCreated})
	require.NoError(t, err)
	_, err = rec.Record(ctx, Record{TenantID: tenant, Status: StatusSafeApplied, Detail: map[string]any{"statements": 2}})
	require.NoError(t, err)

	list, err := rec.List(ctx, tenant, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, StatusSafeApplied, list[0].Status, "newest first")
	assert.Equal(t, StatusPlanCreated, list[1].Status)
	assert.Equal(t, &planID, list[1].PlanID)

	list, err = rec.List(ctx, tenant, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = rec.List(ctx, uuid.New(), 10)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NotNil(t, list)
}

func TestRecorderRequiresTenant(t *testing.T) {
	rec := NewRecorder(NewMemoryStore(), nil)
	_, err := rec.Record(context.Background(), Record{Status: StatusPlanCreated})
	assert.ErrorIs(t, err, ErrMissingTenant)
	_, err = rec.List(context.Background(), uuid.Nil, 10)
	assert.ErrorIs(t, err, ErrMissingTenant)
}

func TestRecorderIgnoresCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := &ctxCheckingStore{MemoryStore: NewMemoryStore()}
	rec := NewRecorder(store, nil)

	_, err := rec.Record(ctx, Record{TenantID: uuid.New(), Status: StatusSafePartiallyFailed})
	require.NoError(t, err)
	assert.False(t, store.sawCancel)
}

func TestRecorderWrapsStoreErrors(t *testing.T) {
	boom := errors.New("disk full")
	logger := &captureLogger{}
	rec := NewRecorder(&ctxCheckingStore{MemoryStore: NewMemoryStore(), appendErr: boom}, logger)

	_, err := rec.Record(context.Background(), Record{TenantID: uuid.New(), Status: StatusPlanFailed})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"history append failed"}, logger.msgs)
}
