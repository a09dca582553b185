package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMetadataStore()
	require.NoError(t, s.Init(ctx))

	rec := core.JobRecord{
		ID:              uuid.New(),
		Kind:            core.KindCron,
		Schedule:        "*/2 * * * * *",
		IntervalSeconds: 0,
		NextTick:        1_000,
		LastTick:        998,
		TZOffsetSeconds: 3600,
		Payload:         []byte("p"),
	}
	require.NoError(t, s.AddOrUpdate(ctx, rec))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Schedule, got.Schedule)
	assert.Equal(t, rec.IntervalSeconds, got.IntervalSeconds)
	assert.Equal(t, rec.NextTick, got.NextTick)
	assert.Equal(t, rec.LastTick, got.LastTick)
	assert.Equal(t, rec, *got)

	got.Payload[0] = 'x'
	again, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("p"), again.Payload, "stored record is isolated from callers")

	missing, err := s.Get(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = s.AddOrUpdate(ctx, core.JobRecord{})
	assert.True(t, errors.Is(err, errors.ErrCantAdd))
}

func TestMetadataStoreTicks(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(5_000, 0)
	s := NewMetadataStore().WithClock(func() time.Time { return now })

	a := core.JobRecord{ID: uuid.New(), Kind: core.KindRepeated, NextTick: 5_010}
	b := core.JobRecord{ID: uuid.New(), Kind: core.KindOneShot, NextTick: 5_003}
	stopped := core.JobRecord{ID: uuid.New(), Kind: core.KindOneShot, NextTick: 5_001, Stopped: true}
	for _, r := range []core.JobRecord{a, b, stopped} {
		require.NoError(t, s.AddOrUpdate(ctx, r))
	}

	projections, err := s.ListDueProjections(ctx)
	require.NoError(t, err)
	assert.Len(t, projections, 3)

	wait, ok, err := s.TimeTillNextJob(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, wait)

	require.NoError(t, s.SetNextAndLastTick(ctx, b.ID, 0, 5_003))
	got, err := s.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.NextTick)
	assert.Equal(t, int64(5_003), got.LastTick)
	assert.Equal(t, uint32(1), got.FireCount)
	assert.True(t, got.HasFired)
	assert.Equal(t, now.Unix(), got.LastUpdated)

	wait, ok, err = s.TimeTillNextJob(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, wait)

	err = s.SetNextAndLastTick(ctx, uuid.New(), 1, 1)
	assert.True(t, errors.Is(err, errors.ErrUpdateJobData))

	require.NoError(t, s.Delete(ctx, a.ID))
	require.NoError(t, s.Delete(ctx, b.ID))
	_, ok, err = s.TimeTillNextJob(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "only a stopped job is left")
}

func TestMetadataStoreSetStopped(t *testing.T) {
	ctx := context.Background()
	s := NewMetadataStore().WithClock(func() time.Time { return time.Unix(2_000, 0) })
	id := uuid.New()
	require.NoError(t, s.AddOrUpdate(ctx, core.JobRecord{ID: id, Kind: core.KindRepeated, IntervalSeconds: 5, NextTick: 1_000}))
	require.NoError(t, s.SetNextAndLastTick(ctx, id, 1_005, 1_000))

	require.NoError(t, s.SetStopped(ctx, id, true))
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Stopped)
	assert.Equal(t, int64(1_005), got.NextTick)
	assert.Equal(t, int64(1_000), got.LastTick)
	assert.Equal(t, uint32(1), got.FireCount)
	assert.Equal(t, int64(2_000), got.LastUpdated)

	err = s.SetStopped(ctx, uuid.New(), true)
	assert.True(t, errors.Is(err, errors.ErrUpdateJobData))
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestMetadataStoreConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMetadataStore()
	id := uuid.New()
	require.NoError(t, s.AddOrUpdate(ctx, core.JobRecord{ID: id, NextTick: 1}))

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.SetNextAndLastTick(ctx, id, int64(i+2), int64(i+1))
		}()
		go func() {
			defer wg.Done()
			_, _ = s.ListDueProjections(ctx)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(50), got.FireCount)
}

func TestNotificationStore(t *testing.T) {
	ctx := context.Background()
	s := NewNotificationStore()
	require.NoError(t, s.Init(ctx))

	jobID := uuid.New()
	n := core.NotificationRecord{
		ID:     uuid.New(),
		JobID:  jobID,
		States: []core.JobState{core.StateStarted, core.StateDone, core.StateDone},
	}
	other := core.NotificationRecord{ID: uuid.New(), JobID: jobID, States: []core.JobState{core.StateDone}}
	require.NoError(t, s.AddOrUpdate(ctx, n))
	require.NoError(t, s.AddOrUpdate(ctx, other))

	t.Run("get dedups states", func(t *testing.T) {
		got, err := s.Get(ctx, n.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.ElementsMatch(t, []core.JobState{core.StateStarted, core.StateDone}, got.States)
	})

	t.Run("list by job and state", func(t *testing.T) {
		ids, err := s.ListIDsForJobAndState(ctx, jobID, core.StateDone)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{n.ID, other.ID}, ids)

		ids, err = s.ListIDsForJobAndState(ctx, jobID, core.StateStarted)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{n.ID}, ids)

		ids, err = s.ListIDsForJob(ctx, uuid.New())
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("delete for state keeps the rest", func(t *testing.T) {
		deleted, err := s.DeleteForState(ctx, n.ID, core.StateStarted)
		require.NoError(t, err)
		assert.True(t, deleted)

		got, err := s.Get(ctx, n.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, []core.JobState{core.StateDone}, got.States)

		deleted, err = s.DeleteForState(ctx, n.ID, core.StateStarted)
		require.NoError(t, err)
		assert.False(t, deleted, "state no longer armed")
	})

	t.Run("deleting the last state deletes the record", func(t *testing.T) {
		deleted, err := s.DeleteForState(ctx, other.ID, core.StateDone)
		require.NoError(t, err)
		assert.True(t, deleted)

		got, err := s.Get(ctx, other.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("delete for job cascades", func(t *testing.T) {
		require.NoError(t, s.DeleteForJob(ctx, jobID))
		ids, err := s.ListIDsForJob(ctx, jobID)
		require.NoError(t, err)
		assert.Empty(t, ids)

		got, err := s.Get(ctx, n.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("delete unknown", func(t *testing.T) {
		assert.NoError(t, s.Delete(ctx, uuid.New()))
		deleted, err := s.DeleteForState(ctx, uuid.New(), core.StateDone)
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("moving to another job", func(t *testing.T) {
		rec := core.NotificationRecord{ID: uuid.New(), JobID: uuid.New(), States: []core.JobState{core.StateStop}}
		require.NoError(t, s.AddOrUpdate(ctx, rec))
		oldJob := rec.JobID
		rec.JobID = uuid.New()
		require.NoError(t, s.AddOrUpdate(ctx, rec))

		ids, err := s.ListIDsForJob(ctx, oldJob)
		require.NoError(t, err)
		assert.Empty(t, ids)
		ids, err = s.ListIDsForJob(ctx, rec.JobID)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{rec.ID}, ids)
	})

	t.Run("invalid record", func(t *testing.T) {
		err := s.AddOrUpdate(ctx, core.NotificationRecord{ID: uuid.New()})
		assert.True(t, errors.Is(err, errors.ErrCantAdd))
	})
}
