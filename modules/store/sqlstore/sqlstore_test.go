package sqlstore

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/modules/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), database.SQLiteConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE b = ? AND c = ?`
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, `SELECT a FROM t WHERE b = $1 AND c = $2`, Postgres.Rebind(q))

	d, ok := DialectByName("pgx")
	require.True(t, ok)
	assert.Equal(t, Postgres, d)
	_, ok = DialectByName("oracle")
	assert.False(t, ok)
}

func TestSQLiteMetadataStore(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(5_000, 0)
	s := NewMetadataStore(openSQLite(t), SQLite).WithClock(func() time.Time { return now })
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Init(ctx), "init is idempotent")

	rec := core.JobRecord{
		ID:              uuid.New(),
		Kind:            core.KindRepeated,
		IntervalSeconds: 30,
		Repeating:       true,
		NextTick:        5_010,
		TZOffsetSeconds: -3600,
		Payload:         []byte{1, 2, 3},
		LastUpdated:     4_000,
	}

	t.Run("round trip", func(t *testing.T) {
		require.NoError(t, s.AddOrUpdate(ctx, rec))
		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, rec, *got)

		missing, err := s.Get(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("upsert", func(t *testing.T) {
		updated := rec
		updated.Stopped = true
		require.NoError(t, s.AddOrUpdate(ctx, updated))
		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.True(t, got.Stopped)

		require.NoError(t, s.AddOrUpdate(ctx, rec))
	})

	t.Run("ticks", func(t *testing.T) {
		other := core.JobRecord{ID: uuid.New(), Kind: core.KindOneShot, NextTick: 5_004}
		require.NoError(t, s.AddOrUpdate(ctx, other))

		projections, err := s.ListDueProjections(ctx)
		require.NoError(t, err)
		assert.Len(t, projections, 2)

		wait, ok, err := s.TimeTillNextJob(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 4*time.Second, wait)

		require.NoError(t, s.SetNextAndLastTick(ctx, other.ID, 0, 5_004))
		got, err := s.Get(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.NextTick)
		assert.Equal(t, int64(5_004), got.LastTick)
		assert.Equal(t, uint32(1), got.FireCount)
		assert.True(t, got.HasFired)
		assert.Equal(t, int64(5_000), got.LastUpdated)

		wait, ok, err = s.TimeTillNextJob(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 10*time.Second, wait)

		err = s.SetNextAndLastTick(ctx, uuid.New(), 1, 1)
		assert.True(t, errors.Is(err, errors.ErrUpdateJobData))
	})

	t.Run("stop keeps ticks", func(t *testing.T) {
		require.NoError(t, s.SetStopped(ctx, rec.ID, true))
		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.True(t, got.Stopped)
		assert.Equal(t, rec.NextTick, got.NextTick)
		assert.Equal(t, int64(5_000), got.LastUpdated)

		require.NoError(t, s.SetStopped(ctx, rec.ID, false))
		err = s.SetStopped(ctx, uuid.New(), true)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("fire count wraps", func(t *testing.T) {
		wrapping := core.JobRecord{ID: uuid.New(), Kind: core.KindRepeated, NextTick: 9_000, FireCount: 4294967295}
		require.NoError(t, s.AddOrUpdate(ctx, wrapping))
		require.NoError(t, s.SetNextAndLastTick(ctx, wrapping.ID, 9_010, 9_000))
		got, err := s.Get(ctx, wrapping.ID)
		require.NoError(t, err)
		assert.Equal(t, uint32(0), got.FireCount)
		require.NoError(t, s.Delete(ctx, wrapping.ID))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, rec.ID))
		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestSQLiteNotificationStore(t *testing.T) {
	ctx := context.Background()
	s := NewNotificationStore(openSQLite(t), SQLite, WithTables(Tables{Notification: "notif", NotificationState: "notif_state"}))
	require.NoError(t, s.Init(ctx))

	jobID := uuid.New()
	n := core.NotificationRecord{ID: uuid.New(), JobID: jobID, States: []core.JobState{core.StateDone, core.StateStarted, core.StateDone}}
	other := core.NotificationRecord{ID: uuid.New(), JobID: jobID, States: []core.JobState{core.StateRemoved}}
	require.NoError(t, s.AddOrUpdate(ctx, n))
	require.NoError(t, s.AddOrUpdate(ctx, other))

	got, err := s.Get(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, jobID, got.JobID)
	assert.Equal(t, []core.JobState{core.StateStarted, core.StateDone}, got.States)

	ids, err := s.ListIDsForJobAndState(ctx, jobID, core.StateDone)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{n.ID}, ids)

	ids, err = s.ListIDsForJob(ctx, jobID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{n.ID, other.ID}, ids)

	deleted, err := s.DeleteForState(ctx, n.ID, core.StateStarted)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.DeleteForState(ctx, n.ID, core.StateStarted)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.DeleteForState(ctx, n.ID, core.StateDone)
	require.NoError(t, err)
	assert.True(t, deleted)
	got, err = s.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "last state gone, record gone")

	require.NoError(t, s.DeleteForJob(ctx, jobID))
	ids, err = s.ListIDsForJob(ctx, jobID)
	require.NoError(t, err)
	assert.Empty(t, ids)
	ids, err = s.ListIDsForJobAndState(ctx, jobID, core.StateRemoved)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, s.Delete(ctx, uuid.New()))
}

func TestPostgresDialectQueries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	s := NewMetadataStore(db, Postgres, WithCreateOnInit(false)).WithClock(func() time.Time { return time.Unix(100, 0) })
	require.NoError(t, s.Init(ctx))

	id := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE job SET`)).
		WithArgs(int64(110), int64(100), true, int64(100), id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.SetNextAndLastTick(ctx, id, 110, 100))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE job SET stopped = $1, last_updated = $2 WHERE id = $3`)).
		WithArgs(true, int64(100), id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.SetStopped(ctx, id, true))

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM job WHERE id = $1`)).
		WithArgs(id).
		WillReturnError(sql.ErrConnDone)
	err = s.Delete(ctx, id)
	assert.True(t, errors.Is(err, errors.ErrCantRemove))
	assert.Equal(t, "SCHED_CANT_REMOVE", errors.CodeOf(err))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT MIN(next_tick) FROM job WHERE stopped = $1 AND next_tick <> 0`)).
		WithArgs(false).
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(nil))
	_, ok, err := s.TimeTillNextJob(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, kind, next_tick, last_tick, stopped FROM job`)).
		WillReturnError(sql.ErrConnDone)
	_, err = s.ListDueProjections(ctx)
	assert.True(t, errors.Is(err, errors.ErrCantListNextTicks))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresNotificationTransactions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	s := NewNotificationStore(db, Postgres)

	id, jobID := uuid.New(), uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO notification (id, job_id, payload) VALUES ($1, $2, $3)`)).
		WithArgs(id, jobID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM notification_state WHERE id = $1`)).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO notification_state (id, state) VALUES ($1, $2)`)).
		WithArgs(id, int64(core.StateDone)).
		WillReturnError(sql.ErrTxDone)
	mock.ExpectRollback()

	err = s.AddOrUpdate(ctx, core.NotificationRecord{ID: id, JobID: jobID, States: []core.JobState{core.StateDone}})
	assert.True(t, errors.Is(err, errors.ErrCantAdd))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM notification_state WHERE id = $1 AND state = $2`)).
		WithArgs(id, int64(core.StateDone)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM notification_state WHERE id = $1`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM notification WHERE id = $1`)).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	deleted, err := s.DeleteForState(ctx, id, core.StateDone)
	require.NoError(t, err)
	assert.True(t, deleted)

	require.NoError(t, mock.ExpectationsWereMet())
}
