package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// NotificationStore keeps one row per notification and one row per armed
// state. Deletes touch both tables explicitly.
type NotificationStore struct {
	db      *sql.DB
	dialect Dialect
	opts    options

	qGet, qStates, qUpsert, qDelete string

	qDeleteStates, qInsertState, qDeleteState, qCountStates string

	qIDsForJobAndState, qIDsForJob, qDeleteJobStates, qDeleteJob string
}

func NewNotificationStore(db *sql.DB, dialect Dialect, opts ...Option) *NotificationStore {
	o := newOptions(opts)
	n, st := o.tables.Notification, o.tables.NotificationState
	q := dialect.Rebind

	return &NotificationStore{
		db:      db,
		dialect: dialect,
		opts:    o,

		qGet:    q(fmt.Sprintf(`SELECT job_id, payload FROM %s WHERE id = ?`, n)),
		qStates: q(fmt.Sprintf(`SELECT state FROM %s WHERE id = ? ORDER BY state`, st)),
		qUpsert: q(fmt.Sprintf(`INSERT INTO %s (id, job_id, payload) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET job_id = excluded.job_id, payload = excluded.payload`, n)),
		qDeleteStates: q(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, st)),
		qInsertState:  q(fmt.Sprintf(`INSERT INTO %s (id, state) VALUES (?, ?)`, st)),
		qDelete:       q(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, n)),
		qIDsForJobAndState: q(fmt.Sprintf(`SELECT n.id FROM %s n
			JOIN %s s ON s.id = n.id
			WHERE n.job_id = ? AND s.state = ?`, n, st)),
		qIDsForJob:       q(fmt.Sprintf(`SELECT id FROM %s WHERE job_id = ?`, n)),
		qDeleteState:     q(fmt.Sprintf(`DELETE FROM %s WHERE id = ? AND state = ?`, st)),
		qCountStates:     q(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE id = ?`, st)),
		qDeleteJobStates: q(fmt.Sprintf(`DELETE FROM %s WHERE id IN (SELECT id FROM %s WHERE job_id = ?)`, st, n)),
		qDeleteJob:       q(fmt.Sprintf(`DELETE FROM %s WHERE job_id = ?`, n)),
	}
}

func (s *NotificationStore) Init(ctx context.Context) error {
	if !s.opts.createOnInit {
		return nil
	}
	n, st := s.opts.tables.Notification, s.opts.tables.NotificationState
	err := execAll(ctx, s.db,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id %s PRIMARY KEY,
			job_id %s NOT NULL,
			payload %s
		)`, n, s.dialect.UUIDType, s.dialect.UUIDType, s.dialect.BlobType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_job_id_idx ON %s (job_id)`, n, n),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id %s NOT NULL,
			state INTEGER NOT NULL,
			PRIMARY KEY (id, state)
		)`, st, s.dialect.UUIDType),
	)
	if err != nil {
		return errors.Store(errors.ErrCantInit, err).WithMetadata("table", n)
	}
	return nil
}

func (s *NotificationStore) Get(ctx context.Context, id uuid.UUID) (*core.NotificationRecord, error) {
	rec := core.NotificationRecord{ID: id}
	err := s.db.QueryRowContext(ctx, s.qGet, id).Scan(&rec.JobID, &rec.Payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Store(errors.ErrGetJobData, err).WithMetadata("notification_id", id.String())
	}

	rows, err := s.db.QueryContext(ctx, s.qStates, id)
	if err != nil {
		return nil, errors.Store(errors.ErrGetJobData, err).WithMetadata("notification_id", id.String())
	}
	defer rows.Close()
	rec.States = []core.JobState{}
	for rows.Next() {
		var state int
		if err := rows.Scan(&state); err != nil {
			return nil, errors.Store(errors.ErrGetJobData, err)
		}
		rec.States = append(rec.States, core.JobState(state))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Store(errors.ErrGetJobData, err)
	}
	return &rec, nil
}

// AddOrUpdate replaces the record and its armed states. A record without
// states is deleted.
func (s *NotificationStore) AddOrUpdate(ctx context.Context, record core.NotificationRecord) error {
	if record.ID == uuid.Nil || record.JobID == uuid.Nil {
		return errors.Store(errors.ErrCantAdd, errors.New("notification and job id are required"))
	}
	states := lo.Uniq(record.States)
	if len(states) == 0 {
		return s.Delete(ctx, record.ID)
	}

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.qUpsert, record.ID, record.JobID, record.Payload); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.qDeleteStates, record.ID); err != nil {
			return err
		}
		for _, state := range states {
			if _, err := tx.ExecContext(ctx, s.qInsertState, record.ID, int(state)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Store(errors.ErrCantAdd, err).WithMetadata("notification_id", record.ID.String())
	}
	return nil
}

func (s *NotificationStore) Delete(ctx context.Context, id uuid.UUID) error {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.qDeleteStates, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.qDelete, id)
		return err
	})
	if err != nil {
		return errors.Store(errors.ErrCantRemove, err).WithMetadata("notification_id", id.String())
	}
	return nil
}

func (s *NotificationStore) ListIDsForJobAndState(ctx context.Context, jobID uuid.UUID, state core.JobState) ([]uuid.UUID, error) {
	return s.listIDs(ctx, s.qIDsForJobAndState, jobID, int(state))
}

func (s *NotificationStore) ListIDsForJob(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error) {
	return s.listIDs(ctx, s.qIDsForJob, jobID)
}

func (s *NotificationStore) listIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Store(errors.ErrCantListGuids, err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Store(errors.ErrCantListGuids, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Store(errors.ErrCantListGuids, err)
	}
	return ids, nil
}

func (s *NotificationStore) DeleteForState(ctx context.Context, id uuid.UUID, state core.JobState) (bool, error) {
	var deleted bool
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.qDeleteState, id, int(state))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		deleted = true

		var left int
		if err := tx.QueryRowContext(ctx, s.qCountStates, id).Scan(&left); err != nil {
			return err
		}
		if left == 0 {
			_, err = tx.ExecContext(ctx, s.qDelete, id)
		}
		return err
	})
	if err != nil {
		return false, errors.Store(errors.ErrCantRemove, err).
			WithMetadata("notification_id", id.String()).
			WithMetadata("state", state.String())
	}
	return deleted, nil
}

func (s *NotificationStore) DeleteForJob(ctx context.Context, jobID uuid.UUID) error {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.qDeleteJobStates, jobID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.qDeleteJob, jobID)
		return err
	})
	if err != nil {
		return errors.Store(errors.ErrCantRemove, err).WithMetadata("job_id", jobID.String())
	}
	return nil
}

var _ core.NotificationStore = (*NotificationStore)(nil)
