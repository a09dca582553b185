package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/google/uuid"
)

const jobColumns = `id, kind, schedule, interval_seconds, repeating, next_tick, last_tick,
	fire_count, has_fired, stopped, tz_offset_seconds, payload, last_updated`

// MetadataStore keeps one row per job.
type MetadataStore struct {
	db      *sql.DB
	dialect Dialect
	opts    options
	clock   core.Clock

	qGet, qUpsert, qDelete, qProjections, qSetTicks, qSetStopped, qMinNext string
}

func NewMetadataStore(db *sql.DB, dialect Dialect, opts ...Option) *MetadataStore {
	o := newOptions(opts)
	table := o.tables.Job
	q := dialect.Rebind

	return &MetadataStore{
		db:      db,
		dialect: dialect,
		opts:    o,
		clock:   time.Now,

		qGet: q(fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, jobColumns, table)),
		qUpsert: q(fmt.Sprintf(`INSERT INTO %s (%s)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				kind = excluded.kind,
				schedule = excluded.schedule,
				interval_seconds = excluded.interval_seconds,
				repeating = excluded.repeating,
				next_tick = excluded.next_tick,
				last_tick = excluded.last_tick,
				fire_count = excluded.fire_count,
				has_fired = excluded.has_fired,
				stopped = excluded.stopped,
				tz_offset_seconds = excluded.tz_offset_seconds,
				payload = excluded.payload,
				last_updated = excluded.last_updated`, table, jobColumns)),
		qDelete:      q(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table)),
		qProjections: fmt.Sprintf(`SELECT id, kind, next_tick, last_tick, stopped FROM %s`, table),
		qSetTicks: q(fmt.Sprintf(`UPDATE %s SET
				next_tick = ?,
				last_tick = ?,
				has_fired = ?,
				fire_count = CASE WHEN fire_count >= 4294967295 THEN 0 ELSE fire_count + 1 END,
				last_updated = ?
			WHERE id = ?`, table)),
		qSetStopped: q(fmt.Sprintf(`UPDATE %s SET stopped = ?, last_updated = ? WHERE id = ?`, table)),
		qMinNext:    q(fmt.Sprintf(`SELECT MIN(next_tick) FROM %s WHERE stopped = ? AND next_tick <> 0`, table)),
	}
}

// WithClock replaces the clock used for LastUpdated and TimeTillNextJob.
func (s *MetadataStore) WithClock(clock core.Clock) *MetadataStore {
	s.clock = clock
	return s
}

func (s *MetadataStore) Init(ctx context.Context) error {
	if !s.opts.createOnInit {
		return nil
	}
	table := s.opts.tables.Job
	err := execAll(ctx, s.db,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id %s PRIMARY KEY,
			kind INTEGER NOT NULL,
			schedule TEXT NOT NULL DEFAULT '',
			interval_seconds BIGINT NOT NULL DEFAULT 0,
			repeating %s NOT NULL,
			next_tick BIGINT NOT NULL DEFAULT 0,
			last_tick BIGINT NOT NULL DEFAULT 0,
			fire_count BIGINT NOT NULL DEFAULT 0,
			has_fired %s NOT NULL,
			stopped %s NOT NULL,
			tz_offset_seconds INTEGER NOT NULL DEFAULT 0,
			payload %s,
			last_updated BIGINT NOT NULL DEFAULT 0
		)`, table, s.dialect.UUIDType, s.dialect.BoolType, s.dialect.BoolType, s.dialect.BoolType, s.dialect.BlobType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_next_tick_idx ON %s (next_tick)`, table, table),
	)
	if err != nil {
		return errors.Store(errors.ErrCantInit, err).WithMetadata("table", table)
	}
	return nil
}

func (s *MetadataStore) Get(ctx context.Context, id uuid.UUID) (*core.JobRecord, error) {
	var (
		rec       core.JobRecord
		kind      int
		interval  int64
		fireCount int64
	)
	err := s.db.QueryRowContext(ctx, s.qGet, id).Scan(
		&rec.ID,
		&kind,
		&rec.Schedule,
		&interval,
		&rec.Repeating,
		&rec.NextTick,
		&rec.LastTick,
		&fireCount,
		&rec.HasFired,
		&rec.Stopped,
		&rec.TZOffsetSeconds,
		&rec.Payload,
		&rec.LastUpdated,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Store(errors.ErrGetJobData, err).WithMetadata("job_id", id.String())
	}
	rec.Kind = core.JobKind(kind)
	rec.IntervalSeconds = uint64(interval)
	rec.FireCount = uint32(fireCount)
	return &rec, nil
}

func (s *MetadataStore) AddOrUpdate(ctx context.Context, record core.JobRecord) error {
	if record.ID == uuid.Nil {
		return errors.Store(errors.ErrCantAdd, errors.New("job id is nil"))
	}
	_, err := s.db.ExecContext(ctx, s.qUpsert,
		record.ID,
		int(record.Kind),
		record.Schedule,
		int64(record.IntervalSeconds),
		record.Repeating,
		record.NextTick,
		record.LastTick,
		int64(record.FireCount),
		record.HasFired,
		record.Stopped,
		record.TZOffsetSeconds,
		record.Payload,
		record.LastUpdated,
	)
	if err != nil {
		return errors.Store(errors.ErrCantAdd, err).WithMetadata("job_id", record.ID.String())
	}
	return nil
}

func (s *MetadataStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, s.qDelete, id); err != nil {
		return errors.Store(errors.ErrCantRemove, err).WithMetadata("job_id", id.String())
	}
	return nil
}

func (s *MetadataStore) ListDueProjections(ctx context.Context) ([]core.DueProjection, error) {
	rows, err := s.db.QueryContext(ctx, s.qProjections)
	if err != nil {
		return nil, errors.Store(errors.ErrCantListNextTicks, err)
	}
	defer rows.Close()

	var out []core.DueProjection
	for rows.Next() {
		var (
			p    core.DueProjection
			kind int
		)
		if err := rows.Scan(&p.ID, &kind, &p.NextTick, &p.LastTick, &p.Stopped); err != nil {
			return nil, errors.Store(errors.ErrCantListNextTicks, err)
		}
		p.Kind = core.JobKind(kind)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Store(errors.ErrCantListNextTicks, err)
	}
	return out, nil
}

func (s *MetadataStore) SetNextAndLastTick(ctx context.Context, id uuid.UUID, next, last int64) error {
	res, err := s.db.ExecContext(ctx, s.qSetTicks, next, last, true, s.clock().Unix(), id)
	if err != nil {
		return errors.Store(errors.ErrUpdateJobData, err).WithMetadata("job_id", id.String())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Store(errors.ErrUpdateJobData, err).WithMetadata("job_id", id.String())
	}
	if n == 0 {
		return errors.Store(errors.ErrUpdateJobData, errors.ErrNotFound).WithMetadata("job_id", id.String())
	}
	return nil
}

func (s *MetadataStore) SetStopped(ctx context.Context, id uuid.UUID, stopped bool) error {
	res, err := s.db.ExecContext(ctx, s.qSetStopped, stopped, s.clock().Unix(), id)
	if err != nil {
		return errors.Store(errors.ErrUpdateJobData, err).WithMetadata("job_id", id.String())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Store(errors.ErrUpdateJobData, err).WithMetadata("job_id", id.String())
	}
	if n == 0 {
		return errors.Store(errors.ErrUpdateJobData, errors.ErrNotFound).WithMetadata("job_id", id.String())
	}
	return nil
}

func (s *MetadataStore) TimeTillNextJob(ctx context.Context) (time.Duration, bool, error) {
	var earliest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, s.qMinNext, false).Scan(&earliest); err != nil {
		return 0, false, errors.Store(errors.ErrCouldNotGetTimeUntilNextTick, err)
	}
	if !earliest.Valid {
		return 0, false, nil
	}
	wait, ok := core.MinTimeTill([]core.DueProjection{{NextTick: earliest.Int64}}, s.clock())
	return wait, ok, nil
}

var _ core.MetadataStore = (*MetadataStore)(nil)
