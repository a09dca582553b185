package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/modules/cache"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic transaction retries on a contended key.
const maxTxRetries = 5

// MetadataStore keeps each job as a JSON value under <prefix>job:<id> and
// the set of job ids under <prefix>jobs. The index is written in the same
// MULTI as the record but is not checked on read, so readers skip ids whose
// record is gone.
type MetadataStore struct {
	client redis.UniversalClient
	keys   cache.Keyspace
	clock  core.Clock
}

func NewMetadataStore(client redis.UniversalClient, prefix string) *MetadataStore {
	return &MetadataStore{
		client: client,
		keys:   cache.Keyspace(prefix),
		clock:  time.Now,
	}
}

func (s *MetadataStore) WithClock(clock core.Clock) *MetadataStore {
	s.clock = clock
	return s
}

func (s *MetadataStore) jobKey(id uuid.UUID) string {
	return s.keys.Key("job", id.String())
}

func (s *MetadataStore) indexKey() string {
	return s.keys.Key("jobs")
}

func (s *MetadataStore) Init(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.Store(errors.ErrCantInit, err)
	}
	return nil
}

func (s *MetadataStore) Get(ctx context.Context, id uuid.UUID) (*core.JobRecord, error) {
	rec, err := getJSON[core.JobRecord](ctx, s.client, s.jobKey(id))
	if err != nil {
		return nil, errors.Store(errors.ErrGetJobData, err).WithMetadata("job_id", id.String())
	}
	return rec, nil
}

func (s *MetadataStore) AddOrUpdate(ctx context.Context, record core.JobRecord) error {
	if record.ID == uuid.Nil {
		return errors.Store(errors.ErrCantAdd, errors.New("job id is nil"))
	}
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Store(errors.ErrCantAdd, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.jobKey(record.ID), data, 0)
		pipe.SAdd(ctx, s.indexKey(), record.ID.String())
		return nil
	})
	if err != nil {
		return errors.Store(errors.ErrCantAdd, err).WithMetadata("job_id", record.ID.String())
	}
	return nil
}

func (s *MetadataStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.jobKey(id))
		pipe.SRem(ctx, s.indexKey(), id.String())
		return nil
	})
	if err != nil {
		return errors.Store(errors.ErrCantRemove, err).WithMetadata("job_id", id.String())
	}
	return nil
}

func (s *MetadataStore) ListDueProjections(ctx context.Context) ([]core.DueProjection, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, errors.Store(errors.ErrCantListNextTicks, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keys.Key("job", id)
	}
	records, err := mgetJSON[core.JobRecord](ctx, s.client, keys)
	if err != nil {
		return nil, errors.Store(errors.ErrCantListNextTicks, err)
	}

	out := make([]core.DueProjection, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Projection())
	}
	return out, nil
}

func (s *MetadataStore) SetNextAndLastTick(ctx context.Context, id uuid.UUID, next, last int64) error {
	return s.modify(ctx, id, func(rec *core.JobRecord) {
		rec.MarkFired(next, last, s.clock().Unix())
	})
}

func (s *MetadataStore) SetStopped(ctx context.Context, id uuid.UUID, stopped bool) error {
	return s.modify(ctx, id, func(rec *core.JobRecord) {
		rec.Stopped = stopped
		rec.LastUpdated = s.clock().Unix()
	})
}

// modify applies change to the record under WATCH, retrying when another
// writer touched it in between.
func (s *MetadataStore) modify(ctx context.Context, id uuid.UUID, change func(*core.JobRecord)) error {
	key := s.jobKey(id)
	update := func(tx *redis.Tx) error {
		rec, err := getJSON[core.JobRecord](ctx, tx, key)
		if err != nil {
			return err
		}
		if rec == nil {
			return errors.ErrNotFound
		}
		change(rec)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	var err error
	for range maxTxRetries {
		err = s.client.Watch(ctx, update, key)
		if err != redis.TxFailedErr {
			break
		}
	}
	if err != nil {
		return errors.Store(errors.ErrUpdateJobData, err).WithMetadata("job_id", id.String())
	}
	return nil
}

func (s *MetadataStore) TimeTillNextJob(ctx context.Context) (time.Duration, bool, error) {
	projections, err := s.ListDueProjections(ctx)
	if err != nil {
		return 0, false, errors.Store(errors.ErrCouldNotGetTimeUntilNextTick, err)
	}
	wait, ok := core.MinTimeTill(projections, s.clock())
	return wait, ok, nil
}

var _ core.MetadataStore = (*MetadataStore)(nil)
