package redisstore

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/modules/cache"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

// NotificationStore keeps each notification as JSON under
// <prefix>notification:<id> and indexes them per job under
// <prefix>job:<job id>:notifications.
type NotificationStore struct {
	client redis.UniversalClient
	keys   cache.Keyspace
}

func NewNotificationStore(client redis.UniversalClient, prefix string) *NotificationStore {
	return &NotificationStore{client: client, keys: cache.Keyspace(prefix)}
}

func (s *NotificationStore) notificationKey(id string) string {
	return s.keys.Key("notification", id)
}

func (s *NotificationStore) jobIndexKey(jobID uuid.UUID) string {
	return s.keys.Key("job", jobID.String(), "notifications")
}

func (s *NotificationStore) Init(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.Store(errors.ErrCantInit, err)
	}
	return nil
}

func (s *NotificationStore) Get(ctx context.Context, id uuid.UUID) (*core.NotificationRecord, error) {
	rec, err := getJSON[core.NotificationRecord](ctx, s.client, s.notificationKey(id.String()))
	if err != nil {
		return nil, errors.Store(errors.ErrGetJobData, err).WithMetadata("notification_id", id.String())
	}
	return rec, nil
}

// AddOrUpdate stores the record. A record without states is deleted.
func (s *NotificationStore) AddOrUpdate(ctx context.Context, record core.NotificationRecord) error {
	if record.ID == uuid.Nil || record.JobID == uuid.Nil {
		return errors.Store(errors.ErrCantAdd, errors.New("notification and job id are required"))
	}
	record.States = lo.Uniq(record.States)
	if len(record.States) == 0 {
		return s.Delete(ctx, record.ID)
	}

	previous, err := s.Get(ctx, record.ID)
	if err != nil {
		return errors.Store(errors.ErrCantAdd, err)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Store(errors.ErrCantAdd, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != nil && previous.JobID != record.JobID {
			pipe.SRem(ctx, s.jobIndexKey(previous.JobID), record.ID.String())
		}
		pipe.Set(ctx, s.notificationKey(record.ID.String()), data, 0)
		pipe.SAdd(ctx, s.jobIndexKey(record.JobID), record.ID.String())
		return nil
	})
	if err != nil {
		return errors.Store(errors.ErrCantAdd, err).WithMetadata("notification_id", record.ID.String())
	}
	return nil
}

func (s *NotificationStore) Delete(ctx context.Context, id uuid.UUID) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return errors.Store(errors.ErrCantRemove, err)
	}
	if rec == nil {
		return nil
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.notificationKey(id.String()))
		pipe.SRem(ctx, s.jobIndexKey(rec.JobID), id.String())
		return nil
	})
	if err != nil {
		return errors.Store(errors.ErrCantRemove, err).WithMetadata("notification_id", id.String())
	}
	return nil
}

func (s *NotificationStore) ListIDsForJobAndState(ctx context.Context, jobID uuid.UUID, state core.JobState) ([]uuid.UUID, error) {
	records, err := s.recordsForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return lo.FilterMap(records, func(rec core.NotificationRecord, _ int) (uuid.UUID, bool) {
		return rec.ID, rec.HasState(state)
	}), nil
}

func (s *NotificationStore) ListIDsForJob(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error) {
	records, err := s.recordsForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return lo.Map(records, func(rec core.NotificationRecord, _ int) uuid.UUID {
		return rec.ID
	}), nil
}

func (s *NotificationStore) recordsForJob(ctx context.Context, jobID uuid.UUID) ([]core.NotificationRecord, error) {
	ids, err := s.client.SMembers(ctx, s.jobIndexKey(jobID)).Result()
	if err != nil {
		return nil, errors.Store(errors.ErrCantListGuids, err).WithMetadata("job_id", jobID.String())
	}
	if len(ids) == 0 {
		return []core.NotificationRecord{}, nil
	}
	records, err := mgetJSON[core.NotificationRecord](ctx, s.client, lo.Map(ids, func(id string, _ int) string {
		return s.notificationKey(id)
	}))
	if err != nil {
		return nil, errors.Store(errors.ErrCantListGuids, err).WithMetadata("job_id", jobID.String())
	}
	// A record re-homed to another job may linger in this index.
	return lo.Filter(records, func(rec core.NotificationRecord, _ int) bool {
		return rec.JobID == jobID
	}), nil
}

func (s *NotificationStore) DeleteForState(ctx context.Context, id uuid.UUID, state core.JobState) (bool, error) {
	key := s.notificationKey(id.String())
	var deleted bool
	update := func(tx *redis.Tx) error {
		deleted = false
		rec, err := getJSON[core.NotificationRecord](ctx, tx, key)
		if err != nil || rec == nil || !rec.HasState(state) {
			return err
		}
		rec.States = slices.DeleteFunc(rec.States, func(st core.JobState) bool { return st == state })
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(rec.States) == 0 {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, s.jobIndexKey(rec.JobID), id.String())
			} else {
				pipe.Set(ctx, key, data, 0)
			}
			return nil
		})
		if err == nil {
			deleted = true
		}
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
		return false, errors.Store(errors.ErrCantRemove, err).
			WithMetadata("notification_id", id.String()).
			WithMetadata("state", state.String())
	}
	return deleted, nil
}

func (s *NotificationStore) DeleteForJob(ctx context.Context, jobID uuid.UUID) error {
	records, err := s.recordsForJob(ctx, jobID)
	if err != nil {
		return errors.Store(errors.ErrCantRemove, err).WithMetadata("job_id", jobID.String())
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, rec := range records {
			pipe.Del(ctx, s.notificationKey(rec.ID.String()))
		}
		pipe.Del(ctx, s.jobIndexKey(jobID))
		return nil
	})
	if err != nil {
		return errors.Store(errors.ErrCantRemove, err).WithMetadata("job_id", jobID.String())
	}
	return nil
}

var _ core.NotificationStore = (*NotificationStore)(nil)
