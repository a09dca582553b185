package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// bucket holds the notifications of one job behind its own lock.
type bucket struct {
	mu            sync.RWMutex
	notifications map[uuid.UUID]core.NotificationRecord
}

func newBucket() *bucket {
	return &bucket{notifications: make(map[uuid.UUID]core.NotificationRecord)}
}

// NotificationStore keeps notifications as job id → notification id →
// record. The outer lock guards the job map and the id index, each bucket
// guards its own records. Locks are always taken outer first.
type NotificationStore struct {
	mu    sync.RWMutex
	jobs  map[uuid.UUID]*bucket
	owner map[uuid.UUID]uuid.UUID
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{
		jobs:  make(map[uuid.UUID]*bucket),
		owner: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *NotificationStore) Init(ctx context.Context) error {
	return nil
}

func (s *NotificationStore) Get(ctx context.Context, id uuid.UUID) (*core.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bucketOf(id)
	if !ok {
		return nil, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.notifications[id]
	if !ok {
		return nil, nil
	}
	out := rec.Clone()
	return &out, nil
}

func (s *NotificationStore) AddOrUpdate(ctx context.Context, record core.NotificationRecord) error {
	if record.ID == uuid.Nil || record.JobID == uuid.Nil {
		return errors.Store(errors.ErrCantAdd, errors.New("notification and job id are required"))
	}
	record = record.Clone()
	record.States = lo.Uniq(record.States)

	s.mu.Lock()
	defer s.mu.Unlock()

	// A record moving to another job leaves its old bucket.
	if prev, ok := s.owner[record.ID]; ok && prev != record.JobID {
		s.removeLocked(record.ID)
	}
	if len(record.States) == 0 {
		s.removeLocked(record.ID)
		return nil
	}

	b, ok := s.jobs[record.JobID]
	if !ok {
		b = newBucket()
		s.jobs[record.JobID] = b
	}
	b.mu.Lock()
	b.notifications[record.ID] = record
	b.mu.Unlock()
	s.owner[record.ID] = record.JobID
	return nil
}

func (s *NotificationStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
	return nil
}

func (s *NotificationStore) ListIDsForJobAndState(ctx context.Context, jobID uuid.UUID, state core.JobState) ([]uuid.UUID, error) {
	return s.collect(jobID, func(rec core.NotificationRecord) bool {
		return rec.HasState(state)
	}), nil
}

func (s *NotificationStore) ListIDsForJob(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error) {
	return s.collect(jobID, func(core.NotificationRecord) bool { return true }), nil
}

func (s *NotificationStore) DeleteForState(ctx context.Context, id uuid.UUID, state core.JobState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bucketOf(id)
	if !ok {
		return false, nil
	}

	b.mu.Lock()
	rec, ok := b.notifications[id]
	if !ok || !rec.HasState(state) {
		b.mu.Unlock()
		return false, nil
	}
	rec.States = slices.DeleteFunc(rec.States, func(st core.JobState) bool { return st == state })
	empty := len(rec.States) == 0
	if !empty {
		b.notifications[id] = rec
	}
	b.mu.Unlock()

	if empty {
		s.removeLocked(id)
	}
	return true, nil
}

func (s *NotificationStore) DeleteForJob(ctx context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	b.mu.RLock()
	for id := range b.notifications {
		delete(s.owner, id)
	}
	b.mu.RUnlock()
	delete(s.jobs, jobID)
	return nil
}

func (s *NotificationStore) collect(jobID uuid.UUID, keep func(core.NotificationRecord) bool) []uuid.UUID {
	s.mu.RLock()
	b, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return []uuid.UUID{}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(b.notifications))
	for id, rec := range b.notifications {
		if keep(rec) {
			ids = append(ids, id)
		}
	}
	return ids
}

// bucketOf must be called with s.mu held.
func (s *NotificationStore) bucketOf(id uuid.UUID) (*bucket, bool) {
	jobID, ok := s.owner[id]
	if !ok {
		return nil, false
	}
	b, ok := s.jobs[jobID]
	return b, ok
}

// removeLocked must be called with s.mu held for writing.
func (s *NotificationStore) removeLocked(id uuid.UUID) {
	jobID, ok := s.owner[id]
	if !ok {
		return
	}
	delete(s.owner, id)
	b, ok := s.jobs[jobID]
	if !ok {
		return
	}
	b.mu.Lock()
	delete(b.notifications, id)
	empty := len(b.notifications) == 0
	b.mu.Unlock()
	if empty {
		delete(s.jobs, jobID)
	}
}

var _ core.NotificationStore = (*NotificationStore)(nil)
