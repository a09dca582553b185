package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// MetadataStore keeps job records in a map. Nothing survives a restart.
type MetadataStore struct {
	mu    sync.RWMutex
	jobs  map[uuid.UUID]core.JobRecord
	clock core.Clock
}

func NewMetadataStore() *MetadataStore {
	return &MetadataStore{
		jobs:  make(map[uuid.UUID]core.JobRecord),
		clock: time.Now,
	}
}

// WithClock replaces the clock used by TimeTillNextJob.
func (s *MetadataStore) WithClock(clock core.Clock) *MetadataStore {
	s.clock = clock
	return s
}

func (s *MetadataStore) Init(ctx context.Context) error {
	return nil
}

func (s *MetadataStore) Get(ctx context.Context, id uuid.UUID) (*core.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	out := rec.Clone()
	return &out, nil
}

func (s *MetadataStore) AddOrUpdate(ctx context.Context, record core.JobRecord) error {
	if record.ID == uuid.Nil {
		return errors.Store(errors.ErrCantAdd, errors.New("job id is nil"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[record.ID] = record.Clone()
	return nil
}

func (s *MetadataStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *MetadataStore) ListDueProjections(ctx context.Context) ([]core.DueProjection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.MapToSlice(s.jobs, func(_ uuid.UUID, rec core.JobRecord) core.DueProjection {
		return rec.Projection()
	}), nil
}

func (s *MetadataStore) SetNextAndLastTick(ctx context.Context, id uuid.UUID, next, last int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return errors.Store(errors.ErrUpdateJobData, errors.ErrNotFound).WithMetadata("job_id", id.String())
	}
	rec.MarkFired(next, last, s.clock().Unix())
	s.jobs[id] = rec
	return nil
}

func (s *MetadataStore) SetStopped(ctx context.Context, id uuid.UUID, stopped bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return errors.Store(errors.ErrUpdateJobData, errors.ErrNotFound).WithMetadata("job_id", id.String())
	}
	rec.Stopped = stopped
	rec.LastUpdated = s.clock().Unix()
	s.jobs[id] = rec
	return nil
}

func (s *MetadataStore) TimeTillNextJob(ctx context.Context) (time.Duration, bool, error) {
	projections, err := s.ListDueProjections(ctx)
	if err != nil {
		return 0, false, err
	}
	wait, ok := core.MinTimeTill(projections, s.clock())
	return wait, ok, nil
}

var _ core.MetadataStore = (*MetadataStore)(nil)
