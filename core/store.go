package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MetadataStore persists job records keyed by id.
type MetadataStore interface {
	Init(ctx context.Context) error
	// Get returns nil and no error when the job does not exist.
	Get(ctx context.Context, id uuid.UUID) (*JobRecord, error)
	AddOrUpdate(ctx context.Context, record JobRecord) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListDueProjections(ctx context.Context) ([]DueProjection, error)
	// SetNextAndLastTick records a fire: it stores both ticks, marks the job
	// as fired and increments its fire count.
	SetNextAndLastTick(ctx context.Context, id uuid.UUID, next, last int64) error
	// SetStopped changes only the stopped flag, leaving tick state as the
	// tick loop last wrote it.
	SetStopped(ctx context.Context, id uuid.UUID, stopped bool) error
	// TimeTillNextJob returns the wait until the earliest next tick among
	// running jobs, false when there is none.
	TimeTillNextJob(ctx context.Context) (time.Duration, bool, error)
}

// NotificationStore persists which callbacks are armed for which job states.
type NotificationStore interface {
	Init(ctx context.Context) error
	Get(ctx context.Context, id uuid.UUID) (*NotificationRecord, error)
	AddOrUpdate(ctx context.Context, record NotificationRecord) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListIDsForJobAndState(ctx context.Context, jobID uuid.UUID, state JobState) ([]uuid.UUID, error)
	ListIDsForJob(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error)
	// DeleteForState disarms one state and reports whether it was armed.
	// Disarming the last state deletes the record.
	DeleteForState(ctx context.Context, id uuid.UUID, state JobState) (bool, error)
	DeleteForJob(ctx context.Context, jobID uuid.UUID) error
}

// JobCode holds job executables keyed by job id.
type JobCode interface {
	Put(id uuid.UUID, exec Executable)
	Get(id uuid.UUID) (Executable, bool)
	Delete(id uuid.UUID)
}

// NotificationCode holds notification callbacks keyed by notification id.
type NotificationCode interface {
	Put(id uuid.UUID, fn NotificationFunc)
	Get(id uuid.UUID) (NotificationFunc, bool)
	Delete(id uuid.UUID)
}

// Clock returns the current time. Stores and the tick loop take one so tests
// can pin time.
type Clock func() time.Time

// MinTimeTill returns the wait from now until the earliest running next tick,
// clamped at zero.
func MinTimeTill(projections []DueProjection, now time.Time) (time.Duration, bool) {
	var (
		earliest int64
		found    bool
	)
	for _, p := range projections {
		if p.Stopped || p.NextTick == 0 {
			continue
		}
		if !found || p.NextTick < earliest {
			earliest = p.NextTick
			found = true
		}
	}
	if !found {
		return 0, false
	}
	wait := time.Unix(earliest, 0).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}
