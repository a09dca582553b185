package job

import (
	"slices"
	"sync"
	"time"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/modules/calculator"
	"github.com/google/uuid"
)

// Job is a schedulable unit: its persisted record and its executable.
type Job struct {
	mu     sync.RWMutex
	record core.JobRecord
	exec   core.Executable
}

var _ core.Schedulable = (*Job)(nil)

func (j *Job) ID() uuid.UUID {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.record.ID
}

func (j *Job) Kind() core.JobKind {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.record.Kind
}

// Record returns a copy of the job's persisted state.
func (j *Job) Record() core.JobRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.record.Clone()
}

func (j *Job) Executable() core.Executable {
	return j.exec
}

// Tick evaluates the job at now and advances it when it must fire.
func (j *Job) Tick(now time.Time) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Advance(&j.record, now)
}

func (j *Job) NextTick() (time.Time, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.record.NextTickTime()
}

func (j *Job) LastTick() (time.Time, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.record.LastTickTime()
}

func (j *Job) FireCount() uint32 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.record.FireCount
}

func (j *Job) HasFired() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.record.HasFired
}

func (j *Job) Stopped() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.record.Stopped
}

func (j *Job) SetStopped(stopped bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.record.Stopped = stopped
}

func (j *Job) Payload() []byte {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return slices.Clone(j.record.Payload)
}

func (j *Job) SetPayload(payload []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.record.Payload = slices.Clone(payload)
}

// MustFire decides whether a job with the given ticks fires at now. All values
// are unix seconds; last 0 means the job never fired.
func MustFire(now, last, next int64) bool {
	if last == 0 {
		return now >= next
	}
	return now >= next && last <= next
}

// Advance applies one tick to rec. When the job must fire it moves NextTick
// forward (zero for a finished job), sets LastTick to now, marks the record
// fired and bumps FireCount. A record without NextTick yields ErrNoNextTick.
func Advance(rec *core.JobRecord, now time.Time) (bool, error) {
	if rec.NextTick == 0 {
		return false, errors.Tick(errors.ErrNoNextTick, nil).WithMetadata("job_id", rec.ID.String())
	}
	nowSec := now.Unix()
	if !MustFire(nowSec, rec.LastTick, rec.NextTick) {
		return false, nil
	}

	next, err := nextTickAfterFire(*rec, now)
	if err != nil {
		return false, err
	}
	rec.MarkFired(next, nowSec, nowSec)
	return true, nil
}

func nextTickAfterFire(rec core.JobRecord, now time.Time) (int64, error) {
	switch rec.Kind {
	case core.KindCron:
		return CronNextTick(rec.Schedule, rec.TZOffsetSeconds, now)
	case core.KindRepeated:
		return RepeatedNextTick(rec.NextTick, rec.IntervalSeconds, now.Unix()), nil
	default:
		return 0, nil
	}
}

// CronNextTick returns the first schedule instant strictly after now, or zero
// when the schedule is exhausted.
func CronNextTick(schedule string, offsetSeconds int32, now time.Time) (int64, error) {
	s, err := calculator.Parse(schedule)
	if err != nil {
		return 0, err
	}
	next, ok := s.After(now, offsetSeconds)
	if !ok {
		return 0, nil
	}
	return next.Unix(), nil
}

// RepeatedNextTick returns next+interval. When the scheduler lagged by more
// than one interval it skips to the first point of the next+k*interval
// lattice after now, so the job keeps its phase.
func RepeatedNextTick(next int64, interval uint64, now int64) int64 {
	if interval == 0 {
		return 0
	}
	step := int64(interval)
	candidate := next + step
	if candidate <= now {
		candidate = next + ((now-next)/step+1)*step
	}
	return candidate
}
