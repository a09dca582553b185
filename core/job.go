package core

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
)

// JobKind selects how a job's next tick is computed after it fires.
type JobKind int

const (
	KindCron JobKind = iota
	KindOneShot
	KindRepeated
)

func (k JobKind) String() string {
	switch k {
	case KindCron:
		return "cron"
	case KindOneShot:
		return "one_shot"
	case KindRepeated:
		return "repeated"
	default:
		return "unknown"
	}
}

// JobState is a lifecycle event a notification can be armed for.
type JobState int

const (
	StateScheduled JobState = iota
	StateStarted
	StateDone
	StateStop
	StateRemoved
)

// AllStates lists every JobState in declaration order.
var AllStates = []JobState{StateScheduled, StateStarted, StateDone, StateStop, StateRemoved}

func (s JobState) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateStarted:
		return "started"
	case StateDone:
		return "done"
	case StateStop:
		return "stop"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

func (s JobState) Valid() bool {
	return s >= StateScheduled && s <= StateRemoved
}

// JobRecord is the persisted part of a job. Tick fields are unix seconds and
// zero means absent.
type JobRecord struct {
	ID              uuid.UUID `json:"id"`
	Kind            JobKind   `json:"kind"`
	Schedule        string    `json:"schedule,omitempty"`
	IntervalSeconds uint64    `json:"interval_seconds,omitempty"`
	Repeating       bool      `json:"repeating"`
	NextTick        int64     `json:"next_tick"`
	LastTick        int64     `json:"last_tick,omitempty"`
	FireCount       uint32    `json:"fire_count"`
	HasFired        bool      `json:"has_fired"`
	Stopped         bool      `json:"stopped"`
	TZOffsetSeconds int32     `json:"tz_offset_seconds"`
	Payload         []byte    `json:"payload,omitempty"`
	LastUpdated     int64     `json:"last_updated,omitempty"`
}

// Finished reports whether the record has no next tick and is due for removal.
func (r JobRecord) Finished() bool {
	return r.NextTick == 0
}

// NextTickTime returns the next tick as a time, false when absent.
func (r JobRecord) NextTickTime() (time.Time, bool) {
	if r.NextTick == 0 {
		return time.Time{}, false
	}
	return time.Unix(r.NextTick, 0).UTC(), true
}

func (r JobRecord) LastTickTime() (time.Time, bool) {
	if r.LastTick == 0 {
		return time.Time{}, false
	}
	return time.Unix(r.LastTick, 0).UTC(), true
}

func (r JobRecord) Projection() DueProjection {
	return DueProjection{
		ID:       r.ID,
		Kind:     r.Kind,
		NextTick: r.NextTick,
		LastTick: r.LastTick,
		Stopped:  r.Stopped,
	}
}

// Clone returns a deep copy.
func (r JobRecord) Clone() JobRecord {
	r.Payload = slices.Clone(r.Payload)
	return r
}

// DueProjection is the slice of a JobRecord the tick loop needs to decide
// whether a job is due.
type DueProjection struct {
	ID       uuid.UUID
	Kind     JobKind
	NextTick int64
	LastTick int64
	Stopped  bool
}

// NotificationRecord arms one callback for a set of lifecycle states of a job.
type NotificationRecord struct {
	ID      uuid.UUID  `json:"id"`
	JobID   uuid.UUID  `json:"job_id"`
	States  []JobState `json:"states"`
	Payload []byte     `json:"payload,omitempty"`
}

func (n NotificationRecord) HasState(state JobState) bool {
	return slices.Contains(n.States, state)
}

func (n NotificationRecord) Clone() NotificationRecord {
	n.States = slices.Clone(n.States)
	n.Payload = slices.Clone(n.Payload)
	return n
}

// JobFunc is the function signature for scheduled jobs.
type JobFunc func(ctx context.Context, jobID uuid.UUID) error

// JobMiddleware wraps a JobFunc to add cross-cutting concerns.
type JobMiddleware func(next JobFunc) JobFunc

// Executable is the in-memory, never persisted, code of a job.
type Executable struct {
	Run   JobFunc
	Async bool
}

// NotificationFunc is invoked when a job reaches a state a notification is
// armed for.
type NotificationFunc func(ctx context.Context, jobID, notificationID uuid.UUID, state JobState)

// Schedulable is anything the scheduler can add: a record plus its code.
type Schedulable interface {
	Record() JobRecord
	Executable() Executable
}

// MarkFired records a fire: both ticks, HasFired, a FireCount bump and the
// update time.
func (r *JobRecord) MarkFired(next, last, updated int64) {
	r.NextTick = next
	r.LastTick = last
	r.HasFired = true
	r.FireCount = NextFireCount(r.FireCount)
	r.LastUpdated = updated
}

// NextFireCount adds one, wrapping to zero past the uint32 maximum.
func NextFireCount(count uint32) uint32 {
	if count == math.MaxUint32 {
		return 0
	}
	return count + 1
}
