package job

import (
	"slices"
	"time"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/modules/calculator"
	"github.com/google/uuid"
)

// Builder assembles a Job. Errors are reported by Build.
type Builder struct {
	id       uuid.UUID
	kind     *core.JobKind
	schedule string
	offset   int32
	location *time.Location
	run      core.JobFunc
	async    bool
	interval uint64
	delay    *uint64
	at       *time.Time
	payload  []byte
	clock    core.Clock
}

func NewBuilder() *Builder {
	return &Builder{clock: time.Now}
}

func (b *Builder) WithID(id uuid.UUID) *Builder {
	b.id = id
	return b
}

func (b *Builder) WithKind(kind core.JobKind) *Builder {
	b.kind = &kind
	return b
}

func (b *Builder) WithCronKind() *Builder {
	return b.WithKind(core.KindCron)
}

func (b *Builder) WithOneShotKind() *Builder {
	return b.WithKind(core.KindOneShot)
}

func (b *Builder) WithRepeatedKind() *Builder {
	return b.WithKind(core.KindRepeated)
}

func (b *Builder) WithSchedule(expr string) *Builder {
	b.schedule = expr
	return b
}

// WithTimezone evaluates cron fields at loc's UTC offset as of Build.
func (b *Builder) WithTimezone(loc *time.Location) *Builder {
	b.location = loc
	return b
}

func (b *Builder) WithFixedOffset(seconds int32) *Builder {
	b.location = nil
	b.offset = seconds
	return b
}

func (b *Builder) WithRun(fn core.JobFunc) *Builder {
	b.run = fn
	b.async = false
	return b
}

// WithRunAsync makes the runner execute fn in its own goroutine.
func (b *Builder) WithRunAsync(fn core.JobFunc) *Builder {
	b.run = fn
	b.async = true
	return b
}

// EverySeconds sets the repeat interval; the kind defaults to repeated.
func (b *Builder) EverySeconds(seconds uint64) *Builder {
	b.interval = seconds
	if b.kind == nil {
		b.WithRepeatedKind()
	}
	return b
}

// AfterSeconds sets a one-shot delay; the kind defaults to one-shot.
func (b *Builder) AfterSeconds(seconds uint64) *Builder {
	b.delay = &seconds
	if b.kind == nil {
		b.WithOneShotKind()
	}
	return b
}

// AtInstant fires a one-shot job at t; the kind defaults to one-shot.
func (b *Builder) AtInstant(t time.Time) *Builder {
	b.at = &t
	if b.kind == nil {
		b.WithOneShotKind()
	}
	return b
}

func (b *Builder) WithPayload(payload []byte) *Builder {
	b.payload = slices.Clone(payload)
	return b
}

func (b *Builder) WithClock(clock core.Clock) *Builder {
	if clock != nil {
		b.clock = clock
	}
	return b
}

func (b *Builder) Build() (*Job, error) {
	if b.kind == nil {
		return nil, errors.Builder(errors.ErrJobTypeNotSet)
	}
	if b.run == nil {
		return nil, errors.Builder(errors.ErrRunNotSet)
	}

	now := b.clock()
	id := b.id
	if id == uuid.Nil {
		id = uuid.New()
	}
	rec := core.JobRecord{
		ID:          id,
		Kind:        *b.kind,
		Payload:     b.payload,
		LastUpdated: now.Unix(),
	}

	switch *b.kind {
	case core.KindCron:
		if b.schedule == "" {
			return nil, errors.Builder(errors.ErrScheduleNotSet)
		}
		schedule, err := calculator.Parse(b.schedule)
		if err != nil {
			return nil, err
		}
		offset := b.offset
		if b.location != nil {
			offset = calculator.OffsetOf(b.location, now)
		}
		rec.Schedule = schedule.String()
		rec.TZOffsetSeconds = offset
		rec.Repeating = true
		if next, ok := schedule.After(now, offset); ok {
			rec.NextTick = next.Unix()
		}

	case core.KindOneShot:
		switch {
		case b.at != nil:
			rec.NextTick = b.at.Unix()
		case b.delay != nil:
			rec.IntervalSeconds = *b.delay
			rec.NextTick = now.Unix() + int64(*b.delay)
		default:
			return nil, errors.BuilderNeedsField("delay")
		}
		if rec.NextTick <= 0 {
			return nil, errors.BuilderNeedsField("instant")
		}

	case core.KindRepeated:
		if b.interval == 0 {
			return nil, errors.BuilderNeedsField("interval")
		}
		rec.IntervalSeconds = b.interval
		rec.Repeating = true
		rec.NextTick = now.Unix() + int64(b.interval)

	default:
		return nil, errors.Builder(errors.ErrJobTypeNotSet)
	}

	return &Job{
		record: rec,
		exec:   core.Executable{Run: b.run, Async: b.async},
	}, nil
}

// NewCron builds a job firing on a cron schedule evaluated in UTC.
func NewCron(schedule string, run core.JobFunc) (*Job, error) {
	return NewBuilder().WithCronKind().WithSchedule(schedule).WithRun(run).Build()
}

func NewCronAsync(schedule string, run core.JobFunc) (*Job, error) {
	return NewBuilder().WithCronKind().WithSchedule(schedule).WithRunAsync(run).Build()
}

// NewCronInLocation evaluates the schedule at loc's current UTC offset.
func NewCronInLocation(schedule string, loc *time.Location, run core.JobFunc) (*Job, error) {
	return NewBuilder().WithCronKind().WithSchedule(schedule).WithTimezone(loc).WithRun(run).Build()
}

// NewOneShot builds a job firing once after delay, truncated to seconds.
func NewOneShot(delay time.Duration, run core.JobFunc) (*Job, error) {
	return NewBuilder().AfterSeconds(seconds(delay)).WithRun(run).Build()
}

func NewOneShotAsync(delay time.Duration, run core.JobFunc) (*Job, error) {
	return NewBuilder().AfterSeconds(seconds(delay)).WithRunAsync(run).Build()
}

func NewOneShotAt(at time.Time, run core.JobFunc) (*Job, error) {
	return NewBuilder().AtInstant(at).WithRun(run).Build()
}

func NewOneShotAtAsync(at time.Time, run core.JobFunc) (*Job, error) {
	return NewBuilder().AtInstant(at).WithRunAsync(run).Build()
}

// NewRepeated builds a job firing every interval, truncated to seconds.
func NewRepeated(interval time.Duration, run core.JobFunc) (*Job, error) {
	return NewBuilder().EverySeconds(seconds(interval)).WithRun(run).Build()
}

func NewRepeatedAsync(interval time.Duration, run core.JobFunc) (*Job, error) {
	return NewBuilder().EverySeconds(seconds(interval)).WithRunAsync(run).Build()
}

func seconds(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Second)
}
