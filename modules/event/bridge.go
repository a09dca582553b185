package event

import (
	"context"
	"time"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/logger"
	"github.com/Deepreo/jobscheduler/modules/bus"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const JobLifecycleEventName = "job.lifecycle"

// JobLifecycleEvent is the exported form of a bus lifecycle event.
type JobLifecycleEvent struct {
	ID         string    `json:"id"`
	JobID      uuid.UUID `json:"job_id"`
	State      string    `json:"state"`
	StateCode  int       `json:"state_code"`
	OccurredAt time.Time `json:"occurred_at"`
}

var _ core.Event = (*JobLifecycleEvent)(nil)

func (e *JobLifecycleEvent) EventID() string       { return e.ID }
func (e *JobLifecycleEvent) EventName() string     { return JobLifecycleEventName }
func (e *JobLifecycleEvent) OccurredOn() time.Time { return e.OccurredAt }

// Bridge forwards every lifecycle event of a bus.Context to an EventBus.
type Bridge struct {
	bus    *bus.Context
	events core.EventBus
	clock  core.Clock
	log    *zap.Logger
}

func NewBridge(ctx *bus.Context, events core.EventBus, log *zap.Logger) *Bridge {
	return &Bridge{
		bus:    ctx,
		events: events,
		clock:  time.Now,
		log:    logger.OrNop(log).Named("lifecycle_bridge"),
	}
}

func (b *Bridge) Start(ctx context.Context) {
	sub := b.bus.Lifecycle.Subscribe()
	go bus.Consume(ctx, sub, b.forward)
}

func (b *Bridge) forward(ctx context.Context, ev bus.LifecycleEvent) {
	out := &JobLifecycleEvent{
		ID:         uuid.NewString(),
		JobID:      ev.JobID,
		State:      ev.State.String(),
		StateCode:  int(ev.State),
		OccurredAt: b.clock().UTC(),
	}
	if err := b.events.Publish(ctx, out); err != nil {
		b.log.Warn("failed to export lifecycle event",
			zap.Stringer(logger.FieldJobID, ev.JobID),
			zap.String(logger.FieldState, out.State),
			zap.Error(err),
		)
	}
}
