package notification

import (
	"context"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/logger"
	"github.com/Deepreo/jobscheduler/modules/bus"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runner invokes the callbacks armed for every lifecycle event, each in its
// own goroutine.
type Runner struct {
	bus   *bus.Context
	store core.NotificationStore
	code  core.NotificationCode
	log   *zap.Logger
}

func NewRunner(ctx *bus.Context, store core.NotificationStore, code core.NotificationCode, log *zap.Logger) *Runner {
	return &Runner{
		bus:   ctx,
		store: store,
		code:  code,
		log:   logger.OrNop(log).Named("notification_runner"),
	}
}

func (r *Runner) Start(ctx context.Context) {
	sub := r.bus.Lifecycle.Subscribe()
	go bus.Consume(ctx, sub, r.handle)
}

func (r *Runner) handle(ctx context.Context, ev bus.LifecycleEvent) {
	ids, err := r.store.ListIDsForJobAndState(ctx, ev.JobID, ev.State)
	if err != nil {
		r.log.Error("failed to list notifications",
			zap.Stringer(logger.FieldJobID, ev.JobID),
			zap.Stringer(logger.FieldState, ev.State),
			zap.Error(err),
		)
		return
	}
	for _, cb := range resolve(r.code, ids) {
		go invoke(ctx, r.log, cb, ev.JobID, ev.State)
	}
}

type callback struct {
	id uuid.UUID
	fn core.NotificationFunc
}

func resolve(code core.NotificationCode, ids []uuid.UUID) []callback {
	out := make([]callback, 0, len(ids))
	for _, id := range ids {
		if fn, ok := code.Get(id); ok && fn != nil {
			out = append(out, callback{id: id, fn: fn})
		}
	}
	return out
}

func invoke(ctx context.Context, log *zap.Logger, cb callback, jobID uuid.UUID, state core.JobState) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("notification panicked",
				zap.Stringer(logger.FieldNotificationID, cb.id),
				zap.Stringer(logger.FieldJobID, jobID),
				zap.Any("panic", p),
			)
		}
	}()
	cb.fn(ctx, jobID, cb.id, state)
}
