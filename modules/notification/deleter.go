package notification

import (
	"context"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/logger"
	"github.com/Deepreo/jobscheduler/modules/bus"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deleter disarms notifications on request and removes all notifications of
// a job once the job is deleted.
type Deleter struct {
	bus   *bus.Context
	store core.NotificationStore
	code  core.NotificationCode
	log   *zap.Logger
}

func NewDeleter(ctx *bus.Context, store core.NotificationStore, code core.NotificationCode, log *zap.Logger) *Deleter {
	return &Deleter{
		bus:   ctx,
		store: store,
		code:  code,
		log:   logger.OrNop(log).Named("notification_deleter"),
	}
}

func (d *Deleter) Start(ctx context.Context) {
	requests := d.bus.NotifyDelete.Subscribe()
	deletedJobs := d.bus.JobDeleted.Subscribe()
	go bus.Consume(ctx, requests, d.handle)
	go bus.Consume(ctx, deletedJobs, d.handleJobDeleted)
}

func (d *Deleter) handle(ctx context.Context, req bus.NotifyDeleteRequest) {
	var res bus.NotifyDeleteResult
	if len(req.States) == 0 {
		res = d.deleteRecord(ctx, req.ID)
	} else {
		res = d.deleteStates(ctx, req.ID, req.States)
	}
	res.CorrelationID = req.CorrelationID

	if res.Err != nil {
		d.log.Error("failed to delete notification",
			zap.Stringer(logger.FieldNotificationID, req.ID),
			zap.Error(res.Err),
		)
	}
	bus.Answer(req.Reply, res)
	d.bus.NotifyDeleted.Publish(res)
}

func (d *Deleter) deleteRecord(ctx context.Context, id uuid.UUID) bus.NotifyDeleteResult {
	res := bus.NotifyDeleteResult{ID: id}
	existing, err := d.store.Get(ctx, id)
	if err != nil {
		res.Err = errors.Store(errors.ErrCantRemove, err)
		return res
	}
	if existing == nil {
		return res
	}
	if err := d.store.Delete(ctx, id); err != nil {
		res.Err = errors.Store(errors.ErrCantRemove, err)
		return res
	}
	d.code.Delete(id)
	res.Deleted = true
	return res
}

func (d *Deleter) deleteStates(ctx context.Context, id uuid.UUID, states []core.JobState) bus.NotifyDeleteResult {
	res := bus.NotifyDeleteResult{ID: id, States: []core.JobState{}}
	for _, state := range states {
		removed, err := d.store.DeleteForState(ctx, id, state)
		if err != nil {
			res.Err = errors.Store(errors.ErrCantRemove, err).WithMetadata(logger.FieldState, state.String())
			return res
		}
		if removed {
			res.States = append(res.States, state)
		}
	}
	res.Deleted = len(res.States) > 0

	if res.Deleted {
		left, err := d.store.Get(ctx, id)
		if err != nil {
			res.Err = errors.Store(errors.ErrGetJobData, err)
			return res
		}
		if left == nil {
			d.code.Delete(id)
		}
	}
	return res
}

// handleJobDeleted runs the Removed callbacks of a deleted job itself, after
// its notifications are gone, and then announces Removed. The runner finds
// nothing armed for it by then, so no callback runs twice.
func (d *Deleter) handleJobDeleted(ctx context.Context, res bus.JobResult) {
	if res.Err != nil {
		return
	}
	jobID := res.ID
	log := d.log.With(zap.Stringer(logger.FieldJobID, jobID))

	removedIDs, err := d.store.ListIDsForJobAndState(ctx, jobID, core.StateRemoved)
	if err != nil {
		log.Error("failed to list removed notifications", zap.Error(err))
	}
	callbacks := resolve(d.code, removedIDs)

	all, err := d.store.ListIDsForJob(ctx, jobID)
	if err != nil {
		log.Error("failed to list job notifications", zap.Error(err))
	}
	if err := d.store.DeleteForJob(ctx, jobID); err != nil {
		log.Error("failed to delete job notifications", zap.Error(errors.Store(errors.ErrCantRemove, err)))
	}
	for _, id := range all {
		d.code.Delete(id)
	}
	log.Debug("job notifications deleted", zap.Int(logger.FieldCount, len(all)))

	for _, cb := range callbacks {
		go invoke(ctx, d.log, cb, jobID, core.StateRemoved)
	}
	d.bus.Lifecycle.Publish(bus.LifecycleEvent{JobID: jobID, State: core.StateRemoved})
}
