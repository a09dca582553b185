package job

import (
	"context"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/logger"
	"github.com/Deepreo/jobscheduler/modules/bus"
	"go.uber.org/zap"
)

// Deleter removes jobs and their code. A successful delete is announced on
// JobDeleted, which cascades to the job's notifications.
type Deleter struct {
	bus      *bus.Context
	metadata core.MetadataStore
	code     core.JobCode
	log      *zap.Logger
}

func NewDeleter(ctx *bus.Context, metadata core.MetadataStore, code core.JobCode, log *zap.Logger) *Deleter {
	return &Deleter{
		bus:      ctx,
		metadata: metadata,
		code:     code,
		log:      logger.OrNop(log).Named("job_deleter"),
	}
}

func (d *Deleter) Start(ctx context.Context) {
	sub := d.bus.JobDelete.Subscribe()
	go bus.Consume(ctx, sub, d.handle)
}

func (d *Deleter) handle(ctx context.Context, req bus.JobDeleteRequest) {
	var err error
	if storeErr := d.metadata.Delete(ctx, req.ID); storeErr != nil {
		err = storeErr
		if !errors.Is(err, errors.ErrCantRemove) {
			err = errors.Store(errors.ErrCantRemove, storeErr)
		}
		d.log.Error("failed to delete job", zap.Stringer(logger.FieldJobID, req.ID), zap.Error(err))
	} else {
		d.code.Delete(req.ID)
		d.log.Debug("job deleted", zap.Stringer(logger.FieldJobID, req.ID))
	}

	res := bus.JobResult{CorrelationID: req.CorrelationID, ID: req.ID, Err: err}
	bus.Answer(req.Reply, res)
	d.bus.JobDeleted.Publish(res)
}
