package job

import (
	"context"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/logger"
	"github.com/Deepreo/jobscheduler/modules/bus"
	"go.uber.org/zap"
)

// Creator stores new jobs and registers their code.
type Creator struct {
	bus      *bus.Context
	metadata core.MetadataStore
	code     core.JobCode
	clock    core.Clock
	log      *zap.Logger
}

func NewCreator(ctx *bus.Context, metadata core.MetadataStore, code core.JobCode, clock core.Clock, log *zap.Logger) *Creator {
	return &Creator{
		bus:      ctx,
		metadata: metadata,
		code:     code,
		clock:    clock,
		log:      logger.OrNop(log).Named("job_creator"),
	}
}

// Start subscribes before returning, so requests published afterwards are
// seen, and serves them until ctx ends.
func (c *Creator) Start(ctx context.Context) {
	sub := c.bus.JobCreate.Subscribe()
	go bus.Consume(ctx, sub, c.handle)
}

func (c *Creator) handle(ctx context.Context, req bus.JobCreateRequest) {
	rec := req.Record
	rec.LastUpdated = c.clock().Unix()

	// Code goes in first so an activation racing the store write finds it.
	// A request without code updates the record and keeps the registered code.
	withCode := req.Exec.Run != nil
	if withCode {
		c.code.Put(rec.ID, req.Exec)
	}

	var err error
	if storeErr := c.metadata.AddOrUpdate(ctx, rec); storeErr != nil {
		if withCode {
			c.code.Delete(rec.ID)
		}
		err = storeErr
		if !errors.Is(err, errors.ErrCantAdd) {
			err = errors.Store(errors.ErrCantAdd, storeErr)
		}
		c.log.Error("failed to store job", zap.Stringer(logger.FieldJobID, rec.ID), zap.Error(err))
	} else {
		c.log.Debug("job stored",
			zap.Stringer(logger.FieldJobID, rec.ID),
			zap.Stringer("kind", rec.Kind),
			zap.Int64("next_tick", rec.NextTick),
		)
	}

	res := bus.JobResult{CorrelationID: req.CorrelationID, ID: rec.ID, Err: err}
	bus.Answer(req.Reply, res)
	c.bus.JobCreated.Publish(res)
}
