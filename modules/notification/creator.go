package notification

import (
	"context"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/logger"
	"github.com/Deepreo/jobscheduler/modules/bus"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Creator stores notifications and registers their callbacks. Creating a
// notification whose id already exists arms the union of both state sets.
type Creator struct {
	bus   *bus.Context
	store core.NotificationStore
	code  core.NotificationCode
	log   *zap.Logger
}

func NewCreator(ctx *bus.Context, store core.NotificationStore, code core.NotificationCode, log *zap.Logger) *Creator {
	return &Creator{
		bus:   ctx,
		store: store,
		code:  code,
		log:   logger.OrNop(log).Named("notification_creator"),
	}
}

func (c *Creator) Start(ctx context.Context) {
	sub := c.bus.NotifyCreate.Subscribe()
	go bus.Consume(ctx, sub, c.handle)
}

func (c *Creator) handle(ctx context.Context, req bus.NotifyCreateRequest) {
	rec := req.Record.Clone()
	res := bus.NotifyResult{CorrelationID: req.CorrelationID, ID: rec.ID}

	existing, err := c.store.Get(ctx, rec.ID)
	if err != nil {
		res.Err = errors.Store(errors.ErrCantAdd, err)
		c.finish(req, res)
		return
	}
	if existing != nil {
		rec.States = lo.Union(existing.States, rec.States)
		if rec.Payload == nil {
			rec.Payload = existing.Payload
		}
	}

	_, hadCode := c.code.Get(rec.ID)
	if req.Callback != nil {
		c.code.Put(rec.ID, req.Callback)
	}
	if err := c.store.AddOrUpdate(ctx, rec); err != nil {
		if req.Callback != nil && !hadCode {
			c.code.Delete(rec.ID)
		}
		res.Err = err
		if !errors.Is(err, errors.ErrCantAdd) {
			res.Err = errors.Store(errors.ErrCantAdd, err)
		}
	} else {
		c.log.Debug("notification stored",
			zap.Stringer(logger.FieldNotificationID, rec.ID),
			zap.Stringer(logger.FieldJobID, rec.JobID),
			zap.Stringers(logger.FieldState, rec.States),
		)
	}
	c.finish(req, res)
}

func (c *Creator) finish(req bus.NotifyCreateRequest, res bus.NotifyResult) {
	if res.Err != nil {
		c.log.Error("failed to store notification",
			zap.Stringer(logger.FieldNotificationID, res.ID),
			zap.Error(res.Err),
		)
	}
	bus.Answer(req.Reply, res)
	c.bus.NotifyCreated.Publish(res)
}
