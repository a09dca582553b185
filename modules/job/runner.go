package job

import (
	"context"
	"sync"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/logger"
	"github.com/Deepreo/jobscheduler/modules/bus"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runner executes jobs on activation and reports Started and Done.
type Runner struct {
	bus  *bus.Context
	code core.JobCode
	log  *zap.Logger

	mu          sync.RWMutex
	middlewares []core.JobMiddleware
}

func NewRunner(ctx *bus.Context, code core.JobCode, log *zap.Logger) *Runner {
	return &Runner{
		bus:  ctx,
		code: code,
		log:  logger.OrNop(log).Named("job_runner"),
	}
}

// Use appends middlewares wrapping every execution, outermost first.
func (r *Runner) Use(middleware ...core.JobMiddleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = append(r.middlewares, middleware...)
}

func (r *Runner) applyMiddlewares(fn core.JobFunc) core.JobFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := fn
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		chain = r.middlewares[i](chain)
	}
	return chain
}

func (r *Runner) Start(ctx context.Context) {
	sub := r.bus.JobActivation.Subscribe()
	go bus.Consume(ctx, sub, r.handle)
}

func (r *Runner) handle(ctx context.Context, id uuid.UUID) {
	exec, found := r.code.Get(id)
	r.bus.Lifecycle.Publish(bus.LifecycleEvent{JobID: id, State: core.StateStarted})

	if !found || exec.Run == nil {
		r.log.Warn("no code registered for activated job", zap.Stringer(logger.FieldJobID, id))
		r.bus.Lifecycle.Publish(bus.LifecycleEvent{JobID: id, State: core.StateDone})
		return
	}

	run := r.applyMiddlewares(exec.Run)
	if exec.Async {
		go r.execute(ctx, id, run)
		return
	}
	r.execute(ctx, id, run)
}

func (r *Runner) execute(ctx context.Context, id uuid.UUID, run core.JobFunc) {
	defer r.bus.Lifecycle.Publish(bus.LifecycleEvent{JobID: id, State: core.StateDone})
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("job panicked", zap.Stringer(logger.FieldJobID, id), zap.Any("panic", p))
		}
	}()

	if err := run(ctx, id); err != nil {
		r.log.Error("job failed", zap.Stringer(logger.FieldJobID, id), zap.Error(err))
	}
}
