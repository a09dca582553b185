package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/logger"
	"github.com/Deepreo/jobscheduler/modules/bus"
	"github.com/Deepreo/jobscheduler/modules/job"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultStopTimeout = 5 * time.Second

	tickJobName = "jobscheduler.tick"
)

type Option func(*Ticker)

func WithInterval(d time.Duration) Option {
	return func(t *Ticker) {
		if d > 0 {
			t.interval = d
		}
	}
}

func WithStopTimeout(d time.Duration) Option {
	return func(t *Ticker) {
		if d > 0 {
			t.stopTimeout = d
		}
	}
}

func WithClock(clock core.Clock) Option {
	return func(t *Ticker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(t *Ticker) {
		t.log = logger.OrNop(log).Named("ticker")
	}
}

// Ticker is the scheduler's heartbeat. Every interval it scans the due
// projections, advances and persists the jobs that must fire, announces them,
// and asks for deletion of finished jobs.
type Ticker struct {
	bus         *bus.Context
	metadata    core.MetadataStore
	clock       core.Clock
	interval    time.Duration
	stopTimeout time.Duration
	log         *zap.Logger

	mu      sync.Mutex
	cron    gocron.Scheduler
	cancel  context.CancelFunc
	started bool

	shutdown atomic.Bool
	spawnMu  sync.Mutex
	inflight sync.WaitGroup

	deletingMu sync.Mutex
	deleting   map[uuid.UUID]struct{}
}

func NewTicker(ctx *bus.Context, metadata core.MetadataStore, opts ...Option) *Ticker {
	t := &Ticker{
		bus:         ctx,
		metadata:    metadata,
		clock:       time.Now,
		interval:    DefaultInterval,
		stopTimeout: DefaultStopTimeout,
		log:         zap.NewNop(),
		deleting:    make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins ticking, first tick immediately. Ticks never overlap: a tick
// still running when the next is due makes gocron reschedule it. A ticker
// starts at most once.
func (t *Ticker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shutdown.Load() {
		return errors.Lifecycle(errors.ErrShutdown)
	}
	if t.started {
		return errors.Tick(errors.ErrTickError, errors.New("ticker already started"))
	}

	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithStopTimeout(t.stopTimeout),
		gocron.WithLogger(logger.Gocron(t.log)),
	)
	if err != nil {
		return errors.Tick(errors.ErrTickError, err)
	}

	tickCtx, cancel := context.WithCancel(ctx)
	_, err = s.NewJob(
		gocron.DurationJob(t.interval),
		gocron.NewTask(func() error {
			return t.Tick(tickCtx, t.clock())
		}),
		gocron.WithName(tickJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithEventListeners(
			gocron.AfterJobRunsWithError(func(_ uuid.UUID, _ string, err error) {
				if !errors.Is(err, errors.ErrShutdown) {
					t.log.Error("tick failed", zap.Error(err))
				}
			}),
		),
	)
	if err != nil {
		cancel()
		_ = s.Shutdown()
		return errors.Tick(errors.ErrTickError, err)
	}

	s.Start()
	t.cron = s
	t.cancel = cancel
	t.started = true
	t.log.Info("ticker started", zap.Duration("interval", t.interval))
	return nil
}

// Shutdown stops ticking and waits for announcements already spawned or ctx.
// Calling it again is a no-op.
func (t *Ticker) Shutdown(ctx context.Context) error {
	if t.shutdown.Swap(true) {
		return nil
	}
	// No spawn can pass its shutdown check once this lock is released.
	t.spawnMu.Lock()
	t.spawnMu.Unlock()

	t.mu.Lock()
	s, cancel := t.cron, t.cancel
	t.mu.Unlock()

	var err error
	if s != nil {
		if shutdownErr := s.Shutdown(); shutdownErr != nil {
			err = errors.Tick(errors.ErrTickError, shutdownErr)
		}
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		t.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	t.log.Info("ticker stopped")
	return err
}

// Tick runs one pass over the due projections at now. Failures of single jobs
// are logged and do not stop the pass.
func (t *Ticker) Tick(ctx context.Context, now time.Time) error {
	if t.shutdown.Load() {
		return errors.Lifecycle(errors.ErrShutdown)
	}

	projections, err := t.metadata.ListDueProjections(ctx)
	if err != nil {
		return errors.Tick(errors.ErrTickError, err)
	}

	nowSec := now.Unix()
	for _, p := range projections {
		switch {
		case p.NextTick == 0:
			t.requestDelete(ctx, p.ID)
		case p.Stopped:
		case job.MustFire(nowSec, p.LastTick, p.NextTick):
			if err := t.fire(ctx, p.ID, now); err != nil {
				t.log.Error("failed to fire job", zap.Stringer(logger.FieldJobID, p.ID), zap.Error(err))
			}
		}
	}
	return nil
}

// fire advances the job and persists the new ticks before announcing it, so
// the next pass never sees the same tick window twice.
func (t *Ticker) fire(ctx context.Context, id uuid.UUID, now time.Time) error {
	rec, err := t.metadata.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	fired, err := job.Advance(rec, now)
	if err != nil || !fired {
		return err
	}
	if err := t.metadata.SetNextAndLastTick(ctx, id, rec.NextTick, rec.LastTick); err != nil {
		return err
	}

	t.log.Debug("job fired",
		zap.Stringer(logger.FieldJobID, id),
		zap.Int64("next_tick", rec.NextTick),
	)
	t.spawn(func() {
		t.bus.Lifecycle.Publish(bus.LifecycleEvent{JobID: id, State: core.StateScheduled})
		t.bus.JobActivation.Publish(id)
	})
	return nil
}

// requestDelete asks the job deleter to remove a finished job. A job whose
// removal is still in flight is not requested again. The wait for an answer
// is bounded by one interval: a request dropped by a full topic is sent again
// by a later pass.
func (t *Ticker) requestDelete(ctx context.Context, id uuid.UUID) {
	t.deletingMu.Lock()
	if _, ok := t.deleting[id]; ok {
		t.deletingMu.Unlock()
		return
	}
	t.deleting[id] = struct{}{}
	t.deletingMu.Unlock()

	release := func() {
		t.deletingMu.Lock()
		delete(t.deleting, id)
		t.deletingMu.Unlock()
	}

	spawned := t.spawn(func() {
		defer release()

		waitCtx, cancel := context.WithTimeout(ctx, t.interval)
		defer cancel()
		res, err := bus.Request(waitCtx, t.bus.JobDelete, func(cid uuid.UUID, reply chan<- bus.JobResult) bus.JobDeleteRequest {
			return bus.JobDeleteRequest{CorrelationID: cid, ID: id, Reply: reply}
		})
		if err == nil {
			err = res.Err
		}
		if err != nil {
			t.log.Warn("failed to delete finished job", zap.Stringer(logger.FieldJobID, id), zap.Error(err))
			return
		}
		t.log.Debug("finished job deleted", zap.Stringer(logger.FieldJobID, id))
	})
	if !spawned {
		release()
	}
}

// spawn runs fn in a tracked goroutine. It refuses once shutdown has begun.
func (t *Ticker) spawn(fn func()) bool {
	t.spawnMu.Lock()
	defer t.spawnMu.Unlock()
	if t.shutdown.Load() {
		return false
	}
	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		fn()
	}()
	return true
}
