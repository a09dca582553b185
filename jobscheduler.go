// Package jobscheduler schedules cron, one-shot and repeated jobs over a
// pluggable store, and notifies callbacks as jobs move through their
// lifecycle.
package jobscheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/logger"
	"github.com/Deepreo/jobscheduler/modules/bus"
	"github.com/Deepreo/jobscheduler/modules/code"
	"github.com/Deepreo/jobscheduler/modules/job"
	"github.com/Deepreo/jobscheduler/modules/notification"
	"github.com/Deepreo/jobscheduler/modules/scheduler"
	"github.com/Deepreo/jobscheduler/modules/store"
	"github.com/Deepreo/jobscheduler/modules/store/memory"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type options struct {
	log          *zap.Logger
	clock        core.Clock
	tickInterval time.Duration
	stopTimeout  time.Duration
	capacity     int
	middlewares  []core.JobMiddleware
}

type Option func(*options)

func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithClock replaces the clock of the tick loop and of the actors.
func WithClock(clock core.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(o *options) { o.tickInterval = d }
}

func WithStopTimeout(d time.Duration) Option {
	return func(o *options) { o.stopTimeout = d }
}

// WithTopicCapacity sets the per-subscriber buffer of every bus topic.
func WithTopicCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

func WithMiddleware(middleware ...core.JobMiddleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, middleware...) }
}

// actor serves one bus topic until its context ends.
type actor interface {
	Start(ctx context.Context)
}

type initState int

const (
	stateUninit initState = iota
	stateInitializing
	stateReady
)

// JobScheduler wires stores, code registries and actors around one
// bus.Context and drives them with a Ticker.
type JobScheduler struct {
	opts options
	log  *zap.Logger

	metadata         core.MetadataStore
	notifications    core.NotificationStore
	jobCode          core.JobCode
	notificationCode core.NotificationCode

	bus    *bus.Context
	ticker *scheduler.Ticker
	runner *job.Runner
	actors []actor

	// lifetime outlives the calls that start things; it ends on Shutdown.
	lifetime context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	state   initState
	initing chan struct{}
	initErr error

	shutdown     atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
	handlerMu    sync.Mutex
	onShutdown   func(ctx context.Context)

	closers []func() error
}

var _ core.Scheduler = (*JobScheduler)(nil)

// New creates a scheduler on the in-memory stores.
func New(opts ...Option) *JobScheduler {
	jobCode := code.NewJobRegistry()
	notificationCode := code.NewNotificationRegistry()
	s := NewWithStorageAndCode(memory.NewMetadataStore(), memory.NewNotificationStore(), jobCode, notificationCode, opts...)
	s.closers = append(s.closers, closeRegistry(jobCode), closeRegistry(notificationCode))
	return s
}

// NewWithStorageAndCode creates a scheduler on caller-owned backends.
func NewWithStorageAndCode(
	metadata core.MetadataStore,
	notifications core.NotificationStore,
	jobCode core.JobCode,
	notificationCode core.NotificationCode,
	opts ...Option,
) *JobScheduler {
	o := options{
		clock:        time.Now,
		tickInterval: scheduler.DefaultInterval,
		stopTimeout:  scheduler.DefaultStopTimeout,
		capacity:     bus.DefaultCapacity,
	}
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.OrNop(o.log)

	b := bus.NewContext(o.capacity)
	lifetime, cancel := context.WithCancel(context.Background())

	s := &JobScheduler{
		opts:             o,
		log:              log.Named("scheduler"),
		metadata:         metadata,
		notifications:    notifications,
		jobCode:          jobCode,
		notificationCode: notificationCode,
		bus:              b,
		lifetime:         lifetime,
		cancel:           cancel,
	}

	s.runner = job.NewRunner(b, jobCode, log)
	s.runner.Use(o.middlewares...)
	s.actors = []actor{
		job.NewCreator(b, metadata, jobCode, o.clock, log),
		job.NewDeleter(b, metadata, jobCode, log),
		s.runner,
		notification.NewCreator(b, notifications, notificationCode, log),
		notification.NewDeleter(b, notifications, notificationCode, log),
		notification.NewRunner(b, notifications, notificationCode, log),
	}
	s.ticker = scheduler.NewTicker(b, metadata,
		scheduler.WithInterval(o.tickInterval),
		scheduler.WithStopTimeout(o.stopTimeout),
		scheduler.WithClock(o.clock),
		scheduler.WithLogger(log),
	)
	return s
}

// NewFromConfig opens the configured store and creates a scheduler on it.
// Options override the values taken from cfg.
func NewFromConfig(ctx context.Context, cfg Config, opts ...Option) (*JobScheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, errors.ValidationError(err)
	}
	backend, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	jobCode := code.NewJobRegistry()
	notificationCode := code.NewNotificationRegistry()
	base := []Option{
		WithLogger(log),
		WithTickInterval(cfg.TickInterval),
		WithStopTimeout(cfg.StopTimeout),
		WithTopicCapacity(cfg.TopicCapacity),
	}
	s := NewWithStorageAndCode(backend.Metadata, backend.Notifications, jobCode, notificationCode, append(base, opts...)...)
	s.closers = append(s.closers, closeRegistry(jobCode), closeRegistry(notificationCode), backend.Close)
	return s, nil
}

func closeRegistry[F any](r *code.Registry[F]) func() error {
	return func() error {
		r.Close()
		return nil
	}
}

// Init initialises the stores and starts the actors. It runs once; callers
// arriving while it runs wait for its outcome. A failed Init can be retried.
func (s *JobScheduler) Init(ctx context.Context) error {
	if s.shutdown.Load() {
		return errors.Lifecycle(errors.ErrShutdown)
	}

	s.mu.Lock()
	switch s.state {
	case stateReady:
		s.mu.Unlock()
		return nil
	case stateInitializing:
		wait := s.initing
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.initErr
	}
	s.state = stateInitializing
	s.initing = make(chan struct{})
	s.mu.Unlock()

	err := s.init(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.initErr = err
	if err != nil {
		s.state = stateUninit
	} else {
		s.state = stateReady
	}
	close(s.initing)
	return err
}

func (s *JobScheduler) init(ctx context.Context) error {
	if err := s.metadata.Init(ctx); err != nil {
		return normalize(errors.ErrCantInit, err)
	}
	if err := s.notifications.Init(ctx); err != nil {
		return normalize(errors.ErrCantInit, err)
	}
	for _, a := range s.actors {
		a.Start(s.lifetime)
	}
	s.log.Info("scheduler initialised")
	return nil
}

func (s *JobScheduler) ready(ctx context.Context) error {
	if s.shutdown.Load() {
		return errors.Lifecycle(errors.ErrShutdown)
	}
	return s.Init(ctx)
}

// Start begins ticking. Jobs added earlier fire from now on; a second Start
// fails with ErrTickError.
func (s *JobScheduler) Start(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.ticker.Start(s.lifetime)
}

// SetShutdownHandler registers fn to run once during Shutdown, after ticking
// stopped.
func (s *JobScheduler) SetShutdownHandler(fn func(ctx context.Context)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.onShutdown = fn
}

// Shutdown stops the tick loop, runs the shutdown handler and closes the bus.
// Executions already running are not interrupted. Later calls return the
// first call's result.
func (s *JobScheduler) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdown.Store(true)
		s.shutdownErr = s.stop(ctx)
	})
	return s.shutdownErr
}

func (s *JobScheduler) stop(ctx context.Context) error {
	err := s.ticker.Shutdown(ctx)

	s.handlerMu.Lock()
	handler := s.onShutdown
	s.handlerMu.Unlock()
	if handler != nil {
		handler(ctx)
	}

	s.bus.Close()
	s.cancel()
	for _, closer := range s.closers {
		if closeErr := closer(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	s.log.Info("scheduler shut down")
	return err
}

// Add stores job and registers its code. The returned id is the job's.
func (s *JobScheduler) Add(ctx context.Context, j core.Schedulable) (uuid.UUID, error) {
	if err := s.ready(ctx); err != nil {
		return uuid.Nil, err
	}
	rec := j.Record()
	exec := j.Executable()
	if exec.Run == nil {
		return uuid.Nil, errors.Builder(errors.ErrRunNotSet)
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return s.putJob(ctx, rec, exec)
}

func (s *JobScheduler) putJob(ctx context.Context, rec core.JobRecord, exec core.Executable) (uuid.UUID, error) {
	res, err := bus.Request(ctx, s.bus.JobCreate, func(cid uuid.UUID, reply chan<- bus.JobResult) bus.JobCreateRequest {
		return bus.JobCreateRequest{CorrelationID: cid, Record: rec, Exec: exec, Reply: reply}
	})
	if err != nil {
		return uuid.Nil, err
	}
	if res.Err != nil {
		return uuid.Nil, res.Err
	}
	return res.ID, nil
}

// Remove deletes a job, its code and its notifications. Callbacks armed for
// Removed run once.
func (s *JobScheduler) Remove(ctx context.Context, id uuid.UUID) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := bus.Request(ctx, s.bus.JobDelete, func(cid uuid.UUID, reply chan<- bus.JobResult) bus.JobDeleteRequest {
		return bus.JobDeleteRequest{CorrelationID: cid, ID: id, Reply: reply}
	})
	if err != nil {
		return err
	}
	return res.Err
}

// StopJob keeps the job stored but skips it on every tick until ResumeJob.
func (s *JobScheduler) StopJob(ctx context.Context, id uuid.UUID) error {
	if err := s.setStopped(ctx, id, true); err != nil {
		return err
	}
	s.bus.Lifecycle.Publish(bus.LifecycleEvent{JobID: id, State: core.StateStop})
	return nil
}

func (s *JobScheduler) ResumeJob(ctx context.Context, id uuid.UUID) error {
	return s.setStopped(ctx, id, false)
}

func (s *JobScheduler) setStopped(ctx context.Context, id uuid.UUID, stopped bool) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := s.metadata.SetStopped(ctx, id, stopped); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return errors.NotFound("job").WithMetadata(logger.FieldJobID, id.String())
		}
		return normalize(errors.ErrUpdateJobData, err)
	}
	return nil
}

func (s *JobScheduler) TimeTillNextJob(ctx context.Context) (time.Duration, bool, error) {
	if err := s.ready(ctx); err != nil {
		return 0, false, err
	}
	wait, ok, err := s.metadata.TimeTillNextJob(ctx)
	if err != nil {
		return 0, false, normalize(errors.ErrCouldNotGetTimeUntilNextTick, err)
	}
	return wait, ok, nil
}

// NextTickForJob returns the job's next fire instant in UTC, false when the
// job does not exist or will not fire again.
func (s *JobScheduler) NextTickForJob(ctx context.Context, id uuid.UUID) (time.Time, bool, error) {
	if err := s.ready(ctx); err != nil {
		return time.Time{}, false, err
	}
	rec, err := s.metadata.Get(ctx, id)
	if err != nil {
		return time.Time{}, false, normalize(errors.ErrGetJobData, err)
	}
	if rec == nil {
		return time.Time{}, false, nil
	}
	at, ok := rec.NextTickTime()
	return at, ok, nil
}

// AddNotification arms fn for the given states of a job and returns the new
// notification's id.
func (s *JobScheduler) AddNotification(ctx context.Context, jobID uuid.UUID, fn core.NotificationFunc, states ...core.JobState) (uuid.UUID, error) {
	return s.AddNotificationWithID(ctx, uuid.New(), jobID, fn, states...)
}

// AddNotificationWithID arms fn under a caller-chosen id. An existing
// notification with that id keeps its states and gains the new ones.
func (s *JobScheduler) AddNotificationWithID(ctx context.Context, id, jobID uuid.UUID, fn core.NotificationFunc, states ...core.JobState) (uuid.UUID, error) {
	if fn == nil {
		return uuid.Nil, errors.Builder(errors.ErrRunNotSet)
	}
	if len(states) == 0 {
		return uuid.Nil, errors.BuilderNeedsField("states")
	}
	if invalid, found := lo.Find(states, func(st core.JobState) bool { return !st.Valid() }); found {
		return uuid.Nil, errors.BuilderNeedsField("states").WithMetadata(logger.FieldState, int(invalid))
	}
	if err := s.ready(ctx); err != nil {
		return uuid.Nil, err
	}

	rec := core.NotificationRecord{ID: id, JobID: jobID, States: lo.Uniq(states)}
	res, err := bus.Request(ctx, s.bus.NotifyCreate, func(cid uuid.UUID, reply chan<- bus.NotifyResult) bus.NotifyCreateRequest {
		return bus.NotifyCreateRequest{CorrelationID: cid, Record: rec, Callback: fn, Reply: reply}
	})
	if err != nil {
		return uuid.Nil, err
	}
	if res.Err != nil {
		return uuid.Nil, res.Err
	}
	return res.ID, nil
}

// RemoveNotification disarms the given states, or the whole notification
// when none are given. It reports whether anything was armed; an unknown id is
// not an error.
func (s *JobScheduler) RemoveNotification(ctx context.Context, notificationID uuid.UUID, states ...core.JobState) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	res, err := bus.Request(ctx, s.bus.NotifyDelete, func(cid uuid.UUID, reply chan<- bus.NotifyDeleteResult) bus.NotifyDeleteRequest {
		return bus.NotifyDeleteRequest{CorrelationID: cid, ID: notificationID, States: states, Reply: reply}
	})
	if err != nil {
		return false, err
	}
	return res.Deleted, res.Err
}

func (s *JobScheduler) OnStart(ctx context.Context, jobID uuid.UUID, fn core.NotificationFunc) (uuid.UUID, error) {
	return s.AddNotification(ctx, jobID, fn, core.StateStarted)
}

func (s *JobScheduler) OnDone(ctx context.Context, jobID uuid.UUID, fn core.NotificationFunc) (uuid.UUID, error) {
	return s.AddNotification(ctx, jobID, fn, core.StateDone)
}

func (s *JobScheduler) OnStop(ctx context.Context, jobID uuid.UUID, fn core.NotificationFunc) (uuid.UUID, error) {
	return s.AddNotification(ctx, jobID, fn, core.StateStop)
}

func (s *JobScheduler) OnRemoved(ctx context.Context, jobID uuid.UUID, fn core.NotificationFunc) (uuid.UUID, error) {
	return s.AddNotification(ctx, jobID, fn, core.StateRemoved)
}

// Use wraps every job execution in middleware, outermost first.
func (s *JobScheduler) Use(middleware ...core.JobMiddleware) {
	s.runner.Use(middleware...)
}

// Context exposes the bus, for observers of lifecycle and result topics.
func (s *JobScheduler) Context() *bus.Context {
	return s.bus
}

// normalize marks err with sentinel unless it already matches it.
func normalize(sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return errors.Store(sentinel, err)
}
