package job

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/modules/bus"
	"github.com/Deepreo/jobscheduler/modules/code"
	"github.com/Deepreo/jobscheduler/modules/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type failingMetadata struct {
	*memory.MetadataStore
}

func (f failingMetadata) AddOrUpdate(ctx context.Context, record core.JobRecord) error {
	return errors.New("disk full")
}

func (f failingMetadata) Delete(ctx context.Context, id uuid.UUID) error {
	return errors.New("disk full")
}

type harness struct {
	bus      *bus.Context
	metadata core.MetadataStore
	code     *code.Registry[core.Executable]
	ctx      context.Context
}

func newHarness(t *testing.T, metadata core.MetadataStore) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		bus:      bus.NewContext(bus.DefaultCapacity),
		metadata: metadata,
		code:     code.NewJobRegistry(),
		ctx:      ctx,
	}
	t.Cleanup(func() {
		cancel()
		h.bus.Close()
		h.code.Close()
	})
	log := zaptest.NewLogger(t)
	NewCreator(h.bus, metadata, h.code, fixedClock(time.Unix(42, 0)), log).Start(ctx)
	NewDeleter(h.bus, metadata, h.code, log).Start(ctx)
	return h
}

func (h *harness) create(t *testing.T, rec core.JobRecord, exec core.Executable) bus.JobResult {
	t.Helper()
	res, err := bus.Request(h.ctx, h.bus.JobCreate, func(cid uuid.UUID, reply chan<- bus.JobResult) bus.JobCreateRequest {
		return bus.JobCreateRequest{CorrelationID: cid, Record: rec, Exec: exec, Reply: reply}
	})
	require.NoError(t, err)
	return res
}

func (h *harness) remove(t *testing.T, id uuid.UUID) bus.JobResult {
	t.Helper()
	res, err := bus.Request(h.ctx, h.bus.JobDelete, func(cid uuid.UUID, reply chan<- bus.JobResult) bus.JobDeleteRequest {
		return bus.JobDeleteRequest{CorrelationID: cid, ID: id, Reply: reply}
	})
	require.NoError(t, err)
	return res
}

func receive[T any](t *testing.T, sub *bus.Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	var zero T
	return zero
}

func TestCreatorStoresRecordAndCode(t *testing.T) {
	h := newHarness(t, memory.NewMetadataStore())
	created := h.bus.JobCreated.Subscribe()

	j, err := NewRepeated(10*time.Second, noop)
	require.NoError(t, err)

	res := h.create(t, j.Record(), j.Executable())
	require.NoError(t, res.Err)
	assert.Equal(t, j.ID(), res.ID)

	observed := receive(t, created)
	assert.Equal(t, res.CorrelationID, observed.CorrelationID)

	rec, err := h.metadata.Get(h.ctx, j.ID())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(42), rec.LastUpdated)
	assert.Equal(t, j.Record().NextTick, rec.NextTick)

	_, ok := h.code.Get(j.ID())
	assert.True(t, ok)
}

func TestCreatorStoreFailure(t *testing.T) {
	h := newHarness(t, failingMetadata{memory.NewMetadataStore()})

	j, err := NewOneShot(time.Minute, noop)
	require.NoError(t, err)

	res := h.create(t, j.Record(), j.Executable())
	require.Error(t, res.Err)
	assert.True(t, errors.Is(res.Err, errors.ErrCantAdd))
	assert.Equal(t, "SCHED_CANT_ADD", errors.CodeOf(res.Err))

	_, ok := h.code.Get(j.ID())
	assert.False(t, ok, "code is rolled back with the failed write")
}

func TestDeleterRemovesRecordAndCode(t *testing.T) {
	h := newHarness(t, memory.NewMetadataStore())
	deleted := h.bus.JobDeleted.Subscribe()

	j, err := NewOneShot(time.Minute, noop)
	require.NoError(t, err)
	require.NoError(t, h.create(t, j.Record(), j.Executable()).Err)

	res := h.remove(t, j.ID())
	require.NoError(t, res.Err)
	assert.Equal(t, j.ID(), receive(t, deleted).ID)

	rec, err := h.metadata.Get(h.ctx, j.ID())
	require.NoError(t, err)
	assert.Nil(t, rec)
	_, ok := h.code.Get(j.ID())
	assert.False(t, ok)
}

func TestDeleterStoreFailure(t *testing.T) {
	h := newHarness(t, failingMetadata{memory.NewMetadataStore()})
	id := uuid.New()
	h.code.Put(id, core.Executable{Run: noop})

	res := h.remove(t, id)
	assert.True(t, errors.Is(res.Err, errors.ErrCantRemove))

	_, ok := h.code.Get(id)
	assert.True(t, ok, "code survives a failed delete")
}

func TestRequestWithoutActor(t *testing.T) {
	ctx := bus.NewContext(bus.DefaultCapacity)
	defer ctx.Close()

	_, err := bus.Request(context.Background(), ctx.JobCreate, func(cid uuid.UUID, reply chan<- bus.JobResult) bus.JobCreateRequest {
		return bus.JobCreateRequest{CorrelationID: cid, Reply: reply}
	})
	assert.True(t, errors.Is(err, errors.ErrClosed))
}

func newRunnerHarness(t *testing.T) (*bus.Context, *code.Registry[core.Executable], *Runner, *bus.Subscription[bus.LifecycleEvent]) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	b := bus.NewContext(bus.DefaultCapacity)
	registry := code.NewJobRegistry()
	t.Cleanup(func() {
		cancel()
		b.Close()
		registry.Close()
	})
	lifecycle := b.Lifecycle.Subscribe()
	r := NewRunner(b, registry, zaptest.NewLogger(t))
	r.Start(ctx)
	return b, registry, r, lifecycle
}

func TestRunnerPublishesStartedAndDone(t *testing.T) {
	b, registry, _, lifecycle := newRunnerHarness(t)

	var runs atomic.Int32
	id := uuid.New()
	registry.Put(id, core.Executable{Run: func(ctx context.Context, jobID uuid.UUID) error {
		assert.Equal(t, id, jobID)
		runs.Add(1)
		return nil
	}})

	b.JobActivation.Publish(id)

	assert.Equal(t, bus.LifecycleEvent{JobID: id, State: core.StateStarted}, receive(t, lifecycle))
	assert.Equal(t, bus.LifecycleEvent{JobID: id, State: core.StateDone}, receive(t, lifecycle))
	assert.Equal(t, int32(1), runs.Load())
}

func TestRunnerWithoutCode(t *testing.T) {
	b, _, _, lifecycle := newRunnerHarness(t)
	id := uuid.New()

	b.JobActivation.Publish(id)

	assert.Equal(t, core.StateStarted, receive(t, lifecycle).State)
	assert.Equal(t, core.StateDone, receive(t, lifecycle).State)
}

func TestRunnerFailuresStillFinish(t *testing.T) {
	b, registry, _, lifecycle := newRunnerHarness(t)

	failing := uuid.New()
	registry.Put(failing, core.Executable{Run: func(context.Context, uuid.UUID) error {
		return errors.New("boom")
	}})
	panicking := uuid.New()
	registry.Put(panicking, core.Executable{Run: func(context.Context, uuid.UUID) error {
		panic("boom")
	}})

	for _, id := range []uuid.UUID{failing, panicking} {
		b.JobActivation.Publish(id)
		assert.Equal(t, bus.LifecycleEvent{JobID: id, State: core.StateStarted}, receive(t, lifecycle))
		assert.Equal(t, bus.LifecycleEvent{JobID: id, State: core.StateDone}, receive(t, lifecycle))
	}
}

func TestRunnerAsyncDoesNotBlock(t *testing.T) {
	b, registry, _, lifecycle := newRunnerHarness(t)

	release := make(chan struct{})
	slow := uuid.New()
	registry.Put(slow, core.Executable{Async: true, Run: func(context.Context, uuid.UUID) error {
		<-release
		return nil
	}})
	fast := uuid.New()
	registry.Put(fast, core.Executable{Run: noop})

	b.JobActivation.Publish(slow)
	b.JobActivation.Publish(fast)

	assert.Equal(t, bus.LifecycleEvent{JobID: slow, State: core.StateStarted}, receive(t, lifecycle))
	assert.Equal(t, bus.LifecycleEvent{JobID: fast, State: core.StateStarted}, receive(t, lifecycle))
	assert.Equal(t, bus.LifecycleEvent{JobID: fast, State: core.StateDone}, receive(t, lifecycle))

	close(release)
	assert.Equal(t, bus.LifecycleEvent{JobID: slow, State: core.StateDone}, receive(t, lifecycle))
}

func TestRunnerMiddlewareOrder(t *testing.T) {
	b, registry, r, lifecycle := newRunnerHarness(t)

	var order []string
	tag := func(name string) core.JobMiddleware {
		return func(next core.JobFunc) core.JobFunc {
			return func(ctx context.Context, id uuid.UUID) error {
				order = append(order, name)
				return next(ctx, id)
			}
		}
	}
	r.Use(tag("outer"), tag("inner"))

	id := uuid.New()
	registry.Put(id, core.Executable{Run: func(context.Context, uuid.UUID) error {
		order = append(order, "job")
		return nil
	}})
	b.JobActivation.Publish(id)
	receive(t, lifecycle)
	receive(t, lifecycle)

	assert.Equal(t, []string{"outer", "inner", "job"}, order)
}
