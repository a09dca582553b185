package bus

import (
	"context"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/google/uuid"
)

// Topic names, also used as log and metric labels.
const (
	TopicJobActivation = "job_activation"
	TopicLifecycle     = "lifecycle"
	TopicJobCreate     = "job_create_req"
	TopicJobCreated    = "job_create_result"
	TopicJobDelete     = "job_delete_req"
	TopicJobDeleted    = "job_delete_result"
	TopicNotifyCreate  = "notify_create_req"
	TopicNotifyCreated = "notify_create_result"
	TopicNotifyDelete  = "notify_delete_req"
	TopicNotifyDeleted = "notify_delete_result"
)

// LifecycleEvent announces that a job reached a state.
type LifecycleEvent struct {
	JobID uuid.UUID
	State core.JobState
}

// JobResult is the outcome of a job create or delete request.
type JobResult struct {
	CorrelationID uuid.UUID
	ID            uuid.UUID
	Err           error
}

type JobCreateRequest struct {
	CorrelationID uuid.UUID
	Record        core.JobRecord
	Exec          core.Executable
	Reply         chan<- JobResult
}

type JobDeleteRequest struct {
	CorrelationID uuid.UUID
	ID            uuid.UUID
	Reply         chan<- JobResult
}

// NotifyResult is the outcome of a notification create request.
type NotifyResult struct {
	CorrelationID uuid.UUID
	ID            uuid.UUID
	Err           error
}

type NotifyCreateRequest struct {
	CorrelationID uuid.UUID
	Record        core.NotificationRecord
	Callback      core.NotificationFunc
	Reply         chan<- NotifyResult
}

// NotifyDeleteRequest removes a notification. Empty States removes the whole
// record.
type NotifyDeleteRequest struct {
	CorrelationID uuid.UUID
	ID            uuid.UUID
	States        []core.JobState
	Reply         chan<- NotifyDeleteResult
}

// NotifyDeleteResult reports whether anything was deleted and which states
// were disarmed. States is nil when the whole record was targeted.
type NotifyDeleteResult struct {
	CorrelationID uuid.UUID
	ID            uuid.UUID
	Deleted       bool
	States        []core.JobState
	Err           error
}

// Context is the process-wide bus connecting the scheduler's actors. It lives
// as long as one scheduler instance.
type Context struct {
	JobActivation *Topic[uuid.UUID]
	Lifecycle     *Topic[LifecycleEvent]
	JobCreate     *Topic[JobCreateRequest]
	JobCreated    *Topic[JobResult]
	JobDelete     *Topic[JobDeleteRequest]
	JobDeleted    *Topic[JobResult]
	NotifyCreate  *Topic[NotifyCreateRequest]
	NotifyCreated *Topic[NotifyResult]
	NotifyDelete  *Topic[NotifyDeleteRequest]
	NotifyDeleted *Topic[NotifyDeleteResult]
}

// NewContext creates every topic with the given per-subscriber capacity.
func NewContext(capacity int) *Context {
	return &Context{
		JobActivation: NewTopic[uuid.UUID](TopicJobActivation, capacity),
		Lifecycle:     NewTopic[LifecycleEvent](TopicLifecycle, capacity),
		JobCreate:     NewTopic[JobCreateRequest](TopicJobCreate, capacity),
		JobCreated:    NewTopic[JobResult](TopicJobCreated, capacity),
		JobDelete:     NewTopic[JobDeleteRequest](TopicJobDelete, capacity),
		JobDeleted:    NewTopic[JobResult](TopicJobDeleted, capacity),
		NotifyCreate:  NewTopic[NotifyCreateRequest](TopicNotifyCreate, capacity),
		NotifyCreated: NewTopic[NotifyResult](TopicNotifyCreated, capacity),
		NotifyDelete:  NewTopic[NotifyDeleteRequest](TopicNotifyDelete, capacity),
		NotifyDeleted: NewTopic[NotifyDeleteResult](TopicNotifyDeleted, capacity),
	}
}

// Close closes every topic, ending all actor loops.
func (c *Context) Close() {
	c.JobActivation.Close()
	c.Lifecycle.Close()
	c.JobCreate.Close()
	c.JobCreated.Close()
	c.JobDelete.Close()
	c.JobDeleted.Close()
	c.NotifyCreate.Close()
	c.NotifyCreated.Close()
	c.NotifyDelete.Close()
	c.NotifyDeleted.Close()
}

// Request publishes a request carrying a fresh one-shot reply channel and
// waits for the answer or ctx. build receives the correlation id and the
// reply channel.
func Request[Req, Res any](ctx context.Context, topic *Topic[Req], build func(correlationID uuid.UUID, reply chan<- Res) Req) (Res, error) {
	reply := make(chan Res, 1)
	req := build(uuid.New(), reply)

	var zero Res
	if topic.Publish(req) == 0 {
		return zero, errors.Lifecycle(errors.ErrClosed).WithMetadata("topic", topic.Name())
	}

	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Answer sends res on reply without blocking. Replies are buffered for one.
func Answer[Res any](reply chan<- Res, res Res) {
	if reply == nil {
		return
	}
	select {
	case reply <- res:
	default:
	}
}
