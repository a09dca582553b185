package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Scheduler error taxonomy. Every error returned by the scheduler, its actors
// and its stores matches one of these with Is.
var (
	ErrParseSchedule                = crdb.New("could not parse schedule")
	ErrJobTypeNotSet                = crdb.New("job type not set")
	ErrRunNotSet                    = crdb.New("run function not set")
	ErrScheduleNotSet               = crdb.New("schedule not set")
	ErrNoNextTick                   = crdb.New("job has no next tick")
	ErrTickError                    = crdb.New("scheduler tick loop error")
	ErrCantAdd                      = crdb.New("can not add")
	ErrCantRemove                   = crdb.New("can not remove")
	ErrGetJobData                   = crdb.New("can not get job data")
	ErrUpdateJobData                = crdb.New("can not update job data")
	ErrCantListGuids                = crdb.New("can not list ids")
	ErrCantListNextTicks            = crdb.New("can not list next ticks")
	ErrCouldNotGetTimeUntilNextTick = crdb.New("could not get time until next tick")
	ErrCantInit                     = crdb.New("can not init")
	ErrBuilderNeedsField            = crdb.New("builder needs field")
	ErrShutdown                     = crdb.New("scheduler is shut down")
	ErrNotInitialized               = crdb.New("scheduler is not initialized")
	ErrNotFound                     = crdb.New("not found")
	ErrClosed                       = crdb.New("closed")
)

var codes = map[error]string{
	ErrParseSchedule:                "SCHED_PARSE_SCHEDULE",
	ErrJobTypeNotSet:                "SCHED_JOB_TYPE_NOT_SET",
	ErrRunNotSet:                    "SCHED_RUN_NOT_SET",
	ErrScheduleNotSet:               "SCHED_SCHEDULE_NOT_SET",
	ErrNoNextTick:                   "SCHED_NO_NEXT_TICK",
	ErrTickError:                    "SCHED_TICK_ERROR",
	ErrCantAdd:                      "SCHED_CANT_ADD",
	ErrCantRemove:                   "SCHED_CANT_REMOVE",
	ErrGetJobData:                   "SCHED_GET_JOB_DATA",
	ErrUpdateJobData:                "SCHED_UPDATE_JOB_DATA",
	ErrCantListGuids:                "SCHED_CANT_LIST_GUIDS",
	ErrCantListNextTicks:            "SCHED_CANT_LIST_NEXT_TICKS",
	ErrCouldNotGetTimeUntilNextTick: "SCHED_TIME_UNTIL_NEXT_TICK",
	ErrCantInit:                     "SCHED_CANT_INIT",
	ErrBuilderNeedsField:            "SCHED_BUILDER_NEEDS_FIELD",
	ErrShutdown:                     "SCHED_SHUTDOWN",
	ErrNotInitialized:               "SCHED_NOT_INITIALIZED",
	ErrNotFound:                     "SCHED_NOT_FOUND",
	ErrClosed:                       "SCHED_CLOSED",
}

// CodeOf returns the code of the first taxonomy sentinel err matches, or "".
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var extendErr *ExtendError
	if crdb.As(err, &extendErr) && extendErr.Code != "" {
		return extendErr.Code
	}
	for sentinel, code := range codes {
		if crdb.Is(err, sentinel) {
			return code
		}
	}
	return ""
}

func classify(sentinel, cause error, level ErrorLevel) *ExtendError {
	var err error
	if cause == nil {
		err = crdb.WithStackDepth(sentinel, 2)
	} else {
		err = crdb.Mark(crdb.Wrap(cause, sentinel.Error()), sentinel)
	}
	return &ExtendError{
		Level:      level,
		Err:        err,
		Code:       codes[sentinel],
		StackTrace: captureStackTrace(crdb.WithStackDepth(err, 2)),
	}
}

// Store reports a storage backend failure.
func Store(sentinel, cause error) *ExtendError {
	return classify(sentinel, cause, ERR_INFRASTRUCTURE)
}

// Builder reports a job or notification built without a required part.
func Builder(sentinel error) *ExtendError {
	return classify(sentinel, nil, ERR_VALIDATION)
}

func BuilderNeedsField(name string) *ExtendError {
	return classify(ErrBuilderNeedsField, crdb.Newf("field %q is required", name), ERR_VALIDATION).
		WithMetadata("field", name)
}

func ParseSchedule(expr string, cause error) *ExtendError {
	return classify(ErrParseSchedule, cause, ERR_VALIDATION).WithMetadata("schedule", expr)
}

// Tick reports a tick loop or tick state machine failure. A nil cause yields
// the bare sentinel.
func Tick(sentinel, cause error) *ExtendError {
	return classify(sentinel, cause, ERR_DOMAIN)
}

// Lifecycle reports misuse of the scheduler lifecycle (not initialised, shut
// down, closed).
func Lifecycle(sentinel error) *ExtendError {
	return classify(sentinel, nil, ERR_APPLICATION)
}

// NotFound reports a job or notification that does not exist.
func NotFound(what string) *ExtendError {
	return classify(ErrNotFound, crdb.Newf("%s not found", what), ERR_DOMAIN)
}
