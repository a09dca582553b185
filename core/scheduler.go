package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Scheduler is the public contract of the job scheduler facade.
type Scheduler interface {
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Add(ctx context.Context, job Schedulable) (uuid.UUID, error)
	Remove(ctx context.Context, id uuid.UUID) error
	StopJob(ctx context.Context, id uuid.UUID) error
	ResumeJob(ctx context.Context, id uuid.UUID) error
	TimeTillNextJob(ctx context.Context) (time.Duration, bool, error)
	NextTickForJob(ctx context.Context, id uuid.UUID) (time.Time, bool, error)
	AddNotification(ctx context.Context, jobID uuid.UUID, fn NotificationFunc, states ...JobState) (uuid.UUID, error)
	RemoveNotification(ctx context.Context, notificationID uuid.UUID, states ...JobState) (bool, error)
	Use(middleware ...JobMiddleware)
}
