package servers

import (
	"context"
	"time"

	"github.com/Deepreo/jobscheduler/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type jobRequest struct {
	ID string `params:"id"`
}

func (r *jobRequest) Validate() error {
	if _, err := uuid.Parse(r.ID); err != nil {
		return errors.ValidationError(errors.Wrap(err, "invalid job id")).WithMetadata("id", r.ID)
	}
	return nil
}

// jobID is only called after Validate.
func (r *jobRequest) jobID() uuid.UUID {
	return uuid.MustParse(r.ID)
}

// TickResponse describes a wait or an instant; both are null when there is
// nothing scheduled.
type TickResponse struct {
	Scheduled bool       `json:"scheduled"`
	At        *time.Time `json:"at,omitempty"`
	InSeconds *float64   `json:"in_seconds,omitempty"`
}

type JobResponse struct {
	ID string `json:"id"`
}

func (s *AdminServer) routes() {
	newJobRequest := func() any { return &jobRequest{} }

	s.Register(fiber.MethodGet, "/health", s.health, func() any { return nil })
	s.Register(fiber.MethodGet, "/jobs/next", s.timeTillNextJob, func() any { return nil })
	s.Register(fiber.MethodGet, "/jobs/:id/next-tick", s.nextTick, newJobRequest)
	s.Register(fiber.MethodDelete, "/jobs/:id", s.removeJob, newJobRequest)
	s.Register(fiber.MethodPost, "/jobs/:id/stop", s.stopJob, newJobRequest)
	s.Register(fiber.MethodPost, "/jobs/:id/resume", s.resumeJob, newJobRequest)
}

func (s *AdminServer) health(ctx context.Context, _ any) (any, error) {
	if _, _, err := s.scheduler.TimeTillNextJob(ctx); err != nil {
		return nil, err
	}
	return fiber.Map{"status": "ok"}, nil
}

func (s *AdminServer) timeTillNextJob(ctx context.Context, _ any) (any, error) {
	wait, ok, err := s.scheduler.TimeTillNextJob(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return TickResponse{}, nil
	}
	seconds := wait.Seconds()
	return TickResponse{Scheduled: true, InSeconds: &seconds}, nil
}

func (s *AdminServer) nextTick(ctx context.Context, req any) (any, error) {
	r := req.(*jobRequest)
	at, ok, err := s.scheduler.NextTickForJob(ctx, r.jobID())
	if err != nil {
		return nil, err
	}
	if !ok {
		return TickResponse{}, nil
	}
	return TickResponse{Scheduled: true, At: &at}, nil
}

func (s *AdminServer) removeJob(ctx context.Context, req any) (any, error) {
	r := req.(*jobRequest)
	if err := s.scheduler.Remove(ctx, r.jobID()); err != nil {
		return nil, err
	}
	return JobResponse{ID: r.ID}, nil
}

func (s *AdminServer) stopJob(ctx context.Context, req any) (any, error) {
	r := req.(*jobRequest)
	if err := s.scheduler.StopJob(ctx, r.jobID()); err != nil {
		return nil, err
	}
	return JobResponse{ID: r.ID}, nil
}

func (s *AdminServer) resumeJob(ctx context.Context, req any) (any, error) {
	r := req.(*jobRequest)
	if err := s.scheduler.ResumeJob(ctx, r.jobID()); err != nil {
		return nil, err
	}
	return JobResponse{ID: r.ID}, nil
}
