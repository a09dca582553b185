package core

import "context"

// Server is a long running network surface started next to the scheduler.
type Server interface {
	Run() error
	Shutdown(ctx context.Context) error
}

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

type BaseResponse[T any] struct {
	Success bool      `json:"success"`
	Data    T         `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}
