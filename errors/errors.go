package errors

import (
	"fmt"
	"strings"

	crdb "github.com/cockroachdb/errors"
)

type ErrorLevel string

func (e ErrorLevel) String() string {
	return string(e)
}

const (
	ERR_INFRASTRUCTURE ErrorLevel = "infrastructure"
	ERR_APPLICATION    ErrorLevel = "application"
	ERR_DOMAIN         ErrorLevel = "domain"
	ERR_VALIDATION     ErrorLevel = "validation"
	ERR_UNKNOWN        ErrorLevel = "unknown"
)

type ExtendError struct {
	Level      ErrorLevel     `json:"level"`
	Err        error          `json:"error"`
	Code       string         `json:"code,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	StackTrace string         `json:"-"`
}

func (e *ExtendError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	msg := e.Err.Error()
	if e.Code != "" {
		msg = fmt.Sprintf("[%s] %s", e.Code, msg)
	}
	return msg
}

func (e *ExtendError) Unwrap() error {
	return e.Err
}

func (e *ExtendError) WithCode(code string) *ExtendError {
	e.Code = code
	return e
}

func (e *ExtendError) WithMetadata(key string, value any) *ExtendError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

func New(message string) error {
	return crdb.New(message)
}

func Newf(format string, args ...any) error {
	return crdb.Newf(format, args...)
}

func Wrap(err error, message string) error {
	return crdb.Wrap(err, message)
}

// Mark returns err tagged so that Is(result, reference) holds while the
// original cause stays reachable.
func Mark(err, reference error) error {
	return crdb.Mark(err, reference)
}

func Is(err, reference error) bool {
	return crdb.Is(err, reference)
}

func IsExtendError(err error) bool {
	var extendErr *ExtendError
	return crdb.As(err, &extendErr)
}

func As(err error, target any) bool {
	return crdb.As(err, target)
}

// captureStackTrace renders the innermost stack attached to err, innermost
// frame first.
func captureStackTrace(err error) string {
	st := crdb.GetReportableStackTrace(err)
	if st == nil {
		return ""
	}
	var sb strings.Builder
	for i := len(st.Frames) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "%s:%d\n", st.Frames[i].AbsPath, st.Frames[i].Lineno)
	}
	return sb.String()
}

func wrap(err error, level ErrorLevel) *ExtendError {
	var existing *ExtendError
	if crdb.As(err, &existing) {
		return existing
	}
	return &ExtendError{
		Level:      level,
		Err:        err,
		StackTrace: captureStackTrace(crdb.WithStackDepth(err, 2)),
	}
}

func InfraError(err error) *ExtendError {
	return wrap(err, ERR_INFRASTRUCTURE)
}

func AppError(err error) *ExtendError {
	return wrap(err, ERR_APPLICATION)
}

func DomainError(err error) *ExtendError {
	return wrap(err, ERR_DOMAIN)
}

func ValidationError(err error) *ExtendError {
	return wrap(err, ERR_VALIDATION)
}

func UnknownError(err error) *ExtendError {
	return wrap(err, ERR_UNKNOWN)
}

func getErrorLevel(err *ExtendError) ErrorLevel {
	if err == nil {
		return ERR_UNKNOWN
	}
	return err.Level
}

func GetLevel(err error) ErrorLevel {
	var extendErr *ExtendError
	if crdb.As(err, &extendErr) {
		return getErrorLevel(extendErr)
	}
	return ERR_UNKNOWN
}

func IsInfraError(err *ExtendError) bool {
	return getErrorLevel(err) == ERR_INFRASTRUCTURE
}
func IsAppError(err *ExtendError) bool {
	return getErrorLevel(err) == ERR_APPLICATION
}
func IsDomainError(err *ExtendError) bool {
	return getErrorLevel(err) == ERR_DOMAIN
}

func IsValidationError(err *ExtendError) bool {
	return getErrorLevel(err) == ERR_VALIDATION
}
func IsUnknownError(err *ExtendError) bool {
	return getErrorLevel(err) == ERR_UNKNOWN
}
