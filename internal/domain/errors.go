package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidKind      = errors.New("invalid task kind")
	ErrNotFound         = errors.New("task not found")
	ErrForbidden        = errors.New("task belongs to another owner")
	ErrNotCancellable   = errors.New("task is not cancellable")
	ErrCancelled        = errors.New("task cancelled")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrTemplateNotFound = errors.New("report template not found")
)

// ErrorKind tags an error at the point it is raised so callers can decide
// between retrying, failing and degrading without inspecting messages.
type ErrorKind string

const (
	ErrKindValidation   ErrorKind = "validation"
	ErrKindTimeout      ErrorKind = "timeout"
	ErrKindRateLimited  ErrorKind = "rate_limited"
	ErrKindUnavailable  ErrorKind = "unavailable"
	ErrKindMalformed    ErrorKind = "malformed"
	ErrKindUnauthorized ErrorKind = "unauthorized"
	ErrKindQualityLow   ErrorKind = "quality_low"
	ErrKindPersistence  ErrorKind = "persistence"
	ErrKindCancelled    ErrorKind = "cancelled"
	ErrKindUnknown      ErrorKind = "unknown"
)

type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func E(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op string, format string, args ...any) error {
	return &Error{Kind: ErrKindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

func Persistence(op string, err error) error {
	return &Error{Kind: ErrKindPersistence, Op: op, Err: err}
}

// KindOf returns the kind of the outermost tagged error in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ErrKindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrKindTimeout
	case errors.Is(err, ErrTemplateNotFound):
		return ErrKindValidation
	}
	return ErrKindUnknown
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case ErrKindTimeout, ErrKindRateLimited, ErrKindUnavailable:
		return true
	}
	return false
}

func IsCancelled(err error) bool {
	return KindOf(err) == ErrKindCancelled
}

// IsPermanent reports whether err must fail the task without another attempt.
func IsPermanent(err error) bool {
	return err != nil && !IsTransient(err) && !IsCancelled(err)
}
