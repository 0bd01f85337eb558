package domain

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every error that rejects a request before a job
// is created.
var ErrValidation = errors.New("validation failed")

var (
	ErrInvalidURL             = fmt.Errorf("%w: invalid URL", ErrValidation)
	ErrUnsupportedPlatform    = fmt.Errorf("%w: platform not supported", ErrValidation)
	ErrInvalidMediaType       = fmt.Errorf("%w: media type must be video or audio", ErrValidation)
	ErrInvalidQuality         = fmt.Errorf("%w: invalid quality", ErrValidation)
	ErrInvalidCredential      = fmt.Errorf("%w: cookie file is not a valid cookie jar", ErrValidation)
	ErrBrowserCookiesDisabled = fmt.Errorf("%w: browser cookies are disabled", ErrValidation)
)

var (
	ErrQueueFull         = errors.New("queue is full")
	ErrJobNotFound       = errors.New("job not found")
	ErrNotReady          = errors.New("job is not ready")
	ErrAlreadyClaimed    = errors.New("file is already being retrieved")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// FailureKind classifies why a job failed.
type FailureKind string

const (
	FailureSpawn             FailureKind = "spawn"
	FailureTimeout           FailureKind = "timeout"
	FailureContentAccess     FailureKind = "content_access"
	FailureFormatUnavailable FailureKind = "format_unavailable"
	FailureTransient         FailureKind = "transient"
	FailureOutputMissing     FailureKind = "output_missing"
	FailureInternal          FailureKind = "internal"
)

// Recoverable reports whether a fallback chain may continue after this kind.
func (k FailureKind) Recoverable() bool {
	switch k {
	case FailureFormatUnavailable, FailureTransient, FailureTimeout:
		return true
	}
	return false
}

// Normalized client messages for failures not described by a policy rule.
const (
	MsgTimeout    = "the download took too long and was stopped"
	MsgGeneric    = "the download could not be completed"
	MsgSpawn      = "the download tool is not available on the server"
	MsgNoArtifact = "the download finished but produced no file"
	MsgInternal   = "internal error"
)

// JobError is a failure raised while a job runs. Message is safe to show to
// clients; Err keeps the raw cause for operators.
type JobError struct {
	Kind    FailureKind
	Message string
	Err     error
}

// NewJobError creates a JobError.
func NewJobError(kind FailureKind, message string, err error) *JobError {
	return &JobError{Kind: kind, Message: message, Err: err}
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// AsJobError returns err as a JobError, wrapping unknown errors as internal.
func AsJobError(err error) *JobError {
	if err == nil {
		return nil
	}
	var je *JobError
	if errors.As(err, &je) {
		return je
	}
	return NewJobError(FailureInternal, MsgInternal, err)
}
