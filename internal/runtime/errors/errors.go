package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired          = sterrors.New("jobflow: client config is required")
	ErrLoggerRequired          = sterrors.New("jobflow: logger is required")
	ErrClientRequired          = sterrors.New("jobflow: job client is required")
	ErrHandlerRequired         = sterrors.New("jobflow: job handler is required")
	ErrTopicRequired           = sterrors.New("jobflow: topic is required")
	ErrPartialCloudCredentials = sterrors.New("jobflow: cluster id, client id and client secret must be set together")
	ErrClientClosed            = sterrors.New("jobflow: job client is closed")
	ErrSubscriptionOpen        = sterrors.New("jobflow: subscription is already open")
	ErrJobNotActive            = sterrors.New("jobflow: job is not active on this worker")
	ErrJobLockExpired          = sterrors.New("jobflow: job lock expired before it was settled")
	ErrJobAlreadySettled       = sterrors.New("jobflow: job was already completed or failed")
	ErrUnknownTransport        = sterrors.New("jobflow: unknown transport")
	ErrPendingCountUnsupported = sterrors.New("jobflow: transport cannot count pending jobs")
)

// DurationError reports a duration setting that is not a valid ISO-8601 duration.
type DurationError struct {
	Field string
	Value string
	Err   error
}

func (e *DurationError) Error() string {
	return fmt.Sprintf("jobflow: %s: invalid ISO-8601 duration %q: %v", e.Field, e.Value, e.Err)
}

func (e *DurationError) Unwrap() error { return e.Err }

// SubscriptionConfigError is returned when the declared or overridden settings of a
// topic cannot be resolved. Startup aborts before any subscription is opened.
type SubscriptionConfigError struct {
	Topic string
	Field string
	Value string
	Err   error
}

func (e *SubscriptionConfigError) Error() string {
	return fmt.Sprintf("jobflow: invalid subscription configuration for topic %q: %s=%q: %v", e.Topic, e.Field, e.Value, e.Err)
}

func (e *SubscriptionConfigError) Unwrap() error { return e.Err }

// AnnotationError is returned when a component declares a worker that cannot be read.
type AnnotationError struct {
	Component string
	Method    string
	Reason    string
}

func (e *AnnotationError) Error() string {
	target := e.Component
	if e.Method != "" {
		target += "." + e.Method
	}
	return fmt.Sprintf("jobflow: invalid worker declaration on %s: %s", target, e.Reason)
}

// ConfigValidationError wraps the joined problems found while validating a client config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "jobflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
