package client

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/jobflow/internal/runtime/logging"
)

// JobContext provides information about a job execution to hooks.
type JobContext struct {
	// HandlerName is the component or component method handling the job.
	HandlerName string
	// Topic is the job type the job was fetched for.
	Topic string
	// JobKey identifies the job.
	JobKey string
	// Worker is the worker name the job was activated for.
	Worker string
	// Retries is the number of retries left when the job was activated.
	Retries int
	// Context is the context of the dispatch.
	Context context.Context
	// StartedAt is when the handler was invoked.
	StartedAt time.Time
	// Duration is how long the handler ran (only set in OnJobDone and OnJobError).
	Duration time.Duration
}

// JobHooks defines callbacks for job lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type JobHooks struct {
	// OnJobStart is called before the handler is invoked.
	OnJobStart func(ctx JobContext)

	// OnJobDone is called when the handler completed the job.
	OnJobDone func(ctx JobContext)

	// OnJobError is called when the job was failed, panicked, outlived its
	// lock or was left unsettled.
	OnJobError func(ctx JobContext, err error)
}

// Merge combines two JobHooks, creating a new JobHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chain(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chain(h.OnJobDone, other.OnJobDone),
		OnJobError: chainError(h.OnJobError, other.OnJobError),
	}
}

func chain(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainError(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (ctx JobContext) fields() loggingpkg.LogFields {
	return loggingpkg.LogFields{
		"handler": ctx.HandlerName,
		"topic":   ctx.Topic,
		"job_key": ctx.JobKey,
		"worker":  ctx.Worker,
		"retries": ctx.Retries,
	}
}

// LoggingHooks returns pre-built hooks that log job lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) JobHooks {
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Debug("Job started", ctx.fields())
		},
		OnJobDone: func(ctx JobContext) {
			fields := ctx.fields()
			fields["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Info("Job completed", fields)
		},
		OnJobError: func(ctx JobContext, err error) {
			fields := ctx.fields()
			fields["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Error("Job failed", err, fields)
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on job errors.
func AlertingHooks(alertFunc func(ctx JobContext, err error)) JobHooks {
	return JobHooks{
		OnJobError: alertFunc,
	}
}
