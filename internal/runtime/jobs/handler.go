package jobs

import "context"

// JobClient settles activated jobs. It is handed to every handler invocation.
type JobClient interface {
	// Complete marks the job done and publishes the supplied variables as its result.
	Complete(ctx context.Context, job ActivatedJob, variables map[string]any) error
	// Fail reports a failure. With retries above zero the job is queued again
	// with the new retry count, otherwise it is reported as an incident.
	Fail(ctx context.Context, job ActivatedJob, retries int, errorMessage string) error
}

// ErrorReporter is implemented by job clients that settle a job from the
// error its handler returned, once the handler is done.
type ErrorReporter interface {
	ReportError(job ActivatedJob, err error)
}

// Handler is implemented by components that handle every job of one topic.
type Handler interface {
	Handle(client JobClient, job ActivatedJob)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(client JobClient, job ActivatedJob)

// Handle calls f(client, job).
func (f HandlerFunc) Handle(client JobClient, job ActivatedJob) {
	f(client, job)
}
