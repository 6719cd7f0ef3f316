package client

import (
	"context"

	errspkg "github.com/drblury/jobflow/internal/runtime/errors"
	"github.com/drblury/jobflow/internal/runtime/jobs"
)

// jobClient settles jobs through the active job bound to their context.
type jobClient struct{}

var (
	_ jobs.JobClient     = jobClient{}
	_ jobs.ErrorReporter = jobClient{}
)

// Complete acknowledges the job and publishes variables as its result.
func (jobClient) Complete(ctx context.Context, job jobs.ActivatedJob, variables map[string]any) error {
	a := activeJobFrom(job.Context())
	if a == nil {
		return errspkg.ErrJobNotActive
	}
	return a.complete(ctx, variables)
}

// Fail queues the job again with retries left or reports an incident when
// retries is zero or less.
func (jobClient) Fail(ctx context.Context, job jobs.ActivatedJob, retries int, errorMessage string) error {
	a := activeJobFrom(job.Context())
	if a == nil {
		return errspkg.ErrJobNotActive
	}
	return a.fail(ctx, retries, errorMessage)
}

// ReportError records the error a handler returned. The job is failed with
// one retry less when the handler returns without settling it.
func (jobClient) ReportError(job jobs.ActivatedJob, err error) {
	if a := activeJobFrom(job.Context()); a != nil {
		a.reportError(err)
	}
}
