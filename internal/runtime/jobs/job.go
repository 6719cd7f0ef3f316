package jobs

import (
	"context"
	"time"
)

// ActivatedJob is a job locked for exactly one worker until Deadline.
type ActivatedJob struct {
	Key     string
	Type    string
	Worker  string
	Retries int

	// Deadline is when the lock on the job expires. A job that is neither
	// completed nor failed by then is released for another worker.
	Deadline time.Time

	BusinessKey                 string
	ProcessDefinitionID         string
	ProcessDefinitionKey        string
	ProcessDefinitionVersionTag string
	TenantID                    string

	Variables           map[string]any
	ExtensionProperties map[string]string
	CustomHeaders       map[string]string
	CreatedAt           time.Time

	ctx context.Context
}

// Context returns the context of the job's dispatch. It is cancelled when the
// lock expires or the subscription closes.
func (j ActivatedJob) Context() context.Context {
	if j.ctx == nil {
		return context.Background()
	}
	return j.ctx
}

// WithContext returns a copy of the job bound to ctx.
func (j ActivatedJob) WithContext(ctx context.Context) ActivatedJob {
	j.ctx = ctx
	return j
}

// Variable returns a variable fetched with the job.
func (j ActivatedJob) Variable(name string) (any, bool) {
	v, ok := j.Variables[name]
	return v, ok
}

// StringVariable returns a string variable, or "" when missing or not a string.
func (j ActivatedJob) StringVariable(name string) string {
	v, _ := j.Variables[name].(string)
	return v
}

// NewJob describes a job to create on a topic.
type NewJob struct {
	// Retries defaults to DefaultRetries when zero.
	Retries int

	BusinessKey                 string
	ProcessDefinitionID         string
	ProcessDefinitionKey        string
	ProcessDefinitionVersionTag string
	TenantID                    string

	Variables           map[string]any
	LocalVariables      map[string]any
	ExtensionProperties map[string]string
	CustomHeaders       map[string]string

	// TimeToLive overrides the client's default message time to live.
	TimeToLive time.Duration
}

// DefaultRetries is assigned to jobs created without an explicit retry count.
const DefaultRetries = 3
