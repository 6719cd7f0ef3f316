// Package annotation declares the worker attributes that components attach to
// their job handlers.
package annotation

// Worker declares a job handler and its subscription defaults. Only Type is
// required. Durations are ISO-8601 text, and empty text, MaxJobsActive <= 0,
// nil pointers and nil lists all mean "not set". A list holding a single
// empty string is also treated as not set.
type Worker struct {
	// Type is the topic (job type) the handler subscribes to.
	Type string

	LockDuration   string
	RequestTimeout string
	PollInterval   string
	MaxJobsActive  int

	// Name identifies the worker in job results. Defaults to the client's
	// default worker name.
	Name string

	Variables      []string
	LocalVariables *bool

	BusinessKey                 string
	ProcessDefinitionID         string
	ProcessDefinitionIDIn       []string
	ProcessDefinitionKey        string
	ProcessDefinitionKeyIn      []string
	ProcessDefinitionVersionTag string

	WithoutTenantID bool
	TenantIDIn      []string

	IncludeExtensionProperties *bool
}

// ComponentWorker is implemented by components that handle a topic as a
// whole. The component must also implement jobs.Handler.
type ComponentWorker interface {
	JobWorker() Worker
}

// MethodWorkers is implemented by components exposing handler methods. The
// map is keyed by method name. A method qualifies when it takes exactly a
// job client and an activated job and returns nothing or an error.
type MethodWorkers interface {
	JobWorkers() map[string]Worker
}

// Bool returns a pointer to b for the optional flags of Worker.
func Bool(b bool) *bool {
	return &b
}
