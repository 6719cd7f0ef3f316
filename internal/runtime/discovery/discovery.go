// Package discovery extracts job handler descriptors from a set of components.
package discovery

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/drblury/jobflow/internal/runtime/annotation"
	errspkg "github.com/drblury/jobflow/internal/runtime/errors"
	"github.com/drblury/jobflow/internal/runtime/jobs"
)

// Container supplies every registered component.
type Container interface {
	Components() []any
}

// Components is a Container backed by a slice.
type Components []any

// Components returns c.
func (c Components) Components() []any { return c }

// Descriptor identifies one discovered handler. Method is empty for
// components that handle their topic as a whole.
type Descriptor struct {
	Component     any
	ComponentName string
	Method        string
	Topic         string
	Worker        annotation.Worker
	Invoke        jobs.HandlerFunc
}

// Name returns "Component" or "Component.Method".
func (d Descriptor) Name() string {
	if d.Method == "" {
		return d.ComponentName
	}
	return d.ComponentName + "." + d.Method
}

var (
	jobClientType   = reflect.TypeOf((*jobs.JobClient)(nil)).Elem()
	activatedJobTyp = reflect.TypeOf(jobs.ActivatedJob{})
	errorType       = reflect.TypeOf((*error)(nil)).Elem()
)

type descriptorKey struct {
	identity any
	method   string
	topic    string
}

// Discover returns one descriptor per handler found in container, in
// container order and then by method name. Methods whose signature does not
// fit a job handler are skipped. A declaration naming a missing method or
// lacking a job type is an error.
func Discover(container Container) ([]Descriptor, error) {
	if container == nil {
		return nil, nil
	}

	var (
		out  []Descriptor
		seen = make(map[descriptorKey]struct{})
	)
	add := func(d Descriptor) {
		if id, ok := identity(d.Component); ok {
			key := descriptorKey{identity: id, method: d.Method, topic: d.Topic}
			if _, dup := seen[key]; dup {
				return
			}
			seen[key] = struct{}{}
		}
		out = append(out, d)
	}

	for _, component := range container.Components() {
		if component == nil {
			continue
		}

		d, ok, err := componentDescriptor(component)
		if err != nil {
			return nil, err
		}
		if ok {
			add(d)
		}

		methods, err := methodDescriptors(component)
		if err != nil {
			return nil, err
		}
		for _, d := range methods {
			add(d)
		}
	}

	return out, nil
}

func componentDescriptor(component any) (Descriptor, bool, error) {
	declared, ok := component.(annotation.ComponentWorker)
	if !ok {
		return Descriptor{}, false, nil
	}
	handler, ok := component.(jobs.Handler)
	if !ok {
		return Descriptor{}, false, nil
	}

	worker := declared.JobWorker()
	name := componentName(component)
	if worker.Type == "" {
		return Descriptor{}, false, &errspkg.AnnotationError{Component: name, Reason: "job type is empty"}
	}

	return Descriptor{
		Component:     component,
		ComponentName: name,
		Topic:         worker.Type,
		Worker:        worker,
		Invoke:        handler.Handle,
	}, true, nil
}

func methodDescriptors(component any) ([]Descriptor, error) {
	declared, ok := component.(annotation.MethodWorkers)
	if !ok {
		return nil, nil
	}

	workers := declared.JobWorkers()
	names := make([]string, 0, len(workers))
	for name := range workers {
		names = append(names, name)
	}
	sort.Strings(names)

	value := reflect.ValueOf(component)
	componentTypeName := componentName(component)

	var out []Descriptor
	for _, name := range names {
		worker := workers[name]
		method := value.MethodByName(name)
		if !method.IsValid() {
			return nil, &errspkg.AnnotationError{Component: componentTypeName, Method: name, Reason: "method not found"}
		}
		if !isHandlerSignature(method.Type()) {
			continue
		}
		if worker.Type == "" {
			return nil, &errspkg.AnnotationError{Component: componentTypeName, Method: name, Reason: "job type is empty"}
		}

		out = append(out, Descriptor{
			Component:     component,
			ComponentName: componentTypeName,
			Method:        name,
			Topic:         worker.Type,
			Worker:        worker,
			Invoke:        bindMethod(method),
		})
	}
	return out, nil
}

// isHandlerSignature accepts func(C, J) and func(C, J) error where a job
// client can be passed as C and an activated job as J.
func isHandlerSignature(t reflect.Type) bool {
	if t.Kind() != reflect.Func || t.IsVariadic() || t.NumIn() != 2 {
		return false
	}
	if !jobClientType.AssignableTo(t.In(0)) || !activatedJobTyp.AssignableTo(t.In(1)) {
		return false
	}
	switch t.NumOut() {
	case 0:
		return true
	case 1:
		return t.Out(0) == errorType
	default:
		return false
	}
}

// bindMethod adapts a handler method to jobs.HandlerFunc. An error returned
// by the method fails the job with one retry less: clients implementing
// jobs.ErrorReporter settle it themselves, others are asked to fail it and
// a failure to do so panics.
func bindMethod(method reflect.Value) jobs.HandlerFunc {
	clientParam := method.Type().In(0)
	jobParam := method.Type().In(1)
	returnsError := method.Type().NumOut() == 1

	return func(client jobs.JobClient, job jobs.ActivatedJob) {
		clientArg := reflect.Zero(clientParam)
		if client != nil {
			clientArg = reflect.ValueOf(client)
		}
		jobArg := reflect.New(jobParam).Elem()
		jobArg.Set(reflect.ValueOf(job))

		out := method.Call([]reflect.Value{clientArg, jobArg})
		if !returnsError || out[0].IsNil() || client == nil {
			return
		}
		err := out[0].Interface().(error)
		if reporter, ok := client.(jobs.ErrorReporter); ok {
			reporter.ReportError(job, err)
			return
		}
		if failErr := client.Fail(job.Context(), job, job.Retries-1, err.Error()); failErr != nil {
			panic(fmt.Errorf("fail job %s after handler error %q: %w", job.Key, err, failErr))
		}
	}
}

func componentName(component any) string {
	return fmt.Sprintf("%T", component)
}

// identity returns a comparable key for component so that the same instance
// listed twice yields one descriptor.
func identity(component any) (any, bool) {
	v := reflect.ValueOf(component)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return identityKey{typ: v.Type(), ptr: v.Pointer()}, true
	}
	if v.Comparable() {
		return component, true
	}
	return nil, false
}

type identityKey struct {
	typ reflect.Type
	ptr uintptr
}
