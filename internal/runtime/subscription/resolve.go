package subscription

import (
	"errors"
	"fmt"
	"time"

	"github.com/drblury/jobflow/internal/runtime/config"
	"github.com/drblury/jobflow/internal/runtime/discovery"
	errspkg "github.com/drblury/jobflow/internal/runtime/errors"
)

var errNotPositive = config.ErrNotPositive

// Resolve merges the declaration of d with the override configured for its
// topic. Override fields win when present. WithoutTenantID can only be
// switched on. Every malformed or non-positive duration is reported, whether
// declared or overridden.
func Resolve(d discovery.Descriptor, overrides map[string]config.SubscriptionOverride) (Spec, error) {
	w := d.Worker
	spec := Spec{
		Topic:                       d.Topic,
		WorkerName:                  w.Name,
		Variables:                   listOrNil(w.Variables),
		LocalVariables:              w.LocalVariables,
		BusinessKey:                 w.BusinessKey,
		ProcessDefinitionID:         w.ProcessDefinitionID,
		ProcessDefinitionIDIn:       listOrNil(w.ProcessDefinitionIDIn),
		ProcessDefinitionKey:        w.ProcessDefinitionKey,
		ProcessDefinitionKeyIn:      listOrNil(w.ProcessDefinitionKeyIn),
		ProcessDefinitionVersionTag: w.ProcessDefinitionVersionTag,
		WithoutTenantID:             w.WithoutTenantID,
		TenantIDIn:                  listOrNil(w.TenantIDIn),
		IncludeExtensionProperties:  w.IncludeExtensionProperties,
	}
	if w.MaxJobsActive > 0 {
		n := w.MaxJobsActive
		spec.MaxJobsActive = &n
	}

	o, hasOverride := overrides[d.Topic]

	var errs []error
	resolveDuration := func(field, declared, overridden string, target **time.Duration) {
		for _, value := range []string{declared, overridden} {
			parsed, err := config.ParseOptionalDuration(value)
			if err == nil && parsed != nil && *parsed <= 0 {
				err = errNotPositive
			}
			if err != nil {
				errs = append(errs, &errspkg.SubscriptionConfigError{Topic: d.Topic, Field: field, Value: value, Err: err})
				continue
			}
			if parsed != nil {
				*target = parsed
			}
		}
	}

	resolveDuration("lockDuration", w.LockDuration, o.LockDuration, &spec.LockDuration)
	resolveDuration("requestTimeout", w.RequestTimeout, o.RequestTimeout, &spec.RequestTimeout)
	resolveDuration("pollInterval", w.PollInterval, o.PollInterval, &spec.PollInterval)

	if hasOverride {
		if err := applyOverride(&spec, o); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func applyOverride(spec *Spec, o config.SubscriptionOverride) error {
	if o.MaxJobsActive != nil {
		if *o.MaxJobsActive <= 0 {
			return &errspkg.SubscriptionConfigError{
				Topic: spec.Topic,
				Field: "maxJobsActive",
				Value: fmt.Sprint(*o.MaxJobsActive),
				Err:   errNotPositive,
			}
		}
		n := *o.MaxJobsActive
		spec.MaxJobsActive = &n
	}

	overrideString(&spec.WorkerName, o.WorkerName)
	overrideString(&spec.BusinessKey, o.BusinessKey)
	overrideString(&spec.ProcessDefinitionID, o.ProcessDefinitionID)
	overrideString(&spec.ProcessDefinitionKey, o.ProcessDefinitionKey)
	overrideString(&spec.ProcessDefinitionVersionTag, o.ProcessDefinitionVersionTag)

	overrideList(&spec.Variables, o.Variables)
	overrideList(&spec.ProcessDefinitionIDIn, o.ProcessDefinitionIDIn)
	overrideList(&spec.ProcessDefinitionKeyIn, o.ProcessDefinitionKeyIn)
	overrideList(&spec.TenantIDIn, o.TenantIDIn)

	if o.LocalVariables != nil {
		v := *o.LocalVariables
		spec.LocalVariables = &v
	}
	if o.IncludeExtensionProperties != nil {
		v := *o.IncludeExtensionProperties
		spec.IncludeExtensionProperties = &v
	}
	if o.WithoutTenantID {
		spec.WithoutTenantID = true
	}
	return nil
}

// ResolveAll resolves every descriptor. On any failure it returns all errors
// joined and no specs, so that no subscription is opened.
func ResolveAll(descriptors []discovery.Descriptor, overrides map[string]config.SubscriptionOverride) ([]Spec, error) {
	specs := make([]Spec, 0, len(descriptors))
	var errs []error
	for _, d := range descriptors {
		spec, err := Resolve(d, overrides)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		specs = append(specs, spec)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return specs, nil
}

func overrideString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func overrideList(target *[]string, value []string) {
	if v := listOrNil(value); v != nil {
		*target = v
	}
}

// listOrNil treats an empty list and the single empty string sentinel as
// absent, and returns a copy otherwise.
func listOrNil(values []string) []string {
	if len(values) == 0 || (len(values) == 1 && values[0] == "") {
		return nil
	}
	return append([]string(nil), values...)
}
