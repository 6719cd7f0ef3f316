package runtime

import (
	"context"
	"fmt"

	clientpkg "github.com/drblury/jobflow/internal/runtime/client"
	"github.com/drblury/jobflow/internal/runtime/discovery"
	errspkg "github.com/drblury/jobflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/jobflow/internal/runtime/logging"
	"github.com/drblury/jobflow/internal/runtime/subscription"
)

// SubscriptionState tracks how far a discovered handler got during startup.
// States only move forward.
type SubscriptionState string

const (
	StateUnregistered        SubscriptionState = "unregistered"
	StateDescriptorExtracted SubscriptionState = "descriptor-extracted"
	StateSpecResolved        SubscriptionState = "spec-resolved"
	StateOpened              SubscriptionState = "opened"
)

// SubscriptionInfo describes the registration of one handler.
type SubscriptionInfo struct {
	Name      string
	Component string
	Method    string
	Topic     string
	State     SubscriptionState

	// Spec is the resolved configuration. Zero until StateSpecResolved.
	Spec subscription.Spec

	// Subscription is set once the state is StateOpened.
	Subscription *clientpkg.Subscription
}

func newSubscriptionInfo(d discovery.Descriptor) SubscriptionInfo {
	return SubscriptionInfo{
		Name:      d.Name(),
		Component: d.ComponentName,
		Method:    d.Method,
		Topic:     d.Topic,
		State:     StateDescriptorExtracted,
	}
}

// Registrar opens one subscription per resolved handler on a shared client.
type Registrar struct {
	client *clientpkg.Client
	logger loggingpkg.ServiceLogger
}

// NewRegistrar returns a Registrar opening subscriptions on c.
func NewRegistrar(c *clientpkg.Client, logger loggingpkg.ServiceLogger) (*Registrar, error) {
	if c == nil {
		return nil, errspkg.ErrClientRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	return &Registrar{client: c, logger: logger}, nil
}

// Register opens the subscription of d configured by spec. A descriptor
// without a job type is skipped with a warning and reported in the
// spec-resolved state.
func (r *Registrar) Register(ctx context.Context, d discovery.Descriptor, spec subscription.Spec) (SubscriptionInfo, error) {
	info := newSubscriptionInfo(d)
	info.State = StateSpecResolved
	info.Spec = spec

	topic := spec.Topic
	if topic == "" {
		topic = d.Topic
	}
	fields := loggingpkg.LogFields{
		"topic":     topic,
		"component": d.ComponentName,
		"method":    d.Method,
	}
	if topic == "" {
		r.logger.Warn("Skipping subscription, no job type declared", fields)
		return info, nil
	}
	if d.Invoke == nil {
		return info, fmt.Errorf("register %s: %w", d.Name(), errspkg.ErrHandlerRequired)
	}

	builder := r.client.NewSubscription(topic).
		HandlerName(d.Name()).
		Handler(d.Invoke)
	applySpec(builder, spec)

	sub, err := builder.Open(ctx)
	if err != nil {
		return info, fmt.Errorf("open subscription for topic %q: %w", topic, err)
	}

	info.Topic = topic
	info.State = StateOpened
	info.Subscription = sub
	r.logger.Info("Job worker subscribed to topic", fields)
	return info, nil
}

// applySpec copies every field present in spec onto b. Absent fields keep the
// client defaults.
func applySpec(b *clientpkg.SubscriptionBuilder, spec subscription.Spec) {
	if spec.LockDuration != nil {
		b.LockDuration(*spec.LockDuration)
	}
	if spec.RequestTimeout != nil {
		b.RequestTimeout(*spec.RequestTimeout)
	}
	if spec.PollInterval != nil {
		b.PollInterval(*spec.PollInterval)
	}
	if spec.MaxJobsActive != nil {
		b.MaxJobsActive(*spec.MaxJobsActive)
	}
	if spec.WorkerName != "" {
		b.WorkerName(spec.WorkerName)
	}
	if spec.Variables != nil {
		b.Variables(spec.Variables...)
	}
	if spec.LocalVariables != nil {
		b.LocalVariables(*spec.LocalVariables)
	}
	if spec.BusinessKey != "" {
		b.BusinessKey(spec.BusinessKey)
	}
	if spec.ProcessDefinitionID != "" {
		b.ProcessDefinitionID(spec.ProcessDefinitionID)
	}
	if spec.ProcessDefinitionIDIn != nil {
		b.ProcessDefinitionIDIn(spec.ProcessDefinitionIDIn...)
	}
	if spec.ProcessDefinitionKey != "" {
		b.ProcessDefinitionKey(spec.ProcessDefinitionKey)
	}
	if spec.ProcessDefinitionKeyIn != nil {
		b.ProcessDefinitionKeyIn(spec.ProcessDefinitionKeyIn...)
	}
	if spec.ProcessDefinitionVersionTag != "" {
		b.ProcessDefinitionVersionTag(spec.ProcessDefinitionVersionTag)
	}
	if spec.WithoutTenantID {
		b.WithoutTenantID()
	}
	if spec.TenantIDIn != nil {
		b.TenantIDIn(spec.TenantIDIn...)
	}
	if spec.IncludeExtensionProperties != nil {
		b.IncludeExtensionProperties(*spec.IncludeExtensionProperties)
	}
}
