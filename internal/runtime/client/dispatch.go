package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/jobflow/internal/runtime/errors"
	"github.com/drblury/jobflow/internal/runtime/jobs"
	loggingpkg "github.com/drblury/jobflow/internal/runtime/logging"
	"github.com/drblury/jobflow/transport"
)

var (
	errJobFailed     = errors.New("job failed")
	errJobNotSettled = errors.New("handler returned without completing or failing the job")
)

type jobState int

const (
	stateActive jobState = iota
	stateCompleted
	stateFailed
	stateExpired
	stateReleased
)

// activeJob is a job locked for one handler invocation. Exactly one of
// complete, fail, expire or finish settles it.
type activeJob struct {
	sub *Subscription
	msg *message.Message
	env jobs.Envelope
	job jobs.ActivatedJob

	cancel context.CancelFunc
	timer  *time.Timer

	mu         sync.Mutex
	state      jobState
	failure    string
	handlerErr error
}

type activeJobKey struct{}

func activeJobFrom(ctx context.Context) *activeJob {
	if ctx == nil {
		return nil
	}
	a, _ := ctx.Value(activeJobKey{}).(*activeJob)
	return a
}

func (s *Subscription) dispatch(msg *message.Message) {
	topic := s.settings.Topic

	env, err := jobs.DecodeEnvelope(msg)
	if err != nil {
		s.logger.Error("Dropping job that cannot be decoded", err, loggingpkg.LogFields{"message_uuid": msg.UUID})
		s.client.metrics.jobReleased(topic, "undecodable")
		msg.Ack()
		return
	}
	if env.Type == "" {
		env.Type = topic
	}

	if env.Expired(s.client.now()) {
		s.logger.Warn("Dropping job past its time to live", loggingpkg.LogFields{"job_key": env.Key})
		s.client.metrics.jobReleased(topic, "expired")
		msg.Ack()
		return
	}
	if !s.settings.matches(env) {
		s.logger.Debug("Skipping job not matching the subscription filters", loggingpkg.LogFields{"job_key": env.Key})
		s.client.metrics.jobReleased(topic, "filtered")
		msg.Ack()
		return
	}

	if lockedUntil, ok := transport.LockedUntil(msg); ok && !time.Now().Before(lockedUntil) {
		s.logger.Warn("Releasing job whose lock ran out before a handler was free", loggingpkg.LogFields{"job_key": env.Key})
		s.client.metrics.jobReleased(topic, "lock_expired")
		msg.Nack()
		return
	}

	a := s.activate(msg, env)
	defer a.stop()

	started := time.Now()
	s.client.metrics.jobActivated(topic)
	_, err = s.process(msg)
	s.client.metrics.jobFinished(topic, time.Since(started))

	a.finish(err)
}

// activate locks the job until now plus the lock duration, or until the
// transport lock taken at fetch time runs out when that comes first. The job
// context is cancelled by expire, after the job is marked expired, or when
// the subscription closes.
func (s *Subscription) activate(msg *message.Message, env jobs.Envelope) *activeJob {
	deadline := time.Now().Add(s.settings.LockDuration)
	if lockedUntil, ok := transport.LockedUntil(msg); ok && lockedUntil.Before(deadline) {
		deadline = lockedUntil
	}
	ctx, cancel := context.WithCancel(s.ctx)

	a := &activeJob{sub: s, msg: msg, env: env, cancel: cancel}
	a.job = jobs.ActivatedJob{
		Key:                         env.Key,
		Type:                        env.Type,
		Worker:                      s.settings.WorkerName,
		Retries:                     env.Retries,
		Deadline:                    deadline,
		BusinessKey:                 env.BusinessKey,
		ProcessDefinitionID:         env.ProcessDefinitionID,
		ProcessDefinitionKey:        env.ProcessDefinitionKey,
		ProcessDefinitionVersionTag: env.ProcessDefinitionVersionTag,
		TenantID:                    env.TenantID,
		Variables:                   s.settings.selectVariables(env),
		CustomHeaders:               env.CustomHeaders,
		CreatedAt:                   env.CreatedAt,
	}
	if s.settings.IncludeExtensionProperties {
		a.job.ExtensionProperties = env.ExtensionProperties
	}

	msg.SetContext(context.WithValue(ctx, activeJobKey{}, a))
	a.timer = time.AfterFunc(time.Until(deadline), a.expire)
	return a
}

// invoke is the innermost handler of the middleware chain. It reports how
// the handler left the job.
func (s *Subscription) invoke(msg *message.Message) ([]*message.Message, error) {
	a := activeJobFrom(msg.Context())
	if a == nil {
		return nil, errspkg.ErrJobNotActive
	}
	s.handler.Handle(jobClient{}, a.job.WithContext(msg.Context()))
	return nil, a.outcome()
}

func (a *activeJob) outcome() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case stateCompleted:
		return nil
	case stateFailed:
		return fmt.Errorf("%w: %s", errJobFailed, a.failure)
	case stateExpired:
		return errspkg.ErrJobLockExpired
	default:
		if a.handlerErr != nil {
			return a.handlerErr
		}
		return errJobNotSettled
	}
}

func (a *activeJob) reportError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == stateActive && err != nil {
		a.handlerErr = err
	}
}

func (a *activeJob) stop() {
	a.timer.Stop()
	a.cancel()
}

func (a *activeJob) fields() loggingpkg.LogFields {
	return loggingpkg.LogFields{"job_key": a.env.Key, "retries": a.env.Retries}
}

// settleable reports why the job can no longer be settled. Callers hold a.mu.
func (a *activeJob) settleable() error {
	switch a.state {
	case stateActive:
		return nil
	case stateExpired:
		return errspkg.ErrJobLockExpired
	case stateReleased:
		return errspkg.ErrJobNotActive
	default:
		return errspkg.ErrJobAlreadySettled
	}
}

// expire releases the job for another worker once its lock ran out.
func (a *activeJob) expire() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != stateActive {
		return
	}
	a.state = stateExpired
	a.msg.Nack()
	a.cancel()

	a.sub.logger.Warn("Job lock expired before the job was settled", a.fields())
	a.sub.client.metrics.jobReleased(a.sub.settings.Topic, "lock_expired")
}

// finish settles a job the handler left open. A handler error fails the
// job with one retry less, otherwise the job is released.
func (a *activeJob) finish(handlerErr error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != stateActive {
		return
	}

	if handlerErr != nil && !errors.Is(handlerErr, errJobNotSettled) {
		err := a.failLocked(a.sub.ctx, a.env.Retries-1, handlerErr.Error())
		if err == nil {
			return
		}
		a.sub.logger.Error("Failed to fail job after handler error", err, a.fields())
	}

	a.state = stateReleased
	a.timer.Stop()
	a.msg.Nack()
	a.sub.logger.Warn("Releasing job the handler did not settle", a.fields())
	a.sub.client.metrics.jobReleased(a.sub.settings.Topic, "unsettled")
}

func (a *activeJob) complete(ctx context.Context, variables map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.settleable(); err != nil {
		return err
	}

	if err := a.publishResult(ctx, jobs.StatusCompleted, a.env.Retries, variables, ""); err != nil {
		return err
	}
	a.settle(stateCompleted)
	a.sub.client.metrics.jobSettled(a.sub.settings.Topic, string(jobs.StatusCompleted))
	return nil
}

func (a *activeJob) fail(ctx context.Context, retries int, errorMessage string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.settleable(); err != nil {
		return err
	}
	return a.failLocked(ctx, retries, errorMessage)
}

// failLocked queues the job again while retries remain and reports an
// incident otherwise. Callers hold a.mu.
func (a *activeJob) failLocked(ctx context.Context, retries int, errorMessage string) error {
	status := jobs.StatusIncident
	if retries > 0 {
		status = jobs.StatusFailed
		if err := a.requeue(ctx, retries); err != nil {
			return err
		}
	}

	if err := a.publishResult(ctx, status, retries, nil, errorMessage); err != nil {
		a.sub.logger.Error("Failed to publish job result", err, a.fields())
	}

	a.failure = errorMessage
	a.settle(stateFailed)
	a.sub.client.metrics.jobSettled(a.sub.settings.Topic, string(status))

	fields := a.fields()
	fields["retries_left"] = retries
	fields["error_message"] = errorMessage
	if status == jobs.StatusIncident {
		a.sub.logger.Warn("Job failed without retries left", fields)
	} else {
		a.sub.logger.Debug("Job failed and was queued again", fields)
	}
	return nil
}

func (a *activeJob) settle(state jobState) {
	a.state = state
	a.timer.Stop()
	a.msg.Ack()
}

func (a *activeJob) requeue(ctx context.Context, retries int) error {
	env := a.env
	env.Retries = retries

	msg, err := env.ToMessage()
	if err != nil {
		return err
	}
	a.copyCorrelationID(msg)
	if ctx != nil {
		msg.SetContext(ctx)
	}

	if err := a.sub.client.publisher.Publish(a.sub.settings.Topic, msg); err != nil {
		return fmt.Errorf("queue job %s again: %w", env.Key, err)
	}
	return nil
}

func (a *activeJob) publishResult(ctx context.Context, status jobs.ResultStatus, retries int, variables map[string]any, errorMessage string) error {
	result := jobs.Result{
		Key:          a.env.Key,
		Type:         a.env.Type,
		Worker:       a.job.Worker,
		Status:       status,
		Retries:      retries,
		Variables:    variables,
		ErrorMessage: errorMessage,
		SettledAt:    a.sub.client.now().UTC(),
	}
	msg, err := result.ToMessage()
	if err != nil {
		return err
	}
	a.copyCorrelationID(msg)
	if ctx != nil {
		msg.SetContext(ctx)
	}

	topic := jobs.ResultTopic(a.env.Type)
	if err := a.sub.client.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish result of job %s: %w", a.env.Key, err)
	}
	return nil
}

func (a *activeJob) copyCorrelationID(msg *message.Message) {
	if id := a.msg.Metadata.Get(jobs.MetadataCorrelationID); id != "" {
		msg.Metadata.Set(jobs.MetadataCorrelationID, id)
	}
}
