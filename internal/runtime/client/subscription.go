package client

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"golang.org/x/sync/semaphore"

	errspkg "github.com/drblury/jobflow/internal/runtime/errors"
	"github.com/drblury/jobflow/internal/runtime/jobs"
	loggingpkg "github.com/drblury/jobflow/internal/runtime/logging"
	"github.com/drblury/jobflow/transport"
)

// Settings are the effective settings of a subscription. Zero values set on
// the builder are replaced by the client defaults when it is opened.
type Settings struct {
	Topic       string
	HandlerName string

	LockDuration   time.Duration
	RequestTimeout time.Duration
	PollInterval   time.Duration
	MaxJobsActive  int
	WorkerName     string

	Variables      []string
	LocalVariables bool

	BusinessKey                 string
	ProcessDefinitionID         string
	ProcessDefinitionIDIn       []string
	ProcessDefinitionKey        string
	ProcessDefinitionKeyIn      []string
	ProcessDefinitionVersionTag string

	WithoutTenantID bool
	TenantIDIn      []string

	IncludeExtensionProperties bool
}

func (s Settings) withDefaults(conn Connection) Settings {
	s.LockDuration = transport.OrDefault(s.LockDuration, conn.JobTimeout)
	s.RequestTimeout = transport.OrDefault(s.RequestTimeout, conn.RequestTimeout)
	s.PollInterval = transport.OrDefault(s.PollInterval, conn.PollInterval)
	if s.MaxJobsActive <= 0 {
		s.MaxJobsActive = DefaultMaxJobsActive
	}
	if s.WorkerName == "" {
		s.WorkerName = conn.WorkerName
	}
	if s.HandlerName == "" {
		s.HandlerName = s.Topic
	}
	return s
}

func (s Settings) subscribeOptions() transport.SubscribeOptions {
	return transport.SubscribeOptions{
		LockDuration:   s.LockDuration,
		PollInterval:   s.PollInterval,
		RequestTimeout: s.RequestTimeout,
		MaxJobsActive:  s.MaxJobsActive,
	}
}

// SubscriptionBuilder collects the settings of one subscription. Each
// setter returns the builder so that calls can be chained. A builder opens
// at most one subscription.
type SubscriptionBuilder struct {
	client   *Client
	settings Settings
	handler  jobs.Handler
	opened   bool
}

// NewSubscription starts a subscription to the jobs of topic.
func (c *Client) NewSubscription(topic string) *SubscriptionBuilder {
	return &SubscriptionBuilder{client: c, settings: Settings{Topic: topic}}
}

// Handler sets the handler invoked for every job of the subscription.
func (b *SubscriptionBuilder) Handler(h jobs.Handler) *SubscriptionBuilder {
	b.handler = h
	return b
}

// HandlerName names the handler in logs, hooks and traces.
func (b *SubscriptionBuilder) HandlerName(name string) *SubscriptionBuilder {
	b.settings.HandlerName = name
	return b
}

func (b *SubscriptionBuilder) LockDuration(d time.Duration) *SubscriptionBuilder {
	b.settings.LockDuration = d
	return b
}

func (b *SubscriptionBuilder) RequestTimeout(d time.Duration) *SubscriptionBuilder {
	b.settings.RequestTimeout = d
	return b
}

func (b *SubscriptionBuilder) PollInterval(d time.Duration) *SubscriptionBuilder {
	b.settings.PollInterval = d
	return b
}

func (b *SubscriptionBuilder) MaxJobsActive(n int) *SubscriptionBuilder {
	b.settings.MaxJobsActive = n
	return b
}

func (b *SubscriptionBuilder) WorkerName(name string) *SubscriptionBuilder {
	b.settings.WorkerName = name
	return b
}

// Variables limits the variables handed to the handler to names.
func (b *SubscriptionBuilder) Variables(names ...string) *SubscriptionBuilder {
	b.settings.Variables = append([]string(nil), names...)
	return b
}

// LocalVariables hands only the job's local variables to the handler.
func (b *SubscriptionBuilder) LocalVariables(local bool) *SubscriptionBuilder {
	b.settings.LocalVariables = local
	return b
}

func (b *SubscriptionBuilder) BusinessKey(key string) *SubscriptionBuilder {
	b.settings.BusinessKey = key
	return b
}

func (b *SubscriptionBuilder) ProcessDefinitionID(id string) *SubscriptionBuilder {
	b.settings.ProcessDefinitionID = id
	return b
}

func (b *SubscriptionBuilder) ProcessDefinitionIDIn(ids ...string) *SubscriptionBuilder {
	b.settings.ProcessDefinitionIDIn = append([]string(nil), ids...)
	return b
}

func (b *SubscriptionBuilder) ProcessDefinitionKey(key string) *SubscriptionBuilder {
	b.settings.ProcessDefinitionKey = key
	return b
}

func (b *SubscriptionBuilder) ProcessDefinitionKeyIn(keys ...string) *SubscriptionBuilder {
	b.settings.ProcessDefinitionKeyIn = append([]string(nil), keys...)
	return b
}

func (b *SubscriptionBuilder) ProcessDefinitionVersionTag(tag string) *SubscriptionBuilder {
	b.settings.ProcessDefinitionVersionTag = tag
	return b
}

// WithoutTenantID accepts jobs that carry no tenant.
func (b *SubscriptionBuilder) WithoutTenantID() *SubscriptionBuilder {
	b.settings.WithoutTenantID = true
	return b
}

func (b *SubscriptionBuilder) TenantIDIn(ids ...string) *SubscriptionBuilder {
	b.settings.TenantIDIn = append([]string(nil), ids...)
	return b
}

func (b *SubscriptionBuilder) IncludeExtensionProperties(include bool) *SubscriptionBuilder {
	b.settings.IncludeExtensionProperties = include
	return b
}

// Open subscribes to the topic and starts dispatching jobs in the
// background. Subscriptions of the same topic share one transport
// subscription and each job is handed to one of them. The subscription keeps
// running after ctx is cancelled; it stops on Close or when the client is
// closed.
func (b *SubscriptionBuilder) Open(ctx context.Context) (*Subscription, error) {
	if b.settings.Topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if b.handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if b.opened {
		return nil, errspkg.ErrSubscriptionOpen
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c := b.client
	settings := b.settings.withDefaults(c.conn)
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s := &Subscription{
		client:   c,
		settings: settings,
		handler:  b.handler,
		logger: c.logger.With(loggingpkg.LogFields{
			"topic":   settings.Topic,
			"handler": settings.HandlerName,
			"worker":  settings.WorkerName,
		}),
		active: semaphore.NewWeighted(int64(settings.MaxJobsActive)),
		ctx:    subCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.process = s.middlewares()(s.invoke)

	if err := c.track(s); err != nil {
		cancel()
		return nil, err
	}

	feed, err := c.joinFeed(ctx, settings.Topic, settings.subscribeOptions())
	if err != nil {
		cancel()
		c.untrack(s)
		return nil, err
	}
	s.feed = feed

	b.opened = true
	go s.run(feed.messages)
	return s, nil
}

// Subscription is an open job subscription.
type Subscription struct {
	client   *Client
	settings Settings
	handler  jobs.Handler
	logger   loggingpkg.ServiceLogger
	process  message.HandlerFunc

	active *semaphore.Weighted
	feed   *topicFeed

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Topic returns the job type of the subscription.
func (s *Subscription) Topic() string {
	return s.settings.Topic
}

// Settings returns the effective settings.
func (s *Subscription) Settings() Settings {
	return s.settings
}

// Done is closed once the subscription stopped and its handlers returned.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close stops fetching jobs and waits for running handlers to return. Jobs
// still unsettled are released.
func (s *Subscription) Close() error {
	s.closeOnce.Do(s.cancel)
	<-s.done
	return nil
}

// run takes a job from the topic feed whenever the subscription has a free
// MaxJobsActive slot, then waits for one of the client's execution threads.
func (s *Subscription) run(messages <-chan *message.Message) {
	defer close(s.done)
	defer s.client.leaveFeed(s.feed)

	var handlers sync.WaitGroup
	defer handlers.Wait()

	for {
		if err := s.active.Acquire(s.ctx, 1); err != nil {
			return
		}
		select {
		case <-s.ctx.Done():
			s.active.Release(1)
			return
		case msg, ok := <-messages:
			if !ok {
				s.active.Release(1)
				return
			}
			if err := s.client.threads.Acquire(s.ctx, 1); err != nil {
				s.active.Release(1)
				msg.Nack()
				return
			}
			handlers.Add(1)
			go func() {
				defer handlers.Done()
				defer s.release()
				s.dispatch(msg)
			}()
		}
	}
}

func (s *Subscription) release() {
	s.client.threads.Release(1)
	s.active.Release(1)
}
