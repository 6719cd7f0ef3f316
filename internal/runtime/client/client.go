// Package client is the job client shared by every subscription of a
// process. It publishes jobs, opens lock-based subscriptions over a
// registered transport and settles the jobs handlers receive.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	configpkg "github.com/drblury/jobflow/internal/runtime/config"
	errspkg "github.com/drblury/jobflow/internal/runtime/errors"
	idspkg "github.com/drblury/jobflow/internal/runtime/ids"
	"github.com/drblury/jobflow/internal/runtime/jobs"
	loggingpkg "github.com/drblury/jobflow/internal/runtime/logging"
	"github.com/drblury/jobflow/transport"
)

const tracerName = "github.com/drblury/jobflow"

// Option customises a client built by Build.
type Option func(*options)

type options struct {
	registry       *transport.Registry
	hooks          JobHooks
	registerer     prometheus.Registerer
	tracerProvider trace.TracerProvider
}

// WithTransportRegistry builds the transport from registry instead of the
// default registry.
func WithTransportRegistry(registry *transport.Registry) Option {
	return func(o *options) {
		if registry != nil {
			o.registry = registry
		}
	}
}

// WithJobHooks adds job lifecycle hooks. Repeated options are merged.
func WithJobHooks(hooks JobHooks) Option {
	return func(o *options) {
		o.hooks = o.hooks.Merge(hooks)
	}
}

// WithMetrics records job and transport metrics on reg. Without this option
// metrics go to the default registerer when the config enables them.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithTracerProvider traces job dispatches with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// Client is a job client connected to one gateway. It is safe for
// concurrent use and read-only after Build.
type Client struct {
	conn   Connection
	logger loggingpkg.ServiceLogger

	publisher  message.Publisher
	subscriber message.Subscriber
	caps       transport.Capabilities
	pending    transport.QueueIntrospector

	threads *semaphore.Weighted
	hooks   JobHooks
	metrics *jobMetrics
	tracer  trace.Tracer
	now     func() time.Time

	mu            sync.Mutex
	subscriptions []*Subscription
	closed        bool

	feedsMu sync.Mutex
	feeds   map[string]*topicFeed
}

// Build resolves conf, builds the configured transport and returns the
// client. A malformed or incomplete connection configuration fails the build
// and no client is returned.
func Build(ctx context.Context, conf *configpkg.Config, logger loggingpkg.ServiceLogger, opts ...Option) (*Client, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	conn, err := NewConnection(conf)
	if err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	o := options{
		registry:       transport.DefaultRegistry,
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registerer == nil && conf.MetricsEnabled {
		o.registerer = prometheus.DefaultRegisterer
	}

	t, err := o.registry.Build(ctx, conn, loggingpkg.NewWatermillAdapter(logger))
	if err != nil {
		return nil, fmt.Errorf("build %s transport: %w", conn.Transport, err)
	}

	c := &Client{
		conn:       conn,
		logger:     logger.With(loggingpkg.LogFields{"transport": conn.Transport}),
		publisher:  t.Publisher,
		subscriber: t.Subscriber,
		threads:    semaphore.NewWeighted(int64(conn.ExecutionThreads)),
		hooks:      o.hooks,
		tracer:     o.tracerProvider.Tracer(tracerName),
		now:        time.Now,
		caps:       o.registry.GetCapabilities(conn.Transport),
		feeds:      make(map[string]*topicFeed),
	}
	if pending, ok := t.Subscriber.(transport.QueueIntrospector); ok {
		c.pending = pending
	}

	if o.registerer != nil {
		if c.metrics, err = newJobMetrics(o.registerer); err == nil {
			c.publisher, c.subscriber, err = decorateTransport(o.registerer, t.Publisher, t.Subscriber)
		}
		if err != nil {
			closeTransport(t.Publisher, t.Subscriber)
			return nil, fmt.Errorf("register job metrics: %w", err)
		}
	}

	logger.Info("Job client is configured to connect to gateway", loggingpkg.LogFields{
		"gateway_address": conn.GatewayAddress,
		"transport":       conn.Transport,
		"mode":            string(conn.Mode),
		"tls":             conn.TLSEnabled(),
	})
	for _, limitation := range c.caps.Limitations() {
		logger.Warn("Transport limits job delivery", loggingpkg.LogFields{
			"transport":  conn.Transport,
			"limitation": limitation,
		})
	}

	return c, nil
}

// GatewayAddress returns the resolved gateway address.
func (c *Client) GatewayAddress() string {
	return c.conn.GatewayAddress
}

// Connection returns the resolved connection settings.
func (c *Client) Connection() Connection {
	return c.conn
}

// Capabilities returns the job semantics of the configured transport.
func (c *Client) Capabilities() transport.Capabilities {
	return c.caps
}

// PendingJobs counts the jobs of topic not yet completed. Transports that
// cannot count their queue return ErrPendingCountUnsupported.
func (c *Client) PendingJobs(topic string) (int64, error) {
	if c.pending == nil {
		return 0, fmt.Errorf("%w: %s", errspkg.ErrPendingCountUnsupported, c.conn.Transport)
	}
	return c.pending.GetPendingCount(topic)
}

// Subscriptions returns the subscriptions opened on the client, in opening order.
func (c *Client) Subscriptions() []*Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Subscription(nil), c.subscriptions...)
}

// CreateJob publishes a job on topic and returns its key. The job expires
// after its time to live, or the client's default message time to live.
func (c *Client) CreateJob(ctx context.Context, topic string, job jobs.NewJob) (string, error) {
	if topic == "" {
		return "", errspkg.ErrTopicRequired
	}
	if c.isClosed() {
		return "", errspkg.ErrClientClosed
	}

	ttl := job.TimeToLive
	if ttl <= 0 {
		ttl = c.conn.MessageTimeToLive
	}

	key := idspkg.NewJobKey()
	msg, err := jobs.NewEnvelope(key, topic, job, c.now(), ttl).ToMessage()
	if err != nil {
		return "", err
	}
	msg.Metadata.Set(jobs.MetadataCorrelationID, idspkg.CreateULID())
	if ctx != nil {
		msg.SetContext(ctx)
	}

	if err := c.publisher.Publish(topic, msg); err != nil {
		return "", fmt.Errorf("publish job on %s: %w", topic, err)
	}
	return key, nil
}

// Close closes every subscription, waiting for running handlers, and then
// the transport.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subscriptions := append([]*Subscription(nil), c.subscriptions...)
	c.mu.Unlock()

	var errs []error
	for _, s := range subscriptions {
		errs = append(errs, s.Close())
	}
	errs = append(errs, closeTransport(c.publisher, c.subscriber))
	return errors.Join(errs...)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) track(s *Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errspkg.ErrClientClosed
	}
	c.subscriptions = append(c.subscriptions, s)
	return nil
}

func (c *Client) untrack(s *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, tracked := range c.subscriptions {
		if tracked == s {
			c.subscriptions = append(c.subscriptions[:i], c.subscriptions[i+1:]...)
			return
		}
	}
}

// closeTransport closes the publisher and the subscriber once each when they
// are the same pub/sub.
func closeTransport(pub message.Publisher, sub message.Subscriber) error {
	var errs []error
	if sub != nil {
		errs = append(errs, sub.Close())
	}
	if pub != nil && any(pub) != any(sub) {
		errs = append(errs, pub.Close())
	}
	return errors.Join(errs...)
}
