// Package jetstream provides a NATS JetStream transport. Each topic is served
// by one durable pull consumer shared by every worker of that topic, so a job
// is locked by a single worker for the consumer's ack wait.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/jobflow/transport"
	natstransport "github.com/drblury/jobflow/transport/nats"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultStreamName is used when no stream name is configured.
	DefaultStreamName = "JOBFLOW"

	// DefaultAckWait is the lock duration when a subscription sets none.
	DefaultAckWait = 30 * time.Second

	// DefaultFetchBatch is the number of jobs fetched per pull.
	DefaultFetchBatch = 10

	// DefaultFetchWait bounds a single pull request.
	DefaultFetchWait = time.Second

	// HeaderMessageUUID carries the watermill message UUID.
	HeaderMessageUUID = "jobflow_uuid"
)

// ConnectFactory allows overriding the connection creation for testing.
var ConnectFactory = func(url string, opts ...nats.Option) (*nats.Conn, error) {
	return nats.Connect(url, opts...)
}

func init() {
	Register()
}

// Register adds the JetStream transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a new NATS JetStream transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	options, err := natstransport.ConnectOptions(cfg)
	if err != nil {
		return transport.Transport{}, err
	}

	t, err := New(Config{
		URL:          cfg.GetGatewayAddress(),
		StreamName:   cfg.GetStreamName(),
		AckWait:      cfg.GetJobTimeout(),
		FetchWait:    cfg.GetRequestTimeout(),
		PollInterval: cfg.GetPollInterval(),
		Options:      options,
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds NATS JetStream-specific configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the JetStream stream holding every topic.
	StreamName string

	// AckWait is the lock duration of subscriptions that set none.
	AckWait time.Duration

	// FetchBatch is the pull batch of subscriptions without a max jobs bound.
	FetchBatch int

	// FetchWait bounds a pull of subscriptions without a request timeout.
	FetchWait time.Duration

	// PollInterval is the pause after a pull that returned no jobs.
	PollInterval time.Duration

	// Replicas is the number of stream replicas (for clustering).
	Replicas int

	// RetentionPolicy: "workqueue" (default), "interest" or "limits".
	RetentionPolicy string

	// Options are passed to nats.Connect.
	Options []nats.Option
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.FetchBatch <= 0 {
		c.FetchBatch = DefaultFetchBatch
	}
	if c.FetchWait <= 0 {
		c.FetchWait = DefaultFetchWait
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	if c.RetentionPolicy == "" {
		c.RetentionPolicy = "workqueue"
	}
	return c
}

// pullOptions are the effective settings of one topic's consumer.
type pullOptions struct {
	ackWait      time.Duration
	batch        int
	fetchWait    time.Duration
	pollInterval time.Duration
}

func (c Config) pullOptions(opts transport.SubscribeOptions) pullOptions {
	batch := c.FetchBatch
	if opts.MaxJobsActive > 0 {
		batch = opts.MaxJobsActive
	}
	return pullOptions{
		ackWait:      transport.OrDefault(opts.LockDuration, c.AckWait),
		batch:        batch,
		fetchWait:    transport.OrDefault(opts.RequestTimeout, c.FetchWait),
		pollInterval: transport.OrDefault(opts.PollInterval, c.PollInterval),
	}
}

var errClosed = errors.New("jetstream transport is closed")

// Transport implements Publisher and Subscriber for NATS JetStream.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	subscriptions []*nats.Subscription
	subMu         sync.Mutex
	wg            sync.WaitGroup

	closed     bool
	closedMu   sync.RWMutex
	closedChan chan struct{}
}

// New creates a new NATS JetStream transport.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	nc, err := ConnectFactory(cfg.URL, cfg.Options...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	t := &Transport{
		nc:         nc,
		js:         js,
		config:     cfg,
		logger:     logger,
		closedChan: make(chan struct{}),
	}

	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return t, nil
}

func (t *Transport) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:     t.config.StreamName,
		Subjects: []string{t.config.StreamName + ".>"},
		MaxAge:   24 * time.Hour * 7,
		Replicas: t.config.Replicas,
	}

	switch t.config.RetentionPolicy {
	case "interest":
		streamCfg.Retention = nats.InterestPolicy
	case "limits":
		streamCfg.Retention = nats.LimitsPolicy
	default:
		streamCfg.Retention = nats.WorkQueuePolicy
	}

	if _, err := t.js.AddStream(streamCfg); err != nil {
		if !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return err
		}
		if _, err := t.js.UpdateStream(streamCfg); err != nil {
			t.logger.Info("JetStream stream exists with a different configuration", watermill.LogFields{
				"stream": t.config.StreamName,
				"error":  err.Error(),
			})
		}
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.closedMu.RLock()
	defer t.closedMu.RUnlock()
	return t.closed
}

// Publish publishes messages to the JetStream stream.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return errClosed
	}

	subject := t.topicToSubject(topic)
	for _, msg := range messages {
		headers := nats.Header{}
		for k, v := range msg.Metadata {
			headers.Set(k, v)
		}
		headers.Set(HeaderMessageUUID, msg.UUID)

		if _, err := t.js.PublishMsg(&nats.Msg{
			Subject: subject,
			Data:    msg.Payload,
			Header:  headers,
		}); err != nil {
			return fmt.Errorf("failed to publish to JetStream: %w", err)
		}
	}
	return nil
}

// Subscribe pulls jobs of topic through the topic's durable consumer. The
// consumer's ack wait is the subscription's lock duration and at most
// MaxJobsActive jobs are pending at once.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, errClosed
	}

	opts, _ := transport.SubscribeOptionsFrom(ctx)
	pull := t.config.pullOptions(opts)

	subject := t.topicToSubject(topic)
	consumerName := topicToConsumer(topic)

	consumerCfg := &nats.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       pull.ackWait,
		MaxAckPending: pull.batch,
		DeliverPolicy: nats.DeliverAllPolicy,
	}

	if _, err := t.js.AddConsumer(t.config.StreamName, consumerCfg); err != nil {
		if _, err := t.js.UpdateConsumer(t.config.StreamName, consumerCfg); err != nil {
			return nil, fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := t.js.PullSubscribe(subject, consumerName, nats.Bind(t.config.StreamName, consumerName))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	t.subMu.Lock()
	t.subscriptions = append(t.subscriptions, sub)
	t.subMu.Unlock()

	output := make(chan *message.Message)
	t.wg.Add(1)
	go t.fetchMessages(ctx, sub, output, topic, pull)

	return output, nil
}

func (t *Transport) fetchMessages(ctx context.Context, sub *nats.Subscription, output chan<- *message.Message, topic string, pull pullOptions) {
	defer t.wg.Done()
	defer close(output)

	var settling sync.WaitGroup
	defer settling.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closedChan:
			return
		default:
		}

		// The ack wait of every fetched job runs from here.
		fetchedAt := time.Now()
		msgs, err := sub.Fetch(pull.batch, nats.MaxWait(pull.fetchWait))
		if err != nil && !errors.Is(err, nats.ErrTimeout) {
			t.logger.Error("Failed to fetch jobs", err, watermill.LogFields{"topic": topic})
		}
		if len(msgs) == 0 {
			if !t.pause(ctx, pull.pollInterval) {
				return
			}
			continue
		}

		for _, natsMsg := range msgs {
			wmMsg := natsToWatermill(natsMsg)
			transport.SetLockedUntil(wmMsg, fetchedAt.Add(pull.ackWait))

			select {
			case output <- wmMsg:
			case <-ctx.Done():
				_ = natsMsg.Nak()
				return
			case <-t.closedChan:
				_ = natsMsg.Nak()
				return
			}

			settling.Add(1)
			go func(natsMsg *nats.Msg, wmMsg *message.Message) {
				defer settling.Done()
				t.settle(ctx, natsMsg, wmMsg)
			}(natsMsg, wmMsg)
		}
	}
}

// settle forwards the watermill ack or nack to JetStream.
func (t *Transport) settle(ctx context.Context, natsMsg *nats.Msg, wmMsg *message.Message) {
	select {
	case <-wmMsg.Acked():
		if err := natsMsg.Ack(); err != nil {
			t.logger.Error("Failed to ack", err, nil)
		}
	case <-wmMsg.Nacked():
		if err := natsMsg.Nak(); err != nil {
			t.logger.Error("Failed to nak", err, nil)
		}
	case <-ctx.Done():
	case <-t.closedChan:
	}
}

func (t *Transport) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-t.closedChan:
		return false
	}
}

func natsToWatermill(natsMsg *nats.Msg) *message.Message {
	msgID := natsMsg.Header.Get(HeaderMessageUUID)
	if msgID == "" {
		msgID = watermill.NewULID()
	}

	wmMsg := message.NewMessage(msgID, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if k == HeaderMessageUUID || len(v) == 0 {
			continue
		}
		wmMsg.Metadata.Set(k, v[0])
	}
	return wmMsg
}

func (t *Transport) topicToSubject(topic string) string {
	return t.config.StreamName + "." + topic
}

// topicToConsumer derives a durable name; durable names may not contain dots.
func topicToConsumer(topic string) string {
	return "jobflow_" + strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(topic)
}

// Close closes the JetStream transport.
func (t *Transport) Close() error {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closedChan)
	t.closedMu.Unlock()

	t.wg.Wait()

	t.subMu.Lock()
	for _, sub := range t.subscriptions {
		_ = sub.Unsubscribe()
	}
	t.subscriptions = nil
	t.subMu.Unlock()

	t.nc.Close()
	return nil
}
