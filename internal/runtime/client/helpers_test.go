package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/jobflow/internal/runtime/config"
	"github.com/drblury/jobflow/internal/runtime/jobs"
	loggingpkg "github.com/drblury/jobflow/internal/runtime/logging"
	"github.com/drblury/jobflow/transport"
	"github.com/drblury/jobflow/transport/channel"
)

const waitTimeout = 5 * time.Second

type logEntry struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

// recordingLogger keeps every entry, including those of derived loggers.
type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
	fields  loggingpkg.LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (r *recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := loggingpkg.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{mu: r.mu, entries: r.entries, fields: merged}
}

func (r *recordingLogger) record(level, msg string, err error, fields loggingpkg.LogFields) {
	merged := loggingpkg.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, logEntry{level: level, msg: msg, err: err, fields: merged})
}

func (r *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	r.record("debug", msg, nil, fields)
}
func (r *recordingLogger) Info(msg string, fields loggingpkg.LogFields) {
	r.record("info", msg, nil, fields)
}
func (r *recordingLogger) Warn(msg string, fields loggingpkg.LogFields) {
	r.record("warn", msg, nil, fields)
}
func (r *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	r.record("error", msg, err, fields)
}
func (r *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) {
	r.record("trace", msg, nil, fields)
}

func (r *recordingLogger) find(msg string) (logEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range *r.entries {
		if e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

func channelRegistry() *transport.Registry {
	registry := transport.NewRegistry()
	registry.RegisterWithCapabilities(channel.TransportName, channel.Build, transport.ChannelCapabilities)
	return registry
}

func newTestClient(t *testing.T, conf *configpkg.Config, opts ...Option) (*Client, *recordingLogger) {
	t.Helper()
	if conf == nil {
		conf = &configpkg.Config{}
	}
	logger := newRecordingLogger()
	opts = append([]Option{WithTransportRegistry(channelRegistry())}, opts...)

	c, err := Build(context.Background(), conf, logger, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, logger
}

// results subscribes to the result topic of jobType.
func results(t *testing.T, c *Client, jobType string) <-chan *message.Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := c.subscriber.Subscribe(ctx, jobs.ResultTopic(jobType))
	require.NoError(t, err)
	return ch
}

func nextResult(t *testing.T, ch <-chan *message.Message) jobs.Result {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		r, err := jobs.DecodeResult(msg)
		require.NoError(t, err)
		return r
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a job result")
		return jobs.Result{}
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for value")
		var zero T
		return zero
	}
}
