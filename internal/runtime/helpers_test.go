package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/jobflow/internal/runtime/config"
	"github.com/drblury/jobflow/internal/runtime/discovery"
	"github.com/drblury/jobflow/internal/runtime/jobs"
	loggingpkg "github.com/drblury/jobflow/internal/runtime/logging"
	"github.com/drblury/jobflow/transport"
)

const waitTimeout = 5 * time.Second

type logEntry struct {
	level  string
	msg    string
	fields loggingpkg.LogFields
}

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

func (r *recordingLogger) record(level, msg string, fields loggingpkg.LogFields) {
	merged := loggingpkg.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, logEntry{level: level, msg: msg, fields: merged})
}

func (r *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) { r.record("debug", msg, fields) }
func (r *recordingLogger) Info(msg string, fields loggingpkg.LogFields)  { r.record("info", msg, fields) }
func (r *recordingLogger) Warn(msg string, fields loggingpkg.LogFields)  { r.record("warn", msg, fields) }
func (r *recordingLogger) Error(msg string, _ error, fields loggingpkg.LogFields) {
	r.record("error", msg, fields)
}
func (r *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) { r.record("trace", msg, fields) }

func (r *recordingLogger) findAll(msg string) []logEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []logEntry
	for _, e := range *r.entries {
		if e.msg == msg {
			out = append(out, e)
		}
	}
	return out
}

// testTransport is an in-memory transport that records every topic a job
// subscription is opened on.
type testTransport struct {
	pubSub *gochannel.GoChannel

	mu     sync.Mutex
	topics []string
}

func newTestTransport() *testTransport {
	return &testTransport{
		pubSub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64, Persistent: true}, watermill.NopLogger{}),
	}
}

func (tt *testTransport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	tt.mu.Lock()
	tt.topics = append(tt.topics, topic)
	tt.mu.Unlock()
	return tt.pubSub.Subscribe(ctx, topic)
}

func (tt *testTransport) Close() error {
	return tt.pubSub.Close()
}

func (tt *testTransport) subscribedTopics() []string {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return append([]string(nil), tt.topics...)
}

func (tt *testTransport) registry() *transport.Registry {
	registry := transport.NewRegistry()
	registry.Register("channel", func(context.Context, transport.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Transport{Publisher: tt.pubSub, Subscriber: tt}, nil
	})
	return registry
}

// results subscribes to the results of jobType without recording the topic.
func (tt *testTransport) results(t *testing.T, jobType string) <-chan *message.Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := tt.pubSub.Subscribe(ctx, jobs.ResultTopic(jobType))
	require.NoError(t, err)
	return ch
}

func newTestService(t *testing.T, conf *configpkg.Config, tt *testTransport, components ...any) (*Service, *recordingLogger, error) {
	t.Helper()
	if conf == nil {
		conf = &configpkg.Config{}
	}
	logger := newRecordingLogger()
	svc, err := TryNewService(context.Background(), conf, logger, ServiceDependencies{
		Components:        discovery.Components(components),
		TransportRegistry: tt.registry(),
	})
	if svc != nil {
		t.Cleanup(func() { _ = svc.Close() })
	}
	return svc, logger, err
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
