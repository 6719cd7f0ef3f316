package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/jobflow/internal/runtime/errors"
)

type mockConfig struct {
	transport string
}

func (m *mockConfig) GetTransport() string                { return m.transport }
func (m *mockConfig) GetGatewayAddress() string           { return "" }
func (m *mockConfig) GetCredentials() (Credentials, bool) { return Credentials{}, false }
func (m *mockConfig) TLSEnabled() bool                    { return false }
func (m *mockConfig) GetCACertificatePath() string        { return "" }
func (m *mockConfig) GetKeepAlive() time.Duration         { return 0 }
func (m *mockConfig) GetRequestTimeout() time.Duration    { return 0 }
func (m *mockConfig) GetPollInterval() time.Duration      { return 0 }
func (m *mockConfig) GetJobTimeout() time.Duration        { return 0 }
func (m *mockConfig) GetKafkaConsumerGroup() string       { return "" }
func (m *mockConfig) GetAWSEndpoint() string              { return "" }
func (m *mockConfig) GetHTTPServerAddress() string        { return "" }
func (m *mockConfig) GetStreamName() string               { return "" }

type mockPublisher struct{}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error { return nil }

func staticBuilder(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return Transport{Publisher: &mockPublisher{}, Subscriber: &mockSubscriber{}}, nil
}

func TestRegistry_RegisterAndBuild(t *testing.T) {
	reg := NewRegistry()
	assert.Empty(t, reg.Names())

	var seen Config
	reg.Register("queue", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		seen = cfg
		return staticBuilder(ctx, cfg, logger)
	})
	require.True(t, reg.Has("queue"))
	assert.False(t, reg.Has("other"))

	cfg := &mockConfig{transport: "queue"}
	built, err := reg.Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, built.Publisher)
	assert.NotNil(t, built.Subscriber)
	assert.Same(t, cfg, seen)
}

func TestRegistry_Capabilities(t *testing.T) {
	reg := NewRegistry()
	caps := Capabilities{Name: "queue", Redelivery: true, Durable: true}
	reg.RegisterWithCapabilities("queue", staticBuilder, caps)

	assert.True(t, reg.Has("queue"))
	assert.Equal(t, caps, reg.GetCapabilities("queue"))

	// A transport registered without capabilities reports none.
	reg.Register("bare", staticBuilder)
	assert.Equal(t, Capabilities{Name: "bare"}, reg.GetCapabilities("bare"))
	assert.Equal(t, Capabilities{Name: "unknown"}, reg.GetCapabilities("unknown"))
}

func TestRegistry_BuildErrors(t *testing.T) {
	reg := NewRegistry()
	builderErr := errors.New("broker unreachable")
	reg.Register("failing", func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, builderErr
	})
	reg.Register("queue", staticBuilder)

	_, err := reg.Build(context.Background(), nil, nil)
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = reg.Build(context.Background(), &mockConfig{transport: "carrier-pigeon"}, nil)
	assert.ErrorIs(t, err, errspkg.ErrUnknownTransport)
	assert.Contains(t, err.Error(), `"carrier-pigeon"`)
	assert.Contains(t, err.Error(), "[failing queue]")

	_, err = reg.Build(context.Background(), &mockConfig{transport: "failing"}, nil)
	assert.Equal(t, builderErr, err)
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"rabbitmq", "aws", "kafka"} {
		reg.Register(name, staticBuilder)
	}
	assert.Equal(t, []string{"aws", "kafka", "rabbitmq"}, reg.Names())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.RegisterWithCapabilities("queue", staticBuilder, ChannelCapabilities)
				reg.Has("queue")
				reg.Names()
				reg.GetCapabilities("queue")
			}
		}()
	}
	wg.Wait()

	assert.True(t, reg.Has("queue"))
}

func TestDefaultRegistryHelpers(t *testing.T) {
	original := DefaultRegistry
	defer func() { DefaultRegistry = original }()
	DefaultRegistry = NewRegistry()

	Register("plain", staticBuilder)
	RegisterWithCapabilities("durable", staticBuilder, PostgresCapabilities)

	assert.True(t, DefaultRegistry.Has("plain"))
	assert.Equal(t, PostgresCapabilities, GetCapabilities("durable"))

	_, err := Build(context.Background(), &mockConfig{transport: "plain"}, nil)
	require.NoError(t, err)
	_, err = Build(context.Background(), &mockConfig{transport: "missing"}, nil)
	assert.ErrorIs(t, err, errspkg.ErrUnknownTransport)
}
