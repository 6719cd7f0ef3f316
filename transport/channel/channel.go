// Package channel provides an in-memory Go channel transport for tests and
// local development. Every job published stays in memory for the life of the
// transport, so it is not meant for long running workers.
package channel

import (
	"context"
	"errors"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/jobflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// OutputBuffer is the per-subscriber buffer of the in-memory queue.
const OutputBuffer = 64

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register adds the channel transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// ResultTopicSuffix marks the topics job results are published on.
const ResultTopicSuffix = ".results"

// Build creates a new Go channel transport. Jobs created before a worker
// subscribes are kept and delivered once it does. Results are only delivered
// to subscribers present when they are published and are not kept.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	jobPub, jobSub := Factory(gochannel.Config{
		OutputChannelBuffer: OutputBuffer,
		Persistent:          true,
	}, logger)
	resultPub, resultSub := Factory(gochannel.Config{
		OutputChannelBuffer: OutputBuffer,
	}, logger)

	t := &pubSub{jobPub: jobPub, jobSub: jobSub, resultPub: resultPub, resultSub: resultSub}
	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// pubSub routes result topics to a non-persistent channel and every other
// topic to the persistent job channel.
type pubSub struct {
	jobPub    message.Publisher
	jobSub    message.Subscriber
	resultPub message.Publisher
	resultSub message.Subscriber
}

func isResultTopic(topic string) bool {
	return strings.HasSuffix(topic, ResultTopicSuffix)
}

func (p *pubSub) Publish(topic string, messages ...*message.Message) error {
	if isResultTopic(topic) {
		return p.resultPub.Publish(topic, messages...)
	}
	return p.jobPub.Publish(topic, messages...)
}

func (p *pubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if isResultTopic(topic) {
		return p.resultSub.Subscribe(ctx, topic)
	}
	return p.jobSub.Subscribe(ctx, topic)
}

// Close closes both channels. Closing a Go channel twice is a no-op.
func (p *pubSub) Close() error {
	return errors.Join(p.jobSub.Close(), p.jobPub.Close(), p.resultSub.Close(), p.resultPub.Close())
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
