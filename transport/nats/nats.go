// Package nats provides a NATS Core transport. Workers of one topic share a
// queue group so that each job reaches a single worker.
package nats

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/jobflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// QueueGroupPrefix names the queue groups shared by workers of a topic.
const QueueGroupPrefix = "jobflow"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// ConnectOptions translates the connection settings into nats.go options:
// cloud credentials become user info, TLS settings become a secure
// connection, keep-alive becomes the ping interval and the request timeout
// bounds connecting.
func ConnectOptions(cfg transport.Config) ([]nc.Option, error) {
	opts := []nc.Option{nc.Name("jobflow")}

	if creds, ok := cfg.GetCredentials(); ok {
		opts = append(opts, nc.UserInfo(creds.ClientID, creds.ClientSecret))
	}

	tlsCfg, err := transport.TLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts = append(opts, nc.Secure(tlsCfg))
	}

	if keepAlive := cfg.GetKeepAlive(); keepAlive > 0 {
		opts = append(opts, nc.PingInterval(keepAlive))
	}
	if timeout := cfg.GetRequestTimeout(); timeout > 0 {
		opts = append(opts, nc.Timeout(timeout))
	}
	return opts, nil
}

// Build creates a new NATS transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetGatewayAddress()
	marshaler := &nats.NATSMarshaler{}

	natsOptions, err := ConnectOptions(cfg)
	if err != nil {
		return transport.Transport{}, err
	}
	core := nats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: natsOptions,
			Marshaler:   marshaler,
			JetStream:   core,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:              url,
			QueueGroupPrefix: QueueGroupPrefix,
			NatsOptions:      natsOptions,
			AckWaitTimeout:   cfg.GetJobTimeout(),
			Unmarshaler:      marshaler,
			JetStream:        core,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
