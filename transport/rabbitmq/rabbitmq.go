// Package rabbitmq provides a RabbitMQ/AMQP transport. Every topic is a
// durable queue shared by all workers of that topic.
package rabbitmq

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/jobflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

// Register registers the RabbitMQ transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// ConnectionURI returns the gateway address with cloud credentials as user
// info and the amqps scheme when TLS is enabled.
func ConnectionURI(cfg transport.Config) (string, error) {
	address := cfg.GetGatewayAddress()
	creds, cloud := cfg.GetCredentials()
	if !cloud && !cfg.TLSEnabled() {
		return address, nil
	}

	parsed, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("invalid gateway address: %w", err)
	}
	if cloud {
		parsed.User = url.UserPassword(creds.ClientID, creds.ClientSecret)
	}
	if cfg.TLSEnabled() && parsed.Scheme == "amqp" {
		parsed.Scheme = "amqps"
	}
	return parsed.String(), nil
}

// Build creates a new RabbitMQ transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	uri, err := ConnectionURI(cfg)
	if err != nil {
		return transport.Transport{}, err
	}
	tlsCfg, err := transport.TLSConfig(cfg)
	if err != nil {
		return transport.Transport{}, err
	}

	amqpConfig := amqp.NewDurableQueueConfig(uri)
	amqpConfig.Connection.TLSConfig = tlsCfg

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   uri,
		TLSConfig: tlsCfg,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
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
	return transport.RabbitMQCapabilities
}
