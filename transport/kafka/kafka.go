// Package kafka provides a Kafka transport. Workers of a topic share one
// consumer group, so each job partition is served by a single worker.
package kafka

import (
	"context"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/jobflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// DefaultConsumerGroup is used when no consumer group is configured.
const DefaultConsumerGroup = "jobflow-workers"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the Kafka transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Brokers splits the comma separated gateway address into a broker list.
func Brokers(address string) []string {
	var brokers []string
	for _, b := range strings.Split(address, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// applyConnection copies credentials, TLS and timeouts onto a sarama config.
func applyConnection(saramaCfg *sarama.Config, cfg transport.Config) error {
	if creds, ok := cfg.GetCredentials(); ok {
		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		saramaCfg.Net.SASL.User = creds.ClientID
		saramaCfg.Net.SASL.Password = creds.ClientSecret
	}

	tlsCfg, err := transport.TLSConfig(cfg)
	if err != nil {
		return err
	}
	if tlsCfg != nil {
		saramaCfg.Net.TLS.Enable = true
		saramaCfg.Net.TLS.Config = tlsCfg
	}

	if keepAlive := cfg.GetKeepAlive(); keepAlive > 0 {
		saramaCfg.Net.KeepAlive = keepAlive
	}
	if timeout := cfg.GetRequestTimeout(); timeout > 0 {
		saramaCfg.Net.DialTimeout = timeout
		saramaCfg.Net.ReadTimeout = timeout
		saramaCfg.Net.WriteTimeout = timeout
	}
	return nil
}

// Build creates a new Kafka transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := Brokers(cfg.GetGatewayAddress())
	consumerGroup := cfg.GetKafkaConsumerGroup()
	if consumerGroup == "" {
		consumerGroup = DefaultConsumerGroup
	}

	pubSarama := kafka.DefaultSaramaSyncPublisherConfig()
	if err := applyConnection(pubSarama, cfg); err != nil {
		return transport.Transport{}, err
	}
	subSarama := kafka.DefaultSaramaSubscriberConfig()
	if err := applyConnection(subSarama, cfg); err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: pubSarama,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			ConsumerGroup:         consumerGroup,
			OverwriteSaramaConfig: subSarama,
			NackResendSleep:       cfg.GetPollInterval(),
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
	return transport.KafkaCapabilities
}
