// Package transport defines the core interfaces and types for job-queue transports.
// Each transport implementation (kafka, rabbitmq, aws, etc.) lives in its own
// sub-package and registers itself with the transport registry.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a factory.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder is the function signature for creating a transport from config.
// Each transport package provides a Builder function that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Credentials are the cloud credentials of an authenticated connection.
type Credentials struct {
	ClusterID    string
	ClientID     string
	ClientSecret string
	Region       string
}

// Config provides the connection values needed by transports.
// Transports read only what they need without depending on the config package.
type Config interface {
	// GetTransport returns the transport name.
	GetTransport() string

	// GetGatewayAddress returns the broker URL, broker list or DSN.
	GetGatewayAddress() string

	// GetCredentials returns the cloud credentials and whether they are
	// complete. Incomplete credentials select the local connection mode.
	GetCredentials() (Credentials, bool)

	// TLSEnabled reports whether the connection must use TLS.
	TLSEnabled() bool
	GetCACertificatePath() string

	GetKeepAlive() time.Duration
	GetRequestTimeout() time.Duration
	GetPollInterval() time.Duration
	GetJobTimeout() time.Duration

	// Kafka
	GetKafkaConsumerGroup() string

	// AWS
	GetAWSEndpoint() string

	// HTTP
	GetHTTPServerAddress() string

	// NATS JetStream
	GetStreamName() string
}

// QueueIntrospector is implemented by subscribers that can count the jobs of
// a topic still waiting to be completed.
type QueueIntrospector interface {
	GetPendingCount(topic string) (int64, error)
}

// TLSConfig builds the client TLS configuration for cfg, or returns nil when
// TLS is disabled. A configured CA certificate replaces the system roots.
func TLSConfig(cfg Config) (*tls.Config, error) {
	if cfg == nil || !cfg.TLSEnabled() {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	path := cfg.GetCACertificatePath()
	if path == "" {
		return tlsCfg, nil
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	tlsCfg.RootCAs = pool
	return tlsCfg, nil
}
