// Package http provides an HTTP transport. Jobs are pushed by the gateway to
// the worker's HTTP server and created or settled by posting to the gateway.
package http

import (
	"context"
	"net"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/jobflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	Register()
}

// Register adds the HTTP transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// basicAuth adds the cloud credentials to every gateway request.
type basicAuth struct {
	clientID     string
	clientSecret string
	next         nethttp.RoundTripper
}

func (b basicAuth) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(b.clientID, b.clientSecret)
	return b.next.RoundTrip(req)
}

// NewHTTPClient builds the gateway client: the request timeout bounds each
// call, keep-alive applies to idle connections and TLS follows the config.
func NewHTTPClient(cfg transport.Config) (*nethttp.Client, error) {
	tlsCfg, err := transport.TLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: 30 * time.Second}
	if keepAlive := cfg.GetKeepAlive(); keepAlive > 0 {
		dialer.KeepAlive = keepAlive
	}

	base := nethttp.DefaultTransport.(*nethttp.Transport).Clone()
	base.DialContext = dialer.DialContext
	base.TLSClientConfig = tlsCfg
	if keepAlive := cfg.GetKeepAlive(); keepAlive > 0 {
		base.IdleConnTimeout = keepAlive
	}

	var rt nethttp.RoundTripper = base
	if creds, ok := cfg.GetCredentials(); ok {
		rt = basicAuth{clientID: creds.ClientID, clientSecret: creds.ClientSecret, next: base}
	}

	return &nethttp.Client{
		Transport: rt,
		Timeout:   cfg.GetRequestTimeout(),
	}, nil
}

// Build creates a new HTTP transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	serverAddr := cfg.GetHTTPServerAddress()
	gateway := cfg.GetGatewayAddress()
	if gateway != "" && !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}

	client, err := NewHTTPClient(cfg)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(gateway+topic, msg)
			},
			Client: client,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		serverAddr,
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	// Start HTTP server in background if subscriber is the right type
	go func() {
		if s, ok := subscriber.(*http.Subscriber); ok {
			if err := s.StartHTTPServer(); err != nil {
				logger.Error("Failed to start HTTP subscriber server", err, nil)
			}
		}
	}()

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
