// Package transporttest provides a static transport.Config for tests.
package transporttest

import (
	"time"

	"github.com/drblury/jobflow/transport"
)

// Config is a transport.Config backed by plain fields.
type Config struct {
	Transport         string
	GatewayAddress    string
	Credentials       transport.Credentials
	TLS               bool
	CACertificatePath string
	KeepAlive         time.Duration
	RequestTimeout    time.Duration
	PollInterval      time.Duration
	JobTimeout        time.Duration
	ConsumerGroup     string
	AWSEndpoint       string
	HTTPServerAddress string
	StreamName        string
}

var _ transport.Config = (*Config)(nil)

func (c *Config) GetTransport() string      { return c.Transport }
func (c *Config) GetGatewayAddress() string { return c.GatewayAddress }

func (c *Config) GetCredentials() (transport.Credentials, bool) {
	complete := c.Credentials.ClusterID != "" && c.Credentials.ClientID != "" && c.Credentials.ClientSecret != ""
	return c.Credentials, complete
}

func (c *Config) TLSEnabled() bool                 { return c.TLS }
func (c *Config) GetCACertificatePath() string     { return c.CACertificatePath }
func (c *Config) GetKeepAlive() time.Duration      { return c.KeepAlive }
func (c *Config) GetRequestTimeout() time.Duration { return c.RequestTimeout }
func (c *Config) GetPollInterval() time.Duration   { return c.PollInterval }
func (c *Config) GetJobTimeout() time.Duration     { return c.JobTimeout }
func (c *Config) GetKafkaConsumerGroup() string    { return c.ConsumerGroup }
func (c *Config) GetAWSEndpoint() string           { return c.AWSEndpoint }
func (c *Config) GetHTTPServerAddress() string     { return c.HTTPServerAddress }
func (c *Config) GetStreamName() string            { return c.StreamName }
