package client

import (
	"errors"
	"strings"
	"time"

	configpkg "github.com/drblury/jobflow/internal/runtime/config"
	errspkg "github.com/drblury/jobflow/internal/runtime/errors"
	idspkg "github.com/drblury/jobflow/internal/runtime/ids"
	"github.com/drblury/jobflow/transport"
)

// Client defaults used when the configuration leaves a setting unset.
const (
	DefaultTransport         = "channel"
	DefaultRequestTimeout    = 20 * time.Second
	DefaultJobPollInterval   = 100 * time.Millisecond
	DefaultJobTimeout        = 5 * time.Minute
	DefaultMessageTimeToLive = time.Hour
	DefaultKeepAlive         = 45 * time.Second
	DefaultExecutionThreads  = 1
	DefaultMaxJobsActive     = 32

	// inMemoryGateway is reported for the channel transport, which has no address.
	inMemoryGateway = "in-memory"
)

// Mode is the connection mode selected from the credentials.
type Mode string

const (
	ModeLocal Mode = "local"
	ModeCloud Mode = "cloud"
)

// Connection is the resolved connection configuration of a client. It is
// handed to the transport registry as the transport.Config.
type Connection struct {
	Transport         string
	GatewayAddress    string
	Mode              Mode
	Credentials       transport.Credentials
	Plaintext         bool
	CACertificatePath string

	RequestTimeout    time.Duration
	PollInterval      time.Duration
	JobTimeout        time.Duration
	MessageTimeToLive time.Duration
	KeepAlive         time.Duration

	WorkerName       string
	ExecutionThreads int

	KafkaConsumerGroup string
	AWSEndpoint        string
	HTTPServerAddress  string
	StreamName         string
}

var _ transport.Config = Connection{}

// NewConnection resolves conf into connection settings. Cloud mode is
// selected when cluster id, client id and client secret are all present;
// any other non-empty subset is rejected. Tuning values apply only when
// present and every malformed duration is reported.
func NewConnection(conf *configpkg.Config) (Connection, error) {
	if conf == nil {
		return Connection{}, errspkg.ErrConfigRequired
	}
	if conf.Cloud.Partial() {
		return Connection{}, errspkg.ErrPartialCloudCredentials
	}

	conn := Connection{
		Transport:          strings.ToLower(strings.TrimSpace(conf.Transport)),
		GatewayAddress:     strings.TrimSpace(conf.GatewayAddress),
		Mode:               ModeLocal,
		Credentials:        transport.Credentials{Region: conf.Cloud.Region},
		Plaintext:          true,
		CACertificatePath:  conf.CACertificatePath,
		RequestTimeout:     DefaultRequestTimeout,
		PollInterval:       DefaultJobPollInterval,
		JobTimeout:         DefaultJobTimeout,
		MessageTimeToLive:  DefaultMessageTimeToLive,
		KeepAlive:          DefaultKeepAlive,
		WorkerName:         conf.DefaultJobWorkerName,
		ExecutionThreads:   DefaultExecutionThreads,
		KafkaConsumerGroup: conf.KafkaConsumerGroup,
		AWSEndpoint:        conf.AWSEndpoint,
		HTTPServerAddress:  conf.HTTPServerAddress,
		StreamName:         conf.StreamName,
	}
	if conn.Transport == "" {
		conn.Transport = DefaultTransport
	}
	if conn.GatewayAddress == "" && conn.Transport == DefaultTransport {
		conn.GatewayAddress = inMemoryGateway
	}
	if conn.WorkerName == "" {
		conn.WorkerName = idspkg.WorkerName()
	}

	if conf.Cloud.Complete() {
		conn.Mode = ModeCloud
		conn.Plaintext = false
		conn.Credentials = transport.Credentials{
			ClusterID:    conf.Cloud.ClusterID,
			ClientID:     conf.Cloud.ClientID,
			ClientSecret: conf.Cloud.ClientSecret,
			Region:       conf.Cloud.Region,
		}
	} else if conf.UsePlaintextConnection != nil {
		conn.Plaintext = *conf.UsePlaintextConnection
	}

	if conf.NumJobWorkerExecutionThreads > 0 {
		conn.ExecutionThreads = conf.NumJobWorkerExecutionThreads
	}

	var errs []error
	for _, d := range []struct {
		field  string
		value  string
		target *time.Duration
	}{
		{"defaultRequestTimeout", conf.DefaultRequestTimeout, &conn.RequestTimeout},
		{"defaultJobPollInterval", conf.DefaultJobPollInterval, &conn.PollInterval},
		{"defaultJobTimeout", conf.DefaultJobTimeout, &conn.JobTimeout},
		{"defaultMessageTimeToLive", conf.DefaultMessageTimeToLive, &conn.MessageTimeToLive},
		{"keepAlive", conf.KeepAlive, &conn.KeepAlive},
	} {
		parsed, err := configpkg.ParseOptionalDuration(d.value)
		if err != nil {
			errs = append(errs, &errspkg.DurationError{Field: d.field, Value: d.value, Err: err})
			continue
		}
		if parsed != nil {
			*d.target = *parsed
		}
	}
	if err := errors.Join(errs...); err != nil {
		return Connection{}, err
	}

	return conn, nil
}

func (c Connection) GetTransport() string      { return c.Transport }
func (c Connection) GetGatewayAddress() string { return c.GatewayAddress }

func (c Connection) GetCredentials() (transport.Credentials, bool) {
	return c.Credentials, c.Mode == ModeCloud
}

// TLSEnabled is always true in cloud mode.
func (c Connection) TLSEnabled() bool                 { return c.Mode == ModeCloud || !c.Plaintext }
func (c Connection) GetCACertificatePath() string     { return c.CACertificatePath }
func (c Connection) GetKeepAlive() time.Duration      { return c.KeepAlive }
func (c Connection) GetRequestTimeout() time.Duration { return c.RequestTimeout }
func (c Connection) GetPollInterval() time.Duration   { return c.PollInterval }
func (c Connection) GetJobTimeout() time.Duration     { return c.JobTimeout }
func (c Connection) GetKafkaConsumerGroup() string    { return c.KafkaConsumerGroup }
func (c Connection) GetAWSEndpoint() string           { return c.AWSEndpoint }
func (c Connection) GetHTTPServerAddress() string     { return c.HTTPServerAddress }
func (c Connection) GetStreamName() string            { return c.StreamName }
