package client

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/jobflow/internal/runtime/config"
	errspkg "github.com/drblury/jobflow/internal/runtime/errors"
)

func boolPtr(b bool) *bool { return &b }

func TestNewConnectionDefaults(t *testing.T) {
	conn, err := NewConnection(&configpkg.Config{})
	require.NoError(t, err)

	assert.Equal(t, DefaultTransport, conn.Transport)
	assert.Equal(t, "in-memory", conn.GatewayAddress)
	assert.Equal(t, ModeLocal, conn.Mode)
	assert.True(t, conn.Plaintext)
	assert.False(t, conn.TLSEnabled())
	assert.Equal(t, DefaultRequestTimeout, conn.GetRequestTimeout())
	assert.Equal(t, DefaultJobPollInterval, conn.GetPollInterval())
	assert.Equal(t, DefaultJobTimeout, conn.GetJobTimeout())
	assert.Equal(t, DefaultMessageTimeToLive, conn.MessageTimeToLive)
	assert.Equal(t, DefaultKeepAlive, conn.GetKeepAlive())
	assert.Equal(t, DefaultExecutionThreads, conn.ExecutionThreads)
	assert.NotEmpty(t, conn.WorkerName)

	_, complete := conn.GetCredentials()
	assert.False(t, complete)
}

func TestNewConnectionLocalTLS(t *testing.T) {
	conn, err := NewConnection(&configpkg.Config{
		Transport:              "NATS",
		GatewayAddress:         "nats://broker:4222",
		UsePlaintextConnection: boolPtr(false),
		CACertificatePath:      "/etc/ca.pem",
	})
	require.NoError(t, err)

	assert.Equal(t, "nats", conn.GetTransport())
	assert.Equal(t, "nats://broker:4222", conn.GetGatewayAddress())
	assert.Equal(t, ModeLocal, conn.Mode)
	assert.True(t, conn.TLSEnabled())
	assert.Equal(t, "/etc/ca.pem", conn.GetCACertificatePath())
}

func TestNewConnectionCloudMode(t *testing.T) {
	conn, err := NewConnection(&configpkg.Config{
		Transport:              "kafka",
		GatewayAddress:         "broker:9092",
		UsePlaintextConnection: boolPtr(true),
		Cloud: configpkg.CloudConfig{
			ClusterID:    "cluster",
			ClientID:     "client",
			ClientSecret: "secret",
			Region:       "eu-1",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, ModeCloud, conn.Mode)
	assert.True(t, conn.TLSEnabled(), "cloud mode always uses TLS")

	creds, complete := conn.GetCredentials()
	assert.True(t, complete)
	assert.Equal(t, "cluster", creds.ClusterID)
	assert.Equal(t, "client", creds.ClientID)
	assert.Equal(t, "secret", creds.ClientSecret)
	assert.Equal(t, "eu-1", creds.Region)
}

func TestNewConnectionKeepsRegionInLocalMode(t *testing.T) {
	conn, err := NewConnection(&configpkg.Config{Transport: "aws", Cloud: configpkg.CloudConfig{Region: "us-east-1"}})
	require.NoError(t, err)

	creds, complete := conn.GetCredentials()
	assert.False(t, complete)
	assert.Equal(t, "us-east-1", creds.Region)
}

func TestNewConnectionRejectsPartialCredentials(t *testing.T) {
	_, err := NewConnection(&configpkg.Config{Cloud: configpkg.CloudConfig{ClusterID: "cluster", ClientID: "client"}})
	assert.ErrorIs(t, err, errspkg.ErrPartialCloudCredentials)
}

func TestNewConnectionAppliesPresentTuning(t *testing.T) {
	conn, err := NewConnection(&configpkg.Config{
		DefaultRequestTimeout:        "PT20S",
		DefaultJobPollInterval:       "PT2S",
		DefaultJobTimeout:            "PT1M",
		DefaultMessageTimeToLive:     "P1D",
		KeepAlive:                    "PT30S",
		DefaultJobWorkerName:         "billing",
		NumJobWorkerExecutionThreads: 4,
		KafkaConsumerGroup:           "group",
		AWSEndpoint:                  "http://localhost:4566",
		HTTPServerAddress:            ":8080",
		StreamName:                   "JOBS",
	})
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, conn.RequestTimeout)
	assert.Equal(t, 2*time.Second, conn.PollInterval)
	assert.Equal(t, time.Minute, conn.JobTimeout)
	assert.Equal(t, 24*time.Hour, conn.MessageTimeToLive)
	assert.Equal(t, 30*time.Second, conn.KeepAlive)
	assert.Equal(t, "billing", conn.WorkerName)
	assert.Equal(t, 4, conn.ExecutionThreads)
	assert.Equal(t, "group", conn.GetKafkaConsumerGroup())
	assert.Equal(t, "http://localhost:4566", conn.GetAWSEndpoint())
	assert.Equal(t, ":8080", conn.GetHTTPServerAddress())
	assert.Equal(t, "JOBS", conn.GetStreamName())
}

func TestNewConnectionIgnoresNonPositiveThreads(t *testing.T) {
	conn, err := NewConnection(&configpkg.Config{NumJobWorkerExecutionThreads: 0})
	require.NoError(t, err)
	assert.Equal(t, DefaultExecutionThreads, conn.ExecutionThreads)
}

func TestNewConnectionReportsEveryMalformedDuration(t *testing.T) {
	_, err := NewConnection(&configpkg.Config{
		DefaultJobTimeout: "TwentySeconds",
		KeepAlive:         "45s",
	})
	require.Error(t, err)

	var fields []string
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var durationErr *errspkg.DurationError
		require.True(t, errors.As(e, &durationErr))
		fields = append(fields, durationErr.Field)
	}
	assert.Equal(t, []string{"defaultJobTimeout", "keepAlive"}, fields)
}

func TestNewConnectionRequiresConfig(t *testing.T) {
	_, err := NewConnection(nil)
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)
}
