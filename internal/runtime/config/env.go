package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// FromEnv overlays JOBFLOW_* environment variables onto cfg. Malformed boolean
// and numeric values are reported and leave their field unchanged.
func FromEnv(cfg *Config) error {
	stringVars := map[string]*string{
		"JOBFLOW_TRANSPORT":                    &cfg.Transport,
		"JOBFLOW_GATEWAY_ADDRESS":              &cfg.GatewayAddress,
		"JOBFLOW_CLOUD_CLUSTER_ID":             &cfg.Cloud.ClusterID,
		"JOBFLOW_CLOUD_CLIENT_ID":              &cfg.Cloud.ClientID,
		"JOBFLOW_CLOUD_CLIENT_SECRET":          &cfg.Cloud.ClientSecret,
		"JOBFLOW_CLOUD_REGION":                 &cfg.Cloud.Region,
		"JOBFLOW_CA_CERTIFICATE_PATH":          &cfg.CACertificatePath,
		"JOBFLOW_DEFAULT_REQUEST_TIMEOUT":      &cfg.DefaultRequestTimeout,
		"JOBFLOW_DEFAULT_JOB_POLL_INTERVAL":    &cfg.DefaultJobPollInterval,
		"JOBFLOW_DEFAULT_JOB_TIMEOUT":          &cfg.DefaultJobTimeout,
		"JOBFLOW_DEFAULT_MESSAGE_TIME_TO_LIVE": &cfg.DefaultMessageTimeToLive,
		"JOBFLOW_DEFAULT_JOB_WORKER_NAME":      &cfg.DefaultJobWorkerName,
		"JOBFLOW_KEEP_ALIVE":                   &cfg.KeepAlive,
		"JOBFLOW_KAFKA_CONSUMER_GROUP":         &cfg.KafkaConsumerGroup,
		"JOBFLOW_AWS_ENDPOINT":                 &cfg.AWSEndpoint,
		"JOBFLOW_HTTP_SERVER_ADDRESS":          &cfg.HTTPServerAddress,
		"JOBFLOW_STREAM_NAME":                  &cfg.StreamName,
	}
	for name, target := range stringVars {
		if v := os.Getenv(name); v != "" {
			*target = v
		}
	}

	var errs []error
	if v := os.Getenv("JOBFLOW_USE_PLAINTEXT_CONNECTION"); v != "" {
		if b, err := strconv.ParseBool(v); err != nil {
			errs = append(errs, envError("JOBFLOW_USE_PLAINTEXT_CONNECTION", v, err))
		} else {
			cfg.UsePlaintextConnection = &b
		}
	}
	if v := os.Getenv("JOBFLOW_NUM_JOB_WORKER_EXECUTION_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err != nil {
			errs = append(errs, envError("JOBFLOW_NUM_JOB_WORKER_EXECUTION_THREADS", v, err))
		} else {
			cfg.NumJobWorkerExecutionThreads = n
		}
	}
	if v := os.Getenv("JOBFLOW_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err != nil {
			errs = append(errs, envError("JOBFLOW_METRICS_ENABLED", v, err))
		} else {
			cfg.MetricsEnabled = b
		}
	}
	return errors.Join(errs...)
}

func envError(name, value string, err error) error {
	return fmt.Errorf("%s=%q: %w", name, value, err)
}
