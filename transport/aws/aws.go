// Package aws provides an AWS SNS/SQS transport. Each topic is backed by one
// SQS queue shared by its workers; the visibility timeout is the job lock.
// Messages are received one at a time, so the lock starts when a job is
// handed to the client.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/jobflow/transport"
)

const TransportName = "aws"

const (
	// LocalStack accepts any twelve digit account.
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12

	// SQS limit for the long-poll wait of a ReceiveMessage call.
	maxWaitSeconds = 20
)

// Swappable in tests.
var (
	DefaultConfigLoader  = awsconfig.LoadDefaultConfig
	TopicResolverFactory = sns.NewGenerateArnTopicResolver
	PublisherFactory     = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return sns.NewPublisher(cfg, logger)
	}
	SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return sns.NewSubscriber(cfg, sqsCfg, logger)
	}
)

func init() {
	Register()
}

// Register adds the AWS transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.AWSCapabilities)
}

func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}

// session is the resolved AWS connection shared by the publisher and the
// subscriber of one transport.
type session struct {
	cfg       aws.Config
	accountID string
	endpoint  *url.URL
	topics    sns.TopicResolver
}

// Build creates an SNS publisher and an SNS-fed SQS subscriber. Cloud
// credentials map onto static AWS keys; the cluster id is the account id.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	s, err := newSession(ctx, cfg, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	logger.Info("Created AWS session", watermill.LogFields{
		"region":          s.cfg.Region,
		"account_id":      s.accountID,
		"custom_endpoint": s.endpoint != nil,
	})

	publisher, err := PublisherFactory(s.publisherConfig(), logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("create SNS publisher: %w", err)
	}
	subscriber, err := SubscriberFactory(s.subscriberConfig(), s.queueConfig(cfg), logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, fmt.Errorf("create SQS subscriber: %w", err)
	}
	return transport.Transport{
		Publisher:  publisher,
		Subscriber: transport.StampLocks(subscriber, cfg.GetJobTimeout()),
	}, nil
}

func newSession(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (*session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("aws transport: config is required")
	}
	creds, complete := cfg.GetCredentials()

	s := &session{}
	if raw := cfg.GetAWSEndpoint(); raw != "" {
		endpoint, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse AWS endpoint %q: %w", raw, err)
		}
		s.endpoint = endpoint
	}

	var opts []func(*awsconfig.LoadOptions) error
	if creds.Region != "" {
		opts = append(opts, awsconfig.WithRegion(creds.Region))
	}
	if complete {
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentials(creds.ClientID, creds.ClientSecret)))
	}
	if s.endpoint != nil {
		opts = append(opts, awsconfig.WithBaseEndpoint(s.endpoint.String()))
	}

	loaded, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		logger.Error("Failed to load AWS config", err, watermill.LogFields{"region": creds.Region})
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if creds.Region != "" {
		loaded.Region = creds.Region
	}
	if s.endpoint != nil && loaded.BaseEndpoint == nil {
		loaded.BaseEndpoint = aws.String(s.endpoint.String())
	}
	s.cfg = loaded
	s.accountID = accountID(creds.ClusterID, s.endpoint != nil)

	s.topics, err = TopicResolverFactory(s.accountID, s.cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("create SNS topic resolver: %w", err)
	}
	return s, nil
}

// accountID cleans the configured cluster id. Against a custom endpoint a
// missing or malformed account falls back to the LocalStack account.
func accountID(clusterID string, customEndpoint bool) string {
	id := strings.Trim(clusterID, "\"' ")
	if customEndpoint && len(id) != awsAccountIDLength {
		return localstackAccountID
	}
	return id
}

func (s *session) publisherConfig() sns.PublisherConfig {
	pc := sns.PublisherConfig{
		TopicResolver: s.topics,
		AWSConfig:     s.cfg,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}
	if s.endpoint != nil {
		endpoint := s.endpoint.String()
		pc.OptFns = []func(*amazonsns.Options){
			func(o *amazonsns.Options) { o.BaseEndpoint = aws.String(endpoint) },
		}
	}
	return pc
}

func (s *session) subscriberConfig() sns.SubscriberConfig {
	sc := sns.SubscriberConfig{
		AWSConfig:     s.cfg,
		TopicResolver: s.topics,
		// One queue per topic, so every worker of a job type competes for it.
		GenerateSqsQueueName: func(ctx context.Context, arn sns.TopicArn) (string, error) {
			topic, err := sns.ExtractTopicNameFromTopicArn(arn)
			return string(topic), err
		},
	}
	if s.endpoint != nil {
		sc.OptFns = []func(*amazonsns.Options){
			amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{
				Endpoint: smithyendpoints.Endpoint{URI: *s.endpoint},
			}),
		}
	}
	return sc
}

func (s *session) queueConfig(cfg transport.Config) sqs.SubscriberConfig {
	qc := sqs.SubscriberConfig{
		AWSConfig:                   s.cfg,
		GenerateReceiveMessageInput: receiveMessageInput(cfg),
	}
	if s.endpoint != nil {
		qc.OptFns = []func(*amazonsqs.Options){
			amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
				Endpoint: smithyendpoints.Endpoint{URI: *s.endpoint},
			}),
		}
	}
	return qc
}

// receiveMessageInput maps the subscription settings onto SQS receive calls:
// the lock duration is the visibility timeout and the request timeout is the
// long-poll wait. The subscriber hands a batch out one message at a time, so
// a single message is received per call to keep queued jobs off the clock.
func receiveMessageInput(cfg transport.Config) func(context.Context, sqs.QueueURL) (*amazonsqs.ReceiveMessageInput, error) {
	var defaults transport.SubscribeOptions
	if cfg != nil {
		defaults = transport.SubscribeOptions{
			LockDuration:   cfg.GetJobTimeout(),
			RequestTimeout: cfg.GetRequestTimeout(),
		}
	}

	return func(ctx context.Context, queueURL sqs.QueueURL) (*amazonsqs.ReceiveMessageInput, error) {
		opts, _ := transport.SubscribeOptionsFrom(ctx)
		lock := transport.OrDefault(opts.LockDuration, defaults.LockDuration)
		wait := transport.OrDefault(opts.RequestTimeout, defaults.RequestTimeout)

		input := &amazonsqs.ReceiveMessageInput{
			QueueUrl:              aws.String(string(queueURL)),
			MessageAttributeNames: []string{"All"},
			MaxNumberOfMessages:   1,
			WaitTimeSeconds:       maxWaitSeconds,
		}
		if lock > 0 {
			input.VisibilityTimeout = int32(max(lock.Round(time.Second)/time.Second, 1))
		}
		if wait > 0 {
			input.WaitTimeSeconds = int32(min(wait.Round(time.Second)/time.Second, maxWaitSeconds))
		}
		return input, nil
	}
}

func staticCredentials(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: accessKeyID, SecretAccessKey: secretAccessKey}, nil
	})
}
