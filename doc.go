// Package jobflow subscribes declared job handlers to a pull-based job queue
// at process startup.
//
// Components declare their handlers either as a whole, by implementing
// Handler and ComponentWorker, or per method, by implementing MethodWorkers
// and exposing methods shaped like
//
//	func (c *Billing) Charge(client jobflow.JobClient, job jobflow.ActivatedJob) error
//
// TryNewService builds the job client from Config, discovers every declared
// handler, merges each declaration with the overrides configured for its
// topic in Config.Subscriptions, and opens one subscription per handler.
// A malformed duration or partial cloud credentials abort startup before any
// subscription is opened.
//
// A handler settles each job with JobClient.Complete or JobClient.Fail before
// its lock expires. A job that is not settled in time, or that the handler
// returns without settling, is released for another worker. Failing a job
// with retries left queues it again. Failing it with none left reports an
// incident on the result topic of its type.
//
// # Transports
//
// Jobs travel over Watermill transports selected by Config.Transport:
//   - channel: in-memory Go channels for tests and local development
//   - nats, nats-jetstream: NATS core and JetStream
//   - kafka: Kafka consumer groups
//   - rabbitmq: AMQP durable queues
//   - aws: SNS/SQS, with LocalStack support
//   - http: HTTP push endpoints
//   - postgres: lock-based queue table using SKIP LOCKED
//
// Import the transports you need, or all of them via
// _ "github.com/drblury/jobflow/transport/transports".
//
// # Job Hooks
//
// ServiceDependencies.Hooks receives OnJobStart, OnJobDone and OnJobError
// callbacks around every handler invocation. LoggingHooks and AlertingHooks
// are ready-made hook sets.
package jobflow
