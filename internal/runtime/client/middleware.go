package client

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	idspkg "github.com/drblury/jobflow/internal/runtime/ids"
	"github.com/drblury/jobflow/internal/runtime/jobs"
)

// middlewares returns the chain every job runs through, outermost first:
// correlation id, tracing, hooks and panic recovery.
func (s *Subscription) middlewares() message.HandlerMiddleware {
	chain := []message.HandlerMiddleware{
		correlationIDMiddleware,
		s.tracerMiddleware(),
		s.hooksMiddleware(),
		middleware.Recoverer,
	}
	return func(h message.HandlerFunc) message.HandlerFunc {
		for i := len(chain) - 1; i >= 0; i-- {
			h = chain[i](h)
		}
		return h
	}
}

// correlationIDMiddleware injects a correlation ID into the message metadata when missing.
func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata.Get(jobs.MetadataCorrelationID) == "" {
			msg.Metadata.Set(jobs.MetadataCorrelationID, idspkg.CreateULID())
		}
		return h(msg)
	}
}

// tracerMiddleware wraps the handler in a consumer span named after the topic.
func (s *Subscription) tracerMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx, span := s.client.tracer.Start(msg.Context(), "job "+s.settings.Topic,
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("jobflow.job.key", msg.Metadata.Get(jobs.MetadataJobKey)),
					attribute.String("jobflow.job.type", s.settings.Topic),
					attribute.String("jobflow.worker", s.settings.WorkerName),
					attribute.String("jobflow.handler", s.settings.HandlerName),
					attribute.String("jobflow.correlation_id", msg.Metadata.Get(jobs.MetadataCorrelationID)),
				),
			)
			defer span.End()
			msg.SetContext(ctx)

			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return msgs, err
		}
	}
}

// hooksMiddleware invokes the client's job hooks around the handler.
func (s *Subscription) hooksMiddleware() message.HandlerMiddleware {
	hooks := s.client.hooks
	return func(h message.HandlerFunc) message.HandlerFunc {
		if hooks.OnJobStart == nil && hooks.OnJobDone == nil && hooks.OnJobError == nil {
			return h
		}
		return func(msg *message.Message) ([]*message.Message, error) {
			jobCtx := JobContext{
				HandlerName: s.settings.HandlerName,
				Topic:       s.settings.Topic,
				Worker:      s.settings.WorkerName,
				Context:     msg.Context(),
				StartedAt:   time.Now(),
			}
			if a := activeJobFrom(msg.Context()); a != nil {
				jobCtx.JobKey = a.env.Key
				jobCtx.Retries = a.env.Retries
			}

			if hooks.OnJobStart != nil {
				hooks.OnJobStart(jobCtx)
			}

			msgs, err := h(msg)

			jobCtx.Duration = time.Since(jobCtx.StartedAt)
			if err != nil {
				if hooks.OnJobError != nil {
					hooks.OnJobError(jobCtx, err)
				}
			} else if hooks.OnJobDone != nil {
				hooks.OnJobDone(jobCtx)
			}
			return msgs, err
		}
	}
}
