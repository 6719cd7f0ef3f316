package transport

// Capabilities describes how a transport treats the jobs it carries. The
// client reads them at build time to warn about semantics a transport cannot
// honour, such as handing a released job to another attempt.
type Capabilities struct {
	// Name is the registered transport name.
	Name string

	// Redelivery reports whether a nacked job is offered again. Without it a
	// released or lock-expired job is lost.
	Redelivery bool

	// Backlog reports whether jobs created before a worker subscribes are
	// delivered once it does.
	Backlog bool

	// Durable reports whether queued jobs survive a restart of the process.
	Durable bool

	// Ordered reports whether jobs of one topic are delivered in creation order.
	Ordered bool

	// Tracing reports whether message metadata reaches the handler, carrying
	// correlation ids and trace context.
	Tracing bool

	// MaxPayloadBytes caps the encoded job size. Zero means no known limit.
	MaxPayloadBytes int64
}

// Limitations lists the job semantics the transport cannot provide, in a
// stable order. An empty result means every semantic is available.
func (c Capabilities) Limitations() []string {
	var out []string
	if !c.Redelivery {
		out = append(out, "released jobs are not redelivered")
	}
	if !c.Backlog {
		out = append(out, "jobs created before subscribing are dropped")
	}
	if !c.Durable {
		out = append(out, "queued jobs are lost on restart")
	}
	return out
}

var (
	// ChannelCapabilities: an in-memory queue for tests and local
	// development. Published jobs stay in memory until the process exits.
	ChannelCapabilities = Capabilities{
		Name:       "channel",
		Redelivery: true,
		Backlog:    true,
		Ordered:    true,
		Tracing:    true,
	}

	// KafkaCapabilities: a nacked message stalls its partition rather than
	// going back to the queue.
	KafkaCapabilities = Capabilities{
		Name:            "kafka",
		Backlog:         true,
		Durable:         true,
		Ordered:         true,
		Tracing:         true,
		MaxPayloadBytes: 1 << 20,
	}

	RabbitMQCapabilities = Capabilities{
		Name:       "rabbitmq",
		Redelivery: true,
		Backlog:    true,
		Durable:    true,
		Ordered:    true,
		Tracing:    true,
	}

	// NATSCapabilities: core NATS is fire and forget.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		Tracing:         true,
		MaxPayloadBytes: 1 << 20,
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:            "nats-jetstream",
		Redelivery:      true,
		Backlog:         true,
		Durable:         true,
		Ordered:         true,
		Tracing:         true,
		MaxPayloadBytes: 1 << 20,
	}

	// AWSCapabilities: standard SQS queues do not preserve order.
	AWSCapabilities = Capabilities{
		Name:            "aws",
		Redelivery:      true,
		Backlog:         true,
		Durable:         true,
		Tracing:         true,
		MaxPayloadBytes: 256 << 10,
	}

	PostgresCapabilities = Capabilities{
		Name:       "postgres",
		Redelivery: true,
		Backlog:    true,
		Durable:    true,
		Ordered:    true,
	}

	// HTTPCapabilities: jobs are pushed to a listening worker and answered
	// synchronously.
	HTTPCapabilities = Capabilities{
		Name:    "http",
		Tracing: true,
	}
)

// GetCapabilities returns the capabilities registered for transportName in
// the default registry.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
