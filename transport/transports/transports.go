// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/drblury/jobflow/transport/aws"
	_ "github.com/drblury/jobflow/transport/channel"
	_ "github.com/drblury/jobflow/transport/http"
	_ "github.com/drblury/jobflow/transport/jetstream"
	_ "github.com/drblury/jobflow/transport/kafka"
	"github.com/drblury/jobflow/transport/nats"
	"github.com/drblury/jobflow/transport/rabbitmq"
	_ "github.com/drblury/jobflow/transport/postgres"
)

func init() {
	nats.Register()
	rabbitmq.Register()
}
