package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	clientpkg "github.com/drblury/jobflow/internal/runtime/client"
	configpkg "github.com/drblury/jobflow/internal/runtime/config"
	"github.com/drblury/jobflow/internal/runtime/discovery"
	errspkg "github.com/drblury/jobflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/jobflow/internal/runtime/logging"
	"github.com/drblury/jobflow/internal/runtime/subscription"
	"github.com/drblury/jobflow/transport"
)

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to use the defaults.
type ServiceDependencies struct {
	// Components supplies the job handlers to subscribe.
	Components discovery.Container

	// TransportRegistry defaults to transport.DefaultRegistry.
	TransportRegistry *transport.Registry

	Hooks clientpkg.JobHooks

	// MetricsRegisterer enables job metrics. When nil and the config enables
	// metrics, prometheus.DefaultRegisterer is used.
	MetricsRegisterer prometheus.Registerer

	TracerProvider trace.TracerProvider
}

// Service owns the job client and every subscription opened at startup.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	client *clientpkg.Client

	mu            sync.RWMutex
	subscriptions []SubscriptionInfo
	closeOnce     sync.Once
	closeErr      error
}

// NewService is TryNewService that panics on error.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) *Service {
	svc, err := TryNewService(ctx, conf, log, deps)
	if err != nil {
		panic(err)
	}
	return svc
}

// TryNewService builds the job client, discovers the handlers of
// deps.Components, resolves their configuration and opens one subscription
// per handler. Any build, discovery or configuration error aborts startup
// before a subscription is opened.
func TryNewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	started := time.Now()

	log.Info("Creating job worker service", loggingpkg.LogFields{
		"transport": conf.Transport,
		"config":    conf.String(),
	})

	c, err := clientpkg.Build(ctx, conf, log, clientOptions(deps)...)
	if err != nil {
		return nil, fmt.Errorf("build job client: %w", err)
	}

	s := &Service{Conf: conf, Logger: log, client: c}
	if err := s.subscribe(ctx, deps.Components); err != nil {
		_ = c.Close()
		return nil, err
	}

	log.Info("Application started", loggingpkg.LogFields{
		"startup_ms":    time.Since(started).Milliseconds(),
		"subscriptions": len(s.subscriptions),
	})
	return s, nil
}

func clientOptions(deps ServiceDependencies) []clientpkg.Option {
	opts := []clientpkg.Option{clientpkg.WithJobHooks(deps.Hooks)}
	if deps.TransportRegistry != nil {
		opts = append(opts, clientpkg.WithTransportRegistry(deps.TransportRegistry))
	}
	if deps.MetricsRegisterer != nil {
		opts = append(opts, clientpkg.WithMetrics(deps.MetricsRegisterer))
	}
	if deps.TracerProvider != nil {
		opts = append(opts, clientpkg.WithTracerProvider(deps.TracerProvider))
	}
	return opts
}

// subscribe resolves every handler before the first subscription opens.
func (s *Service) subscribe(ctx context.Context, components discovery.Container) error {
	descriptors, err := discovery.Discover(components)
	if err != nil {
		return fmt.Errorf("discover job handlers: %w", err)
	}

	specs, err := subscription.ResolveAll(descriptors, s.Conf.Subscriptions)
	if err != nil {
		return fmt.Errorf("resolve subscriptions: %w", err)
	}

	registrar, err := NewRegistrar(s.client, s.Logger)
	if err != nil {
		return err
	}

	infos := make([]SubscriptionInfo, 0, len(descriptors))
	for i, d := range descriptors {
		info, err := registrar.Register(ctx, d, specs[i])
		if err != nil {
			return err
		}
		infos = append(infos, info)
	}

	s.mu.Lock()
	s.subscriptions = infos
	s.mu.Unlock()
	return nil
}

// Client returns the job client shared by every subscription.
func (s *Service) Client() *clientpkg.Client {
	return s.client
}

// Subscriptions returns the registration of every discovered handler.
func (s *Service) Subscriptions() []SubscriptionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SubscriptionInfo, len(s.subscriptions))
	copy(out, s.subscriptions)
	return out
}

// Wait blocks until ctx is done and then closes the service.
func (s *Service) Wait(ctx context.Context) error {
	<-ctx.Done()
	return s.Close()
}

// Close stops every subscription and the job client. It is safe to call more
// than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.Logger.Info("Stopping job worker service", nil)
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}
