package jobflow

import (
	runtimepkg "github.com/drblury/jobflow/internal/runtime"
	"github.com/drblury/jobflow/internal/runtime/annotation"
	clientpkg "github.com/drblury/jobflow/internal/runtime/client"
	configpkg "github.com/drblury/jobflow/internal/runtime/config"
	"github.com/drblury/jobflow/internal/runtime/discovery"
	errspkg "github.com/drblury/jobflow/internal/runtime/errors"
	idspkg "github.com/drblury/jobflow/internal/runtime/ids"
	"github.com/drblury/jobflow/internal/runtime/jobs"
	"github.com/drblury/jobflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/jobflow/internal/runtime/logging"
	"github.com/drblury/jobflow/internal/runtime/subscription"
	"github.com/drblury/jobflow/transport"
)

type (
	Config               = configpkg.Config
	CloudConfig          = configpkg.CloudConfig
	SubscriptionOverride = configpkg.SubscriptionOverride

	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Registrar           = runtimepkg.Registrar
	SubscriptionInfo    = runtimepkg.SubscriptionInfo
	SubscriptionState   = runtimepkg.SubscriptionState

	// Declarations
	Worker           = annotation.Worker
	ComponentWorker  = annotation.ComponentWorker
	MethodWorkers    = annotation.MethodWorkers
	Container        = discovery.Container
	Components       = discovery.Components
	Descriptor       = discovery.Descriptor
	SubscriptionSpec = subscription.Spec

	// Job client
	Client               = clientpkg.Client
	ClientOption         = clientpkg.Option
	Connection           = clientpkg.Connection
	Subscription         = clientpkg.Subscription
	SubscriptionBuilder  = clientpkg.SubscriptionBuilder
	SubscriptionSettings = clientpkg.Settings

	// Jobs
	JobClient    = jobs.JobClient
	Handler      = jobs.Handler
	HandlerFunc  = jobs.HandlerFunc
	ActivatedJob = jobs.ActivatedJob
	NewJob       = jobs.NewJob
	JobResult    = jobs.Result
	ResultStatus = jobs.ResultStatus

	// Job lifecycle hooks
	JobContext = clientpkg.JobContext
	JobHooks   = clientpkg.JobHooks

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	DurationError           = errspkg.DurationError
	SubscriptionConfigError = errspkg.SubscriptionConfigError
	AnnotationError         = errspkg.AnnotationError
	ConfigValidationError   = errspkg.ConfigValidationError

	// Transports
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	NewRegistrar   = runtimepkg.NewRegistrar
	ValidateConfig = configpkg.ValidateConfig
	LoadConfigFile = configpkg.LoadFile
	ParseConfig    = configpkg.Parse
	ConfigFromEnv  = configpkg.FromEnv
	ParseDuration  = configpkg.ParseDuration

	Discover             = discovery.Discover
	ResolveSubscription  = subscription.Resolve
	ResolveSubscriptions = subscription.ResolveAll

	BuildClient           = clientpkg.Build
	WithTransportRegistry = clientpkg.WithTransportRegistry
	WithJobHooks          = clientpkg.WithJobHooks
	WithMetrics           = clientpkg.WithMetrics
	WithTracerProvider    = clientpkg.WithTracerProvider
	NewConnection         = clientpkg.NewConnection

	// Job lifecycle hooks
	LoggingHooks  = clientpkg.LoggingHooks
	AlertingHooks = clientpkg.AlertingHooks

	ResultTopic = jobs.ResultTopic
	Bool        = annotation.Bool

	// Transport registry. Import individual transports via
	// _ "github.com/drblury/jobflow/transport/kafka", or all of them via
	// _ "github.com/drblury/jobflow/transport/transports".
	DefaultTransportRegistry = transport.DefaultRegistry
	NewTransportRegistry     = transport.NewRegistry
	RegisterTransport        = transport.Register
	GetCapabilities          = transport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	ErrConfigRequired          = errspkg.ErrConfigRequired
	ErrLoggerRequired          = errspkg.ErrLoggerRequired
	ErrClientRequired          = errspkg.ErrClientRequired
	ErrHandlerRequired         = errspkg.ErrHandlerRequired
	ErrTopicRequired           = errspkg.ErrTopicRequired
	ErrPartialCloudCredentials = errspkg.ErrPartialCloudCredentials
	ErrClientClosed            = errspkg.ErrClientClosed
	ErrSubscriptionOpen        = errspkg.ErrSubscriptionOpen
	ErrJobNotActive            = errspkg.ErrJobNotActive
	ErrJobLockExpired          = errspkg.ErrJobLockExpired
	ErrJobAlreadySettled       = errspkg.ErrJobAlreadySettled
	ErrUnknownTransport        = errspkg.ErrUnknownTransport
	ErrPendingCountUnsupported = errspkg.ErrPendingCountUnsupported

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewZapServiceLogger       = loggingpkg.NewZapServiceLogger

	CreateULID = idspkg.CreateULID
)

// Subscription states reported by SubscriptionInfo.
const (
	StateUnregistered        = runtimepkg.StateUnregistered
	StateDescriptorExtracted = runtimepkg.StateDescriptorExtracted
	StateSpecResolved        = runtimepkg.StateSpecResolved
	StateOpened              = runtimepkg.StateOpened
)

const (
	StatusCompleted = jobs.StatusCompleted
	StatusFailed    = jobs.StatusFailed
	StatusIncident  = jobs.StatusIncident

	DefaultRetries = jobs.DefaultRetries
)

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
