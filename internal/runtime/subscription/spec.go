// Package subscription resolves the effective subscription settings of each
// discovered handler from its declaration and the configured overrides.
package subscription

import (
	"time"
)

// Spec is the resolved configuration of one subscription. A nil pointer, an
// empty string or a nil list means the client default applies.
type Spec struct {
	Topic string

	LockDuration   *time.Duration
	RequestTimeout *time.Duration
	PollInterval   *time.Duration
	MaxJobsActive  *int
	WorkerName     string

	Variables      []string
	LocalVariables *bool

	BusinessKey                 string
	ProcessDefinitionID         string
	ProcessDefinitionIDIn       []string
	ProcessDefinitionKey        string
	ProcessDefinitionKeyIn      []string
	ProcessDefinitionVersionTag string

	WithoutTenantID bool
	TenantIDIn      []string

	IncludeExtensionProperties *bool
}
