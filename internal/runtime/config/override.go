package config

// SubscriptionOverride replaces declared worker settings for one topic. Each
// field applies only when present: non-empty text, a non-nil pointer or a
// non-empty list. A list holding a single empty string counts as absent.
type SubscriptionOverride struct {
	LockDuration   string `yaml:"lockDuration"`
	RequestTimeout string `yaml:"requestTimeout"`
	PollInterval   string `yaml:"pollInterval"`
	MaxJobsActive  *int   `yaml:"maxJobsActive"`
	WorkerName     string `yaml:"workerName"`

	Variables      []string `yaml:"variables"`
	LocalVariables *bool    `yaml:"localVariables"`

	BusinessKey                 string   `yaml:"businessKey"`
	ProcessDefinitionID         string   `yaml:"processDefinitionId"`
	ProcessDefinitionIDIn       []string `yaml:"processDefinitionIdIn"`
	ProcessDefinitionKey        string   `yaml:"processDefinitionKey"`
	ProcessDefinitionKeyIn      []string `yaml:"processDefinitionKeyIn"`
	ProcessDefinitionVersionTag string   `yaml:"processDefinitionVersionTag"`

	// WithoutTenantID can only switch the filter on.
	WithoutTenantID bool     `yaml:"withoutTenantId"`
	TenantIDIn      []string `yaml:"tenantIdIn"`

	IncludeExtensionProperties *bool `yaml:"includeExtensionProperties"`
}
