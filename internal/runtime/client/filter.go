package client

import (
	"maps"
	"slices"

	"github.com/drblury/jobflow/internal/runtime/jobs"
)

// matches reports whether env passes every filter set on the subscription.
func (s Settings) matches(env jobs.Envelope) bool {
	return matchValue(s.BusinessKey, env.BusinessKey) &&
		matchValue(s.ProcessDefinitionID, env.ProcessDefinitionID) &&
		matchIn(s.ProcessDefinitionIDIn, env.ProcessDefinitionID) &&
		matchValue(s.ProcessDefinitionKey, env.ProcessDefinitionKey) &&
		matchIn(s.ProcessDefinitionKeyIn, env.ProcessDefinitionKey) &&
		matchValue(s.ProcessDefinitionVersionTag, env.ProcessDefinitionVersionTag) &&
		s.matchesTenant(env.TenantID)
}

// matchesTenant accepts a job without tenant when WithoutTenantID is set and
// a job whose tenant is listed in TenantIDIn.
func (s Settings) matchesTenant(tenant string) bool {
	if !s.WithoutTenantID && len(s.TenantIDIn) == 0 {
		return true
	}
	if s.WithoutTenantID && tenant == "" {
		return true
	}
	return tenant != "" && slices.Contains(s.TenantIDIn, tenant)
}

func matchValue(want, got string) bool {
	return want == "" || want == got
}

func matchIn(want []string, got string) bool {
	return len(want) == 0 || slices.Contains(want, got)
}

// selectVariables returns the variables handed to the handler. Local
// variables shadow process variables of the same name, and LocalVariables
// drops the process variables entirely. A Variables list keeps only the
// listed names.
func (s Settings) selectVariables(env jobs.Envelope) map[string]any {
	source := make(map[string]any, len(env.Variables)+len(env.LocalVariables))
	if !s.LocalVariables {
		maps.Copy(source, env.Variables)
	}
	maps.Copy(source, env.LocalVariables)

	if s.Variables == nil {
		return source
	}

	selected := make(map[string]any, len(s.Variables))
	for _, name := range s.Variables {
		if v, ok := source[name]; ok {
			selected[name] = v
		}
	}
	return selected
}
