package models

// PolicyMode enum
type PolicyMode string

const (
	// PolicyModeStrict denies on any failing rule (default)
	PolicyModeStrict PolicyMode = "strict"
	// PolicyModeWarn logs failing rules without denying
	PolicyModeWarn PolicyMode = "warn"
)

// PolicyConfig from yaml
type PolicyConfig struct {
	Name  string       `yaml:"name" json:"name"`
	Mode  PolicyMode   `yaml:"mode,omitempty" json:"mode,omitempty"`
	Rules []PolicyRule `yaml:"rules" json:"rules"`
	Extra DenyLists    `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// PolicyRule cel rule
type PolicyRule struct {
	Name       string `yaml:"name" json:"name"`
	Expr       string `yaml:"expr" json:"expr"`
	FailureMsg string `yaml:"failure_msg" json:"failure_msg"`
}

// DenyLists are the static lists behind the policy predicates. A policy file
// may only add to the built-in lists.
type DenyLists struct {
	DangerousFragments   []string `yaml:"dangerous_fragments,omitempty" json:"dangerous_fragments"`
	CriticalRegistryKeys []string `yaml:"critical_registry_keys,omitempty" json:"critical_registry_keys"`
	CriticalServices     []string `yaml:"critical_services,omitempty" json:"critical_services"`
	CriticalPaths        []string `yaml:"critical_paths,omitempty" json:"critical_paths"`
}

// PolicyResult eval result
type PolicyResult struct {
	RuleName   string
	Passed     bool
	FailureMsg string
}

// PolicyDecision is Allow (Allowed true) or Deny with a reason
type PolicyDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Rule    string `json:"rule,omitempty"`
}

// Allow decision
func Allow() PolicyDecision {
	return PolicyDecision{Allowed: true}
}

// Deny decision
func Deny(rule, reason string) PolicyDecision {
	return PolicyDecision{Allowed: false, Rule: rule, Reason: reason}
}
