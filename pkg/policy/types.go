package policy

import (
	"time"

	"github.com/openfroyo/mongocfg/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for settings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for settings that should block a render.
	SeverityError Severity = "error"

	// SeverityCritical is for settings that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Blocking reports whether violations of this severity reject the configuration.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from; empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Setting names the parameter the violation is about, if any.
	Setting string `json:"setting,omitempty"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`

	// Remediation provides a suggested fix.
	Remediation string `json:"remediation,omitempty"`
}

// Result represents the outcome of evaluating all enabled policies.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Input is the document policies see as `input`.
type Input struct {
	Target         string               `json:"target,omitempty"`
	Parameters     *engine.ParameterSet `json:"parameters"`
	HasCredentials bool                 `json:"has_credentials"`
}

// NewInput builds the policy input for a resolved parameter set.
// The admin password never reaches the policy document.
func NewInput(target string, p *engine.ParameterSet) Input {
	return Input{
		Target:         target,
		Parameters:     p,
		HasCredentials: p.HasCredentials(),
	}
}
