package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for settings that are accepted but likely unintended.
	SeverityWarning Severity = "warning"

	// SeverityError is for settings that should stop a run.
	SeverityError Severity = "error"

	// SeverityCritical is for settings that must be fixed before anything else.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity deny the config.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Config kinds passed to the engine as input.kind.
const (
	KindTrain    = "train"
	KindGenerate = "generate"
	KindLoaded   = "loaded"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. The module must define a deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with diffconf.
	Builtin bool `json:"builtin"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, if any.
	Source string `json:"source,omitempty"`
}

// PolicyViolation represents a single deny result.
type PolicyViolation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Path is the dotted config field the violation is about.
	Path string `json:"path,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Remediation provides a suggested fix.
	Remediation string `json:"remediation,omitempty"`
}

// PolicyResult represents the result of evaluating all enabled policies
// against one config.
type PolicyResult struct {
	// Kind is the config kind that was evaluated.
	Kind string `json:"kind"`

	// Allowed is false when any error or critical violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists the blocking violations.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings lists info and warning violations.
	Warnings []PolicyViolation `json:"warnings,omitempty"`

	// EvaluatedAt is when the policies were evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// All returns blocking violations followed by warnings.
func (r *PolicyResult) All() []PolicyViolation {
	out := make([]PolicyViolation, 0, len(r.Violations)+len(r.Warnings))
	out = append(out, r.Violations...)
	return append(out, r.Warnings...)
}

// PolicyInput is the document policies see as input.
type PolicyInput struct {
	// Kind is one of KindTrain, KindGenerate or KindLoaded.
	Kind string `json:"kind"`

	// Config is a resolved config snapshot.
	Config any `json:"config"`
}
