package model

// VerificationStatus classifies the probed state of a resource relative to
// its desired state.
type VerificationStatus string

const (
	// StatusSatisfied means the resource already matches its desired state.
	StatusSatisfied VerificationStatus = "satisfied"
	// StatusMissing means the resource does not exist yet.
	StatusMissing VerificationStatus = "missing"
	// StatusDrifted means the resource exists but differs from the desired state.
	StatusDrifted VerificationStatus = "drifted"
	// StatusBlocked means the directive does not apply on this host (tool
	// absent, unsupported distribution). Blocked directives are skipped, not
	// failed.
	StatusBlocked VerificationStatus = "blocked"
	// StatusUnknown means the current state could not be determined.
	StatusUnknown VerificationStatus = "unknown"
)

// IsValid reports whether the status is one of the defined values.
func (s VerificationStatus) IsValid() bool {
	switch s {
	case StatusSatisfied, StatusMissing, StatusDrifted, StatusBlocked, StatusUnknown:
		return true
	}
	return false
}

// EvaluationResult contains the result of probing a directive's current state
// against its desired state. Returned by Plugin.Evaluate() and handed back to
// Plugin.Apply() when action is required.
type EvaluationResult struct {
	// StepID is the unique identifier of the evaluated step.
	StepID string

	// CurrentState classifies the probed state relative to the desired state.
	CurrentState VerificationStatus

	// RequiresAction indicates whether Apply() should be called. True for
	// Missing or Drifted, false for Satisfied, Blocked, or Unknown.
	RequiresAction bool

	// Message is a human-readable description of what the probe found.
	Message string

	// Diff optionally describes what would change, for dry-run previews.
	Diff string

	// InternalData is opaque data passed from Evaluate() to Apply() so the
	// apply step does not repeat probe work.
	InternalData any
}
