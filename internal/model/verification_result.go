package model

import (
	"time"
)

// VerificationResult captures the outcome of probing a single step without
// mutating the host.
type VerificationResult struct {
	StepID    string
	Status    VerificationStatus
	Message   string
	Details   string
	Duration  time.Duration
	Timestamp time.Time
	Error     error
}

// VerificationSummary aggregates verification results across a full run.
type VerificationSummary struct {
	TotalSteps int
	Satisfied  int
	Missing    int
	Drifted    int
	Blocked    int
	Unknown    int
	Results    []VerificationResult
	Duration   time.Duration
}

// Add appends a result and updates the counters.
func (s *VerificationSummary) Add(result VerificationResult) {
	s.Results = append(s.Results, result)
	s.TotalSteps++
	switch result.Status {
	case StatusSatisfied:
		s.Satisfied++
	case StatusMissing:
		s.Missing++
	case StatusDrifted:
		s.Drifted++
	case StatusBlocked:
		s.Blocked++
	default:
		s.Unknown++
	}
}

// AllSatisfied reports whether every probed step matched its desired state.
func (s *VerificationSummary) AllSatisfied() bool {
	return s.Satisfied == s.TotalSteps
}

// NeedsApply reports whether an apply run would perform any work. Blocked
// steps are excluded: apply skips them, so they never represent pending work.
func (s *VerificationSummary) NeedsApply() bool {
	return s.Missing > 0 || s.Drifted > 0 || s.Unknown > 0
}

// ExitCode maps the summary onto a process exit code: zero when no apply
// work is pending. Blocked steps count as converged for exit purposes since
// the host simply cannot run them.
func (s *VerificationSummary) ExitCode() int {
	if s.NeedsApply() {
		return 1
	}
	return 0
}
