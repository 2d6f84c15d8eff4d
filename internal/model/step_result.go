package model

import (
	"time"
)

const (
	// StatusPending indicates a step has not started yet.
	StatusPending = "pending"
	// StatusRunning indicates a step is actively executing.
	StatusRunning = "running"
	// StatusSuccess marks a step whose apply mutated the host successfully.
	StatusSuccess = "success"
	// StatusSkipped indicates the step was already satisfied and no mutation ran.
	StatusSkipped = "skipped"
	// StatusUnsupported indicates the directive does not apply on this host.
	StatusUnsupported = "unsupported"
	// StatusFailed marks a failure during probe or apply. Failures are
	// non-fatal: the run continues with the next step.
	StatusFailed = "failed"
	// StatusWouldCreate indicates dry-run would create a resource.
	StatusWouldCreate = "would_create"
	// StatusWouldUpdate indicates dry-run would update a resource.
	StatusWouldUpdate = "would_update"
)

// StepResult captures the outcome of reconciling a single step.
type StepResult struct {
	StepID    string
	Status    string
	Message   string
	Error     error
	Duration  time.Duration
	Timestamp time.Time
}

// Changed reports whether the step mutated the host.
func (r StepResult) Changed() bool {
	return r.Status == StatusSuccess
}
