package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPluginNotFound is returned when the requested plugin is not registered.
type ErrPluginNotFound struct {
	Name string
}

func (e ErrPluginNotFound) Error() string {
	return fmt.Sprintf("plugin '%s' not found in registry", e.Name)
}

// ErrMissingDependency is returned when a declared dependency has not been
// registered.
type ErrMissingDependency struct {
	Plugin     string
	Dependency string
}

func (e ErrMissingDependency) Error() string {
	return fmt.Sprintf("plugin '%s' declares dependency '%s' which is not registered", e.Plugin, e.Dependency)
}

// ErrCircularDependency is returned when plugin declarations form a cycle.
type ErrCircularDependency struct {
	Cycle []string
}

func (e ErrCircularDependency) Error() string {
	if len(e.Cycle) == 0 {
		return "circular plugin dependency detected"
	}
	sequence := append(append([]string{}, e.Cycle...), e.Cycle[0])
	return fmt.Sprintf("circular plugin dependency detected: %s", strings.Join(sequence, " -> "))
}

// PluginError is the base interface for step-scoped plugin errors. The
// executor uses it to attribute a failure to a step while keeping the run
// alive.
type PluginError interface {
	error
	StepID() string
	Unwrap() error
}

// ValidationError represents configuration or input validation failures.
type ValidationError struct {
	ID  string
	Err error
}

// NewValidationError creates a new ValidationError.
func NewValidationError(stepID string, err error) *ValidationError {
	return &ValidationError{ID: stepID, Err: err}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation error in step " + e.ID
	}
	return "validation error in step " + e.ID + ": " + e.Err.Error()
}

// StepID returns the identifier of the step where the error occurred.
func (e *ValidationError) StepID() string { return e.ID }

// Unwrap returns the underlying validation error.
func (e *ValidationError) Unwrap() error { return e.Err }

// Is checks if this error matches another ValidationError.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// ExecutionError represents external operation failures during probe or
// apply: shell command failures, file I/O errors, network failures.
type ExecutionError struct {
	ID  string
	Err error
}

// NewExecutionError creates a new ExecutionError.
func NewExecutionError(stepID string, err error) *ExecutionError {
	return &ExecutionError{ID: stepID, Err: err}
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return "execution error in step " + e.ID
	}
	return "execution error in step " + e.ID + ": " + e.Err.Error()
}

// StepID returns the identifier of the step where the error occurred.
func (e *ExecutionError) StepID() string { return e.ID }

// Unwrap returns the underlying execution error.
func (e *ExecutionError) Unwrap() error { return e.Err }

// Is checks if this error matches another ExecutionError.
func (e *ExecutionError) Is(target error) bool {
	_, ok := target.(*ExecutionError)
	return ok
}

// StateError represents inability to determine the current system state:
// inaccessible files, an unreadable package database, a dbus connection that
// cannot be established.
type StateError struct {
	ID  string
	Err error
}

// NewStateError creates a new StateError.
func NewStateError(stepID string, err error) *StateError {
	return &StateError{ID: stepID, Err: err}
}

func (e *StateError) Error() string {
	if e.Err == nil {
		return "state error in step " + e.ID
	}
	return "state error in step " + e.ID + ": " + e.Err.Error()
}

// StepID returns the identifier of the step where the error occurred.
func (e *StateError) StepID() string { return e.ID }

// Unwrap returns the underlying state detection error.
func (e *StateError) Unwrap() error { return e.Err }

// Is checks if this error matches another StateError.
func (e *StateError) Is(target error) bool {
	_, ok := target.(*StateError)
	return ok
}

// AsPluginError attempts to convert any error to a PluginError.
func AsPluginError(err error) (PluginError, bool) {
	var pluginErr PluginError
	if errors.As(err, &pluginErr) {
		return pluginErr, true
	}
	return nil, false
}
