// Package errors provides centralized error definitions and error handling utilities
// for storyloop. It defines the orchestrator's error taxonomy, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain-specific errors represent failures from specific subsystems:
//   - ProcessError: a tool invocation exited non-zero, timed out or was canceled
//   - PersistenceError: the state file or an artifact could not be read or written
//   - ReconciliationError: an external-side correction failed or returned an invalid result
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//
// Anomalies are deliberately absent from this package. A Guardian anomaly is a
// first-class outcome of phase execution (see package loop), not an error.
//
// # Usage
//
//	err := errors.NewProcessError("primary actor failed", errors.ErrProcessExited).
//		WithTool("claude").WithExitCode(2).WithStderr(stderr)
//
//	if errors.Is(err, errors.ErrProcessTimedOut) { ... }
//
//	var procErr *errors.ProcessError
//	if errors.As(err, &procErr) { ... }
//
// # Error Classification
//
//   - Retryable: transient errors that may succeed when the phase is retried
//   - Fatal: errors that must stop the loop (corrupted state)
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Process-related sentinel errors
var (
	// ErrProcessExited indicates that a tool exited with a non-zero status.
	ErrProcessExited = New("process exited with non-zero status")
	// ErrProcessTimedOut indicates that a tool exceeded its wall-clock timeout.
	ErrProcessTimedOut = New("process timed out")
	// ErrProcessCanceled indicates that a tool invocation was canceled by the caller.
	ErrProcessCanceled = New("process canceled")
	// ErrProcessStart indicates that a tool could not be started at all.
	ErrProcessStart = New("process failed to start")
	// ErrUnknownTool indicates that no adapter is registered for a tool name.
	ErrUnknownTool = New("unknown tool")
	// ErrModelUnsupported indicates that a tool does not accept the requested model.
	ErrModelUnsupported = New("model not supported by tool")
	// ErrReadOnlyUnsupported indicates that a tool cannot be run without write access.
	ErrReadOnlyUnsupported = New("tool cannot run read-only")
)

// Persistence-related sentinel errors
var (
	// ErrStateCorrupted indicates that the state file exists but cannot be parsed.
	ErrStateCorrupted = New("state file corrupted")
	// ErrStateRegression indicates an attempt to persist a state whose
	// completed-story list is shorter than the persisted one.
	ErrStateRegression = New("completed stories would shrink")
	// ErrArtifactCorrupted indicates that a report or anomaly file cannot be parsed.
	ErrArtifactCorrupted = New("artifact corrupted")
)

// Orchestration-related sentinel errors
var (
	// ErrNoValidatorSucceeded indicates that every validator in a phase failed.
	ErrNoValidatorSucceeded = New("no validator succeeded")
	// ErrNoValidators indicates that a validation phase ran with no validators configured.
	ErrNoValidators = New("no validators configured")
	// ErrNotPaused indicates that a resolution was supplied while the loop was running.
	ErrNotPaused = New("loop is not paused")
	// ErrAlreadyResolved indicates that an anomaly record already carries a resolution.
	ErrAlreadyResolved = New("anomaly already resolved")
	// ErrUnknownStory indicates that a story is absent from the project catalog.
	ErrUnknownStory = New("unknown story")
)

// Reconciliation-related sentinel errors
var (
	// ErrCorrectionRejected indicates that the external updater refused a write.
	ErrCorrectionRejected = New("correction rejected")
	// ErrCorrectionUnverified indicates that the external tree did not reflect a write.
	ErrCorrectionUnverified = New("correction not reflected in external state")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// LoopError is the base interface for all storyloop errors.
type LoopError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	IsRetryable() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity {
	return e.severity
}

func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// formatPrefixed renders "<kind> [k=v, ...]: message: cause".
func formatPrefixed(kind string, parts []string, message string, cause error) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// ProcessError represents a failed tool invocation: non-zero exit, timeout,
// cancellation or a failure to start. It carries whatever the tool wrote so
// that callers and the Guardian can inspect partial output.
//
// Example:
//
//	err := errors.NewProcessError("validator failed", errors.ErrProcessTimedOut).
//		WithTool("codex").WithModel("gpt-5").WithPartialOutput(out)
type ProcessError struct {
	baseError
	Tool          string
	Model         string
	ExitCode      int
	Stderr        string
	PartialOutput string
	Elapsed       time.Duration
}

// NewProcessError creates a new ProcessError.
func NewProcessError(message string, cause error) *ProcessError {
	return &ProcessError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityError,
			retryable: errors.Is(cause, ErrProcessTimedOut) || errors.Is(cause, ErrProcessExited),
		},
		ExitCode: -1,
	}
}

// WithTool adds the tool name to the error context.
func (e *ProcessError) WithTool(tool string) *ProcessError {
	e.Tool = tool
	return e
}

// WithModel adds the model identifier to the error context.
func (e *ProcessError) WithModel(model string) *ProcessError {
	e.Model = model
	return e
}

// WithExitCode records the process exit code.
func (e *ProcessError) WithExitCode(code int) *ProcessError {
	e.ExitCode = code
	return e
}

// WithStderr records captured stderr.
func (e *ProcessError) WithStderr(stderr string) *ProcessError {
	e.Stderr = stderr
	return e
}

// WithPartialOutput records stdout captured before the failure.
func (e *ProcessError) WithPartialOutput(out string) *ProcessError {
	e.PartialOutput = out
	return e
}

// WithElapsed records how long the process ran.
func (e *ProcessError) WithElapsed(d time.Duration) *ProcessError {
	e.Elapsed = d
	return e
}

// Error returns the formatted error message.
func (e *ProcessError) Error() string {
	var parts []string
	if e.Tool != "" {
		parts = append(parts, fmt.Sprintf("tool=%s", e.Tool))
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.ExitCode >= 0 {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitCode))
	}
	return formatPrefixed("process error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ProcessError) Is(target error) bool {
	if _, ok := target.(*ProcessError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// PersistenceError represents a failure reading or writing durable state.
// A missing state file is not a PersistenceError; a corrupted one is.
//
// Example:
//
//	err := errors.NewPersistenceError("parse state", errors.ErrStateCorrupted).WithPath(path)
type PersistenceError struct {
	baseError
	Path string
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(message string, cause error) *PersistenceError {
	severity := SeverityError
	if errors.Is(cause, ErrStateCorrupted) {
		severity = SeverityCritical
	}
	return &PersistenceError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  severity,
			retryable: false,
		},
	}
}

// WithPath adds the file path to the error context.
func (e *PersistenceError) WithPath(path string) *PersistenceError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *PersistenceError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return formatPrefixed("persistence error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *PersistenceError) Is(target error) bool {
	if _, ok := target.(*PersistenceError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ReconciliationError represents a failed correction of the external document tree.
type ReconciliationError struct {
	baseError
	Subject  string
	Location string
}

// NewReconciliationError creates a new ReconciliationError.
func NewReconciliationError(message string, cause error) *ReconciliationError {
	return &ReconciliationError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityWarning,
			retryable: true,
		},
	}
}

// WithSubject adds the story or epic key to the error context.
func (e *ReconciliationError) WithSubject(subject string) *ReconciliationError {
	e.Subject = subject
	return e
}

// WithLocation adds the external location to the error context.
func (e *ReconciliationError) WithLocation(location string) *ReconciliationError {
	e.Location = location
	return e
}

// Error returns the formatted error message.
func (e *ReconciliationError) Error() string {
	var parts []string
	if e.Subject != "" {
		parts = append(parts, fmt.Sprintf("subject=%s", e.Subject))
	}
	if e.Location != "" {
		parts = append(parts, fmt.Sprintf("location=%s", e.Location))
	}
	return formatPrefixed("reconciliation error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ReconciliationError) Is(target error) bool {
	if _, ok := target.(*ReconciliationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError indicates a missing resource such as an anomaly record.
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:  fmt.Sprintf("%s not found", resourceType),
			severity: SeverityWarning,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds an underlying cause.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.ResourceID != "" {
		return fmt.Sprintf("%s not found: %s", e.ResourceType, e.ResourceID)
	}
	return e.message
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError indicates invalid input or state.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			cause:    ErrInvalidInput,
			severity: SeverityWarning,
		},
	}
}

// WithField sets the offending field name.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue sets the offending value.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error [field=%s]: %s (got: %v)", e.Field, e.message, e.Value)
	}
	return fmt.Sprintf("validation error: %s", e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable reports whether err is transient. Re-running the same phase may
// succeed. Unknown errors are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var le LoopError
	if errors.As(err, &le) {
		return le.IsRetryable()
	}
	return errors.Is(err, ErrTimeout)
}

// IsFatal reports whether err must stop the loop without any fallback.
// A corrupted state file is fatal: silently starting fresh would discard history.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStateCorrupted) || errors.Is(err, ErrStateRegression) {
		return true
	}
	var le LoopError
	if errors.As(err, &le) {
		return le.Severity() >= SeverityCritical
	}
	return false
}

// GetSeverity returns err's severity, or SeverityError for foreign errors.
func GetSeverity(err error) Severity {
	var le LoopError
	if errors.As(err, &le) {
		return le.Severity()
	}
	return SeverityError
}
