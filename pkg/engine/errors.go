// Package engine provides the core types for the monoforge orchestration
// pipeline: the internal dependency graph, the build task state machine, and
// the classified error taxonomy shared by every stage.
package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for propagation and reporting decisions.
type ErrorKind string

const (
	// ErrKindConfig indicates a malformed workspace or project manifest.
	ErrKindConfig ErrorKind = "config"

	// ErrKindCycle indicates an internal dependency cycle. Always fatal and
	// raised before any mutation takes place.
	ErrKindCycle ErrorKind = "cycle"

	// ErrKindVersionConflict indicates irreconcilable external version
	// ranges, or an internal dependency requested at a range the sibling
	// project's own version does not satisfy.
	ErrKindVersionConflict ErrorKind = "version-conflict"

	// ErrKindExternalTool indicates a non-zero exit from the package-manager
	// subprocess. Fatal for the whole reconcile.
	ErrKindExternalTool ErrorKind = "external-tool"

	// ErrKindFilesystem indicates a link creation/removal or file I/O
	// failure. Contained to the failing project during linking.
	ErrKindFilesystem ErrorKind = "filesystem"

	// ErrKindMissingArtifact indicates an expected artifact (install marker,
	// lock file) was absent after a step reported success. Always fatal.
	ErrKindMissingArtifact ErrorKind = "missing-artifact"

	// ErrKindInternal indicates a bug in monoforge itself.
	ErrKindInternal ErrorKind = "internal"
)

// RepoError is a classified error with subject and operation context.
type RepoError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Subject is the project or package name the error concerns, if any.
	Subject string `json:"subject,omitempty"`

	// Operation is the pipeline operation that was running.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`

	// Details carries extra context for diagnostics.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *RepoError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Subject != "" {
		msg = fmt.Sprintf("%s (subject=%s)", msg, e.Subject)
	}
	if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *RepoError) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is: two RepoErrors match on Kind.
func (e *RepoError) Is(target error) bool {
	t, ok := target.(*RepoError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithSubject adds subject context to an error.
func (e *RepoError) WithSubject(subject string) *RepoError {
	e.Subject = subject
	return e
}

// WithOperation adds operation context to an error.
func (e *RepoError) WithOperation(operation string) *RepoError {
	e.Operation = operation
	return e
}

// WithDetail adds a detail field to the error context.
func (e *RepoError) WithDetail(key string, value interface{}) *RepoError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(kind ErrorKind, message string, err error) *RepoError {
	return &RepoError{Kind: kind, Message: message, Err: err}
}

// NewConfigError creates a new config error.
func NewConfigError(message string, err error) *RepoError {
	return newError(ErrKindConfig, message, err)
}

// NewCycleError creates a new cycle error naming the full cycle path.
func NewCycleError(message string, cycle []string) *RepoError {
	return newError(ErrKindCycle, message, nil).WithDetail("cycle", cycle)
}

// NewVersionConflictError creates a new version conflict error.
func NewVersionConflictError(message string, err error) *RepoError {
	return newError(ErrKindVersionConflict, message, err)
}

// NewExternalToolError creates a new external tool error.
func NewExternalToolError(message string, err error) *RepoError {
	return newError(ErrKindExternalTool, message, err)
}

// NewFilesystemError creates a new filesystem error.
func NewFilesystemError(message string, err error) *RepoError {
	return newError(ErrKindFilesystem, message, err)
}

// NewMissingArtifactError creates a new missing artifact error.
func NewMissingArtifactError(message string) *RepoError {
	return newError(ErrKindMissingArtifact, message, nil)
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *RepoError {
	return newError(ErrKindInternal, message, err)
}

func isKind(err error, kind ErrorKind) bool {
	var e *RepoError
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsConfig returns true if the error is classified as a config error.
func IsConfig(err error) bool { return isKind(err, ErrKindConfig) }

// IsCycle returns true if the error is classified as a cycle error.
func IsCycle(err error) bool { return isKind(err, ErrKindCycle) }

// IsVersionConflict returns true if the error is a version conflict.
func IsVersionConflict(err error) bool { return isKind(err, ErrKindVersionConflict) }

// IsExternalTool returns true if the error is an external tool failure.
func IsExternalTool(err error) bool { return isKind(err, ErrKindExternalTool) }

// IsFilesystem returns true if the error is a filesystem failure.
func IsFilesystem(err error) bool { return isKind(err, ErrKindFilesystem) }

// IsMissingArtifact returns true if the error is a missing artifact error.
func IsMissingArtifact(err error) bool { return isKind(err, ErrKindMissingArtifact) }
