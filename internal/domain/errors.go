package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy. Callers should
// match with errors.Is; the typed errors below carry the details.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrInvalidState        = errors.New("operation not valid for session state")
	ErrUnknownQuestion     = errors.New("question not eligible for session")
	ErrVersionConflict     = errors.New("session version conflict")
	ErrSessionExpired      = errors.New("session expired")
	ErrInternalConsistency = errors.New("internal consistency violation")
)

// ValidationError reports a malformed knowledge-base catalog. It is fatal
// at load time: a catalog that fails validation must prevent startup.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("catalog validation error for %q: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

// StateError reports an operation attempted against a session in a state
// that does not permit it. The session is left untouched.
type StateError struct {
	SessionID string       `json:"session_id"`
	State     SessionState `json:"state"`
	Op        string       `json:"op"`
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed on session %s in state %s", e.Op, e.SessionID, e.State)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// UnknownQuestionError reports an answer submitted for a question that is
// not currently eligible, usually a client/server desync. No mutation is
// applied.
type UnknownQuestionError struct {
	SessionID  string `json:"session_id"`
	QuestionID string `json:"question_id"`
}

func (e *UnknownQuestionError) Error() string {
	return fmt.Sprintf("question %s is not eligible in session %s", e.QuestionID, e.SessionID)
}

func (e *UnknownQuestionError) Unwrap() error { return ErrUnknownQuestion }

// VersionConflictError reports a lost optimistic-concurrency race. The
// caller must re-read the session and retry with the fresh version.
type VersionConflictError struct {
	SessionID string `json:"session_id"`
	Expected  int64  `json:"expected_version"`
	Actual    int64  `json:"actual_version"`
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("session %s version conflict: expected %d, stored %d",
		e.SessionID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Unwrap() error { return ErrVersionConflict }

// ExpiredError reports access to a session whose inactivity window has
// elapsed. The session becomes terminal EXPIRED on the access that
// observes it.
type ExpiredError struct {
	SessionID string `json:"session_id"`
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("session %s has expired", e.SessionID)
}

func (e *ExpiredError) Unwrap() error { return ErrSessionExpired }

// ConsistencyError reports a programming-invariant violation discovered
// during risk computation, such as a response referencing a question the
// catalog does not know. It must surface rather than produce a silently
// wrong probability.
type ConsistencyError struct {
	SessionID string `json:"session_id,omitempty"`
	Detail    string `json:"detail"`
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("internal consistency violation: %s", e.Detail)
}

func (e *ConsistencyError) Unwrap() error { return ErrInternalConsistency }

// IsRetryable reports whether the caller can expect the operation to
// succeed on retry with fresh state. Only version conflicts qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
