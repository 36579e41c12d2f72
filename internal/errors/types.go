package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// Kind classifies broker errors for the host-facing error envelope.
type Kind string

const (
	KindConfiguration    Kind = "Configuration"
	KindFilesystem       Kind = "Filesystem"
	KindDependency       Kind = "Dependency"
	KindStudio           Kind = "Studio"
	KindToolActivation   Kind = "ToolActivation"
	KindValidation       Kind = "Validation"
	KindNetwork          Kind = "Network"
	KindResumableTimeout Kind = "ResumableTimeout"
)

// Severity grades how loudly an error should surface.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Suggestion is an actionable remediation attached to an error envelope.
type Suggestion struct {
	Action   string `json:"action"`
	Command  string `json:"command,omitempty"`
	DocURL   string `json:"docUrl,omitempty"`
	Priority int    `json:"priority"`
}

// BrokerError is the context envelope every failure crosses the broker
// boundary in. Low-level errors are wrapped, never replaced: Unwrap keeps
// errors.Is/As working through the envelope.
type BrokerError struct {
	Kind        Kind           `json:"kind"`
	Severity    Severity       `json:"severity"`
	Component   string         `json:"component,omitempty"`
	Operation   string         `json:"operation,omitempty"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Suggestions []Suggestion   `json:"suggestions,omitempty"`
	Err         error          `json:"-"`
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a single detail key and returns the error for chaining.
func (e *BrokerError) WithDetail(key string, value any) *BrokerError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion appends a remediation record.
func (e *BrokerError) WithSuggestion(s Suggestion) *BrokerError {
	e.Suggestions = append(e.Suggestions, s)
	return e
}

// New creates a BrokerError of the given kind.
func New(kind Kind, component, operation, message string) *BrokerError {
	return &BrokerError{
		Kind:      kind,
		Severity:  defaultSeverity(kind),
		Component: component,
		Operation: operation,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap envelopes err with broker context. A nil err returns nil.
func Wrap(err error, kind Kind, component, operation, message string) *BrokerError {
	if err == nil {
		return nil
	}
	var existing *BrokerError
	if errors.As(err, &existing) {
		// Keep the innermost classification; outer layers only add context.
		kind = existing.Kind
	}
	be := New(kind, component, operation, message)
	be.Err = err
	return be
}

func defaultSeverity(kind Kind) Severity {
	switch kind {
	case KindConfiguration:
		return SeverityCritical
	case KindToolActivation, KindResumableTimeout:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// KindOf extracts the Kind from err, or empty when err carries no envelope.
func KindOf(err error) Kind {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// ResumableTimeoutError is the distinguished pause signal of the transform
// pipeline. It is NOT a failure: the caller retries with the same operation id
// and the pipeline resumes from the persisted checkpoint.
type ResumableTimeoutError struct {
	OperationID string
	Stage       string
	ChunkIndex  int
	Progress    float64
}

func (e *ResumableTimeoutError) Error() string {
	return fmt.Sprintf("operation %s paused at stage %s (chunk %d, %.0f%%); retry with the same operation id to resume",
		e.OperationID, e.Stage, e.ChunkIndex, e.Progress)
}

// AsResumableTimeout extracts a ResumableTimeoutError from err, if present.
func AsResumableTimeout(err error) (*ResumableTimeoutError, bool) {
	var rt *ResumableTimeoutError
	if errors.As(err, &rt) {
		return rt, true
	}
	return nil, false
}

// Envelope converts a ResumableTimeoutError into a host-facing BrokerError.
func (e *ResumableTimeoutError) Envelope(component string) *BrokerError {
	be := New(KindResumableTimeout, component, "transform", e.Error())
	be.WithDetail("operationId", e.OperationID)
	be.WithDetail("stage", e.Stage)
	be.WithDetail("chunkIndex", e.ChunkIndex)
	be.WithDetail("progress", e.Progress)
	be.WithSuggestion(Suggestion{
		Action:   "Retry the call with the same operationId to resume from the checkpoint",
		Priority: 1,
	})
	return be
}

// IsTransient reports whether err is worth retrying (network-ish failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == KindNetwork {
		return true
	}
	return isNetworkError(err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "connection reset", "no such host", "i/o timeout", "broken pipe"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
