package crawler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrLockHeld is returned by LockManager.TryAcquire when the key is taken.
	ErrLockHeld = errors.New("lock held")
	// ErrDuplicateSource is returned when a source URL already exists.
	ErrDuplicateSource = errors.New("source url already exists")
	// ErrInvalidSource is returned when a source fails admission checks.
	ErrInvalidSource = errors.New("invalid source")

	// ErrMissingSecrets means a schema references secrets that could not be resolved.
	ErrMissingSecrets = errors.New("missing secrets")
	// ErrInvalidSchema means a source's extraction config failed validation.
	ErrInvalidSchema = errors.New("invalid schema")
	// ErrStatus means the upstream answered with a non-success status.
	ErrStatus = errors.New("non-success status")
	// ErrNoItems means the item array could not be located in a response.
	ErrNoItems = errors.New("no items at path")
)

// Reason is a machine-readable failure code surfaced on outcomes and CLI exits.
type Reason string

// Reason codes.
const (
	ReasonMissingSecrets   Reason = "missing-secrets"
	ReasonInvalidSchema    Reason = "invalid-schema"
	ReasonNonSuccessStatus Reason = "non-success-status"
	ReasonNoItemsAtPath    Reason = "no-items-at-path"
	ReasonTransport        Reason = "transport"
	ReasonBudgetExceeded   Reason = "budget-exceeded"
	ReasonInternal         Reason = "internal"
)

// Error is a classified crawl failure.
type Error struct {
	Reason Reason
	// Missing lists unresolved secret names for ReasonMissingSecrets.
	Missing []string
	// Status is the offending HTTP status for ReasonNonSuccessStatus.
	Status int
	// Page is the 1-based page number the failure happened on, when known.
	Page int
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	switch e.Reason {
	case ReasonMissingSecrets:
		fmt.Fprintf(&b, "missing secrets: %s", strings.Join(e.Missing, ", "))
	case ReasonNonSuccessStatus:
		fmt.Fprintf(&b, "unexpected status %d", e.Status)
	default:
		b.WriteString(string(e.Reason))
	}
	if e.Page > 0 {
		fmt.Fprintf(&b, " (page %d)", e.Page)
	}
	if e.Err != nil && e.Reason != ReasonMissingSecrets {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ConfigError reports whether the failure stems from the source's own
// configuration rather than from the remote side.
func (e *Error) ConfigError() bool {
	return e.Reason == ReasonMissingSecrets || e.Reason == ReasonInvalidSchema
}

// ReasonOf returns the classification of err, or ReasonInternal.
func ReasonOf(err error) Reason {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ReasonInternal
}

// IsConfigError reports whether err is a classified configuration failure.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.ConfigError()
}

// InvalidSchema builds a classified schema validation error.
func InvalidSchema(format string, args ...any) error {
	return &Error{Reason: ReasonInvalidSchema, Err: fmt.Errorf("%w: "+format, append([]any{ErrInvalidSchema}, args...)...)}
}
