// Package errors consolidates error definitions for the entire project.
//
// It provides:
// - Sentinel errors for all error conditions
// - Structured errors carrying query/replication context
// - Error category checking functions
// - Error kind mapping for the remote execution envelope
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Query resolution errors
	ErrUnknownChannel = errors.New("unknown channel")
	ErrAmbiguous      = errors.New("ambiguous channel pattern")
	ErrNoCatalog      = errors.New("no catalog for content type")
	ErrNoData         = errors.New("no data in interval")

	// Archive integrity errors
	ErrCatalogIntegrity = errors.New("catalog integrity violation")
	ErrCorrupt          = errors.New("corrupt archive file")
	ErrDTypeMismatch    = errors.New("dtype mismatch")
	ErrOutOfRange       = errors.New("row range out of bounds")

	// Aggregation errors
	ErrNegativeGap = errors.New("negative time gap between samples")

	// Replication errors
	ErrSyncDiscontinuity = errors.New("sync discontinuity")
	ErrNoSyncIndex       = errors.New("no sync index for content type")

	// Secondary source errors
	ErrRecentUnavailable = errors.New("recent-data source unavailable")

	// Remote execution errors
	ErrRemoteTimeout    = errors.New("remote call timed out")
	ErrConnectionFailed = errors.New("connection failed")
	ErrRemote           = errors.New("remote execution failed")

	// Validation errors
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrMissingField    = errors.New("missing required field")

	// Lifecycle errors
	ErrClosed = errors.New("closed")

	// Internal errors
	ErrInternal = errors.New("internal error")
	ErrDatabase = errors.New("database error")
)

// ============================================================================
// Structured errors
// ============================================================================

// IntegrityError reports a violated catalog or sync-index invariant:
// adjacent records whose row ranges do not abut or whose file times run
// backwards. It is never corrected automatically.
type IntegrityError struct {
	Content   string
	PrevFile  string
	NextFile  string
	PrevStop  int64 // rowstop of the earlier record
	NextStart int64 // rowstart of the later record
	Reason    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("catalog integrity violation in %q between %q and %q (rows %d vs %d): %s",
		e.Content, e.PrevFile, e.NextFile, e.PrevStop, e.NextStart, e.Reason)
}

func (e *IntegrityError) Unwrap() error { return ErrCatalogIntegrity }

// DiscontinuityError reports a replication bundle whose first row does not
// line up with the replica's current row count. The replica can no longer
// be trusted; skipping or padding is never attempted.
type DiscontinuityError struct {
	Content    string
	Channel    string // empty for the full-resolution table
	Resolution string // "full", "5min" or "daily"
	WantRow    int64  // replica's current row count
	GotRow     int64  // bundle's first row after overlap truncation
}

func (e *DiscontinuityError) Error() string {
	where := e.Content
	if e.Channel != "" {
		where = e.Content + "/" + e.Channel
	}
	return fmt.Sprintf("sync discontinuity in %s (%s): bundle starts at row %d, replica has %d rows",
		where, e.Resolution, e.GotRow, e.WantRow)
}

func (e *DiscontinuityError) Unwrap() error { return ErrSyncDiscontinuity }

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsNotFound returns true if err reports something that does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownChannel) ||
		errors.Is(err, ErrNoCatalog) ||
		errors.Is(err, ErrNoSyncIndex)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrAmbiguous)
}

// IsFatal returns true if err means the archive or replica state can no
// longer be trusted and processing must stop.
func IsFatal(err error) bool {
	return errors.Is(err, ErrCatalogIntegrity) ||
		errors.Is(err, ErrSyncDiscontinuity) ||
		errors.Is(err, ErrCorrupt)
}

// IsRetriable returns true if the error is potentially retriable.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrRemoteTimeout) ||
		errors.Is(err, ErrConnectionFailed)
}

// ============================================================================
// Error kind mapping - used in the remote execution JSON envelope
// ============================================================================

const (
	KindUnknownChannel = "unknown_channel"
	KindAmbiguous      = "ambiguous"
	KindNoCatalog      = "no_catalog"
	KindNoData         = "no_data"
	KindIntegrity      = "integrity"
	KindDiscontinuity  = "discontinuity"
	KindRecent         = "recent_unavailable"
	KindTimeout        = "timeout"
	KindInvalid        = "invalid"
	KindInternal       = "internal"
)

// KindOf maps an error to its wire kind string.
func KindOf(err error) string {
	switch {
	case Is(err, ErrUnknownChannel):
		return KindUnknownChannel
	case Is(err, ErrAmbiguous):
		return KindAmbiguous
	case Is(err, ErrNoCatalog), Is(err, ErrNoSyncIndex):
		return KindNoCatalog
	case Is(err, ErrNoData):
		return KindNoData
	case Is(err, ErrCatalogIntegrity), Is(err, ErrCorrupt):
		return KindIntegrity
	case Is(err, ErrSyncDiscontinuity):
		return KindDiscontinuity
	case Is(err, ErrRecentUnavailable):
		return KindRecent
	case Is(err, ErrRemoteTimeout):
		return KindTimeout
	case IsValidation(err):
		return KindInvalid
	default:
		return KindInternal
	}
}

// KindToError maps a wire kind back to a sentinel error (for clients).
func KindToError(kind string) error {
	switch kind {
	case KindUnknownChannel:
		return ErrUnknownChannel
	case KindAmbiguous:
		return ErrAmbiguous
	case KindNoCatalog:
		return ErrNoCatalog
	case KindNoData:
		return ErrNoData
	case KindIntegrity:
		return ErrCatalogIntegrity
	case KindDiscontinuity:
		return ErrSyncDiscontinuity
	case KindRecent:
		return ErrRecentUnavailable
	case KindTimeout:
		return ErrRemoteTimeout
	case KindInvalid:
		return ErrInvalidArgument
	default:
		return ErrInternal
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewUnknownChannel creates an unknown-channel error with the queried name.
func NewUnknownChannel(name string) error {
	return fmt.Errorf("%q: %w", name, ErrUnknownChannel)
}

// NewAmbiguous creates an ambiguous-pattern error listing the match count.
func NewAmbiguous(pattern string, matches int) error {
	return fmt.Errorf("%q matches %d channels: %w", pattern, matches, ErrAmbiguous)
}

// NewNoCatalog creates a no-catalog error for a content type.
func NewNoCatalog(content string) error {
	return fmt.Errorf("content type %q: %w", content, ErrNoCatalog)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
