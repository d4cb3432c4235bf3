// Package apperr defines the error taxonomy shared by every satpass layer.
//
// Each failure class has a sentinel (for errors.Is) and a Code (for wire
// responses). Errors built with the constructors in this package match both
// their sentinel and their underlying cause.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Code represents a class of failure.
type Code string

const (
	// CodeInvalidArgument indicates bad input rejected before any work began.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	// CodeNotFound indicates the satellite or name does not exist upstream.
	CodeNotFound Code = "NOT_FOUND"
	// CodeProviderUnavailable indicates a transient upstream failure.
	CodeProviderUnavailable Code = "PROVIDER_UNAVAILABLE"
	// CodePropagation indicates degenerate elements or an out-of-range epoch.
	CodePropagation Code = "PROPAGATION_ERROR"
	// CodeGeometry indicates a non-finite or degenerate look angle.
	CodeGeometry Code = "GEOMETRY_ERROR"
	// CodeNotConfigured indicates a feature that needs configuration it does not have.
	CodeNotConfigured Code = "NOT_CONFIGURED"
	// CodeInternal is used for anything outside the taxonomy.
	CodeInternal Code = "INTERNAL"
	// CodeRateLimited and CodeUnauthenticated mark 429 and 401 responses.
	// No error carries them.
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeUnauthenticated Code = "UNAUTHENTICATED"
)

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrPropagation         = errors.New("propagation error")
	ErrGeometry            = errors.New("geometry error")
	ErrNotConfigured       = errors.New("not configured")
)

var sentinels = map[Code]error{
	CodeInvalidArgument:     ErrInvalidArgument,
	CodeNotFound:            ErrNotFound,
	CodeProviderUnavailable: ErrProviderUnavailable,
	CodePropagation:         ErrPropagation,
	CodeGeometry:            ErrGeometry,
	CodeNotConfigured:       ErrNotConfigured,
}

// Error is a classified failure with enough context to diagnose it:
// the operation, and for orbital math, the satellite and instant involved.
type Error struct {
	Code    Code
	Op      string
	NORADID int
	At      time.Time
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Code)
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
		b.WriteString(":")
	}
	if e.Message != "" {
		b.WriteString(" ")
		b.WriteString(e.Message)
	}
	if e.NORADID != 0 {
		fmt.Fprintf(&b, " norad_id=%d", e.NORADID)
	}
	if !e.At.IsZero() {
		fmt.Fprintf(&b, " at=%s", e.At.UTC().Format(time.RFC3339Nano))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap exposes both the sentinel for the error's Code and its cause.
func (e *Error) Unwrap() []error {
	var errs []error
	if s, ok := sentinels[e.Code]; ok {
		errs = append(errs, s)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// WithSatellite attaches the NORAD id and instant to the error.
func (e *Error) WithSatellite(noradID int, at time.Time) *Error {
	e.NORADID = noradID
	e.At = at
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

func newf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(op, format string, args ...any) *Error {
	return newf(CodeInvalidArgument, op, format, args...)
}

// NotFound creates a not-found error.
func NotFound(op, format string, args ...any) *Error {
	return newf(CodeNotFound, op, format, args...)
}

// Unavailable creates a provider-unavailable error wrapping cause.
func Unavailable(op string, cause error, format string, args ...any) *Error {
	return newf(CodeProviderUnavailable, op, format, args...).WithCause(cause)
}

// Propagation creates a propagation error.
func Propagation(op, format string, args ...any) *Error {
	return newf(CodePropagation, op, format, args...)
}

// Geometry creates a geometry error.
func Geometry(op, format string, args ...any) *Error {
	return newf(CodeGeometry, op, format, args...)
}

// NotConfigured creates a not-configured error.
func NotConfigured(op, format string, args ...any) *Error {
	return newf(CodeNotConfigured, op, format, args...)
}

// CodeOf returns the Code classifying err. Wrapped errors are searched,
// so fmt.Errorf("...: %w", apperr.NotFound(...)) still reports NOT_FOUND.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	for _, code := range []Code{
		CodeInvalidArgument, CodeNotFound, CodeProviderUnavailable,
		CodePropagation, CodeGeometry, CodeNotConfigured,
	} {
		if errors.Is(err, sentinels[code]) {
			return code
		}
	}
	return CodeInternal
}

// Retryable reports whether err is worth retrying. Only provider outages are.
func Retryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// StaleDataWarning records that elements older than the freshness threshold
// were used because nothing fresher was available. It is not an error: the
// result is still returned, with the warning attached.
type StaleDataWarning struct {
	NORADID   int
	Epoch     time.Time
	Age       time.Duration
	Threshold time.Duration
}

// MarshalJSON renders durations as seconds.
func (w StaleDataWarning) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type             string  `json:"type"`
		NORADID          int     `json:"norad_id"`
		Epoch            string  `json:"epoch"`
		AgeSeconds       float64 `json:"age_seconds"`
		ThresholdSeconds float64 `json:"threshold_seconds"`
		Message          string  `json:"message"`
	}{
		Type:             "stale_elements",
		NORADID:          w.NORADID,
		Epoch:            w.Epoch.UTC().Format(time.RFC3339),
		AgeSeconds:       w.Age.Seconds(),
		ThresholdSeconds: w.Threshold.Seconds(),
		Message:          w.String(),
	})
}

// String renders the warning for logs and CLI output.
func (w StaleDataWarning) String() string {
	return fmt.Sprintf("elements for %d are %s old (epoch %s), freshness threshold %s",
		w.NORADID, w.Age.Round(time.Minute), w.Epoch.UTC().Format(time.RFC3339), w.Threshold)
}

// CheckFreshness returns a warning when epoch is older than threshold at now.
// A non-positive threshold disables the check.
func CheckFreshness(noradID int, epoch, now time.Time, threshold time.Duration) (StaleDataWarning, bool) {
	if threshold <= 0 {
		return StaleDataWarning{}, false
	}
	age := now.Sub(epoch)
	if age <= threshold {
		return StaleDataWarning{}, false
	}
	return StaleDataWarning{
		NORADID:   noradID,
		Epoch:     epoch,
		Age:       age,
		Threshold: threshold,
	}, true
}
