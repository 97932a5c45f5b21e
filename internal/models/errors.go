package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error for callers that branch on it.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindConflict
	KindUnauthorized
	KindNotFound
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindExternal:
		return "external_failure"
	default:
		return "unknown"
	}
}

// Kind sentinels. Every domain error wraps exactly one of them.
var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("not permitted")
	ErrNotFound     = errors.New("not found")
	ErrExternal     = errors.New("external dependency failure")
)

var (
	ErrSessionAlreadyOpen = fmt.Errorf("%w: asset already has an open session", ErrConflict)
	ErrNotMonotonic       = fmt.Errorf("%w: meter reading must exceed the last known value", ErrConflict)
	ErrNoOpenSession      = fmt.Errorf("%w: asset has no open session", ErrConflict)
	ErrBelowStart         = fmt.Errorf("%w: end reading is below the start reading", ErrConflict)

	ErrPermissionDenied = fmt.Errorf("%w", ErrUnauthorized)
	ErrSelfRoleChange   = fmt.Errorf("%w: cannot change own role", ErrUnauthorized)

	ErrAssetNotFound   = fmt.Errorf("%w: asset", ErrNotFound)
	ErrAccountNotFound = fmt.Errorf("%w: account", ErrNotFound)
	ErrServiceNotFound = fmt.Errorf("%w: service log", ErrNotFound)

	ErrIdentityProvider = fmt.Errorf("%w: identity provider", ErrExternal)
	ErrDuplicateEmail   = fmt.Errorf("%w: email already registered", ErrConflict)
)

// SessionAlreadyOpenError carries the session that blocks a new departure.
type SessionAlreadyOpenError struct {
	Existing SessionSummary
}

func (e *SessionAlreadyOpenError) Error() string {
	return fmt.Sprintf("asset %s already has an open session %s (start %v)",
		e.Existing.AssetID, e.Existing.SessionID, e.Existing.StartMeterValue)
}

func (e *SessionAlreadyOpenError) Unwrap() error { return ErrSessionAlreadyOpen }

// NotMonotonicError carries the value a new reading must exceed.
type NotMonotonicError struct {
	Submitted float64
	LastKnown float64
}

func (e *NotMonotonicError) Error() string {
	return fmt.Sprintf("meter reading %v must exceed %v", e.Submitted, e.LastKnown)
}

func (e *NotMonotonicError) Unwrap() error { return ErrNotMonotonic }

// BelowStartError carries the start reading of the session being closed.
type BelowStartError struct {
	Submitted float64
	Start     float64
}

func (e *BelowStartError) Error() string {
	return fmt.Sprintf("end reading %v is below start reading %v", e.Submitted, e.Start)
}

func (e *BelowStartError) Unwrap() error { return ErrBelowStart }

// ValidationError lists offending fields and why.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// KindOf classifies err. Errors that wrap no domain sentinel are KindUnknown.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrExternal):
		return KindExternal
	default:
		return KindUnknown
	}
}
