// internal/errs/errs.go
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can decide between reject, retry,
// alert, and dead-letter without parsing messages.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindConnection
	KindConsistency
	KindDelivery
	KindPartial
	KindNotInitialized
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConnection:
		return "connection"
	case KindConsistency:
		return "consistency"
	case KindDelivery:
		return "delivery"
	case KindPartial:
		return "partial_failure"
	case KindNotInitialized:
		return "not_initialized"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error carries the structured context the core hands to its callers.
// Translation to anything user-facing happens outside this module.
type Error struct {
	Kind        Kind
	TenantID    string
	AggregateID string
	EventType   string
	Msg         string
	Err         error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	if e.TenantID != "" {
		s += fmt.Sprintf(" (tenant=%s", e.TenantID)
		if e.AggregateID != "" {
			s += fmt.Sprintf(" aggregate=%s", e.AggregateID)
		}
		if e.EventType != "" {
			s += fmt.Sprintf(" event=%s", e.EventType)
		}
		s += ")"
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match by kind: errors.Is(err, &Error{Kind: KindConnection}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func Validation(tenantID, msg string) *Error {
	return &Error{Kind: KindValidation, TenantID: tenantID, Msg: msg}
}

func Connection(tenantID, msg string, err error) *Error {
	return &Error{Kind: KindConnection, TenantID: tenantID, Msg: msg, Err: err}
}

func Consistency(tenantID, aggregateID, msg string) *Error {
	return &Error{Kind: KindConsistency, TenantID: tenantID, AggregateID: aggregateID, Msg: msg}
}

func Delivery(tenantID, eventType, msg string, err error) *Error {
	return &Error{Kind: KindDelivery, TenantID: tenantID, EventType: eventType, Msg: msg, Err: err}
}

func Partial(tenantID, eventType, msg string, err error) *Error {
	return &Error{Kind: KindPartial, TenantID: tenantID, EventType: eventType, Msg: msg, Err: err}
}

func NotInitialized(msg string) *Error {
	return &Error{Kind: KindNotInitialized, Msg: msg}
}

// EmptyHistory is returned when an aggregate is rebuilt from zero events.
var EmptyHistory = &Error{Kind: KindConsistency, Msg: "cannot rebuild aggregate from empty history"}

// IsKind reports whether err (or anything it wraps) is an *Error of the given kind.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// Retryable reports whether the caller may retry with backoff.
func Retryable(err error) bool {
	return IsKind(err, KindConnection)
}
