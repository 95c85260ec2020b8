package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a backend failure.
type Kind string

const (
	KindTimeout         Kind = "timeout"
	KindNetwork         Kind = "network"
	KindAuth            Kind = "auth"
	KindValidation      Kind = "validation"
	KindDuplicate       Kind = "duplicate"
	KindPayloadTooLarge Kind = "payload_too_large"
	KindRequest         Kind = "request"
)

// Error is returned by every Client operation that fails.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	// Fields names the missing or invalid fields of a validation failure.
	Fields []string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Fields, ", "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a backend *Error of kind k.
func IsKind(err error, k Kind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == k
}

// KindOf returns the kind of a backend error, or "" for other errors.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// Retryable reports whether repeating the call may succeed. Caller mistakes
// and duplicates are never retried.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindNetwork, KindRequest:
		return true
	default:
		return false
	}
}

// Offline reports whether err means the backend could not be reached or kept failing.
func Offline(err error) bool {
	return Retryable(err) || IsKind(err, KindAuth)
}

// transportError classifies an error from the HTTP round trip itself.
func transportError(op string, err error) *Error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

func validationError(op string, fields []string, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Fields: fields, Message: msg}
}
