// Package moqerr defines the numeric control error codes shared by the
// wire protocol, the session layer, and the relay, and a typed error that
// carries one of them.
package moqerr

import (
	"errors"
	"fmt"
)

// Code is a session/stream close code, sent on the wire as a 32-bit
// application error code (spec §6).
type Code uint32

const (
	OK            Code = 0
	Cancel        Code = 1
	NotFound      Code = 2
	Unauthorized  Code = 3
	Protocol      Code = 4
	Version       Code = 5
	Duplicate     Code = 6
	Stale         Code = 7
	Internal      Code = 8
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case Cancel:
		return "cancel"
	case NotFound:
		return "not_found"
	case Unauthorized:
		return "unauthorized"
	case Protocol:
		return "protocol"
	case Version:
		return "version"
	case Duplicate:
		return "duplicate"
	case Stale:
		return "stale"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("code(%d)", uint32(c))
	}
}

// Error is a protocol-level error carrying a numeric code alongside a
// human-readable reason. It is the value returned across producer/consumer
// boundaries and encoded on SubscribeError/GroupDrop/session-close frames.
type Error struct {
	Code   Code
	Reason string
}

func New(code Code, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// As reports whether err (or something it wraps) is a *Error, and if so
// returns it. Callers that need a code for an untyped error should fall
// back to Internal, since the core must never propagate an unclassified
// error to the wire (spec §9 panic policy).
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code carried by err if it is (or wraps) an *Error,
// otherwise Internal.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return Internal
}
