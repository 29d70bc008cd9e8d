// Package umdterr defines the stable error discriminants shared by every
// engine (spec §7) and wraps them with github.com/pkg/errors so callers
// retain a stack trace from the point the error was first raised.
package umdterr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the stable discriminant a caller switches on. String values are
// part of the programmatic contract (event bus payloads serialize them),
// so existing ones must never be renumbered.
type Kind string

const (
	KindInvalidArgument  Kind = "invalid_argument"
	KindTransportError   Kind = "transport_error"
	KindTimeout          Kind = "timeout"
	KindFrameError       Kind = "frame_error"
	KindModbusException  Kind = "modbus_exception"
	KindCancelled        Kind = "cancelled"
	KindScriptError      Kind = "script_error"
	KindConfigError      Kind = "config_error"
)

// FrameErrorReason enumerates why a frame was captured but marked invalid.
type FrameErrorReason string

const (
	ReasonCRC             FrameErrorReason = "crc"
	ReasonTruncated       FrameErrorReason = "truncated"
	ReasonOversize        FrameErrorReason = "oversize"
	ReasonUnknownFunction FrameErrorReason = "unknown_function"
)

// Error is the concrete error type returned by every UMDT operation that
// can fail. It always carries a Kind; other fields are populated depending
// on Kind (see the constructors below).
type Error struct {
	Kind Kind

	// TransportError
	Cause error

	// Timeout
	AfterMS int64

	// FrameError
	Reason   FrameErrorReason
	RawBytes []byte

	// ModbusException
	ExceptionCode uint8

	// ConfigError
	Path   string
	Detail string

	msg   string
	stack error
}

func (e *Error) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return string(e.Kind)
}

// Unwrap lets errors.Is / errors.As see through to the wrapped cause.
func (e *Error) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return e.stack
}

func wrap(k Kind, msg string) *Error {
	return &Error{Kind: k, msg: msg, stack: errors.New(msg)}
}

func InvalidArgument(format string, args ...interface{}) *Error {
	return wrap(KindInvalidArgument, fmt.Sprintf(format, args...))
}

func Transport(cause error) *Error {
	e := wrap(KindTransportError, fmt.Sprintf("transport error: %v", cause))
	e.Cause = errors.WithStack(cause)
	return e
}

func Timeout(afterMS int64) *Error {
	e := wrap(KindTimeout, fmt.Sprintf("timed out after %dms", afterMS))
	e.AfterMS = afterMS
	return e
}

func Frame(reason FrameErrorReason, raw []byte) *Error {
	e := wrap(KindFrameError, fmt.Sprintf("malformed frame (%s)", reason))
	e.Reason = reason
	e.RawBytes = append([]byte(nil), raw...)
	return e
}

func ModbusException(code uint8) *Error {
	e := wrap(KindModbusException, exceptionMessage(code))
	e.ExceptionCode = code
	return e
}

func Cancelled() *Error {
	return wrap(KindCancelled, "cancelled")
}

func Script(cause error) *Error {
	e := wrap(KindScriptError, fmt.Sprintf("script error: %v", cause))
	e.Cause = errors.WithStack(cause)
	return e
}

func Config(path, detail string) *Error {
	e := wrap(KindConfigError, fmt.Sprintf("config error (%s): %s", path, detail))
	e.Path = path
	e.Detail = detail
	return e
}

// exceptionMessage maps a modbus exception code (spec GLOSSARY) to a
// human-readable string.
func exceptionMessage(code uint8) string {
	switch code {
	case 0x01:
		return "illegal function"
	case 0x02:
		return "illegal data address"
	case 0x03:
		return "illegal data value"
	case 0x04:
		return "server device failure"
	case 0x05:
		return "acknowledge"
	case 0x06:
		return "server device busy"
	case 0x08:
		return "memory parity error"
	case 0x0a:
		return "gateway path unavailable"
	case 0x0b:
		return "gateway target device failed to respond"
	default:
		return fmt.Sprintf("exception code %d", code)
	}
}

// As reports whether err is (or wraps) a *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}
