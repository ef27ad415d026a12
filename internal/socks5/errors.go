package socks5

import (
	"errors"
	"fmt"
	"io"
)

// Kind classifies why a SOCKS5 session failed.
type Kind int

const (
	KindUnknown Kind = iota
	UnsupportedVersion
	NoAcceptableAuth
	UnsupportedRequest
	UnsupportedAddressType
	IPv6NotSupported
	// MalformedMessage means a message ended before its declared lengths.
	MalformedMessage
	// HandshakeIOError covers handshake reads and writes that failed for a
	// reason other than truncation, such as a deadline.
	HandshakeIOError
	TargetDialFailed
	RelayIOError
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	UnsupportedVersion:     "unsupported version",
	NoAcceptableAuth:       "no acceptable auth method",
	UnsupportedRequest:     "unsupported request",
	UnsupportedAddressType: "unsupported address type",
	IPv6NotSupported:       "ipv6 not supported",
	MalformedMessage:       "malformed message",
	HandshakeIOError:       "handshake io error",
	TargetDialFailed:       "target dial failed",
	RelayIOError:           "relay io error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a session failure of a given Kind, optionally wrapping its cause.
type Error struct {
	Kind Kind
	Err  error
}

// NewError returns an *Error of kind k wrapping err.
func NewError(k Kind, err error) *Error {
	return &Error{Kind: k, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind, so sentinel
// comparisons like errors.Is(err, &Error{Kind: IPv6NotSupported}) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func errorf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Err: fmt.Errorf(format, args...)}
}

// readError classifies a failed handshake read. Truncation is a malformed
// message; anything else (deadline, reset) is an I/O error.
func readError(what string, err error) *Error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errorf(MalformedMessage, "read %s: %w", what, err)
	}
	return errorf(HandshakeIOError, "read %s: %w", what, err)
}

func writeError(what string, err error) *Error {
	return errorf(HandshakeIOError, "write %s: %w", what, err)
}
