package lime

import "errors"

// ErrorKind classifies errors raised by the core, per the error handling
// design: Protocol, Session, Transport, Timeout, Cancelled,
// Authentication, Authorization, Storage, Disposed.
type ErrorKind string

const (
	ErrorKindProtocol       ErrorKind = "protocol"
	ErrorKindSession        ErrorKind = "session"
	ErrorKindTransport      ErrorKind = "transport"
	ErrorKindTimeout        ErrorKind = "timeout"
	ErrorKindCancelled      ErrorKind = "cancelled"
	ErrorKindAuthentication ErrorKind = "authentication"
	ErrorKindAuthorization  ErrorKind = "authorization"
	ErrorKindStorage        ErrorKind = "storage"
	ErrorKindDisposed       ErrorKind = "disposed"
)

// Error is a typed error carrying an ErrorKind and, optionally, a wire
// Reason.
type Error struct {
	Kind   ErrorKind
	Reason *Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Reason != nil {
		return string(e.Kind) + ": " + e.Reason.Error()
	}
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a typed Error wrapping err under kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// NewReasonError builds a typed Error carrying a wire Reason.
func NewReasonError(kind ErrorKind, reason *Reason) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Sentinel errors shared across the core packages.
var (
	ErrClosed           = errors.New("lime: closed")
	ErrNotConnected      = errors.New("lime: not connected")
	ErrTimeout           = errors.New("lime: timeout")
	ErrPeerReset         = errors.New("lime: peer reset")
	ErrSerialization     = errors.New("lime: serialization error")
	ErrDisposed          = errors.New("lime: disposed")
	ErrNotEstablished    = errors.New("lime: channel not established")
	ErrNoCompatibleOption = errors.New("lime: no compatible negotiation option")
)
