// Package transport defines the duplex, frame-oriented carrier contract
// that a channel multiplexes LIME envelopes over.
package transport

import (
	"context"
	"errors"

	"github.com/kinhtkblbp/limenode/pkg/lime"
)

// Sentinel failure modes, per the transport contract.
var (
	ErrClosed        = lime.ErrClosed
	ErrNotConnected  = lime.ErrNotConnected
	ErrTimeout       = lime.ErrTimeout
	ErrPeerReset     = lime.ErrPeerReset
	ErrSerialization = lime.ErrSerialization
)

// Transport is a duplex, frame-oriented carrier of envelopes. Send and
// Receive are permitted to run concurrently on distinct logical tasks;
// implementations serialize concurrent Sends internally.
type Transport interface {
	// Open establishes the underlying connection to uri.
	Open(ctx context.Context, uri string) error
	// Close tears down the connection. Close is idempotent.
	Close(ctx context.Context) error
	// Send writes one envelope. Concurrent Sends are serialized by the
	// implementation.
	Send(ctx context.Context, env lime.Envelope) error
	// Receive blocks until one envelope is available, ctx is done, or
	// the transport closes.
	Receive(ctx context.Context) (lime.Envelope, error)
	// IsConnected reports the current connection state.
	IsConnected() bool
	// SetEncryption performs an out-of-band encryption upgrade. It is
	// atomic with respect to framing: no envelope is sent or received
	// mid-upgrade.
	SetEncryption(ctx context.Context, enc lime.SessionEncryption) error
	// SetCompression performs an out-of-band compression upgrade, with
	// the same atomicity guarantee as SetEncryption.
	SetCompression(ctx context.Context, comp lime.SessionCompression) error
}

// errNotSupported is returned by transports that do not implement a
// given out-of-band upgrade.
var errNotSupported = errors.New("transport: upgrade not supported")

// ErrUpgradeNotSupported is returned by SetEncryption/SetCompression
// implementations that cannot perform the requested upgrade.
func ErrUpgradeNotSupported() error { return errNotSupported }
