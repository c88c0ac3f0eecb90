package httpemu

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/kinhtkblbp/limenode/pkg/lime"
	"github.com/kinhtkblbp/limenode/pkg/limelog"
	"github.com/kinhtkblbp/limenode/pkg/transport"
)

// ServerTransport is an in-process Transport bridging one HTTP-emulated
// client's identity to a server-side Channel: envelopes an HTTP request
// constructs are pushed into inbound (what the Channel's demultiplexer
// Receives); envelopes the Channel Sends land in outbound for the
// listener's output routines to inspect. It is grounded on the
// teacher's Server.chunkMetadata get-or-create pattern in
// pkg/meshstorage/api/server.go, generalized from a plain
// mutex-guarded map to the lock-free sync.Map the identity cache needs.
type ServerTransport struct {
	key      string
	identity lime.Identity

	inbound  chan lime.Envelope
	outbound chan lime.Envelope

	connected atomic.Bool
	closeOnce sync.Once

	ready     chan struct{}
	readyOnce sync.Once
	sessionID uuid.UUID
}

func newServerTransport(key string, identity lime.Identity) *ServerTransport {
	t := &ServerTransport{
		key:      key,
		identity: identity,
		inbound:  make(chan lime.Envelope, 16),
		outbound: make(chan lime.Envelope, 16),
		ready:    make(chan struct{}),
	}
	t.connected.Store(true)
	return t
}

// Identity returns the identity this transport was created for.
func (t *ServerTransport) Identity() lime.Identity { return t.identity }

// Open is a no-op; the transport is already live once constructed.
func (t *ServerTransport) Open(ctx context.Context, uri string) error {
	return nil
}

// Close marks the transport disconnected and closes inbound, so a pending
// or later Receive returns ErrClosed; later Send and inject calls fail
// with ErrNotConnected. A Send already blocked on a full outbound queue
// is not woken by Close; it returns only when its ctx is done.
func (t *ServerTransport) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		close(t.inbound)
	})
	return nil
}

// Send captures env into the outbound queue for the listener's output
// routines to inspect.
func (t *ServerTransport) Send(ctx context.Context, env lime.Envelope) error {
	if !t.connected.Load() {
		return transport.ErrNotConnected
	}
	select {
	case t.outbound <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks for the next envelope an HTTP request injected.
func (t *ServerTransport) Receive(ctx context.Context) (lime.Envelope, error) {
	select {
	case env, ok := <-t.inbound:
		if !ok {
			return nil, transport.ErrClosed
		}
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsConnected implements transport.Transport.
func (t *ServerTransport) IsConnected() bool { return t.connected.Load() }

// SetEncryption is a no-op: HTTP transport security is handled by TLS
// termination in front of the listener, not by the LIME session layer.
func (t *ServerTransport) SetEncryption(ctx context.Context, enc lime.SessionEncryption) error {
	return nil
}

// SetCompression is a no-op for the same reason as SetEncryption.
func (t *ServerTransport) SetCompression(ctx context.Context, comp lime.SessionCompression) error {
	return nil
}

// inject pushes env into the inbound queue, as if it had arrived over
// the wire from the HTTP-emulated client.
func (t *ServerTransport) inject(ctx context.Context, env lime.Envelope) error {
	if !t.connected.Load() {
		return transport.ErrNotConnected
	}
	select {
	case t.inbound <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pumpOutboundPings drains envelopes the server-side Channel sends on its
// own initiative against this transport. Once establishment completes,
// the loopbackPeer goroutine that drove session.ClientEstablish has
// already exited, so outbound would otherwise go unread. The only thing
// a server-side Channel sends unprompted is the periodic /ping liveness
// probe (probeLiveness in pkg/channel) when RemoteIdleTimeout is
// configured — there is no second HTTP leg to deliver that probe to, so
// it is answered immediately here instead of being left to starve and
// close an otherwise healthy transport. Anything else arriving here
// would mean a bug upstream and is logged rather than silently dropped.
func (t *ServerTransport) pumpOutboundPings(ctx context.Context, logger *limelog.Logger) {
	for {
		select {
		case env, ok := <-t.outbound:
			if !ok {
				return
			}
			cmd, ok := env.(*lime.Command)
			if !ok || cmd.URI != "/ping" {
				logger.Warnf("httpemu: unexpected server-originated envelope on %s, discarding", t.identity)
				continue
			}
			pong := &lime.Command{
				Base:   lime.Base{ID: cmd.ID},
				URI:    cmd.URI,
				Method: cmd.Method,
				Status: lime.CommandStatusSuccess,
			}
			_ = t.inject(ctx, pong)
		case <-ctx.Done():
			return
		}
	}
}

// markReady records the session id established over this transport and
// unblocks waiters added via awaitReady.
func (t *ServerTransport) markReady(id uuid.UUID) {
	t.readyOnce.Do(func() {
		t.sessionID = id
		close(t.ready)
	})
}

// awaitReady blocks until the transport's session is established or ctx
// is done, returning the session id.
func (t *ServerTransport) awaitReady(ctx context.Context) (uuid.UUID, error) {
	select {
	case <-t.ready:
		return t.sessionID, nil
	case <-ctx.Done():
		return uuid.UUID{}, ctx.Err()
	}
}
