package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kinhtkblbp/limenode/pkg/lime"
)

// Pipe returns two in-process transports wired to each other, for tests
// and other in-process callers that do not need real sockets.
func Pipe() (a, b Transport) {
	ab := make(chan lime.Envelope, 64)
	ba := make(chan lime.Envelope, 64)
	pa := &pipeTransport{send: ab, recv: ba}
	pb := &pipeTransport{send: ba, recv: ab}
	pa.peer = pb
	pb.peer = pa
	pa.connected.Store(true)
	pb.connected.Store(true)
	return pa, pb
}

type pipeTransport struct {
	send chan lime.Envelope
	recv chan lime.Envelope
	peer *pipeTransport

	closeOnce sync.Once
	connected atomic.Bool
}

func (p *pipeTransport) Open(ctx context.Context, uri string) error {
	p.connected.Store(true)
	return nil
}

func (p *pipeTransport) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.connected.Store(false)
		close(p.send)
	})
	return nil
}

func (p *pipeTransport) Send(ctx context.Context, env lime.Envelope) error {
	if !p.connected.Load() {
		return ErrNotConnected
	}
	select {
	case p.send <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeTransport) Receive(ctx context.Context) (lime.Envelope, error) {
	select {
	case env, ok := <-p.recv:
		if !ok {
			return nil, ErrClosed
		}
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeTransport) IsConnected() bool {
	return p.connected.Load()
}

func (p *pipeTransport) SetEncryption(ctx context.Context, enc lime.SessionEncryption) error {
	return nil
}

func (p *pipeTransport) SetCompression(ctx context.Context, comp lime.SessionCompression) error {
	return nil
}
