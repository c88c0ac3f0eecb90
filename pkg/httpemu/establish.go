package httpemu

import (
	"context"

	"github.com/kinhtkblbp/limenode/pkg/channel"
	"github.com/kinhtkblbp/limenode/pkg/lime"
	"github.com/kinhtkblbp/limenode/pkg/session"
)

// loopbackPeer is a transport.Transport whose Send/Receive directions
// are mirrored against a ServerTransport's queues: it plays the client
// half of session negotiation against the very transport whose server
// half is driven by channel.EstablishServer. This is how the listener
// satisfies "the hosting server establishes a session over [the
// accepted transport]" without a real remote peer on the other end of
// the HTTP request: Basic auth already supplied the credentials, so
// the negotiation itself is run end-to-end in-process, reusing the
// exact session.ClientEstablish code path a real client would run.
type loopbackPeer struct {
	st *ServerTransport
}

func (p loopbackPeer) Open(ctx context.Context, uri string) error { return nil }
func (p loopbackPeer) Close(ctx context.Context) error             { return nil }
func (p loopbackPeer) IsConnected() bool                           { return p.st.IsConnected() }

func (p loopbackPeer) Send(ctx context.Context, env lime.Envelope) error {
	return p.st.inject(ctx, env)
}

func (p loopbackPeer) Receive(ctx context.Context) (lime.Envelope, error) {
	select {
	case env, ok := <-p.st.outbound:
		if !ok {
			return nil, lime.ErrClosed
		}
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p loopbackPeer) SetEncryption(ctx context.Context, enc lime.SessionEncryption) error {
	return nil
}

func (p loopbackPeer) SetCompression(ctx context.Context, comp lime.SessionCompression) error {
	return nil
}

// establishSynthetic drives both halves of session negotiation over
// st: ch.EstablishServer runs the real server half directly against
// st, while a loopbackPeer runs session.ClientEstablish concurrently,
// presenting creds on behalf of the HTTP-emulated client.
func establishSynthetic(ctx context.Context, st *ServerTransport, ch *channel.Channel, sessCfg session.Config, clientCfg session.Config, creds session.ClientCredentials) (*lime.Session, error) {
	clientErr := make(chan error, 1)
	go func() {
		_, err := session.ClientEstablish(ctx, loopbackPeer{st: st}, clientCfg, creds, session.NewMachine())
		clientErr <- err
	}()

	sess, err := ch.EstablishServer(ctx, sessCfg)
	if err != nil {
		return nil, err
	}
	if err := <-clientErr; err != nil {
		return nil, err
	}
	return sess, nil
}
