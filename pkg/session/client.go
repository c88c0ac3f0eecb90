package session

import (
	"context"
	"fmt"

	"github.com/kinhtkblbp/limenode/pkg/lime"
	"github.com/kinhtkblbp/limenode/pkg/transport"
)

// ClientCredentials bundles the authentication choice a client presents
// during the authenticating step.
type ClientCredentials struct {
	Scheme         lime.AuthenticationScheme
	Authentication lime.Authentication
}

// ClientEstablish drives the client side of negotiation over t, the dual
// of ServerEstablish: initiate with state:new, echo the server's
// negotiation choices, present credentials. Grounded on the teacher's
// performHandshake in pkg/network/client.go, generalized from a fixed
// binary handshake payload to the three-round JSON negotiation.
func ClientEstablish(ctx context.Context, t transport.Transport, cfg Config, creds ClientCredentials, m *Machine) (*lime.Session, error) {
	timeout := cfg.timeout()

	if err := t.Send(ctx, &lime.Session{State: lime.SessionStateNew}); err != nil {
		return nil, err
	}
	m.transition(lime.SessionStateNegotiating)

	env, err := receiveWithTimeout(ctx, t, m, timeout)
	if err != nil {
		return nil, err
	}
	negOffer, err := expectSession(env)
	if err != nil {
		return nil, err
	}
	if negOffer.State != lime.SessionStateNegotiating {
		return nil, failSession(ctx, t, m, lime.ReasonCodeProtocolError, "expected session state negotiating")
	}

	encryption, ok := firstCommon(negOffer.EncryptionOptions, cfg.EncryptionOptions)
	if !ok {
		return nil, failSession(ctx, t, m, lime.ReasonCodeNoCompatibleOption, "no compatible encryption option")
	}
	compression, ok := firstCommon(negOffer.CompressionOptions, cfg.CompressionOptions)
	if !ok {
		return nil, failSession(ctx, t, m, lime.ReasonCodeNoCompatibleOption, "no compatible compression option")
	}

	if err := t.Send(ctx, &lime.Session{
		State:       lime.SessionStateNegotiating,
		Encryption:  encryption,
		Compression: compression,
	}); err != nil {
		return nil, err
	}
	if err := t.SetEncryption(ctx, encryption); err != nil {
		return nil, fmt.Errorf("session: apply encryption: %w", err)
	}
	if err := t.SetCompression(ctx, compression); err != nil {
		return nil, fmt.Errorf("session: apply compression: %w", err)
	}
	m.transition(lime.SessionStateAuthenticating)

	env, err = receiveWithTimeout(ctx, t, m, timeout)
	if err != nil {
		return nil, err
	}
	authOffer, err := expectSession(env)
	if err != nil {
		return nil, err
	}
	if authOffer.State != lime.SessionStateAuthenticating {
		return nil, failSession(ctx, t, m, lime.ReasonCodeProtocolError, "expected session state authenticating")
	}
	if _, ok := firstCommon([]lime.AuthenticationScheme{creds.Scheme}, authOffer.SchemeOptions); !ok {
		return nil, failSession(ctx, t, m, lime.ReasonCodeNoCompatibleOption, "server does not offer requested scheme")
	}

	if err := t.Send(ctx, &lime.Session{
		Base:           lime.Base{From: cfg.LocalNode},
		State:          lime.SessionStateAuthenticating,
		Scheme:         creds.Scheme,
		Authentication: creds.Authentication,
	}); err != nil {
		return nil, err
	}

	env, err = receiveWithTimeout(ctx, t, m, timeout)
	if err != nil {
		return nil, err
	}
	result, err := expectSession(env)
	if err != nil {
		return nil, err
	}
	switch result.State {
	case lime.SessionStateEstablished:
		m.transition(lime.SessionStateEstablished)
		return result, nil
	case lime.SessionStateFailed:
		m.transition(lime.SessionStateFailed)
		return nil, lime.NewReasonError(lime.ErrorKindAuthentication, result.Reason)
	default:
		return nil, failSession(ctx, t, m, lime.ReasonCodeProtocolError, "unexpected session state after authentication")
	}
}

// ClientFinish sends a finishing request and awaits the server's
// finished reply, the client's half of transition 4.
func ClientFinish(ctx context.Context, t transport.Transport, cfg Config, m *Machine) error {
	if err := t.Send(ctx, &lime.Session{State: lime.SessionStateFinishing}); err != nil {
		return err
	}
	env, err := receiveWithTimeout(ctx, t, m, cfg.timeout())
	if err != nil {
		return err
	}
	fin, err := expectSession(env)
	if err != nil {
		return err
	}
	if fin.State != lime.SessionStateFinished {
		return fmt.Errorf("%w: expected session state finished", lime.ErrSerialization)
	}
	m.transition(lime.SessionStateFinished)
	return nil
}
