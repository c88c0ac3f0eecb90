package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kinhtkblbp/limenode/pkg/lime"
	"github.com/kinhtkblbp/limenode/pkg/transport"
)

// ServerEstablish drives the server side of negotiation over t, through
// the first three server-side transitions (the fourth, finishing, is
// ServerHandleFinishing):
//
//  1. New -> receive Session{state:new} -> reply negotiating options.
//  2. Negotiating -> receive chosen encryption/compression -> apply on
//     the transport -> reply authenticating scheme options.
//  3. Authenticating -> receive scheme/credentials -> validate -> reply
//     established or failed.
//
// It is grounded on the teacher's handleHandshake/sendHandshakeAck pair
// in pkg/network/relay_handlers.go, generalized from a single-round
// binary handshake to LIME's three-round JSON negotiation.
func ServerEstablish(ctx context.Context, t transport.Transport, cfg Config, m *Machine) (*lime.Session, error) {
	timeout := cfg.timeout()

	// Step 1: New
	env, err := receiveWithTimeout(ctx, t, m, timeout)
	if err != nil {
		return nil, err
	}
	req, err := expectSession(env)
	if err != nil {
		return nil, err
	}
	if req.State != lime.SessionStateNew {
		return nil, failSession(ctx, t, m, lime.ReasonCodeProtocolError, "expected session state new")
	}
	m.transition(lime.SessionStateNegotiating)

	if err := t.Send(ctx, &lime.Session{
		State:              lime.SessionStateNegotiating,
		EncryptionOptions:  cfg.EncryptionOptions,
		CompressionOptions: cfg.CompressionOptions,
	}); err != nil {
		return nil, err
	}

	// Step 2: Negotiating
	env, err = receiveWithTimeout(ctx, t, m, timeout)
	if err != nil {
		return nil, err
	}
	neg, err := expectSession(env)
	if err != nil {
		return nil, err
	}
	if neg.State != lime.SessionStateNegotiating {
		return nil, failSession(ctx, t, m, lime.ReasonCodeProtocolError, "expected session state negotiating")
	}
	if _, ok := firstCommon(cfg.EncryptionOptions, []lime.SessionEncryption{neg.Encryption}); !ok {
		return nil, failSession(ctx, t, m, lime.ReasonCodeNoCompatibleOption, "no compatible encryption option")
	}
	if _, ok := firstCommon(cfg.CompressionOptions, []lime.SessionCompression{neg.Compression}); !ok {
		return nil, failSession(ctx, t, m, lime.ReasonCodeNoCompatibleOption, "no compatible compression option")
	}
	if err := t.SetEncryption(ctx, neg.Encryption); err != nil {
		return nil, fmt.Errorf("session: apply encryption: %w", err)
	}
	if err := t.SetCompression(ctx, neg.Compression); err != nil {
		return nil, fmt.Errorf("session: apply compression: %w", err)
	}
	m.transition(lime.SessionStateAuthenticating)

	if err := t.Send(ctx, &lime.Session{
		State:         lime.SessionStateAuthenticating,
		SchemeOptions: cfg.SchemeOptions,
	}); err != nil {
		return nil, err
	}

	// Step 3: Authenticating
	env, err = receiveWithTimeout(ctx, t, m, timeout)
	if err != nil {
		return nil, err
	}
	auth, err := expectSession(env)
	if err != nil {
		return nil, err
	}
	if auth.State != lime.SessionStateAuthenticating {
		return nil, failSession(ctx, t, m, lime.ReasonCodeProtocolError, "expected session state authenticating")
	}
	if _, ok := firstCommon(cfg.SchemeOptions, []lime.AuthenticationScheme{auth.Scheme}); !ok {
		return nil, failSession(ctx, t, m, lime.ReasonCodeNoCompatibleOption, "no compatible authentication scheme")
	}

	ok := true
	var reason *lime.Reason
	if cfg.Authenticate != nil {
		ok, reason = cfg.Authenticate(ctx, auth.From, auth.Scheme, auth.Authentication)
	}
	if !ok {
		if reason == nil {
			reason = lime.NewReason(lime.ReasonCodeAuthenticationError, "authentication failed")
		}
		m.transition(lime.SessionStateFailed)
		_ = t.Send(ctx, &lime.Session{State: lime.SessionStateFailed, Reason: reason})
		return nil, lime.NewReasonError(lime.ErrorKindAuthentication, reason)
	}

	id := uuid.New()
	established := &lime.Session{
		Base:  lime.Base{ID: &id, From: cfg.LocalNode},
		State: lime.SessionStateEstablished,
	}
	m.transition(lime.SessionStateEstablished)
	if err := t.Send(ctx, established); err != nil {
		return nil, err
	}
	return established, nil
}

// ServerHandleFinishing replies to a client-initiated finishing request,
// transitioning the machine to Finished. It is the server's half of
// transition 4.
func ServerHandleFinishing(ctx context.Context, t transport.Transport, m *Machine, fin *lime.Session) error {
	if fin.State != lime.SessionStateFinishing {
		return fmt.Errorf("%w: expected session state finishing", lime.ErrSerialization)
	}
	m.transition(lime.SessionStateFinished)
	return t.Send(ctx, &lime.Session{State: lime.SessionStateFinished})
}
