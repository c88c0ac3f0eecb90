// Package session implements the LIME session negotiation state
// machine: New -> Negotiating -> Authenticating -> Established (or
// Failed), and Established -> Finishing -> Finished.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kinhtkblbp/limenode/pkg/lime"
	"github.com/kinhtkblbp/limenode/pkg/transport"
)

// DefaultNegotiationTimeout is the per-step negotiation deadline applied
// when Config.NegotiationTimeout is zero.
const DefaultNegotiationTimeout = 60 * time.Second

// Authenticator validates credentials presented by a client during the
// authenticating step. It returns a reason on rejection.
type Authenticator func(ctx context.Context, from lime.Node, scheme lime.AuthenticationScheme, auth lime.Authentication) (ok bool, reason *lime.Reason)

// Config holds the options a server advertises during negotiation and
// the authenticator used to validate credentials.
type Config struct {
	EncryptionOptions   []lime.SessionEncryption
	CompressionOptions  []lime.SessionCompression
	SchemeOptions       []lime.AuthenticationScheme
	NegotiationTimeout  time.Duration
	Authenticate        Authenticator
	LocalNode           lime.Node
}

func (c Config) timeout() time.Duration {
	if c.NegotiationTimeout > 0 {
		return c.NegotiationTimeout
	}
	return DefaultNegotiationTimeout
}

// Machine tracks the current state of one session negotiation.
type Machine struct {
	mu    sync.Mutex
	state lime.SessionState
}

// NewMachine returns a Machine in the New state.
func NewMachine() *Machine {
	return &Machine{state: lime.SessionStateNew}
}

// State returns the current state.
func (m *Machine) State() lime.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) transition(to lime.SessionState) {
	m.mu.Lock()
	m.state = to
	m.mu.Unlock()
}

// Terminal reports whether the current state admits no further envelopes.
func (m *Machine) Terminal() bool {
	switch m.State() {
	case lime.SessionStateFinished, lime.SessionStateFailed:
		return true
	default:
		return false
	}
}

// receiveWithTimeout waits for the next envelope for at most timeout. A
// step that times out fails the session with reason code 12 (session
// timeout) and sends the peer a Session{state: failed} before returning
// the error, per the negotiation deadline requirement: exceeding it
// transitions the machine to Failed rather than leaving it stuck in
// whatever intermediate state it was negotiating.
func receiveWithTimeout(ctx context.Context, t transport.Transport, m *Machine, timeout time.Duration) (lime.Envelope, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	env, err := t.Receive(stepCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, failSession(ctx, t, m, lime.ReasonCodeSessionTimeout, "session negotiation timed out")
		}
		return nil, err
	}
	return env, nil
}

func expectSession(env lime.Envelope) (*lime.Session, error) {
	s, ok := env.(*lime.Session)
	if !ok {
		return nil, lime.NewReasonError(lime.ErrorKindProtocol, lime.NewReason(lime.ReasonCodeProtocolError, "expected a session envelope"))
	}
	return s, nil
}

// firstCommon returns the first entry of ours that also appears in
// theirs, implementing the server's "first mutually supported option in
// its advertised order" tie-break policy.
func firstCommon[T comparable](ours, theirs []T) (T, bool) {
	set := make(map[T]struct{}, len(theirs))
	for _, v := range theirs {
		set[v] = struct{}{}
	}
	for _, v := range ours {
		if _, ok := set[v]; ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func failSession(ctx context.Context, t transport.Transport, m *Machine, code int, description string) error {
	m.transition(lime.SessionStateFailed)
	reason := lime.NewReason(code, description)
	_ = t.Send(ctx, &lime.Session{State: lime.SessionStateFailed, Reason: reason})
	return lime.NewReasonError(lime.ErrorKindSession, reason)
}
