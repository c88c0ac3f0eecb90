// Package channel implements the session-bound envelope multiplexer: a
// single demultiplexing loop over a Transport feeding four typed,
// bounded queues (message, notification, command, session), plus the
// on-demand client channel that lazily rebuilds a Channel on failure.
package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kinhtkblbp/limenode/pkg/lime"
	"github.com/kinhtkblbp/limenode/pkg/session"
	"github.com/kinhtkblbp/limenode/pkg/transport"
)

// Config holds per-Channel tuning knobs.
type Config struct {
	// InboundQueueCapacity bounds each of the four typed queues. Zero
	// defaults to 1, matching the back-pressure default in the spec.
	InboundQueueCapacity int
	// RemoteIdleTimeout, if positive, drives the /ping liveness probe:
	// a channel missing any inbound envelope for this long issues a
	// ping command and closes if no response arrives within half the
	// timeout.
	RemoteIdleTimeout time.Duration
}

func (c Config) queueCapacity() int {
	if c.InboundQueueCapacity > 0 {
		return c.InboundQueueCapacity
	}
	return 1
}

type sendJob struct {
	env    lime.Envelope
	result chan error
}

// Channel multiplexes message/notification/command/session envelopes
// over one Transport, gated by a session.Machine. It is grounded on the
// teacher's single receiveLoop dispatching on a binary header
// discriminator (pkg/network/message_handler.go), generalized to LIME's
// four envelope kinds and to a session state machine gate.
type Channel struct {
	t       transport.Transport
	machine *session.Machine
	cfg     Config

	messages      chan *lime.Message
	notifications chan *lime.Notification
	commands      chan *lime.Command
	sessionDone   chan *lime.Session

	outbox chan sendJob

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
	closeMu   sync.Mutex

	idleReset chan struct{}

	pingMu   sync.Mutex
	pingID   *uuid.UUID
	pingResp chan *lime.Command
}

// New wraps t in a Channel. The channel is not established; call
// EstablishClient or EstablishServer before using the typed send/receive
// operations.
func New(t transport.Transport, cfg Config) *Channel {
	cap := cfg.queueCapacity()
	return &Channel{
		t:             t,
		machine:       session.NewMachine(),
		cfg:           cfg,
		messages:      make(chan *lime.Message, cap),
		notifications: make(chan *lime.Notification, cap),
		commands:      make(chan *lime.Command, cap),
		sessionDone:   make(chan *lime.Session, 1),
		outbox:        make(chan sendJob, 64),
		closed:        make(chan struct{}),
		idleReset:     make(chan struct{}, 1),
		pingResp:      make(chan *lime.Command, 1),
	}
}

// State returns the current session state.
func (c *Channel) State() lime.SessionState {
	return c.machine.State()
}

// Established reports whether the channel's session has converged.
func (c *Channel) Established() bool {
	return c.machine.State() == lime.SessionStateEstablished
}

// Transport returns the channel's underlying transport.
func (c *Channel) Transport() transport.Transport {
	return c.t
}

// EstablishClient drives the client side of session negotiation and
// starts the demultiplexer once it converges.
func (c *Channel) EstablishClient(ctx context.Context, sessCfg session.Config, creds session.ClientCredentials) (*lime.Session, error) {
	sess, err := session.ClientEstablish(ctx, c.t, sessCfg, creds, c.machine)
	if err != nil {
		c.closeWithErr(err)
		return nil, err
	}
	c.start()
	return sess, nil
}

// EstablishServer drives the server side of session negotiation and
// starts the demultiplexer once it converges.
func (c *Channel) EstablishServer(ctx context.Context, sessCfg session.Config) (*lime.Session, error) {
	sess, err := session.ServerEstablish(ctx, c.t, sessCfg, c.machine)
	if err != nil {
		c.closeWithErr(err)
		return nil, err
	}
	c.start()
	return sess, nil
}

func (c *Channel) start() {
	go c.receiveLoop()
	go c.outboxLoop()
	if c.cfg.RemoteIdleTimeout > 0 {
		go c.livenessLoop()
	}
}

// Finish requests session termination (client role: send finishing, wait
// for finished) and then closes the channel, whether or not the exchange
// succeeded.
func (c *Channel) Finish(ctx context.Context, sessCfg session.Config) error {
	if !c.Established() {
		return fmt.Errorf("%w", lime.ErrNotEstablished)
	}
	err := session.ClientFinish(ctx, c.t, sessCfg, c.machine)
	c.closeWithErr(transport.ErrClosed)
	return err
}

// ReceiveFinishedSession blocks until the channel observes a finishing,
// finished or failed session envelope, the channel closes (ErrClosed), or
// ctx is done.
func (c *Channel) ReceiveFinishedSession(ctx context.Context) (*lime.Session, error) {
	select {
	case s, ok := <-c.sessionDone:
		if !ok {
			return nil, transport.ErrClosed
		}
		return s, nil
	case <-c.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// -- typed send operations --

func (c *Channel) send(ctx context.Context, env lime.Envelope, requireEstablished bool) error {
	if requireEstablished && !c.Established() {
		return fmt.Errorf("%w: %w", transport.ErrClosed, lime.ErrNotEstablished)
	}
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}

	job := sendJob{env: env, result: make(chan error, 1)}
	select {
	case c.outbox <- job:
	case <-c.closed:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-job.result:
		return err
	case <-c.closed:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendMessage sends msg. It fails with Closed if the channel is not
// Established.
func (c *Channel) SendMessage(ctx context.Context, msg *lime.Message) error {
	return c.send(ctx, msg, true)
}

// SendNotification sends n.
func (c *Channel) SendNotification(ctx context.Context, n *lime.Notification) error {
	return c.send(ctx, n, true)
}

// SendCommand sends cmd.
func (c *Channel) SendCommand(ctx context.Context, cmd *lime.Command) error {
	return c.send(ctx, cmd, true)
}

// -- typed receive operations --

// receiveFrom is a free function, not a method, because Go methods
// cannot carry their own type parameters.
func receiveFrom[T any](ctx context.Context, c *Channel, queue chan T) (T, error) {
	var zero T
	select {
	case v, ok := <-queue:
		if !ok {
			return zero, transport.ErrClosed
		}
		return v, nil
	case <-c.closed:
		return zero, transport.ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// ReceiveMessage blocks for the next message, Closed, or ctx.Done().
func (c *Channel) ReceiveMessage(ctx context.Context) (*lime.Message, error) {
	return receiveFrom(ctx, c, c.messages)
}

// ReceiveNotification blocks for the next notification.
func (c *Channel) ReceiveNotification(ctx context.Context) (*lime.Notification, error) {
	return receiveFrom(ctx, c, c.notifications)
}

// ReceiveCommand blocks for the next command.
func (c *Channel) ReceiveCommand(ctx context.Context) (*lime.Command, error) {
	return receiveFrom(ctx, c, c.commands)
}

// -- internal loops --

func (c *Channel) outboxLoop() {
	for {
		select {
		case job, ok := <-c.outbox:
			if !ok {
				return
			}
			job.result <- c.t.Send(context.Background(), job.env)
		case <-c.closed:
			return
		}
	}
}

func (c *Channel) receiveLoop() {
	for {
		env, err := c.t.Receive(context.Background())
		if err != nil {
			c.closeWithErr(err)
			return
		}
		c.signalIdleReset()

		switch v := env.(type) {
		case *lime.Message:
			if !enqueueTo(c, c.messages, v) {
				return
			}
		case *lime.Notification:
			if !enqueueTo(c, c.notifications, v) {
				return
			}
		case *lime.Command:
			if c.consumePingResponse(v) {
				continue
			}
			if !enqueueTo(c, c.commands, v) {
				return
			}
		case *lime.Session:
			if !c.handleInboundSession(v) {
				return
			}
		}
	}
}

func enqueueTo[T any](c *Channel, queue chan T, v T) bool {
	select {
	case queue <- v:
		return true
	case <-c.closed:
		return false
	}
}

func (c *Channel) handleInboundSession(s *lime.Session) bool {
	switch s.State {
	case lime.SessionStateFinishing:
		// Server role: acknowledge and close.
		_ = session.ServerHandleFinishing(context.Background(), c.t, c.machine, s)
		c.pushSessionDone(s)
		c.closeWithErr(transport.ErrClosed)
		return false
	case lime.SessionStateFinished, lime.SessionStateFailed:
		c.pushSessionDone(s)
		c.closeWithErr(transport.ErrClosed)
		return false
	default:
		// Unexpected session envelope once established is a protocol
		// error; fail the channel per the error handling design.
		reason := lime.NewReason(lime.ReasonCodeProtocolError, "unexpected session envelope after establishment")
		_ = c.t.Send(context.Background(), &lime.Session{State: lime.SessionStateFailed, Reason: reason})
		c.closeWithErr(lime.NewReasonError(lime.ErrorKindProtocol, reason))
		return false
	}
}

func (c *Channel) pushSessionDone(s *lime.Session) {
	select {
	case c.sessionDone <- s:
	default:
	}
}

func (c *Channel) consumePingResponse(cmd *lime.Command) bool {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	if c.pingID == nil || cmd.ID == nil || *cmd.ID != *c.pingID {
		return false
	}
	c.pingID = nil
	select {
	case c.pingResp <- cmd:
	default:
	}
	return true
}

func (c *Channel) signalIdleReset() {
	select {
	case c.idleReset <- struct{}{}:
	default:
	}
}

func (c *Channel) livenessLoop() {
	timer := time.NewTimer(c.cfg.RemoteIdleTimeout)
	defer timer.Stop()
	for {
		select {
		case <-c.idleReset:
			timer.Reset(c.cfg.RemoteIdleTimeout)
		case <-c.closed:
			return
		case <-timer.C:
			if !c.probeLiveness() {
				return
			}
			timer.Reset(c.cfg.RemoteIdleTimeout)
		}
	}
}

func (c *Channel) probeLiveness() bool {
	id := lime.NewID()
	c.pingMu.Lock()
	c.pingID = &id
	c.pingMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RemoteIdleTimeout/2)
	defer cancel()

	err := c.SendCommand(ctx, &lime.Command{
		Base:     lime.Base{ID: &id},
		URI:      "/ping",
		Method:   lime.CommandMethodGet,
		Resource: lime.Document{MediaType: lime.MediaTypePing, Value: &lime.Ping{}},
	})
	if err != nil {
		c.closeWithErr(fmt.Errorf("%w: liveness ping failed: %v", lime.ErrTimeout, err))
		return false
	}

	select {
	case <-c.pingResp:
		return true
	case <-ctx.Done():
		c.closeWithErr(fmt.Errorf("%w: no response to liveness ping", lime.ErrTimeout))
		return false
	case <-c.closed:
		return false
	}
}

func (c *Channel) closeWithErr(err error) {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.closeErr = err
		c.closeMu.Unlock()
		close(c.closed)
		_ = c.t.Close(context.Background())
	})
}

// Err returns the error that caused the channel to close, if any.
func (c *Channel) Err() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closeErr
}

// Closed reports whether the channel has closed.
func (c *Channel) Closed() <-chan struct{} {
	return c.closed
}

// Close tears the channel down without a session handshake, e.g. on
// application shutdown.
func (c *Channel) Close() error {
	c.closeWithErr(transport.ErrClosed)
	return nil
}
