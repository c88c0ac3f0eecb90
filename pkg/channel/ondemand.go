package channel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kinhtkblbp/limenode/pkg/lime"
)

// EventKind discriminates the events an OnDemandClientChannel publishes
// to its listeners.
type EventKind int

const (
	// ChannelCreated fires after a new Channel has been built and is
	// ready for use.
	ChannelCreated EventKind = iota
	// ChannelDiscarded fires when a broken or disposed Channel is
	// dropped, whether by an operation failure, by being found closed
	// when the next operation acquires a channel, or by explicit Dispose.
	ChannelDiscarded
	// ChannelCreationFailed fires when the factory could not produce a
	// usable Channel.
	ChannelCreationFailed
	// ChannelOperationFailed fires when a send/receive against a live
	// Channel failed, immediately before that Channel is discarded.
	ChannelOperationFailed
)

// Event describes one lifecycle transition of an OnDemandClientChannel's
// underlying Channel. IsHandled reflects whether an earlier listener in
// the same emission already marked the event handled; for
// ChannelCreationFailed and ChannelOperationFailed, a listener returning
// true gates a retry of the build or operation.
type Event struct {
	Kind      EventKind
	Channel   *Channel
	Err       error
	IsHandled bool
}

// Listener receives OnDemandClientChannel lifecycle events, invoked in
// registration order, and reports whether it handled the event. For
// ChannelCreated and ChannelDiscarded the return value is informational
// only; for ChannelCreationFailed and ChannelOperationFailed it decides
// whether the producer retries.
type Listener func(ctx context.Context, ev Event) bool

// Factory builds and fully establishes a new Channel, or returns an
// error if it could not.
type Factory func(ctx context.Context) (*Channel, error)

// OnDemandClientChannel lazily builds its underlying Channel on first
// use and transparently rebuilds it after a failure, generalizing the
// teacher's connection pool (pkg/network/pool.go,
// pkg/network/reconnect.go) from a fixed-size pool of reconnecting TCP
// connections to a single lazily-built, single-permit channel.
//
// Cancellation rule: if the caller's own ctx is already done, or a
// pending operation fails because ctx was cancelled, that error is
// returned immediately without discarding the channel or retrying —
// only failures attributable to the channel itself trigger a rebuild.
type OnDemandClientChannel struct {
	factory Factory

	current  atomic.Pointer[Channel]
	buildMu  sync.Mutex
	disposed atomic.Bool

	listenersMu sync.Mutex
	listeners   []Listener
}

// NewOnDemandClientChannel returns a channel that defers building its
// first Channel until the first send or receive operation.
func NewOnDemandClientChannel(factory Factory) *OnDemandClientChannel {
	return &OnDemandClientChannel{factory: factory}
}

// AddListener registers l to receive future events. Listeners are
// invoked synchronously, in registration order, on the goroutine that
// triggered the event.
func (o *OnDemandClientChannel) AddListener(l Listener) {
	o.listenersMu.Lock()
	defer o.listenersMu.Unlock()
	o.listeners = append(o.listeners, l)
}

// emit invokes every registered listener in order, passing each the
// event with IsHandled set to whatever the prior listeners in this same
// emission decided, and returns whether any listener marked it handled.
func (o *OnDemandClientChannel) emit(ctx context.Context, ev Event) bool {
	o.listenersMu.Lock()
	ls := append([]Listener(nil), o.listeners...)
	o.listenersMu.Unlock()
	handled := false
	for _, l := range ls {
		ev.IsHandled = handled
		if l(ctx, ev) {
			handled = true
		}
	}
	return handled
}

func isDead(ch *Channel) bool {
	select {
	case <-ch.Closed():
		return true
	default:
		return false
	}
}

// get returns the current live Channel, building one if absent or dead;
// a dead one is discarded (ChannelDiscarded) first. Concurrent callers during a build block on buildMu and share its
// result — the single-permit rule. A factory failure loops the build for
// as long as a listener marks ChannelCreationFailed handled; with no
// listener, or one that declines, the failure propagates on the first
// attempt.
func (o *OnDemandClientChannel) get(ctx context.Context) (*Channel, error) {
	if o.disposed.Load() {
		return nil, lime.ErrDisposed
	}
	if ch := o.current.Load(); ch != nil && !isDead(ch) {
		return ch, nil
	}

	o.buildMu.Lock()
	defer o.buildMu.Unlock()

	if ch := o.current.Load(); ch != nil {
		if !isDead(ch) {
			return ch, nil
		}
		o.discard(ctx, ch, ch.Err())
	}

	for {
		if o.disposed.Load() {
			return nil, lime.ErrDisposed
		}

		ch, err := o.factory(ctx)
		if err == nil {
			o.current.Store(ch)
			o.emit(ctx, Event{Kind: ChannelCreated, Channel: ch})
			return ch, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !o.emit(ctx, Event{Kind: ChannelCreationFailed, Err: err}) {
			return nil, err
		}
	}
}

func (o *OnDemandClientChannel) discard(ctx context.Context, ch *Channel, cause error) {
	if o.current.CompareAndSwap(ch, nil) {
		_ = ch.Close()
		o.emit(ctx, Event{Kind: ChannelDiscarded, Channel: ch, Err: cause})
	}
}

// Dispose permanently stops the channel from rebuilding and discards
// any live Channel. Subsequent operations fail with ErrDisposed.
func (o *OnDemandClientChannel) Dispose() {
	if !o.disposed.CompareAndSwap(false, true) {
		return
	}
	if ch := o.current.Swap(nil); ch != nil {
		_ = ch.Close()
		o.emit(context.Background(), Event{Kind: ChannelDiscarded, Channel: ch})
	}
}

// do runs op against a live channel, rebuilding and retrying for as long
// as a listener marks each ChannelOperationFailed handled. A failure
// coinciding with the caller's own context cancellation is returned
// immediately, unretried; with no listener, or one that declines, the
// first failure propagates.
func (o *OnDemandClientChannel) do(ctx context.Context, op func(*Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for {
		ch, err := o.get(ctx)
		if err != nil {
			return err
		}
		err = op(ch)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		handled := o.emit(ctx, Event{Kind: ChannelOperationFailed, Channel: ch, Err: err})
		o.discard(ctx, ch, err)
		if !handled {
			return err
		}
	}
}

// SendMessage sends msg over the on-demand channel's current Channel,
// rebuilding and retrying on a channel failure for as long as a
// listener marks it handled.
func (o *OnDemandClientChannel) SendMessage(ctx context.Context, msg *lime.Message) error {
	return o.do(ctx, func(ch *Channel) error { return ch.SendMessage(ctx, msg) })
}

// SendNotification sends n.
func (o *OnDemandClientChannel) SendNotification(ctx context.Context, n *lime.Notification) error {
	return o.do(ctx, func(ch *Channel) error { return ch.SendNotification(ctx, n) })
}

// SendCommand sends cmd.
func (o *OnDemandClientChannel) SendCommand(ctx context.Context, cmd *lime.Command) error {
	return o.do(ctx, func(ch *Channel) error { return ch.SendCommand(ctx, cmd) })
}

// ReceiveMessage waits for the next message on the current Channel,
// rebuilding and retrying if the channel fails while waiting and a
// listener marks it handled.
func (o *OnDemandClientChannel) ReceiveMessage(ctx context.Context) (*lime.Message, error) {
	var out *lime.Message
	err := o.do(ctx, func(ch *Channel) error {
		m, err := ch.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// ReceiveNotification waits for the next notification.
func (o *OnDemandClientChannel) ReceiveNotification(ctx context.Context) (*lime.Notification, error) {
	var out *lime.Notification
	err := o.do(ctx, func(ch *Channel) error {
		n, err := ch.ReceiveNotification(ctx)
		if err != nil {
			return err
		}
		out = n
		return nil
	})
	return out, err
}

// ReceiveCommand waits for the next command.
func (o *OnDemandClientChannel) ReceiveCommand(ctx context.Context) (*lime.Command, error) {
	var out *lime.Command
	err := o.do(ctx, func(ch *Channel) error {
		c, err := ch.ReceiveCommand(ctx)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// Current returns the live Channel, if any, without building one.
func (o *OnDemandClientChannel) Current() *Channel {
	if ch := o.current.Load(); ch != nil && !isDead(ch) {
		return ch
	}
	return nil
}
