package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinhtkblbp/limenode/pkg/lime"
	"github.com/kinhtkblbp/limenode/pkg/session"
	"github.com/kinhtkblbp/limenode/pkg/transport"
)

// pairFactory returns a Factory building a client Channel already
// established against a freshly spun-up server peer, plus a counter of
// how many times the Factory has been called.
func pairFactory(t *testing.T) (Factory, *int32) {
	t.Helper()
	builds := new(int32)
	serverNode, _ := lime.ParseNode("server@dom/inst")
	clientNode, _ := lime.ParseNode("client@dom/inst")

	f := func(ctx context.Context) (*Channel, error) {
		atomic.AddInt32(builds, 1)
		clientT, serverT := transport.Pipe()
		server := New(serverT, Config{})
		client := New(clientT, Config{})

		serverCfg := session.Config{
			EncryptionOptions:  []lime.SessionEncryption{lime.SessionEncryptionNone},
			CompressionOptions: []lime.SessionCompression{lime.SessionCompressionNone},
			SchemeOptions:      []lime.AuthenticationScheme{lime.AuthenticationSchemeGuest},
			NegotiationTimeout: 2 * time.Second,
			LocalNode:          serverNode,
			Authenticate: func(ctx context.Context, from lime.Node, scheme lime.AuthenticationScheme, auth lime.Authentication) (bool, *lime.Reason) {
				return true, nil
			},
		}
		clientCfg := serverCfg
		clientCfg.LocalNode = clientNode
		clientCfg.Authenticate = nil

		errCh := make(chan error, 1)
		go func() {
			_, err := server.EstablishServer(ctx, serverCfg)
			errCh <- err
		}()

		_, err := client.EstablishClient(ctx, clientCfg, session.ClientCredentials{
			Scheme:         lime.AuthenticationSchemeGuest,
			Authentication: lime.GuestAuthentication{},
		})
		if err != nil {
			return nil, err
		}
		if err := <-errCh; err != nil {
			return nil, err
		}

		// Draining server: every message received is discarded without a
		// reply; tests observe liveness through channel state alone.
		go func() {
			for {
				if _, err := server.ReceiveMessage(context.Background()); err != nil {
					return
				}
			}
		}()

		return client, nil
	}
	return f, builds
}

func TestOnDemandBuildsLazily(t *testing.T) {
	factory, builds := pairFactory(t)
	odc := NewOnDemandClientChannel(factory)
	assert.Nil(t, odc.Current())
	assert.EqualValues(t, 0, atomic.LoadInt32(builds))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg := &lime.Message{Content: lime.Document{MediaType: "text/plain", Value: "hi"}}
	require.NoError(t, odc.SendMessage(ctx, msg))
	assert.EqualValues(t, 1, atomic.LoadInt32(builds))
	assert.NotNil(t, odc.Current())
}

func TestOnDemandRebuildsAfterChannelFailure(t *testing.T) {
	factory, builds := pairFactory(t)
	odc := NewOnDemandClientChannel(factory)

	var mu sync.Mutex
	var events []EventKind
	odc.AddListener(func(ctx context.Context, e Event) bool {
		mu.Lock()
		events = append(events, e.Kind)
		mu.Unlock()
		return true
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msg := &lime.Message{Content: lime.Document{MediaType: "text/plain", Value: "hi"}}
	require.NoError(t, odc.SendMessage(ctx, msg))
	require.EqualValues(t, 1, atomic.LoadInt32(builds))

	broken := odc.Current()
	require.NotNil(t, broken)
	require.NoError(t, broken.Close())

	require.NoError(t, odc.SendMessage(ctx, msg))
	assert.EqualValues(t, 2, atomic.LoadInt32(builds))

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, events, ChannelOperationFailed)
	assert.Contains(t, events, ChannelDiscarded)
	assert.Contains(t, events, ChannelCreated)
}

// flakyFactory wraps a pairFactory so the first n calls fail outright,
// before delegating to the real factory.
func flakyFactory(t *testing.T, failures int32) (Factory, *int32) {
	t.Helper()
	inner, builds := pairFactory(t)
	var attempts int32
	f := func(ctx context.Context) (*Channel, error) {
		if atomic.AddInt32(&attempts, 1) <= failures {
			return nil, errors.New("builder not ready yet")
		}
		return inner(ctx)
	}
	return f, builds
}

func TestOnDemandRetriesCreationWhenListenerMarksHandled(t *testing.T) {
	factory, builds := flakyFactory(t, 1)
	odc := NewOnDemandClientChannel(factory)

	var mu sync.Mutex
	var events []EventKind
	odc.AddListener(func(ctx context.Context, e Event) bool {
		mu.Lock()
		events = append(events, e.Kind)
		mu.Unlock()
		return e.Kind == ChannelCreationFailed
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg := &lime.Message{Content: lime.Document{MediaType: "text/plain", Value: "hi"}}
	require.NoError(t, odc.SendMessage(ctx, msg))
	assert.EqualValues(t, 1, atomic.LoadInt32(builds))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, countKind(events, ChannelCreationFailed))
	assert.Equal(t, 1, countKind(events, ChannelCreated))
}

func TestOnDemandPropagatesCreationFailureWithoutListener(t *testing.T) {
	factory, builds := flakyFactory(t, 1)
	odc := NewOnDemandClientChannel(factory)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg := &lime.Message{Content: lime.Document{MediaType: "text/plain", Value: "hi"}}
	err := odc.SendMessage(ctx, msg)
	assert.Error(t, err)
	assert.EqualValues(t, 0, atomic.LoadInt32(builds))
}

func countKind(events []EventKind, k EventKind) int {
	n := 0
	for _, e := range events {
		if e == k {
			n++
		}
	}
	return n
}

func TestOnDemandDisposeStopsRebuild(t *testing.T) {
	factory, _ := pairFactory(t)
	odc := NewOnDemandClientChannel(factory)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg := &lime.Message{Content: lime.Document{MediaType: "text/plain", Value: "hi"}}
	require.NoError(t, odc.SendMessage(ctx, msg))

	odc.Dispose()
	assert.Nil(t, odc.Current())

	err := odc.SendMessage(ctx, msg)
	assert.ErrorIs(t, err, lime.ErrDisposed)
}

func TestOnDemandPropagatesCallerCancellationWithoutRebuild(t *testing.T) {
	factory, builds := pairFactory(t)
	odc := NewOnDemandClientChannel(factory)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := odc.ReceiveMessage(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 0, atomic.LoadInt32(builds))
}
