package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinhtkblbp/limenode/pkg/lime"
	"github.com/kinhtkblbp/limenode/pkg/session"
	"github.com/kinhtkblbp/limenode/pkg/transport"
)

func establishPair(t *testing.T) (client *Channel, server *Channel) {
	t.Helper()
	clientT, serverT := transport.Pipe()

	serverNode, _ := lime.ParseNode("server@dom/inst")
	clientNode, _ := lime.ParseNode("client@dom/inst")

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

	server = New(serverT, Config{})
	client = New(clientT, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		err error
	}
	serverDone := make(chan result, 1)
	go func() {
		_, err := server.EstablishServer(ctx, serverCfg)
		serverDone <- result{err}
	}()

	_, err := client.EstablishClient(ctx, clientCfg, session.ClientCredentials{
		Scheme:         lime.AuthenticationSchemeGuest,
		Authentication: lime.GuestAuthentication{},
	})
	require.NoError(t, err)

	srvRes := <-serverDone
	require.NoError(t, srvRes.err)

	return client, server
}

func TestSendReceiveMessageRoundTrip(t *testing.T) {
	client, server := establishPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	to, _ := lime.ParseNode("server@dom/inst")
	msg := &lime.Message{
		Base:    lime.Base{To: to},
		Content: lime.Document{MediaType: "text/plain", Value: "hello"},
	}
	require.NoError(t, client.SendMessage(ctx, msg))

	got, err := server.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content.Value)
}

func TestSendRequiresEstablished(t *testing.T) {
	a, b := transport.Pipe()
	defer a.Close(context.Background())
	defer b.Close(context.Background())

	ch := New(a, Config{})
	err := ch.SendMessage(context.Background(), &lime.Message{})
	assert.ErrorIs(t, err, lime.ErrNotEstablished)
}

func TestFinishClosesBothChannels(t *testing.T) {
	client, server := establishPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		s, err := server.ReceiveFinishedSession(ctx)
		_ = s
		_ = err
	}()

	require.NoError(t, client.Finish(ctx, session.Config{NegotiationTimeout: 2 * time.Second}))

	select {
	case <-client.Closed():
	case <-time.After(time.Second):
		t.Fatal("client channel did not close after Finish")
	}
	select {
	case <-server.Closed():
	case <-time.After(time.Second):
		t.Fatal("server channel did not close after Finish")
	}
}

func TestReceiveMessageFailsAfterClose(t *testing.T) {
	client, _ := establishPair(t)
	require.NoError(t, client.Close())

	_, err := client.ReceiveMessage(context.Background())
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestLivenessPingKeepsChannelAlive(t *testing.T) {
	client, server := establishPair(t)
	server.cfg.RemoteIdleTimeout = 0 // server never pings; only client probes
	client.cfg.RemoteIdleTimeout = 50 * time.Millisecond
	go client.livenessLoop()

	go func() {
		for {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			cmd, err := server.ReceiveCommand(ctx)
			cancel()
			if err != nil {
				return
			}
			reply := *cmd
			reply.Status = lime.CommandStatusSuccess
			_ = server.SendCommand(context.Background(), &reply)
		}
	}()

	select {
	case <-client.Closed():
		t.Fatal("client channel closed despite ping responses")
	case <-time.After(300 * time.Millisecond):
	}
}
