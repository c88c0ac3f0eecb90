package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinhtkblbp/limenode/pkg/lime"
	"github.com/kinhtkblbp/limenode/pkg/transport"
)

func testConfig(local lime.Node) Config {
	return Config{
		EncryptionOptions:  []lime.SessionEncryption{lime.SessionEncryptionNone, lime.SessionEncryptionTLS},
		CompressionOptions: []lime.SessionCompression{lime.SessionCompressionNone},
		SchemeOptions:      []lime.AuthenticationScheme{lime.AuthenticationSchemeGuest},
		NegotiationTimeout: 2 * time.Second,
		LocalNode:          local,
	}
}

func TestEstablishConverges(t *testing.T) {
	clientT, serverT := transport.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serverNode, _ := lime.ParseNode("server@dom/inst")
	clientNode, _ := lime.ParseNode("client@dom/inst")

	serverCfg := testConfig(serverNode)
	serverCfg.Authenticate = func(ctx context.Context, from lime.Node, scheme lime.AuthenticationScheme, auth lime.Authentication) (bool, *lime.Reason) {
		return true, nil
	}

	type result struct {
		sess *lime.Session
		err  error
	}
	serverCh := make(chan result, 1)
	go func() {
		m := NewMachine()
		s, err := ServerEstablish(ctx, serverT, serverCfg, m)
		serverCh <- result{s, err}
	}()

	clientM := NewMachine()
	clientSess, err := ClientEstablish(ctx, clientT, testConfig(clientNode), ClientCredentials{
		Scheme:         lime.AuthenticationSchemeGuest,
		Authentication: lime.GuestAuthentication{},
	}, clientM)
	require.NoError(t, err)
	require.NotNil(t, clientSess)
	assert.Equal(t, lime.SessionStateEstablished, clientSess.State)
	assert.NotNil(t, clientSess.ID)
	assert.Equal(t, lime.SessionStateEstablished, clientM.State())

	srvRes := <-serverCh
	require.NoError(t, srvRes.err)
	assert.Equal(t, lime.SessionStateEstablished, srvRes.sess.State)
}

func TestEstablishFailsOnIncompatibleEncryption(t *testing.T) {
	clientT, serverT := transport.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serverCfg := Config{
		EncryptionOptions:  []lime.SessionEncryption{lime.SessionEncryptionTLS},
		CompressionOptions: []lime.SessionCompression{lime.SessionCompressionNone},
		SchemeOptions:      []lime.AuthenticationScheme{lime.AuthenticationSchemeGuest},
		NegotiationTimeout: 2 * time.Second,
	}

	type result struct {
		sess *lime.Session
		err  error
	}
	serverCh := make(chan result, 1)
	go func() {
		m := NewMachine()
		s, err := ServerEstablish(ctx, serverT, serverCfg, m)
		serverCh <- result{s, err}
	}()

	clientCfg := Config{
		EncryptionOptions:  []lime.SessionEncryption{lime.SessionEncryptionNone},
		CompressionOptions: []lime.SessionCompression{lime.SessionCompressionNone},
		NegotiationTimeout: 2 * time.Second,
	}
	clientM := NewMachine()
	_, err := ClientEstablish(ctx, clientT, clientCfg, ClientCredentials{Scheme: lime.AuthenticationSchemeGuest}, clientM)
	require.Error(t, err)
	assert.Equal(t, lime.SessionStateFailed, clientM.State())

	srvRes := <-serverCh
	require.Error(t, srvRes.err)
}

func TestServerEstablishTimesOutToFailedWithSessionTimeoutReason(t *testing.T) {
	_, serverT := transport.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	serverCfg := testConfig(lime.Node{})
	serverCfg.NegotiationTimeout = 50 * time.Millisecond

	m := NewMachine()
	_, err := ServerEstablish(ctx, serverT, serverCfg, m)
	require.Error(t, err)
	assert.Equal(t, lime.SessionStateFailed, m.State())

	var reasonErr *lime.Error
	require.ErrorAs(t, err, &reasonErr)
	assert.Equal(t, lime.ReasonCodeSessionTimeout, reasonErr.Reason.Code)
}

func TestFinishTransitionsToFinished(t *testing.T) {
	clientT, serverT := transport.Pipe()
	ctx := context.Background()

	serverM := NewMachine()
	serverM.transition(lime.SessionStateEstablished)
	clientM := NewMachine()
	clientM.transition(lime.SessionStateEstablished)

	errCh := make(chan error, 1)
	go func() {
		env, err := serverT.Receive(ctx)
		if err != nil {
			errCh <- err
			return
		}
		fin := env.(*lime.Session)
		errCh <- ServerHandleFinishing(ctx, serverT, serverM, fin)
	}()

	cfg := Config{NegotiationTimeout: 2 * time.Second}
	require.NoError(t, ClientFinish(ctx, clientT, cfg, clientM))
	require.NoError(t, <-errCh)
	assert.Equal(t, lime.SessionStateFinished, clientM.State())
	assert.Equal(t, lime.SessionStateFinished, serverM.State())
	assert.True(t, clientM.Terminal())
}
