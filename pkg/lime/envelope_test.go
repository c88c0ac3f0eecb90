package lime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	id := NewID()
	from, err := ParseNode("alice@example.com/home")
	require.NoError(t, err)
	to, err := ParseNode("bob@example.com")
	require.NoError(t, err)

	msg := &Message{
		Base: Base{ID: &id, From: from, To: to},
		Content: Document{
			MediaType: "text/plain",
			Value:     "hi",
		},
	}

	data, err := EncodeEnvelope(msg)
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)

	got, ok := decoded.(*Message)
	require.True(t, ok)
	assert.Equal(t, msg.ID.String(), got.ID.String())
	assert.True(t, msg.From.Equals(got.From))
	assert.True(t, msg.To.Equals(got.To))
	assert.Equal(t, "text/plain", got.Content.MediaType)
}

func TestPingRoundTrip(t *testing.T) {
	id := NewID()
	cmd := &Command{
		Base:     Base{ID: &id},
		URI:      "/ping",
		Method:   CommandMethodGet,
		Resource: Document{MediaType: MediaTypePing, Value: &Ping{}},
		Status:   CommandStatusSuccess,
	}

	data, err := EncodeEnvelope(cmd)
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)

	got, ok := decoded.(*Command)
	require.True(t, ok)
	assert.Equal(t, MediaTypePing, got.Resource.MediaType)
	_, ok = got.Resource.Value.(*Ping)
	assert.True(t, ok)
}

func TestSessionAuthenticationRoundTrip(t *testing.T) {
	s := &Session{
		State:          SessionStateAuthenticating,
		Scheme:         AuthenticationSchemePlain,
		Authentication: PlainAuthentication{Password: "secret"},
	}

	data, err := EncodeEnvelope(s)
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)

	got, ok := decoded.(*Session)
	require.True(t, ok)
	assert.Equal(t, SessionStateAuthenticating, got.State)
	auth, ok := got.Authentication.(PlainAuthentication)
	require.True(t, ok)
	assert.Equal(t, "secret", auth.Password)
}

func TestNotificationDiscrimination(t *testing.T) {
	id := NewID()
	n := &Notification{
		Base:  Base{ID: &id},
		Event: NotificationEventDispatched,
	}

	data, err := EncodeEnvelope(n)
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)

	got, ok := decoded.(*Notification)
	require.True(t, ok)
	assert.Equal(t, NotificationEventDispatched, got.Event)
}

func TestIdentityEqualityIsCaseInsensitive(t *testing.T) {
	a, err := ParseIdentity("Alice@Example.com")
	require.NoError(t, err)
	b, err := ParseIdentity("alice@example.com")
	require.NoError(t, err)
	assert.True(t, a.Equals(b))
}

func TestDecodeEnvelopeRejectsAmbiguousInput(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"foo":"bar"}`))
	assert.Error(t, err)
}
