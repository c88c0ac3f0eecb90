package lime

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Envelope is the common contract satisfied by Message, Notification,
// Command, and Session. Dispatch over envelope kind is a type switch on
// the concrete type, not a virtual method call — see the channel
// package's demultiplexer.
type Envelope interface {
	EnvelopeID() *uuid.UUID
	EnvelopeFrom() Node
	EnvelopeTo() Node
}

// Base carries the fields common to every envelope kind: id, from, to,
// pp (originator), and metadata.
type Base struct {
	ID       *uuid.UUID        `json:"id,omitempty"`
	From     Node              `json:"from,omitempty"`
	To       Node              `json:"to,omitempty"`
	Pp       *Node             `json:"pp,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (b Base) EnvelopeID() *uuid.UUID { return b.ID }
func (b Base) EnvelopeFrom() Node     { return b.From }
func (b Base) EnvelopeTo() Node       { return b.To }

// NewID returns a fresh envelope id. Callers must generate a fresh id
// per command/message-with-notification; the HTTP emulation layer's
// pending-response map allows only one in-flight correlation per id.
func NewID() uuid.UUID {
	return uuid.New()
}

// Message carries a Document addressed to a peer.
type Message struct {
	Base
	Content Document
}

type messageWire struct {
	Base
	Type    string          `json:"type,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	w := messageWire{Base: m.Base, Type: m.Content.MediaType}
	if m.Content.MediaType != "" || m.Content.Value != nil {
		raw, err := m.Content.MarshalJSON()
		if err != nil {
			return nil, err
		}
		w.Content = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("lime: decode message: %w", err)
	}
	doc, err := decodeDocument(w.Type, w.Content)
	if err != nil {
		return err
	}
	m.Base = w.Base
	m.Content = doc
	return nil
}

// NotificationEvent is the delivery lifecycle event carried by a
// Notification.
type NotificationEvent string

const (
	NotificationEventAccepted   NotificationEvent = "accepted"
	NotificationEventValidated  NotificationEvent = "validated"
	NotificationEventAuthorized NotificationEvent = "authorized"
	NotificationEventDispatched NotificationEvent = "dispatched"
	NotificationEventReceived   NotificationEvent = "received"
	NotificationEventConsumed   NotificationEvent = "consumed"
	NotificationEventFailed     NotificationEvent = "failed"
)

// Notification reports the delivery lifecycle of a previously sent
// message, correlated by id.
type Notification struct {
	Base
	Event  NotificationEvent `json:"event"`
	Reason *Reason           `json:"reason,omitempty"`
}

// CommandMethod is the CRUD-style operation carried by a Command.
type CommandMethod string

const (
	CommandMethodGet         CommandMethod = "get"
	CommandMethodSet         CommandMethod = "set"
	CommandMethodDelete      CommandMethod = "delete"
	CommandMethodSubscribe   CommandMethod = "subscribe"
	CommandMethodUnsubscribe CommandMethod = "unsubscribe"
	CommandMethodObserve     CommandMethod = "observe"
	CommandMethodMerge       CommandMethod = "merge"
)

// CommandStatus is the outcome of a Command request.
type CommandStatus string

const (
	CommandStatusSuccess CommandStatus = "success"
	CommandStatusFailure CommandStatus = "failure"
	CommandStatusPending CommandStatus = "pending"
)

// Command is a CRUD-style request/response exchanged against a URI
// resource. Requests carry an id; responses echo it.
type Command struct {
	Base
	URI      string        `json:"uri,omitempty"`
	Method   CommandMethod `json:"method,omitempty"`
	Resource Document
	Status   CommandStatus `json:"status,omitempty"`
	Reason   *Reason       `json:"reason,omitempty"`
}

type commandWire struct {
	Base
	URI      string          `json:"uri,omitempty"`
	Method   CommandMethod   `json:"method,omitempty"`
	Type     string          `json:"type,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Status   CommandStatus   `json:"status,omitempty"`
	Reason   *Reason         `json:"reason,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c Command) MarshalJSON() ([]byte, error) {
	w := commandWire{Base: c.Base, URI: c.URI, Method: c.Method, Type: c.Resource.MediaType, Status: c.Status, Reason: c.Reason}
	if c.Resource.MediaType != "" || c.Resource.Value != nil {
		raw, err := c.Resource.MarshalJSON()
		if err != nil {
			return nil, err
		}
		w.Resource = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Command) UnmarshalJSON(data []byte) error {
	var w commandWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("lime: decode command: %w", err)
	}
	doc, err := decodeDocument(w.Type, w.Resource)
	if err != nil {
		return err
	}
	c.Base = w.Base
	c.URI = w.URI
	c.Method = w.Method
	c.Resource = doc
	c.Status = w.Status
	c.Reason = w.Reason
	return nil
}

// SessionState is a state of the session negotiation state machine.
type SessionState string

const (
	SessionStateNew            SessionState = "new"
	SessionStateNegotiating    SessionState = "negotiating"
	SessionStateAuthenticating SessionState = "authenticating"
	SessionStateEstablished    SessionState = "established"
	SessionStateFinishing      SessionState = "finishing"
	SessionStateFinished       SessionState = "finished"
	SessionStateFailed         SessionState = "failed"
)

// SessionEncryption is a transport encryption option.
type SessionEncryption string

const (
	SessionEncryptionNone SessionEncryption = "none"
	SessionEncryptionTLS  SessionEncryption = "tls"
)

// SessionCompression is a transport compression option.
type SessionCompression string

const (
	SessionCompressionNone    SessionCompression = "none"
	SessionCompressionGzip    SessionCompression = "gzip"
)

// Session carries negotiation, authentication, and termination state
// between two nodes.
type Session struct {
	Base
	State              SessionState         `json:"state"`
	EncryptionOptions  []SessionEncryption  `json:"encryptionOptions,omitempty"`
	Encryption         SessionEncryption    `json:"encryption,omitempty"`
	CompressionOptions []SessionCompression `json:"compressionOptions,omitempty"`
	Compression        SessionCompression   `json:"compression,omitempty"`
	SchemeOptions       []AuthenticationScheme `json:"schemeOptions,omitempty"`
	Scheme               AuthenticationScheme   `json:"scheme,omitempty"`
	Authentication       Authentication
	Reason               *Reason `json:"reason,omitempty"`
}

type sessionWire struct {
	Base
	State               SessionState           `json:"state"`
	EncryptionOptions   []SessionEncryption    `json:"encryptionOptions,omitempty"`
	Encryption          SessionEncryption      `json:"encryption,omitempty"`
	CompressionOptions  []SessionCompression   `json:"compressionOptions,omitempty"`
	Compression         SessionCompression     `json:"compression,omitempty"`
	SchemeOptions        []AuthenticationScheme `json:"schemeOptions,omitempty"`
	Scheme                AuthenticationScheme   `json:"scheme,omitempty"`
	Authentication        json.RawMessage        `json:"authentication,omitempty"`
	Reason                *Reason                `json:"reason,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s Session) MarshalJSON() ([]byte, error) {
	w := sessionWire{
		Base: s.Base, State: s.State,
		EncryptionOptions: s.EncryptionOptions, Encryption: s.Encryption,
		CompressionOptions: s.CompressionOptions, Compression: s.Compression,
		SchemeOptions: s.SchemeOptions, Scheme: s.Scheme,
		Reason: s.Reason,
	}
	if s.Authentication != nil {
		raw, err := json.Marshal(s.Authentication)
		if err != nil {
			return nil, err
		}
		w.Authentication = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Session) UnmarshalJSON(data []byte) error {
	var w sessionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("lime: decode session: %w", err)
	}
	auth, err := decodeAuthentication(w.Scheme, w.Authentication)
	if err != nil {
		return err
	}
	s.Base = w.Base
	s.State = w.State
	s.EncryptionOptions = w.EncryptionOptions
	s.Encryption = w.Encryption
	s.CompressionOptions = w.CompressionOptions
	s.Compression = w.Compression
	s.SchemeOptions = w.SchemeOptions
	s.Scheme = w.Scheme
	s.Authentication = auth
	s.Reason = w.Reason
	return nil
}

// sniff is used to discriminate an envelope's kind by structural
// presence of content/event/method/state, per the wire format.
type sniff struct {
	Content json.RawMessage `json:"content"`
	Event   json.RawMessage `json:"event"`
	Method  json.RawMessage `json:"method"`
	State   json.RawMessage `json:"state"`
}

// DecodeEnvelope decodes a JSON envelope, sniffing its kind from
// structural discriminators in the order session > command >
// notification > message, per the wire format in the spec.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var s sniff
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	switch {
	case s.State != nil:
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil, err
		}
		return &sess, nil
	case s.Method != nil:
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, err
		}
		return &cmd, nil
	case s.Event != nil:
		var n Notification
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		return &n, nil
	case s.Content != nil:
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("%w: cannot discriminate envelope kind", ErrSerialization)
	}
}

// EncodeEnvelope marshals any of the four envelope kinds to JSON.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	switch v := env.(type) {
	case *Message:
		return json.Marshal(*v)
	case *Notification:
		return json.Marshal(*v)
	case *Command:
		return json.Marshal(*v)
	case *Session:
		return json.Marshal(*v)
	default:
		return nil, fmt.Errorf("%w: unknown envelope type %T", ErrSerialization, env)
	}
}
