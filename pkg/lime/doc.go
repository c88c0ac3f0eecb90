// Package lime implements the envelope model of the LIME (LIghtweight
// Messaging Engine) protocol.
//
// # Envelope Overview
//
// LIME is an asynchronous, envelope-oriented protocol built around four
// envelope kinds:
//   - Message: carries a Document addressed to a peer.
//   - Notification: reports the delivery lifecycle of a previously sent
//     message (accepted, validated, authorized, dispatched, received,
//     consumed, failed).
//   - Command: a CRUD-style request/response exchanged against a URI
//     resource (get, set, delete, subscribe, unsubscribe, observe, merge).
//   - Session: negotiates encryption, compression, and authentication
//     between two nodes before any other envelope kind may flow.
//
// # Addressing
//
// Every envelope carries a from/to Node address of the form
// name@domain/instance. The instance-less projection, name@domain, is a
// Node's Identity and is the addressing unit used by envelope storage and
// HTTP Basic authentication.
//
// # Documents
//
// A Message or Command carries a Document: a media-type-tagged payload.
// Document types are not discovered by reflection; callers register a
// constructor/marshaler/unmarshaler triple per media type with
// RegisterDocument before decoding envelopes that carry that type. An
// unregistered media type round-trips as raw JSON.
//
// # Wire Format
//
// Envelopes are JSON documents. There is no explicit "kind" field; the
// kind is implied structurally — a Message carries "content", a
// Notification carries "event", a Command carries "method", and a Session
// carries "state". Decode callers should use DecodeEnvelope, which sniffs
// the discriminator before unmarshaling into the concrete type.
package lime
