package lime

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Document is the payload of a Message or Command. Value holds the
// decoded document when its media type is registered, or a
// json.RawMessage when it is not.
type Document struct {
	MediaType string `json:"-"`
	Value     any    `json:"-"`
}

// documentFactory builds a zero value for a registered media type.
type documentFactory func() any

type documentRegistration struct {
	factory   documentFactory
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte) (any, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]documentRegistration{}
)

// RegisterDocument registers a (media type, constructor, marshaler,
// unmarshaler) triple in the global document registry. It replaces
// reflection-driven assembly scanning: callers own exactly which Go type
// a media type decodes to.
func RegisterDocument(mediaType string, factory func() any, marshal func(any) ([]byte, error), unmarshal func([]byte) (any, error)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[mediaType] = documentRegistration{factory: factory, marshal: marshal, unmarshal: unmarshal}
}

// RegisterJSONDocument is a convenience wrapper around RegisterDocument
// for document types that are plain JSON-taggable Go structs.
func RegisterJSONDocument[T any](mediaType string) {
	RegisterDocument(mediaType,
		func() any { var v T; return &v },
		func(v any) ([]byte, error) { return json.Marshal(v) },
		func(data []byte) (any, error) {
			var v T
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, err
			}
			return &v, nil
		},
	)
}

// lookupDocument returns the registration for mediaType, if any.
func lookupDocument(mediaType string) (documentRegistration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[mediaType]
	return reg, ok
}

// MarshalJSON renders the document as {"type": mediaType-bearing fields
// are handled by the enclosing envelope}; Document itself only encodes
// its value, since mediaType is carried on a sibling field by Message and
// Command.
func (d Document) MarshalJSON() ([]byte, error) {
	if d.Value == nil {
		return []byte("null"), nil
	}
	if reg, ok := lookupDocument(d.MediaType); ok {
		return reg.marshal(d.Value)
	}
	if raw, ok := d.Value.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(d.Value)
}

// decodeDocument decodes raw JSON into a Document for the given media
// type, using the registry when available and falling back to
// json.RawMessage otherwise.
func decodeDocument(mediaType string, raw json.RawMessage) (Document, error) {
	if len(raw) == 0 {
		return Document{MediaType: mediaType}, nil
	}
	if reg, ok := lookupDocument(mediaType); ok {
		v, err := reg.unmarshal(raw)
		if err != nil {
			return Document{}, fmt.Errorf("lime: decode document %q: %w", mediaType, err)
		}
		return Document{MediaType: mediaType, Value: v}, nil
	}
	return Document{MediaType: mediaType, Value: raw}, nil
}

func init() {
	RegisterJSONDocument[Ping](MediaTypePing)
	RegisterJSONDocument[Presence](MediaTypePresence)
}
