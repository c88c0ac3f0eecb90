// Package storage persists undelivered envelopes per identity so a
// client that is not currently connected can retrieve them later
// through the HTTP emulation layer's storage endpoints.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/kinhtkblbp/limenode/pkg/lime"
)

// ErrNotFound is returned by Get/Delete when the requested envelope is
// absent from an identity's bucket.
var ErrNotFound = errors.New("storage: envelope not found")

// Storage persists envelopes addressed to an identity, keyed by
// envelope id, in the order they were stored.
type Storage interface {
	// Store appends env to identity's bucket. Storing an id already
	// present replaces that entry in place, preserving its original
	// position.
	Store(ctx context.Context, identity lime.Identity, env lime.Envelope) error
	// GetIDs returns identity's envelope ids in insertion order.
	GetIDs(ctx context.Context, identity lime.Identity) ([]uuid.UUID, error)
	// Get returns the envelope stored under id for identity, or
	// ErrNotFound.
	Get(ctx context.Context, identity lime.Identity, id uuid.UUID) (lime.Envelope, error)
	// Delete removes id from identity's bucket, reporting whether it was
	// present.
	Delete(ctx context.Context, identity lime.Identity, id uuid.UUID) (bool, error)
	// Close releases any resources held by the implementation.
	Close() error
}
