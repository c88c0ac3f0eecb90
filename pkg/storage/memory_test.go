package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinhtkblbp/limenode/pkg/lime"
)

func newTestMessage() *lime.Message {
	id := uuid.New()
	return &lime.Message{
		Base:    lime.Base{ID: &id},
		Content: lime.Document{MediaType: "text/plain", Value: "hello"},
	}
}

func TestMemoryStoreListGetDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	identity := lime.Identity{Name: "alice", Domain: "lime.example"}

	msg1 := newTestMessage()
	msg2 := newTestMessage()
	require.NoError(t, m.Store(ctx, identity, msg1))
	require.NoError(t, m.Store(ctx, identity, msg2))

	ids, err := m.GetIDs(ctx, identity)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, *msg1.ID, ids[0])
	assert.Equal(t, *msg2.ID, ids[1])

	got, err := m.Get(ctx, identity, *msg1.ID)
	require.NoError(t, err)
	assert.Equal(t, msg1.ID, got.EnvelopeID())

	ok, err := m.Delete(ctx, identity, *msg1.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = m.Get(ctx, identity, *msg1.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	ids, err = m.GetIDs(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{*msg2.ID}, ids)
}

func TestMemoryIdentityLookupIsCaseInsensitive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	msg := newTestMessage()

	require.NoError(t, m.Store(ctx, lime.Identity{Name: "Alice", Domain: "Lime.Example"}, msg))

	ids, err := m.GetIDs(ctx, lime.Identity{Name: "alice", Domain: "lime.example"})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{*msg.ID}, ids)
}

func TestMemoryUnknownIdentityReturnsEmpty(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	ids, err := m.GetIDs(ctx, lime.Identity{Name: "nobody", Domain: "lime.example"})
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = m.Get(ctx, lime.Identity{Name: "nobody", Domain: "lime.example"}, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreReplacesInPlace(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	identity := lime.Identity{Name: "alice", Domain: "lime.example"}

	id := uuid.New()
	first := &lime.Message{Base: lime.Base{ID: &id}, Content: lime.Document{MediaType: "text/plain", Value: "v1"}}
	second := &lime.Message{Base: lime.Base{ID: &id}, Content: lime.Document{MediaType: "text/plain", Value: "v2"}}
	other := newTestMessage()

	require.NoError(t, m.Store(ctx, identity, first))
	require.NoError(t, m.Store(ctx, identity, other))
	require.NoError(t, m.Store(ctx, identity, second))

	ids, err := m.GetIDs(ctx, identity)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, id, ids[0])

	got, err := m.Get(ctx, identity, id)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.(*lime.Message).Content.Value)
}
