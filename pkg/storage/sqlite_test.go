package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinhtkblbp/limenode/pkg/lime"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lime-storage.db")
	s, err := OpenSQLite(path, SQLiteOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreListGetDelete(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	identity := lime.Identity{Name: "bob", Domain: "lime.example"}

	msg1 := newTestMessage()
	msg2 := newTestMessage()
	require.NoError(t, s.Store(ctx, identity, msg1))
	require.NoError(t, s.Store(ctx, identity, msg2))

	ids, err := s.GetIDs(ctx, identity)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{*msg1.ID, *msg2.ID}, ids)

	got, err := s.Get(ctx, identity, *msg1.ID)
	require.NoError(t, err)
	gotMsg, ok := got.(*lime.Message)
	require.True(t, ok)
	assert.Equal(t, "hello", gotMsg.Content.Value)

	ok2, err := s.Delete(ctx, identity, *msg1.ID)
	require.NoError(t, err)
	assert.True(t, ok2)

	_, err = s.Get(ctx, identity, *msg1.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreReplacesInPlace(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	identity := lime.Identity{Name: "bob", Domain: "lime.example"}

	id := uuid.New()
	first := &lime.Message{Base: lime.Base{ID: &id}, Content: lime.Document{MediaType: "text/plain", Value: "v1"}}
	second := &lime.Message{Base: lime.Base{ID: &id}, Content: lime.Document{MediaType: "text/plain", Value: "v2"}}
	other := newTestMessage()

	require.NoError(t, s.Store(ctx, identity, first))
	require.NoError(t, s.Store(ctx, identity, other))
	require.NoError(t, s.Store(ctx, identity, second))

	ids, err := s.GetIDs(ctx, identity)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, id, ids[0])

	got, err := s.Get(ctx, identity, id)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.(*lime.Message).Content.Value)
}

func TestSQLiteUnknownEnvelopeReturnsNotFound(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	identity := lime.Identity{Name: "bob", Domain: "lime.example"}

	_, err := s.Get(ctx, identity, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Delete(ctx, identity, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}
