package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kinhtkblbp/limenode/pkg/lime"
)

// bucket holds one identity's envelopes, insertion order preserved
// alongside direct lookup by id.
type bucket struct {
	mu   sync.Mutex
	ids  []uuid.UUID
	envs map[uuid.UUID]lime.Envelope
}

func newBucket() *bucket {
	return &bucket{envs: make(map[uuid.UUID]lime.Envelope)}
}

func (b *bucket) store(id uuid.UUID, env lime.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.envs[id]; !exists {
		b.ids = append(b.ids, id)
	}
	b.envs[id] = env
}

func (b *bucket) get(id uuid.UUID) (lime.Envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	env, ok := b.envs[id]
	return env, ok
}

func (b *bucket) list() []uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]uuid.UUID, len(b.ids))
	copy(out, b.ids)
	return out
}

func (b *bucket) delete(id uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.envs[id]; !ok {
		return false
	}
	delete(b.envs, id)
	for i, cur := range b.ids {
		if cur == id {
			b.ids = append(b.ids[:i], b.ids[i+1:]...)
			break
		}
	}
	return true
}

// Memory is the default Storage: a sync.Map from normalized identity to
// a per-identity mutex-guarded bucket, grounded on the teacher's
// sync.RWMutex-guarded map[string]*RelayInfo in pkg/network/pool.go,
// generalized to per-key locks since distilled spec §4.6 calls for
// per-identity locking rather than one pool-wide lock.
type Memory struct {
	buckets sync.Map // string -> *bucket
}

// NewMemory returns an empty in-memory Storage.
func NewMemory() *Memory {
	return &Memory{}
}

func normalizeKey(identity lime.Identity) string {
	return strings.ToLower(identity.String())
}

func (m *Memory) bucketFor(identity lime.Identity) *bucket {
	key := normalizeKey(identity)
	if b, ok := m.buckets.Load(key); ok {
		return b.(*bucket)
	}
	b, _ := m.buckets.LoadOrStore(key, newBucket())
	return b.(*bucket)
}

// Store implements Storage.
func (m *Memory) Store(ctx context.Context, identity lime.Identity, env lime.Envelope) error {
	id := env.EnvelopeID()
	if id == nil {
		return lime.NewError(lime.ErrorKindStorage, lime.ErrSerialization)
	}
	m.bucketFor(identity).store(*id, env)
	return nil
}

// GetIDs implements Storage.
func (m *Memory) GetIDs(ctx context.Context, identity lime.Identity) ([]uuid.UUID, error) {
	key := normalizeKey(identity)
	b, ok := m.buckets.Load(key)
	if !ok {
		return nil, nil
	}
	return b.(*bucket).list(), nil
}

// Get implements Storage.
func (m *Memory) Get(ctx context.Context, identity lime.Identity, id uuid.UUID) (lime.Envelope, error) {
	key := normalizeKey(identity)
	b, ok := m.buckets.Load(key)
	if !ok {
		return nil, ErrNotFound
	}
	env, ok := b.(*bucket).get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return env, nil
}

// Delete implements Storage.
func (m *Memory) Delete(ctx context.Context, identity lime.Identity, id uuid.UUID) (bool, error) {
	key := normalizeKey(identity)
	b, ok := m.buckets.Load(key)
	if !ok {
		return false, nil
	}
	return b.(*bucket).delete(id), nil
}

// Close is a no-op for Memory; it holds no external resources.
func (m *Memory) Close() error {
	return nil
}
