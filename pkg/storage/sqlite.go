package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kinhtkblbp/limenode/pkg/lime"
)

// SQLite is the optional durable Storage backend, directly grounded on
// pkg/storage/relay_queue.go's RelayMessageQueue (schema-with-WAL-mode,
// indexed-by-recipient, background TTL cleanup goroutine) and
// pkg/storage/database.go's NewMessageDB bootstrap style, generalized
// from the teacher's fixed queued_messages schema (binary onion
// payloads keyed by raw address) to a schema storing arbitrary
// serialized LIME envelopes keyed by (identity, envelope_id) with
// insertion order preserved via an autoincrement seq column.
type SQLite struct {
	db  *sql.DB
	ttl time.Duration

	closeOnce   sync.Once
	stopCleanup chan struct{}
}

// SQLiteOptions configures the SQLite-backed Storage.
type SQLiteOptions struct {
	// TTL, if positive, expires a stored envelope this long after it was
	// written; a background goroutine sweeps expired rows hourly. Zero
	// disables expiry — envelopes are retained until explicitly deleted.
	TTL time.Duration
}

// OpenSQLite opens (creating if absent) a SQLite-backed Storage at path.
func OpenSQLite(path string, opts SQLiteOptions) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: enable WAL mode: %w", err)
	}

	s := &SQLite{db: db, ttl: opts.TTL, stopCleanup: make(chan struct{})}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if s.ttl > 0 {
		go s.cleanupExpired()
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS envelopes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		identity TEXT NOT NULL,
		envelope_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		UNIQUE(identity, envelope_id)
	);

	CREATE INDEX IF NOT EXISTS idx_envelopes_identity ON envelopes(identity, seq ASC);
	CREATE INDEX IF NOT EXISTS idx_envelopes_expires ON envelopes(expires_at);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("storage: create schema: %w", err)
	}
	return nil
}

// Store implements Storage. An envelope already present under the same
// (identity, id) has its payload replaced without changing its position
// in the identity's insertion order.
func (s *SQLite) Store(ctx context.Context, identity lime.Identity, env lime.Envelope) error {
	id := env.EnvelopeID()
	if id == nil {
		return lime.NewError(lime.ErrorKindStorage, lime.ErrSerialization)
	}
	payload, err := lime.EncodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("storage: encode envelope: %w", err)
	}

	key := normalizeKey(identity)
	var expiresAt int64
	if s.ttl > 0 {
		expiresAt = time.Now().Add(s.ttl).Unix()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE envelopes SET payload = ?, expires_at = ? WHERE identity = ? AND envelope_id = ?`,
		payload, expiresAt, key, id.String())
	if err != nil {
		return fmt.Errorf("storage: update envelope: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO envelopes (identity, envelope_id, payload, expires_at) VALUES (?, ?, ?, ?)`,
		key, id.String(), payload, expiresAt)
	if err != nil {
		return fmt.Errorf("storage: insert envelope: %w", err)
	}
	return nil
}

// GetIDs implements Storage.
func (s *SQLite) GetIDs(ctx context.Context, identity lime.Identity) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT envelope_id FROM envelopes WHERE identity = ? ORDER BY seq ASC`, normalizeKey(identity))
	if err != nil {
		return nil, fmt.Errorf("storage: query envelope ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("storage: scan envelope id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("storage: parse stored envelope id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Get implements Storage.
func (s *SQLite) Get(ctx context.Context, identity lime.Identity, id uuid.UUID) (lime.Envelope, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM envelopes WHERE identity = ? AND envelope_id = ?`,
		normalizeKey(identity), id.String()).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: query envelope: %w", err)
	}
	env, err := lime.DecodeEnvelope(payload)
	if err != nil {
		return nil, fmt.Errorf("storage: decode stored envelope: %w", err)
	}
	return env, nil
}

// Delete implements Storage.
func (s *SQLite) Delete(ctx context.Context, identity lime.Identity, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM envelopes WHERE identity = ? AND envelope_id = ?`,
		normalizeKey(identity), id.String())
	if err != nil {
		return false, fmt.Errorf("storage: delete envelope: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: delete envelope: %w", err)
	}
	return n > 0, nil
}

// cleanupExpired periodically sweeps rows past their expiry, mirroring
// the teacher's cleanupExpiredMessages.
func (s *SQLite) cleanupExpired() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now().Unix()
			_, _ = s.db.Exec(`DELETE FROM envelopes WHERE expires_at > 0 AND expires_at <= ?`, now)
		case <-s.stopCleanup:
			return
		}
	}
}

// Close implements Storage.
func (s *SQLite) Close() error {
	s.closeOnce.Do(func() { close(s.stopCleanup) })
	return s.db.Close()
}
