package sessionstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/taiidzy/ren/sdk/ratchet"
)

// ErrNoSession is returned when no snapshot exists for a peer.
var ErrNoSession = errors.New("no session stored for peer")

// Store is a SQLite-backed session-snapshot store for embedders (desktop
// clients, bots, the CLI). Each crypto operation and its resulting snapshot
// commit in one transaction, so state and network can't drift: either the
// envelope was produced AND the new state is durable, or neither.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store at path. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// Snapshot writes must be serialized; a session is exclusively owned
	// during any operation.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			peer_id    INTEGER PRIMARY KEY,
			snapshot   TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("init schema: %w (close: %v)", err, cerr)
		}
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores the snapshot for a peer, replacing any previous one.
func (s *Store) Put(peerID int64, snapshot string) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (peer_id, snapshot, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		peerID, snapshot, time.Now().UTC())
	return err
}

// Get returns the stored snapshot for a peer.
func (s *Store) Get(peerID int64) (string, error) {
	var snapshot string
	err := s.db.QueryRow(`SELECT snapshot FROM sessions WHERE peer_id = ?`, peerID).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoSession
	}
	return snapshot, err
}

// Delete discards the stored session for a peer.
func (s *Store) Delete(peerID int64) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE peer_id = ?`, peerID)
	return err
}

// Encrypt runs one encrypt against the stored session and persists the new
// snapshot atomically with producing the envelope.
func (s *Store) Encrypt(peerID int64, plaintext []byte) (*ratchet.RatchetMessage, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var state string
	err = tx.QueryRow(`SELECT snapshot FROM sessions WHERE peer_id = ?`, peerID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}

	newState, msg, err := ratchet.EncryptWithState(state, plaintext)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE sessions SET snapshot = ?, updated_at = ? WHERE peer_id = ?`,
		newState, time.Now().UTC(), peerID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Decrypt runs one decrypt against the stored session and persists the new
// snapshot atomically with returning the plaintext. On failure the stored
// snapshot is untouched.
func (s *Store) Decrypt(peerID int64, msg *ratchet.RatchetMessage) ([]byte, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var state string
	err = tx.QueryRow(`SELECT snapshot FROM sessions WHERE peer_id = ?`, peerID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}

	newState, plaintext, err := ratchet.DecryptWithState(state, msg)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE sessions SET snapshot = ?, updated_at = ? WHERE peer_id = ?`,
		newState, time.Now().UTC(), peerID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return plaintext, nil
}
