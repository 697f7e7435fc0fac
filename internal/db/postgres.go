package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/taiidzy/ren/internal/models"
	"github.com/taiidzy/ren/sdk/x3dh"
)

// ErrNotFound is returned when a queried row does not exist.
var ErrNotFound = errors.New("not found")

// PostgresDB wraps the database connection
type PostgresDB struct {
	db *sql.DB
}

// UserRecord is the full account row, including credential material the
// public User shape never exposes.
type UserRecord struct {
	UserID                int64
	Login                 string
	Username              *string
	AvatarURL             *string
	PasswordHash          string
	IdentityKey           string
	SigningKey            string
	SignedPreKey          string
	SignedPreKeySignature string
	KeyVersion            uint32
	SignedAt              time.Time
	WrappedPrivateKey     string
	PrivateKeySalt        string
	KyberPreKey           *string
	KyberPreKeySignature  *string
	CreatedAt             time.Time
	LastSeen              time.Time
}

// NewPostgresDB creates a new database connection
func NewPostgresDB(connStr string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PostgresDB{db: db}, nil
}

// Close closes the database connection
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// GetDB returns the underlying *sql.DB connection
func (p *PostgresDB) GetDB() *sql.DB {
	return p.db
}

// ============================================
// USERS
// ============================================

// CreateUser inserts a new account and returns its id.
func (p *PostgresDB) CreateUser(rec *UserRecord) (int64, error) {
	query := `
		INSERT INTO users (login, username, password_hash, identity_key, signing_key,
			signed_prekey, signed_prekey_signature, key_version, signed_at,
			wrapped_private_key, private_key_salt, kyber_prekey, kyber_prekey_signature,
			created_at, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		RETURNING user_id`

	var id int64
	err := p.db.QueryRow(query,
		rec.Login,
		rec.Username,
		rec.PasswordHash,
		rec.IdentityKey,
		rec.SigningKey,
		rec.SignedPreKey,
		rec.SignedPreKeySignature,
		rec.KeyVersion,
		rec.SignedAt,
		rec.WrappedPrivateKey,
		rec.PrivateKeySalt,
		rec.KyberPreKey,
		rec.KyberPreKeySignature,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin fetches the full account row for authentication.
func (p *PostgresDB) GetUserByLogin(login string) (*UserRecord, error) {
	return p.getUser("login = $1", login)
}

// GetUserByID fetches the full account row by id.
func (p *PostgresDB) GetUserByID(userID int64) (*UserRecord, error) {
	return p.getUser("user_id = $1", userID)
}

func (p *PostgresDB) getUser(where string, arg interface{}) (*UserRecord, error) {
	query := `
		SELECT user_id, login, username, avatar_url, password_hash, identity_key,
			signing_key, signed_prekey, signed_prekey_signature, key_version, signed_at,
			wrapped_private_key, private_key_salt, kyber_prekey, kyber_prekey_signature,
			created_at, last_seen
		FROM users WHERE ` + where

	rec := &UserRecord{}
	err := p.db.QueryRow(query, arg).Scan(
		&rec.UserID,
		&rec.Login,
		&rec.Username,
		&rec.AvatarURL,
		&rec.PasswordHash,
		&rec.IdentityKey,
		&rec.SigningKey,
		&rec.SignedPreKey,
		&rec.SignedPreKeySignature,
		&rec.KeyVersion,
		&rec.SignedAt,
		&rec.WrappedPrivateKey,
		&rec.PrivateKeySalt,
		&rec.KyberPreKey,
		&rec.KyberPreKeySignature,
		&rec.CreatedAt,
		&rec.LastSeen,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateUserProfile updates mutable profile fields.
func (p *PostgresDB) UpdateUserProfile(userID int64, username, avatarURL *string) error {
	query := `
		UPDATE users
		SET username = COALESCE($2, username), avatar_url = COALESCE($3, avatar_url)
		WHERE user_id = $1`
	_, err := p.db.Exec(query, userID, username, avatarURL)
	return err
}

// UpdateLastSeen stamps a user's last-seen time.
func (p *PostgresDB) UpdateLastSeen(userID int64) error {
	_, err := p.db.Exec(`UPDATE users SET last_seen = NOW() WHERE user_id = $1`, userID)
	return err
}

// UpdateSignedPreKey replaces the published signed prekey after rotation.
// The signature must already verify client-side under the signing key.
func (p *PostgresDB) UpdateSignedPreKey(userID int64, signedPreKey, signature string, keyVersion uint32, signedAt time.Time) error {
	query := `
		UPDATE users
		SET signed_prekey = $2, signed_prekey_signature = $3, key_version = $4, signed_at = $5
		WHERE user_id = $1`
	_, err := p.db.Exec(query, userID, signedPreKey, signature, keyVersion, signedAt)
	return err
}

// SetRecoveryData stores the recovery-key hash and the recovery-encrypted
// master key blob, both produced client-side.
func (p *PostgresDB) SetRecoveryData(userID int64, recoveryKeyHash, encryptedMasterKey, salt string) error {
	query := `
		UPDATE users
		SET recovery_key_hash = $2, recovery_master_key = $3, recovery_salt = $4
		WHERE user_id = $1`
	_, err := p.db.Exec(query, userID, recoveryKeyHash, encryptedMasterKey, salt)
	return err
}

// GetRecoveryData returns the stored recovery blob for a login.
func (p *PostgresDB) GetRecoveryData(login string) (hash, blob, salt string, err error) {
	query := `
		SELECT COALESCE(recovery_key_hash, ''), COALESCE(recovery_master_key, ''), COALESCE(recovery_salt, '')
		FROM users WHERE login = $1`
	err = p.db.QueryRow(query, login).Scan(&hash, &blob, &salt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", "", ErrNotFound
	}
	return hash, blob, salt, err
}

// SearchUsers finds users whose login or username matches the query prefix.
func (p *PostgresDB) SearchUsers(q string, limit int) ([]models.User, error) {
	query := `
		SELECT user_id, login, username, avatar_url, created_at, last_seen
		FROM users
		WHERE login ILIKE $1 || '%' OR username ILIKE $1 || '%'
		ORDER BY login
		LIMIT $2`

	rows, err := p.db.Query(query, q, limit)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.UserID, &u.Login, &u.Username, &u.AvatarURL, &u.CreatedAt, &u.LastSeen); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ============================================
// PRE-KEYS
// ============================================

// UploadPreKeys stores a batch of one-time prekeys for a user.
func (p *PostgresDB) UploadPreKeys(userID int64, prekeys []x3dh.OneTimePreKey) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.Prepare(`
		INSERT INTO one_time_prekeys (user_id, prekey_id, prekey, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, prekey_id) DO NOTHING`)
	if err != nil {
		return err
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			log.Printf("Warning: failed to close statement: %v", err)
		}
	}()

	for _, pk := range prekeys {
		if _, err := stmt.Exec(userID, pk.PreKeyID, pk.PreKey); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CountPreKeys reports how many unused one-time prekeys remain for a user.
func (p *PostgresDB) CountPreKeys(userID int64) (int, error) {
	var count int
	err := p.db.QueryRow(`SELECT COUNT(*) FROM one_time_prekeys WHERE user_id = $1`, userID).Scan(&count)
	return count, err
}

// FetchPreKeyBundle assembles a pre-key bundle for the target user,
// atomically consuming one one-time prekey. The deleted prekey can never be
// handed out twice. When the pool is empty the bundle ships without one.
func (p *PostgresDB) FetchPreKeyBundle(userID int64) (*x3dh.PreKeyBundle, error) {
	rec, err := p.GetUserByID(userID)
	if err != nil {
		return nil, err
	}

	tx, err := p.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var prekeyID uint32
	var prekey string
	err = tx.QueryRow(`
		DELETE FROM one_time_prekeys
		WHERE ctid = (
			SELECT ctid FROM one_time_prekeys
			WHERE user_id = $1
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING prekey_id, prekey`, userID).Scan(&prekeyID, &prekey)

	var oneTime *string
	var oneTimeID *uint32
	switch {
	case err == nil:
		oneTime = &prekey
		oneTimeID = &prekeyID
	case errors.Is(err, sql.ErrNoRows):
		// Pool exhausted: the bundle still works, with reduced PFS at
		// session start.
	default:
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return x3dh.NewPreKeyBundle(
		rec.UserID,
		rec.IdentityKey,
		rec.SignedPreKey,
		rec.SignedPreKeySignature,
		rec.KeyVersion,
		oneTime,
		oneTimeID,
	), nil
}

// ============================================
// CHATS & MESSAGES
// ============================================

// GetOrCreateChat returns the direct chat between two users, creating it on
// first contact. The pair is stored normalized (lower id first).
func (p *PostgresDB) GetOrCreateChat(userA, userB int64) (*models.Chat, error) {
	if userA > userB {
		userA, userB = userB, userA
	}

	chat := &models.Chat{}
	err := p.db.QueryRow(`
		INSERT INTO chats (user_a, user_b, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_a, user_b) DO UPDATE SET user_a = chats.user_a
		RETURNING chat_id, user_a, user_b, created_at`,
		userA, userB,
	).Scan(&chat.ChatID, &chat.UserA, &chat.UserB, &chat.CreatedAt)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// GetChat fetches a chat and checks membership.
func (p *PostgresDB) GetChat(chatID, userID int64) (*models.Chat, error) {
	chat := &models.Chat{}
	err := p.db.QueryRow(`
		SELECT chat_id, user_a, user_b, created_at
		FROM chats
		WHERE chat_id = $1 AND (user_a = $2 OR user_b = $2)`,
		chatID, userID,
	).Scan(&chat.ChatID, &chat.UserA, &chat.UserB, &chat.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// ListChats returns every chat the user participates in.
func (p *PostgresDB) ListChats(userID int64) ([]models.Chat, error) {
	rows, err := p.db.Query(`
		SELECT chat_id, user_a, user_b, created_at
		FROM chats
		WHERE user_a = $1 OR user_b = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var chats []models.Chat
	for rows.Next() {
		var c models.Chat
		if err := rows.Scan(&c.ChatID, &c.UserA, &c.UserB, &c.CreatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// SaveMessage stores a ratchet envelope verbatim.
func (p *PostgresDB) SaveMessage(msg *models.StoredMessage) error {
	query := `
		INSERT INTO messages (message_id, chat_id, sender_id, receiver_id,
			ephemeral_key, ciphertext, counter, media_id, media_type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := p.db.Exec(query,
		msg.MessageID,
		msg.ChatID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Envelope.EphemeralKey,
		msg.Envelope.Ciphertext,
		msg.Envelope.Counter,
		msg.MediaID,
		msg.MediaType,
		msg.Status,
		msg.CreatedAt,
	)
	return err
}

// GetMessages pages a chat's history, newest last. Envelopes come back
// exactly as stored.
func (p *PostgresDB) GetMessages(chatID int64, before time.Time, limit int) ([]*models.StoredMessage, error) {
	query := `
		SELECT message_id, chat_id, sender_id, receiver_id, ephemeral_key, ciphertext,
			counter, media_id, media_type, status, created_at
		FROM messages
		WHERE chat_id = $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := p.db.Query(query, chatID, before, limit)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var messages []*models.StoredMessage
	for rows.Next() {
		msg := &models.StoredMessage{}
		if err := rows.Scan(
			&msg.MessageID,
			&msg.ChatID,
			&msg.SenderID,
			&msg.ReceiverID,
			&msg.Envelope.EphemeralKey,
			&msg.Envelope.Ciphertext,
			&msg.Envelope.Counter,
			&msg.MediaID,
			&msg.MediaType,
			&msg.Status,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	// Reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, rows.Err()
}

// UpdateMessageStatus updates the delivery status of a message
func (p *PostgresDB) UpdateMessageStatus(messageID uuid.UUID, status string, timestamp time.Time) error {
	var query string
	switch status {
	case "delivered":
		query = `UPDATE messages SET status = $1, delivered_at = $2 WHERE message_id = $3`
	case "read":
		query = `UPDATE messages SET status = $1, read_at = $2 WHERE message_id = $3`
	default:
		query = `UPDATE messages SET status = $1 WHERE message_id = $2`
		_, err := p.db.Exec(query, status, messageID)
		return err
	}
	_, err := p.db.Exec(query, status, timestamp, messageID)
	return err
}

// GetChatPeers returns all user IDs who share a chat with the given user,
// used for targeted presence broadcasting.
func (p *PostgresDB) GetChatPeers(userID int64) ([]int64, error) {
	query := `
		SELECT DISTINCT CASE WHEN user_a = $1 THEN user_b ELSE user_a END AS peer_id
		FROM chats
		WHERE user_a = $1 OR user_b = $1
		ORDER BY peer_id`

	rows, err := p.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var peers []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		peers = append(peers, id)
	}
	return peers, rows.Err()
}

// ============================================
// SESSION SNAPSHOTS
// ============================================

// UpsertSessionSnapshot stores an opaque ratchet session snapshot for a
// (user, peer) pair. The blob is written whole: a reader either sees the
// previous snapshot or the new one, never a mix.
func (p *PostgresDB) UpsertSessionSnapshot(userID, peerID int64, snapshot string) error {
	query := `
		INSERT INTO session_snapshots (user_id, peer_id, snapshot, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, peer_id)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`
	_, err := p.db.Exec(query, userID, peerID, snapshot)
	return err
}

// GetSessionSnapshot returns the stored snapshot, or ErrNotFound.
func (p *PostgresDB) GetSessionSnapshot(userID, peerID int64) (string, error) {
	var snapshot string
	err := p.db.QueryRow(`
		SELECT snapshot FROM session_snapshots WHERE user_id = $1 AND peer_id = $2`,
		userID, peerID,
	).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return snapshot, err
}

// DeleteSessionSnapshot discards a stored session.
func (p *PostgresDB) DeleteSessionSnapshot(userID, peerID int64) error {
	_, err := p.db.Exec(`DELETE FROM session_snapshots WHERE user_id = $1 AND peer_id = $2`, userID, peerID)
	return err
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		log.Printf("Warning: failed to close rows: %v", err)
	}
}
