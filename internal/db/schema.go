package db

// Schema bootstrap. Tables are created idempotently at startup; production
// deployments run the same statements via migrations.

const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id                 BIGSERIAL PRIMARY KEY,
	login                   TEXT NOT NULL UNIQUE,
	username                TEXT,
	avatar_url              TEXT,
	password_hash           TEXT NOT NULL,
	identity_key            TEXT NOT NULL,
	signing_key             TEXT NOT NULL,
	signed_prekey           TEXT NOT NULL,
	signed_prekey_signature TEXT NOT NULL,
	key_version             BIGINT NOT NULL DEFAULT 1,
	signed_at               TIMESTAMPTZ NOT NULL,
	wrapped_private_key     TEXT NOT NULL,
	private_key_salt        TEXT NOT NULL,
	kyber_prekey            TEXT,
	kyber_prekey_signature  TEXT,
	recovery_key_hash       TEXT,
	recovery_master_key     TEXT,
	recovery_salt           TEXT,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_seen               TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS one_time_prekeys (
	user_id    BIGINT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
	prekey_id  BIGINT NOT NULL,
	prekey     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, prekey_id)
);

CREATE TABLE IF NOT EXISTS chats (
	chat_id    BIGSERIAL PRIMARY KEY,
	user_a     BIGINT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
	user_b     BIGINT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (user_a, user_b)
);

CREATE TABLE IF NOT EXISTS messages (
	message_id    UUID PRIMARY KEY,
	chat_id       BIGINT NOT NULL REFERENCES chats(chat_id) ON DELETE CASCADE,
	sender_id     BIGINT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
	receiver_id   BIGINT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
	ephemeral_key TEXT NOT NULL,
	ciphertext    TEXT NOT NULL,
	counter       BIGINT NOT NULL,
	media_id      UUID,
	media_type    TEXT,
	status        TEXT NOT NULL DEFAULT 'sent',
	created_at    TIMESTAMPTZ NOT NULL,
	delivered_at  TIMESTAMPTZ,
	read_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_messages_chat_time ON messages (chat_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_receiver_status ON messages (receiver_id, status);

CREATE TABLE IF NOT EXISTS session_snapshots (
	user_id    BIGINT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
	peer_id    BIGINT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
	snapshot   TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, peer_id)
);
`

// InitSchema creates all tables if they do not exist.
func (p *PostgresDB) InitSchema() error {
	_, err := p.db.Exec(schema)
	return err
}
