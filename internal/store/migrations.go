package store

import "fmt"

// migration is one append-only schema step. Never edit a past migration's
// SQL; add a new one and bump the version.
type migration struct {
	version int
	sql     string
}

// migrations is the canonical schema, in six steps: identity (users,
// blobs, rotation records, refresh tokens, settings, setup tokens);
// structure (categories, channels, roles, bans, invites); messages;
// reactions and last-read; DM tables; blocks and the audit log.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE users (
	id TEXT PRIMARY KEY,
	public_key BLOB NOT NULL,
	fingerprint TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL,
	role_bits INTEGER NOT NULL DEFAULT 0,
	is_owner INTEGER NOT NULL DEFAULT 0,
	totp_secret_enc BLOB,
	totp_enrolled INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE UNIQUE INDEX idx_users_display_name ON users(display_name);

CREATE TABLE identity_blobs (
	fingerprint TEXT PRIMARY KEY,
	encrypted_blob BLOB NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE rotation_records (
	id TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	kind TEXT NOT NULL,
	prev_key BLOB,
	new_key BLOB NOT NULL,
	reason TEXT,
	sig_old BLOB,
	sig_new BLOB NOT NULL,
	cancel_deadline TEXT,
	cancelled INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE INDEX idx_rotation_fingerprint ON rotation_records(fingerprint);

CREATE TABLE refresh_tokens (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	token_hash TEXT NOT NULL UNIQUE,
	device TEXT,
	expires_at TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX idx_refresh_tokens_user ON refresh_tokens(user_id);

CREATE TABLE server_settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE setup_tokens (
	token_hash TEXT PRIMARY KEY,
	consumed INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE categories (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	position INTEGER NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE channels (
	id TEXT PRIMARY KEY,
	category_id TEXT REFERENCES categories(id),
	name TEXT NOT NULL,
	topic TEXT,
	channel_type TEXT NOT NULL DEFAULT 'text',
	position INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX idx_channels_category ON channels(category_id);

CREATE TABLE roles (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	permission_bits INTEGER NOT NULL DEFAULT 0,
	color TEXT,
	position INTEGER NOT NULL DEFAULT 0,
	is_default INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE user_roles (
	user_id TEXT NOT NULL REFERENCES users(id),
	role_id TEXT NOT NULL REFERENCES roles(id),
	PRIMARY KEY (user_id, role_id)
);

CREATE TABLE bans (
	fingerprint TEXT PRIMARY KEY,
	reason TEXT,
	expires_at TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE invites (
	code TEXT PRIMARY KEY,
	created_by TEXT NOT NULL REFERENCES users(id),
	max_uses INTEGER,
	use_count INTEGER NOT NULL DEFAULT 0,
	expires_at TEXT,
	created_at TEXT NOT NULL
);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id TEXT NOT NULL REFERENCES channels(id),
	sender_pubkey_hex TEXT NOT NULL,
	sender_display_name TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL DEFAULT 'chat',
	payload BLOB,
	content_text TEXT,
	ts_ms INTEGER NOT NULL,
	sequence_hint INTEGER NOT NULL DEFAULT 0,
	server_sequence INTEGER NOT NULL,
	signature BLOB,
	edited INTEGER NOT NULL DEFAULT 0,
	edit_ts INTEGER,
	deleted INTEGER NOT NULL DEFAULT 0,
	reply_to_id INTEGER
);
CREATE UNIQUE INDEX idx_messages_channel_seq ON messages(channel_id, server_sequence);
CREATE INDEX idx_messages_channel_deleted ON messages(channel_id, deleted, server_sequence);
`,
	},
	{
		version: 4,
		sql: `
CREATE TABLE reactions (
	message_id INTEGER NOT NULL REFERENCES messages(id),
	user_pubkey TEXT NOT NULL,
	emoji TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (message_id, user_pubkey, emoji)
);

CREATE TABLE last_read (
	user_id TEXT NOT NULL REFERENCES users(id),
	channel_id TEXT NOT NULL REFERENCES channels(id),
	last_sequence INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, channel_id)
);
`,
	},
	{
		version: 5,
		sql: `
CREATE TABLE dm_keys (
	ed25519_pubkey_hex TEXT PRIMARY KEY,
	x25519_pubkey BLOB NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE dm_conversations (
	id TEXT PRIMARY KEY,
	participant_a TEXT NOT NULL,
	participant_b TEXT NOT NULL,
	created_at TEXT NOT NULL,
	last_message_at TEXT,
	UNIQUE (participant_a, participant_b)
);

CREATE TABLE dm_messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES dm_conversations(id),
	sender TEXT NOT NULL,
	ciphertext BLOB NOT NULL,
	nonce BLOB NOT NULL,
	ephemeral_pub BLOB,
	ts_ms INTEGER NOT NULL,
	server_sequence INTEGER NOT NULL,
	sender_display_name TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX idx_dm_messages_conversation ON dm_messages(conversation_id, server_sequence);

CREATE TABLE dm_offline_queue (
	recipient_pubkey TEXT NOT NULL,
	dm_message_id TEXT NOT NULL REFERENCES dm_messages(id),
	queued_at TEXT NOT NULL,
	delivered INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (recipient_pubkey, dm_message_id)
);
`,
	},
	{
		version: 6,
		sql: `
CREATE TABLE blocks (
	hash_hex TEXT PRIMARY KEY,
	plaintext_size INTEGER NOT NULL,
	encrypted_size INTEGER NOT NULL,
	channel_id TEXT,
	created_at TEXT NOT NULL,
	expires_at TEXT NOT NULL
);
CREATE INDEX idx_blocks_expires ON blocks(expires_at);

CREATE TABLE audit_log (
	id TEXT PRIMARY KEY,
	actor_user_id TEXT,
	action TEXT NOT NULL,
	target TEXT,
	detail TEXT,
	created_at TEXT NOT NULL
);
`,
	},
}

// Migrate applies every migration whose version exceeds the database's
// current schema version, tracked via sqlite's user_version pragma; a
// migration-history table would duplicate what the pragma already records.
func (s *Store) Migrate() error {
	var current int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("store: reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("store: migration %d: begin: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: migration %d: setting user_version: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: migration %d: commit: %w", m.version, err)
		}
	}
	return nil
}
