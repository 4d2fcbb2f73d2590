package store

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Plain DDL, portable between postgres and sqlite. Uniqueness constraints
// back the model invariants: one chat per (company, session, external id),
// one number per tenant.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS companies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		retention_days INTEGER NOT NULL DEFAULT 30,
		cache_fetched_days INTEGER NOT NULL DEFAULT 7,
		media_provider TEXT NOT NULL DEFAULT 'base64',
		created_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL REFERENCES companies(id),
		name TEXT NOT NULL,
		phone_number TEXT NOT NULL DEFAULT '',
		status INTEGER NOT NULL DEFAULT 0,
		qr_code TEXT,
		qr_expires_at TIMESTAMP,
		last_heartbeat TIMESTAMP,
		reauth_required BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL REFERENCES companies(id),
		name TEXT NOT NULL,
		whatsapp_number TEXT NOT NULL,
		wa_user_id TEXT NOT NULL DEFAULT '',
		profile_pic_url TEXT,
		is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
		last_contact_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP,
		UNIQUE (company_id, whatsapp_number)
	)`,
	`CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL REFERENCES companies(id),
		session_id TEXT NOT NULL REFERENCES sessions(id),
		wa_chat_id TEXT NOT NULL,
		type INTEGER NOT NULL DEFAULT 0,
		client_id TEXT REFERENCES clients(id),
		last_message_at TIMESTAMP,
		unread_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (company_id, session_id, wa_chat_id)
	)`,
	`CREATE TABLE IF NOT EXISTS media (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL REFERENCES companies(id),
		storage_provider TEXT NOT NULL,
		storage_key TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		size_bytes BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL REFERENCES companies(id),
		session_id TEXT NOT NULL REFERENCES sessions(id),
		chat_id TEXT NOT NULL REFERENCES chats(id),
		wa_message_id TEXT NOT NULL,
		direction INTEGER NOT NULL,
		type INTEGER NOT NULL DEFAULT 0,
		body TEXT,
		caption TEXT,
		media_id TEXT REFERENCES media(id),
		ack INTEGER NOT NULL DEFAULT 1,
		wa_timestamp TIMESTAMP,
		fetched_from_whatsapp BOOLEAN NOT NULL DEFAULT FALSE,
		cache_until TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages (chat_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_wa_id ON messages (wa_message_id, company_id)`,
	`CREATE TABLE IF NOT EXISTS queues (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL REFERENCES companies(id),
		name TEXT NOT NULL,
		greeting_message TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL REFERENCES companies(id),
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS user_queues (
		user_id TEXT NOT NULL REFERENCES users(id),
		queue_id TEXT NOT NULL REFERENCES queues(id),
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, queue_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL REFERENCES companies(id),
		client_id TEXT NOT NULL REFERENCES clients(id),
		user_id TEXT REFERENCES users(id),
		queue_id TEXT REFERENCES queues(id),
		category_id TEXT,
		chat_id TEXT REFERENCES chats(id),
		subject TEXT NOT NULL DEFAULT '',
		resolution_text TEXT,
		status INTEGER NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 1,
		reopened_count INTEGER NOT NULL DEFAULT 0,
		last_message_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_client_status ON tickets (client_id, status)`,
}

// Migrate creates the schema. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	log.Info().Int("statements", len(schema)).Msg("Database migration completed")
	return nil
}
