// Package db owns the single shared SQLite database: schema creation,
// the helper-row creator pattern, and the process-wide caches that back it.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens (or creates) the shared database at path and applies the schema.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single shared database serializes writers; one connection avoids
	// SQLITE_BUSY storms across goroutines (see DESIGN.md OQ-1).
	conn.SetMaxOpenConns(1)
	if err := applySchema(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return conn, nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS domains (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		username TEXT NOT NULL,
		domain_id INTEGER NOT NULL REFERENCES domains(id),
		secret TEXT NOT NULL DEFAULT '',
		UNIQUE(username, domain_id)
	)`,
	`CREATE TABLE IF NOT EXISTS mailboxes (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id),
		name TEXT NOT NULL,
		uidvalidity INTEGER NOT NULL,
		uidnext INTEGER NOT NULL DEFAULT 1,
		nextmodseq INTEGER NOT NULL DEFAULT 1,
		first_recent INTEGER NOT NULL DEFAULT 1,
		special_use TEXT NOT NULL DEFAULT '',
		UNIQUE(user_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		user_id INTEGER NOT NULL REFERENCES users(id),
		mailbox_name TEXT NOT NULL,
		PRIMARY KEY(user_id, mailbox_name)
	)`,
	`CREATE TABLE IF NOT EXISTS bodyparts (
		id INTEGER PRIMARY KEY,
		hash TEXT NOT NULL UNIQUE,
		bytes INTEGER NOT NULL,
		text TEXT,
		data BLOB
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		mailbox INTEGER NOT NULL REFERENCES mailboxes(id),
		uid INTEGER NOT NULL,
		idate INTEGER NOT NULL,
		rfc822size INTEGER NOT NULL,
		expunged INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY(mailbox, uid)
	)`,
	`CREATE TABLE IF NOT EXISTS modsequences (
		mailbox INTEGER NOT NULL,
		uid INTEGER NOT NULL,
		modseq INTEGER NOT NULL,
		PRIMARY KEY(mailbox, uid)
	)`,
	`CREATE TABLE IF NOT EXISTS part_numbers (
		mailbox INTEGER NOT NULL,
		uid INTEGER NOT NULL,
		part TEXT NOT NULL,
		bodypart INTEGER NOT NULL REFERENCES bodyparts(id),
		bytes INTEGER NOT NULL,
		lines INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY(mailbox, uid, part)
	)`,
	`CREATE TABLE IF NOT EXISTS field_names (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS header_fields (
		mailbox INTEGER NOT NULL,
		uid INTEGER NOT NULL,
		part TEXT NOT NULL,
		position INTEGER NOT NULL,
		field INTEGER NOT NULL REFERENCES field_names(id),
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS date_fields (
		mailbox INTEGER NOT NULL,
		uid INTEGER NOT NULL,
		value INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS addresses (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		localpart TEXT NOT NULL,
		domain TEXT NOT NULL,
		UNIQUE(name, localpart, domain)
	)`,
	`CREATE TABLE IF NOT EXISTS address_fields (
		mailbox INTEGER NOT NULL,
		uid INTEGER NOT NULL,
		part TEXT NOT NULL,
		position INTEGER NOT NULL,
		field INTEGER NOT NULL REFERENCES field_names(id),
		address INTEGER NOT NULL REFERENCES addresses(id),
		number INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS flag_names (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS flags (
		flag INTEGER NOT NULL REFERENCES flag_names(id),
		uid INTEGER NOT NULL,
		mailbox INTEGER NOT NULL,
		PRIMARY KEY(flag, uid, mailbox)
	)`,
	`CREATE TABLE IF NOT EXISTS annotation_names (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS annotations (
		mailbox INTEGER NOT NULL,
		uid INTEGER NOT NULL,
		name INTEGER NOT NULL REFERENCES annotation_names(id),
		value TEXT NOT NULL,
		owner INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS deliveries (
		id INTEGER PRIMARY KEY,
		sender TEXT NOT NULL,
		mailbox INTEGER NOT NULL,
		uid INTEGER NOT NULL,
		injected_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS delivery_recipients (
		delivery INTEGER NOT NULL REFERENCES deliveries(id),
		recipient TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS unparsed_messages (
		bodypart INTEGER NOT NULL REFERENCES bodyparts(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_mailbox ON messages(mailbox)`,
	`CREATE INDEX IF NOT EXISTS idx_header_fields_lookup ON header_fields(mailbox, uid, field)`,
	`CREATE INDEX IF NOT EXISTS idx_address_fields_lookup ON address_fields(mailbox, uid, field)`,
	`CREATE INDEX IF NOT EXISTS idx_flags_lookup ON flags(mailbox, uid)`,
}

func applySchema(conn *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}
