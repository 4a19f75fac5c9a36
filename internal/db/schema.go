package db

import (
	"database/sql"
	"fmt"
)

const schemaSQL = `
-- Channels
CREATE TABLE IF NOT EXISTS ledger_channels (
  id TEXT PRIMARY KEY,                   -- 0x-prefixed object address
  title TEXT NOT NULL,
  channel_type INTEGER NOT NULL,         -- 0 ai-home, 1 ai-peer, 2 topic
  status INTEGER NOT NULL DEFAULT 0,     -- 0 active, 1 closed, 2 banned
  creator TEXT NOT NULL,
  message_count INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL            -- unix ms
);

-- Channel membership
CREATE TABLE IF NOT EXISTS ledger_channel_members (
  channel_id TEXT NOT NULL,
  address TEXT NOT NULL,                 -- normalized address
  joined_at INTEGER NOT NULL,
  PRIMARY KEY (channel_id, address),
  FOREIGN KEY (channel_id) REFERENCES ledger_channels(id)
);

-- Messages, one object per index
CREATE TABLE IF NOT EXISTS ledger_messages (
  object_id TEXT PRIMARY KEY,            -- ULID
  channel_id TEXT NOT NULL,
  idx INTEGER NOT NULL,
  sender TEXT NOT NULL,
  content TEXT NOT NULL,
  ts INTEGER NOT NULL,                   -- unix ms
  message_type INTEGER NOT NULL DEFAULT 0,
  mentions TEXT NOT NULL DEFAULT '[]',   -- JSON array of addresses
  reply_to INTEGER NOT NULL DEFAULT -1,
  attachments TEXT NOT NULL DEFAULT '[]',
  tx_hash TEXT NOT NULL,
  UNIQUE (channel_id, idx),
  FOREIGN KEY (channel_id) REFERENCES ledger_channels(id)
);

CREATE INDEX IF NOT EXISTS idx_ledger_messages_channel_idx ON ledger_messages(channel_id, idx);
CREATE INDEX IF NOT EXISTS idx_ledger_messages_sender ON ledger_messages(sender);

-- Responder progress per channel
CREATE TABLE IF NOT EXISTS ledger_watermarks (
  responder TEXT NOT NULL,
  channel_id TEXT NOT NULL,
  last_index INTEGER NOT NULL,
  PRIMARY KEY (responder, channel_id)
);
`

// DBTX represents shared methods across sql.DB and sql.Tx.
type DBTX interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// InitSchema creates the ledger tables.
func InitSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(schemaSQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("init schema: %w", err)
	}
	return tx.Commit()
}

// SchemaExists reports whether the ledger schema is present.
func SchemaExists(db *sql.DB) (bool, error) {
	row := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'ledger_channels'")
	var name string
	if err := row.Scan(&name); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return name == "ledger_channels", nil
}
