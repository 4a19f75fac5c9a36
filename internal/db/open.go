// Package db stores a local devnet ledger in SQLite. A Ledger serves the
// same reads as a ledger node, so the chat engine can run against it without
// a network.
package db

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Ledger is a SQLite-backed devnet ledger.
type Ledger struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
	now    func() time.Time

	entropyMu sync.Mutex
	entropy   io.Reader
}

// OpenLedger opens or creates the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Writers serialize on the SQLite lock; one connection avoids busy loops.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := InitSchema(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Ledger{
		db:      conn,
		path:    path,
		logger:  zerolog.Nop(),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// SetLogger replaces the ledger logger.
func (l *Ledger) SetLogger(logger zerolog.Logger) {
	l.logger = logger
}

// Path returns the database path.
func (l *Ledger) Path() string {
	return l.path
}

// DB exposes the underlying database.
func (l *Ledger) DB() *sql.DB {
	return l.db
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) newObjectID() string {
	l.entropyMu.Lock()
	defer l.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(l.now()), l.entropy).String()
}
