// Package db opens sqlite databases through sqlx. The driver is picked at
// build time: pure Go by default, cgo with -tags sqlite3_cgo.
package db

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/syftcrypt/internal/utils"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const defaultPragma = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA synchronous=NORMAL;
PRAGMA temp_store=MEMORY;
`

type options struct {
	pragmas      string
	maxOpenConns int
}

type Option func(*options)

// WithPragmas replaces the default pragmas.
func WithPragmas(pragmas string) Option {
	return func(o *options) {
		o.pragmas = pragmas
	}
}

// WithMaxOpenConns caps the connection pool. Zero means unlimited.
func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		o.maxOpenConns = n
	}
}

// Open connects to the sqlite database at path, creating it and its parent
// directory if needed.
func Open(path string, opts ...Option) (*sqlx.DB, error) {
	o := &options{
		pragmas:      defaultPragma,
		maxOpenConns: 1,
	}
	for _, opt := range opts {
		opt(o)
	}

	dsn := MemoryPath
	if path != MemoryPath {
		if err := utils.EnsureParent(path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", path)
	}

	slog.Debug("db", "driver", driverID, "path", path)
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if o.maxOpenConns > 0 {
		db.SetMaxOpenConns(o.maxOpenConns)
	}

	if _, err := db.Exec(o.pragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return db, nil
}
