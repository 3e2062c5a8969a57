// Package history keeps a local sqlite journal of the actions committed by
// sync passes, for the history command.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/syftcrypt/internal/db"
	"github.com/openmined/syftcrypt/internal/sync"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    action TEXT NOT NULL,
    sync_id TEXT NOT NULL,
    native_path TEXT NOT NULL,
    revguid TEXT NOT NULL,
    size INTEGER NOT NULL,
    created_at TEXT NOT NULL -- RFC3339
);

CREATE INDEX IF NOT EXISTS idx_history_sync_id ON sync_history(sync_id);
CREATE INDEX IF NOT EXISTS idx_history_created_at ON sync_history(created_at);
`

var ErrNotOpen = errors.New("history not open")

// Entry is one committed action.
type Entry struct {
	ID         int64  `db:"id"`
	Action     string `db:"action"`
	SyncID     string `db:"sync_id"`
	NativePath string `db:"native_path"`
	RevGUID    string `db:"revguid"`
	Size       int64  `db:"size"`
	CreatedAt  string `db:"created_at"`
}

// Time parses CreatedAt.
func (e *Entry) Time() time.Time {
	t, _ := time.Parse(time.RFC3339, e.CreatedAt)
	return t
}

type History struct {
	db     *sqlx.DB
	dbPath string
}

func New(dbPath string) *History {
	return &History{dbPath: dbPath}
}

// Open opens the database and creates the schema.
func (h *History) Open() error {
	if h.db != nil {
		return fmt.Errorf("history already open")
	}

	conn, err := db.Open(h.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return fmt.Errorf("failed to initialize history schema: %w", err)
	}

	h.db = conn
	return nil
}

func (h *History) Close() error {
	if h.db == nil {
		return ErrNotOpen
	}
	err := h.db.Close()
	h.db = nil
	if err != nil {
		slog.Error("failed to close history database", "error", err)
		return err
	}
	return nil
}

// Record implements sync.Recorder.
func (h *History) Record(ctx context.Context, ev sync.Event) error {
	if h.db == nil {
		return ErrNotOpen
	}

	entry := Entry{
		Action:     ev.Action.String(),
		SyncID:     ev.SyncID,
		NativePath: ev.NativePath,
		RevGUID:    ev.RevGUID,
		Size:       ev.Size,
		CreatedAt:  ev.Time.UTC().Format(time.RFC3339),
	}

	query := `INSERT INTO sync_history (action, sync_id, native_path, revguid, size, created_at)
	          VALUES (:action, :sync_id, :native_path, :revguid, :size, :created_at)`
	if _, err := h.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("failed to record %s for %s: %w", entry.Action, entry.NativePath, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if h.db == nil {
		return nil, ErrNotOpen
	}
	var entries []Entry
	err := h.db.SelectContext(ctx, &entries, "SELECT * FROM sync_history ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return entries, nil
}

// ForSyncID returns every entry of one sync id, newest first.
func (h *History) ForSyncID(ctx context.Context, syncID string) ([]Entry, error) {
	if h.db == nil {
		return nil, ErrNotOpen
	}
	var entries []Entry
	err := h.db.SelectContext(ctx, &entries, "SELECT * FROM sync_history WHERE sync_id = ? ORDER BY id DESC", syncID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", syncID, err)
	}
	return entries, nil
}

func (h *History) Count(ctx context.Context) (int, error) {
	if h.db == nil {
		return 0, ErrNotOpen
	}
	var count int
	if err := h.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM sync_history"); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return count, nil
}

// Prune deletes entries older than before and returns how many were removed.
func (h *History) Prune(ctx context.Context, before time.Time) (int64, error) {
	if h.db == nil {
		return 0, ErrNotOpen
	}
	res, err := h.db.ExecContext(ctx, "DELETE FROM sync_history WHERE created_at < ?", before.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}
