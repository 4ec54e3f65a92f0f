// Package journal keeps an optional SQLite timeline of connection and
// session activity for later inspection.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/agentlink/pkg/transport"
	"github.com/MrWong99/agentlink/pkg/wire"
)

// Entry kinds.
const (
	KindConnection = "connection"
	KindCommand    = "command"
	KindResult     = "result"
	KindSession    = "session"
)

// Entry is one timeline row.
type Entry struct {
	ID        int64
	Kind      string
	Name      string
	CmdID     string
	Detail    string
	CreatedAt time.Time
}

// Journal appends entries to a SQLite database. A Journal opened with an
// empty path records nothing; all methods are safe on it.
type Journal struct {
	db    *sql.DB
	clock func() time.Time
}

// Open opens (creating if needed) the journal at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	if path == "" {
		return &Journal{clock: time.Now}, nil
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ping sqlite: %w", err)
	}
	j := &Journal{db: db, clock: time.Now}
	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: init schema: %w", err)
	}
	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    cmd_id TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_created ON entries(created_at);
`)
	return err
}

// Enabled reports whether entries are persisted.
func (j *Journal) Enabled() bool { return j.db != nil }

// Ping checks the database. A disabled journal is always healthy.
func (j *Journal) Ping(ctx context.Context) error {
	if j.db == nil {
		return nil
	}
	return j.db.PingContext(ctx)
}

// Close releases the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append writes e, stamping CreatedAt when it is zero.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if j.db == nil {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.clock()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO entries(kind, name, cmd_id, detail, created_at) VALUES(?, ?, ?, ?, ?)`,
		e.Kind, e.Name, e.CmdID, e.Detail, e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return nil
}

// List returns up to limit most recent entries, oldest first. kind filters
// when non-empty.
func (j *Journal) List(ctx context.Context, kind string, limit int) ([]Entry, error) {
	if j.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, kind, name, cmd_id, detail, created_at FROM (
		   SELECT * FROM entries WHERE (? = '' OR kind = ?) ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`, kind, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.Name, &e.CmdID, &e.Detail, &created); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than maxAge.
func (j *Journal) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	if j.db == nil || maxAge <= 0 {
		return 0, nil
	}
	cutoff := j.clock().Add(-maxAge).UnixMilli()
	res, err := j.db.ExecContext(ctx, `DELETE FROM entries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return res.RowsAffected()
}

// ── Sources ──────────────────────────────────────────────────────────────────

// Attach records connection changes, sent commands and command results from
// tr until the returned function is called.
func (j *Journal) Attach(tr transport.Transport) (detach func()) {
	if j.db == nil {
		return func() {}
	}
	connID := tr.OnConnectionStateChange(j.recordConnection)
	sentID := tr.OnCommandSent(j.recordCommand)
	resID := tr.OnMessage(wire.TypeCmdResult, j.recordResult)
	return func() {
		tr.OffConnectionStateChange(connID)
		tr.OffCommandSent(sentID)
		tr.OffMessage(resID)
	}
}

// RecordSession records a session state change.
func (j *Journal) RecordSession(state string) {
	j.appendLogged(Entry{Kind: KindSession, Name: state})
}

func (j *Journal) recordConnection(ev transport.ConnectionEvent) {
	e := Entry{Kind: KindConnection, Name: ev.State.String()}
	switch {
	case ev.Exhausted:
		e.Detail = fmt.Sprintf("reconnect exhausted after %d attempts", ev.Attempt)
	case ev.Err != nil:
		e.Detail = ev.Err.Error()
	case ev.Attempt > 0:
		e.Detail = fmt.Sprintf("attempt %d", ev.Attempt)
	}
	j.appendLogged(e)
}

func (j *Journal) recordCommand(msg wire.Message) {
	e := Entry{Kind: KindCommand, Name: msg.MessageHeader().Name}
	if c := wire.CommandOf(msg); c != nil {
		e.CmdID = c.CmdID
	}
	j.appendLogged(e)
}

func (j *Journal) recordResult(msg wire.Message) {
	r, ok := msg.(*wire.CommandResult)
	if !ok {
		return
	}
	status := "ok"
	if !r.Success() {
		status = "error"
	}
	detail := status
	if d := r.Detail(); d != "" {
		detail += ": " + d
	}
	j.appendLogged(Entry{Kind: KindResult, Name: r.OriginalCmdName, CmdID: r.OriginalCmdID, Detail: detail})
}

func (j *Journal) appendLogged(e Entry) {
	if err := j.Append(context.Background(), e); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("journal: entry dropped", "kind", e.Kind, "err", err)
	}
}
