package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-ime/internal/config"
	_ "modernc.org/sqlite"
)

type Kind string

const (
	KindCommit  Kind = "commit"
	KindDrop    Kind = "drop"
	KindCommand Kind = "command"
)

// Event is one journal entry. Text is empty unless text recording is enabled;
// Length always holds the byte length of the recognized line.
type Event struct {
	ID        int64
	SessionID string
	Kind      Kind
	Command   string
	Delivered bool
	Text      string
	Length    int
	CreatedAt time.Time
}

// Session is one daemon run.
type Session struct {
	ID          string
	RuntimeName string
	StartedAt   time.Time
}

// ErrNoSessions is returned by LatestSession on an empty journal.
var ErrNoSessions = errors.New("no sessions recorded")

// Store is the SQLite-backed session journal. In ephemeral mode it holds no
// database and every write is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer keeps WAL commits serialized.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    runtime_name TEXT NOT NULL,
    started_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    command TEXT NOT NULL DEFAULT '',
    delivered INTEGER NOT NULL DEFAULT 0,
    text TEXT NOT NULL DEFAULT '',
    length INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_session_created ON events(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Enabled reports whether writes reach a database.
func (s *Store) Enabled() bool {
	return s.db != nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendSession records the start of a run. StartedAt defaults to now.
func (s *Store) AppendSession(ctx context.Context, sess Session) error {
	if s.db == nil {
		return nil
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, runtime_name, started_at) VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET runtime_name=excluded.runtime_name`,
		sess.ID, sess.RuntimeName, sess.StartedAt.UnixNano())
	return err
}

// AppendEvent writes evt. CreatedAt defaults to now.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.db == nil {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(session_id, kind, command, delivered, text, length, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		evt.SessionID, string(evt.Kind), evt.Command, evt.Delivered, evt.Text, evt.Length, evt.CreatedAt.UnixNano())
	return err
}

// LatestSession returns the most recently started session.
func (s *Store) LatestSession(ctx context.Context) (Session, error) {
	if s.db == nil {
		return Session{}, ErrNoSessions
	}
	var (
		sess    Session
		started int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, runtime_name, started_at FROM sessions ORDER BY started_at DESC LIMIT 1`).
		Scan(&sess.ID, &sess.RuntimeName, &started)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNoSessions
	}
	if err != nil {
		return Session{}, err
	}
	sess.StartedAt = time.Unix(0, started).UTC()
	return sess, nil
}

// ListSessionEvents returns up to limit events of a session, oldest first.
func (s *Store) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, kind, command, delivered, text, length, created_at
		 FROM events WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			kind    string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &kind, &e.Command, &e.Delivered, &e.Text, &e.Length, &created); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		e.CreatedAt = time.Unix(0, created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies the configured retention: events and sessions older than
// RetentionDays go, then all but the newest MaxSessions sessions.
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixNano()
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions); err != nil {
			return err
		}
	}
	return tx.Commit()
}
