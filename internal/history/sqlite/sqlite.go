package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/specsync/internal/history"
)

// Sink writes sync runs to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// each :memory: connection is its own database
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_history(
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			hash TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			changes TEXT,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sync_history_started ON sync_history(started_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, r history.Run) error {
	changes, err := json.Marshal(r.Changes)
	if err != nil {
		return err
	}
	var errText any
	if r.Error != "" {
		errText = r.Error
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_history(id, started_at, finished_at, outcome, hash, attempt, changes, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
		r.ID, r.StartedAt.UnixNano(), r.FinishedAt.UnixNano(), string(r.Outcome), r.Hash, r.Attempt, string(changes), errText)
	return err
}

// Recent returns up to n runs, newest first. n <= 0 means all.
func (s *Sink) Recent(ctx context.Context, n int) ([]history.Run, error) {
	q := `SELECT id, started_at, finished_at, outcome, hash, attempt, changes, error
		FROM sync_history ORDER BY started_at DESC`
	var args []any
	if n > 0 {
		q += ` LIMIT ?`
		args = append(args, n)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Run
	for rows.Next() {
		var (
			r                 history.Run
			started, finished int64
			outcome           string
			changes, errText  sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &finished, &outcome, &r.Hash, &r.Attempt, &changes, &errText); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, started).UTC()
		r.FinishedAt = time.Unix(0, finished).UTC()
		r.Outcome = history.Outcome(outcome)
		r.Error = errText.String
		if changes.Valid && changes.String != "" && changes.String != "null" {
			if err := json.Unmarshal([]byte(changes.String), &r.Changes); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
