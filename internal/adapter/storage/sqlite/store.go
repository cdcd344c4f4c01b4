package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"

	"github.com/gladhopper/fd/internal/port"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Journal persists extraction outcomes to sqlite. Pixels never touch the
// database; only outcomes do.
type Journal struct {
	db *sql.DB
}

var hookOnce sync.Once

func registerHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			pragmas := []string{
				"PRAGMA journal_mode = WAL",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA synchronous = NORMAL",
			}
			for _, p := range pragmas {
				if _, err := conn.ExecContext(context.Background(), p, nil); err != nil {
					return fmt.Errorf("execute %s: %w", p, err)
				}
			}
			return nil
		})
	})
}

func NewJournal(dataDir string) (*Journal, error) {
	registerHook()

	dbPath := filepath.Join(dataDir, "fd.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection: WAL allows concurrent reads but only one writer.
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) Record(a port.Attempt) error {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := j.db.Exec(
		`INSERT INTO attempts (source, position, profile, outcome, error, attempts, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Source, a.Position, a.Profile, a.Outcome, a.Error, a.Attempts, a.Duration.Milliseconds(), createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (j *Journal) Recent(limit int) ([]port.Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(
		`SELECT id, source, position, profile, outcome, error, attempts, duration_ms, created_at
		 FROM attempts ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []port.Attempt
	for rows.Next() {
		var a port.Attempt
		var durationMs int64
		if err := rows.Scan(&a.ID, &a.Source, &a.Position, &a.Profile, &a.Outcome, &a.Error, &a.Attempts, &durationMs, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}

func (j *Journal) Prune(olderThan time.Duration) error {
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := j.db.Exec(`DELETE FROM attempts WHERE created_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("prune attempts: %w", err)
	}
	return nil
}

var _ port.Journal = (*Journal)(nil)
