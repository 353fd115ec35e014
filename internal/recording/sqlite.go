package recording

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the recording index in a local SQLite file. This is
// the default on-device backend; the database lives next to the segment
// files so index and artifacts share one volume.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping index database: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS recordings (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL,
		path TEXT NOT NULL UNIQUE,
		context_type TEXT NOT NULL,
		context_id TEXT NOT NULL,
		source TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_recordings_expires_at ON recordings (expires_at);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init index schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

const sqliteColumns = `id, session_id, created_at, duration_ms, size_bytes, path, context_type, context_id, source, expires_at`

func (s *SQLiteStore) Insert(ctx context.Context, rec Recording) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recordings (`+sqliteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.SessionID,
		rec.CreatedAt.UnixMilli(),
		rec.DurationMs,
		rec.SizeBytes,
		rec.Path,
		rec.ContextType,
		rec.ContextID,
		string(rec.Source),
		rec.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Recording, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM recordings WHERE id = ?`, id)
	return scanSQLiteRow(row)
}

func (s *SQLiteStore) GetByPath(ctx context.Context, path string) (Recording, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM recordings WHERE path = ?`, path)
	return scanSQLiteRow(row)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Recording, error) {
	return s.query(ctx, `SELECT `+sqliteColumns+` FROM recordings ORDER BY created_at ASC`)
}

func (s *SQLiteStore) ListExpired(ctx context.Context, now time.Time) ([]Recording, error) {
	return s.query(ctx,
		`SELECT `+sqliteColumns+` FROM recordings WHERE expires_at <= ? ORDER BY created_at ASC`,
		now.UnixMilli())
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Recording, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		var rec Recording
		var createdAt, expiresAt int64
		var source string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &createdAt, &rec.DurationMs,
			&rec.SizeBytes, &rec.Path, &rec.ContextType, &rec.ContextID, &source, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan recording row: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		rec.ExpiresAt = time.UnixMilli(expiresAt).UTC()
		rec.Source = Source(source)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanSQLiteRow(row *sql.Row) (Recording, error) {
	var rec Recording
	var createdAt, expiresAt int64
	var source string
	err := row.Scan(&rec.ID, &rec.SessionID, &createdAt, &rec.DurationMs,
		&rec.SizeBytes, &rec.Path, &rec.ContextType, &rec.ContextID, &source, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, ErrNotFound
	}
	if err != nil {
		return Recording{}, fmt.Errorf("scan recording: %w", err)
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	rec.Source = Source(source)
	return rec, nil
}
