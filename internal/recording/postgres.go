package recording

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the recording index in PostgreSQL. Used by fleet
// deployments where the cloud-sync consumer reads a central index.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS recordings (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL,
		size_bytes BIGINT NOT NULL,
		path TEXT NOT NULL UNIQUE,
		context_type TEXT NOT NULL,
		context_id TEXT NOT NULL,
		source TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);`
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init index schema: %w", err)
	}
	if _, err := pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_recordings_expires_at ON recordings (expires_at)`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init index schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

const pgColumns = `id, session_id, created_at, duration_ms, size_bytes, path, context_type, context_id, source, expires_at`

func (s *PostgresStore) Insert(ctx context.Context, rec Recording) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO recordings (`+pgColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID,
		rec.SessionID,
		rec.CreatedAt,
		rec.DurationMs,
		rec.SizeBytes,
		rec.Path,
		rec.ContextType,
		rec.ContextID,
		string(rec.Source),
		rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Recording, error) {
	return s.getWhere(ctx, `id = $1`, id)
}

func (s *PostgresStore) GetByPath(ctx context.Context, path string) (Recording, error) {
	return s.getWhere(ctx, `path = $1`, path)
}

func (s *PostgresStore) getWhere(ctx context.Context, where string, arg any) (Recording, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM recordings WHERE `+where, arg)
	var rec Recording
	var source string
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.CreatedAt, &rec.DurationMs,
		&rec.SizeBytes, &rec.Path, &rec.ContextType, &rec.ContextID, &source, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Recording{}, ErrNotFound
	}
	if err != nil {
		return Recording{}, fmt.Errorf("scan recording: %w", err)
	}
	rec.Source = Source(source)
	return rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recordings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Recording, error) {
	return s.query(ctx, `SELECT `+pgColumns+` FROM recordings ORDER BY created_at ASC`)
}

func (s *PostgresStore) ListExpired(ctx context.Context, now time.Time) ([]Recording, error) {
	return s.query(ctx,
		`SELECT `+pgColumns+` FROM recordings WHERE expires_at <= $1 ORDER BY created_at ASC`, now)
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]Recording, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		var rec Recording
		var source string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.CreatedAt, &rec.DurationMs,
			&rec.SizeBytes, &rec.Path, &rec.ContextType, &rec.ContextID, &source, &rec.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan recording row: %w", err)
		}
		rec.Source = Source(source)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recording rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
