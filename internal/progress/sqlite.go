package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"bookstream/internal/domain"
)

// SQLiteStore persists positions in a single-table SQLite database so
// they survive process restarts without any external service.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS listening_progress (
			item_id    TEXT PRIMARY KEY,
			position   REAL NOT NULL,
			duration   REAL NOT NULL DEFAULT 0,
			title      TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("progress: create schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, itemID domain.ItemID) (domain.ProgressRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT item_id, position, duration, title, updated_at
		FROM listening_progress WHERE item_id = ?`, string(itemID))

	var rec domain.ProgressRecord
	var id string
	var updatedAt int64
	if err := row.Scan(&id, &rec.Position, &rec.Duration, &rec.Title, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ProgressRecord{}, domain.ErrNotFound
		}
		return domain.ProgressRecord{}, err
	}
	rec.ItemID = domain.ItemID(id)
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return rec, nil
}

func (s *SQLiteStore) Set(ctx context.Context, rec domain.ProgressRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listening_progress (item_id, position, duration, title, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			position=excluded.position,
			duration=excluded.duration,
			title=excluded.title,
			updated_at=excluded.updated_at`,
		string(rec.ItemID), rec.Position, rec.Duration, rec.Title, s.now().Unix())
	return err
}

func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]domain.ProgressRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, position, duration, title, updated_at
		FROM listening_progress
		ORDER BY updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProgressRecord
	for rows.Next() {
		var rec domain.ProgressRecord
		var id string
		var updatedAt int64
		if err := rows.Scan(&id, &rec.Position, &rec.Duration, &rec.Title, &updatedAt); err != nil {
			return nil, err
		}
		rec.ItemID = domain.ItemID(id)
		rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
