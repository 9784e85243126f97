// Package sqlite provides a SQLite-backed mission snapshot store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	sqlitemigrate "github.com/louisbranch/metis/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/metis/internal/storage"
	"github.com/louisbranch/metis/internal/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists mission snapshots in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite mission store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlitemigrate.Apply(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutMission inserts or replaces a mission snapshot. The creation time of
// an existing record is kept.
func (s *Store) PutMission(ctx context.Context, snapshot []byte) (storage.MissionRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.MissionRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.MissionRecord{}, fmt.Errorf("storage is not configured")
	}
	if !gjson.ValidBytes(snapshot) {
		return storage.MissionRecord{}, fmt.Errorf("mission snapshot is not valid json")
	}
	id := strings.TrimSpace(gjson.GetBytes(snapshot, "_id").String())
	if id == "" {
		return storage.MissionRecord{}, fmt.Errorf("mission id is required")
	}
	name := strings.TrimSpace(gjson.GetBytes(snapshot, "name").String())
	now := toMillis(s.now())

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO missions (id, name, snapshot, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   snapshot = excluded.snapshot,
		   updated_at = excluded.updated_at`,
		id,
		name,
		string(snapshot),
		now,
		now,
	)
	if err != nil {
		return storage.MissionRecord{}, fmt.Errorf("put mission: %w", err)
	}
	return s.GetMission(ctx, id)
}

// GetMission returns one stored mission.
func (s *Store) GetMission(ctx context.Context, id string) (storage.MissionRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.MissionRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.MissionRecord{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.MissionRecord{}, fmt.Errorf("mission id is required")
	}

	var (
		record    storage.MissionRecord
		snapshot  string
		createdAt int64
		updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, name, snapshot, created_at, updated_at
		   FROM missions
		  WHERE id = ?`,
		id,
	).Scan(&record.ID, &record.Name, &snapshot, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.MissionRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.MissionRecord{}, fmt.Errorf("get mission: %w", err)
	}
	record.Snapshot = []byte(snapshot)
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

// ListMissions returns every stored mission, most recently updated first.
func (s *Store) ListMissions(ctx context.Context) ([]storage.MissionSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, name, updated_at
		   FROM missions
		  ORDER BY updated_at DESC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	var summaries []storage.MissionSummary
	for rows.Next() {
		var summary storage.MissionSummary
		var updatedAt int64
		if err := rows.Scan(&summary.ID, &summary.Name, &updatedAt); err != nil {
			return nil, fmt.Errorf("list missions: %w", err)
		}
		summary.UpdatedAt = fromMillis(updatedAt)
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	return summaries, nil
}

// DeleteMission removes a stored mission.
func (s *Store) DeleteMission(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM missions WHERE id = ?`, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("delete mission: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete mission: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

var _ storage.MissionStore = (*Store)(nil)
