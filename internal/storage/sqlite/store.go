// Package sqlite is the durable edustat store. It implements the cleaning,
// aggregation and task repositories on a single SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	apperrors "edustat/internal/errors"
)

// timeLayout is fixed-width UTC so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store persists configuration, raw responses, cleaned data, statistics and task snapshots
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates the schema
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.NewStorageError("open database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.NewStorageError("ping database", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, apperrors.NewStorageError("migrate", err)
	}
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.NewStorageError("ping database", err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS subject_configs (
		batch_code TEXT NOT NULL,
		subject_name TEXT NOT NULL,
		config TEXT NOT NULL,
		PRIMARY KEY (batch_code, subject_name)
	);

	CREATE TABLE IF NOT EXISTS dimension_configs (
		batch_code TEXT NOT NULL,
		subject_name TEXT NOT NULL,
		dimension_code TEXT NOT NULL,
		config TEXT NOT NULL,
		PRIMARY KEY (batch_code, subject_name, dimension_code)
	);

	CREATE TABLE IF NOT EXISTS raw_responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_code TEXT NOT NULL,
		subject_name TEXT NOT NULL,
		student_id TEXT NOT NULL,
		student_name TEXT NOT NULL DEFAULT '',
		school_id TEXT NOT NULL DEFAULT '',
		school_code TEXT NOT NULL DEFAULT '',
		school_name TEXT NOT NULL DEFAULT '',
		class_name TEXT NOT NULL DEFAULT '',
		scores TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_raw_batch_subject ON raw_responses (batch_code, subject_name);

	CREATE TABLE IF NOT EXISTS cleaned_records (
		batch_code TEXT NOT NULL,
		subject_name TEXT NOT NULL,
		student_id TEXT NOT NULL,
		student_name TEXT NOT NULL DEFAULT '',
		school_id TEXT NOT NULL DEFAULT '',
		school_code TEXT NOT NULL DEFAULT '',
		school_name TEXT NOT NULL DEFAULT '',
		class_name TEXT NOT NULL DEFAULT '',
		subject_kind TEXT NOT NULL,
		total_score REAL NOT NULL,
		max_score REAL NOT NULL,
		question_count INTEGER NOT NULL DEFAULT 0,
		dimension_scores TEXT NOT NULL DEFAULT '{}',
		is_valid INTEGER NOT NULL,
		PRIMARY KEY (batch_code, subject_name, student_id)
	);
	CREATE INDEX IF NOT EXISTS idx_cleaned_school ON cleaned_records (batch_code, school_id);

	CREATE TABLE IF NOT EXISTS questionnaire_items (
		batch_code TEXT NOT NULL,
		subject_name TEXT NOT NULL,
		student_id TEXT NOT NULL,
		school_id TEXT NOT NULL DEFAULT '',
		item_id TEXT NOT NULL,
		raw_score REAL NOT NULL,
		item_max_score REAL NOT NULL,
		scale_level INTEGER NOT NULL,
		option_level INTEGER NOT NULL,
		is_reverse INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (batch_code, subject_name, student_id, item_id)
	);

	CREATE TABLE IF NOT EXISTS option_distribution (
		batch_code TEXT NOT NULL,
		subject_name TEXT NOT NULL,
		item_id TEXT NOT NULL,
		option_level INTEGER NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (batch_code, subject_name, item_id, option_level)
	);

	CREATE TABLE IF NOT EXISTS statistics_results (
		batch_code TEXT NOT NULL,
		aggregation_level TEXT NOT NULL,
		school_id TEXT NOT NULL DEFAULT '',
		school_name TEXT NOT NULL DEFAULT '',
		subject_name TEXT NOT NULL,
		statistics TEXT NOT NULL,
		calculated_at TEXT NOT NULL,
		PRIMARY KEY (batch_code, aggregation_level, school_id, subject_name)
	);

	CREATE TABLE IF NOT EXISTS tasks (
		task_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		batch_code TEXT NOT NULL,
		school_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		snapshot TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status);
	CREATE INDEX IF NOT EXISTS idx_tasks_batch ON tasks (batch_code, created_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(timeLayout, v)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func storageErr(message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewCancelledError(fmt.Sprintf("%s: %v", message, err))
	}
	return apperrors.NewStorageError(message, err)
}
