package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "edustat/internal/errors"
	"edustat/internal/operations"
)

// SaveTask inserts or replaces a task snapshot
func (s *Store) SaveTask(ctx context.Context, snapshot *operations.TaskSnapshot) error {
	if snapshot == nil || snapshot.TaskID == "" {
		return apperrors.NewDataValidationError("task snapshot without id")
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return apperrors.NewStorageError("encode task snapshot", err)
	}
	updated := snapshot.UpdatedAt
	if updated.IsZero() {
		updated = snapshot.CreatedAt
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (task_id, kind, batch_code, school_id, status, created_at, updated_at, snapshot)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (task_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at, snapshot = excluded.snapshot`,
		snapshot.TaskID, string(snapshot.Kind), snapshot.BatchCode, snapshot.SchoolID, string(snapshot.Status),
		formatTime(snapshot.CreatedAt), formatTime(updated), string(data))
	return storageErr("save task", err)
}

// GetTask retrieves a snapshot by id
func (s *Store) GetTask(ctx context.Context, id string) (*operations.TaskSnapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM tasks WHERE task_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("task %s", id))
	}
	if err != nil {
		return nil, storageErr("get task", err)
	}
	return decodeTask(data)
}

// ListTasks returns snapshots matching the filter, newest first
func (s *Store) ListTasks(ctx context.Context, filter operations.TaskFilter) ([]*operations.TaskSnapshot, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.BatchCode != "" {
		where = append(where, "batch_code = ?")
		args = append(args, filter.BatchCode)
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(filter.Since))
	}

	query := "SELECT snapshot FROM tasks"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, task_id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list tasks", err)
	}
	defer rows.Close()

	var out []*operations.TaskSnapshot
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, storageErr("scan task", err)
		}
		snapshot, err := decodeTask(data)
		if err != nil {
			return nil, err
		}
		out = append(out, snapshot)
	}
	return out, storageErr("list tasks", rows.Err())
}

// DeleteFinishedTasks removes terminal tasks last updated before now-maxAge
func (s *Store) DeleteFinishedTasks(ctx context.Context, maxAge time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE status IN (?, ?, ?) AND updated_at < ?`,
		string(operations.TaskStatusCompleted), string(operations.TaskStatusFailed), string(operations.TaskStatusCancelled),
		formatTime(time.Now().Add(-maxAge)))
	if err != nil {
		return 0, storageErr("delete finished tasks", err)
	}
	n, err := res.RowsAffected()
	return int(n), storageErr("delete finished tasks", err)
}

func decodeTask(data string) (*operations.TaskSnapshot, error) {
	var snapshot operations.TaskSnapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, apperrors.NewStorageError("decode task snapshot", err)
	}
	return &snapshot, nil
}
