package operations

import (
	"context"
	"log/slog"
	"time"
)

// logTaskStart logs the start of a task execution
func (m *Manager) logTaskStart(ctx context.Context, task *TaskState) {
	m.logger.InfoContext(ctx, "task_start",
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Request.Kind)),
		slog.String("batch_code", task.Request.BatchCode),
		slog.String("school_id", task.Request.SchoolID))
}

// logTaskComplete logs the terminal status of a task
func (m *Manager) logTaskComplete(ctx context.Context, task *TaskState, status TaskStatus) {
	attrs := []any{
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Request.Kind)),
		slog.String("status", string(status)),
		slog.Duration("duration", task.Duration()),
	}
	if status == TaskStatusFailed {
		task.mu.RLock()
		if task.Error != nil {
			attrs = append(attrs, slog.String("error", task.Error.Error()))
		}
		task.mu.RUnlock()
		m.logger.ErrorContext(ctx, "task_complete", attrs...)
		return
	}
	m.logger.InfoContext(ctx, "task_complete", attrs...)
}

func (m *Manager) logStageStart(ctx context.Context, taskID, stageID string, attempt int) {
	m.logger.InfoContext(ctx, "stage_start",
		slog.String("task_id", taskID),
		slog.String("stage", stageID),
		slog.Int("attempt", attempt))
}

func (m *Manager) logStageComplete(ctx context.Context, taskID, stageID string, duration time.Duration) {
	m.logger.InfoContext(ctx, "stage_complete",
		slog.String("task_id", taskID),
		slog.String("stage", stageID),
		slog.Duration("duration", duration))
}

func (m *Manager) logStageError(ctx context.Context, taskID, stageID string, err error) {
	errorMsg := "unknown error"
	if err != nil {
		errorMsg = err.Error()
	}
	m.logger.ErrorContext(ctx, "stage_error",
		slog.String("task_id", taskID),
		slog.String("stage", stageID),
		slog.String("error_type", string(GetErrorType(err))),
		slog.String("error", errorMsg))
}

func (m *Manager) logStageProgress(ctx context.Context, taskID, stageID string, progress float64, message string) {
	m.logger.DebugContext(ctx, "stage_progress",
		slog.String("task_id", taskID),
		slog.String("stage", stageID),
		slog.Float64("progress", progress),
		slog.String("message", message))
}
