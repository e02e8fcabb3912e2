package operations

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "edustat/internal/errors"
)

// MemoryTaskStore is an in-memory TaskStore
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*TaskSnapshot
}

// NewMemoryTaskStore creates a new in-memory task store
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[string]*TaskSnapshot),
	}
}

// SaveTask inserts or replaces a snapshot
func (s *MemoryTaskStore) SaveTask(ctx context.Context, snapshot *TaskSnapshot) error {
	if snapshot == nil || snapshot.TaskID == "" {
		return apperrors.NewDataValidationError("task snapshot without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[snapshot.TaskID] = snapshot.Clone()
	return nil
}

// GetTask retrieves a snapshot by id
func (s *MemoryTaskStore) GetTask(ctx context.Context, id string) (*TaskSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, exists := s.tasks[id]
	if !exists {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("task %s", id))
	}
	return snapshot.Clone(), nil
}

// ListTasks returns snapshots matching the filter, newest first
func (s *MemoryTaskStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*TaskSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*TaskSnapshot
	for _, snapshot := range s.tasks {
		if filter.Matches(snapshot) {
			result = append(result, snapshot.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// DeleteTask removes a snapshot
func (s *MemoryTaskStore) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[id]; !exists {
		return apperrors.NewNotFoundError(fmt.Sprintf("task %s", id))
	}
	delete(s.tasks, id)
	return nil
}

// CleanupOldTasks removes finished tasks completed before now-maxAge
func (s *MemoryTaskStore) CleanupOldTasks(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, snapshot := range s.tasks {
		if snapshot.Status.Terminal() && snapshot.CompletedAt != nil && snapshot.CompletedAt.Before(cutoff) {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed
}

// GetStats returns task counts by status
func (s *MemoryTaskStore) GetStats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]int{"total": len(s.tasks)}
	for _, snapshot := range s.tasks {
		stats[string(snapshot.Status)]++
	}
	return stats
}
