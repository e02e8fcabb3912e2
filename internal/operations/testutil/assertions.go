package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edustat/internal/operations"
)

// StageByID returns a stage snapshot or fails the test
func StageByID(t *testing.T, snap *operations.TaskSnapshot, stageID string) operations.StageSnapshot {
	t.Helper()
	require.NotNil(t, snap)
	for _, st := range snap.Stages {
		if st.ID == stageID {
			return st
		}
	}
	t.Fatalf("stage %s not found in task %s", stageID, snap.TaskID)
	return operations.StageSnapshot{}
}

// AssertStageStatus verifies a stage snapshot has the expected status
func AssertStageStatus(t *testing.T, snap *operations.TaskSnapshot, stageID string, expected operations.StageStatus) {
	t.Helper()
	assert.Equal(t, expected, StageByID(t, snap, stageID).Status, "stage %s", stageID)
}

// AssertStageStatuses verifies every stage in order
func AssertStageStatuses(t *testing.T, snap *operations.TaskSnapshot, expected ...operations.StageStatus) {
	t.Helper()
	require.Len(t, snap.Stages, len(expected))
	for i, st := range snap.Stages {
		assert.Equal(t, expected[i], st.Status, "stage %s", st.ID)
	}
}

// AssertTaskStatus verifies a snapshot's status
func AssertTaskStatus(t *testing.T, snap *operations.TaskSnapshot, expected operations.TaskStatus) {
	t.Helper()
	require.NotNil(t, snap)
	assert.Equal(t, expected, snap.Status, "task %s error=%q", snap.TaskID, snap.Error)
}

// WaitForStatus polls the manager until the task reaches status
func WaitForStatus(t *testing.T, m *operations.Manager, taskID string, status operations.TaskStatus) *operations.TaskSnapshot {
	t.Helper()
	var snap *operations.TaskSnapshot
	require.Eventually(t, func() bool {
		s, ok := m.GetBroadcaster().GetSnapshot(taskID)
		if ok {
			snap = s
		}
		return ok && s.Status == status
	}, 5*time.Second, 5*time.Millisecond, "task %s never reached %s", taskID, status)
	return snap
}
