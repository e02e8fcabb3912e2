package operations_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"edustat/internal/operations"
)

func TestOverallProgress(t *testing.T) {
	stage := func(status operations.StageStatus, progress float64) operations.StageSnapshot {
		return operations.StageSnapshot{Status: status, Progress: progress}
	}

	tests := []struct {
		name   string
		stages []operations.StageSnapshot
		want   float64
	}{
		{name: "no stages", want: 0},
		{
			name:   "first of three done",
			stages: []operations.StageSnapshot{stage(operations.StageStatusCompleted, 100), stage(operations.StageStatusPending, 0), stage(operations.StageStatusPending, 0)},
			want:   100.0 / 3,
		},
		{
			name:   "second stage halfway",
			stages: []operations.StageSnapshot{stage(operations.StageStatusCompleted, 100), stage(operations.StageStatusActive, 50), stage(operations.StageStatusPending, 0)},
			want:   50,
		},
		{
			name:   "completed counts as full even with stale progress",
			stages: []operations.StageSnapshot{stage(operations.StageStatusCompleted, 80), stage(operations.StageStatusCompleted, 100)},
			want:   100,
		},
		{
			name:   "skipped adds nothing",
			stages: []operations.StageSnapshot{stage(operations.StageStatusFailed, 30), stage(operations.StageStatusSkipped, 0), stage(operations.StageStatusSkipped, 0)},
			want:   10,
		},
		{
			name:   "out of range values are clamped",
			stages: []operations.StageSnapshot{stage(operations.StageStatusActive, 250), stage(operations.StageStatusActive, -5)},
			want:   50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, operations.OverallProgress(tt.stages), 1e-9)
		})
	}
}

func TestStageState_UpdateProgress(t *testing.T) {
	st := operations.NewStageState("cleaning", "Record Cleaning")
	st.Start()

	assert.Equal(t, 40.0, st.UpdateProgress(40, "two of five"))
	// never moves backwards
	assert.Equal(t, 40.0, st.UpdateProgress(20, "stale"))
	assert.Equal(t, 100.0, st.UpdateProgress(140, "overshoot"))
	assert.Equal(t, 100.0, st.UpdateProgress(math.NaN(), ""))
	assert.Equal(t, "overshoot", st.Message)

	st.Complete()
	assert.Equal(t, operations.StageStatusCompleted, st.GetStatus())
	assert.GreaterOrEqual(t, st.Duration().Nanoseconds(), int64(0))
}

func TestProgressTracker_Observe(t *testing.T) {
	st := operations.NewStageState("result_aggregation", "Result Aggregation")
	st.Start()

	var progress []float64
	var messages []string
	tracker := operations.NewProgressTracker(st, func(p float64, msg string) {
		progress = append(progress, p)
		messages = append(messages, msg)
	}, 20, 100)

	tracker.Observe(0, 0, "schools")
	assert.Empty(t, progress, "nothing to report without a total")

	tracker.Observe(2, 4, "schools")
	tracker.Observe(4, 4, "schools")

	assert.Equal(t, []float64{60, 100}, progress)
	assert.Equal(t, []string{"schools (2/4)", "schools (4/4)"}, messages)

	assert.Equal(t, 4, st.Metadata[operations.MetadataItemsDone])
	assert.Equal(t, 4, st.Metadata[operations.MetadataItemsTotal])
	assert.Equal(t, 0.0, st.Metadata[operations.MetadataETASeconds])
}

func TestProgressTracker_WithoutStage(t *testing.T) {
	var last float64
	tracker := operations.NewProgressTracker(nil, func(p float64, _ string) { last = p }, 0, 100)
	tracker.Observe(1, 3, "cleaned math")
	assert.InDelta(t, 100.0/3, last, 1e-9)
}
