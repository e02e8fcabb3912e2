package operations_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edustat/internal/operations"
	"edustat/internal/operations/testutil"
)

func TestRegistry_Empty(t *testing.T) {
	registry := operations.NewRegistry()

	assert.Equal(t, 0, registry.Count())
	// List returns an empty slice, not nil
	assert.NotNil(t, registry.List())
	assert.Empty(t, registry.List())
}

func TestRegistry_RegisterKeepsOrder(t *testing.T) {
	registry := operations.NewRegistry()
	stages := []*testutil.MockStage{
		testutil.CreateSuccessfulStage("data_loading", "Data Loading"),
		testutil.CreateSuccessfulStage("statistical_calculation", "Statistical Calculation"),
		testutil.CreateSuccessfulStage("result_aggregation", "Result Aggregation"),
	}
	for _, s := range stages {
		require.NoError(t, registry.Register(s))
	}

	assert.Equal(t, 3, registry.Count())
	listed := registry.List()
	require.Len(t, listed, 3)
	for i, s := range stages {
		assert.Same(t, s, listed[i])
	}
}

func TestRegistry_RegisterErrors(t *testing.T) {
	registry := operations.NewRegistry()

	tests := []struct {
		name    string
		stage   operations.Stage
		wantErr string
	}{
		{name: "nil stage", stage: nil, wantErr: "nil stage"},
		{name: "empty id", stage: &testutil.MockStage{NameValue: "no id"}, wantErr: "ID cannot be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorContains(t, registry.Register(tt.stage), tt.wantErr)
		})
	}

	dup := testutil.CreateSuccessfulStage("dup", "Duplicate")
	require.NoError(t, registry.Register(dup))
	assert.ErrorContains(t, registry.Register(dup), "already registered")
}

func TestRegistry_ConcurrentRegister(t *testing.T) {
	registry := operations.NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = registry.Register(testutil.CreateSuccessfulStage(fmt.Sprintf("s%02d", i), "stage"))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, registry.Count())
}
