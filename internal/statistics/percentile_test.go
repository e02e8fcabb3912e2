package statistics

import (
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	tests := []struct {
		name   string
		p      float64
		method PercentileMethod
		want   float64
	}{
		{"nearest P10", 10, MethodNearest, 2},
		{"nearest P50", 50, MethodNearest, 6},
		{"nearest P90", 90, MethodNearest, 10},
		{"nearest P0", 0, MethodNearest, 1},
		{"nearest P100 clamps", 100, MethodNearest, 10},
		{"empty method is nearest", 25, "", 3},
		{"linear P50", 50, MethodLinear, 5.5},
		{"linear P25", 25, MethodLinear, 3.25},
		{"linear P100", 100, MethodLinear, 10},
		{"lower P50", 50, MethodLower, 5},
		{"higher P50", 50, MethodHigher, 6},
		{"midpoint P50", 50, MethodMidpoint, 5.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Percentile(sorted, tt.p, tt.method), 1e-12)
		})
	}

	assert.Zero(t, Percentile(nil, 50, MethodNearest))
}

func TestPercentile_Monotonic(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	methods := []PercentileMethod{MethodNearest, MethodLinear, MethodLower, MethodHigher, MethodMidpoint}

	for trial := 0; trial < 50; trial++ {
		n := 1 + r.IntN(200)
		scores := make([]float64, n)
		for i := range scores {
			scores[i] = float64(r.IntN(101))
		}
		sort.Float64s(scores)

		for _, m := range methods {
			prev := Percentile(scores, 0, m)
			for p := 1.0; p <= 100; p++ {
				cur := Percentile(scores, p, m)
				require.GreaterOrEqual(t, cur, prev, "method %s n=%d p=%v", m, n, p)
				prev = cur
			}
		}
	}
}

func TestPercentiles_Calculate(t *testing.T) {
	scores := make([]float64, 100)
	for i := range scores {
		scores[100-1-i] = float64(i + 1)
	}

	v, err := Percentiles{}.Calculate(Dataset{Scores: scores}, DefaultConfig())
	require.NoError(t, err)
	res := v.(PercentileResult)

	assert.Equal(t, MethodNearest, res.Method)
	assert.Equal(t, 11.0, res.Set.P10)
	assert.Equal(t, 51.0, res.Set.P50)
	assert.Equal(t, 91.0, res.Set.P90)
	assert.Equal(t, res.Set.P10, res.Values["P10"])
	assert.Equal(t, res.Set.P75-res.Set.P25, res.IQR)
	assert.Equal(t, res.Set.P50, res.Q2)

	assert.Equal(t, 2.0, res.Outliers.LowerBound)
	assert.Equal(t, 100.0, res.Outliers.UpperBound)
	assert.Equal(t, 1, res.Outliers.Count)
	assert.InDelta(t, 0.01, res.Outliers.Ratio, 1e-12)
}

func TestPercentiles_ValidateInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Method = "spline"
	assert.False(t, Percentiles{}.ValidateInput(Dataset{Scores: []float64{1}}, cfg).Valid)

	cfg = DefaultConfig()
	cfg.Percentiles = []float64{120}
	assert.False(t, Percentiles{}.ValidateInput(Dataset{Scores: []float64{1}}, cfg).Valid)
}

func TestPercentileKey(t *testing.T) {
	assert.Equal(t, "P10", PercentileKey(10))
	assert.Equal(t, "P2.5", PercentileKey(2.5))
}
