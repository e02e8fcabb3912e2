package cleaning

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"edustat/pkg/contracts/domain"
)

func TestResolveDimensions(t *testing.T) {
	dims := []domain.DimensionConfig{
		{Code: "reading", ItemIDs: []string{"q1", "q2"}},
		{Code: "writing", ItemIDs: []string{"q2", "q3"}},
		{Code: "empty", ItemIDs: []string{"q9"}},
	}
	scores := map[string]float64{"q1": 2, "q2": 3, "q3": 1}

	got := ResolveDimensions(scores, dims)

	assert.Equal(t, DimensionTotal{Score: 5, ItemCount: 2}, got["reading"])
	assert.Equal(t, DimensionTotal{Score: 4, ItemCount: 2}, got["writing"], "overlapping membership counts the shared item in both")
	assert.Equal(t, DimensionTotal{}, got["empty"])
}

func TestComputeDimensionMax(t *testing.T) {
	subject := domain.SubjectConfig{Items: []domain.ItemConfig{
		{ItemID: "q1", MaxScore: 2},
		{ItemID: "q2", MaxScore: 3},
		{ItemID: "q3", MaxScore: 5},
	}}
	dims := []domain.DimensionConfig{
		{Code: "a", ItemIDs: []string{"q1", "q2"}},
		{Code: "b", ItemIDs: []string{"q2", "q3"}},
	}

	got := ComputeDimensionMax(dims, subject)

	assert.Equal(t, map[string]float64{"a": 5, "b": 8}, got)
}
