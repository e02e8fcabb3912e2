package cleaning

import "edustat/pkg/contracts/domain"

// DimensionTotal is a student's raw sum over a dimension's member items
type DimensionTotal struct {
	Score     float64
	ItemCount int
}

// ResolveDimensions sums each dimension's member items present in itemScores.
// Missing items contribute nothing and are not counted. No range validation is done.
func ResolveDimensions(itemScores map[string]float64, dims []domain.DimensionConfig) map[string]DimensionTotal {
	out := make(map[string]DimensionTotal, len(dims))
	for _, dim := range dims {
		var total DimensionTotal
		for _, itemID := range dim.ItemIDs {
			if score, ok := itemScores[itemID]; ok {
				total.Score += score
				total.ItemCount++
			}
		}
		out[dim.Code] = total
	}
	return out
}

// ComputeDimensionMax sums the configured maxima of each dimension's member items.
// It depends only on configuration and is computed once per subject.
func ComputeDimensionMax(dims []domain.DimensionConfig, subject domain.SubjectConfig) map[string]float64 {
	maxima := subject.ItemMaxScores()
	out := make(map[string]float64, len(dims))
	for _, dim := range dims {
		var sum float64
		for _, itemID := range dim.ItemIDs {
			sum += maxima[itemID]
		}
		out[dim.Code] = sum
	}
	return out
}

// dimensionScores combines per-student totals with the precomputed maxima
func dimensionScores(itemScores map[string]float64, dims []domain.DimensionConfig, maxima map[string]float64) map[string]domain.DimensionScore {
	out := make(map[string]domain.DimensionScore, len(dims))
	for code, total := range ResolveDimensions(itemScores, dims) {
		out[code] = domain.DimensionScore{
			Score:     total.Score,
			MaxScore:  maxima[code],
			ItemCount: total.ItemCount,
		}
	}
	return out
}
