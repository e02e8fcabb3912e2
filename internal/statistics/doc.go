// Package statistics provides the calculation strategies behind subject and
// dimension statistics and the Engine that runs them.
//
// Strategies are stateless values registered into an Engine by name:
//
//	basic_statistics       count, sum, mean, median, sample std-dev, min, max, shape
//	percentiles            P10..P90 by nearest rank (default) or linear/lower/higher/midpoint
//	difficulty             mean / max, bucketed easy/medium/hard
//	discrimination         top vs bottom 27% group means over max
//	grade_bands            elementary (excellent/good/pass/fail) or middle (A/B/C/D) bands
//	dimension_aggregation  per-dimension summaries, Pearson matrix, weighted score rate
//
// Columns above the engine's chunk threshold are split into contiguous chunks for
// strategies that implement ChunkStrategy. Counts and sums merge additively; every
// other figure is recomputed from the full column. Percentiles and discrimination
// always run over the whole column.
package statistics
