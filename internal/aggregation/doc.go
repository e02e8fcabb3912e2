// Package aggregation assembles nested subject statistics for a batch, once for
// the whole region and once per school, and hands them to a ResultSink.
//
// Every subject runs basic statistics, percentiles, grade bands, difficulty and
// discrimination; subjects with dimension configs repeat the sequence per
// dimension against the dimension's own maximum. A subject or dimension that
// fails yields a zero-valued entry carrying the error instead of aborting the batch.
package aggregation
