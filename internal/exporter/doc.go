// Package exporter writes persisted statistics as CSV or XLSX.
//
// StatisticsTable and DimensionTable flatten StatisticsRecord rows into a
// header plus string rows. CSVWriter writes one table, optionally with a UTF-8
// BOM so Excel detects the encoding; WriteWorkbook writes several tables as
// sheets of one workbook. Exporter ties both to the store: it loads the region
// rows and every school's rows of a batch and writes them in the requested
// format.
//
// Example usage:
//
//	exp := exporter.NewExporter(store, logger)
//	err := exp.ExportBatch(ctx, "G4-2026", exporter.FormatXLSX, w)
package exporter
