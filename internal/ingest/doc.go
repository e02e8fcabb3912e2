// Package ingest loads batch inputs into the source store: subject and dimension
// configuration from YAML, and raw per-question responses from XLSX workbooks.
//
// A response workbook may hold any number of sheets. On each sheet the first row
// that names both student_id and subject_name is the header; metadata columns are
// recognised by name and every other non-empty header is an item id. Cells are
// sparse: an empty item cell means the student did not answer that item.
package ingest
