package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "edustat/internal/errors"
	"edustat/pkg/contracts/domain"
)

// ReplaceStatistics drops every row of (batch, level, school) and stores stats in
// their place. Region rows always carry an empty school id.
func (s *Store) ReplaceStatistics(ctx context.Context, batchCode string, level domain.AggregationLevel, schoolID string, stats []domain.StatisticsRecord) error {
	if level == domain.LevelRegion {
		schoolID = ""
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin statistics replace", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM statistics_results WHERE batch_code = ? AND aggregation_level = ? AND school_id = ?`,
		batchCode, string(level), schoolID); err != nil {
		return storageErr("clear statistics", err)
	}

	for _, rec := range stats {
		data, err := json.Marshal(rec.Statistics)
		if err != nil {
			return apperrors.NewComputationError(fmt.Sprintf("encode statistics of %s", rec.Statistics.SubjectName), err)
		}
		calculated := rec.CalculatedAt
		if calculated.IsZero() {
			calculated = time.Now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO statistics_results (batch_code, aggregation_level, school_id, school_name, subject_name, statistics, calculated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (batch_code, aggregation_level, school_id, subject_name)
			 DO UPDATE SET school_name = excluded.school_name, statistics = excluded.statistics, calculated_at = excluded.calculated_at`,
			batchCode, string(level), schoolID, rec.SchoolName, rec.Statistics.SubjectName, string(data), formatTime(calculated)); err != nil {
			return storageErr("insert statistics", err)
		}
	}
	return storageErr("commit statistics", tx.Commit())
}

// LoadStatistics returns the statistics rows of one (batch, level, school), ordered by subject
func (s *Store) LoadStatistics(ctx context.Context, batchCode string, level domain.AggregationLevel, schoolID string) ([]domain.StatisticsRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT school_name, statistics, calculated_at FROM statistics_results
		 WHERE batch_code = ? AND aggregation_level = ? AND school_id = ? ORDER BY subject_name`,
		batchCode, string(level), schoolID)
	if err != nil {
		return nil, storageErr("load statistics", err)
	}
	defer rows.Close()

	var out []domain.StatisticsRecord
	for rows.Next() {
		rec := domain.StatisticsRecord{BatchCode: batchCode, Level: level, SchoolID: schoolID}
		var data, calculated string
		if err := rows.Scan(&rec.SchoolName, &data, &calculated); err != nil {
			return nil, storageErr("scan statistics", err)
		}
		if err := json.Unmarshal([]byte(data), &rec.Statistics); err != nil {
			return nil, apperrors.NewStorageError("decode statistics", err)
		}
		if rec.CalculatedAt, err = parseTime(calculated); err != nil {
			return nil, apperrors.NewStorageError("decode calculated_at", err)
		}
		out = append(out, rec)
	}
	return out, storageErr("load statistics", rows.Err())
}
