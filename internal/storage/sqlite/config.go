package sqlite

import (
	"context"
	"encoding/json"

	apperrors "edustat/internal/errors"
	"edustat/pkg/contracts/domain"
)

// UpsertSubjectConfigs stores subject configs keyed by (batch, subject)
func (s *Store) UpsertSubjectConfigs(ctx context.Context, configs []domain.SubjectConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin subject config upsert", err)
	}
	defer tx.Rollback()

	for _, cfg := range configs {
		data, err := json.Marshal(cfg)
		if err != nil {
			return apperrors.NewDataValidationError("encode subject config " + cfg.SubjectName + ": " + err.Error())
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subject_configs (batch_code, subject_name, config) VALUES (?, ?, ?)
			 ON CONFLICT (batch_code, subject_name) DO UPDATE SET config = excluded.config`,
			cfg.BatchCode, cfg.SubjectName, string(data)); err != nil {
			return storageErr("upsert subject config", err)
		}
	}
	return storageErr("commit subject configs", tx.Commit())
}

// UpsertDimensionConfigs stores dimension configs keyed by (batch, subject, code)
func (s *Store) UpsertDimensionConfigs(ctx context.Context, dims []domain.DimensionConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin dimension config upsert", err)
	}
	defer tx.Rollback()

	for _, dim := range dims {
		data, err := json.Marshal(dim)
		if err != nil {
			return apperrors.NewDataValidationError("encode dimension config " + dim.Code + ": " + err.Error())
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dimension_configs (batch_code, subject_name, dimension_code, config) VALUES (?, ?, ?, ?)
			 ON CONFLICT (batch_code, subject_name, dimension_code) DO UPDATE SET config = excluded.config`,
			dim.BatchCode, dim.SubjectName, dim.Code, string(data)); err != nil {
			return storageErr("upsert dimension config", err)
		}
	}
	return storageErr("commit dimension configs", tx.Commit())
}

// ListSubjectConfigs returns the batch's subject configs ordered by name
func (s *Store) ListSubjectConfigs(ctx context.Context, batchCode string) ([]domain.SubjectConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT config FROM subject_configs WHERE batch_code = ? ORDER BY subject_name`, batchCode)
	if err != nil {
		return nil, storageErr("list subject configs", err)
	}
	defer rows.Close()

	var out []domain.SubjectConfig
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, storageErr("scan subject config", err)
		}
		var cfg domain.SubjectConfig
		if err := json.Unmarshal([]byte(data), &cfg); err != nil {
			return nil, apperrors.NewConfigError("decode subject config", err)
		}
		out = append(out, cfg)
	}
	return out, storageErr("list subject configs", rows.Err())
}

// ListDimensionConfigs returns the batch's dimension configs ordered by (subject, code)
func (s *Store) ListDimensionConfigs(ctx context.Context, batchCode string) ([]domain.DimensionConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT config FROM dimension_configs WHERE batch_code = ? ORDER BY subject_name, dimension_code`, batchCode)
	if err != nil {
		return nil, storageErr("list dimension configs", err)
	}
	defer rows.Close()

	var out []domain.DimensionConfig
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, storageErr("scan dimension config", err)
		}
		var dim domain.DimensionConfig
		if err := json.Unmarshal([]byte(data), &dim); err != nil {
			return nil, apperrors.NewConfigError("decode dimension config", err)
		}
		out = append(out, dim)
	}
	return out, storageErr("list dimension configs", rows.Err())
}

// ReplaceRawResponses replaces the raw responses of one (batch, subject)
func (s *Store) ReplaceRawResponses(ctx context.Context, batchCode, subjectName string, responses []domain.RawItemResponse) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin raw response import", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM raw_responses WHERE batch_code = ? AND subject_name = ?`, batchCode, subjectName); err != nil {
		return storageErr("clear raw responses", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO raw_responses (batch_code, subject_name, student_id, student_name, school_id, school_code, school_name, class_name, scores)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return storageErr("prepare raw response insert", err)
	}
	defer stmt.Close()

	for _, r := range responses {
		scores, err := json.Marshal(r.Scores)
		if err != nil {
			return apperrors.NewDataValidationError("encode scores of student " + r.StudentID + ": " + err.Error())
		}
		if _, err := stmt.ExecContext(ctx, batchCode, subjectName, r.StudentID, r.StudentName,
			r.SchoolID, r.SchoolCode, r.SchoolName, r.ClassName, string(scores)); err != nil {
			return storageErr("insert raw response", err)
		}
	}
	return storageErr("commit raw responses", tx.Commit())
}

// LoadRawResponses returns raw responses of one subject in import order
func (s *Store) LoadRawResponses(ctx context.Context, batchCode, subjectName string) ([]domain.RawItemResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id, student_name, school_id, school_code, school_name, class_name, scores
		 FROM raw_responses WHERE batch_code = ? AND subject_name = ? ORDER BY id`, batchCode, subjectName)
	if err != nil {
		return nil, storageErr("load raw responses", err)
	}
	defer rows.Close()

	var out []domain.RawItemResponse
	for rows.Next() {
		r := domain.RawItemResponse{BatchCode: batchCode, SubjectName: subjectName}
		var scores string
		if err := rows.Scan(&r.StudentID, &r.StudentName, &r.SchoolID, &r.SchoolCode, &r.SchoolName, &r.ClassName, &scores); err != nil {
			return nil, storageErr("scan raw response", err)
		}
		if err := json.Unmarshal([]byte(scores), &r.Scores); err != nil {
			return nil, apperrors.NewDataValidationError("decode scores of student " + r.StudentID + ": " + err.Error())
		}
		out = append(out, r)
	}
	return out, storageErr("load raw responses", rows.Err())
}
