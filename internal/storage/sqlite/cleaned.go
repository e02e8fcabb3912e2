package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"edustat/internal/cleaning"
	apperrors "edustat/internal/errors"
	"edustat/pkg/contracts/domain"
)

// BeginReplace opens a transaction that has already deleted the batch's
// cleaned records, questionnaire items and option counts
func (s *Store) BeginReplace(ctx context.Context, batchCode string) (cleaning.BatchWriter, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin cleaned replace", err)
	}
	for _, table := range []string{"cleaned_records", "questionnaire_items", "option_distribution"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE batch_code = ?", batchCode); err != nil {
			tx.Rollback()
			return nil, storageErr("clear "+table, err)
		}
	}
	return &batchWriter{tx: tx, batchCode: batchCode}, nil
}

type batchWriter struct {
	tx        *sql.Tx
	batchCode string
}

// WriteSubject writes one subject under a savepoint so a failed subject leaves no rows behind
func (w *batchWriter) WriteSubject(ctx context.Context, out cleaning.SubjectOutput) error {
	if _, err := w.tx.ExecContext(ctx, "SAVEPOINT subject"); err != nil {
		return storageErr("savepoint "+out.SubjectName, err)
	}
	if err := w.writeSubject(ctx, out); err != nil {
		for _, stmt := range []string{"ROLLBACK TO subject", "RELEASE subject"} {
			if _, rbErr := w.tx.ExecContext(context.Background(), stmt); rbErr != nil {
				return storageErr("rollback subject "+out.SubjectName, rbErr)
			}
		}
		return err
	}
	_, err := w.tx.ExecContext(ctx, "RELEASE subject")
	return storageErr("release "+out.SubjectName, err)
}

func (w *batchWriter) writeSubject(ctx context.Context, out cleaning.SubjectOutput) error {
	recStmt, err := w.tx.PrepareContext(ctx,
		`INSERT INTO cleaned_records (batch_code, subject_name, student_id, student_name, school_id, school_code,
			school_name, class_name, subject_kind, total_score, max_score, question_count, dimension_scores, is_valid)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return storageErr("prepare cleaned insert", err)
	}
	defer recStmt.Close()

	for _, rec := range out.Records {
		dims, err := json.Marshal(rec.DimensionScores)
		if err != nil {
			return apperrors.NewDataValidationError(fmt.Sprintf("encode dimension scores of student %s: %v", rec.StudentID, err))
		}
		if _, err := recStmt.ExecContext(ctx, w.batchCode, rec.SubjectName, rec.StudentID, rec.StudentName,
			rec.SchoolID, rec.SchoolCode, rec.SchoolName, rec.ClassName, string(rec.Kind),
			rec.TotalScore, rec.MaxScore, rec.QuestionCount, string(dims), boolInt(rec.IsValid)); err != nil {
			return storageErr("insert cleaned record", err)
		}
	}

	if len(out.Items) > 0 {
		itemStmt, err := w.tx.PrepareContext(ctx,
			`INSERT INTO questionnaire_items (batch_code, subject_name, student_id, school_id, item_id,
				raw_score, item_max_score, scale_level, option_level, is_reverse)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return storageErr("prepare item insert", err)
		}
		defer itemStmt.Close()
		for _, it := range out.Items {
			if _, err := itemStmt.ExecContext(ctx, w.batchCode, it.SubjectName, it.StudentID, it.SchoolID, it.ItemID,
				it.RawScore, it.ItemMaxScore, it.ScaleLevel, it.OptionLevel, boolInt(it.IsReverse)); err != nil {
				return storageErr("insert questionnaire item", err)
			}
		}
	}

	for _, d := range out.Distribution {
		if _, err := w.tx.ExecContext(ctx,
			`INSERT INTO option_distribution (batch_code, subject_name, item_id, option_level, count) VALUES (?, ?, ?, ?, ?)`,
			w.batchCode, d.SubjectName, d.ItemID, d.OptionLevel, d.Count); err != nil {
			return storageErr("insert option distribution", err)
		}
	}
	return nil
}

func (w *batchWriter) Commit() error {
	return storageErr("commit cleaned replace", w.tx.Commit())
}

func (w *batchWriter) Rollback() error {
	err := w.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return storageErr("rollback cleaned replace", err)
}

// LoadCleanedRecords returns cleaned records ordered by (subject, student)
func (s *Store) LoadCleanedRecords(ctx context.Context, filter domain.CleanedFilter) ([]domain.CleanedRecord, error) {
	where := []string{"batch_code = ?"}
	args := []any{filter.BatchCode}
	if filter.SubjectName != "" {
		where = append(where, "subject_name = ?")
		args = append(args, filter.SubjectName)
	}
	if filter.SchoolID != "" {
		where = append(where, "school_id = ?")
		args = append(args, filter.SchoolID)
	}
	if !filter.IncludeInvalid {
		where = append(where, "is_valid = 1")
	}

	query := `SELECT subject_name, student_id, student_name, school_id, school_code, school_name, class_name,
			subject_kind, total_score, max_score, question_count, dimension_scores, is_valid
		FROM cleaned_records WHERE ` + strings.Join(where, " AND ") + ` ORDER BY subject_name, student_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("load cleaned records", err)
	}
	defer rows.Close()

	var out []domain.CleanedRecord
	for rows.Next() {
		rec := domain.CleanedRecord{BatchCode: filter.BatchCode}
		var kind, dims string
		var valid int
		if err := rows.Scan(&rec.SubjectName, &rec.StudentID, &rec.StudentName, &rec.SchoolID, &rec.SchoolCode,
			&rec.SchoolName, &rec.ClassName, &kind, &rec.TotalScore, &rec.MaxScore, &rec.QuestionCount,
			&dims, &valid); err != nil {
			return nil, storageErr("scan cleaned record", err)
		}
		rec.Kind = domain.SubjectKind(kind)
		rec.IsValid = valid == 1
		if err := json.Unmarshal([]byte(dims), &rec.DimensionScores); err != nil {
			return nil, apperrors.NewDataValidationError(fmt.Sprintf("decode dimension scores of student %s: %v", rec.StudentID, err))
		}
		out = append(out, rec)
	}
	return out, storageErr("load cleaned records", rows.Err())
}

// LoadQuestionnaireItems returns one subject's per-item questionnaire rows
func (s *Store) LoadQuestionnaireItems(ctx context.Context, batchCode, subjectName string) ([]domain.QuestionnaireItemRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id, school_id, item_id, raw_score, item_max_score, scale_level, option_level, is_reverse
		 FROM questionnaire_items WHERE batch_code = ? AND subject_name = ? ORDER BY student_id, item_id`,
		batchCode, subjectName)
	if err != nil {
		return nil, storageErr("load questionnaire items", err)
	}
	defer rows.Close()

	var out []domain.QuestionnaireItemRecord
	for rows.Next() {
		it := domain.QuestionnaireItemRecord{BatchCode: batchCode, SubjectName: subjectName}
		var reverse int
		if err := rows.Scan(&it.StudentID, &it.SchoolID, &it.ItemID, &it.RawScore, &it.ItemMaxScore,
			&it.ScaleLevel, &it.OptionLevel, &reverse); err != nil {
			return nil, storageErr("scan questionnaire item", err)
		}
		it.IsReverse = reverse == 1
		out = append(out, it)
	}
	return out, storageErr("load questionnaire items", rows.Err())
}

// LoadOptionDistribution returns one subject's option counts
func (s *Store) LoadOptionDistribution(ctx context.Context, batchCode, subjectName string) ([]domain.OptionDistribution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, option_level, count FROM option_distribution
		 WHERE batch_code = ? AND subject_name = ? ORDER BY item_id, option_level`, batchCode, subjectName)
	if err != nil {
		return nil, storageErr("load option distribution", err)
	}
	defer rows.Close()

	var out []domain.OptionDistribution
	for rows.Next() {
		d := domain.OptionDistribution{BatchCode: batchCode, SubjectName: subjectName}
		if err := rows.Scan(&d.ItemID, &d.OptionLevel, &d.Count); err != nil {
			return nil, storageErr("scan option distribution", err)
		}
		out = append(out, d)
	}
	return out, storageErr("load option distribution", rows.Err())
}

// ListSchools returns the distinct schools with valid cleaned records, ordered by id
func (s *Store) ListSchools(ctx context.Context, batchCode string) ([]domain.School, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT school_id, MIN(school_code), MIN(school_name) FROM cleaned_records
		 WHERE batch_code = ? AND is_valid = 1 AND school_id != ''
		 GROUP BY school_id ORDER BY school_id`, batchCode)
	if err != nil {
		return nil, storageErr("list schools", err)
	}
	defer rows.Close()

	var out []domain.School
	for rows.Next() {
		var school domain.School
		if err := rows.Scan(&school.SchoolID, &school.SchoolCode, &school.SchoolName); err != nil {
			return nil, storageErr("scan school", err)
		}
		out = append(out, school)
	}
	return out, storageErr("list schools", rows.Err())
}
