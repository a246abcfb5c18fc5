package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/gradeflow/internal/model"
)

const resultColumns = `r.id, r.submission_id, r.student_name, r.score, r.feedback, r.detailed_feedback,
	r.minor_areas, r.strengths, r.weaknesses, r.suggestions, r.graded_at, r.is_reviewed`

func scanResult(row rowScanner) (model.GradingResult, error) {
	var r model.GradingResult
	var minor, strengths, weaknesses, suggestions string
	err := row.Scan(&r.ID, &r.SubmissionID, &r.StudentName, &r.Score, &r.Feedback, &r.DetailedFeedback,
		&minor, &strengths, &weaknesses, &suggestions, &r.GradedAt, &r.IsReviewed)
	if err != nil {
		return r, err
	}
	for _, f := range []struct {
		raw string
		dst *[]string
	}{
		{minor, &r.MinorAreasForImprovement},
		{strengths, &r.Strengths},
		{weaknesses, &r.Weaknesses},
		{suggestions, &r.Suggestions},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return r, fmt.Errorf("decode result %s lists: %w", r.ID, err)
		}
		if *f.dst == nil {
			*f.dst = []string{}
		}
	}
	return r, nil
}

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	return string(data), err
}

// SaveResults stores grading results. A result replaces any earlier result of the
// same submission.
func (s *Store) SaveResults(ctx context.Context, results []model.GradingResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range results {
		if err := upsertResult(ctx, tx, r); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upsertResult(ctx context.Context, tx *sql.Tx, r model.GradingResult) error {
	lists := make([]any, 0, 4)
	for _, l := range [][]string{r.MinorAreasForImprovement, r.Strengths, r.Weaknesses, r.Suggestions} {
		enc, err := encodeList(l)
		if err != nil {
			return fmt.Errorf("encode result lists: %w", err)
		}
		lists = append(lists, enc)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM grading_results WHERE submission_id = ? AND id != ?`,
		r.SubmissionID, r.ID); err != nil {
		return fmt.Errorf("replace result: %w", err)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO grading_results (id, submission_id, student_name, score, feedback, detailed_feedback,
			minor_areas, strengths, weaknesses, suggestions, graded_at, is_reviewed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET score = excluded.score, feedback = excluded.feedback,
			detailed_feedback = excluded.detailed_feedback, minor_areas = excluded.minor_areas,
			strengths = excluded.strengths, weaknesses = excluded.weaknesses,
			suggestions = excluded.suggestions, graded_at = excluded.graded_at,
			is_reviewed = excluded.is_reviewed`,
		r.ID, r.SubmissionID, r.StudentName, model.ClampScore(r.Score), r.Feedback, r.DetailedFeedback,
		lists[0], lists[1], lists[2], lists[3], r.GradedAt, r.IsReviewed,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// GetResult returns a grading result by ID.
func (s *Store) GetResult(ctx context.Context, id string) (model.GradingResult, error) {
	r, err := scanResult(s.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM grading_results r WHERE r.id = ?`, id))
	if err != nil {
		return model.GradingResult{}, notFound(err, "result", id)
	}
	return r, nil
}

// ListResults returns the results of an assessment's submissions in grading order.
func (s *Store) ListResults(ctx context.Context, assessmentID string) ([]model.GradingResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM grading_results r
		 JOIN submissions s ON s.id = r.submission_id
		 WHERE s.assessment_id = ?
		 ORDER BY r.graded_at, r.rowid`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []model.GradingResult{}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// UpdateResult applies a manual edit to a result and marks it reviewed.
func (s *Store) UpdateResult(ctx context.Context, id string, u model.ResultUpdate) (model.GradingResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.GradingResult{}, err
	}
	defer tx.Rollback()

	r, err := scanResult(tx.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM grading_results r WHERE r.id = ?`, id))
	if err != nil {
		return model.GradingResult{}, notFound(err, "result", id)
	}
	u.Apply(&r)
	if err := upsertResult(ctx, tx, r); err != nil {
		return model.GradingResult{}, err
	}
	return r, tx.Commit()
}

// DeleteResults removes results by ID and resets their submissions to unsubmitted.
// Unknown IDs are ignored.
func (s *Store) DeleteResults(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	where, args := inClause("id", ids)
	if _, err := tx.ExecContext(ctx,
		`UPDATE submissions SET status = ? WHERE id IN (SELECT submission_id FROM grading_results WHERE `+where+`)`,
		append([]any{model.StatusUnsubmitted}, args...)...); err != nil {
		return fmt.Errorf("reset submissions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM grading_results WHERE `+where, args...); err != nil {
		return fmt.Errorf("delete results: %w", err)
	}
	return tx.Commit()
}

// DeleteAllResults removes every result of an assessment and resets its submissions to unsubmitted.
func (s *Store) DeleteAllResults(ctx context.Context, assessmentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM grading_results WHERE submission_id IN (SELECT id FROM submissions WHERE assessment_id = ?)`,
		assessmentID); err != nil {
		return fmt.Errorf("delete results: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE submissions SET status = ? WHERE assessment_id = ?`, model.StatusUnsubmitted, assessmentID); err != nil {
		return fmt.Errorf("reset submissions: %w", err)
	}
	return tx.Commit()
}
