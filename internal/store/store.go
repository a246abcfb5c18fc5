package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/gradeflow/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS assessments (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		marking_criteria TEXT NOT NULL DEFAULT '',
		instructions TEXT NOT NULL DEFAULT '',
		marking_criteria_file TEXT NOT NULL DEFAULT '',
		instructions_file TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		assessment_id TEXT NOT NULL,
		student_name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'unsubmitted',
		uploaded_at DATETIME NOT NULL,
		FOREIGN KEY (assessment_id) REFERENCES assessments(id)
	);

	CREATE TABLE IF NOT EXISTS submission_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		file_type TEXT NOT NULL,
		path TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		loaded INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (submission_id) REFERENCES submissions(id)
	);

	CREATE TABLE IF NOT EXISTS grading_results (
		id TEXT PRIMARY KEY,
		submission_id TEXT NOT NULL UNIQUE,
		student_name TEXT NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		feedback TEXT NOT NULL DEFAULT '',
		detailed_feedback TEXT NOT NULL DEFAULT '',
		minor_areas TEXT NOT NULL DEFAULT '[]',
		strengths TEXT NOT NULL DEFAULT '[]',
		weaknesses TEXT NOT NULL DEFAULT '[]',
		suggestions TEXT NOT NULL DEFAULT '[]',
		graded_at DATETIME NOT NULL,
		is_reviewed INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (submission_id) REFERENCES submissions(id)
	);

	CREATE TABLE IF NOT EXISTS app_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_assessment ON submissions(assessment_id);
	CREATE INDEX IF NOT EXISTS idx_files_submission ON submission_files(submission_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// notFound maps sql.ErrNoRows to ErrNotFound.
func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return err
}

const assessmentColumns = `id, title, description, marking_criteria, instructions,
	marking_criteria_file, instructions_file, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (model.Assessment, error) {
	var a model.Assessment
	err := row.Scan(&a.ID, &a.Title, &a.Description, &a.MarkingCriteria, &a.Instructions,
		&a.MarkingCriteriaFile, &a.InstructionsFile, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// CreateAssessment stores a new assessment with a generated ID.
func (s *Store) CreateAssessment(ctx context.Context, in model.AssessmentInput) (model.Assessment, error) {
	now := time.Now()
	a := model.Assessment{
		ID:              uuid.NewString(),
		Title:           in.Title,
		Description:     in.Description,
		MarkingCriteria: in.MarkingCriteria,
		Instructions:    in.Instructions,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assessments (`+assessmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Title, a.Description, a.MarkingCriteria, a.Instructions,
		a.MarkingCriteriaFile, a.InstructionsFile, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return model.Assessment{}, fmt.Errorf("insert assessment: %w", err)
	}
	return a, nil
}

// GetAssessment returns an assessment by ID.
func (s *Store) GetAssessment(ctx context.Context, id string) (model.Assessment, error) {
	a, err := scanAssessment(s.db.QueryRowContext(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE id = ?`, id))
	if err != nil {
		return model.Assessment{}, notFound(err, "assessment", id)
	}
	return a, nil
}

// ListAssessments returns all assessments, newest first.
func (s *Store) ListAssessments(ctx context.Context) ([]model.Assessment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assessmentColumns+` FROM assessments ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	assessments := []model.Assessment{}
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, a)
	}
	return assessments, rows.Err()
}

// UpdateAssessment replaces the editable fields of an assessment.
func (s *Store) UpdateAssessment(ctx context.Context, id string, in model.AssessmentInput) (model.Assessment, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE assessments SET title = ?, description = ?, marking_criteria = ?, instructions = ?, updated_at = ?
		 WHERE id = ?`,
		in.Title, in.Description, in.MarkingCriteria, in.Instructions, time.Now(), id,
	)
	if err != nil {
		return model.Assessment{}, fmt.Errorf("update assessment: %w", err)
	}
	if err := requireAffected(res, "assessment", id); err != nil {
		return model.Assessment{}, err
	}
	return s.GetAssessment(ctx, id)
}

// AssessmentField names an assessment text field that can be filled from an uploaded file.
type AssessmentField string

const (
	FieldMarkingCriteria AssessmentField = "markingCriteria"
	FieldInstructions    AssessmentField = "instructions"
)

// SetAssessmentFile stores text extracted from an uploaded file into field and records the file name.
func (s *Store) SetAssessmentFile(ctx context.Context, id string, field AssessmentField, fileName, text string) (model.Assessment, error) {
	var query string
	switch field {
	case FieldMarkingCriteria:
		query = `UPDATE assessments SET marking_criteria = ?, marking_criteria_file = ?, updated_at = ? WHERE id = ?`
	case FieldInstructions:
		query = `UPDATE assessments SET instructions = ?, instructions_file = ?, updated_at = ? WHERE id = ?`
	default:
		return model.Assessment{}, fmt.Errorf("unknown assessment field %q", field)
	}
	res, err := s.db.ExecContext(ctx, query, text, fileName, time.Now(), id)
	if err != nil {
		return model.Assessment{}, fmt.Errorf("update assessment file: %w", err)
	}
	if err := requireAffected(res, "assessment", id); err != nil {
		return model.Assessment{}, err
	}
	return s.GetAssessment(ctx, id)
}

// DeleteAssessment removes an assessment together with its submissions and their results.
// It clears the current-assessment marker if it pointed at id. The stored paths of the
// removed submission files are returned so the caller can delete them.
func (s *Store) DeleteAssessment(ctx context.Context, id string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	paths, err := deleteSubmissionsWhere(ctx, tx, `assessment_id = ?`, id)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM assessments WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("delete assessment: %w", err)
	}
	if err := requireAffected(res, "assessment", id); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM app_metadata WHERE key = ? AND value = ?`, keyCurrentAssessment, id); err != nil {
		return nil, fmt.Errorf("clear current assessment: %w", err)
	}
	return paths, tx.Commit()
}

// CreateSubmission stores a submission with its files. Empty IDs and times are filled in,
// and file IDs are set on sub.
func (s *Store) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.UploadedAt.IsZero() {
		sub.UploadedAt = time.Now()
	}
	if sub.Status == "" {
		sub.Status = model.StatusUnsubmitted
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO submissions (id, assessment_id, student_name, status, uploaded_at) VALUES (?, ?, ?, ?, ?)`,
		sub.ID, sub.AssessmentID, sub.StudentName, sub.Status, sub.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}

	for i := range sub.Files {
		f := &sub.Files[i]
		res, err := tx.ExecContext(ctx,
			`INSERT INTO submission_files (submission_id, file_name, file_type, path, content, loaded)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			sub.ID, f.FileName, f.FileType, f.Path, f.Content, f.Loaded,
		)
		if err != nil {
			return fmt.Errorf("insert submission file: %w", err)
		}
		if f.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const submissionColumns = `id, assessment_id, student_name, status, uploaded_at`

// GetSubmission returns a submission with its files.
func (s *Store) GetSubmission(ctx context.Context, id string) (model.Submission, error) {
	var sub model.Submission
	err := s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id,
	).Scan(&sub.ID, &sub.AssessmentID, &sub.StudentName, &sub.Status, &sub.UploadedAt)
	if err != nil {
		return model.Submission{}, notFound(err, "submission", id)
	}
	if sub.Files, err = s.submissionFiles(ctx, id); err != nil {
		return model.Submission{}, err
	}
	return sub, nil
}

// ListSubmissions returns the submissions of an assessment in upload order.
func (s *Store) ListSubmissions(ctx context.Context, assessmentID string) ([]model.Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE assessment_id = ? ORDER BY uploaded_at, rowid`,
		assessmentID)
	if err != nil {
		return nil, err
	}
	subs := []model.Submission{}
	for rows.Next() {
		var sub model.Submission
		if err := rows.Scan(&sub.ID, &sub.AssessmentID, &sub.StudentName, &sub.Status, &sub.UploadedAt); err != nil {
			rows.Close()
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range subs {
		if subs[i].Files, err = s.submissionFiles(ctx, subs[i].ID); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

func (s *Store) submissionFiles(ctx context.Context, submissionID string) ([]model.SubmissionFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_name, file_type, path, content, loaded FROM submission_files
		 WHERE submission_id = ? ORDER BY id`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	files := []model.SubmissionFile{}
	for rows.Next() {
		var f model.SubmissionFile
		if err := rows.Scan(&f.ID, &f.FileName, &f.FileType, &f.Path, &f.Content, &f.Loaded); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// SaveSubmissionContent persists the status and loaded file contents of sub.
func (s *Store) SaveSubmissionContent(ctx context.Context, sub model.Submission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE submissions SET status = ? WHERE id = ?`, sub.Status, sub.ID); err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	for _, f := range sub.Files {
		if !f.Loaded {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE submission_files SET content = ?, loaded = 1 WHERE id = ?`, f.Content, f.ID); err != nil {
			return fmt.Errorf("update submission file: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteSubmissions removes the given submissions and their results and returns the stored
// file paths. Unknown IDs are ignored.
func (s *Store) DeleteSubmissions(ctx context.Context, ids ...string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	where, args := inClause("id", ids)
	paths, err := deleteSubmissionsWhere(ctx, tx, where, args...)
	if err != nil {
		return nil, err
	}
	return paths, tx.Commit()
}

// DeleteAllSubmissions removes every submission of an assessment and their results.
func (s *Store) DeleteAllSubmissions(ctx context.Context, assessmentID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	paths, err := deleteSubmissionsWhere(ctx, tx, `assessment_id = ?`, assessmentID)
	if err != nil {
		return nil, err
	}
	return paths, tx.Commit()
}

// deleteSubmissionsWhere deletes matching submissions with their files and results.
func deleteSubmissionsWhere(ctx context.Context, tx *sql.Tx, where string, args ...any) ([]string, error) {
	sub := `SELECT id FROM submissions WHERE ` + where

	rows, err := tx.QueryContext(ctx,
		`SELECT path FROM submission_files WHERE path != '' AND submission_id IN (`+sub+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("list submission files: %w", err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, err
		}
		paths = append(paths, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, q := range []string{
		`DELETE FROM grading_results WHERE submission_id IN (` + sub + `)`,
		`DELETE FROM submission_files WHERE submission_id IN (` + sub + `)`,
		`DELETE FROM submissions WHERE ` + where,
	} {
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return nil, fmt.Errorf("delete submissions: %w", err)
		}
	}
	return paths, nil
}

func inClause(column string, ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return column + ` IN (?` + strings.Repeat(`, ?`, len(ids)-1) + `)`, args
}

func requireAffected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}
