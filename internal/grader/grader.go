// Package grader runs grading passes over submissions.
package grader

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pavelanni/gradeflow/internal/model"
)

var (
	gradedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gradeflow",
		Subsystem: "grader",
		Name:      "submissions_graded_total",
		Help:      "Number of submissions graded successfully",
	})

	fileReadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gradeflow",
		Subsystem: "grader",
		Name:      "file_read_failures_total",
		Help:      "Number of submission files that could not be read",
	})
)

// ContentGenerator grades one flattened submission against an assessment.
type ContentGenerator interface {
	Grade(ctx context.Context, a model.Assessment, sub model.SubmissionContent) (model.Evaluation, error)
	CheckConnection(ctx context.Context) error
}

// FileSource reads the text of a stored submission file.
type FileSource interface {
	ReadFile(ctx context.Context, f model.SubmissionFile) (string, error)
}

// BatchError reports the submission at which a grading run stopped.
type BatchError struct {
	SubmissionID string
	StudentName  string
	Completed    int
	Err          error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("grading %s (%s) failed after %d completed: %v",
		e.StudentName, e.SubmissionID, e.Completed, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Service grades submissions one at a time.
type Service struct {
	gen   ContentGenerator
	files FileSource
	now   func() time.Time
	newID func() string
}

// NewService creates a grading service.
func NewService(gen ContentGenerator, files FileSource) *Service {
	return &Service{
		gen:   gen,
		files: files,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// GradeAll grades subs in order. File contents are loaded into subs in place so that
// callers can persist them. On a generator failure the remaining submissions are skipped
// and the results so far are returned with a *BatchError.
func (s *Service) GradeAll(ctx context.Context, a model.Assessment, subs []model.Submission) ([]model.GradingResult, error) {
	results := make([]model.GradingResult, 0, len(subs))
	for i := range subs {
		sub := &subs[i]
		if err := ctx.Err(); err != nil {
			return results, &BatchError{SubmissionID: sub.ID, StudentName: sub.StudentName, Completed: len(results), Err: err}
		}

		s.loadFiles(ctx, sub)
		content := Flatten(*sub)

		slog.Info("grading submission", "student", sub.StudentName, "submission_id", sub.ID,
			"files", len(sub.Files), "position", i+1, "total", len(subs))
		eval, err := s.gen.Grade(ctx, a, content)
		if err != nil {
			slog.Error("grading failed", "student", sub.StudentName, "submission_id", sub.ID, "error", err)
			return results, &BatchError{SubmissionID: sub.ID, StudentName: sub.StudentName, Completed: len(results), Err: err}
		}

		sub.Status = model.StatusGraded
		results = append(results, model.GradingResult{
			ID:           s.newID(),
			SubmissionID: sub.ID,
			StudentName:  sub.StudentName,
			Evaluation:   eval,
			GradedAt:     s.now(),
		})
		gradedTotal.Inc()
	}
	return results, nil
}

// loadFiles reads every file not yet loaded. Read failures become inline error text.
func (s *Service) loadFiles(ctx context.Context, sub *model.Submission) {
	for j := range sub.Files {
		f := &sub.Files[j]
		if f.Loaded {
			continue
		}
		text, err := s.files.ReadFile(ctx, *f)
		if err != nil {
			slog.Warn("failed to read submission file", "file", f.FileName, "student", sub.StudentName, "error", err)
			fileReadFailures.Inc()
			text = "Error reading file: " + err.Error()
		}
		f.Content = text
		f.Loaded = true
	}
}

// Flatten combines the files of a submission into the single view sent for grading.
func Flatten(sub model.Submission) model.SubmissionContent {
	names := make([]string, 0, len(sub.Files))
	parts := make([]string, 0, len(sub.Files))
	for _, f := range sub.Files {
		names = append(names, f.FileName)
		parts = append(parts, "--- "+f.FileName+" ---\n"+f.Content)
	}
	return model.SubmissionContent{
		ID:          sub.ID,
		StudentName: sub.StudentName,
		FileName:    strings.Join(names, ", "),
		FileContent: strings.Join(parts, "\n\n"),
	}
}
