package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/gradeflow/internal/model"
)

// ExportAssessment builds an export-ready bundle of an assessment, its submissions and results.
func (s *Store) ExportAssessment(ctx context.Context, assessmentID string) (model.AssessmentExport, error) {
	a, err := s.GetAssessment(ctx, assessmentID)
	if err != nil {
		return model.AssessmentExport{}, err
	}
	subs, err := s.ListSubmissions(ctx, assessmentID)
	if err != nil {
		return model.AssessmentExport{}, fmt.Errorf("list submissions: %w", err)
	}
	results, err := s.ListResults(ctx, assessmentID)
	if err != nil {
		return model.AssessmentExport{}, fmt.Errorf("list results: %w", err)
	}
	variant, err := s.PromptVariant(ctx)
	if err != nil {
		return model.AssessmentExport{}, fmt.Errorf("read prompt variant: %w", err)
	}
	return model.AssessmentExport{
		Assessment:    a,
		PromptVariant: variant,
		Submissions:   subs,
		Results:       results,
		ExportedAt:    time.Now(),
	}, nil
}
