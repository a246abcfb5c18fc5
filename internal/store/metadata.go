package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pavelanni/gradeflow/internal/model"
)

const (
	keyCurrentAssessment = "current_assessment"
	keyPromptVariant     = "prompt_variant"
)

// SetMetadata upserts a key-value pair in the app_metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetCurrentAssessment marks the assessment that grading and uploads apply to by default.
func (s *Store) SetCurrentAssessment(ctx context.Context, id string) error {
	if _, err := s.GetAssessment(ctx, id); err != nil {
		return err
	}
	return s.SetMetadata(ctx, keyCurrentAssessment, id)
}

// CurrentAssessment returns the current assessment, or ErrNotFound if none is selected.
func (s *Store) CurrentAssessment(ctx context.Context) (model.Assessment, error) {
	id, err := s.GetMetadata(ctx, keyCurrentAssessment)
	if err != nil {
		return model.Assessment{}, err
	}
	if id == "" {
		return model.Assessment{}, fmt.Errorf("current assessment: %w", ErrNotFound)
	}
	return s.GetAssessment(ctx, id)
}

// ClearCurrentAssessment removes the current-assessment marker.
func (s *Store) ClearCurrentAssessment(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM app_metadata WHERE key = ?`, keyCurrentAssessment)
	return err
}

// SetPromptVariant records the prompt variant used for the last grading run.
func (s *Store) SetPromptVariant(ctx context.Context, variant string) error {
	return s.SetMetadata(ctx, keyPromptVariant, variant)
}

// PromptVariant returns the prompt variant recorded by SetPromptVariant.
func (s *Store) PromptVariant(ctx context.Context) (string, error) {
	return s.GetMetadata(ctx, keyPromptVariant)
}
