package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/gradeflow/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestAssessment(t *testing.T, s *Store, title string) model.Assessment {
	t.Helper()
	a, err := s.CreateAssessment(context.Background(), model.AssessmentInput{
		Title:           title,
		Description:     "description of " + title,
		MarkingCriteria: "criteria for " + title,
		Instructions:    "instructions for " + title,
	})
	if err != nil {
		t.Fatalf("createTestAssessment: %v", err)
	}
	return a
}

func createTestSubmission(t *testing.T, s *Store, assessmentID, student string, fileNames ...string) model.Submission {
	t.Helper()
	sub := model.Submission{AssessmentID: assessmentID, StudentName: student}
	for _, name := range fileNames {
		sub.Files = append(sub.Files, model.SubmissionFile{FileName: name, FileType: "py", Path: "/uploads/" + student + "/" + name})
	}
	if err := s.CreateSubmission(context.Background(), &sub); err != nil {
		t.Fatalf("createTestSubmission: %v", err)
	}
	return sub
}

func testResult(id, submissionID, student string, score int) model.GradingResult {
	return model.GradingResult{
		ID:           id,
		SubmissionID: submissionID,
		StudentName:  student,
		Evaluation: model.Evaluation{
			Score:                    score,
			Feedback:                 "feedback " + id,
			DetailedFeedback:         "details " + id,
			MinorAreasForImprovement: []string{"naming"},
			Strengths:                []string{"tests", "structure"},
			Weaknesses:               nil,
			Suggestions:              []string{"add docs"},
		},
		GradedAt: time.Now(),
	}
}

func TestAssessmentCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	list, err := s.ListAssessments(ctx)
	if err != nil {
		t.Fatalf("ListAssessments: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}

	a := createTestAssessment(t, s, "Lab 1")
	if a.ID == "" || a.CreatedAt.IsZero() {
		t.Fatalf("expected ID and timestamps, got %+v", a)
	}

	got, err := s.GetAssessment(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAssessment: %v", err)
	}
	if got.Title != "Lab 1" || got.MarkingCriteria != "criteria for Lab 1" {
		t.Errorf("unexpected assessment: %+v", got)
	}

	updated, err := s.UpdateAssessment(ctx, a.ID, model.AssessmentInput{Title: "Lab 1b", MarkingCriteria: "new"})
	if err != nil {
		t.Fatalf("UpdateAssessment: %v", err)
	}
	if updated.Title != "Lab 1b" || updated.MarkingCriteria != "new" || updated.Description != "" {
		t.Errorf("unexpected update result: %+v", updated)
	}

	withFile, err := s.SetAssessmentFile(ctx, a.ID, FieldMarkingCriteria, "rubric.pdf", "Rubric text")
	if err != nil {
		t.Fatalf("SetAssessmentFile: %v", err)
	}
	if withFile.MarkingCriteria != "Rubric text" || withFile.MarkingCriteriaFile != "rubric.pdf" {
		t.Errorf("criteria file not stored: %+v", withFile)
	}
	withFile, err = s.SetAssessmentFile(ctx, a.ID, FieldInstructions, "brief.docx", "Do it")
	if err != nil {
		t.Fatalf("SetAssessmentFile: %v", err)
	}
	if withFile.Instructions != "Do it" || withFile.InstructionsFile != "brief.docx" {
		t.Errorf("instructions file not stored: %+v", withFile)
	}
	if _, err := s.SetAssessmentFile(ctx, a.ID, AssessmentField("title"), "x", "y"); err == nil {
		t.Error("expected error for unknown field")
	}

	createTestAssessment(t, s, "Lab 2")
	list, err = s.ListAssessments(ctx)
	if err != nil {
		t.Fatalf("ListAssessments: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 assessments, got %d", len(list))
	}
}

func TestAssessmentNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetAssessment(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAssessment: expected ErrNotFound, got %v", err)
	}
	if _, err := s.UpdateAssessment(ctx, "missing", model.AssessmentInput{Title: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateAssessment: expected ErrNotFound, got %v", err)
	}
	if _, err := s.DeleteAssessment(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteAssessment: expected ErrNotFound, got %v", err)
	}
}

func TestSubmissionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createTestAssessment(t, s, "Lab")

	sub := createTestSubmission(t, s, a.ID, "Ann", "main.py", "util.py")
	if sub.ID == "" || sub.Status != model.StatusUnsubmitted {
		t.Fatalf("unexpected submission: %+v", sub)
	}
	if sub.Files[0].ID == 0 || sub.Files[1].ID == 0 {
		t.Fatal("expected file IDs to be set")
	}

	got, err := s.GetSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if len(got.Files) != 2 || got.Files[0].FileName != "main.py" || got.Files[0].Loaded {
		t.Fatalf("unexpected files: %+v", got.Files)
	}

	got.Files[0].Content = "print(1)"
	got.Files[0].Loaded = true
	got.Status = model.StatusGraded
	if err := s.SaveSubmissionContent(ctx, got); err != nil {
		t.Fatalf("SaveSubmissionContent: %v", err)
	}

	reloaded, err := s.GetSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if reloaded.Status != model.StatusGraded {
		t.Errorf("status = %s, want graded", reloaded.Status)
	}
	if !reloaded.Files[0].Loaded || reloaded.Files[0].Content != "print(1)" {
		t.Errorf("file 0 not cached: %+v", reloaded.Files[0])
	}
	if reloaded.Files[1].Loaded {
		t.Error("file 1 should not be loaded")
	}

	createTestSubmission(t, s, a.ID, "Bob", "b.py")
	other := createTestAssessment(t, s, "Other")
	createTestSubmission(t, s, other.ID, "Cy", "c.py")

	subs, err := s.ListSubmissions(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(subs) != 2 || subs[0].StudentName != "Ann" || subs[1].StudentName != "Bob" {
		t.Errorf("unexpected submissions: %+v", subs)
	}
	if len(subs[0].Files) != 2 {
		t.Errorf("expected files to be loaded with list, got %d", len(subs[0].Files))
	}

	if _, err := s.GetSubmission(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createTestAssessment(t, s, "Lab")
	ann := createTestSubmission(t, s, a.ID, "Ann", "a.py")
	bob := createTestSubmission(t, s, a.ID, "Bob", "b.py")

	if err := s.SaveResults(ctx, []model.GradingResult{
		testResult("r1", ann.ID, "Ann", 85),
		testResult("r2", bob.ID, "Bob", 140),
	}); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}

	results, err := s.ListResults(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	r1 := results[0]
	if r1.ID != "r1" || r1.Score != 85 || r1.IsReviewed {
		t.Errorf("unexpected result: %+v", r1)
	}
	if len(r1.Strengths) != 2 || r1.Strengths[1] != "structure" {
		t.Errorf("strengths not round-tripped: %v", r1.Strengths)
	}
	if r1.Weaknesses == nil || len(r1.Weaknesses) != 0 {
		t.Errorf("nil list should load as empty, got %#v", r1.Weaknesses)
	}
	if results[1].Score != 100 {
		t.Errorf("score should be clamped on save, got %d", results[1].Score)
	}

	// A re-run replaces the earlier result of the submission.
	if err := s.SaveResults(ctx, []model.GradingResult{testResult("r3", ann.ID, "Ann", 60)}); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}
	if _, err := s.GetResult(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old result should be replaced, got %v", err)
	}
	results, _ = s.ListResults(ctx, a.ID)
	if len(results) != 2 {
		t.Errorf("expected 2 results after re-run, got %d", len(results))
	}
}

func TestUpdateResultMarksReviewed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createTestAssessment(t, s, "Lab")
	sub := createTestSubmission(t, s, a.ID, "Ann", "a.py")
	if err := s.SaveResults(ctx, []model.GradingResult{testResult("r1", sub.ID, "Ann", 70)}); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}

	score := 105
	fb := "Edited by hand"
	updated, err := s.UpdateResult(ctx, "r1", model.ResultUpdate{Score: &score, Feedback: &fb})
	if err != nil {
		t.Fatalf("UpdateResult: %v", err)
	}
	if !updated.IsReviewed || updated.Score != 100 || updated.Feedback != fb {
		t.Errorf("unexpected update: %+v", updated)
	}
	if updated.DetailedFeedback != "details r1" {
		t.Error("unset fields should be unchanged")
	}

	got, err := s.GetResult(ctx, "r1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if !got.IsReviewed || got.Score != 100 {
		t.Errorf("update not persisted: %+v", got)
	}

	if _, err := s.UpdateResult(ctx, "missing", model.ResultUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createTestAssessment(t, s, "Lab")
	ann := createTestSubmission(t, s, a.ID, "Ann", "a.py")
	bob := createTestSubmission(t, s, a.ID, "Bob", "b.py")
	if err := s.SaveResults(ctx, []model.GradingResult{
		testResult("r1", ann.ID, "Ann", 50),
		testResult("r2", bob.ID, "Bob", 60),
	}); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}

	for _, sub := range []model.Submission{ann, bob} {
		sub.Status = model.StatusGraded
		if err := s.SaveSubmissionContent(ctx, sub); err != nil {
			t.Fatalf("SaveSubmissionContent: %v", err)
		}
	}

	if err := s.DeleteResults(ctx, "r1", "unknown"); err != nil {
		t.Fatalf("DeleteResults: %v", err)
	}
	results, _ := s.ListResults(ctx, a.ID)
	if len(results) != 1 || results[0].ID != "r2" {
		t.Errorf("unexpected results after delete: %+v", results)
	}
	if got, _ := s.GetSubmission(ctx, ann.ID); got.Status != model.StatusUnsubmitted {
		t.Errorf("Ann status = %s, want unsubmitted after her result was deleted", got.Status)
	}
	if got, _ := s.GetSubmission(ctx, bob.ID); got.Status != model.StatusGraded {
		t.Errorf("Bob status = %s, want graded", got.Status)
	}

	ann.Status = model.StatusGraded
	if err := s.SaveSubmissionContent(ctx, ann); err != nil {
		t.Fatalf("SaveSubmissionContent: %v", err)
	}
	if err := s.DeleteAllResults(ctx, a.ID); err != nil {
		t.Fatalf("DeleteAllResults: %v", err)
	}
	results, _ = s.ListResults(ctx, a.ID)
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
	got, _ := s.GetSubmission(ctx, ann.ID)
	if got.Status != model.StatusUnsubmitted {
		t.Errorf("submission status = %s, want unsubmitted", got.Status)
	}
}

func TestDeleteSubmissionsCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createTestAssessment(t, s, "Lab")
	ann := createTestSubmission(t, s, a.ID, "Ann", "a.py", "b.py")
	bob := createTestSubmission(t, s, a.ID, "Bob", "c.py")
	if err := s.SaveResults(ctx, []model.GradingResult{
		testResult("r1", ann.ID, "Ann", 50),
		testResult("r2", bob.ID, "Bob", 60),
	}); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}

	paths, err := s.DeleteSubmissions(ctx, ann.ID)
	if err != nil {
		t.Fatalf("DeleteSubmissions: %v", err)
	}
	if len(paths) != 2 {
		t.Errorf("expected 2 file paths, got %v", paths)
	}
	if _, err := s.GetResult(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("result of deleted submission should be gone, got %v", err)
	}
	if _, err := s.GetResult(ctx, "r2"); err != nil {
		t.Errorf("other result should survive: %v", err)
	}

	paths, err = s.DeleteAllSubmissions(ctx, a.ID)
	if err != nil {
		t.Fatalf("DeleteAllSubmissions: %v", err)
	}
	if len(paths) != 1 || paths[0] != "/uploads/Bob/c.py" {
		t.Errorf("unexpected paths: %v", paths)
	}
	subs, _ := s.ListSubmissions(ctx, a.ID)
	if len(subs) != 0 {
		t.Errorf("expected no submissions, got %d", len(subs))
	}
}

func TestDeleteAssessmentCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createTestAssessment(t, s, "Lab")
	keep := createTestAssessment(t, s, "Keep")
	sub := createTestSubmission(t, s, a.ID, "Ann", "a.py")
	kept := createTestSubmission(t, s, keep.ID, "Bob", "b.py")
	if err := s.SaveResults(ctx, []model.GradingResult{
		testResult("r1", sub.ID, "Ann", 50),
		testResult("r2", kept.ID, "Bob", 50),
	}); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}
	if err := s.SetCurrentAssessment(ctx, a.ID); err != nil {
		t.Fatalf("SetCurrentAssessment: %v", err)
	}

	paths, err := s.DeleteAssessment(ctx, a.ID)
	if err != nil {
		t.Fatalf("DeleteAssessment: %v", err)
	}
	if len(paths) != 1 {
		t.Errorf("expected 1 path, got %v", paths)
	}
	if _, err := s.GetSubmission(ctx, sub.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("submission should be deleted, got %v", err)
	}
	if _, err := s.GetResult(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("result should be deleted, got %v", err)
	}
	if _, err := s.CurrentAssessment(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("current assessment should be cleared, got %v", err)
	}
	if _, err := s.GetResult(ctx, "r2"); err != nil {
		t.Errorf("other assessment's result should survive: %v", err)
	}
}

func TestCurrentAssessment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CurrentAssessment(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound with no selection, got %v", err)
	}
	if err := s.SetCurrentAssessment(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown assessment, got %v", err)
	}

	a := createTestAssessment(t, s, "Lab")
	b := createTestAssessment(t, s, "Lab 2")
	if err := s.SetCurrentAssessment(ctx, a.ID); err != nil {
		t.Fatalf("SetCurrentAssessment: %v", err)
	}
	if err := s.SetCurrentAssessment(ctx, b.ID); err != nil {
		t.Fatalf("SetCurrentAssessment: %v", err)
	}
	cur, err := s.CurrentAssessment(ctx)
	if err != nil {
		t.Fatalf("CurrentAssessment: %v", err)
	}
	if cur.ID != b.ID {
		t.Errorf("current = %s, want %s", cur.ID, b.ID)
	}

	// Deleting another assessment keeps the marker.
	if _, err := s.DeleteAssessment(ctx, a.ID); err != nil {
		t.Fatalf("DeleteAssessment: %v", err)
	}
	if _, err := s.CurrentAssessment(ctx); err != nil {
		t.Errorf("marker should survive: %v", err)
	}

	if err := s.ClearCurrentAssessment(ctx); err != nil {
		t.Fatalf("ClearCurrentAssessment: %v", err)
	}
	if _, err := s.CurrentAssessment(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after clear, got %v", err)
	}
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.PromptVariant(ctx)
	if err != nil || v != "" {
		t.Fatalf("PromptVariant on empty store = %q, %v", v, err)
	}
	if err := s.SetPromptVariant(ctx, "strict"); err != nil {
		t.Fatalf("SetPromptVariant: %v", err)
	}
	if err := s.SetPromptVariant(ctx, "lenient"); err != nil {
		t.Fatalf("SetPromptVariant: %v", err)
	}
	if v, _ := s.PromptVariant(ctx); v != "lenient" {
		t.Errorf("PromptVariant = %q, want lenient", v)
	}
}

func TestExportAssessment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createTestAssessment(t, s, "Lab")
	sub := createTestSubmission(t, s, a.ID, "Ann", "a.py")
	if err := s.SaveResults(ctx, []model.GradingResult{testResult("r1", sub.ID, "Ann", 77)}); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}

	exp, err := s.ExportAssessment(ctx, a.ID)
	if err != nil {
		t.Fatalf("ExportAssessment: %v", err)
	}
	if exp.Assessment.ID != a.ID || len(exp.Submissions) != 1 || len(exp.Results) != 1 {
		t.Errorf("unexpected export: %+v", exp)
	}
	if exp.Results[0].Score != 77 || exp.ExportedAt.IsZero() {
		t.Errorf("unexpected export result: %+v", exp.Results[0])
	}
	if exp.PromptVariant != "" {
		t.Errorf("prompt variant = %q before any grading run", exp.PromptVariant)
	}

	if err := s.SetPromptVariant(ctx, "strict"); err != nil {
		t.Fatalf("SetPromptVariant: %v", err)
	}
	if exp, err = s.ExportAssessment(ctx, a.ID); err != nil || exp.PromptVariant != "strict" {
		t.Errorf("prompt variant = %q, %v; want strict", exp.PromptVariant, err)
	}

	if _, err := s.ExportAssessment(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
