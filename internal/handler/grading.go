package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/gradeflow/internal/grader"
	"github.com/pavelanni/gradeflow/internal/i18n"
	"github.com/pavelanni/gradeflow/internal/model"
	"github.com/pavelanni/gradeflow/internal/report"
)

// gradeResponse is returned by a grading run. On failure Error and FailedSubmissionID
// are set and Results holds the submissions graded before the failure.
type gradeResponse struct {
	Results            []model.GradingResult `json:"results"`
	Message            string                `json:"message,omitempty"`
	Error              string                `json:"error,omitempty"`
	FailedSubmissionID string                `json:"failedSubmissionId,omitempty"`
}

const gradingFailedMessage = "Grading failed. Please check your Gemini API key and try again."

// handleGrade grades every submission of an assessment in upload order.
func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	if h.gen == nil {
		writeError(w, http.StatusInternalServerError, "LLM API key not configured")
		return
	}
	a, ok := h.assessmentParam(w, r)
	if !ok {
		return
	}

	h.gradeMu.Lock()
	defer h.gradeMu.Unlock()

	ctx := r.Context()
	subs, err := h.store.ListSubmissions(ctx, a.ID)
	if err != nil {
		storeError(w, err, "submissions")
		return
	}
	if len(subs) == 0 {
		writeError(w, http.StatusBadRequest, "Please select an assessment and upload submissions first.")
		return
	}

	start := time.Now()
	slog.Info("grading started", "assessment_id", a.ID, "submissions", len(subs), "prompt_variant", h.config.PromptVariant)
	results, gradeErr := grader.NewService(h.gen, h.files).GradeAll(ctx, a, subs)

	// Completed results are kept even when the client has gone away.
	saveCtx := context.WithoutCancel(ctx)
	for _, sub := range subs {
		if err := h.store.SaveSubmissionContent(saveCtx, sub); err != nil {
			slog.Error("failed to save submission content", "submission_id", sub.ID, "error", err)
		}
	}
	if err := h.store.SaveResults(saveCtx, results); err != nil {
		storeError(w, err, "results")
		return
	}
	if err := h.store.SetPromptVariant(saveCtx, h.config.PromptVariant); err != nil {
		slog.Warn("failed to record prompt variant", "error", err)
	}

	if gradeErr != nil {
		resp := gradeResponse{Results: results, Error: gradingFailedMessage}
		var be *grader.BatchError
		if errors.As(gradeErr, &be) {
			resp.FailedSubmissionID = be.SubmissionID
		}
		slog.Error("grading aborted", "assessment_id", a.ID, "completed", len(results), "error", gradeErr)
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	slog.Info("grading finished", "assessment_id", a.ID, "graded", len(results), "duration", time.Since(start))
	writeJSON(w, http.StatusOK, gradeResponse{
		Results: results,
		Message: i18n.Tp(ctx, "SubmissionsGraded", len(results)),
	})
}

func (h *Handler) handleListResults(w http.ResponseWriter, r *http.Request) {
	a, ok := h.assessmentParam(w, r)
	if !ok {
		return
	}
	results, err := h.store.ListResults(r.Context(), a.ID)
	if err != nil {
		storeError(w, err, "results")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleUpdateResult applies a manual edit; edited results are marked reviewed.
func (h *Handler) handleUpdateResult(w http.ResponseWriter, r *http.Request) {
	var u model.ResultUpdate
	if !h.decode(w, r, &u) {
		return
	}
	res, err := h.store.UpdateResult(r.Context(), chi.URLParam(r, "resultID"), u)
	if err != nil {
		storeError(w, err, "result")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleDeleteResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "resultID")
	if _, err := h.store.GetResult(r.Context(), id); err != nil {
		storeError(w, err, "result")
		return
	}
	if err := h.store.DeleteResults(r.Context(), id); err != nil {
		storeError(w, err, "result")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteResults(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.store.DeleteResults(r.Context(), req.IDs...); err != nil {
		storeError(w, err, "results")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteAllResults(w http.ResponseWriter, r *http.Request) {
	a, ok := h.assessmentParam(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteAllResults(r.Context(), a.ID); err != nil {
		storeError(w, err, "results")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReport downloads the results as markdown, or as JSON with format=json.
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	a, ok := h.assessmentParam(w, r)
	if !ok {
		return
	}
	now := time.Now()

	switch format := r.URL.Query().Get("format"); format {
	case "", "md", "markdown":
		results, err := h.store.ListResults(r.Context(), a.ID)
		if err != nil {
			storeError(w, err, "results")
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+report.FileName(&a, now, "md")+`"`)
		if err := report.Markdown(r.Context(), w, results, &a, now); err != nil {
			slog.Error("write report", "error", err)
		}
	case "json":
		exp, err := h.store.ExportAssessment(r.Context(), a.ID)
		if err != nil {
			storeError(w, err, "assessment")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="`+report.FileName(&a, now, "json")+`"`)
		if err := report.JSON(w, exp); err != nil {
			slog.Error("write report", "error", err)
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown report format "+format)
	}
}
