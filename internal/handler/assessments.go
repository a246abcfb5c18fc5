package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/gradeflow/internal/model"
)

// assessmentParam loads the assessment named by the URL. It writes the error response
// and returns false when it cannot.
func (h *Handler) assessmentParam(w http.ResponseWriter, r *http.Request) (model.Assessment, bool) {
	a, err := h.store.GetAssessment(r.Context(), chi.URLParam(r, "assessmentID"))
	if err != nil {
		storeError(w, err, "assessment")
		return model.Assessment{}, false
	}
	return a, true
}

func (h *Handler) handleListAssessments(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListAssessments(r.Context())
	if err != nil {
		storeError(w, err, "assessments")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleCreateAssessment stores a new assessment and makes it current.
func (h *Handler) handleCreateAssessment(w http.ResponseWriter, r *http.Request) {
	var in model.AssessmentInput
	if !h.decode(w, r, &in) {
		return
	}
	a, err := h.store.CreateAssessment(r.Context(), in)
	if err != nil {
		storeError(w, err, "assessment")
		return
	}
	if err := h.store.SetCurrentAssessment(r.Context(), a.ID); err != nil {
		slog.Error("failed to set current assessment", "id", a.ID, "error", err)
	}
	slog.Info("created assessment", "id", a.ID, "title", a.Title)
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	a, ok := h.assessmentParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleUpdateAssessment(w http.ResponseWriter, r *http.Request) {
	var in model.AssessmentInput
	if !h.decode(w, r, &in) {
		return
	}
	a, err := h.store.UpdateAssessment(r.Context(), chi.URLParam(r, "assessmentID"), in)
	if err != nil {
		storeError(w, err, "assessment")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleDeleteAssessment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "assessmentID")
	paths, err := h.store.DeleteAssessment(r.Context(), id)
	if err != nil {
		storeError(w, err, "assessment")
		return
	}
	removeUploads(paths)
	slog.Info("deleted assessment", "id", id, "files", len(paths))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetCurrentAssessment(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.CurrentAssessment(r.Context())
	if err != nil {
		storeError(w, err, "current assessment")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type currentAssessmentRequest struct {
	ID string `json:"id" validate:"required"`
}

func (h *Handler) handleSetCurrentAssessment(w http.ResponseWriter, r *http.Request) {
	var req currentAssessmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.store.SetCurrentAssessment(r.Context(), req.ID); err != nil {
		storeError(w, err, "assessment")
		return
	}
	a, err := h.store.GetAssessment(r.Context(), req.ID)
	if err != nil {
		storeError(w, err, "assessment")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleClearCurrentAssessment(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearCurrentAssessment(r.Context()); err != nil {
		storeError(w, err, "current assessment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
