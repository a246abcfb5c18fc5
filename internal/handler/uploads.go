package handler

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pavelanni/gradeflow/internal/extract"
	"github.com/pavelanni/gradeflow/internal/model"
	"github.com/pavelanni/gradeflow/internal/store"
)

const maxFilesPerUpload = 20

// handleUploadAssessmentFile fills the marking criteria or instructions from an uploaded file.
func (h *Handler) handleUploadAssessmentFile(w http.ResponseWriter, r *http.Request) {
	field := store.AssessmentField(chi.URLParam(r, "field"))
	if field != store.FieldMarkingCriteria && field != store.FieldInstructions {
		writeError(w, http.StatusBadRequest, "field must be markingCriteria or instructions")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+1<<20)
	if err := r.ParseMultipartForm(h.maxSize); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or invalid form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	if err := extract.Validate(header.Filename, header.Size, h.maxSize); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, h.maxSize+1))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	text, err := extract.Text(header.Filename, data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a, err := h.store.SetAssessmentFile(r.Context(), chi.URLParam(r, "assessmentID"), field, header.Filename, text)
	if err != nil {
		storeError(w, err, "assessment")
		return
	}
	slog.Info("loaded assessment file", "id", a.ID, "field", field, "filename", header.Filename, "chars", len(text))
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	a, ok := h.assessmentParam(w, r)
	if !ok {
		return
	}
	subs, err := h.store.ListSubmissions(r.Context(), a.ID)
	if err != nil {
		storeError(w, err, "submissions")
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// handleUploadSubmissions stores the uploaded "files" as one submission, or one submission
// per file when perFile=true. The student name is taken from the "studentName" field or
// derived from the first file name.
func (h *Handler) handleUploadSubmissions(w http.ResponseWriter, r *http.Request) {
	a, ok := h.assessmentParam(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize*maxFilesPerUpload+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "upload too large or invalid form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	}
	if len(headers) > maxFilesPerUpload {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d files per upload", maxFilesPerUpload))
		return
	}
	for _, fh := range headers {
		if err := extract.Validate(fh.Filename, fh.Size, h.maxSize); err != nil {
			writeError(w, http.StatusBadRequest, fh.Filename+": "+err.Error())
			return
		}
	}

	var groups [][]*multipart.FileHeader
	if r.FormValue("perFile") == "true" {
		for _, fh := range headers {
			groups = append(groups, []*multipart.FileHeader{fh})
		}
	} else {
		groups = [][]*multipart.FileHeader{headers}
	}

	created := make([]model.Submission, 0, len(groups))
	for _, group := range groups {
		name := strings.TrimSpace(r.FormValue("studentName"))
		if name == "" || len(groups) > 1 {
			name = extract.StudentName(group[0].Filename)
		}
		sub, err := h.storeSubmission(r, a.ID, name, group)
		if err != nil {
			slog.Error("failed to store submission", "assessment_id", a.ID, "student", name, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to store submission")
			return
		}
		created = append(created, sub)
	}

	slog.Info("uploaded submissions", "assessment_id", a.ID, "submissions", len(created), "files", len(headers))
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) storeSubmission(r *http.Request, assessmentID, student string, files []*multipart.FileHeader) (model.Submission, error) {
	sub := model.Submission{
		ID:           uuid.NewString(),
		AssessmentID: assessmentID,
		StudentName:  student,
	}
	dir := filepath.Join(h.config.UploadDir, sub.ID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return sub, fmt.Errorf("create submission dir: %w", err)
	}

	for i, fh := range files {
		path := filepath.Join(dir, fmt.Sprintf("%d-%s", i+1, filepath.Base(fh.Filename)))
		if err := h.saveUpload(fh, path); err != nil {
			_ = os.RemoveAll(dir)
			return sub, err
		}
		ft, _ := extract.DetectType(fh.Filename)
		sub.Files = append(sub.Files, model.SubmissionFile{
			FileName: fh.Filename,
			FileType: string(ft),
			Path:     path,
		})
	}

	if err := h.store.CreateSubmission(r.Context(), &sub); err != nil {
		_ = os.RemoveAll(dir)
		return sub, err
	}
	return sub, nil
}

func (h *Handler) saveUpload(fh *multipart.FileHeader, path string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(dst, io.LimitReader(src, h.maxSize)); err != nil {
		dst.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return dst.Close()
}

// removeUploads deletes stored files and their submission directories once empty.
func removeUploads(paths []string) {
	dirs := make(map[string]bool)
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove upload", "path", p, "error", err)
		}
		dirs[filepath.Dir(p)] = true
	}
	for d := range dirs {
		_ = os.Remove(d)
	}
}

func (h *Handler) handleDeleteSubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "submissionID")
	if _, err := h.store.GetSubmission(r.Context(), id); err != nil {
		storeError(w, err, "submission")
		return
	}
	paths, err := h.store.DeleteSubmissions(r.Context(), id)
	if err != nil {
		storeError(w, err, "submission")
		return
	}
	removeUploads(paths)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteSubmissions(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !h.decode(w, r, &req) {
		return
	}
	paths, err := h.store.DeleteSubmissions(r.Context(), req.IDs...)
	if err != nil {
		storeError(w, err, "submissions")
		return
	}
	removeUploads(paths)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteAllSubmissions(w http.ResponseWriter, r *http.Request) {
	a, ok := h.assessmentParam(w, r)
	if !ok {
		return
	}
	paths, err := h.store.DeleteAllSubmissions(r.Context(), a.ID)
	if err != nil {
		storeError(w, err, "submissions")
		return
	}
	removeUploads(paths)
	slog.Info("deleted all submissions", "assessment_id", a.ID, "files", len(paths))
	w.WriteHeader(http.StatusNoContent)
}
