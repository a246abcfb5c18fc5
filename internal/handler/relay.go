package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/gradeflow/internal/model"
)

// Relay endpoints let browser clients grade through this server without holding the
// LLM credential themselves.

const (
	relayGradeMethods = "POST, OPTIONS"
	relayTestMethods  = "GET, OPTIONS"

	msgMissingKey      = "GEMINI_API_KEY not configured on server"
	msgMissingData     = "Missing assessment or submission data"
	msgRelayGradeError = "Failed to grade submission. Please check your Gemini API key and try again."
	msgConnected       = "Gemini API connection successful"
	msgConnectFailed   = "Failed to connect to Gemini API"

	maxRelayBody = 32 << 20
)

// relayPaths maps relay endpoints to the methods they accept.
var relayPaths = map[string]string{
	"/api/gemini":          relayGradeMethods,
	"/api/test-connection": relayTestMethods,
}

func setRelayHeaders(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// handlePreflight answers OPTIONS requests that are not CORS preflights.
func handlePreflight(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setRelayHeaders(w, methods)
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) handleRelayGrade(w http.ResponseWriter, r *http.Request) {
	setRelayHeaders(w, relayGradeMethods)
	if h.gen == nil {
		writeError(w, http.StatusInternalServerError, msgMissingKey)
		return
	}

	var req model.RelayGradeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRelayBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgMissingData)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, msgMissingData)
		return
	}

	eval, err := h.gen.Grade(r.Context(), *req.Assessment, *req.Submission)
	if err != nil {
		slog.Error("relay grading failed", "student", req.Submission.StudentName, "error", err)
		writeError(w, http.StatusInternalServerError, msgRelayGradeError)
		return
	}

	writeJSON(w, http.StatusOK, model.GradingResult{
		ID:           uuid.NewString(),
		SubmissionID: req.Submission.ID,
		StudentName:  req.Submission.StudentName,
		Evaluation:   eval,
		GradedAt:     time.Now(),
	})
}

func (h *Handler) handleRelayTestConnection(w http.ResponseWriter, r *http.Request) {
	setRelayHeaders(w, relayTestMethods)
	if h.gen == nil {
		writeJSON(w, http.StatusInternalServerError, model.ConnectionStatus{Error: msgMissingKey})
		return
	}
	if err := h.gen.CheckConnection(r.Context()); err != nil {
		slog.Error("relay connection test failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, model.ConnectionStatus{Error: msgConnectFailed})
		return
	}
	writeJSON(w, http.StatusOK, model.ConnectionStatus{Connected: true, Message: msgConnected})
}
