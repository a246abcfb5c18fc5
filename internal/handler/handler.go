package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavelanni/gradeflow/internal/extract"
	"github.com/pavelanni/gradeflow/internal/grader"
	"github.com/pavelanni/gradeflow/internal/model"
	"github.com/pavelanni/gradeflow/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	gen      grader.ContentGenerator
	files    extract.Reader
	config   model.GradeConfig
	maxSize  int64
	validate *validator.Validate

	// gradeMu serialises grading runs.
	gradeMu sync.Mutex
}

// New creates a new Handler. gen may be nil when no LLM credential is configured;
// grading and relay endpoints then answer with an error.
func New(s *store.Store, gen grader.ContentGenerator, cfg model.GradeConfig) (*Handler, error) {
	if cfg.UploadDir == "" {
		return nil, errors.New("upload directory is required")
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	maxSize := int64(cfg.MaxUploadMB) << 20
	if maxSize <= 0 {
		maxSize = extract.DefaultMaxSize
	}
	return &Handler{
		store:    s,
		gen:      gen,
		files:    extract.Reader{MaxSize: maxSize},
		config:   cfg,
		maxSize:  maxSize,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		if methods, ok := relayPaths[r.URL.Path]; ok {
			setRelayHeaders(w, methods)
		}
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders: []string{"Content-Type"},
			}))
			r.Post("/gemini", h.handleRelayGrade)
			r.Options("/gemini", handlePreflight(relayGradeMethods))
			r.Get("/test-connection", h.handleRelayTestConnection)
			r.Options("/test-connection", handlePreflight(relayTestMethods))
		})

		r.Get("/status", h.handleStatus)

		r.Get("/assessments", h.handleListAssessments)
		r.Post("/assessments", h.handleCreateAssessment)
		r.Route("/assessments/{assessmentID}", func(r chi.Router) {
			r.Get("/", h.handleGetAssessment)
			r.Put("/", h.handleUpdateAssessment)
			r.Delete("/", h.handleDeleteAssessment)
			r.Post("/files/{field}", h.handleUploadAssessmentFile)

			r.Get("/submissions", h.handleListSubmissions)
			r.Post("/submissions", h.handleUploadSubmissions)
			r.Delete("/submissions", h.handleDeleteAllSubmissions)

			r.Post("/grade", h.handleGrade)

			r.Get("/results", h.handleListResults)
			r.Delete("/results", h.handleDeleteAllResults)
			r.Get("/report", h.handleReport)
		})

		r.Get("/current-assessment", h.handleGetCurrentAssessment)
		r.Put("/current-assessment", h.handleSetCurrentAssessment)
		r.Delete("/current-assessment", h.handleClearCurrentAssessment)

		r.Delete("/submissions/{submissionID}", h.handleDeleteSubmission)
		r.Post("/submissions/delete", h.handleDeleteSubmissions)

		r.Patch("/results/{resultID}", h.handleUpdateResult)
		r.Delete("/results/{resultID}", h.handleDeleteResult)
		r.Post("/results/delete", h.handleDeleteResults)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// storeError maps store errors to HTTP responses.
func storeError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	slog.Error("store error", "what", what, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// decode reads a JSON body into v and validates it. It writes a 400 response and
// returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := lowerFirst(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min", "max":
			msgs = append(msgs, fmt.Sprintf("%s must be %s %s", field, map[string]string{"min": "at least", "max": "at most"}[fe.Tag()], fe.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if h.gen == nil {
		writeJSON(w, http.StatusOK, model.ConnectionStatus{Error: "LLM API key not configured"})
		return
	}
	if err := h.gen.CheckConnection(r.Context()); err != nil {
		slog.Warn("LLM connection check failed", "error", err)
		writeJSON(w, http.StatusOK, model.ConnectionStatus{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, model.ConnectionStatus{Connected: true, Message: "LLM connection successful"})
}

// idsRequest is the body of bulk delete endpoints.
type idsRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}
