package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"highlightflow/internal/models"
	"highlightflow/internal/orchestrator"
	"highlightflow/internal/storage"

	"github.com/rs/zerolog"
)

// Pipeline is the orchestrator surface the HTTP layer exposes.
type Pipeline interface {
	CreateProject(ctx context.Context, in orchestrator.CreateProjectInput) (models.Project, error)
	AttachSource(ctx context.Context, projectID, filename string, r io.Reader) (string, error)
	StartPipeline(ctx context.Context, projectID string) (orchestrator.StartResult, error)
	GetStatus(ctx context.Context, projectID string) (orchestrator.Status, error)
	SubmitFeedback(ctx context.Context, projectID string, items []models.FeedbackItem) (orchestrator.FeedbackResult, error)
}

type ProjectReader interface {
	Get(ctx context.Context, projectID string) (models.Project, error)
}

type Server struct {
	pipeline  Pipeline
	projects  ProjectReader
	maxUpload int64
	logger    zerolog.Logger
}

func NewServer(pipeline Pipeline, projects ProjectReader, maxUpload int64, logger zerolog.Logger) *Server {
	if maxUpload <= 0 {
		maxUpload = 4 << 30
	}
	return &Server{pipeline: pipeline, projects: projects, maxUpload: maxUpload, logger: logger.With().Str("component", "api").Logger()}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/projects", s.handleProjects)
	mux.HandleFunc("/projects/", s.handleProjectScoped)
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req orchestrator.CreateProjectInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	p, err := s.pipeline.CreateProject(r.Context(), req)
	if err != nil {
		s.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleProjectScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/projects/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	projectID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		p, err := s.projects.Get(r.Context(), projectID)
		if err != nil {
			s.writeServiceErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}
	if len(parts) != 2 {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}

	switch parts[1] {
	case "source":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleSource(w, r, projectID)
	case "start":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		res, err := s.pipeline.StartPipeline(r.Context(), projectID)
		if err != nil {
			s.writeServiceErr(w, err)
			return
		}
		if !res.Accepted {
			writeJSON(w, http.StatusConflict, res)
			return
		}
		writeJSON(w, http.StatusAccepted, res)
	case "status":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		st, err := s.pipeline.GetStatus(r.Context(), projectID)
		if err != nil {
			s.writeServiceErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	case "feedback":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		var req struct {
			Items []models.FeedbackItem `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		res, err := s.pipeline.SubmitFeedback(r.Context(), projectID, req.Items)
		if err != nil {
			s.writeServiceErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request, projectID string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	mr, err := r.MultipartReader()
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}
	part, err := firstFilePart(mr)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	defer part.Close()

	key, err := s.pipeline.AttachSource(r.Context(), projectID, part.FileName(), part)
	if err != nil {
		s.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project_id": projectID, "source_key": key})
}

func firstFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("no files provided")
		}
		if err != nil {
			return nil, fmt.Errorf("parse multipart: %w", err)
		}
		if part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

func (s *Server) writeServiceErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeErr(w, http.StatusNotFound, err)
	case errors.Is(err, orchestrator.ErrRunInProgress):
		writeErr(w, http.StatusConflict, err)
	case errors.Is(err, orchestrator.ErrInvalidFeedback), errors.Is(err, orchestrator.ErrInvalidProject):
		writeErr(w, http.StatusBadRequest, err)
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeErr(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "HF-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{Code: "HF-DB-5001", Message: "Database schema is not initialized. Run migrations and retry."}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{Code: "HF-DB-5002", Message: "Database connection is unavailable. Check local services and retry."}
		default:
			return apiError{Code: "HF-API-5000", Message: "Internal server error. Please retry or check service logs."}
		}
	case status == http.StatusBadRequest:
		code = "HF-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "HF-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "HF-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusMethodNotAllowed:
		code = "HF-API-4005"
		msg = "This endpoint does not support the requested method."
	}

	// For 4xx, keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		switch {
		case strings.Contains(raw, "owner_id is required"):
			msg = "Owner is required."
		case strings.Contains(raw, "no files provided"):
			msg = "No media file was provided."
		case strings.Contains(raw, "invalid json"):
			msg = "Malformed JSON request body."
		case strings.Contains(raw, "unknown segment"):
			msg = "Feedback references a segment that does not exist."
		case strings.Contains(raw, "invalid verdict"):
			msg = "Verdict must be accept or reject."
		case strings.Contains(raw, "run is in progress"):
			msg = "A pipeline run is in progress. Retry when it finishes."
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
