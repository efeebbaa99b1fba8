package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Lllllllleong/documenttranslator/internal/models"
	"github.com/Lllllllleong/documenttranslator/internal/pagesource"
	"github.com/Lllllllleong/documenttranslator/internal/services"
)

// translationService is the part of services.TranslationService the HTTP layer uses.
type translationService interface {
	Submit(ctx context.Context, filename string, data []byte) (*models.SubmitResponse, error)
	Progress(ctx context.Context, jobID string) (*models.ProgressResponse, error)
	Output(ctx context.Context, jobID string) (*models.OutputResponse, error)
	CostSummary(ctx context.Context, jobID string) (*models.CostSummary, error)
	Delete(ctx context.Context, jobID string) (*models.DeleteResponse, error)
	ListJobs(ctx context.Context, limit int) ([]models.JobListItem, error)
	MaxUploadBytes() int64
}

type errorResponse struct {
	Error string `json:"error"`
}

// newRouter maps the HTTP surface onto the translation service.
func newRouter(svc translationService) http.Handler {
	h := &handler{svc: svc}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("POST /upload", h.upload)
	mux.HandleFunc("GET /progress/{jobID}", h.progress)
	mux.HandleFunc("GET /files", h.listFiles)
	mux.HandleFunc("GET /view/{jobID}", h.view)
	mux.HandleFunc("GET /download/{jobID}/{format}", h.download)
	mux.HandleFunc("GET /cost/{jobID}", h.cost)
	mux.HandleFunc("POST /delete/{jobID}", h.delete)
	mux.HandleFunc("DELETE /jobs/{jobID}", h.delete)
	return mux
}

type handler struct {
	svc translationService
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handler) upload(w http.ResponseWriter, r *http.Request) {
	limit := h.svc.MaxUploadBytes()
	// Room for the multipart envelope on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File too large. Maximum size is %dMB", limit>>20))
			return
		}
		slog.Warn("Upload attempt with no file part", "error", err)
		writeError(w, http.StatusBadRequest, "No file part")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No selected file")
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		slog.Error("Failed to read upload", "error", err)
		writeError(w, http.StatusBadRequest, "Could not read uploaded file")
		return
	}

	resp, err := h.svc.Submit(r.Context(), header.Filename, data)
	if err != nil {
		h.fail(w, "upload", err)
		return
	}
	status := http.StatusAccepted
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (h *handler) progress(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Progress(r.Context(), r.PathValue("jobID"))
	if err != nil {
		h.fail(w, "progress", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) listFiles(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	jobs, err := h.svc.ListJobs(r.Context(), limit)
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *handler) view(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Output(r.Context(), r.PathValue("jobID"))
	if err != nil {
		h.fail(w, "view", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobID")
	format := r.PathValue("format")

	var contentType string
	switch format {
	case "md":
		contentType = "text/markdown; charset=utf-8"
	case "txt":
		contentType = "text/plain; charset=utf-8"
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported download format %q", format))
		return
	}

	resp, err := h.svc.Output(r.Context(), jobID)
	if err != nil {
		h.fail(w, "download", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", jobID+"."+format))
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, resp.Content); err != nil {
		slog.Error("Failed to write download", "jobId", jobID, "error", err)
	}
}

func (h *handler) cost(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.CostSummary(r.Context(), r.PathValue("jobID"))
	if err != nil {
		h.fail(w, "cost", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Delete(r.Context(), r.PathValue("jobID"))
	if err != nil {
		h.fail(w, "delete", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// fail maps service errors to status codes without exposing internals.
func (h *handler) fail(w http.ResponseWriter, op string, err error) {
	var formatErr *pagesource.DocumentFormatError
	switch {
	case errors.Is(err, services.ErrInvalidUpload):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &formatErr):
		writeError(w, http.StatusBadRequest, "The uploaded file is not a readable PDF: "+formatErr.Reason)
	case errors.Is(err, services.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, services.ErrOutputNotReady):
		writeError(w, http.StatusConflict, "Output is not available yet")
	case errors.Is(err, services.ErrJobRunning):
		writeError(w, http.StatusConflict, "Job is still running")
	default:
		slog.Error("Request failed", "operation", op, "error", err)
		writeError(w, http.StatusInternalServerError, "An error occurred during "+op)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
