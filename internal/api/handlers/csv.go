package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/dvloznov/splitledger/internal/api/middleware"
	"github.com/dvloznov/splitledger/internal/jobs"
	"github.com/dvloznov/splitledger/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// JobService is the part of the pipeline service the CSV endpoints use.
type JobService interface {
	InitiateUpload(ctx context.Context, fileName, userID string) (*pipeline.UploadResult, error)
	ConfirmUploadAndInitiateProcessing(ctx context.Context, jobID string) error
	GetJobStatus(ctx context.Context, jobID string) (*pipeline.StatusView, error)
	ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.Job, error)
}

// CSVHandler handles the bulk CSV endpoints.
type CSVHandler struct {
	service JobService
	log     zerolog.Logger
}

// NewCSVHandler creates a new CSV handler.
func NewCSVHandler(service JobService, log zerolog.Logger) *CSVHandler {
	return &CSVHandler{
		service: service,
		log:     log,
	}
}

// InitiateUpload handles POST /csv/upload
func (h *CSVHandler) InitiateUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileName         string `json:"fileName"`
		RequestingUserID string `json:"requestingUserId"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.InitiateUpload(r.Context(), req.FileName, req.RequestingUserID)
	if err != nil {
		middleware.WriteAppError(w, h.log, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, result)
}

// UploadCompleted handles POST /csv/{jobId}/uploadCompleted
func (h *CSVHandler) UploadCompleted(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if strings.TrimSpace(jobID) == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	if err := h.service.ConfirmUploadAndInitiateProcessing(r.Context(), jobID); err != nil {
		middleware.WriteAppError(w, h.log, err)
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"jobId":   jobID,
		"message": "CSV processing started.",
	})
}

// GetJobStatus handles GET /csv/{jobId}
func (h *CSVHandler) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	view, err := h.service.GetJobStatus(r.Context(), jobID)
	if err != nil {
		middleware.WriteAppError(w, h.log, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, view)
}

// ListJobs handles GET /csv?userId=&status=&limit=&offset=
func (h *CSVHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		CreatedBy: query.Get("userId"),
		Status:    jobs.JobStatus(strings.ToUpper(query.Get("status"))),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		filter.Limit = limit
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "offset must be an integer")
			return
		}
		filter.Offset = offset
	}

	list, err := h.service.ListJobs(r.Context(), filter)
	if err != nil {
		middleware.WriteAppError(w, h.log, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}
