// Package handlers provides HTTP handlers for the merge API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/danjuanyang/psm-merge/cmd/merge-api/middleware"
	"github.com/danjuanyang/psm-merge/internal/domain"
	"github.com/danjuanyang/psm-merge/internal/merge"
	"github.com/danjuanyang/psm-merge/internal/observability"
)

// MergeHandler handles preview, finalize and download requests.
type MergeHandler struct {
	logger             *observability.Logger
	service            *merge.Service
	defaultPageNumbers bool
}

// NewMergeHandler creates a new merge handler.
func NewMergeHandler(logger *observability.Logger, service *merge.Service, defaultPageNumbers bool) *MergeHandler {
	return &MergeHandler{
		logger:             logger.WithComponent("merge_handler"),
		service:            service,
		defaultPageNumbers: defaultPageNumbers,
	}
}

// PreviewRequestDTO represents the API request for a preview.
type PreviewRequestDTO struct {
	FileIDs     []int64             `json:"file_ids,omitempty"`
	Cover       domain.CoverOptions `json:"cover"`
	TOC         domain.TOCOptions   `json:"toc"`
	PageNumbers *bool               `json:"page_numbers,omitempty"`
}

// FinalizeRequestDTO represents the API request for a final document.
type FinalizeRequestDTO struct {
	PagesToDelete []int `json:"pages_to_delete_indices"`
}

// JobAcceptedDTO is returned when a job has been queued.
type JobAcceptedDTO struct {
	JobID       string `json:"job_id"`
	Kind        string `json:"kind"`
	ParentJobID string `json:"parent_job_id,omitempty"`
	Status      string `json:"status"`
	StatusURL   string `json:"status_url"`
}

// Preview handles POST /projects/{projectId}/merge/preview.
func (h *MergeHandler) Preview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.UserFromContext(ctx)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing user", "")
		return
	}

	projectID, err := strconv.ParseInt(chi.URLParam(r, "projectId"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid projectId", err.Error())
		return
	}

	var reqDTO PreviewRequestDTO
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}

	pageNumbers := h.defaultPageNumbers
	if reqDTO.PageNumbers != nil {
		pageNumbers = *reqDTO.PageNumbers
	}

	job, err := h.service.StartPreview(ctx, merge.StartPreviewRequest{
		ProjectID: projectID,
		FileIDs:   reqDTO.FileIDs,
		Config: domain.MergeConfig{
			Cover:       reqDTO.Cover,
			TOC:         reqDTO.TOC,
			PageNumbers: pageNumbers,
		},
		UserID: userID,
	})
	if err != nil {
		h.writeDomainError(w, "start preview failed", err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, acceptedDTO(job))
}

// Get handles GET /merge/jobs/{jobId}.
func (h *MergeHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing user", "")
		return
	}

	job, err := h.service.Poll(r.Context(), chi.URLParam(r, "jobId"), userID)
	if err != nil {
		h.writeDomainError(w, "get job failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// Finalize handles POST /merge/jobs/{jobId}/finalize.
func (h *MergeHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.UserFromContext(ctx)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing user", "")
		return
	}

	var reqDTO FinalizeRequestDTO
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}

	job, err := h.service.Finalize(ctx, chi.URLParam(r, "jobId"), reqDTO.PagesToDelete, userID)
	if err != nil {
		h.writeDomainError(w, "finalize failed", err)
		return
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Str("parent_job_id", job.ParentJobID).
		Ints("pages_to_delete", job.PagesToDelete).
		Msg("Final document requested")

	h.writeJSON(w, http.StatusAccepted, acceptedDTO(job))
}

// Download handles GET /merge/jobs/{jobId}/download.
func (h *MergeHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing user", "")
		return
	}

	dl, err := h.service.Download(r.Context(), chi.URLParam(r, "jobId"), userID)
	if err != nil {
		h.writeDomainError(w, "download failed", err)
		return
	}
	defer dl.File.Close()

	modTime := time.Time{}
	if info, err := dl.File.Stat(); err == nil {
		modTime = info.ModTime()
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.FileName}))
	http.ServeContent(w, r, dl.FileName, modTime, dl.File)
}

// PreviewImage handles GET /merge/previews/{sessionId}/{imageName}.
func (h *MergeHandler) PreviewImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing user", "")
		return
	}

	name := chi.URLParam(r, "imageName")
	f, err := h.service.PreviewImage(r.Context(), chi.URLParam(r, "sessionId"), name, userID)
	if err != nil {
		h.writeDomainError(w, "preview image failed", err)
		return
	}
	defer f.Close()

	modTime := time.Time{}
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, name, modTime, f)
}

// Delete handles DELETE /merge/jobs/{jobId}.
func (h *MergeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing user", "")
		return
	}

	if err := h.service.DeleteJob(r.Context(), chi.URLParam(r, "jobId"), userID); err != nil {
		h.writeDomainError(w, "delete job failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Events handles GET /merge/jobs/{jobId}/events as a server-sent event
// stream. The current job state is sent first, followed by every progress
// event until the job reaches a terminal status.
func (h *MergeHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.UserFromContext(ctx)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing user", "")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}

	job, events, cancel, err := h.service.Subscribe(ctx, chi.URLParam(r, "jobId"), userID)
	if err != nil {
		h.writeDomainError(w, "subscribe failed", err)
		return
	}
	defer cancel()

	// Streams outlive the server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	first, err := json.Marshal(domain.ProgressEvent{
		JobID:     job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		Message:   job.StatusMessage,
		Error:     job.ErrorMessage,
		Timestamp: job.UpdatedAt,
	})
	if err != nil {
		return
	}
	writeEvent(w, first)
	flusher.Flush()
	if job.Status.IsTerminal() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-events:
			if !ok {
				return
			}
			writeEvent(w, data)
			flusher.Flush()

			var ev domain.ProgressEvent
			if err := json.Unmarshal(data, &ev); err == nil && ev.Status.IsTerminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, data []byte) {
	fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
}

func acceptedDTO(job *domain.MergeJob) JobAcceptedDTO {
	return JobAcceptedDTO{
		JobID:       job.ID,
		Kind:        string(job.Kind),
		ParentJobID: job.ParentJobID,
		Status:      string(job.Status),
		StatusURL:   "/api/v1/merge/jobs/" + job.ID,
	}
}

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNoMergeableDocuments):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *MergeHandler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg(message)
		h.writeError(w, status, message, "")
		return
	}
	h.writeError(w, status, string(domain.TypeOf(err)), err.Error())
}

func (h *MergeHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to encode response")
	}
}

func (h *MergeHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	json.NewEncoder(w).Encode(resp)
}
