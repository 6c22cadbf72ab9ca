package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voxlate/voxlate/internal/jobs"
)

// handleCreateJob accepts a multipart upload ("file" field) plus
// source_language and target_language form fields, and queues an async
// translation job for the recording.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+4096)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", "expected multipart form with a file field")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", "file field is required")
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}

	job, err := s.jobService.Submit(
		r.Context(),
		audioData,
		r.FormValue("source_language"),
		r.FormValue("target_language"),
	)
	if err != nil {
		var verr *jobs.ValidationError
		switch {
		case errors.As(err, &verr):
			respondError(w, http.StatusBadRequest, "invalid_upload", verr.Reason)
		case errors.Is(err, jobs.ErrQueueFull):
			respondError(w, http.StatusServiceUnavailable, "queue_full", "too many jobs queued, try again later")
		default:
			respondError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobService.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobAudio(w http.ResponseWriter, r *http.Request) {
	audioData, err := s.jobService.Result(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "job not found")
		return
	case errors.Is(err, jobs.ErrNotReady):
		respondError(w, http.StatusBadRequest, "not_ready", "job has not completed yet")
		return
	case err != nil:
		respondError(w, http.StatusBadRequest, "job_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audioData)
}
