package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "devguard/internal/errors"
	"devguard/internal/jobs"
	"devguard/internal/registry"
)

type jobRequest struct {
	runRequest
	Tool string `json:"tool"`
}

func (s *Server) requireJobs(w http.ResponseWriter) bool {
	if s.deps.Jobs == nil {
		apperrors.SendError(w, apperrors.NewAppError(apperrors.ErrorTypeNotFound, "JOBS_DISABLED", "Background jobs are not enabled", nil))
		return false
	}
	return true
}

func jobError(err error, id string) *apperrors.AppError {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		return apperrors.NewNotFoundError(fmt.Sprintf("job %q", id))
	case errors.Is(err, jobs.ErrFinished), errors.Is(err, jobs.ErrDuplicate):
		return apperrors.NewAppError(apperrors.ErrorTypeValidation, "JOB_CONFLICT", err.Error(), nil)
	case errors.Is(err, jobs.ErrQueueFull):
		return apperrors.NewAppError(apperrors.ErrorTypeRateLimit, "QUEUE_FULL", err.Error(), nil)
	}
	return apperrors.NewInternalError("job operation failed", err)
}

// handleSubmitJob queues a tool run and returns immediately
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if !s.requireJobs(w) {
		return
	}
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.SendError(w, apperrors.NewValidationError("invalid JSON body", map[string]interface{}{"error": err.Error()}))
		return
	}
	tool, ok := s.deps.Registry.Lookup(req.Tool)
	if !ok {
		apperrors.SendError(w, apperrors.NewNotFoundError(fmt.Sprintf("tool %q", req.Tool)))
		return
	}
	path, display, appErr := s.resolveTarget(tool, req.runRequest)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}
	target := display
	if tool.TakesTopic() {
		target = req.Topic
	}

	job, err := s.deps.Jobs.Submit(tool.Name, path, target, registry.Options{
		Format:   req.Format,
		Topic:    req.Topic,
		Language: req.Language,
	})
	if err != nil {
		apperrors.SendError(w, jobError(err, ""))
		return
	}
	apperrors.SendSuccess(w, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	if !s.requireJobs(w) {
		return
	}
	list := s.deps.Jobs.List()
	apperrors.SendSuccess(w, map[string]interface{}{
		"jobs":  list,
		"total": len(list),
		"stats": s.deps.Jobs.Stats(),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if !s.requireJobs(w) {
		return
	}
	id := mux.Vars(r)["id"]
	job, err := s.deps.Jobs.Get(id)
	if err != nil {
		apperrors.SendError(w, jobError(err, id))
		return
	}
	apperrors.SendSuccess(w, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if !s.requireJobs(w) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.deps.Jobs.Cancel(id); err != nil {
		apperrors.SendError(w, jobError(err, id))
		return
	}
	job, _ := s.deps.Jobs.Get(id)
	apperrors.SendSuccess(w, job)
}
