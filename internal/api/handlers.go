package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/clonehoundhq/clonehound/internal/cache"
	"github.com/clonehoundhq/clonehound/internal/model"
	"github.com/clonehoundhq/clonehound/internal/queue"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"queue_depth": s.queue.Depth(),
		"active_jobs": s.queue.ActiveCount(),
	})
}

func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	repos := s.reg.Repositories()
	if tag := r.URL.Query().Get("tag"); tag != "" {
		repos = s.reg.GetByTag(tag)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"repositories": repos,
		"count":        len(repos),
	})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups := s.reg.Groups()
	writeJSON(w, http.StatusOK, map[string]any{
		"groups": groups,
		"count":  len(groups),
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.queue.List()

	if raw := r.URL.Query().Get("state"); raw != "" {
		state := queue.State(raw)
		switch state {
		case queue.StateQueued, queue.StateRunning, queue.StateCompleted, queue.StateFailed, queue.StateCanceled:
		default:
			http.Error(w, "Unknown job state", http.StatusBadRequest)
			return
		}
		filtered := jobs[:0]
		for _, j := range jobs {
			if j.State == state {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, ok := s.queue.Get(id)
	if !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if err := s.queue.Cancel(id); err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		http.Error(w, s.sanitizeErrorMessage(err.Error()), http.StatusInternalServerError)
		return
	}
	// Queued jobs are canceled on the spot; running jobs settle once the
	// runner notices its context is gone. Return the current snapshot.
	job, _ := s.queue.Get(id)
	writeJSON(w, http.StatusAccepted, scanResponse{Job: &job, Message: "Cancellation requested"})
}

type scanRequest struct {
	Target  string `json:"target"`
	Kind    string `json:"kind,omitempty"`
	Trigger string `json:"trigger,omitempty"`
}

type scanResponse struct {
	Job     *queue.Job `json:"job,omitempty"`
	Message string     `json:"message,omitempty"`
	Error   string     `json:"error,omitempty"`
}

func normalizeTrigger(trigger string) string {
	trigger = strings.TrimSpace(trigger)
	if trigger == "" {
		return "manual"
	}
	return trigger
}

// handleTriggerScan enqueues a manual scan. The target may be a repository
// or a repository group; when the request leaves kind empty it is resolved
// from the registry. Manual triggers deliberately ignore the enabled flag
// and the on-demand frequency: both gate the scheduler, not the operator.
func (s *Server) handleTriggerScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !isValidTargetName(req.Target) {
		http.Error(w, "Invalid target name", http.StatusBadRequest)
		return
	}

	kind, err := s.resolveKind(req.Target, req.Kind)
	if err != nil {
		if errors.Is(err, errTargetUnknown) {
			http.Error(w, "Target not registered", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := s.queue.Enqueue(kind, req.Target, normalizeTrigger(req.Trigger))
	switch {
	case errors.Is(err, queue.ErrTargetBusy):
		writeJSON(w, http.StatusConflict, scanResponse{Job: &job, Error: "target already has an active job"})
		return
	case errors.Is(err, queue.ErrQueueClosed):
		http.Error(w, "Queue is shutting down", http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, s.sanitizeErrorMessage(err.Error()), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, scanResponse{Job: &job, Message: "Scan enqueued"})
}

var errTargetUnknown = errors.New("target not registered")

func (s *Server) resolveKind(target, requested string) (model.ScanKind, error) {
	_, isRepo := s.reg.GetByName(target)
	group, isGroup := s.reg.GetGroup(target)

	switch requested {
	case "":
		if isRepo {
			return model.ScanKindIntra, nil
		}
		if isGroup {
			kind := group.ScanType
			if kind == "" {
				kind = model.ScanKindInter
			}
			return kind, nil
		}
		return "", errTargetUnknown
	case string(model.ScanKindIntra):
		if !isRepo {
			return "", errTargetUnknown
		}
		return model.ScanKindIntra, nil
	case string(model.ScanKindInter):
		if !isGroup {
			return "", errTargetUnknown
		}
		return model.ScanKindInter, nil
	default:
		return "", errors.New("kind must be intra or inter")
	}
}

func (s *Server) handleRecentScans(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			http.Error(w, "limit must be between 1 and 100", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var scans []cache.Meta
	if s.cache != nil {
		var err error
		scans, err = s.cache.ListRecent(r.Context(), limit)
		if err != nil {
			http.Error(w, s.sanitizeErrorMessage(err.Error()), http.StatusInternalServerError)
			return
		}
	}
	if scans == nil {
		scans = []cache.Meta{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scans": scans,
		"count": len(scans),
	})
}
