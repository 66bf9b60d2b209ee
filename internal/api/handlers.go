package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/history"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/orchestrator"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/plugin"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    s.tasks.QueueDepth(),
		PluginsLoaded: len(s.plugins.List()),
	})
}

// handleSubmitTask handles POST /tasks. With ?wait=true the handler blocks
// until the task is terminal (bounded by MaxSyncWait) and returns the full
// result; otherwise it returns 202 with the task id.
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	oreq := orchestrator.Request{
		Capability: req.Capability,
		MaxRetries: -1,
	}
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &oreq.Payload); err != nil {
			s.writeError(w, http.StatusBadRequest, "payload must be a JSON object")
			return
		}
	}
	if req.Priority != "" {
		p, err := orchestrator.ParsePriority(req.Priority)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		oreq.Priority = p
	}
	if req.MaxRetries != nil {
		oreq.MaxRetries = *req.MaxRetries
	}
	if req.TimeoutMS > 0 {
		oreq.Timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	id, err := s.tasks.Submit(r.Context(), oreq)
	if err != nil {
		var ite *orchestrator.InvalidTaskError
		var qfe *orchestrator.QueueFullError
		switch {
		case errors.As(err, &ite):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &qfe):
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		res, err := s.tasks.Await(r.Context(), id, s.config.MaxSyncWait)
		if err != nil {
			if errors.Is(err, orchestrator.ErrAwaitTimeout) {
				// The task keeps running; hand back the id instead.
				s.writeJSON(w, http.StatusAccepted, SubmitTaskResponse{TaskID: id, State: string(orchestrator.StateRunning)})
				return
			}
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, res)
		return
	}

	s.writeJSON(w, http.StatusAccepted, SubmitTaskResponse{TaskID: id, State: string(orchestrator.StateQueued)})
}

// handleGetTask handles GET /tasks/{taskID}: live state first, then the
// persisted record for tasks from earlier runs.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")

	if res, state, ok := s.tasks.Get(id); ok {
		if res != nil {
			s.writeJSON(w, http.StatusOK, res)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "state": string(state)})
		return
	}

	if s.history != nil {
		rec, attempts, err := s.history.GetTask(r.Context(), id)
		if err == nil {
			s.writeJSON(w, http.StatusOK, map[string]any{"task": rec, "attempts": attempts})
			return
		}
		if !errors.Is(err, history.ErrNotFound) {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	s.writeError(w, http.StatusNotFound, "task not found")
}

// handleCancelTask handles DELETE /tasks/{taskID}.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	if !s.tasks.Cancel(id) {
		s.writeError(w, http.StatusConflict, "task is unknown or already terminal")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"task_id": id, "cancelling": true})
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"plugins": s.plugins.List()})
}

func (s *Server) handleGetPlugin(w http.ResponseWriter, r *http.Request) {
	info, ok := s.plugins.Get(chi.URLParam(r, "name"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "plugin not found")
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleEnablePlugin(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.plugins.Enable(name); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"plugin": name, "state": string(plugin.StateEnabled)})
}

func (s *Server) handleDisablePlugin(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.plugins.Disable(name); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"plugin": name, "state": string(plugin.StateDisabled)})
}

// handleReloadPlugin handles POST /plugins/reload. The body is a manifest
// document; the named plugin is hot-swapped to it.
func (s *Server) handleReloadPlugin(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	m, err := plugin.ParseManifest(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.plugins.HotReload(r.Context(), m); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"plugin": m.Name, "version": m.Version, "state": string(plugin.StateEnabled)})
}

func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req InvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pattern == "" {
		s.writeError(w, http.StatusBadRequest, "pattern is required")
		return
	}
	removed, err := s.cache.Invalidate(r.Context(), req.Pattern)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, InvalidateResponse{Pattern: req.Pattern, Removed: removed})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cache.Stats())
}

// handleEvents handles GET /events?since=<id>: a snapshot of the in-memory
// event ring after the given id.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "since must be an integer")
			return
		}
		since = parsed
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": s.hub.SnapshotSince(since)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}
