package server

import (
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/me/harvest/internal/scheduler"
	"github.com/me/harvest/pkg/model"
)

type healthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	GoVersion  string `json:"go_version"`
	Uptime     string `json:"uptime"`
	Collectors int    `json:"collectors"`
	AllIdle    bool   `json:"all_idle"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, healthResponse{
		Status:     "healthy",
		Version:    "0.1.0",
		GoVersion:  runtime.Version(),
		Uptime:     time.Since(s.startTime).Round(time.Second).String(),
		Collectors: len(s.scheduler.Collectors()),
		AllIdle:    s.scheduler.AllIdle(),
	})
}

func (s *Server) collectorInfo(info scheduler.Info) model.CollectorInfo {
	ci := model.CollectorInfo{
		Handle: uint64(info.Handle),
		Name:   info.Name,
		Group:  info.Group.String(),
	}
	if state, ok := s.scheduler.State(info.Handle); ok {
		ci.State = state.String()
	}
	return ci
}

// handleListCollectors returns all registered collectors, optionally
// filtered by ?group=<uuid>.
func (s *Server) handleListCollectors(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var infos []scheduler.Info
	if groupParam := r.URL.Query().Get("group"); groupParam != "" {
		group, err := uuid.Parse(groupParam)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest,
				&model.APIError{Code: model.ErrValidation, Message: "group must be a UUID"})
			return
		}
		infos = s.scheduler.GroupCollectors(group)
	} else {
		infos = s.scheduler.Collectors()
	}

	out := make([]model.CollectorInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, s.collectorInfo(info))
	}
	respondOK(w, reqID, out)
}

func (s *Server) handleGetCollector(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	raw := chi.URLParam(r, "handle")
	h, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			&model.APIError{Code: model.ErrValidation, Message: "handle must be an integer"})
		return
	}

	state, ok := s.scheduler.State(scheduler.Handle(h))
	if !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("collector", raw))
		return
	}

	for _, info := range s.scheduler.Collectors() {
		if info.Handle == scheduler.Handle(h) {
			ci := s.collectorInfo(info)
			ci.State = state.String()
			respondOK(w, reqID, ci)
			return
		}
	}
	respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("collector", raw))
}

func (s *Server) handleRemoveCollector(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	raw := chi.URLParam(r, "handle")
	h, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			&model.APIError{Code: model.ErrValidation, Message: "handle must be an integer"})
		return
	}
	if _, ok := s.scheduler.State(scheduler.Handle(h)); !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("collector", raw))
		return
	}

	s.scheduler.Remove(scheduler.Handle(h))
	respondOK(w, reqID, map[string]string{"removed": raw})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	s.scheduleMu.Lock()
	defer s.scheduleMu.Unlock()

	n := len(s.scheduler.Collectors())
	start := time.Now()
	err := s.scheduler.Schedule(r.Context())
	if err != nil {
		if errors.Is(err, scheduler.ErrUnmetDependencies) {
			respondError(w, reqID, http.StatusConflict, model.NewConflictError(err.Error()))
			return
		}
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}

	respondOK(w, reqID, model.ScheduleResult{
		Collectors: n,
		Duration:   time.Since(start).Round(time.Millisecond).String(),
	})
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	// Prefer the plugin manager view when available; fall back to the
	// plugins that have written records.
	if s.plugins != nil {
		respondOK(w, reqID, s.plugins.Plugins())
		return
	}

	plugins, err := s.store.ListPlugins(r.Context())
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	respondOK(w, reqID, plugins)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	name := chi.URLParam(r, "name")

	recs, err := s.store.ListRecords(r.Context(), name)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if len(recs) == 0 {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("plugin", name))
		return
	}
	respondOK(w, reqID, recs)
}
