package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/oikomaticz/oikomaticz-core/internal/audit"
	"github.com/oikomaticz/oikomaticz-core/internal/hardware"
)

func parseHardwareID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeBadRequest(w, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) handleListHardware(w http.ResponseWriter, _ *http.Request) {
	list := s.hardware.List()
	if list == nil {
		list = []hardware.Info{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hardware": list,
		"count":    len(list),
	})
}

func (s *Server) handleGetHardware(w http.ResponseWriter, r *http.Request) {
	id, ok := parseHardwareID(w, r)
	if !ok {
		return
	}
	info, err := s.hardware.Get(id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleRestartHardware stops and starts one adapter.
func (s *Server) handleRestartHardware(w http.ResponseWriter, r *http.Request) {
	id, ok := parseHardwareID(w, r)
	if !ok {
		return
	}
	if err := s.hardware.Restart(id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.record(r, audit.ActionRestart, audit.EntityHardware, strconv.Itoa(id), nil)

	info, err := s.hardware.Get(id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
