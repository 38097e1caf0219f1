package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/oikomaticz/oikomaticz-core/internal/notify"
)

const defaultNotificationLimit = 50

type testNotificationRequest struct {
	Subject  string `json:"subject"`
	Message  string `json:"message"`
	Priority int    `json:"priority"`
}

func (s *Server) notificationsAvailable(w http.ResponseWriter) bool {
	if s.notifications == nil {
		writeUnavailable(w, "notifications are not enabled")
		return false
	}
	return true
}

// handleListNotifications returns the most recent notifications.
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	if !s.notificationsAvailable(w) {
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultNotificationLimit
	}

	records, err := s.notifications.Recent(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []notify.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": records,
		"count":         len(records),
	})
}

// handleTestNotification sends a message through every transport.
func (s *Server) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	if !s.notificationsAvailable(w) {
		return
	}
	var req testNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Subject == "" {
		req.Subject = "Test notification"
	}
	if req.Message == "" {
		req.Message = "Notifications are working."
	}

	err := s.notifications.Send(r.Context(), notify.Message{
		Subject:  req.Subject,
		Text:     req.Message,
		Priority: req.Priority,
		Source:   notify.SourceAPI,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "sent"})
}

func (s *Server) handleListThresholds(w http.ResponseWriter, _ *http.Request) {
	if !s.notificationsAvailable(w) {
		return
	}
	thresholds := s.notifications.Thresholds()
	if thresholds == nil {
		thresholds = []notify.Threshold{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thresholds": thresholds,
		"count":      len(thresholds),
	})
}

func (s *Server) handleCreateThreshold(w http.ResponseWriter, r *http.Request) {
	if !s.notificationsAvailable(w) {
		return
	}
	var t notify.Threshold
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	t.ID = 0
	if _, err := s.devices.Get(r.Context(), t.DeviceIdx); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.notifications.AddThreshold(r.Context(), &t); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleDeleteThreshold(w http.ResponseWriter, r *http.Request) {
	if !s.notificationsAvailable(w) {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, "id must be a positive integer")
		return
	}
	if err := s.notifications.RemoveThreshold(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
