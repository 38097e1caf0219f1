package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oikomaticz/oikomaticz-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	// WebSocket (auth via ticket, validated in handler)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)
		r.Post("/auth/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Put("/auth/password", s.handleChangeOwnPassword)

			r.Route("/devices", func(r chi.Router) {
				r.With(requirePermission(auth.PermDeviceRead)).Get("/", s.handleListDevices)
				r.Route("/{idx}", func(r chi.Router) {
					r.With(requirePermission(auth.PermDeviceRead)).Get("/", s.handleGetDevice)
					r.With(requirePermission(auth.PermDeviceRead)).Get("/history", s.handleDeviceHistory)
					r.With(requirePermission(auth.PermDeviceConfigure)).Patch("/", s.handleUpdateDevice)
					r.With(requirePermission(auth.PermDeviceConfigure)).Put("/value", s.handleSetDeviceValue)
					r.With(requirePermission(auth.PermDeviceOperate)).Post("/command", s.handleDeviceCommand)
				})
			})

			r.Route("/hardware", func(r chi.Router) {
				r.With(requirePermission(auth.PermSystemRead)).Get("/", s.handleListHardware)
				r.With(requirePermission(auth.PermSystemRead)).Get("/{id}", s.handleGetHardware)
				r.With(requirePermission(auth.PermHardwareManage)).Post("/{id}/restart", s.handleRestartHardware)
			})

			r.Route("/rules", func(r chi.Router) {
				r.With(requirePermission(auth.PermSystemRead)).Get("/", s.handleListRules)
				r.With(requirePermission(auth.PermRuleManage)).Post("/", s.handleCreateRule)
				r.Route("/{id}", func(r chi.Router) {
					r.With(requirePermission(auth.PermSystemRead)).Get("/", s.handleGetRule)
					r.With(requirePermission(auth.PermRuleManage)).Put("/", s.handleUpdateRule)
					r.With(requirePermission(auth.PermRuleManage)).Delete("/", s.handleDeleteRule)
					r.With(requirePermission(auth.PermRuleTrigger)).Post("/trigger", s.handleTriggerRule)
					r.With(requirePermission(auth.PermSystemRead)).Get("/executions", s.handleListExecutions)
				})
			})

			r.Route("/notifications", func(r chi.Router) {
				r.With(requirePermission(auth.PermSystemRead)).Get("/", s.handleListNotifications)
				r.With(requirePermission(auth.PermNotifyManage)).Post("/test", s.handleTestNotification)
				r.Route("/thresholds", func(r chi.Router) {
					r.Use(requirePermission(auth.PermNotifyManage))
					r.Get("/", s.handleListThresholds)
					r.Post("/", s.handleCreateThreshold)
					r.Delete("/{id}", s.handleDeleteThreshold)
				})
			})

			r.Route("/users", func(r chi.Router) {
				r.Use(requirePermission(auth.PermUserManage))
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
				r.Patch("/{id}", s.handleUpdateUser)
				r.Put("/{id}/password", s.handleSetUserPassword)
				r.Delete("/{id}", s.handleDeleteUser)
			})

			r.With(requirePermission(auth.PermSystemRead)).Get("/events", s.handleListEvents)
			r.With(requirePermission(auth.PermSystemRead)).Get("/system/status", s.handleSystemStatus)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
