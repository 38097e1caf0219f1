package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oikomaticz/oikomaticz-core/internal/audit"
	"github.com/oikomaticz/oikomaticz-core/internal/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type createUserRequest struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Password    string    `json:"password"`
	Role        auth.Role `json:"role"`
}

type updateUserRequest struct {
	DisplayName *string    `json:"display_name,omitempty"`
	Role        *auth.Role `json:"role,omitempty"`
	IsActive    *bool      `json:"is_active,omitempty"`
}

// ─── Handlers ──────────────────────────────────────────────────────

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.auth.ListUsers(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleUser
	}

	user, err := s.auth.CreateUser(r.Context(), req.Username, req.DisplayName, req.Password, req.Role)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.record(r, audit.ActionCreate, audit.EntityUser, user.ID, map[string]any{"username": user.Username, "role": user.Role})
	writeJSON(w, http.StatusCreated, user)
}

// handleUpdateUser patches display name, role and active state.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	current, ok := s.findUser(w, r, id)
	if !ok {
		return
	}

	displayName, role, active := current.DisplayName, current.Role, current.IsActive
	if req.DisplayName != nil {
		displayName = *req.DisplayName
	}
	if req.Role != nil {
		role = *req.Role
	}
	if req.IsActive != nil {
		active = *req.IsActive
	}

	user, err := s.auth.UpdateUser(r.Context(), id, displayName, role, active)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.record(r, audit.ActionUpdate, audit.EntityUser, id, map[string]any{"role": user.Role, "is_active": user.IsActive})
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleSetUserPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.auth.ChangePassword(r.Context(), id, req.Password); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.record(r, audit.ActionUpdate, audit.EntityUser, id, map[string]any{"password": "changed"})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if claims := claimsFrom(r.Context()); claims != nil && claims.Subject == id {
		writeError(w, http.StatusConflict, ErrCodeConflict, "cannot delete your own account")
		return
	}
	if err := s.auth.DeleteUser(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.record(r, audit.ActionDelete, audit.EntityUser, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// findUser looks a user up in the account list.
func (s *Server) findUser(w http.ResponseWriter, r *http.Request, id string) (*auth.User, bool) {
	users, err := s.auth.ListUsers(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return nil, false
	}
	for i := range users {
		if users[i].ID == id {
			return &users[i], true
		}
	}
	writeNotFound(w, "user not found")
	return nil, false
}
