package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/audit"
	"github.com/oikomaticz/oikomaticz-core/internal/auth"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

// ticketStore holds pending WebSocket tickets. Tickets are single-use and
// expire after ticketTTL.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]ticketEntry
}

type ticketEntry struct {
	userID    string
	role      auth.Role
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// issue stores a new ticket for the caller.
func (t *ticketStore) issue(claims *auth.Claims, now time.Time) string {
	b := make([]byte, 32)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	ticket := hex.EncodeToString(b)

	t.mu.Lock()
	t.tickets[ticket] = ticketEntry{userID: claims.Subject, role: claims.Role, expiresAt: now.Add(ticketTTL)}
	t.mu.Unlock()
	return ticket
}

// consume validates and removes a ticket.
func (t *ticketStore) consume(ticket string, now time.Time) (ticketEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}
	delete(t.tickets, ticket)
	return entry, now.Before(entry.expiresAt)
}

func (t *ticketStore) expire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ticket, entry := range t.tickets {
		if now.After(entry.expiresAt) {
			delete(t.tickets, ticket)
		}
	}
}

// handleLogin exchanges credentials for a token pair.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(clientIP(r), time.Now()) {
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "too many login attempts")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	pair, err := s.auth.Login(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeUnauthorized(w, "invalid username or password")
		return
	case errors.Is(err, auth.ErrUserInactive):
		writeForbidden(w, "account is disabled")
		return
	case err != nil:
		s.writeServiceError(w, r, err)
		return
	}

	if s.events != nil {
		s.events.Record(r.Context(), &audit.Entry{
			Action:     audit.ActionLogin,
			EntityType: audit.EntityUser,
			EntityID:   pair.User.ID,
			UserID:     pair.User.ID,
			Source:     "api",
			Details:    map[string]any{"ip": clientIP(r)},
		})
	}
	writeJSON(w, http.StatusOK, pair)
}

// handleRefresh rotates a refresh token.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeBadRequest(w, "refresh_token is required")
		return
	}

	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	switch {
	case errors.Is(err, auth.ErrTokenInvalid), errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenReuse), errors.Is(err, auth.ErrTokenRevoked),
		errors.Is(err, auth.ErrUserInactive), errors.Is(err, auth.ErrUserNotFound):
		writeUnauthorized(w, err.Error())
		return
	case err != nil:
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// handleLogout revokes the session of a refresh token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeBadRequest(w, "refresh_token is required")
		return
	}
	if err := s.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the caller's identity and permissions.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          claims.Subject,
		"username":    claims.Username,
		"role":        claims.Role,
		"permissions": auth.PermissionsForRole(claims.Role),
	})
}

// handleChangeOwnPassword lets any user change their own password.
func (s *Server) handleChangeOwnPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.auth.ChangePassword(r.Context(), claimsFrom(r.Context()).Subject, req.Password); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWSTicket issues a single-use WebSocket ticket so the access token
// never appears in a URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	ticket := s.tickets.issue(claimsFrom(r.Context()), time.Now())
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}
