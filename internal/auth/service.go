package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
)

// Logger defines the logging interface used by the Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Service implements login, token refresh and user administration.
type Service struct {
	users  UserRepository
	tokens TokenRepository

	secret     string
	accessTTL  time.Duration
	refreshTTL time.Duration

	now    func() time.Time
	logger Logger
}

// NewService creates an auth service. TTLs in cfg are minutes.
func NewService(users UserRepository, tokens TokenRepository, cfg config.JWTConfig) *Service {
	s := &Service{
		users:      users,
		tokens:     tokens,
		secret:     cfg.Secret,
		accessTTL:  time.Duration(cfg.AccessTokenTTL) * time.Minute,
		refreshTTL: time.Duration(cfg.RefreshTokenTTL) * time.Minute,
		now:        time.Now,
		logger:     noopLogger{},
	}
	if s.accessTTL <= 0 {
		s.accessTTL = defaultAccessTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = defaultRefreshTTL
	}
	return s
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// Login verifies credentials and starts a new token family.
func (s *Service) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		// Burn the same time as a real verification.
		VerifyPassword(password, dummyHash()) //nolint:errcheck // Timing only
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		s.logger.Warn("login failed", "username", username)
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	if NeedsRehash(user.PasswordHash) {
		if hash, err := HashPassword(password); err == nil {
			if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
				s.logger.Warn("password rehash failed", "user_id", user.ID, "error", err)
			}
		}
	}

	pair, err := s.issue(ctx, user, "")
	if err != nil {
		return nil, err
	}
	s.logger.Info("user logged in", "username", user.Username)
	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. Presenting an already
// rotated token revokes the whole family.
func (s *Service) Refresh(ctx context.Context, raw string) (*TokenPair, error) {
	stored, err := s.tokens.GetByHash(ctx, HashToken(raw))
	if err != nil {
		return nil, err
	}

	if stored.Revoked {
		s.logger.Warn("refresh token reuse detected", "user_id", stored.UserID, "family_id", stored.FamilyID)
		if err := s.tokens.RevokeFamily(ctx, stored.FamilyID); err != nil {
			return nil, err
		}
		return nil, ErrTokenReuse
	}
	if !s.now().Before(stored.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	user, err := s.users.GetByID(ctx, stored.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		if err := s.tokens.RevokeAllForUser(ctx, user.ID); err != nil {
			return nil, err
		}
		return nil, ErrUserInactive
	}

	return s.rotate(ctx, user, stored)
}

// Logout revokes the family of the given refresh token. Unknown tokens are
// ignored.
func (s *Service) Logout(ctx context.Context, raw string) error {
	stored, err := s.tokens.GetByHash(ctx, HashToken(raw))
	if errors.Is(err, ErrTokenInvalid) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.tokens.RevokeFamily(ctx, stored.FamilyID)
}

// Authenticate validates an access token.
func (s *Service) Authenticate(token string) (*Claims, error) {
	return ParseAccessToken(token, s.secret)
}

// CreateUser validates and stores a new account.
func (s *Service) CreateUser(ctx context.Context, username, displayName, password string, role Role) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = username
	}

	user := &User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("user created", "username", username, "role", role)
	return user, nil
}

// ListUsers returns all accounts.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.users.List(ctx)
}

// UpdateUser changes display name, role and active state. Demoting or
// disabling the last active admin is refused.
func (s *Service) UpdateUser(ctx context.Context, id, displayName string, role Role, active bool) (*User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	losesAdmin := user.Role == RoleAdmin && user.IsActive && (role != RoleAdmin || !active)
	if losesAdmin {
		if err := s.guardLastAdmin(ctx); err != nil {
			return nil, err
		}
	}

	if displayName != "" {
		user.DisplayName = displayName
	}
	user.Role = role
	user.IsActive = active
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	if !active {
		if err := s.tokens.RevokeAllForUser(ctx, id); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// ChangePassword sets a new password and signs the user out everywhere.
func (s *Service) ChangePassword(ctx context.Context, id, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, id, hash); err != nil {
		return err
	}
	return s.tokens.RevokeAllForUser(ctx, id)
}

// DeleteUser removes an account. The last active admin cannot be deleted.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if user.Role == RoleAdmin && user.IsActive {
		if err := s.guardLastAdmin(ctx); err != nil {
			return err
		}
	}
	return s.users.Delete(ctx, id)
}

// PurgeExpired removes expired refresh tokens.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.tokens.DeleteExpired(ctx, s.now())
}

func (s *Service) guardLastAdmin(ctx context.Context) error {
	n, err := s.users.CountActiveAdmins(ctx)
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrLastAdmin
	}
	return nil
}

func (s *Service) issue(ctx context.Context, user *User, familyID string) (*TokenPair, error) {
	pair, stored, err := s.newPair(user, familyID)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Create(ctx, stored); err != nil {
		return nil, err
	}
	return pair, nil
}

func (s *Service) rotate(ctx context.Context, user *User, old *RefreshToken) (*TokenPair, error) {
	pair, stored, err := s.newPair(user, old.FamilyID)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Rotate(ctx, old.ID, stored); err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			// A concurrent refresh already rotated it.
			if rerr := s.tokens.RevokeFamily(ctx, old.FamilyID); rerr != nil {
				return nil, rerr
			}
			return nil, ErrTokenReuse
		}
		return nil, err
	}
	return pair, nil
}

func (s *Service) newPair(user *User, familyID string) (*TokenPair, *RefreshToken, error) {
	now := s.now()
	access, expires, err := IssueAccessToken(user, s.secret, s.accessTTL, now)
	if err != nil {
		return nil, nil, err
	}
	raw, err := NewRefreshToken()
	if err != nil {
		return nil, nil, err
	}

	stored := &RefreshToken{
		UserID:    user.ID,
		FamilyID:  familyID,
		TokenHash: HashToken(raw),
		ExpiresAt: now.Add(s.refreshTTL).UTC().Truncate(time.Second),
		CreatedAt: now.UTC().Truncate(time.Second),
	}
	pair := &TokenPair{
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "Bearer",
		ExpiresAt:    expires,
		User:         user,
	}
	return pair, stored, nil
}
