package auth

import (
	"fmt"
	"regexp"
	"slices"
	"time"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// MinPasswordLength is the shortest password accepted for new accounts.
const MinPasswordLength = 8

// ValidateUsername checks the username format: 1-64 letters, digits,
// dots, hyphens or underscores.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	return nil
}

// ValidatePassword checks the minimum password length.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: need at least %d characters", ErrWeakPassword, MinPasswordLength)
	}
	return nil
}

// Role is a user's authorisation tier.
type Role string

const (
	// RoleViewer can read devices and history but change nothing.
	RoleViewer Role = "viewer"

	// RoleUser can additionally operate devices and trigger rules.
	RoleUser Role = "user"

	// RoleAdmin has full control over hardware, rules, devices and users.
	RoleAdmin Role = "admin"
)

// Roles lists the valid roles from least to most privileged.
var Roles = []Role{RoleViewer, RoleUser, RoleAdmin}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return slices.Contains(Roles, r)
}

// User is a login account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RefreshToken is a stored refresh token. Only its hash is kept.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FamilyID  string    `json:"family_id"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenPair is returned by a login or refresh.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *User     `json:"user"`
}
