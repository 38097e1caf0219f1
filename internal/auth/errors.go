package auth

import "errors"

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserNotFound       = errors.New("auth: user not found")
	ErrUserInactive       = errors.New("auth: user account is inactive")
	ErrUsernameExists     = errors.New("auth: username already exists")
	ErrInvalidUsername    = errors.New("auth: invalid username")
	ErrInvalidRole        = errors.New("auth: invalid role")
	ErrWeakPassword       = errors.New("auth: password too short")
	ErrTokenExpired       = errors.New("auth: token has expired")
	ErrTokenRevoked       = errors.New("auth: token has been revoked")
	ErrTokenInvalid       = errors.New("auth: invalid token")
	ErrTokenReuse         = errors.New("auth: refresh token reuse detected")
	ErrForbidden          = errors.New("auth: insufficient permissions")
	ErrLastAdmin          = errors.New("auth: cannot remove the last admin")
)
