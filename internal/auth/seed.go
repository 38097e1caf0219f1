package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	seedUsername      = "admin"
	seedPasswordBytes = 16
)

// SeedAdmin creates the initial admin account when no users exist. An
// empty password is replaced by a random one, which is returned and logged
// once. Returns "" when seeding was skipped.
func SeedAdmin(ctx context.Context, users UserRepository, password string, logger Logger) (string, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	count, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Debug("users exist, skipping admin seed")
		return "", nil
	}

	generated := password == ""
	if generated {
		b := make([]byte, seedPasswordBytes)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("generating seed password: %w", err)
		}
		password = hex.EncodeToString(b)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{
		Username:     seedUsername,
		DisplayName:  "Administrator",
		PasswordHash: hash,
		Role:         RoleAdmin,
		IsActive:     true,
	}
	if err := users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	if generated {
		logger.Warn("admin account created",
			"username", seedUsername,
			"password", password,
			"action_required", "change this password immediately",
		)
	} else {
		logger.Info("admin account created", "username", seedUsername)
	}
	return password, nil
}
