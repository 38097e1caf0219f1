package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TokenRepository persists refresh tokens.
type TokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	Rotate(ctx context.Context, oldID string, next *RefreshToken) error
	Revoke(ctx context.Context, id string) error
	RevokeFamily(ctx context.Context, familyID string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SQLiteTokenRepository implements TokenRepository on refresh_tokens.
type SQLiteTokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a SQLite-backed token repository.
func NewTokenRepository(db *sql.DB) *SQLiteTokenRepository {
	return &SQLiteTokenRepository{db: db}
}

// Create inserts a token, generating the ID and family when empty.
func (r *SQLiteTokenRepository) Create(ctx context.Context, t *RefreshToken) error {
	return insertToken(ctx, r.db, t)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertToken(ctx context.Context, db execer, t *RefreshToken) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.FamilyID == "" {
		t.FamilyID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, family_id, token_hash, expires_at, revoked, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.FamilyID, t.TokenHash,
		t.ExpiresAt.UTC().Format(time.RFC3339), boolToInt(t.Revoked),
		t.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating refresh token: %w", err)
	}
	return nil
}

// GetByHash looks a token up by the hash of its raw value.
func (r *SQLiteTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	var t RefreshToken
	var revoked int
	var expiresAt, createdAt string

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, family_id, token_hash, expires_at, revoked, created_at
		 FROM refresh_tokens WHERE token_hash = ?`, tokenHash,
	).Scan(&t.ID, &t.UserID, &t.FamilyID, &t.TokenHash, &expiresAt, &revoked, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("getting refresh token: %w", err)
	}

	t.Revoked = revoked != 0
	t.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // Written by this package
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Written by this package
	return &t, nil
}

// Rotate revokes oldID and inserts next in the same family, atomically.
func (r *SQLiteTokenRepository) Rotate(ctx context.Context, oldID string, next *RefreshToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning rotation: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	result, err := tx.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1 WHERE id = ? AND revoked = 0", oldID)
	if err != nil {
		return fmt.Errorf("revoking old token: %w", err)
	}
	// Lost a race with a concurrent refresh of the same token.
	if err := expectAffected(result, ErrTokenRevoked); err != nil {
		return err
	}

	if err := insertToken(ctx, tx, next); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rotation: %w", err)
	}
	return nil
}

// Revoke revokes a single token.
func (r *SQLiteTokenRepository) Revoke(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE refresh_tokens SET revoked = 1 WHERE id = ?", id); err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

// RevokeFamily revokes every token descended from the same login.
func (r *SQLiteTokenRepository) RevokeFamily(ctx context.Context, familyID string) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE refresh_tokens SET revoked = 1 WHERE family_id = ?", familyID); err != nil {
		return fmt.Errorf("revoking token family: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes all of a user's tokens.
func (r *SQLiteTokenRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("revoking user tokens: %w", err)
	}
	return nil
}

// DeleteExpired removes tokens that expired before now.
func (r *SQLiteTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at < ?", now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}
	return result.RowsAffected()
}
