package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func createTestUser(t *testing.T, repo *SQLiteUserRepository) *User {
	t.Helper()

	u := &User{Username: "tokenuser", PasswordHash: "h", Role: RoleUser, IsActive: true}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return u
}

func TestTokenRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	user := createTestUser(t, NewUserRepository(db))
	repo := NewTokenRepository(db)

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	tok := &RefreshToken{UserID: user.ID, TokenHash: HashToken("raw"), ExpiresAt: expires}
	if err := repo.Create(ctx, tok); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if tok.ID == "" || tok.FamilyID == "" {
		t.Fatalf("Create() should assign ID and family, got %+v", tok)
	}

	got, err := repo.GetByHash(ctx, HashToken("raw"))
	if err != nil {
		t.Fatalf("GetByHash() error = %v", err)
	}
	if got.ID != tok.ID || got.UserID != user.ID || got.Revoked || !got.ExpiresAt.Equal(expires) {
		t.Errorf("GetByHash() = %+v", got)
	}

	if _, err := repo.GetByHash(ctx, HashToken("unknown")); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("unknown hash error = %v, want ErrTokenInvalid", err)
	}
}

func TestTokenRepository_Rotate(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	user := createTestUser(t, NewUserRepository(db))
	repo := NewTokenRepository(db)

	first := &RefreshToken{UserID: user.ID, TokenHash: HashToken("one"), ExpiresAt: time.Now().Add(time.Hour)}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	second := &RefreshToken{UserID: user.ID, FamilyID: first.FamilyID, TokenHash: HashToken("two"), ExpiresAt: time.Now().Add(time.Hour)}
	if err := repo.Rotate(ctx, first.ID, second); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	old, _ := repo.GetByHash(ctx, HashToken("one")) //nolint:errcheck // Checked below
	if old == nil || !old.Revoked {
		t.Error("rotated token should be revoked")
	}

	// Rotating the same token again must fail and insert nothing.
	third := &RefreshToken{UserID: user.ID, FamilyID: first.FamilyID, TokenHash: HashToken("three"), ExpiresAt: time.Now().Add(time.Hour)}
	if err := repo.Rotate(ctx, first.ID, third); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("second Rotate() error = %v, want ErrTokenRevoked", err)
	}
	if _, err := repo.GetByHash(ctx, HashToken("three")); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("failed rotation should not store the new token, err = %v", err)
	}
}

func TestTokenRepository_RevokeFamilyAndExpire(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	user := createTestUser(t, NewUserRepository(db))
	repo := NewTokenRepository(db)

	now := time.Now()
	a := &RefreshToken{UserID: user.ID, FamilyID: "fam", TokenHash: HashToken("a"), ExpiresAt: now.Add(time.Hour)}
	b := &RefreshToken{UserID: user.ID, FamilyID: "fam", TokenHash: HashToken("b"), ExpiresAt: now.Add(time.Hour)}
	c := &RefreshToken{UserID: user.ID, FamilyID: "other", TokenHash: HashToken("c"), ExpiresAt: now.Add(-time.Hour)}
	for _, tok := range []*RefreshToken{a, b, c} {
		if err := repo.Create(ctx, tok); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	if err := repo.RevokeFamily(ctx, "fam"); err != nil {
		t.Fatalf("RevokeFamily() error = %v", err)
	}
	for _, raw := range []string{"a", "b"} {
		got, err := repo.GetByHash(ctx, HashToken(raw))
		if err != nil || !got.Revoked {
			t.Errorf("token %s should be revoked (err = %v)", raw, err)
		}
	}
	if got, _ := repo.GetByHash(ctx, HashToken("c")); got == nil || got.Revoked { //nolint:errcheck // Checked via got
		t.Error("token of another family should stay valid")
	}

	n, err := repo.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired() = %d, want 1", n)
	}
}

func TestTokenRepository_CascadeOnUserDelete(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	users := NewUserRepository(db)
	user := createTestUser(t, users)
	repo := NewTokenRepository(db)

	if err := repo.Create(ctx, &RefreshToken{UserID: user.ID, TokenHash: HashToken("x"), ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := users.Delete(ctx, user.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByHash(ctx, HashToken("x")); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("token should be deleted with its user, err = %v", err)
	}
}
