package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestService_LoginAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := testService(t)
	mustCreateUser(t, svc, "alice", "password123", RoleUser)

	pair, err := svc.Login(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if pair.TokenType != "Bearer" || pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Errorf("Login() pair = %+v", pair)
	}

	claims, err := svc.Authenticate(pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if claims.Username != "alice" || claims.Role != RoleUser {
		t.Errorf("claims = %+v", claims)
	}
}

func TestService_LoginFailures(t *testing.T) {
	ctx := context.Background()
	svc, users, _ := testService(t)
	u := mustCreateUser(t, svc, "alice", "password123", RoleUser)

	if _, err := svc.Login(ctx, "alice", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(ctx, "nobody", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v, want ErrInvalidCredentials", err)
	}

	u.IsActive = false
	if err := users.Update(ctx, u); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if _, err := svc.Login(ctx, "alice", "password123"); !errors.Is(err, ErrUserInactive) {
		t.Errorf("inactive user error = %v, want ErrUserInactive", err)
	}
}

func TestService_RefreshRotates(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := testService(t)
	mustCreateUser(t, svc, "alice", "password123", RoleUser)

	first, err := svc.Login(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	second, err := svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("Refresh() should issue a new refresh token")
	}
	if _, err := svc.Refresh(ctx, second.RefreshToken); err != nil {
		t.Errorf("refreshing the rotated token error = %v", err)
	}
}

func TestService_RefreshReuseRevokesFamily(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := testService(t)
	mustCreateUser(t, svc, "alice", "password123", RoleUser)

	first, _ := svc.Login(ctx, "alice", "password123") //nolint:errcheck // Covered elsewhere
	second, err := svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	// Replaying the first token is a theft signal.
	if _, err := svc.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrTokenReuse) {
		t.Fatalf("replay error = %v, want ErrTokenReuse", err)
	}
	if _, err := svc.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrTokenReuse) {
		t.Errorf("descendant after reuse error = %v, want ErrTokenReuse", err)
	}
}

func TestService_RefreshExpired(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := testService(t)
	mustCreateUser(t, svc, "alice", "password123", RoleUser)

	pair, _ := svc.Login(ctx, "alice", "password123") //nolint:errcheck // Covered elsewhere
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("error = %v, want ErrTokenExpired", err)
	}
}

func TestService_Logout(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := testService(t)
	mustCreateUser(t, svc, "alice", "password123", RoleUser)

	pair, _ := svc.Login(ctx, "alice", "password123") //nolint:errcheck // Covered elsewhere
	if err := svc.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.RefreshToken); err == nil {
		t.Error("Refresh() after logout should fail")
	}
	if err := svc.Logout(ctx, "never-issued"); err != nil {
		t.Errorf("Logout() of unknown token error = %v", err)
	}
}

func TestService_CreateUserValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := testService(t)

	tests := []struct {
		name     string
		username string
		password string
		role     Role
		want     error
	}{
		{"bad username", "has space", "password123", RoleUser, ErrInvalidUsername},
		{"short password", "bob", "short", RoleUser, ErrWeakPassword},
		{"bad role", "bob", "password123", "owner", ErrInvalidRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CreateUser(ctx, tt.username, "", tt.password, tt.role); !errors.Is(err, tt.want) {
				t.Errorf("CreateUser() error = %v, want %v", err, tt.want)
			}
		})
	}

	u := mustCreateUser(t, svc, "bob", "password123", RoleViewer)
	if u.DisplayName != "bob" {
		t.Errorf("DisplayName = %q, want username fallback", u.DisplayName)
	}
	if _, err := svc.CreateUser(ctx, "bob", "", "password123", RoleViewer); !errors.Is(err, ErrUsernameExists) {
		t.Errorf("duplicate error = %v, want ErrUsernameExists", err)
	}
}

func TestService_LastAdminGuard(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := testService(t)
	admin := mustCreateUser(t, svc, "root", "password123", RoleAdmin)

	if _, err := svc.UpdateUser(ctx, admin.ID, "", RoleUser, true); !errors.Is(err, ErrLastAdmin) {
		t.Errorf("demote error = %v, want ErrLastAdmin", err)
	}
	if _, err := svc.UpdateUser(ctx, admin.ID, "", RoleAdmin, false); !errors.Is(err, ErrLastAdmin) {
		t.Errorf("disable error = %v, want ErrLastAdmin", err)
	}
	if err := svc.DeleteUser(ctx, admin.ID); !errors.Is(err, ErrLastAdmin) {
		t.Errorf("delete error = %v, want ErrLastAdmin", err)
	}

	mustCreateUser(t, svc, "second", "password123", RoleAdmin)
	if _, err := svc.UpdateUser(ctx, admin.ID, "Former", RoleUser, true); err != nil {
		t.Errorf("demote with another admin error = %v", err)
	}
}

func TestService_ChangePasswordRevokesSessions(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := testService(t)
	u := mustCreateUser(t, svc, "alice", "password123", RoleUser)

	pair, _ := svc.Login(ctx, "alice", "password123") //nolint:errcheck // Covered elsewhere
	if err := svc.ChangePassword(ctx, u.ID, "new-password-1"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.RefreshToken); err == nil {
		t.Error("old session should be revoked")
	}
	if _, err := svc.Login(ctx, "alice", "new-password-1"); err != nil {
		t.Errorf("Login() with new password error = %v", err)
	}
}

func TestSeedAdmin(t *testing.T) {
	ctx := context.Background()
	svc, users, _ := testService(t)

	password, err := SeedAdmin(ctx, users, "", nil)
	if err != nil {
		t.Fatalf("SeedAdmin() error = %v", err)
	}
	if len(password) != 2*seedPasswordBytes {
		t.Errorf("generated password length = %d", len(password))
	}
	if _, err := svc.Login(ctx, seedUsername, password); err != nil {
		t.Errorf("Login() as seeded admin error = %v", err)
	}

	again, err := SeedAdmin(ctx, users, "explicit", nil)
	if err != nil || again != "" {
		t.Errorf("second SeedAdmin() = %q, %v; want skip", again, err)
	}
}
