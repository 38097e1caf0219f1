package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$") {
		t.Errorf("hash = %q, want PHC argon2id prefix", hash)
	}

	ok, err := VerifyPassword("correct-horse-battery-staple", hash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if !ok {
		t.Error("VerifyPassword() = false for correct password")
	}

	ok, err = VerifyPassword("wrong-password", hash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if ok {
		t.Error("VerifyPassword() = true for wrong password")
	}
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	h1, _ := HashPassword("same-password") //nolint:errcheck // Checked via comparison
	h2, _ := HashPassword("same-password") //nolint:errcheck // Checked via comparison
	if h1 == h2 {
		t.Error("two hashes of the same password should differ")
	}
}

func TestVerifyPassword_Malformed(t *testing.T) {
	tests := []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$garbage$c2FsdA$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$a2V5",
	}
	for _, encoded := range tests {
		if _, err := VerifyPassword("x", encoded); !errors.Is(err, errBadHash) {
			t.Errorf("VerifyPassword(%q) error = %v, want errBadHash", encoded, err)
		}
	}
}

func TestNeedsRehash(t *testing.T) {
	current, err := HashPassword("password")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if NeedsRehash(current) {
		t.Error("hash with current parameters should not need a rehash")
	}

	weak, err := hashWith("password", argonParams{memory: 512, time: 1, threads: 1, keyLen: 32})
	if err != nil {
		t.Fatalf("hashWith() error = %v", err)
	}
	if !NeedsRehash(weak) {
		t.Error("hash with weaker memory should need a rehash")
	}
	if !NeedsRehash("garbage") {
		t.Error("malformed hash should need a rehash")
	}
}
