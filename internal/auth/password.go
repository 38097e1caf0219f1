package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// argonParams are the Argon2id cost parameters encoded into each hash.
type argonParams struct {
	memory  uint32 // KiB
	time    uint32
	threads uint8
	keyLen  uint32
}

var (
	defaultArgon = argonParams{memory: 64 * 1024, time: 3, threads: 1, keyLen: 32}

	errBadHash = errors.New("auth: malformed password hash")
)

const saltLen = 16

var b64 = base64.RawStdEncoding

// HashPassword hashes password with Argon2id into the PHC string form
// $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>.
func HashPassword(password string) (string, error) {
	return hashWith(password, defaultArgon)
}

func hashWith(password string, p argonParams) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.time, p.threads,
		b64.EncodeToString(salt), b64.EncodeToString(key),
	), nil
}

// VerifyPassword reports whether password matches the encoded hash, using
// the parameters stored in the hash.
func VerifyPassword(password, encoded string) (bool, error) {
	p, salt, key, err := parseHash(encoded)
	if err != nil {
		return false, err
	}
	candidate := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLen)
	return subtle.ConstantTimeCompare(key, candidate) == 1, nil
}

// NeedsRehash reports whether encoded was made with weaker parameters than
// the current defaults.
func NeedsRehash(encoded string) bool {
	p, _, _, err := parseHash(encoded)
	if err != nil {
		return true
	}
	return p.memory < defaultArgon.memory || p.time < defaultArgon.time || p.keyLen < defaultArgon.keyLen
}

func parseHash(encoded string) (argonParams, []byte, []byte, error) {
	var p argonParams

	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return p, nil, nil, errBadHash
	}
	if parts[1] != "argon2id" {
		return p, nil, nil, fmt.Errorf("%w: algorithm %q", errBadHash, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: version %q", errBadHash, parts[2])
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return p, nil, nil, fmt.Errorf("%w: parameters %q", errBadHash, parts[3])
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, fmt.Errorf("%w: salt", errBadHash)
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, fmt.Errorf("%w: key", errBadHash)
	}
	p.keyLen = uint32(len(key)) //nolint:gosec // G115: key length always fits uint32

	return p, salt, key, nil
}

// dummyHash is verified against when a login names an unknown user.
var dummyHash = sync.OnceValue(func() string {
	h, _ := HashPassword("oikomaticz-dummy-password") //nolint:errcheck // Only fails if the OS RNG does
	return h
})
