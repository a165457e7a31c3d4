package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for the ingest key. One hash runs at startup and one
// per authenticated write, so a memory-hard cost is affordable; 19 MiB with
// two passes follows the current OWASP guidance for Argon2id.
const (
	ingestHashTime    = 2
	ingestHashMemory  = 19 * 1024 // KiB
	ingestHashThreads = 1
	ingestHashLen     = 32
	ingestSaltLen     = 16
)

// HashAPIKey hashes an ingest key with Argon2id, returning "salt$hash" with
// both parts base64-encoded.
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, ingestSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(apiKey), salt,
		ingestHashTime, ingestHashMemory, ingestHashThreads, ingestHashLen)

	return base64.RawStdEncoding.EncodeToString(salt) + "$" +
		base64.RawStdEncoding.EncodeToString(hash), nil
}

// VerifyAPIKey checks an ingest key against an encoded hash in constant time.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	saltPart, hashPart, found := strings.Cut(encoded, "$")
	if !found {
		return false, fmt.Errorf("auth: invalid hash format")
	}

	salt, err := base64.RawStdEncoding.DecodeString(saltPart)
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(hashPart)
	if err != nil {
		return false, fmt.Errorf("auth: decode hash: %w", err)
	}

	got := argon2.IDKey([]byte(apiKey), salt,
		ingestHashTime, ingestHashMemory, ingestHashThreads, ingestHashLen)

	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

// DummyVerify burns the same Argon2id cost as a real verification. Called on
// failure paths where no hash was checked, so response timing does not
// depend on where verification stopped.
func DummyVerify() {
	argon2.IDKey([]byte("dummy"), make([]byte, ingestSaltLen),
		ingestHashTime, ingestHashMemory, ingestHashThreads, ingestHashLen)
}
