// Package auth guards write endpoints with a shared ingest API key.
//
// The configured key is hashed with Argon2id at startup; requests present
// the plaintext key and are verified in constant time. An empty configured
// key disables authentication, which is only appropriate for local
// development.
package auth

import (
	"fmt"
)

// Keyring verifies request API keys against the configured ingest key.
type Keyring struct {
	hash string // empty means auth is disabled
}

// NewKeyring hashes the ingest key. An empty key yields an open keyring.
func NewKeyring(ingestKey string) (*Keyring, error) {
	if ingestKey == "" {
		return &Keyring{}, nil
	}
	hash, err := HashAPIKey(ingestKey)
	if err != nil {
		return nil, fmt.Errorf("auth: hash ingest key: %w", err)
	}
	return &Keyring{hash: hash}, nil
}

// Enabled reports whether requests must present a key.
func (k *Keyring) Enabled() bool {
	return k.hash != ""
}

// Verify checks a presented key. With auth disabled every key, including
// an absent one, is accepted. On the failure path a dummy hash keeps
// response timing independent of where verification failed.
func (k *Keyring) Verify(apiKey string) bool {
	if !k.Enabled() {
		return true
	}
	if apiKey == "" {
		DummyVerify()
		return false
	}
	ok, err := VerifyAPIKey(apiKey, k.hash)
	if err != nil {
		return false
	}
	return ok
}
