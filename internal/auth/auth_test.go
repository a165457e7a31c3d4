package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kizuki/internal/auth"
)

func TestHashAndVerifyAPIKey(t *testing.T) {
	hash, err := auth.HashAPIKey("test-key-123")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	valid, err := auth.VerifyAPIKey("test-key-123", hash)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = auth.VerifyAPIKey("wrong-key", hash)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestVerifyAPIKeyRejectsMalformedHash(t *testing.T) {
	_, err := auth.VerifyAPIKey("key", "not-a-valid-encoding")
	assert.Error(t, err)
}

func TestKeyringEnabled(t *testing.T) {
	ring, err := auth.NewKeyring("s3cret")
	require.NoError(t, err)

	assert.True(t, ring.Enabled())
	assert.True(t, ring.Verify("s3cret"))
	assert.False(t, ring.Verify("wrong"))
	assert.False(t, ring.Verify(""))
}

func TestKeyringDisabled(t *testing.T) {
	ring, err := auth.NewKeyring("")
	require.NoError(t, err)

	assert.False(t, ring.Enabled())
	assert.True(t, ring.Verify(""))
	assert.True(t, ring.Verify("anything"))
}
