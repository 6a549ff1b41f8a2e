package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey(t *testing.T) {
	_, err := DeriveKey(nil, "p")
	require.ErrorIs(t, err, ErrInvalidMasterSecret)
	_, err = DeriveKey([]byte{}, "p")
	require.ErrorIs(t, err, ErrInvalidMasterSecret)

	a, err := DeriveKey([]byte("master-secret-with-enough-entropy"), "purpose-a")
	require.NoError(t, err)
	assert.Len(t, a, DerivedKeyLength)

	again, err := DeriveKey([]byte("master-secret-with-enough-entropy"), "purpose-a")
	require.NoError(t, err)
	assert.Equal(t, a, again, "derivation is deterministic")

	b, err := DeriveKey([]byte("master-secret-with-enough-entropy"), "purpose-b")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	other, err := DeriveKey([]byte("another-master-secret"), "purpose-a")
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}

func TestAdminAndCSRFKeysAreSeparate(t *testing.T) {
	secret := []byte("a-very-long-jwt-secret-for-the-server")
	jwtKey, err := DeriveAdminJWTKey(secret)
	require.NoError(t, err)
	csrfKey, err := DeriveCSRFKey(secret)
	require.NoError(t, err)

	assert.Len(t, csrfKey, 32, "gorilla/csrf needs a 32-byte key")
	assert.NotEqual(t, jwtKey, csrfKey)
	assert.NotEqual(t, secret[:32], csrfKey)
}
