package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTGenerateValidate(t *testing.T) {
	manager := NewJWTManager([]byte("secret"), time.Hour, "spaceplaces")
	token, expiresAt, err := manager.Generate(42, "alice", "super_admin")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := manager.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "super_admin", claims.Role)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestJWTGenerateInvalid(t *testing.T) {
	manager := NewJWTManager([]byte("secret"), time.Hour, "spaceplaces")
	_, _, err := manager.Generate(0, "alice", "admin")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, _, err = manager.Generate(1, "alice", "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTValidateRejects(t *testing.T) {
	manager := NewJWTManager([]byte("secret"), time.Hour, "spaceplaces")

	_, err := manager.Validate("")
	assert.ErrorIs(t, err, ErrMissingToken)

	other := NewJWTManager([]byte("other"), time.Hour, "spaceplaces")
	token, _, err := other.Generate(1, "bob", "admin")
	require.NoError(t, err)
	_, err = manager.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong key")

	foreign := NewJWTManager([]byte("secret"), time.Hour, "someone-else")
	token, _, err = foreign.Generate(1, "bob", "admin")
	require.NoError(t, err)
	_, err = manager.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong issuer")

	expired := NewJWTManager([]byte("secret"), -time.Minute, "spaceplaces")
	token, _, err = expired.Generate(1, "bob", "admin")
	require.NoError(t, err)
	_, err = manager.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "1", "iss": "spaceplaces"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = manager.Validate(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")
}

func TestClaimsUserID_RejectsGarbage(t *testing.T) {
	c := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "abc"}}
	_, err := c.UserID()
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromHeader(t *testing.T) {
	_, err := TokenFromHeader("nope")
	assert.ErrorIs(t, err, ErrMissingToken)

	token, err := TokenFromHeader("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", token)
}
