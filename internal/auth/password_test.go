package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		ok       bool
	}{
		{"Ariane5-Launch!", true},
		{"Sh0rt!", false},
		{"alllowercase123!", false},
		{"NoDigitsHere!!", false},
		{"NoSymbols12345", false},
		{strings.Repeat("Aa1!", 19), false},
	}
	for _, tt := range tests {
		err := ValidatePassword(tt.password)
		if tt.ok {
			assert.NoError(t, err, tt.password)
		} else {
			assert.ErrorIs(t, err, ErrWeakPassword, tt.password)
		}
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("Ariane5-Launch!")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2a$12$"))

	assert.True(t, CheckPassword(hash, "Ariane5-Launch!"))
	assert.False(t, CheckPassword(hash, "ariane5-launch!"))
	assert.False(t, CheckPassword("", "anything"))
}

func TestHasRole(t *testing.T) {
	assert.True(t, HasRole("admin", RoleAdmin))
	assert.False(t, HasRole("admin", RoleSuperAdmin))
	assert.True(t, HasRole("super_admin", RoleAdmin))
	assert.True(t, HasRole("SUPER_ADMIN", RoleSuperAdmin))
	assert.False(t, HasRole("root", RoleSuperAdmin))
	assert.False(t, HasRole("admin"))
	assert.True(t, IsSuperAdmin("super_admin"))
	assert.False(t, ValidRole("editor"))
}
