package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials("key", "secret", 42)

	token, err := service.GenerateToken(Credentials{APIKey: "key", APISecret: "secret"})
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)
	assert.False(t, token.Expiration.IsZero())
}

func TestGenerateTokenInvalidCredentials(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials("key", "secret", 42)

	testCases := []struct {
		name  string
		creds Credentials
	}{
		{name: "unknown key", creds: Credentials{APIKey: "other", APISecret: "secret"}},
		{name: "wrong secret", creds: Credentials{APIKey: "key", APISecret: "wrong"}},
		{name: "empty", creds: Credentials{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.GenerateToken(tc.creds)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestValidateTokenRoundTrip(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials("key", "secret", 42)

	token, err := service.GenerateToken(Credentials{APIKey: "key", APISecret: "secret"})
	require.NoError(t, err)

	claims, err := service.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.AccountID)
	assert.Contains(t, claims.Permissions, "trade")
}

func TestValidateTokenWrongSecret(t *testing.T) {
	issuer := NewService("issuer-secret")
	issuer.RegisterAPICredentials("key", "secret", 42)
	token, err := issuer.GenerateToken(Credentials{APIKey: "key", APISecret: "secret"})
	require.NoError(t, err)

	verifier := NewService("other-secret")
	_, err = verifier.ValidateToken(token.Token)
	assert.Error(t, err)
}

func TestValidateTokenGarbage(t *testing.T) {
	service := NewService("test-secret")
	_, err := service.ValidateToken("not-a-jwt")
	assert.Error(t, err)
}
