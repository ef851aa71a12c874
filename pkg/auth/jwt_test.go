package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateResolvesIdentity(t *testing.T) {
	v := NewValidator("secret", "boardsync")
	token := signToken(t, "secret", jwt.MapClaims{
		"sub":  "user-1",
		"name": "Pat",
		"iss":  "boardsync",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	identity, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.UserID)
	assert.Equal(t, "Pat", identity.DisplayName)
}

func TestDisplayNameFallsBackToUserID(t *testing.T) {
	v := NewValidator("secret", "")
	token := signToken(t, "secret", jwt.MapClaims{"sub": "user-1"})

	identity, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.DisplayName)
}

func TestValidateRejections(t *testing.T) {
	v := NewValidator("secret", "boardsync")

	_, err := v.Validate("not-a-token")
	assert.Error(t, err)

	_, err = v.Validate(signToken(t, "wrong-secret", jwt.MapClaims{"sub": "u", "iss": "boardsync"}))
	assert.Error(t, err, "bad signature")

	_, err = v.Validate(signToken(t, "secret", jwt.MapClaims{"sub": "u", "iss": "other"}))
	assert.Error(t, err, "wrong issuer")

	_, err = v.Validate(signToken(t, "secret", jwt.MapClaims{"iss": "boardsync"}))
	assert.Error(t, err, "missing subject")

	_, err = v.Validate(signToken(t, "secret", jwt.MapClaims{
		"sub": "u", "iss": "boardsync", "exp": time.Now().Add(-time.Hour).Unix(),
	}))
	assert.Error(t, err, "expired token")
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws/doc-1?token=query-token", nil)
	assert.Equal(t, "query-token", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws/doc-1", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws/doc-1", nil)
	r.AddCookie(&http.Cookie{Name: "auth_token", Value: "cookie-token"})
	assert.Equal(t, "cookie-token", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws/doc-1", nil)
	assert.Empty(t, TokenFromRequest(r))
}
