package delco

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("portal-key"))
	require.NoError(t, err)
	return tok
}

func TestMergeBrowserTokensPrefersNetwork(t *testing.T) {
	tok, err := mergeBrowserTokens(`{"accessToken":"stored","refreshToken":"r","idToken":"i"}`, "wire")
	require.NoError(t, err)
	assert.Equal(t, "wire", tok.AccessToken)
	assert.Equal(t, "r", tok.RefreshToken)
	assert.Equal(t, "i", tok.IDToken)
	assert.True(t, tok.Expiry.IsZero(), "opaque tokens carry no expiry")
}

func TestMergeBrowserTokensFallsBackToStorage(t *testing.T) {
	tok, err := mergeBrowserTokens(`{"accessToken":"stored","refreshToken":"r"}`, "")
	require.NoError(t, err)
	assert.Equal(t, "stored", tok.AccessToken)
	assert.Equal(t, "r", tok.RefreshToken)
}

func TestMergeBrowserTokensReadsExpiry(t *testing.T) {
	exp := time.Date(2025, 4, 2, 13, 0, 0, 0, time.UTC)
	access := signedToken(t, exp)

	tok, err := mergeBrowserTokens(`{}`, access)
	require.NoError(t, err)
	assert.Equal(t, access, tok.AccessToken)
	assert.True(t, exp.Equal(tok.Expiry))
	assert.False(t, tok.Valid(exp.Add(time.Minute)))
}

func TestMergeBrowserTokensNothingCaptured(t *testing.T) {
	_, err := mergeBrowserTokens("", "")
	assert.Error(t, err)

	_, err = mergeBrowserTokens("not json", "wire")
	assert.Error(t, err)
}
