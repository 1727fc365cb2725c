package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTokenRoundTrip(t *testing.T) {
	secret := "test-secret"
	tokenStr, expiresAt, err := GenerateToken("visitor-123", secret, time.Hour)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	parsed, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	require.NoError(t, err)
	assert.True(t, parsed.Valid)

	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "visitor-123", claims["visitor_id"])
	assert.Equal(t, "visitor-123", claims["sub"])
}

func TestGenerateTokenValidation(t *testing.T) {
	_, _, err := GenerateToken("", "secret", time.Hour)
	assert.Error(t, err)

	_, _, err = GenerateToken("visitor", "", time.Hour)
	assert.Error(t, err)

	_, _, err = GenerateToken("visitor", "secret", 0)
	assert.Error(t, err)
}

func TestVisitorIDFromContext(t *testing.T) {
	secret := "test-secret"
	tokenStr, _, err := GenerateToken("visitor-9", secret, time.Hour)
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	parsed, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	require.NoError(t, err)
	c.Set("user", parsed)

	got, err := VisitorIDFromContext(c)
	require.NoError(t, err)
	assert.Equal(t, "visitor-9", got)
}

func TestVisitorIDFromContextWithoutToken(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	_, err := VisitorIDFromContext(c)
	assert.Error(t, err)
}
