package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(a *Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", a.AuthRequired(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c)})
	})
	return r
}

func TestAuthenticator(t *testing.T) {
	auth := NewAuthenticator("test-secret", time.Hour, zerolog.Nop())

	t.Run("Token Round Trip", func(t *testing.T) {
		token, err := auth.GenerateToken("user-1", "alice@example.com")
		require.NoError(t, err)

		claims, err := auth.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.UserID)
		assert.Equal(t, "alice@example.com", claims.Email)
	})

	t.Run("Wrong Secret Rejected", func(t *testing.T) {
		other := NewAuthenticator("other-secret", time.Hour, zerolog.Nop())
		token, err := other.GenerateToken("user-1", "alice@example.com")
		require.NoError(t, err)

		_, err = auth.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("Expired Token Rejected", func(t *testing.T) {
		expired := NewAuthenticator("test-secret", -time.Minute, zerolog.Nop())
		token, err := expired.GenerateToken("user-1", "alice@example.com")
		require.NoError(t, err)

		_, err = auth.ValidateToken(token)
		assert.Error(t, err)
	})
}

func TestAuthRequired(t *testing.T) {
	auth := NewAuthenticator("test-secret", time.Hour, zerolog.Nop())
	r := newTestRouter(auth)

	t.Run("Missing Header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Malformed Header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Basic abc123")
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Invalid Token", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Valid Token", func(t *testing.T) {
		token, err := auth.GenerateToken("user-1", "alice@example.com")
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "user-1")
	})
}
