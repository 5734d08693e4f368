package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/jobdance/internal/logger"
	"github.com/yoockh/jobdance/internal/models"
)

const secret = "test-secret"

func init() { gin.SetMode(gin.TestMode) }

func sign(t *testing.T, sub, role, aud string) string {
	t.Helper()
	claims := supabaseClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "authenticated",
	}
	if aud != "" {
		claims.Audience = jwt.ClaimStrings{aud}
	}
	if role != "" {
		claims.AppMetadata = map[string]any{"role": role}
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func router(cfg JWTConfig) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(logger.Discard()))
	auth := r.Group("/", JWTAuth(cfg))
	auth.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id")})
	})
	auth.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := router(JWTConfig{Secret: secret, Audience: "authenticated"})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, "u-1", "", "authenticated"))
	w := do(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "u-1")
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, do(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, "u-1", "", "someone-else"))
	assert.Equal(t, http.StatusUnauthorized, do(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, "", "", "authenticated"))
	assert.Equal(t, http.StatusUnauthorized, do(r, req).Code)
}

func TestAccessTokenQueryOnlyForWebSocket(t *testing.T) {
	r := router(JWTConfig{Secret: secret})
	tok := sign(t, "u-1", "", "")

	req := httptest.NewRequest(http.MethodGet, "/me?access_token="+tok, nil)
	assert.Equal(t, http.StatusUnauthorized, do(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/me?access_token="+tok, nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	assert.Equal(t, http.StatusOK, do(r, req).Code)
}

func TestRequireAdmin(t *testing.T) {
	r := router(JWTConfig{Secret: secret})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, "u-1", "", ""))
	assert.Equal(t, http.StatusForbidden, do(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, "u-1", string(models.RoleAdmin), ""))
	assert.Equal(t, http.StatusNoContent, do(r, req).Code)
}

func TestMissingSecretIsServerError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusInternalServerError, do(router(JWTConfig{}), req).Code)
}
