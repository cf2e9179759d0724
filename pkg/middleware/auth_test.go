package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cyril666325/Bitfoniz-sub002/pkg/response"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, userID, role string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		UserID: userID,
		Role:   role,
	})
	raw, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func newTestRouter(m *AuthMiddleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", m.RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c), "role": GetRole(c)})
	})
	r.GET("/admin", m.RequireAuth(), m.RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *response.ErrorInfo {
	t.Helper()
	var env response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.False(t, env.Success)
	require.NotNil(t, env.Error)
	return env.Error
}

func TestParseTokenRoundTrip(t *testing.T) {
	m := NewAuthMiddleware(testSecret)
	raw := signToken(t, testSecret, "user-1", RoleUser, time.Now().Add(time.Hour))

	claims, err := m.ParseToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, RoleUser, claims.Role)
}

func TestParseTokenRejections(t *testing.T) {
	m := NewAuthMiddleware(testSecret)

	expired := signToken(t, testSecret, "user-1", RoleUser, time.Now().Add(-time.Hour))
	_, err := m.ParseToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongKey := signToken(t, "other-secret", "user-1", RoleUser, time.Now().Add(time.Hour))
	_, err = m.ParseToken(wrongKey)
	assert.ErrorIs(t, err, ErrInvalidToken)

	badRole := signToken(t, testSecret, "user-1", "superuser", time.Now().Add(time.Hour))
	_, err = m.ParseToken(badRole)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequireAuthHeaderAndQueryToken(t *testing.T) {
	m := NewAuthMiddleware(testSecret)
	r := newTestRouter(m)
	raw := signToken(t, testSecret, "user-1", RoleUser, time.Now().Add(time.Hour))

	// Bearer header.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(AuthHeaderKey, BearerPrefix+raw)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "user-1")

	// Query parameter, the websocket path.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/whoami?token="+raw, nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// No token at all.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, w).Code)

	// Garbage token.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/whoami?token=not-a-jwt", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, w).Code)
}

func TestRequireAdmin(t *testing.T) {
	m := NewAuthMiddleware(testSecret)
	r := newTestRouter(m)

	adminToken := signToken(t, testSecret, "admin-1", RoleAdmin, time.Now().Add(time.Hour))
	userToken := signToken(t, testSecret, "user-1", RoleUser, time.Now().Add(time.Hour))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set(AuthHeaderKey, BearerPrefix+adminToken)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set(AuthHeaderKey, BearerPrefix+userToken)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", decodeError(t, w).Code)
}
