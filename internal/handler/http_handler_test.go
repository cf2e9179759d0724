package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Cyril666325/Bitfoniz-sub002/internal/domain"
	"github.com/Cyril666325/Bitfoniz-sub002/internal/repository"
	"github.com/Cyril666325/Bitfoniz-sub002/internal/service"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/middleware"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/pubsub"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/response"
)

const testSecret = "test-secret"

func newTestAPI(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := filepath.Join(t.TempDir(), "support.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.RoomModel{}, &domain.MessageModel{}))

	bus := pubsub.NewMemoryPubSub()
	t.Cleanup(func() { bus.Close() })

	svc := service.NewSessionService(
		repository.NewGormRoomRepository(db),
		repository.NewGormMessageRepository(db),
		bus,
		nil, 0, nil,
	)

	r := gin.New()
	NewHandler(svc, middleware.NewAuthMiddleware(testSecret)).RegisterRoutes(r)
	return r
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: userID,
		Role:   role,
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return raw
}

func do(t *testing.T, r *gin.Engine, method, path, bearer, body string) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var envelope response.Response
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	}
	return w, envelope
}

func createRoomID(t *testing.T, r *gin.Engine, userToken string) string {
	t.Helper()
	w, env := do(t, r, http.MethodPost, "/api/v1/rooms", userToken, `{"subject":"billing"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	room := env.Data.(map[string]interface{})
	return room["id"].(string)
}

func TestCreateRoomEndpoint(t *testing.T) {
	r := newTestAPI(t)
	user := token(t, "user-1", middleware.RoleUser)

	w, env := do(t, r, http.MethodPost, "/api/v1/rooms", user, `{"subject":"billing"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, env.Success)
	room := env.Data.(map[string]interface{})
	assert.Equal(t, "open", room["status"])
	assert.Equal(t, "user-1", room["user_id"])

	// Second active room for the same user.
	w, env = do(t, r, http.MethodPost, "/api/v1/rooms", user, `{"subject":"again"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "DUPLICATE_ACTIVE_ROOM", env.Error.Code)

	// No token at all.
	w, _ = do(t, r, http.MethodPost, "/api/v1/rooms", "", `{"subject":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLifecycleEndpoints(t *testing.T) {
	r := newTestAPI(t)
	user := token(t, "user-1", middleware.RoleUser)
	admin := token(t, "admin-1", middleware.RoleAdmin)
	roomID := createRoomID(t, r, user)

	// Users cannot operate triage routes.
	w, _ := do(t, r, http.MethodPost, "/api/v1/rooms/"+roomID+"/claim", user, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := do(t, r, http.MethodPost, "/api/v1/rooms/"+roomID+"/claim", admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	room := env.Data.(map[string]interface{})
	assert.Equal(t, "pending", room["status"])
	assert.Equal(t, "admin-1", room["admin_id"])

	// Resolving an open room is rejected with its own code.
	other := token(t, "admin-2", middleware.RoleAdmin)
	w, env = do(t, r, http.MethodPost, "/api/v1/rooms/"+roomID+"/resolve", other, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = do(t, r, http.MethodPost, "/api/v1/rooms/"+roomID+"/resolve", admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	room = env.Data.(map[string]interface{})
	assert.Equal(t, "closed", room["status"])

	// Admin append after close maps to ROOM_CLOSED.
	w, env = do(t, r, http.MethodPost, "/api/v1/rooms/"+roomID+"/messages", admin, `{"body":"late"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "ROOM_CLOSED", env.Error.Code)

	// Claiming a closed room has no edge.
	w, env = do(t, r, http.MethodPost, "/api/v1/rooms/"+roomID+"/claim", admin, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_TRANSITION", env.Error.Code)
}

func TestMessageEndpoints(t *testing.T) {
	r := newTestAPI(t)
	user := token(t, "user-1", middleware.RoleUser)
	stranger := token(t, "user-2", middleware.RoleUser)
	roomID := createRoomID(t, r, user)

	w, env := do(t, r, http.MethodPost, "/api/v1/rooms/"+roomID+"/messages", user, `{"body":"hello"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	msg := env.Data.(map[string]interface{})
	assert.Equal(t, float64(1), msg["seq"])

	// Empty body fails request validation.
	w, _ = do(t, r, http.MethodPost, "/api/v1/rooms/"+roomID+"/messages", user, `{"body":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// A non-participant is shut out.
	w, _ = do(t, r, http.MethodGet, "/api/v1/rooms/"+roomID+"/messages", stranger, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = do(t, r, http.MethodGet, "/api/v1/rooms/"+roomID+"/messages?after_seq=0&limit=10", user, "")
	require.Equal(t, http.StatusOK, w.Code)
	msgs := env.Data.(map[string]interface{})["messages"].([]interface{})
	assert.Len(t, msgs, 1)

	w, _ = do(t, r, http.MethodGet, "/api/v1/rooms/"+roomID+"/messages?after_seq=-1", user, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/v1/rooms/missing/messages", user, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRoomsEndpoint(t *testing.T) {
	r := newTestAPI(t)
	user := token(t, "user-1", middleware.RoleUser)
	admin := token(t, "admin-1", middleware.RoleAdmin)
	createRoomID(t, r, user)

	// Admin-only.
	w, _ := do(t, r, http.MethodGet, "/api/v1/rooms?status=open", user, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := do(t, r, http.MethodGet, "/api/v1/rooms?status=open", admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	rooms := env.Data.(map[string]interface{})["rooms"].([]interface{})
	assert.Len(t, rooms, 1)

	w, _ = do(t, r, http.MethodGet, "/api/v1/rooms?status=bogus", admin, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReassignEndpointValidation(t *testing.T) {
	r := newTestAPI(t)
	user := token(t, "user-1", middleware.RoleUser)
	admin := token(t, "admin-1", middleware.RoleAdmin)
	roomID := createRoomID(t, r, user)

	w, _ := do(t, r, http.MethodPost, "/api/v1/rooms/"+roomID+"/reassign", admin, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := do(t, r, http.MethodPost, "/api/v1/rooms/"+roomID+"/reassign", admin, `{"admin_id":"admin-2"}`)
	require.Equal(t, http.StatusOK, w.Code)
	room := env.Data.(map[string]interface{})
	assert.Equal(t, "admin-2", room["admin_id"])
	assert.Equal(t, "pending", room["status"])
}
