package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Cyril666325/Bitfoniz-sub002/internal/domain"
	"github.com/Cyril666325/Bitfoniz-sub002/internal/service"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/log"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/middleware"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/response"
)

// Handler handles HTTP requests for the support session API.
type Handler struct {
	sessions       service.SessionService
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new HTTP handler.
func NewHandler(sessions service.SessionService, authMiddleware *middleware.AuthMiddleware) *Handler {
	return &Handler{
		sessions:       sessions,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		rooms := api.Group("/rooms", h.authMiddleware.RequireAuth())
		{
			rooms.POST("", h.CreateRoom)
			rooms.GET("/:id", h.GetRoom)
			rooms.GET("", h.authMiddleware.RequireAdmin(), h.ListRooms)

			rooms.POST("/:id/messages", h.AppendMessage)
			rooms.GET("/:id/messages", h.ListMessages)
			rooms.POST("/:id/read", h.MarkRead)

			rooms.POST("/:id/claim", h.authMiddleware.RequireAdmin(), h.Claim)
			rooms.POST("/:id/resolve", h.authMiddleware.RequireAdmin(), h.Resolve)
			rooms.POST("/:id/release", h.authMiddleware.RequireAdmin(), h.Release)
			rooms.POST("/:id/reassign", h.authMiddleware.RequireAdmin(), h.Reassign)
		}
	}
}

func actorFrom(c *gin.Context) service.Actor {
	return service.Actor{
		ID:   middleware.GetUserID(c),
		Role: middleware.GetRole(c),
	}
}

// writeServiceError maps coordinator errors onto the response envelope.
func writeServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		response.NotFound(c, "room not found")
	case errors.Is(err, domain.ErrForbidden):
		response.Forbidden(c, "not a participant of this room")
	case errors.Is(err, domain.ErrNotAssignedAdmin):
		response.Forbidden(c, "room is assigned to another admin")
	case errors.Is(err, domain.ErrRoomClosed):
		response.Conflict(c, "ROOM_CLOSED", "room is closed")
	case errors.Is(err, domain.ErrDuplicateActiveRoom):
		response.Conflict(c, "DUPLICATE_ACTIVE_ROOM", "an active room already exists for this user")
	case errors.Is(err, domain.ErrInvalidTransition):
		response.Conflict(c, "INVALID_TRANSITION", "room state does not allow this operation")
	case errors.Is(err, domain.ErrConflict):
		response.Conflict(c, "CONFLICT", "room changed concurrently, retry")
	default:
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg(fallback)
		response.InternalError(c, fallback)
	}
}

// CreateRoom opens a new support room for the calling user.
func (h *Handler) CreateRoom(c *gin.Context) {
	ctx := c.Request.Context()

	var req domain.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	room, err := h.sessions.CreateRoom(ctx, actorFrom(c), &req)
	if err != nil {
		writeServiceError(c, err, "failed to create room")
		return
	}

	response.Created(c, room)
}

// GetRoom retrieves a room by ID.
func (h *Handler) GetRoom(c *gin.Context) {
	ctx := c.Request.Context()

	room, err := h.sessions.GetRoom(ctx, actorFrom(c), c.Param("id"))
	if err != nil {
		writeServiceError(c, err, "failed to get room")
		return
	}

	response.Success(c, room)
}

// ListRooms lists rooms by status for admin triage.
func (h *Handler) ListRooms(c *gin.Context) {
	ctx := c.Request.Context()

	status := domain.RoomStatus(c.Query("status"))
	if !status.Valid() {
		response.BadRequest(c, "status must be one of open, pending, closed")
		return
	}

	rooms, err := h.sessions.ListRoomsByStatus(ctx, actorFrom(c), status)
	if err != nil {
		writeServiceError(c, err, "failed to list rooms")
		return
	}

	response.Success(c, gin.H{"rooms": rooms})
}

// AppendMessage appends a message to the room's log.
func (h *Handler) AppendMessage(c *gin.Context) {
	ctx := c.Request.Context()

	var req domain.AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	msg, err := h.sessions.AppendMessage(ctx, actorFrom(c), c.Param("id"), req.Body)
	if err != nil {
		writeServiceError(c, err, "failed to append message")
		return
	}

	response.Created(c, msg)
}

// ListMessages reads the log forward from after_seq, the catch-up read.
func (h *Handler) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()

	afterSeq, err := strconv.ParseInt(c.DefaultQuery("after_seq", "0"), 10, 64)
	if err != nil || afterSeq < 0 {
		response.BadRequest(c, "after_seq must be a non-negative integer")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		response.BadRequest(c, "limit must be a non-negative integer")
		return
	}

	msgs, err := h.sessions.ListMessages(ctx, actorFrom(c), c.Param("id"), afterSeq, limit)
	if err != nil {
		writeServiceError(c, err, "failed to list messages")
		return
	}

	response.Success(c, gin.H{"messages": msgs})
}

// MarkRead flags the counterparty's messages as read.
func (h *Handler) MarkRead(c *gin.Context) {
	ctx := c.Request.Context()

	var req domain.MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	updated, err := h.sessions.MarkRead(ctx, actorFrom(c), c.Param("id"), req.MessageIDs)
	if err != nil {
		writeServiceError(c, err, "failed to mark messages read")
		return
	}

	response.Success(c, gin.H{"updated": updated})
}

// Claim assigns an open room to the calling admin.
func (h *Handler) Claim(c *gin.Context) {
	h.transition(c, func(a service.Actor, roomID string) (*domain.Room, error) {
		return h.sessions.Claim(c.Request.Context(), a, roomID)
	}, "failed to claim room")
}

// Resolve closes a pending room handled by the calling admin.
func (h *Handler) Resolve(c *gin.Context) {
	h.transition(c, func(a service.Actor, roomID string) (*domain.Room, error) {
		return h.sessions.Resolve(c.Request.Context(), a, roomID)
	}, "failed to resolve room")
}

// Release returns a pending room to the open queue.
func (h *Handler) Release(c *gin.Context) {
	h.transition(c, func(a service.Actor, roomID string) (*domain.Room, error) {
		return h.sessions.Release(c.Request.Context(), a, roomID)
	}, "failed to release room")
}

// Reassign hands the room to another admin.
func (h *Handler) Reassign(c *gin.Context) {
	var req domain.ReassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	h.transition(c, func(a service.Actor, roomID string) (*domain.Room, error) {
		return h.sessions.Reassign(c.Request.Context(), a, roomID, req.AdminID)
	}, "failed to reassign room")
}

func (h *Handler) transition(c *gin.Context, op func(service.Actor, string) (*domain.Room, error), fallback string) {
	room, err := op(actorFrom(c), c.Param("id"))
	if err != nil {
		writeServiceError(c, err, fallback)
		return
	}
	response.Success(c, room)
}
