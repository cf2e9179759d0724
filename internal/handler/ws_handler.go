package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Cyril666325/Bitfoniz-sub002/internal/config"
	"github.com/Cyril666325/Bitfoniz-sub002/internal/fanout"
	"github.com/Cyril666325/Bitfoniz-sub002/internal/hub"
	"github.com/Cyril666325/Bitfoniz-sub002/internal/service"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/log"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler serves the room event stream over websocket.
type WSHandler struct {
	sessions       service.SessionService
	fanout         *fanout.Fanout
	authMiddleware *middleware.AuthMiddleware
	wsCfg          config.WebSocketConfig
}

func NewWSHandler(sessions service.SessionService, fo *fanout.Fanout, authMiddleware *middleware.AuthMiddleware, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		sessions:       sessions,
		fanout:         fo,
		authMiddleware: authMiddleware,
		wsCfg:          wsCfg,
	}
}

// RegisterRoutes registers the stream route. Auth accepts the token as
// a query parameter since browsers cannot set websocket headers.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/api/v1/rooms/:id/stream", h.authMiddleware.RequireAuth(), h.Stream)
}

// Stream upgrades the connection and pushes committed room events to
// the client until either side disconnects. Events arrive in bus order;
// the client reconciles by seq and re-reads the log after any gap.
func (h *WSHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	roomID := c.Param("id")

	actor := actorFrom(c)
	if err := h.sessions.Authorize(ctx, actor, roomID); err != nil {
		writeServiceError(c, err, "failed to authorize stream")
		return
	}

	sub, err := h.fanout.Subscribe(ctx, roomID, actor.ID)
	if err != nil {
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to subscribe to room stream")
		writeServiceError(c, err, "failed to open stream")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Close()
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(actor.ID, roomID, conn, h.wsCfg)
	go client.WritePump()
	go client.ReadPump()

	defer func() {
		sub.Close()
		client.Close()
	}()

	for {
		select {
		case <-client.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				// Backlog overflow or upstream loss. Closing the socket
				// tells the client to catch up and reconnect.
				return
			}
			if err := client.SendEvent(ev); err != nil {
				l.Debug().Err(err).
					Str(log.FieldRoomID, roomID).
					Str(log.FieldClientID, actor.ID).
					Msg("dropping stream client")
				return
			}
		}
	}
}
