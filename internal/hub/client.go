package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Cyril666325/Bitfoniz-sub002/internal/config"
	"github.com/Cyril666325/Bitfoniz-sub002/internal/domain"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/log"
)

// ErrSlowConsumer is returned when the outbound buffer is full. The
// stream handler treats it as a disconnect; the client recovers
// through the catch-up read.
var ErrSlowConsumer = errors.New("hub: outbound buffer full")

// Client owns one websocket connection on a room stream. The stream is
// server-push only; the read pump exists to process control frames and
// detect disconnects.
type Client struct {
	ID     string
	RoomID string

	conn *websocket.Conn
	send chan []byte
	cfg  config.WebSocketConfig

	done     chan struct{}
	doneOnce sync.Once
	sendOnce sync.Once
}

func NewClient(id, roomID string, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	return &Client{
		ID:     id,
		RoomID: roomID,
		conn:   conn,
		send:   make(chan []byte, 256),
		cfg:    cfg,
		done:   make(chan struct{}),
	}
}

// Done closes when the connection is gone, whichever pump notices
// first.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close ends the write pump, which sends a close frame and drops the
// connection. Safe to call more than once.
func (c *Client) Close() {
	c.sendOnce.Do(func() { close(c.send) })
}

// SendEvent queues one event for delivery.
func (c *Client) SendEvent(ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errors.New("hub: client closed")
	default:
		return ErrSlowConsumer
	}
}

// ReadPump drains inbound frames until the peer disconnects. Pongs
// extend the read deadline; everything else is ignored.
func (c *Client) ReadPump() {
	defer func() {
		c.doneOnce.Do(func() { close(c.done) })
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l := log.L()
				l.Debug().Err(err).
					Str(log.FieldRoomID, c.RoomID).
					Str(log.FieldClientID, c.ID).
					Msg("websocket read error")
			}
			return
		}
	}
}

// WritePump flushes queued events and keeps the connection alive with
// pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.doneOnce.Do(func() { close(c.done) })
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
