package websocket

import (
	"time"

	"annotation-collab-be/internal/pkg/logger"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Conn is the part of *websocket.Conn the sync layer uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Participant is the authenticated identity behind one connection.
type Participant struct {
	DocumentID string
	ClientID   string
	UserID     string
	Name       string
	Color      string
}

// Client is a middleman between the websocket connection and its room.
type Client struct {
	Participant

	conn   Conn
	out    *outbox
	room   *Room
	logger logger.ILogger
}

func newClient(p Participant, conn Conn, room *Room, maxBacklog int, log logger.ILogger) *Client {
	return &Client{
		Participant: p,
		conn:        conn,
		out:         newOutbox(maxBacklog),
		room:        room,
		logger:      log,
	}
}

// readPump pumps messages from the websocket connection to the room.
func (c *Client) readPump(maxMessageSize int64) {
	defer func() {
		c.room.leave(c)
		c.conn.Close()
	}()
	if maxMessageSize > 0 {
		c.conn.SetReadLimit(maxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Client", "Unexpected close", map[string]interface{}{
					"document_id": c.DocumentID,
					"client_id":   c.ClientID,
					"error":       err.Error(),
				})
			}
			return
		}
		c.room.receive(c, data)
	}
}

// writePump pumps queued messages to the websocket connection, one frame per
// message, and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.out.notify:
			msgs, closed := c.out.drain()
			for _, msg := range msgs {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
			if closed {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
