package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

// client is one socket. Both hubs share the pump loops; only routing differs.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	userID string
	// sessions limits a dashboard to these session ids; nil means all.
	sessions map[string]struct{}
}

func newClient(conn *websocket.Conn, userID string, sessions map[string]struct{}, buffer int) *client {
	return &client{
		conn:     conn,
		send:     make(chan []byte, buffer),
		userID:   userID,
		sessions: sessions,
	}
}

func (c *client) wants(sessionID string) bool {
	if c.sessions == nil {
		return true
	}
	_, ok := c.sessions[sessionID]
	return ok
}

// readPump drains the socket until it fails, then calls done.
func (c *client) readPump(done func()) {
	defer done()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
