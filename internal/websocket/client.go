package websocket

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/fntelecomllc/bankreconciler/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Client is the middleman between one operator dashboard's websocket
// connection and the Manager's broadcast loop.
type Client struct {
	hub  Broadcaster
	conn *websocket.Conn

	send chan []byte
}

// NewClient registers conn with hub and starts its read/write pumps as
// background goroutines.
func NewClient(hub Broadcaster, conn *websocket.Conn) *Client {
	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 32),
	}
	hub.RegisterClient(client)
	go client.writePump()
	go client.readPump()
	return client
}

// readPump drains and discards client frames, only watching for pong
// keepalives and disconnects; operator dashboards are read-only consumers
// of this feed.
func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn("websocket_read", "unexpected close", logging.Fields{"error": err.Error()})
			}
			return
		}
	}
}

// writePump relays queued messages to the connection and sends periodic
// pings, closing the connection if either fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
