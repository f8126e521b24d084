package stream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const readTimeout = 60 * time.Second

// client is one websocket subscriber. Reads are drained only to observe pongs and closes.
type client struct {
	sessionID    string
	ws           *websocket.Conn
	out          chan []byte
	done         chan struct{}
	once         sync.Once
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *zap.Logger
	onClose      func(*client)
}

func newClient(sessionID string, ws *websocket.Conn, writeTimeout, pingInterval time.Duration, logger *zap.Logger, onClose func(*client)) *client {
	return &client{
		sessionID:    sessionID,
		ws:           ws,
		out:          make(chan []byte, 16),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		logger:       logger,
		onClose:      onClose,
	}
}

func (c *client) start() {
	go c.writePump()
	c.readPump()
}

func (c *client) readPump() {
	defer c.close()
	c.ws.SetReadLimit(4096)
	_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			_ = c.write(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.out:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, []byte("ping")); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) send(msg []byte) {
	select {
	case <-c.done:
	case c.out <- msg:
	default:
		c.logger.Warn("dropping stream message, buffer full", zap.String("session_id", c.sessionID))
	}
}

func (c *client) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose(c)
		}
		// writePump sends the close frame; give it a moment before dropping the socket.
		time.AfterFunc(time.Second, func() { _ = c.ws.Close() })
	})
}
