package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message is one frame pushed to session subscribers.
type Message struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	At        time.Time   `json:"at"`
	Data      interface{} `json:"data"`
}

// Hub fans session updates out to websocket subscribers.
type Hub struct {
	mu           sync.RWMutex
	subscribers  map[string]map[*client]struct{}
	writeTimeout time.Duration
	pingInterval time.Duration
	upgrader     websocket.Upgrader
	logger       *zap.Logger
}

// NewHub builds hub.
func NewHub(writeTimeout, pingInterval time.Duration, logger *zap.Logger) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Hub{
		subscribers:  make(map[string]map[*client]struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Serve upgrades the request and subscribes the connection to sessionID.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := newClient(sessionID, conn, h.writeTimeout, h.pingInterval, h.logger, h.remove)
	h.add(c)
	go c.start()
	h.logger.Debug("stream subscriber connected", zap.String("session_id", sessionID))
	return nil
}

// Broadcast delivers an update to every subscriber of sessionID. Slow subscribers drop frames.
func (h *Hub) Broadcast(sessionID, kind string, data interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := h.subscribers[sessionID]
	if len(subs) == 0 {
		return
	}
	payload, err := json.Marshal(Message{Type: kind, SessionID: sessionID, At: time.Now().UTC(), Data: data})
	if err != nil {
		h.logger.Warn("failed to encode stream message", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	for c := range subs {
		c.send(payload)
	}
}

// Subscribers returns the number of live subscribers of sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[sessionID])
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*client, 0)
	for _, subs := range h.subscribers {
		for c := range subs {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.close()
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subscribers[c.sessionID]
	if !ok {
		subs = make(map[*client]struct{})
		h.subscribers[c.sessionID] = subs
	}
	subs[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subscribers[c.sessionID]
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.subscribers, c.sessionID)
	}
}
