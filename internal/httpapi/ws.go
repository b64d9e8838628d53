package httpapi

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/trybotster/tabminal/internal/session"
)

// wsClient adapts a gorilla/websocket connection to session.ClientHandle.
// gorilla/websocket forbids concurrent writers on one connection, so
// Send is serialized with a mutex.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) Send(msg session.OutMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteJSON(msg)
}
