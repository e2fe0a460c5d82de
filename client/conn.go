// Package client implements the app side of the real-time protocol: the
// socket connection, the identity reconciliation layer, and the voice
// call service.
package client

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/driftbottle/realtime/internal/models"
)

// Handler receives the raw payload of one inbound event.
type Handler func(data json.RawMessage)

// Socket is the event surface the call service and reconciler need from
// a connection.
type Socket interface {
	On(event string, h Handler)
	Emit(event string, data any) error
}

// Conn is a client connection to the signaling server. It identifies
// itself with user-login on connect and again after every reconnect.
type Conn struct {
	url    string
	userID string

	mu       sync.Mutex
	ws       *websocket.Conn
	handlers map[string][]Handler
	closed   bool

	maxReconnects  int
	reconnectDelay time.Duration
}

// Dial connects to the server and starts the read loop.
func Dial(url, userID string) (*Conn, error) {
	c := &Conn{
		url:            url,
		userID:         userID,
		handlers:       make(map[string][]Handler),
		maxReconnects:  5,
		reconnectDelay: time.Second,
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) connect() error {
	ws, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	return c.Emit(models.EventUserLogin, c.userID)
}

// On registers a handler for an inbound event. Multiple handlers per
// event are allowed.
func (c *Conn) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// Emit sends one event frame to the server.
func (c *Conn) Emit(event string, data any) error {
	frame, err := models.NewFrame(event, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// SendMessage asks the server to push an already-persisted envelope to
// its recipient. The server echoes it back to this sender as well.
func (c *Conn) SendMessage(receiverID string, env models.Envelope) error {
	return c.Emit(models.EventSendMessage, models.SendMessageData{
		ReceiverID: receiverID,
		Message:    env,
	})
}

// Close shuts the connection down; the read loop will not reconnect.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		return ws.Close()
	}
	return nil
}

func (c *Conn) readLoop() {
	for {
		c.mu.Lock()
		ws := c.ws
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		_, payload, err := ws.ReadMessage()
		if err != nil {
			if !c.reconnect() {
				return
			}
			continue
		}

		var frame models.Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			log.Printf("client: failed to parse frame: %v", err)
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Conn) dispatch(frame models.Frame) {
	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[frame.Event]...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(frame.Data)
	}
}

// reconnect tries to re-establish the connection, re-sending user-login
// on success. Gives up after maxReconnects attempts.
func (c *Conn) reconnect() bool {
	for attempt := 1; attempt <= c.maxReconnects; attempt++ {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return false
		}

		time.Sleep(c.reconnectDelay)
		if err := c.connect(); err != nil {
			log.Printf("client: reconnect %d/%d failed: %v", attempt, c.maxReconnects, err)
			continue
		}
		log.Printf("client: reconnected as %s", c.userID)
		return true
	}
	log.Printf("client: giving up after %d reconnect attempts", c.maxReconnects)
	return false
}
