package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/driftbottle/realtime/internal/call"
	"github.com/driftbottle/realtime/internal/models"
	"github.com/driftbottle/realtime/internal/registry"
	"github.com/driftbottle/realtime/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Gateway wires one WebSocket endpoint to the registry, relays, and call
// machine.
type Gateway struct {
	Registry  *registry.Registry
	Push      *relay.PushRelay
	Calls     *call.Machine
	Negotiate *relay.NegotiationRelay
}

// Client is one live WebSocket connection. UserID stays empty until the
// client identifies itself with a user-login frame.
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// ConnID identifies the connection, not the user.
func (c *Client) ConnID() string { return c.id }

// Push enqueues a frame without blocking. Returns false when the buffer
// is full.
func (c *Client) Push(frame models.Frame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("failed to marshal %s frame: %v", frame.Event, err)
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// HandleSocket upgrades the connection and runs the client pumps.
func (g *Gateway) HandleSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	client := &Client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, 256),
	}
	log.Printf("connection %s opened from %s", client.id, conn.RemoteAddr())

	go client.writePump()
	go g.readPump(client)
}

func (g *Gateway) readPump(c *Client) {
	defer func() {
		g.Registry.Unregister(c)
		if c.userID != "" {
			g.Calls.EndAllFor(c.userID)
		}
		c.conn.Close()
		log.Printf("connection %s closed (user %q)", c.id, c.userID)
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var frame models.Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			log.Printf("Failed to parse frame from %s: %v", c.id, err)
			continue
		}
		g.dispatch(c, frame)
	}
}

// dispatch routes one inbound frame. A malformed or out-of-order frame
// is logged and skipped; nothing here may kill the pump.
func (g *Gateway) dispatch(c *Client, frame models.Frame) {
	switch frame.Event {
	case models.EventUserLogin:
		userID, ok := models.ParseLogin(frame.Data)
		if !ok {
			log.Printf("connection %s sent user-login without a user id", c.id)
			return
		}
		c.userID = userID
		g.Registry.Register(userID, c)
		return

	case models.EventPing:
		if pong, err := models.NewFrame(models.EventPong, nil); err == nil {
			c.Push(pong)
		}
		return
	}

	// Everything below needs an identified client.
	if c.userID == "" {
		log.Printf("connection %s sent %s before user-login, dropping", c.id, frame.Event)
		return
	}

	switch frame.Event {
	case models.EventSendMessage:
		var data models.SendMessageData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			log.Printf("malformed send-message from %s: %v", c.userID, err)
			return
		}
		if data.ReceiverID == "" || data.Message.ID == "" {
			log.Printf("send-message from %s missing receiver or message id", c.userID)
			return
		}
		g.Push.Deliver(data.ReceiverID, data.Message)

	case models.EventCallInitiate:
		var req models.CallRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			log.Printf("malformed voice-call-initiate from %s: %v", c.userID, err)
			return
		}
		if _, err := g.Calls.Initiate(c.userID, req); err != nil {
			if errors.Is(err, call.ErrAlreadyInCall) {
				// Busy slot: tell the initiator the call is off so its
				// UI frees up, using the rejected event it already
				// understands.
				if busy, ferr := models.NewFrame(models.EventCallRejected, models.CallStatusUpdate{
					CallID: req.CallID,
					Status: models.CallStatusBusy,
				}); ferr == nil {
					c.Push(busy)
				}
			} else {
				log.Printf("voice-call-initiate from %s refused: %v", c.userID, err)
			}
		}

	case models.EventCallAnswer:
		g.callTransition(c, frame, g.Calls.Answer)

	case models.EventCallReject:
		g.callTransition(c, frame, g.Calls.Reject)

	case models.EventCallEnd:
		g.callTransition(c, frame, g.Calls.End)

	case models.EventSignaling:
		var sig models.SignalPayload
		if err := json.Unmarshal(frame.Data, &sig); err != nil {
			log.Printf("malformed webrtc-signaling from %s: %v", c.userID, err)
			return
		}
		g.Negotiate.Forward(c.userID, sig)

	default:
		log.Printf("Unknown event type: %s", frame.Event)
	}
}

func (g *Gateway) callTransition(c *Client, frame models.Frame, fn func(callID, byUserID string) error) {
	var update models.CallStatusUpdate
	if err := json.Unmarshal(frame.Data, &update); err != nil {
		log.Printf("malformed %s from %s: %v", frame.Event, c.userID, err)
		return
	}
	if err := fn(update.CallID, c.userID); err != nil {
		// Stale retries are expected; drop and log.
		log.Printf("%s from %s for call %s ignored: %v", frame.Event, c.userID, update.CallID, err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
