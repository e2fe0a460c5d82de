// Package relay forwards envelopes and signaling frames to online users.
// Everything here is best-effort: an offline recipient or a full send
// buffer is logged and skipped, never an error to the caller.
package relay

import (
	"log"

	"github.com/driftbottle/realtime/internal/models"
	"github.com/driftbottle/realtime/internal/registry"
)

// Router resolves a user id to a live connection and pushes one frame.
type Router struct {
	reg *registry.Registry
}

func NewRouter(reg *registry.Registry) *Router {
	return &Router{reg: reg}
}

// Send pushes an event to userID's connection. Returns false when the
// user is offline or the connection's buffer is full.
func (r *Router) Send(userID, event string, data any) bool {
	handle, ok := r.reg.Lookup(userID)
	if !ok {
		return false
	}
	frame, err := models.NewFrame(event, data)
	if err != nil {
		log.Printf("router: failed to encode %s frame for %s: %v", event, userID, err)
		return false
	}
	if !handle.Push(frame) {
		log.Printf("router: send buffer full for user %s, dropping %s frame", userID, event)
		return false
	}
	return true
}
