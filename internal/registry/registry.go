// Package registry tracks which user is reachable on which live
// connection. It is the single source of truth for "is this user online
// right now"; everything that routes a frame goes through Lookup.
package registry

import (
	"log"
	"sync"
	"time"

	"github.com/driftbottle/realtime/internal/models"
)

// Handle is the write side of a live client connection.
type Handle interface {
	// ConnID identifies the underlying connection, not the user.
	ConnID() string
	// Push enqueues a frame for delivery. It must not block; a full
	// buffer returns false.
	Push(frame models.Frame) bool
}

// Mirror receives presence changes for out-of-process visibility. The
// registry never reads it back; failures are the mirror's problem.
type Mirror interface {
	SetOnline(userID, connID string)
	SetOffline(userID string)
}

type entry struct {
	userID      string
	handle      Handle
	connectedAt time.Time
}

// Registry maps a user id to exactly one connection handle. Registering
// a new connection for the same user replaces the previous entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry  // userID -> entry
	byConn  map[string]string // connID -> userID
	mirror  Mirror
}

func New(mirror Mirror) *Registry {
	return &Registry{
		entries: make(map[string]entry),
		byConn:  make(map[string]string),
		mirror:  mirror,
	}
}

// Register binds userID to h, displacing any previous connection. The
// displaced connection is not closed here; its own pump notices the
// socket going away and its Unregister becomes a no-op. A handle that
// re-identifies as a different user releases its previous identity, so
// a user is never left online on a connection that moved on.
func (r *Registry) Register(userID string, h Handle) {
	r.mu.Lock()
	var released string
	if prev, ok := r.byConn[h.ConnID()]; ok && prev != userID {
		delete(r.entries, prev)
		released = prev
	}
	if old, ok := r.entries[userID]; ok {
		delete(r.byConn, old.handle.ConnID())
	}
	r.entries[userID] = entry{userID: userID, handle: h, connectedAt: time.Now()}
	r.byConn[h.ConnID()] = userID
	r.mu.Unlock()

	if released != "" {
		if r.mirror != nil {
			r.mirror.SetOffline(released)
		}
		log.Printf("registry: user %s offline, connection %s re-identified as %s", released, h.ConnID(), userID)
	}
	if r.mirror != nil {
		r.mirror.SetOnline(userID, h.ConnID())
	}
	log.Printf("registry: user %s online on connection %s", userID, h.ConnID())
}

// Unregister removes the entry owned by h. If h was already replaced by
// a newer connection for the same user, nothing happens.
func (r *Registry) Unregister(h Handle) {
	r.mu.Lock()
	userID, ok := r.byConn[h.ConnID()]
	if ok {
		delete(r.byConn, h.ConnID())
		delete(r.entries, userID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	if r.mirror != nil {
		r.mirror.SetOffline(userID)
	}
	log.Printf("registry: user %s offline (connection %s)", userID, h.ConnID())
}

// Lookup returns the live handle for userID, if any.
func (r *Registry) Lookup(userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[userID]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// Online reports whether userID has a live connection.
func (r *Registry) Online(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Len returns the number of online users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
