package client

import (
	"log"
	"sync"
	"time"

	"github.com/driftbottle/realtime/internal/models"
)

const (
	defaultIdentityRetries  = 5
	defaultIdentityInterval = time.Second
)

const (
	kindMessage      = "message"
	kindIncomingCall = "incoming-call"
)

// pendingEvent is an inbound event that arrived before the local user id
// finished loading from session storage.
type pendingEvent struct {
	kind     string
	attempts int
	done     bool
	apply    func()
}

// Reconciler gates inbound events on the local identity. An event that
// needs to know "who am I" while identity is still loading is parked in
// a pending queue and re-evaluated on a fixed interval; if identity never
// resolves within the retry budget the event is discarded. Nothing is
// ever accepted without ownership verification.
type Reconciler struct {
	mu           sync.Mutex
	localID      string
	conversation string // bottle id of the conversation in view; empty accepts any
	seen         map[string]struct{}
	messages     []models.Envelope
	pending      map[string][]*pendingEvent
	discarded    int

	maxAttempts   int
	retryInterval time.Duration

	onCall func(models.CallRequest)
}

// NewReconciler creates a reconciler scoped to one conversation view.
func NewReconciler(conversation string) *Reconciler {
	return &Reconciler{
		conversation:  conversation,
		seen:          make(map[string]struct{}),
		pending:       make(map[string][]*pendingEvent),
		maxAttempts:   defaultIdentityRetries,
		retryInterval: defaultIdentityInterval,
	}
}

// SetRetryPolicy overrides the identity retry budget.
func (r *Reconciler) SetRetryPolicy(attempts int, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxAttempts = attempts
	r.retryInterval = interval
}

// OnIncomingCall registers the callback invoked for verified incoming
// calls.
func (r *Reconciler) OnIncomingCall(fn func(models.CallRequest)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCall = fn
}

// SetIdentity resolves the local user id and immediately drains every
// pending event against it.
func (r *Reconciler) SetIdentity(userID string) {
	r.mu.Lock()
	r.localID = userID
	var drained []*pendingEvent
	for kind, events := range r.pending {
		for _, ev := range events {
			if !ev.done {
				ev.done = true
				drained = append(drained, ev)
			}
		}
		delete(r.pending, kind)
	}
	r.mu.Unlock()

	for _, ev := range drained {
		ev.apply()
	}
}

// HandleMessage evaluates one pushed envelope against the local identity
// and conversation, deduplicating by envelope id.
func (r *Reconciler) HandleMessage(env models.Envelope) {
	r.mu.Lock()
	if r.localID == "" {
		r.parkLocked(&pendingEvent{
			kind:  kindMessage,
			apply: func() { r.HandleMessage(env) },
		})
		r.mu.Unlock()
		return
	}
	r.acceptMessageLocked(env)
	r.mu.Unlock()
}

func (r *Reconciler) acceptMessageLocked(env models.Envelope) {
	if r.conversation != "" && env.BottleID != r.conversation {
		return
	}
	if env.SenderID != r.localID && env.ReceiverID != r.localID {
		log.Printf("reconciler: message %s is not for %s, ignoring", env.ID, r.localID)
		return
	}
	if _, dup := r.seen[env.ID]; dup {
		return
	}
	r.seen[env.ID] = struct{}{}
	r.messages = append(r.messages, env)
}

// HandleIncomingCall evaluates an incoming call prompt. The prompt is
// only surfaced once the local identity is known and matches the call's
// receiver; an unverifiable call is discarded, never shown.
func (r *Reconciler) HandleIncomingCall(req models.CallRequest) {
	r.mu.Lock()
	if r.localID == "" {
		r.parkLocked(&pendingEvent{
			kind:  kindIncomingCall,
			apply: func() { r.HandleIncomingCall(req) },
		})
		r.mu.Unlock()
		return
	}
	fn := r.onCall
	match := req.ReceiverID == r.localID
	r.mu.Unlock()

	if !match {
		log.Printf("reconciler: call %s is for %s, not %s, ignoring", req.CallID, req.ReceiverID, r.localID)
		return
	}
	if fn != nil {
		fn(req)
	}
}

// Messages returns the ordered, deduplicated conversation view.
func (r *Reconciler) Messages() []models.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Envelope(nil), r.messages...)
}

// Discarded counts events dropped because identity never resolved.
func (r *Reconciler) Discarded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discarded
}

// parkLocked queues an event and starts its retry timer. Callers hold
// r.mu.
func (r *Reconciler) parkLocked(ev *pendingEvent) {
	r.pending[ev.kind] = append(r.pending[ev.kind], ev)
	r.scheduleRetry(ev, r.retryInterval)
}

func (r *Reconciler) scheduleRetry(ev *pendingEvent, interval time.Duration) {
	time.AfterFunc(interval, func() {
		r.mu.Lock()
		if ev.done {
			r.mu.Unlock()
			return
		}

		if r.localID != "" {
			ev.done = true
			r.removeLocked(ev)
			r.mu.Unlock()
			ev.apply()
			return
		}

		ev.attempts++
		if ev.attempts >= r.maxAttempts {
			ev.done = true
			r.removeLocked(ev)
			r.discarded++
			log.Printf("reconciler: identity unresolved after %d attempts, discarding %s event", ev.attempts, ev.kind)
			r.mu.Unlock()
			return
		}
		next := r.retryInterval
		r.mu.Unlock()
		r.scheduleRetry(ev, next)
	})
}

func (r *Reconciler) removeLocked(ev *pendingEvent) {
	queue := r.pending[ev.kind]
	for i, queued := range queue {
		if queued == ev {
			r.pending[ev.kind] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(r.pending[ev.kind]) == 0 {
		delete(r.pending, ev.kind)
	}
}
