// Package call owns the lifecycle of voice call sessions. The server is
// the single authority over call state; clients only observe the
// transitions it emits.
package call

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftbottle/realtime/internal/metrics"
	"github.com/driftbottle/realtime/internal/models"
)

var (
	// ErrAlreadyInCall means a participant already holds a non-terminal
	// session; exactly one active call per user is allowed.
	ErrAlreadyInCall = errors.New("participant already in a call")

	// ErrInvalidCall means the call id is unknown, already terminal, or
	// the acting user is not allowed to drive this transition.
	ErrInvalidCall = errors.New("unknown or terminal call id")
)

// Sender pushes an event to a user's live connection, best-effort.
type Sender interface {
	Send(userID, event string, data any) bool
}

// Auditor records a session that reached a terminal state.
type Auditor interface {
	Record(s models.CallSession)
}

// Machine tracks every non-terminal call session. Terminal sessions are
// dropped from the table immediately; a stale retry against one fails
// with ErrInvalidCall.
type Machine struct {
	mu       sync.Mutex
	sessions map[string]*models.CallSession
	byUser   map[string]string // userID -> callID of the non-terminal session
	timers   map[string]*time.Timer

	sender      Sender
	audit       Auditor
	ringTimeout time.Duration
}

func NewMachine(sender Sender, ringTimeout time.Duration, audit Auditor) *Machine {
	return &Machine{
		sessions:    make(map[string]*models.CallSession),
		byUser:      make(map[string]string),
		timers:      make(map[string]*time.Timer),
		sender:      sender,
		audit:       audit,
		ringTimeout: ringTimeout,
	}
}

// Initiate creates a session for req and rings the receiver. The call id
// comes from the client when present (the mobile app generates its own)
// or is generated here. An offline receiver is not an error: the session
// rings into the void until the ring timeout ends it.
func (m *Machine) Initiate(initiatorID string, req models.CallRequest) (models.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if callID, busy := m.byUser[initiatorID]; busy {
		log.Printf("call: %s tried to initiate while on call %s", initiatorID, callID)
		metrics.CallsRefused.Inc()
		return models.CallSession{}, ErrAlreadyInCall
	}
	if callID, busy := m.byUser[req.ReceiverID]; busy {
		log.Printf("call: receiver %s busy on call %s", req.ReceiverID, callID)
		metrics.CallsRefused.Inc()
		return models.CallSession{}, ErrAlreadyInCall
	}

	callID := req.CallID
	if callID == "" {
		callID = uuid.New().String()
	}
	if _, exists := m.sessions[callID]; exists {
		return models.CallSession{}, ErrInvalidCall
	}

	session := &models.CallSession{
		CallID:      callID,
		InitiatorID: initiatorID,
		ReceiverID:  req.ReceiverID,
		State:       models.CallInitiating,
		CreatedAt:   time.Now(),
	}
	m.sessions[callID] = session
	m.byUser[initiatorID] = callID
	m.byUser[req.ReceiverID] = callID
	metrics.CallsActive.Inc()

	incoming := req
	incoming.CallID = callID
	incoming.CallerID = initiatorID
	if m.sender.Send(req.ReceiverID, models.EventCallIncoming, incoming) {
		session.State = models.CallRinging
		log.Printf("call %s: %s ringing %s", callID, initiatorID, req.ReceiverID)
	} else {
		// Receiver offline: keep the session so the initiator hears
		// "no answer" via the ring timeout instead of a hard failure.
		log.Printf("call %s: receiver %s offline, waiting for timeout", callID, req.ReceiverID)
	}

	if m.ringTimeout > 0 {
		m.timers[callID] = time.AfterFunc(m.ringTimeout, func() { m.expire(callID) })
	}
	return *session, nil
}

// Answer transitions an initiating/ringing session to connected and
// notifies the initiator. Only the callee may answer.
func (m *Machine) Answer(callID, byUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[callID]
	if !ok || !session.State.Answerable() {
		return ErrInvalidCall
	}
	if byUserID != session.ReceiverID {
		return ErrInvalidCall
	}

	session.State = models.CallConnected
	m.stopTimer(callID)
	m.sender.Send(session.InitiatorID, models.EventCallAnswered, models.CallStatusUpdate{
		CallID: callID,
		Status: models.CallStatusAnswered,
	})
	log.Printf("call %s: connected", callID)
	return nil
}

// Reject terminates an initiating/ringing session and notifies the
// initiator. Only the callee may reject.
func (m *Machine) Reject(callID, byUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[callID]
	if !ok || !session.State.Answerable() {
		return ErrInvalidCall
	}
	if byUserID != session.ReceiverID {
		return ErrInvalidCall
	}

	session.State = models.CallRejected
	m.sender.Send(session.InitiatorID, models.EventCallRejected, models.CallStatusUpdate{
		CallID: callID,
		Status: models.CallStatusRejected,
	})
	m.drop(session, "rejected")
	return nil
}

// End terminates a session from any non-terminal state and notifies the
// other participant if still reachable. Either side may hang up.
func (m *Machine) End(callID, byUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[callID]
	if !ok {
		return ErrInvalidCall
	}
	if !session.Participant(byUserID) {
		return ErrInvalidCall
	}

	session.State = models.CallEnded
	m.sender.Send(session.Counterpart(byUserID), models.EventCallEnded, models.CallStatusUpdate{
		CallID: callID,
		Status: models.CallStatusEnded,
	})
	m.drop(session, "ended")
	return nil
}

// EndAllFor ends the session userID participates in, if any. Called when
// a connection drops so the peer is not left in a dead call.
func (m *Machine) EndAllFor(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	callID, ok := m.byUser[userID]
	if !ok {
		return
	}
	session := m.sessions[callID]
	session.State = models.CallEnded
	m.sender.Send(session.Counterpart(userID), models.EventCallEnded, models.CallStatusUpdate{
		CallID: callID,
		Status: models.CallStatusEnded,
	})
	log.Printf("call %s: ended, participant %s disconnected", callID, userID)
	m.drop(session, "disconnected")
}

// Counterpart resolves the other participant of a live session, for
// signaling frame routing. Returns false for unknown sessions or when
// userID is not a participant.
func (m *Machine) Counterpart(callID, userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[callID]
	if !ok || !session.Participant(userID) {
		return "", false
	}
	return session.Counterpart(userID), true
}

// Session returns a snapshot of a live session.
func (m *Machine) Session(callID string) (models.CallSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[callID]
	if !ok {
		return models.CallSession{}, false
	}
	return *session, true
}

// expire fires when a session never reached connected within the ring
// timeout. Both sides are told the call ended so the busy slot frees up.
func (m *Machine) expire(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[callID]
	if !ok || session.State == models.CallConnected {
		return
	}

	session.State = models.CallEnded
	update := models.CallStatusUpdate{CallID: callID, Status: models.CallStatusEnded}
	m.sender.Send(session.InitiatorID, models.EventCallEnded, update)
	m.sender.Send(session.ReceiverID, models.EventCallEnded, update)
	log.Printf("call %s: ring timeout after %s", callID, m.ringTimeout)
	m.drop(session, "timeout")
}

// drop removes a terminal session from the table. Callers hold m.mu.
func (m *Machine) drop(session *models.CallSession, outcome string) {
	delete(m.sessions, session.CallID)
	delete(m.byUser, session.InitiatorID)
	delete(m.byUser, session.ReceiverID)
	m.stopTimer(session.CallID)
	metrics.CallsActive.Dec()
	metrics.CallsCompleted.WithLabelValues(outcome).Inc()
	if m.audit != nil {
		m.audit.Record(*session)
	}
	log.Printf("call %s: %s", session.CallID, outcome)
}

func (m *Machine) stopTimer(callID string) {
	if t, ok := m.timers[callID]; ok {
		t.Stop()
		delete(m.timers, callID)
	}
}
