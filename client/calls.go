package client

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/driftbottle/realtime/internal/models"
)

var (
	// ErrBusy means a call is already in progress on this client.
	ErrBusy = errors.New("already in a call")

	// ErrUnknownCall means the call id does not match the active call.
	ErrUnknownCall = errors.New("call id does not match the active call")
)

// Call lifecycle notifications delivered to listeners.
const (
	CallEventInitiated = "call-initiated"
	CallEventIncoming  = "incoming-call"
	CallEventAnswered  = "call-answered"
	CallEventRejected  = "call-rejected"
	CallEventEnded     = "call-ended"
)

// CallService drives the client side of voice calls: one call slot,
// outgoing requests, and mirroring of the server's state transitions.
type CallService struct {
	mu        sync.Mutex
	socket    Socket
	current   *models.CallRequest
	inCall    bool
	listeners []func(event string, data models.CallRequest)
}

// NewCallService wires a call service to the socket's call events.
// Incoming-call prompts are not handled here; route them through the
// Reconciler and call HandleIncoming from its verified callback.
func NewCallService(socket Socket) *CallService {
	s := &CallService{socket: socket}
	socket.On(models.EventCallAnswered, s.statusHandler())
	socket.On(models.EventCallRejected, s.statusHandler())
	socket.On(models.EventCallEnded, s.statusHandler())
	return s
}

// Initiate requests a call to receiverID. Fails with ErrBusy when a call
// is already active.
func (s *CallService) Initiate(receiverID, receiverName string) (string, error) {
	s.mu.Lock()
	if s.inCall || s.current != nil {
		s.mu.Unlock()
		return "", ErrBusy
	}

	req := models.CallRequest{
		CallID:       newCallID(),
		ReceiverID:   receiverID,
		ReceiverName: receiverName,
		Timestamp:    time.Now().UnixMilli(),
		Status:       string(models.CallInitiating),
	}
	s.current = &req
	s.mu.Unlock()

	if err := s.socket.Emit(models.EventCallInitiate, req); err != nil {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
		return "", err
	}
	s.notify(CallEventInitiated, req)
	return req.CallID, nil
}

// HandleIncoming records a verified incoming call and surfaces the
// prompt to listeners.
func (s *CallService) HandleIncoming(req models.CallRequest) {
	s.mu.Lock()
	req.Status = string(models.CallRinging)
	s.current = &req
	s.mu.Unlock()
	s.notify(CallEventIncoming, req)
}

// Answer accepts the active incoming call.
func (s *CallService) Answer(callID string) error {
	return s.transition(callID, models.EventCallAnswer, models.CallStatusAnswered)
}

// Reject declines the active incoming call.
func (s *CallService) Reject(callID string) error {
	return s.transition(callID, models.EventCallReject, models.CallStatusRejected)
}

// End hangs up the active call from either side.
func (s *CallService) End(callID string) error {
	return s.transition(callID, models.EventCallEnd, models.CallStatusEnded)
}

func (s *CallService) transition(callID, event, status string) error {
	s.mu.Lock()
	if s.current == nil || s.current.CallID != callID {
		s.mu.Unlock()
		return ErrUnknownCall
	}
	data := *s.current
	s.applyStatusLocked(status)
	s.mu.Unlock()

	if err := s.socket.Emit(event, models.CallStatusUpdate{CallID: callID, Status: status}); err != nil {
		return err
	}
	data.Status = status
	if local, ok := localEventFor(status); ok {
		s.notify(local, data)
	}
	return nil
}

// statusHandler mirrors a server-driven transition into local state.
func (s *CallService) statusHandler() Handler {
	return func(raw json.RawMessage) {
		var update models.CallStatusUpdate
		if err := json.Unmarshal(raw, &update); err != nil {
			log.Printf("call: malformed status update: %v", err)
			return
		}

		local, known := localEventFor(update.Status)
		if !known {
			log.Printf("call: unknown status %q for call %s, ignoring", update.Status, update.CallID)
			return
		}

		s.mu.Lock()
		if s.current == nil || s.current.CallID != update.CallID {
			s.mu.Unlock()
			return
		}
		data := *s.current
		s.applyStatusLocked(update.Status)
		s.mu.Unlock()

		data.Status = update.Status
		s.notify(local, data)
	}
}

// applyStatusLocked updates the call slot for a status. Callers hold
// s.mu.
func (s *CallService) applyStatusLocked(status string) {
	switch status {
	case models.CallStatusAnswered:
		s.inCall = true
		if s.current != nil {
			s.current.Status = string(models.CallConnected)
		}
	case models.CallStatusRejected, models.CallStatusEnded, models.CallStatusBusy:
		s.inCall = false
		s.current = nil
	}
}

// localEventFor maps a wire status to the listener event. The second
// return is false for statuses this client does not understand; those
// must never surface as a call ending.
func localEventFor(status string) (string, bool) {
	switch status {
	case models.CallStatusAnswered:
		return CallEventAnswered, true
	case models.CallStatusRejected, models.CallStatusBusy:
		return CallEventRejected, true
	case models.CallStatusEnded:
		return CallEventEnded, true
	default:
		return "", false
	}
}

// AddListener registers a call lifecycle listener.
func (s *CallService) AddListener(fn func(event string, data models.CallRequest)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *CallService) notify(event string, data models.CallRequest) {
	s.mu.Lock()
	listeners := append(([]func(string, models.CallRequest))(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(event, data)
	}
}

// Current returns the active call, if any.
func (s *CallService) Current() (models.CallRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return models.CallRequest{}, false
	}
	return *s.current, true
}

// InCall reports whether a call is connected.
func (s *CallService) InCall() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inCall
}

const callIDChars = "abcdefghijklmnopqrstuvwxyz0123456789"

// newCallID builds ids in the app's historical call_<millis>_<suffix>
// shape so server logs stay greppable across client versions.
func newCallID() string {
	suffix := make([]byte, 9)
	for i := range suffix {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(callIDChars))))
		suffix[i] = callIDChars[n.Int64()]
	}
	return fmt.Sprintf("call_%d_%s", time.Now().UnixMilli(), suffix)
}
