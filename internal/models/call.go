package models

import "time"

// CallState is the lifecycle of a voice call session. The server is the
// single authority; clients only observe transitions.
type CallState string

const (
	CallInitiating CallState = "initiating"
	CallRinging    CallState = "ringing"
	CallConnected  CallState = "connected"
	CallEnded      CallState = "ended"
	CallRejected   CallState = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s CallState) Terminal() bool {
	return s == CallEnded || s == CallRejected
}

// Answerable reports whether the session can still be answered or rejected.
func (s CallState) Answerable() bool {
	return s == CallInitiating || s == CallRinging
}

// CallSession tracks one voice call between two users.
type CallSession struct {
	CallID      string    `json:"callId"`
	InitiatorID string    `json:"initiatorId"`
	ReceiverID  string    `json:"receiverId"`
	State       CallState `json:"state"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Participant reports whether userID is a party to the session.
func (s *CallSession) Participant(userID string) bool {
	return userID == s.InitiatorID || userID == s.ReceiverID
}

// Counterpart returns the other participant.
func (s *CallSession) Counterpart(userID string) string {
	if userID == s.InitiatorID {
		return s.ReceiverID
	}
	return s.InitiatorID
}

// CallRequest is the payload of voice-call-initiate and, with CallerID
// filled in by the server, of voice-call-incoming.
type CallRequest struct {
	CallID       string `json:"callId"`
	CallerID     string `json:"callerId,omitempty"`
	CallerName   string `json:"callerName,omitempty"`
	ReceiverID   string `json:"receiverId"`
	ReceiverName string `json:"receiverName,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"`
	Status       string `json:"status,omitempty"`
}

// CallStatusUpdate is the payload of the answer/reject/end events in both
// directions.
type CallStatusUpdate struct {
	CallID string `json:"callId"`
	Status string `json:"status"`
}

const (
	CallStatusAnswered = "answered"
	CallStatusRejected = "rejected"
	CallStatusEnded    = "ended"
	CallStatusBusy     = "busy"
)
