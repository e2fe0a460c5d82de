package models

import "encoding/json"

// Event names carried on the wire. Client-to-server and server-to-client
// names are kept distinct so a relayed event never loops back through the
// dispatch table.
const (
	EventUserLogin = "user-login"

	EventSendMessage = "send-message"
	EventNewMessage  = "new-message"

	EventCallInitiate = "voice-call-initiate"
	EventCallIncoming = "voice-call-incoming"
	EventCallAnswer   = "voice-call-answer"
	EventCallAnswered = "voice-call-answered"
	EventCallReject   = "voice-call-reject"
	EventCallRejected = "voice-call-rejected"
	EventCallEnd      = "voice-call-end"
	EventCallEnded    = "voice-call-ended"

	EventSignaling = "webrtc-signaling"

	EventPing = "ping"
	EventPong = "pong"
)

// Frame is one JSON message on the socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals data into a frame for the given event.
func NewFrame(event string, data any) (Frame, error) {
	if data == nil {
		return Frame{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: raw}, nil
}

// LoginData is the payload of a user-login event. The mobile client sends
// either a bare string or an object, so both are accepted.
type LoginData struct {
	UserID string `json:"userId"`
}

// ParseLogin extracts the user id from a user-login payload.
func ParseLogin(raw json.RawMessage) (string, bool) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil && id != "" {
		return id, true
	}
	var data LoginData
	if err := json.Unmarshal(raw, &data); err == nil && data.UserID != "" {
		return data.UserID, true
	}
	return "", false
}

// SendMessageData is the payload of a send-message event.
type SendMessageData struct {
	ReceiverID string   `json:"receiverId"`
	Message    Envelope `json:"message"`
}

// SignalPayload is an opaque WebRTC negotiation frame. Data is never
// inspected by the server; RoomID is the call id the frame belongs to.
type SignalPayload struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	RoomID string          `json:"roomId"`
}

const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "ice-candidate"
)
