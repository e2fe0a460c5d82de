// Package rtc wraps the WebRTC peer connection used for voice calls.
// Signaling payloads stay opaque to the server; this package is where
// they are actually interpreted.
package rtc

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/driftbottle/realtime/internal/models"
)

// SendFunc ships one signaling payload to the counterpart via the
// server.
type SendFunc func(sig models.SignalPayload)

// Peer is an audio-only peer connection bound to one call. Remote ICE
// candidates that arrive before the remote description are buffered here
// and flushed once it is set; the relay makes no ordering promises
// across the two directions.
type Peer struct {
	pc     *webrtc.PeerConnection
	roomID string
	send   SendFunc

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

// NewPeer creates the peer connection for a call. stunServers come from
// config; send is invoked for every locally generated signaling payload.
func NewPeer(roomID string, stunServers []string, send SendFunc) (*Peer, error) {
	config := webrtc.Configuration{}
	if len(stunServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to add audio transceiver: %w", err)
	}

	p := &Peer{pc: pc, roomID: roomID, send: send}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			log.Printf("rtc: failed to encode ICE candidate: %v", err)
			return
		}
		p.send(models.SignalPayload{
			Type:   models.SignalCandidate,
			Data:   data,
			RoomID: roomID,
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("rtc: call %s connection state %s", roomID, state)
	})

	return p, nil
}

// CreateOffer starts negotiation from the initiating side.
func (p *Peer) CreateOffer() error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	return p.sendDescription(models.SignalOffer, offer)
}

// HandleSignal routes one relayed payload by type.
func (p *Peer) HandleSignal(sig models.SignalPayload) error {
	switch sig.Type {
	case models.SignalOffer:
		return p.handleOffer(sig.Data)
	case models.SignalAnswer:
		return p.handleAnswer(sig.Data)
	case models.SignalCandidate:
		return p.handleCandidate(sig.Data)
	default:
		return fmt.Errorf("unknown signal type %q", sig.Type)
	}
}

// handleOffer applies the remote offer and responds with an answer.
func (p *Peer) handleOffer(data json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(data, &offer); err != nil {
		return fmt.Errorf("malformed offer: %w", err)
	}
	if err := p.setRemoteDescription(offer); err != nil {
		return err
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	return p.sendDescription(models.SignalAnswer, answer)
}

func (p *Peer) handleAnswer(data json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(data, &answer); err != nil {
		return fmt.Errorf("malformed answer: %w", err)
	}
	return p.setRemoteDescription(answer)
}

// handleCandidate adds a remote ICE candidate, buffering it when the
// remote description is not in place yet.
func (p *Peer) handleCandidate(data json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(data, &candidate); err != nil {
		return fmt.Errorf("malformed ICE candidate: %w", err)
	}

	p.mu.Lock()
	if !p.remoteSet {
		p.pending = append(p.pending, candidate)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

// setRemoteDescription applies the description and flushes candidates
// buffered before it arrived, in arrival order.
func (p *Peer) setRemoteDescription(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	p.mu.Lock()
	p.remoteSet = true
	buffered := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, candidate := range buffered {
		if err := p.pc.AddICECandidate(candidate); err != nil {
			log.Printf("rtc: failed to add buffered ICE candidate: %v", err)
		}
	}
	return nil
}

func (p *Peer) sendDescription(kind string, desc webrtc.SessionDescription) error {
	data, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", kind, err)
	}
	p.send(models.SignalPayload{Type: kind, Data: data, RoomID: p.roomID})
	return nil
}

// PendingCandidates reports how many remote candidates are waiting for
// the remote description.
func (p *Peer) PendingCandidates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Connected reports whether the peer connection reached the connected
// state.
func (p *Peer) Connected() bool {
	return p.pc.ConnectionState() == webrtc.PeerConnectionStateConnected
}

// Close tears the peer connection down.
func (p *Peer) Close() error {
	return p.pc.Close()
}
