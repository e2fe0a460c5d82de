package rtc

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftbottle/realtime/internal/models"
)

// signalCapture collects payloads a peer wants to send.
type signalCapture struct {
	mu   sync.Mutex
	sigs []models.SignalPayload
}

func (c *signalCapture) send(sig models.SignalPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sigs = append(c.sigs, sig)
}

func (c *signalCapture) byType(kind string) []models.SignalPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.SignalPayload
	for _, sig := range c.sigs {
		if sig.Type == kind {
			out = append(out, sig)
		}
	}
	return out
}

func (c *signalCapture) waitFor(t *testing.T, kind string) models.SignalPayload {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sigs := c.byType(kind); len(sigs) > 0 {
			return sigs[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no %s payload produced", kind)
	return models.SignalPayload{}
}

func newTestPeer(t *testing.T, roomID string) (*Peer, *signalCapture) {
	t.Helper()
	capture := &signalCapture{}
	// No STUN servers: host candidates are enough for a local test.
	peer, err := NewPeer(roomID, nil, capture.send)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })
	return peer, capture
}

func TestOfferAnswerExchange(t *testing.T) {
	caller, callerSigs := newTestPeer(t, "c1")
	callee, calleeSigs := newTestPeer(t, "c1")

	require.NoError(t, caller.CreateOffer())
	offer := callerSigs.waitFor(t, models.SignalOffer)
	assert.Equal(t, "c1", offer.RoomID)

	require.NoError(t, callee.HandleSignal(offer))
	answer := calleeSigs.waitFor(t, models.SignalAnswer)

	require.NoError(t, caller.HandleSignal(answer))
}

func TestEarlyCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	caller, callerSigs := newTestPeer(t, "c1")
	callee, _ := newTestPeer(t, "c1")

	require.NoError(t, caller.CreateOffer())
	offer := callerSigs.waitFor(t, models.SignalOffer)
	candidate := callerSigs.waitFor(t, models.SignalCandidate)

	// Candidate overtakes the offer in flight: it must be held, not
	// applied and not dropped.
	require.NoError(t, callee.HandleSignal(candidate))
	assert.Equal(t, 1, callee.PendingCandidates())

	require.NoError(t, callee.HandleSignal(offer))
	assert.Zero(t, callee.PendingCandidates())
}

func TestCandidateAfterRemoteDescriptionAppliesDirectly(t *testing.T) {
	caller, callerSigs := newTestPeer(t, "c1")
	callee, _ := newTestPeer(t, "c1")

	require.NoError(t, caller.CreateOffer())
	offer := callerSigs.waitFor(t, models.SignalOffer)
	candidate := callerSigs.waitFor(t, models.SignalCandidate)

	require.NoError(t, callee.HandleSignal(offer))
	require.NoError(t, callee.HandleSignal(candidate))
	assert.Zero(t, callee.PendingCandidates())
}

func TestUnknownSignalType(t *testing.T) {
	peer, _ := newTestPeer(t, "c1")

	err := peer.HandleSignal(models.SignalPayload{Type: "renegotiate", Data: json.RawMessage(`{}`), RoomID: "c1"})
	assert.Error(t, err)
}

func TestMalformedPayloads(t *testing.T) {
	peer, _ := newTestPeer(t, "c1")

	for _, kind := range []string{models.SignalOffer, models.SignalAnswer, models.SignalCandidate} {
		err := peer.HandleSignal(models.SignalPayload{Type: kind, Data: json.RawMessage(`"not an object"`), RoomID: "c1"})
		assert.Error(t, err, kind)
	}
}
