package relay

import (
	"log"

	"github.com/driftbottle/realtime/internal/call"
	"github.com/driftbottle/realtime/internal/metrics"
	"github.com/driftbottle/realtime/internal/models"
)

// NegotiationRelay forwards offer/answer/ice-candidate frames between the
// two participants of a call. It is a dumb pass-through: payloads are
// never inspected, and any frame it cannot route is dropped without an
// error to the sender. Out-of-order frames are the receiving client's
// problem to buffer; a stalled negotiation runs into the call timeout.
type NegotiationRelay struct {
	router *Router
	calls  *call.Machine
}

func NewNegotiationRelay(router *Router, calls *call.Machine) *NegotiationRelay {
	return &NegotiationRelay{router: router, calls: calls}
}

// Forward routes sig to the counterpart of fromUserID on the call named
// by sig.RoomID.
func (n *NegotiationRelay) Forward(fromUserID string, sig models.SignalPayload) {
	peer, ok := n.calls.Counterpart(sig.RoomID, fromUserID)
	if !ok {
		metrics.FramesDropped.WithLabelValues("unknown_call").Inc()
		log.Printf("signaling: dropping %s frame from %s for unknown call %s", sig.Type, fromUserID, sig.RoomID)
		return
	}
	if !n.router.Send(peer, models.EventSignaling, sig) {
		metrics.FramesDropped.WithLabelValues("peer_unreachable").Inc()
		log.Printf("signaling: peer %s unreachable, dropping %s frame for call %s", peer, sig.Type, sig.RoomID)
		return
	}
	metrics.FramesForwarded.Inc()
}
