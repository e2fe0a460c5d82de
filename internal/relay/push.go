package relay

import (
	"log"

	"github.com/driftbottle/realtime/internal/metrics"
	"github.com/driftbottle/realtime/internal/models"
)

// PushRelay delivers newly persisted message envelopes to online
// recipients. Delivery is at-most-once: the envelope is already durable
// before Deliver is called, so an offline recipient simply sees it on the
// next history fetch and the caller must not retry.
type PushRelay struct {
	router *Router
}

func NewPushRelay(router *Router) *PushRelay {
	return &PushRelay{router: router}
}

// Deliver forwards the envelope to recipientID and echoes it back to the
// sender's own connection, so another open session of the sender reflects
// the message immediately. Returns whether the recipient was reached.
func (p *PushRelay) Deliver(recipientID string, env models.Envelope) bool {
	delivered := p.router.Send(recipientID, models.EventNewMessage, env)
	if delivered {
		metrics.MessagesDelivered.Inc()
	} else {
		metrics.MessagesSkipped.Inc()
		log.Printf("push: recipient %s offline, message %s delivered on next fetch", recipientID, env.ID)
	}

	if env.SenderID != "" && env.SenderID != recipientID {
		p.router.Send(env.SenderID, models.EventNewMessage, env)
	}
	return delivered
}
