// bottlecall is a terminal client for exercising the real-time layer:
// it connects as a user, prints pushed messages, and can place or answer
// voice calls with a real WebRTC negotiation.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/pflag"

	"github.com/driftbottle/realtime/client"
	"github.com/driftbottle/realtime/client/rtc"
	"github.com/driftbottle/realtime/internal/models"
)

func main() {
	server := pflag.String("server", "ws://localhost:8080/ws/connect", "signaling server WebSocket URL")
	user := pflag.StringP("user", "u", "", "user id to connect as")
	callPeer := pflag.String("call", "", "user id to place a voice call to")
	peerName := pflag.String("call-name", "", "display name of the callee")
	bottle := pflag.String("bottle", "", "bottle id of the conversation to watch")
	stun := pflag.StringSlice("stun", []string{"stun:stun.l.google.com:19302"}, "STUN servers")
	pflag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "--user is required")
		pflag.Usage()
		os.Exit(1)
	}

	conn, err := client.Dial(*server, *user)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("connected to %s as %s", *server, *user)

	reconciler := client.NewReconciler(*bottle)
	calls := client.NewCallService(conn)
	reconciler.OnIncomingCall(calls.HandleIncoming)
	reconciler.SetIdentity(*user)

	conn.On(models.EventNewMessage, func(raw json.RawMessage) {
		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("malformed new-message: %v", err)
			return
		}
		reconciler.HandleMessage(env)
		log.Printf("message from %s: %s", env.SenderName, env.Content)
	})
	conn.On(models.EventCallIncoming, func(raw json.RawMessage) {
		var req models.CallRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			log.Printf("malformed voice-call-incoming: %v", err)
			return
		}
		reconciler.HandleIncomingCall(req)
	})

	var (
		mu   sync.Mutex
		peer *rtc.Peer
	)
	newPeer := func(callID string) *rtc.Peer {
		p, err := rtc.NewPeer(callID, *stun, func(sig models.SignalPayload) {
			if err := conn.Emit(models.EventSignaling, sig); err != nil {
				log.Printf("failed to send signaling frame: %v", err)
			}
		})
		if err != nil {
			log.Printf("failed to create peer connection: %v", err)
			return nil
		}
		return p
	}

	conn.On(models.EventSignaling, func(raw json.RawMessage) {
		var sig models.SignalPayload
		if err := json.Unmarshal(raw, &sig); err != nil {
			log.Printf("malformed signaling frame: %v", err)
			return
		}
		mu.Lock()
		p := peer
		if p == nil {
			p = newPeer(sig.RoomID)
			peer = p
		}
		mu.Unlock()
		if p == nil {
			return
		}
		if err := p.HandleSignal(sig); err != nil {
			log.Printf("signaling error: %v", err)
		}
	})

	calls.AddListener(func(event string, data models.CallRequest) {
		log.Printf("call %s: %s", data.CallID, event)
		switch event {
		case client.CallEventIncoming:
			// Auto-answer; the CLI has no ringer.
			if err := calls.Answer(data.CallID); err != nil {
				log.Printf("failed to answer: %v", err)
			}
		case client.CallEventAnswered:
			mu.Lock()
			if peer == nil {
				peer = newPeer(data.CallID)
			}
			p := peer
			mu.Unlock()
			// CallerID is only set on calls we received; when it is
			// empty this side initiated and opens negotiation.
			if p != nil && data.CallerID == "" {
				if err := p.CreateOffer(); err != nil {
					log.Printf("failed to create offer: %v", err)
				}
			}
		case client.CallEventEnded, client.CallEventRejected:
			mu.Lock()
			if peer != nil {
				peer.Close()
				peer = nil
			}
			mu.Unlock()
		}
	})

	if *callPeer != "" {
		name := *peerName
		if name == "" {
			name = *callPeer
		}
		callID, err := calls.Initiate(*callPeer, name)
		if err != nil {
			log.Fatalf("failed to initiate call: %v", err)
		}
		log.Printf("calling %s (%s)", *callPeer, callID)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt

	if current, ok := calls.Current(); ok {
		calls.End(current.CallID)
	}
	log.Println("shutting down")
}
