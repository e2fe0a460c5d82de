package models

import "time"

// Envelope is one chat message as created by the persistence API. The
// relay forwards envelopes verbatim and never mutates them; ID uniqueness
// is what receiving clients deduplicate on.
type Envelope struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName,omitempty"`
	ReceiverID string    `json:"receiverId"`
	BottleID   string    `json:"bottleId,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}
