package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/driftbottle/realtime/internal/models"
	"github.com/driftbottle/realtime/internal/registry"
	"github.com/driftbottle/realtime/internal/relay"
)

// PushRequest is the body the persistence API posts after a message has
// been durably written. The relay only ever sees already-persisted
// envelopes; delivered=false means "offline, will show on next fetch",
// and the caller must not retry.
type PushRequest struct {
	ReceiverID string          `json:"receiverId" binding:"required"`
	Message    models.Envelope `json:"message" binding:"required"`
}

// PushResponse reports whether the recipient was reached live.
type PushResponse struct {
	Delivered bool `json:"delivered"`
}

// PushMessage lets the persistence collaborator trigger a best-effort
// push to an online recipient (requires authentication).
func PushMessage(push *relay.PushRelay) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get("user_id"); !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		var req PushRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Message.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message id is required"})
			return
		}

		delivered := push.Deliver(req.ReceiverID, req.Message)
		c.JSON(http.StatusOK, PushResponse{Delivered: delivered})
	}
}

// ICEConfig hands clients the STUN servers to use for call negotiation,
// so the list is managed in one place (public).
func ICEConfig(stunServers []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": stunServers})
	}
}

// Presence reports whether a user currently has a live connection
// (public).
func Presence(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"userId": userID,
			"online": reg.Online(userID),
		})
	}
}
