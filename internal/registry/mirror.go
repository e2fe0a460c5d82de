package registry

import (
	"log"
	"time"

	"github.com/driftbottle/realtime/internal/redis"
)

const presenceTTL = 24 * time.Hour

// RedisMirror writes presence entries to Redis so operators and other
// processes can see who is online. The in-memory registry stays
// authoritative; a mirror write failing is logged and ignored.
type RedisMirror struct{}

func (RedisMirror) SetOnline(userID, connID string) {
	client := redis.GetClient()
	if client == nil {
		return
	}
	ctx := redis.GetContext()
	if err := client.Set(ctx, "presence:"+userID, connID, presenceTTL).Err(); err != nil {
		log.Printf("presence mirror: failed to mark %s online: %v", userID, err)
	}
}

func (RedisMirror) SetOffline(userID string) {
	client := redis.GetClient()
	if client == nil {
		return
	}
	ctx := redis.GetContext()
	if err := client.Del(ctx, "presence:"+userID).Err(); err != nil {
		log.Printf("presence mirror: failed to mark %s offline: %v", userID, err)
	}
}
