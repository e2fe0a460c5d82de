package call

import (
	"encoding/json"
	"log"
	"time"

	"github.com/driftbottle/realtime/internal/models"
	"github.com/driftbottle/realtime/internal/redis"
)

const auditTTL = 24 * time.Hour

// RedisAuditor keeps a short-lived record of finished calls in Redis so
// "what happened to call X" is answerable after the session is dropped.
type RedisAuditor struct{}

func (RedisAuditor) Record(s models.CallSession) {
	client := redis.GetClient()
	if client == nil {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		log.Printf("call audit: failed to encode session %s: %v", s.CallID, err)
		return
	}
	ctx := redis.GetContext()
	if err := client.Set(ctx, "call:"+s.CallID, data, auditTTL).Err(); err != nil {
		log.Printf("call audit: failed to store session %s: %v", s.CallID, err)
	}
}
