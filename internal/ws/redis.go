package ws

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

var rdbClient *redis.Client

// Presence keys expire on their own if the process dies without cleanup
const presenceTTL = 24 * time.Hour

// SetRedisClient wires the optional presence mirror. With no client set,
// presence lives only in process memory.
func SetRedisClient(r *redis.Client) {
	rdbClient = r
	if r != nil {
		log.Println("[WS] Redis presence mirror enabled")
	}
}

// markUserOnline mirrors a presence bind into Redis, best effort
func markUserOnline(userID string) {
	if rdbClient == nil {
		return
	}
	ctx := context.Background()
	if err := rdbClient.Set(ctx, "presence:"+userID, time.Now().Format(time.RFC3339), presenceTTL).Err(); err != nil {
		log.Printf("[REDIS] Failed to mirror presence for %s: %v", userID, err)
	}
}

// markUserOffline clears the mirrored presence key, best effort
func markUserOffline(userID string) {
	if rdbClient == nil {
		return
	}
	ctx := context.Background()
	if err := rdbClient.Del(ctx, "presence:"+userID).Err(); err != nil {
		log.Printf("[REDIS] Failed to clear presence for %s: %v", userID, err)
	}
}
