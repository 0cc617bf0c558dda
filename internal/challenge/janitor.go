package challenge

import (
	"context"
	"log"
	"time"
)

// Janitor is the periodic sweeper: it evicts stale start handshakes from the
// cache and expires overdue PENDING challenges in the store. The lazy expiry
// in the engine covers challenges that are read between sweeps; the janitor
// catches the ones nobody is looking at.
type Janitor struct {
	engine   *Engine
	interval time.Duration
	maxAge   time.Duration // start handshake age limit
}

// NewJanitor creates a janitor over the engine's store and cache
func NewJanitor(engine *Engine, interval, maxAge time.Duration) *Janitor {
	return &Janitor{
		engine:   engine,
		interval: interval,
		maxAge:   maxAge,
	}
}

// Start runs the sweep loop until ctx is cancelled
func (j *Janitor) Start(ctx context.Context) {
	log.Printf("[JANITOR] Started (interval=%s, handshake max age=%s)", j.interval, j.maxAge)
	go func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("[JANITOR] Stopping")
				return
			case <-ticker.C:
				j.Sweep(ctx)
			}
		}
	}()
}

// Sweep runs one janitor pass. Exposed so tests can drive it synchronously.
func (j *Janitor) Sweep(ctx context.Context) {
	e := j.engine

	e.cache.EvictStaleStarts(time.Now(), j.maxAge)

	expired, err := e.store.ExpireOverdueChallenges(ctx)
	if err != nil {
		log.Printf("[JANITOR] Overdue challenge sweep failed: %v", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	log.Printf("[JANITOR] Expired %d overdue challenge(s)", len(expired))
	for i := range expired {
		ch := &expired[i]
		e.cache.ClearStart(ch.ID)
		e.bus.BroadcastToUsers(ch.Participants(), e.challengeFrame("challengeUpdate", ch))
		e.events.Publish(ctx, "challenge_expired", map[string]interface{}{"challengeId": ch.ID})
	}
}
