package challenge

import (
	"log"
	"sync"
	"time"

	"github.com/playrivals/backend/internal/models"
)

// StartState tracks a partial start handshake for a challenge. An entry only
// exists while a start attempt has been made but the transition to
// IN_PROGRESS has not happened; the janitor evicts entries that go stale.
type StartState struct {
	CreatorStarted bool
	InviteeStarted bool
	FirstTouchAt   time.Time
}

// StateCache holds the process-local mirrors of durable state: per-challenge
// winner nominations and per-challenge start handshakes. One mutex guards
// both maps; it is held only for map reads/writes, never across store calls
// or socket sends. The store stays authoritative; on restart the nomination
// map is rebuilt from it.
type StateCache struct {
	mu          sync.RWMutex
	starts      map[string]StartState
	nominations map[string]map[string]string // challengeID -> playerID -> winnerID
}

// NewStateCache creates an empty cache
func NewStateCache() *StateCache {
	return &StateCache{
		starts:      make(map[string]StartState),
		nominations: make(map[string]map[string]string),
	}
}

// SetNomination records a player's winner nomination, overwriting any
// previous one for the same (challenge, player) pair.
func (c *StateCache) SetNomination(challengeID, playerID, winnerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.nominations[challengeID]; !exists {
		c.nominations[challengeID] = make(map[string]string)
	}
	c.nominations[challengeID][playerID] = winnerID
}

// Nominations returns a copy of the nomination map for a challenge. The copy
// is always non-nil so callers can attach it to payloads directly.
func (c *StateCache) Nominations(challengeID string) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string)
	for playerID, winnerID := range c.nominations[challengeID] {
		out[playerID] = winnerID
	}
	return out
}

// DropNominations removes every nomination for a challenge
func (c *StateCache) DropNominations(challengeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nominations, challengeID)
}

// AllNominations returns a snapshot of the full nomination map
func (c *StateCache) AllNominations() map[string]map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]map[string]string, len(c.nominations))
	for challengeID, players := range c.nominations {
		inner := make(map[string]string, len(players))
		for playerID, winnerID := range players {
			inner[playerID] = winnerID
		}
		out[challengeID] = inner
	}
	return out
}

// SeedNominations replaces the nomination map with rows loaded from the
// store. Called once during startup warm-up, before the listener opens.
func (c *StateCache) SeedNominations(selections []models.WinnerSelection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nominations = make(map[string]map[string]string)
	for _, sel := range selections {
		if _, exists := c.nominations[sel.ChallengeID]; !exists {
			c.nominations[sel.ChallengeID] = make(map[string]string)
		}
		c.nominations[sel.ChallengeID][sel.PlayerID] = sel.SelectedWinner
	}
}

// NominationCount returns the number of challenges with cached nominations
func (c *StateCache) NominationCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nominations)
}

// MarkStartAttempt records that a participant tried to start the challenge.
// FirstTouchAt is set on the first attempt only, so the janitor measures
// staleness from the beginning of the handshake.
func (c *StateCache) MarkStartAttempt(challengeID string, byInvitee bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, exists := c.starts[challengeID]
	if !exists {
		state = StartState{FirstTouchAt: time.Now()}
	}
	if byInvitee {
		state.InviteeStarted = true
	} else {
		state.CreatorStarted = true
	}
	c.starts[challengeID] = state
}

// StartStateFor returns the start handshake entry for a challenge, if any
func (c *StateCache) StartStateFor(challengeID string) (StartState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, exists := c.starts[challengeID]
	return state, exists
}

// ClearStart drops the start handshake entry for a challenge
func (c *StateCache) ClearStart(challengeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.starts, challengeID)
}

// EvictStaleStarts removes start entries first touched before now-maxAge and
// returns how many were dropped. Nominations are never evicted here; they
// live for as long as their challenge stays IN_PROGRESS.
func (c *StateCache) EvictStaleStarts(now time.Time, maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-maxAge)
	removed := 0
	for challengeID, state := range c.starts {
		if state.FirstTouchAt.Before(cutoff) {
			delete(c.starts, challengeID)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("[CACHE] Evicted %d stale start handshake(s)", removed)
	}
	return removed
}
