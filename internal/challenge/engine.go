package challenge

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/playrivals/backend/internal/models"
)

// Store is the persistence surface the engine drives. The sqlx adapter in
// internal/store implements it; tests substitute an in-memory fake.
// sql.ErrNoRows is the shared "not found / guard matched nothing" sentinel.
type Store interface {
	FindUser(ctx context.Context, id string) (*models.User, error)
	FindChallenge(ctx context.Context, id string) (*models.Challenge, error)
	CreateChallenge(ctx context.Context, ch *models.Challenge) error
	UpdateChallenge(ctx context.Context, id string, patch models.ChallengePatch) (*models.Challenge, error)
	ClaimOpenChallenge(ctx context.Context, id, userID string) (*models.Challenge, error)
	CompleteChallenge(ctx context.Context, id, winnerID string, claimTime time.Time) (*models.Challenge, error)
	DisputeChallenge(ctx context.Context, id string) (*models.Challenge, error)
	UpsertSelection(ctx context.Context, challengeID, playerID, winnerID string) error
	LoadActiveSelections(ctx context.Context) ([]models.WinnerSelection, error)
	ExpireOverdueChallenges(ctx context.Context) ([]models.Challenge, error)
}

// Broadcaster is the outbound side of the engine: targeted and broadcast-all
// delivery plus the presence question the start gate needs. The socket hub
// implements it.
type Broadcaster interface {
	SendToUser(userID string, message interface{})
	BroadcastToUsers(userIDs []string, message interface{})
	BroadcastToAll(message interface{})
	IsOnline(userID string) bool
}

// Engine drives the challenge lifecycle:
// PENDING -> ACCEPTED -> IN_PROGRESS -> COMPLETED, with EXPIRED applied
// lazily to overdue PENDING challenges and EXPIRED/DISPUTED reachable
// through the admin API. Every transition persists through the store first
// and then updates the cache, so acknowledged state is always durable.
type Engine struct {
	store  Store
	cache  *StateCache
	bus    Broadcaster
	events *EventPublisher
	ttl    time.Duration // challenge lifetime from creation to expiry
}

// NewEngine creates the challenge engine. events may wrap a nil Redis client.
func NewEngine(store Store, cache *StateCache, bus Broadcaster, events *EventPublisher, ttl time.Duration) *Engine {
	return &Engine{
		store:  store,
		cache:  cache,
		bus:    bus,
		events: events,
		ttl:    ttl,
	}
}

// Cache exposes the state cache (janitor wiring and diagnostics)
func (e *Engine) Cache() *StateCache {
	return e.cache
}

// LookupUser reads a user from the store
func (e *Engine) LookupUser(ctx context.Context, id string) (*models.User, error) {
	return e.store.FindUser(ctx, id)
}

// SelectionsSnapshot returns the full nomination map for getWinnerSelections
func (e *Engine) SelectionsSnapshot() map[string]map[string]string {
	return e.cache.AllNominations()
}

// WarmCache reloads the nomination cache from the winner_selections rows of
// every in-progress challenge. Runs once at boot before the hub accepts
// traffic; the victory gate is only correct with this state loaded.
func (e *Engine) WarmCache(ctx context.Context) (int, error) {
	selections, err := e.store.LoadActiveSelections(ctx)
	if err != nil {
		return 0, err
	}
	e.cache.SeedNominations(selections)
	return len(selections), nil
}

// generateToken generates a secure random hex token
func generateToken(length int) string {
	bytes := make([]byte, length)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// generateChallengeID generates a unique challenge ID
func generateChallengeID() string {
	return "chal_" + generateToken(8)
}

// CreateChallengeInput carries a validated createChallenge request
type CreateChallengeInput struct {
	CreatorID   string
	InviteeID   *string
	Game        string
	Description *string
	Rules       json.RawMessage
	Coins       int
	XP          int
	IsOpen      bool
}

// HandleCreateChallenge persists a new PENDING challenge and announces it:
// targeted to both participants for a direct challenge, to everyone online
// for an open one.
func (e *Engine) HandleCreateChallenge(ctx context.Context, input CreateChallengeInput) error {
	if input.CreatorID == "" || input.Game == "" {
		return errors.New("creatorId and game are required")
	}
	if input.Coins < 0 || input.XP < 0 {
		return errors.New("coins and xp must be non-negative")
	}
	if input.IsOpen && input.InviteeID != nil && *input.InviteeID != "" {
		return errors.New("an open challenge cannot name an invitee")
	}
	if !input.IsOpen && (input.InviteeID == nil || *input.InviteeID == "") {
		return errors.New("a direct challenge requires an invitee")
	}

	rules := types.JSONText(input.Rules)
	if len(rules) == 0 {
		rules = types.JSONText("{}")
	}

	now := time.Now()
	ch := &models.Challenge{
		ID:          generateChallengeID(),
		CreatorID:   input.CreatorID,
		IsOpen:      input.IsOpen,
		Game:        input.Game,
		Description: input.Description,
		Rules:       rules,
		Coins:       input.Coins,
		XP:          input.XP,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(e.ttl),
	}
	if !input.IsOpen {
		ch.InviteeID = input.InviteeID
	}

	if err := e.store.CreateChallenge(ctx, ch); err != nil {
		return err
	}

	log.Printf("[CHALLENGE] Created %s (game=%s coins=%d xp=%d open=%t)", ch.ID, ch.Game, ch.Coins, ch.XP, ch.IsOpen)

	if ch.IsOpen {
		e.bus.BroadcastToAll(e.challengeFrame("openChallengeCreated", ch))
	} else {
		e.bus.BroadcastToUsers(ch.Participants(), e.challengeFrame("challengeCreated", ch))
	}
	e.events.Publish(ctx, "challenge_created", map[string]interface{}{"challengeId": ch.ID, "game": ch.Game, "open": ch.IsOpen})
	return nil
}

// HandleAcceptChallenge moves a direct challenge PENDING -> ACCEPTED. The
// upstream action layer has already verified the acting user is the invitee.
func (e *Engine) HandleAcceptChallenge(ctx context.Context, challengeID string) error {
	ch, err := e.observeChallenge(ctx, challengeID)
	if err != nil {
		return err
	}
	if ch.Status != models.StatusPending {
		return fmt.Errorf("challenge %s cannot be accepted (status %s)", challengeID, ch.Status)
	}
	if ch.InviteeID == nil || *ch.InviteeID == "" {
		return fmt.Errorf("challenge %s has no invitee bound; open challenges are joined, not accepted", challengeID)
	}

	accepted := models.StatusAccepted
	pending := models.StatusPending
	now := time.Now()
	updated, err := e.store.UpdateChallenge(ctx, challengeID, models.ChallengePatch{
		Status:       &accepted,
		AcceptedAt:   &now,
		ExpectStatus: &pending,
	})
	if err != nil {
		return err
	}

	log.Printf("[CHALLENGE] %s accepted by %s", challengeID, *updated.InviteeID)
	e.bus.BroadcastToUsers(updated.Participants(), e.challengeFrame("challengeAccepted", updated))
	e.events.Publish(ctx, "challenge_accepted", map[string]interface{}{"challengeId": challengeID, "inviteeId": *updated.InviteeID})
	return nil
}

// HandleJoinOpenChallenge claims the invitee slot of an open challenge for
// userID. Every precondition failure goes back to the originator alone as a
// joinOpenChallengeFailed frame; a re-join by the current invitee re-emits
// the accepted state instead of failing.
func (e *Engine) HandleJoinOpenChallenge(ctx context.Context, challengeID, userID string) error {
	fail := func(message string) {
		e.bus.SendToUser(userID, failureFrame("joinOpenChallengeFailed", message, challengeID))
	}

	ch, err := e.observeChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			fail("Challenge not found")
			return nil
		}
		return err
	}

	if ch.InviteeID != nil && *ch.InviteeID == userID {
		e.bus.BroadcastToUsers(ch.Participants(), e.challengeFrame("challengeAccepted", ch))
		return nil
	}

	if ch.Status == models.StatusExpired {
		fail("Challenge has expired")
		return nil
	}
	if !ch.IsOpen || ch.Status != models.StatusPending {
		fail("Challenge is not open for joining")
		return nil
	}
	if userID == ch.CreatorID {
		fail("You cannot join your own challenge")
		return nil
	}
	if ch.InviteeID != nil {
		fail("Challenge already has an invitee")
		return nil
	}

	user, err := e.store.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			fail("User not found")
			return nil
		}
		return err
	}
	if user.Coins < ch.Coins {
		fail("Insufficient coins to join this challenge")
		return nil
	}

	updated, err := e.store.ClaimOpenChallenge(ctx, challengeID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Another joiner won between our read and the claim.
			fail("Challenge is no longer available")
			return nil
		}
		return err
	}

	log.Printf("[CHALLENGE] %s joined by %s", challengeID, userID)
	e.bus.BroadcastToUsers(updated.Participants(), e.challengeFrame("challengeAccepted", updated))
	e.events.Publish(ctx, "challenge_accepted", map[string]interface{}{"challengeId": challengeID, "inviteeId": userID})
	return nil
}

// HandleStartChallenge moves ACCEPTED -> IN_PROGRESS. Only the invitee may
// start, and both participants must be online. A start attempt blocked by
// presence leaves a handshake entry behind for the janitor to expire.
func (e *Engine) HandleStartChallenge(ctx context.Context, challengeID, userID string) error {
	fail := func(message string) {
		e.bus.SendToUser(userID, failureFrame("failedToStartChallenge", message, challengeID))
	}

	ch, err := e.observeChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			fail("Challenge not found")
			return nil
		}
		return err
	}

	if ch.InviteeID == nil || *ch.InviteeID != userID {
		fail("Only the invited player can start the challenge")
		return nil
	}
	if !e.bus.IsOnline(ch.CreatorID) {
		e.cache.MarkStartAttempt(challengeID, true)
		fail("Opponent is Offline")
		return nil
	}
	if !e.bus.IsOnline(userID) {
		e.cache.MarkStartAttempt(challengeID, true)
		fail("You must be online to start the challenge")
		return nil
	}

	switch ch.Status {
	case models.StatusAccepted:
		// fall through to the transition
	case models.StatusInProgress:
		fail("Challenge has already started")
		return nil
	case models.StatusExpired:
		fail("Challenge has expired")
		return nil
	default:
		fail("Challenge must be accepted before it can be started")
		return nil
	}

	inProgress := models.StatusInProgress
	accepted := models.StatusAccepted
	updated, err := e.store.UpdateChallenge(ctx, challengeID, models.ChallengePatch{
		Status:       &inProgress,
		ExpectStatus: &accepted,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			fail("Challenge must be accepted before it can be started")
			return nil
		}
		return err
	}

	e.cache.ClearStart(challengeID)

	log.Printf("[CHALLENGE] %s started by %s", challengeID, userID)
	frame := e.challengeFrame("challengeStartedBy", updated)
	frame["startedBy"] = userID
	e.bus.BroadcastToUsers(updated.Participants(), frame)
	e.events.Publish(ctx, "challenge_started", map[string]interface{}{"challengeId": challengeID, "startedBy": userID})
	return nil
}

// HandleSelectWinner upserts a player's winner nomination for an in-progress
// challenge. The challenge status never changes here; both participants get
// a challengeUpdate carrying the refreshed nomination map.
func (e *Engine) HandleSelectWinner(ctx context.Context, challengeID, playerID, winnerID string) error {
	if challengeID == "" || playerID == "" || winnerID == "" {
		return errors.New("challengeId, playerId and winnerId are required")
	}

	ch, err := e.observeChallenge(ctx, challengeID)
	if err != nil {
		return err
	}
	if ch.Status != models.StatusInProgress {
		return fmt.Errorf("challenge %s is not in progress (status %s)", challengeID, ch.Status)
	}

	// Store first, cache second: an acknowledged nomination is always durable.
	if err := e.store.UpsertSelection(ctx, challengeID, playerID, winnerID); err != nil {
		return err
	}
	e.cache.SetNomination(challengeID, playerID, winnerID)

	log.Printf("[CHALLENGE] %s: %s nominated %s as winner", challengeID, playerID, winnerID)
	e.bus.BroadcastToUsers(ch.Participants(), e.challengeFrame("challengeUpdate", ch))
	return nil
}

// HandleClaimVictory runs the consensus gate. Failures go to both
// participants; agreement completes the challenge in a single transaction
// that also purges its selections.
func (e *Engine) HandleClaimVictory(ctx context.Context, challengeID string) error {
	ch, err := e.observeChallenge(ctx, challengeID)
	if err != nil {
		return err
	}

	fail := func(message string) {
		e.bus.BroadcastToUsers(ch.Participants(), failureFrame("claimVictoryFailed", message, challengeID))
	}

	if ch.Status != models.StatusInProgress {
		fail("Challenge is not in progress")
		return nil
	}
	if ch.InviteeID == nil || *ch.InviteeID == "" {
		return fmt.Errorf("challenge %s is in progress without an invitee", challengeID)
	}

	winnerID, result := CheckConsensus(e.cache.Nominations(challengeID), ch.CreatorID, *ch.InviteeID)
	switch result {
	case ConsensusIncomplete:
		fail("Both players must select a winner before claiming victory")
		return nil
	case ConsensusDisagreed:
		fail("Players disagree on the winner selection")
		return nil
	}

	completed, err := e.store.CompleteChallenge(ctx, challengeID, winnerID, time.Now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Completed or disputed concurrently; nothing left to settle.
			fail("Challenge is not in progress")
			return nil
		}
		return err
	}
	e.cache.DropNominations(challengeID)

	log.Printf("[CHALLENGE] %s completed; winner %s", challengeID, winnerID)
	e.bus.BroadcastToUsers(completed.Participants(), e.challengeFrame("challengeCompleted", completed))
	e.events.Publish(ctx, "challenge_completed", map[string]interface{}{"challengeId": challengeID, "winnerId": winnerID})
	return nil
}

// ExpireChallenge is the administrative PENDING -> EXPIRED transition
func (e *Engine) ExpireChallenge(ctx context.Context, challengeID string) (*models.Challenge, error) {
	expired := models.StatusExpired
	pending := models.StatusPending
	updated, err := e.store.UpdateChallenge(ctx, challengeID, models.ChallengePatch{
		Status:       &expired,
		ExpectStatus: &pending,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[CHALLENGE] %s expired by admin", challengeID)
	e.bus.BroadcastToUsers(updated.Participants(), e.challengeFrame("challengeUpdate", updated))
	e.events.Publish(ctx, "challenge_expired", map[string]interface{}{"challengeId": challengeID, "admin": true})
	return updated, nil
}

// MarkDisputed is the administrative transition of any non-terminal
// challenge to DISPUTED. Selections are purged with it.
func (e *Engine) MarkDisputed(ctx context.Context, challengeID string) (*models.Challenge, error) {
	updated, err := e.store.DisputeChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	e.cache.DropNominations(challengeID)
	e.cache.ClearStart(challengeID)

	log.Printf("[CHALLENGE] %s marked disputed by admin", challengeID)
	e.bus.BroadcastToUsers(updated.Participants(), e.challengeFrame("challengeUpdate", updated))
	e.events.Publish(ctx, "challenge_disputed", map[string]interface{}{"challengeId": challengeID})
	return updated, nil
}

// ConsensusReport summarizes every cached nomination set and the verdict the
// victory gate would return for it right now. Diagnostic surface for the
// admin API.
func (e *Engine) ConsensusReport(ctx context.Context) []map[string]interface{} {
	snapshot := e.cache.AllNominations()
	report := make([]map[string]interface{}, 0, len(snapshot))
	for challengeID, nominations := range snapshot {
		entry := map[string]interface{}{
			"challengeId": challengeID,
			"selections":  nominations,
		}
		if ch, err := e.store.FindChallenge(ctx, challengeID); err == nil && ch.InviteeID != nil {
			winnerID, result := CheckConsensus(nominations, ch.CreatorID, *ch.InviteeID)
			entry["verdict"] = result.String()
			if result == ConsensusAgreed {
				entry["agreedWinner"] = winnerID
			}
		}
		report = append(report, entry)
	}
	return report
}

// observeChallenge loads a challenge and applies lazy expiry: a PENDING
// challenge past its deadline is moved to EXPIRED before the caller acts on
// it, and both participants are notified of the change.
func (e *Engine) observeChallenge(ctx context.Context, challengeID string) (*models.Challenge, error) {
	ch, err := e.store.FindChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if ch.Status != models.StatusPending || time.Now().Before(ch.ExpiresAt) {
		return ch, nil
	}

	expired := models.StatusExpired
	pending := models.StatusPending
	updated, err := e.store.UpdateChallenge(ctx, challengeID, models.ChallengePatch{
		Status:       &expired,
		ExpectStatus: &pending,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Another observer or transition got there first; re-read.
			return e.store.FindChallenge(ctx, challengeID)
		}
		return nil, err
	}

	log.Printf("[CHALLENGE] %s expired (deadline %s)", challengeID, ch.ExpiresAt.Format(time.RFC3339))
	e.bus.BroadcastToUsers(updated.Participants(), e.challengeFrame("challengeUpdate", updated))
	e.events.Publish(ctx, "challenge_expired", map[string]interface{}{"challengeId": challengeID})
	return updated, nil
}

// challengeFrame wraps a challenge payload in an outbound frame
func (e *Engine) challengeFrame(msgType string, ch *models.Challenge) map[string]interface{} {
	return map[string]interface{}{
		"type":      msgType,
		"challenge": e.challengePayload(ch),
	}
}

// challengePayload builds the wire form of a challenge. winnerSelections is
// read from the nomination cache at the instant of broadcast.
func (e *Engine) challengePayload(ch *models.Challenge) map[string]interface{} {
	return map[string]interface{}{
		"id":               ch.ID,
		"creatorId":        ch.CreatorID,
		"inviteeId":        ch.InviteeID,
		"isOpen":           ch.IsOpen,
		"game":             ch.Game,
		"description":      ch.Description,
		"rules":            ch.Rules,
		"coins":            ch.Coins,
		"xp":               ch.XP,
		"status":           ch.Status,
		"winnerId":         ch.WinnerID,
		"createdAt":        ch.CreatedAt,
		"updatedAt":        ch.UpdatedAt,
		"acceptedAt":       ch.AcceptedAt,
		"expiresAt":        ch.ExpiresAt,
		"completedAt":      ch.CompletedAt,
		"claimTime":        ch.ClaimTime,
		"winnerSelections": e.cache.Nominations(ch.ID),
	}
}

// failureFrame builds a typed precondition-failure frame
func failureFrame(msgType, message, challengeID string) map[string]interface{} {
	return map[string]interface{}{
		"type":        msgType,
		"message":     message,
		"challengeId": challengeID,
	}
}
