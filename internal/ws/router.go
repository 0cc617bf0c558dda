package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/playrivals/backend/internal/challenge"
)

// Inbound frames are flat JSON objects: the payload fields sit beside the
// "type" discriminator.
type setOnlineData struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

type createChallengeData struct {
	CreatorID   string          `json:"creatorId"`
	InviteeID   *string         `json:"inviteeId"`
	Game        string          `json:"game"`
	Description *string         `json:"description"`
	Rules       json.RawMessage `json:"rules"`
	Coins       int             `json:"coins"`
	XP          int             `json:"xp"`
	IsOpen      bool            `json:"isOpen"`
}

type challengeRefData struct {
	ChallengeID string `json:"challengeId"`
}

type challengeActionData struct {
	ChallengeID string `json:"challengeId"`
	UserID      string `json:"userId"`
}

type selectWinnerData struct {
	ChallengeID string `json:"challengeId"`
	GameID      string `json:"gameId"` // legacy alias for challengeId
	PlayerID    string `json:"playerId"`
	WinnerID    string `json:"winnerId"`
	Selected    string `json:"selectedWinner"` // legacy alias for winnerId
}

// normalize folds the legacy field aliases into the canonical ones
func (d *selectWinnerData) normalize() {
	if d.ChallengeID == "" {
		d.ChallengeID = d.GameID
	}
	if d.WinnerID == "" {
		d.WinnerID = d.Selected
	}
}

// Router parses inbound frames and dispatches them to the challenge engine.
// Handler and precondition errors come back as a generic error frame to the
// originating socket; the socket itself is never closed here.
type Router struct {
	engine *challenge.Engine
	hub    *Hub
}

// NewRouter creates the frame router
func NewRouter(engine *challenge.Engine, hub *Hub) *Router {
	return &Router{engine: engine, hub: hub}
}

// HandleMessage processes one inbound frame
func (r *Router) HandleMessage(client *Client, raw []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.Printf("[WS] Dropping malformed frame on conn %s: %v", client.ConnID(), err)
		return
	}

	ctx := context.Background()

	switch envelope.Type {
	case "setOnline":
		var data setOnlineData
		if err := json.Unmarshal(raw, &data); err != nil || (data.Online && data.UserID == "") {
			client.sendError("Failed to process message")
			return
		}
		r.handleSetOnline(ctx, client, data)

	case "createChallenge":
		var data createChallengeData
		if err := json.Unmarshal(raw, &data); err != nil {
			client.sendError("Failed to process message")
			return
		}
		input := challenge.CreateChallengeInput{
			CreatorID:   data.CreatorID,
			InviteeID:   data.InviteeID,
			Game:        data.Game,
			Description: data.Description,
			Rules:       data.Rules,
			Coins:       data.Coins,
			XP:          data.XP,
			IsOpen:      data.IsOpen,
		}
		if err := r.engine.HandleCreateChallenge(ctx, input); err != nil {
			log.Printf("[WS] createChallenge failed on conn %s: %v", client.ConnID(), err)
			client.sendError("Failed to process message")
		}

	case "acceptChallenge":
		var data challengeRefData
		if err := json.Unmarshal(raw, &data); err != nil || data.ChallengeID == "" {
			client.sendError("Failed to process message")
			return
		}
		if err := r.engine.HandleAcceptChallenge(ctx, data.ChallengeID); err != nil {
			log.Printf("[WS] acceptChallenge failed for %s: %v", data.ChallengeID, err)
			client.sendError("Failed to process message")
		}

	case "joinOpenChallenge":
		var data challengeActionData
		if err := json.Unmarshal(raw, &data); err != nil || data.ChallengeID == "" || data.UserID == "" {
			client.sendError("Failed to process message")
			return
		}
		if err := r.engine.HandleJoinOpenChallenge(ctx, data.ChallengeID, data.UserID); err != nil {
			log.Printf("[WS] joinOpenChallenge failed for %s: %v", data.ChallengeID, err)
			client.sendError("Failed to process message")
		}

	case "startChallenge":
		var data challengeActionData
		if err := json.Unmarshal(raw, &data); err != nil || data.ChallengeID == "" || data.UserID == "" {
			client.sendError("Failed to process message")
			return
		}
		if err := r.engine.HandleStartChallenge(ctx, data.ChallengeID, data.UserID); err != nil {
			log.Printf("[WS] startChallenge failed for %s: %v", data.ChallengeID, err)
			client.sendError("Failed to process message")
		}

	case "selectWinner":
		var data selectWinnerData
		if err := json.Unmarshal(raw, &data); err != nil {
			client.sendError("Failed to process message")
			return
		}
		data.normalize()
		if err := r.engine.HandleSelectWinner(ctx, data.ChallengeID, data.PlayerID, data.WinnerID); err != nil {
			log.Printf("[WS] selectWinner failed for %s: %v", data.ChallengeID, err)
			client.sendError("Failed to process message")
		}

	case "claimVictory":
		var data challengeRefData
		if err := json.Unmarshal(raw, &data); err != nil || data.ChallengeID == "" {
			client.sendError("Failed to process message")
			return
		}
		if err := r.engine.HandleClaimVictory(ctx, data.ChallengeID); err != nil {
			log.Printf("[WS] claimVictory failed for %s: %v", data.ChallengeID, err)
			client.sendError("Failed to process message")
		}

	case "getWinnerSelections":
		client.sendJSON(map[string]interface{}{
			"type":       "allWinnerSelections",
			"selections": r.engine.SelectionsSnapshot(),
		})

	default:
		// Unknown types are dropped without an error frame so a confused
		// client cannot amplify traffic.
		log.Printf("[WS] Ignoring unknown message type %q on conn %s", envelope.Type, client.ConnID())
	}
}

// handleSetOnline binds or unbinds the socket's user identity
func (r *Router) handleSetOnline(ctx context.Context, client *Client, data setOnlineData) {
	if !data.Online {
		r.hub.UnbindUser(client)
		return
	}

	user, err := r.engine.LookupUser(ctx, data.UserID)
	if err != nil {
		log.Printf("[WS] setOnline rejected for %s: %v", data.UserID, err)
		client.sendError("Failed to process message")
		return
	}

	r.hub.BindUser(client, user.ID, user.Name)
}
