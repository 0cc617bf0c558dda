package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

// ChallengeStatus represents the current state of a challenge
type ChallengeStatus string

const (
	StatusPending    ChallengeStatus = "PENDING"
	StatusAccepted   ChallengeStatus = "ACCEPTED"
	StatusInProgress ChallengeStatus = "IN_PROGRESS"
	StatusCompleted  ChallengeStatus = "COMPLETED"
	StatusExpired    ChallengeStatus = "EXPIRED"
	StatusDisputed   ChallengeStatus = "DISPUTED"
)

// Terminal reports whether the status admits no further transitions.
func (s ChallengeStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusDisputed
}

// User represents a platform user. The engine only reads users; accounts,
// coin balances and profile edits are owned by the upstream service.
type User struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Coins     int       `db:"coins" json:"coins"`
	Image     *string   `db:"image" json:"image,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Challenge represents a two-player wager on a named game
type Challenge struct {
	ID          string          `db:"id" json:"id"`
	CreatorID   string          `db:"creator_id" json:"creatorId"`
	InviteeID   *string         `db:"invitee_id" json:"inviteeId,omitempty"`
	IsOpen      bool            `db:"is_open" json:"isOpen"`
	Game        string          `db:"game" json:"game"`
	Description *string         `db:"description" json:"description,omitempty"`
	Rules       types.JSONText  `db:"rules" json:"rules,omitempty"`
	Coins       int             `db:"coins" json:"coins"`
	XP          int             `db:"xp" json:"xp"`
	Status      ChallengeStatus `db:"status" json:"status"`
	WinnerID    *string         `db:"winner_id" json:"winnerId,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updatedAt"`
	AcceptedAt  *time.Time      `db:"accepted_at" json:"acceptedAt,omitempty"`
	ExpiresAt   time.Time       `db:"expires_at" json:"expiresAt"`
	CompletedAt *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
	ClaimTime   *time.Time      `db:"claim_time" json:"claimTime,omitempty"`
}

// Participants returns the user ids a targeted broadcast for this challenge
// goes to: the creator, plus the invitee when one is bound.
func (c *Challenge) Participants() []string {
	ids := []string{c.CreatorID}
	if c.InviteeID != nil && *c.InviteeID != "" {
		ids = append(ids, *c.InviteeID)
	}
	return ids
}

// WinnerSelection is one participant's nomination of the winner of a
// challenge. One row per (challenge, player); repeated selections overwrite.
type WinnerSelection struct {
	ChallengeID    string    `db:"challenge_id" json:"challengeId"`
	PlayerID       string    `db:"player_id" json:"playerId"`
	SelectedWinner string    `db:"selected_winner" json:"selectedWinner"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// ChallengePatch lists the challenge fields an update may set. Nil fields are
// left untouched. ExpectStatus, when set, turns the update into a guarded
// transition: the row is only patched while it still has that status.
type ChallengePatch struct {
	Status       *ChallengeStatus
	InviteeID    *string
	IsOpen       *bool
	WinnerID     *string
	AcceptedAt   *time.Time
	CompletedAt  *time.Time
	ClaimTime    *time.Time
	ExpectStatus *ChallengeStatus
}

// AdminAccount represents an administrative login
type AdminAccount struct {
	Username     string         `db:"username" json:"username"`
	DisplayName  string         `db:"display_name" json:"display_name"`
	PasswordHash string         `db:"password_hash" json:"-"`
	Roles        pq.StringArray `db:"roles" json:"roles"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// AdminAudit represents one entry in the admin action log
type AdminAudit struct {
	ID            int            `db:"id" json:"id"`
	AdminUsername string         `db:"admin_username" json:"admin_username"`
	IP            string         `db:"ip" json:"ip"`
	Route         string         `db:"route" json:"route"`
	Action        string         `db:"action" json:"action"`
	Details       types.JSONText `db:"details" json:"details"`
	Success       bool           `db:"success" json:"success"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}
