package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/playrivals/backend/internal/models"
)

// challengeColumns is the canonical column list for challenge reads. Every
// query that returns a challenge row selects exactly these columns so the
// struct scan stays in one place.
const challengeColumns = `id, creator_id, invitee_id, is_open, game, description, rules, coins, xp, status, winner_id, created_at, updated_at, accepted_at, expires_at, completed_at, claim_time`

// Store is the durable adapter over PostgreSQL. It never retries; failures
// surface to the caller, with sql.ErrNoRows standing in for "not found" and
// for guarded transitions that matched no row.
type Store struct {
	db *sqlx.DB
}

// New creates a store over an open database handle
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// FindUser returns a user by id
func (s *Store) FindUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, `SELECT id, name, coins, image, created_at FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindChallenge returns a challenge by id
func (s *Store) FindChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	var ch models.Challenge
	err := s.db.GetContext(ctx, &ch, `SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// CreateChallenge persists a new challenge row. Timestamps come from the
// caller so the broadcast payload and the stored row agree exactly.
func (s *Store) CreateChallenge(ctx context.Context, ch *models.Challenge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO challenges (id, creator_id, invitee_id, is_open, game, description, rules, coins, xp, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, ch.ID, ch.CreatorID, ch.InviteeID, ch.IsOpen, ch.Game, ch.Description, ch.Rules, ch.Coins, ch.XP, ch.Status, ch.CreatedAt, ch.UpdatedAt, ch.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert challenge %s: %w", ch.ID, err)
	}
	return nil
}

// buildChallengePatch turns a patch into SET fragments and their args.
// updated_at is always touched. Placeholders are numbered from $1; callers
// append their WHERE args after these.
func buildChallengePatch(patch models.ChallengePatch) ([]string, []interface{}) {
	var sets []string
	var args []interface{}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.InviteeID != nil {
		add("invitee_id", *patch.InviteeID)
	}
	if patch.IsOpen != nil {
		add("is_open", *patch.IsOpen)
	}
	if patch.WinnerID != nil {
		add("winner_id", *patch.WinnerID)
	}
	if patch.AcceptedAt != nil {
		add("accepted_at", *patch.AcceptedAt)
	}
	if patch.CompletedAt != nil {
		add("completed_at", *patch.CompletedAt)
	}
	if patch.ClaimTime != nil {
		add("claim_time", *patch.ClaimTime)
	}
	sets = append(sets, "updated_at = NOW()")

	return sets, args
}

// UpdateChallenge applies a patch and returns the updated row. When the patch
// carries ExpectStatus the update is a guarded transition: a concurrent
// status change makes it match nothing and sql.ErrNoRows comes back.
func (s *Store) UpdateChallenge(ctx context.Context, id string, patch models.ChallengePatch) (*models.Challenge, error) {
	sets, args := buildChallengePatch(patch)

	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	if patch.ExpectStatus != nil {
		args = append(args, *patch.ExpectStatus)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query := fmt.Sprintf(`UPDATE challenges SET %s WHERE %s RETURNING %s`, strings.Join(sets, ", "), where, challengeColumns)

	var ch models.Challenge
	if err := s.db.GetContext(ctx, &ch, query, args...); err != nil {
		return nil, err
	}
	return &ch, nil
}

// ClaimOpenChallenge atomically binds a user as the invitee of an open
// pending challenge. The guards live in the WHERE clause so two concurrent
// joiners cannot both win; the loser sees sql.ErrNoRows.
func (s *Store) ClaimOpenChallenge(ctx context.Context, id, userID string) (*models.Challenge, error) {
	var ch models.Challenge
	err := s.db.GetContext(ctx, &ch, `
		UPDATE challenges
		SET invitee_id = $1, status = $2, accepted_at = NOW(), is_open = FALSE, updated_at = NOW()
		WHERE id = $3 AND is_open = TRUE AND status = $4 AND invitee_id IS NULL
		RETURNING `+challengeColumns,
		userID, models.StatusAccepted, id, models.StatusPending)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// CompleteChallenge settles a challenge in one transaction: the guarded
// status flip and the purge of its winner selections commit together, so a
// completed challenge never has selection rows left behind.
func (s *Store) CompleteChallenge(ctx context.Context, id, winnerID string, claimTime time.Time) (*models.Challenge, error) {
	var ch models.Challenge
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &ch, `
			UPDATE challenges
			SET status = $1, winner_id = $2, completed_at = NOW(), claim_time = $3, updated_at = NOW()
			WHERE id = $4 AND status = $5
			RETURNING `+challengeColumns,
			models.StatusCompleted, winnerID, claimTime, id, models.StatusInProgress)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM winner_selections WHERE challenge_id = $1`, id); err != nil {
			return fmt.Errorf("failed to purge selections for challenge %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// DisputeChallenge moves any non-terminal challenge to DISPUTED and purges
// its selections in the same transaction. Selections only exist while a
// challenge is IN_PROGRESS, so leaving DISPUTED rows behind would orphan them.
func (s *Store) DisputeChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	var ch models.Challenge
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &ch, `
			UPDATE challenges
			SET status = $1, updated_at = NOW()
			WHERE id = $2 AND status NOT IN ($3, $4, $5)
			RETURNING `+challengeColumns,
			models.StatusDisputed, id, models.StatusCompleted, models.StatusExpired, models.StatusDisputed)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM winner_selections WHERE challenge_id = $1`, id); err != nil {
			return fmt.Errorf("failed to purge selections for challenge %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// UpsertSelection records a player's winner nomination, overwriting any
// previous one for the same (challenge, player) pair.
func (s *Store) UpsertSelection(ctx context.Context, challengeID, playerID, winnerID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO winner_selections (challenge_id, player_id, selected_winner, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (challenge_id, player_id) DO UPDATE SET
			selected_winner = EXCLUDED.selected_winner,
			updated_at = NOW()
	`, challengeID, playerID, winnerID)
	if err != nil {
		return fmt.Errorf("failed to upsert selection for challenge %s player %s: %w", challengeID, playerID, err)
	}
	return nil
}

// LoadActiveSelections returns every selection belonging to a challenge that
// is currently IN_PROGRESS. Used to warm the nomination cache on startup.
func (s *Store) LoadActiveSelections(ctx context.Context) ([]models.WinnerSelection, error) {
	selections := []models.WinnerSelection{}
	err := s.db.SelectContext(ctx, &selections, `
		SELECT ws.challenge_id, ws.player_id, ws.selected_winner, ws.updated_at
		FROM winner_selections ws
		JOIN challenges c ON c.id = ws.challenge_id
		WHERE c.status = $1
		ORDER BY ws.challenge_id, ws.player_id
	`, models.StatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("failed to load active selections: %w", err)
	}
	return selections, nil
}

// ExpireOverdueChallenges bulk-moves every PENDING challenge past its
// deadline to EXPIRED and returns the rows it changed. Janitor sweep path;
// the lazy per-read expiry covers challenges observed between sweeps.
func (s *Store) ExpireOverdueChallenges(ctx context.Context) ([]models.Challenge, error) {
	expired := []models.Challenge{}
	err := s.db.SelectContext(ctx, &expired, `
		UPDATE challenges
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expires_at < NOW()
		RETURNING `+challengeColumns+`
	`, models.StatusExpired, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to expire overdue challenges: %w", err)
	}
	return expired, nil
}

// ListChallenges returns challenges for the admin API, newest first,
// optionally filtered by status.
func (s *Store) ListChallenges(ctx context.Context, status string, limit, offset int) ([]models.Challenge, error) {
	challenges := []models.Challenge{}
	if status != "" {
		err := s.db.SelectContext(ctx, &challenges,
			`SELECT `+challengeColumns+` FROM challenges WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			status, limit, offset)
		return challenges, err
	}
	err := s.db.SelectContext(ctx, &challenges,
		`SELECT `+challengeColumns+` FROM challenges ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	return challenges, err
}

// withTx runs fn inside a transaction, rolling back on error
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}
