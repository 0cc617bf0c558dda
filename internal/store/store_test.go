package store

import (
	"reflect"
	"testing"
	"time"

	"github.com/playrivals/backend/internal/models"
)

func TestBuildChallengePatchNumbersPlaceholders(t *testing.T) {
	accepted := models.StatusAccepted
	winner := "bob"
	now := time.Now()
	patch := models.ChallengePatch{Status: &accepted, WinnerID: &winner, ClaimTime: &now}

	sets, args := buildChallengePatch(patch)

	wantSets := []string{"status = $1", "winner_id = $2", "claim_time = $3", "updated_at = NOW()"}
	if !reflect.DeepEqual(sets, wantSets) {
		t.Errorf("sets = %v, want %v", sets, wantSets)
	}
	if len(args) != 3 {
		t.Fatalf("args = %d values, want 3", len(args))
	}
	if args[0] != models.StatusAccepted {
		t.Errorf("args[0] = %v, want ACCEPTED", args[0])
	}
	if args[1] != "bob" {
		t.Errorf("args[1] = %v, want bob", args[1])
	}
	if got, ok := args[2].(time.Time); !ok || !got.Equal(now) {
		t.Errorf("args[2] = %v, want %v", args[2], now)
	}
}

func TestBuildChallengePatchEmptyTouchesUpdatedAtOnly(t *testing.T) {
	sets, args := buildChallengePatch(models.ChallengePatch{})

	if !reflect.DeepEqual(sets, []string{"updated_at = NOW()"}) {
		t.Errorf("sets = %v, want only the updated_at touch", sets)
	}
	if len(args) != 0 {
		t.Errorf("Empty patch produced %d arg(s)", len(args))
	}
}

func TestBuildChallengePatchKeepsGuardOutOfSetClause(t *testing.T) {
	pending := models.StatusPending
	sets, args := buildChallengePatch(models.ChallengePatch{ExpectStatus: &pending})

	// ExpectStatus belongs to the WHERE clause, never to SET
	if !reflect.DeepEqual(sets, []string{"updated_at = NOW()"}) {
		t.Errorf("sets = %v", sets)
	}
	if len(args) != 0 {
		t.Errorf("Guard leaked %d arg(s) into the SET clause", len(args))
	}
}
