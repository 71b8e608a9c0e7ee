package domain

import (
	"testing"
	"time"
)

func TestPlayerInputDefaults(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	in := PlayerInput{Username: "ada"}
	p := in.ToPlayer("id-1", now)

	if p.Level != DefaultLevel || p.TotalScore != 0 || p.Status != PlayerStatusActive {
		t.Fatalf("unexpected defaults: %+v", p)
	}
	if !p.CreatedAt.Equal(now) || !p.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected timestamps: %+v", p)
	}
}

func TestPlayerPatchApply(t *testing.T) {
	score := int64(9999)
	banned := PlayerStatusBanned
	base := Player{ID: "id-1", Username: "ada", TotalScore: 10, Level: 3, Status: PlayerStatusActive}
	patch := PlayerPatch{TotalScore: &score, Status: &banned}

	now := time.Now()
	got := patch.Apply(base, now)
	if got.TotalScore != 9999 || got.Status != PlayerStatusBanned {
		t.Fatalf("patch not applied: %+v", got)
	}
	if got.Level != 3 || got.Username != "ada" {
		t.Fatalf("untouched fields changed: %+v", got)
	}
	if base.TotalScore != 10 {
		t.Fatalf("apply mutated its input")
	}
}
