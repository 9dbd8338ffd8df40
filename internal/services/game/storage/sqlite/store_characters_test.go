package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lorebound/lorebound/internal/services/game/domain/campaign"
	"github.com/lorebound/lorebound/internal/services/game/domain/character"
	"github.com/lorebound/lorebound/internal/services/game/storage"
)

func TestCharacterLifecycle(t *testing.T) {
	store := openTestStore(t)
	now := testNow()
	seedCampaign(t, store, "camp-1", campaign.PhaseGM, now)
	seedCharacter(t, store, "camp-1", "char-1", character.KindPC, "", now)

	got, err := store.GetCharacter(context.Background(), "char-1")
	if err != nil {
		t.Fatalf("get character: %v", err)
	}
	if got.Kind != character.KindPC || got.ParticipantID != "" {
		t.Fatalf("expected unassigned pc, got %+v", got)
	}

	if err := store.SetCharacterParticipant(context.Background(), "char-1", "part-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("assign character: %v", err)
	}
	mine, err := store.ListCharactersByParticipant(context.Background(), "camp-1", "part-1")
	if err != nil {
		t.Fatalf("list by participant: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != "char-1" {
		t.Fatalf("expected assigned character listed, got %+v", mine)
	}

	if err := store.ArchiveCharacter(context.Background(), "char-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("archive character: %v", err)
	}
	got, err = store.GetCharacter(context.Background(), "char-1")
	if err != nil {
		t.Fatalf("get archived character: %v", err)
	}
	if !got.Archived || got.ParticipantID != "" {
		t.Fatalf("expected archive to clear assignment, got %+v", got)
	}
	mine, err = store.ListCharactersByParticipant(context.Background(), "camp-1", "part-1")
	if err != nil {
		t.Fatalf("list after archive: %v", err)
	}
	if len(mine) != 0 {
		t.Fatalf("expected archived character excluded, got %+v", mine)
	}

	if err := store.SetCharacterParticipant(context.Background(), "char-1", "part-2", now); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected archived character unassignable, got %v", err)
	}
}

func TestListCharactersByCampaign(t *testing.T) {
	store := openTestStore(t)
	now := testNow()
	seedCampaign(t, store, "camp-1", campaign.PhaseGM, now)
	seedCharacter(t, store, "camp-1", "char-1", character.KindPC, "part-1", now)
	seedCharacter(t, store, "camp-1", "char-2", character.KindNPC, "", now.Add(time.Minute))

	all, err := store.ListCharactersByCampaign(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("list characters: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected two characters, got %d", len(all))
	}
	if all[0].ID != "char-1" || all[1].ID != "char-2" {
		t.Fatalf("expected creation order, got %+v", all)
	}
}

func TestPutCharacterUnknownCampaign(t *testing.T) {
	store := openTestStore(t)
	now := testNow()
	err := store.PutCharacter(context.Background(), character.Character{
		ID:         "char-1",
		CampaignID: "camp-missing",
		Name:       "Drifter",
		Kind:       character.KindPC,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found for unknown campaign, got %v", err)
	}
}
