package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lorebound/lorebound/internal/services/game/domain/campaign"
	"github.com/lorebound/lorebound/internal/services/game/domain/character"
	"github.com/lorebound/lorebound/internal/services/game/domain/lock"
	"github.com/lorebound/lorebound/internal/services/game/domain/scene"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "game.sqlite")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func testNow() time.Time {
	return time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
}

func seedCampaign(t *testing.T, store *Store, campaignID string, phase campaign.Phase, now time.Time) {
	t.Helper()
	if err := store.PutCampaign(context.Background(), campaign.Campaign{
		ID:                     campaignID,
		Name:                   "Emberfall",
		ModeratorParticipantID: "mod-1",
		Phase:                  phase,
		PhaseStartedAt:         now,
		ContentLimit:           campaign.DefaultContentLimit,
		CreatedAt:              now,
		UpdatedAt:              now,
	}); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
}

func seedScene(t *testing.T, store *Store, campaignID, sceneID string, now time.Time) {
	t.Helper()
	if err := store.PutScene(context.Background(), scene.Scene{
		ID:         sceneID,
		CampaignID: campaignID,
		Name:       "The Broken Gate",
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed scene: %v", err)
	}
}

func seedCharacter(t *testing.T, store *Store, campaignID, characterID string, kind character.Kind, participantID string, now time.Time) {
	t.Helper()
	if err := store.PutCharacter(context.Background(), character.Character{
		ID:            characterID,
		CampaignID:    campaignID,
		Name:          "Seeded " + characterID,
		Kind:          kind,
		ParticipantID: participantID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}); err != nil {
		t.Fatalf("seed character: %v", err)
	}
}

func seedMember(t *testing.T, store *Store, sceneID, characterID string, now time.Time) {
	t.Helper()
	if err := store.AddSceneMember(context.Background(), scene.Member{
		SceneID:     sceneID,
		CharacterID: characterID,
		PassState:   scene.PassNone,
		JoinedAt:    now,
	}); err != nil {
		t.Fatalf("seed scene member: %v", err)
	}
}

func seedLock(t *testing.T, store *Store, lockID, sceneID, characterID, holderID string, now time.Time) lock.Lock {
	t.Helper()
	record := lock.Lock{
		ID:                  lockID,
		SceneID:             sceneID,
		CharacterID:         characterID,
		HolderParticipantID: holderID,
		AcquiredAt:          now,
		LastActivityAt:      now,
		ExpiresAt:           now.Add(lock.TTL),
	}
	if err := store.InsertLock(context.Background(), record, ""); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	return record
}
