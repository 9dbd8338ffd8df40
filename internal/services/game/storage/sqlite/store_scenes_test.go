package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lorebound/lorebound/internal/services/game/domain/campaign"
	"github.com/lorebound/lorebound/internal/services/game/domain/character"
	"github.com/lorebound/lorebound/internal/services/game/domain/scene"
	"github.com/lorebound/lorebound/internal/services/game/storage"
)

func TestScenePutGetArchive(t *testing.T) {
	store := openTestStore(t)
	now := testNow()
	seedCampaign(t, store, "camp-1", campaign.PhaseGM, now)
	seedScene(t, store, "camp-1", "scene-1", now)

	got, err := store.GetScene(context.Background(), "scene-1")
	if err != nil {
		t.Fatalf("get scene: %v", err)
	}
	if got.CampaignID != "camp-1" || got.Archived {
		t.Fatalf("expected active campaign scene, got %+v", got)
	}

	if err := store.ArchiveScene(context.Background(), "scene-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("archive scene: %v", err)
	}

	active, err := store.ListScenesByCampaign(context.Background(), "camp-1", false)
	if err != nil {
		t.Fatalf("list active scenes: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected archived scene excluded, got %+v", active)
	}
	all, err := store.ListScenesByCampaign(context.Background(), "camp-1", true)
	if err != nil {
		t.Fatalf("list all scenes: %v", err)
	}
	if len(all) != 1 || !all[0].Archived {
		t.Fatalf("expected archived scene listed, got %+v", all)
	}

	if err := store.ArchiveScene(context.Background(), "scene-missing", now); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAddSceneMemberSingleActiveScene(t *testing.T) {
	store := openTestStore(t)
	now := testNow()
	seedCampaign(t, store, "camp-1", campaign.PhaseGM, now)
	seedScene(t, store, "camp-1", "scene-1", now)
	seedScene(t, store, "camp-1", "scene-2", now)
	seedCharacter(t, store, "camp-1", "char-1", character.KindPC, "part-1", now)
	seedMember(t, store, "scene-1", "char-1", now)

	err := store.AddSceneMember(context.Background(), scene.Member{
		SceneID:     "scene-2",
		CharacterID: "char-1",
		JoinedAt:    now,
	})
	if !errors.Is(err, storage.ErrCharacterInScene) {
		t.Fatalf("expected character in scene, got %v", err)
	}

	err = store.AddSceneMember(context.Background(), scene.Member{
		SceneID:     "scene-1",
		CharacterID: "char-1",
		JoinedAt:    now,
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict on same roster, got %v", err)
	}

	// Archiving the old scene frees the character.
	if err := store.ArchiveScene(context.Background(), "scene-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("archive scene: %v", err)
	}
	if err := store.AddSceneMember(context.Background(), scene.Member{
		SceneID:     "scene-2",
		CharacterID: "char-1",
		JoinedAt:    now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("add member after archive: %v", err)
	}
}

func TestSceneMemberPositions(t *testing.T) {
	store := openTestStore(t)
	now := testNow()
	seedCampaign(t, store, "camp-1", campaign.PhaseGM, now)
	seedScene(t, store, "camp-1", "scene-1", now)
	seedCharacter(t, store, "camp-1", "char-1", character.KindPC, "part-1", now)
	seedCharacter(t, store, "camp-1", "char-2", character.KindNPC, "", now)
	seedMember(t, store, "scene-1", "char-1", now)
	seedMember(t, store, "scene-1", "char-2", now.Add(time.Minute))

	members, err := store.ListSceneMembers(context.Background(), "scene-1")
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected two members, got %d", len(members))
	}
	if members[0].CharacterID != "char-1" || members[0].Position != 0 {
		t.Fatalf("expected first member at position 0, got %+v", members[0])
	}
	if members[1].CharacterID != "char-2" || members[1].Position != 1 {
		t.Fatalf("expected second member at position 1, got %+v", members[1])
	}

	if err := store.RemoveSceneMember(context.Background(), "scene-1", "char-1"); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	if err := store.RemoveSceneMember(context.Background(), "scene-1", "char-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found on repeat removal, got %v", err)
	}
}

func TestSetPassStatePhaseGuard(t *testing.T) {
	store := openTestStore(t)
	now := testNow()
	seedCampaign(t, store, "camp-1", campaign.PhaseGM, now)
	seedScene(t, store, "camp-1", "scene-1", now)
	seedCharacter(t, store, "camp-1", "char-1", character.KindPC, "part-1", now)
	seedMember(t, store, "scene-1", "char-1", now)

	err := store.SetPassState(context.Background(), "scene-1", "char-1", scene.PassSoft, campaign.PhasePlayers, now)
	if !errors.Is(err, storage.ErrPhaseMismatch) {
		t.Fatalf("expected phase mismatch during gm phase, got %v", err)
	}

	if _, err := store.TransitionPhase(context.Background(), storage.TransitionInput{
		CampaignID: "camp-1",
		Now:        now,
	}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := store.SetPassState(context.Background(), "scene-1", "char-1", scene.PassSoft, campaign.PhasePlayers, now); err != nil {
		t.Fatalf("set pass state in players phase: %v", err)
	}

	members, err := store.ListSceneMembers(context.Background(), "scene-1")
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if members[0].PassState != scene.PassSoft {
		t.Fatalf("expected passed, got %v", members[0].PassState)
	}
}
