package app

import (
	"context"
	"strings"
	"testing"
	"time"

	platformerrors "github.com/lorebound/lorebound/internal/platform/errors"
	"github.com/lorebound/lorebound/internal/services/game/domain/campaign"
	"github.com/lorebound/lorebound/internal/services/game/domain/lock"
	"github.com/lorebound/lorebound/internal/services/game/domain/post"
)

func blocksOf(body string) []post.Block {
	return []post.Block{{Kind: post.BlockProse, Body: body}}
}

func (f *fixture) acquire(characterID, participantID string) lock.Lock {
	f.t.Helper()
	granted, err := f.c.Locks.Acquire(context.Background(), AcquireInput{
		SceneID:       "scene-1",
		CharacterID:   characterID,
		ParticipantID: participantID,
	})
	if err != nil {
		f.t.Fatalf("acquire %s: %v", characterID, err)
	}
	return granted
}

func TestSubmitTurnsLockIntoPost(t *testing.T) {
	f := newFixture(t)
	f.seedWorld(campaign.PhasePlayers)
	granted := f.acquire("char-1", "part-1")

	events, cancel := f.c.Bus.Subscribe(8)
	defer cancel()

	submitted, err := f.c.Visibility.Submit(context.Background(), SubmitInput{
		LockID:        granted.ID,
		ParticipantID: "part-1",
		Blocks:        blocksOf("The gate gives way."),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.CharacterID != "char-1" || submitted.Seq != 1 {
		t.Fatalf("expected first post as char-1, got %+v", submitted)
	}
	if len(submitted.Witnesses) != 3 {
		t.Fatalf("expected full roster witnessed, got %v", submitted.Witnesses)
	}

	published := drain(events)
	if len(published) != 1 || published[0].Type != EventPostSubmitted || published[0].Audience != AudienceScene {
		t.Fatalf("expected scene post event, got %+v", published)
	}

	// The lock is consumed; a retry fails cleanly.
	_, err = f.c.Visibility.Submit(context.Background(), SubmitInput{
		LockID:        granted.ID,
		ParticipantID: "part-1",
		Blocks:        blocksOf("again"),
	})
	if platformerrors.CodeOf(err) != platformerrors.CodeLockNotHeld {
		t.Fatalf("expected consumed lock rejected, got %v", err)
	}
}

func TestSubmitValidatesContent(t *testing.T) {
	f := newFixture(t)
	f.seedWorld(campaign.PhasePlayers)
	granted := f.acquire("char-1", "part-1")

	_, err := f.c.Visibility.Submit(context.Background(), SubmitInput{
		LockID:        granted.ID,
		ParticipantID: "part-1",
		Blocks:        blocksOf("   \n\t"),
	})
	if platformerrors.CodeOf(err) != platformerrors.CodeEmptyContent {
		t.Fatalf("expected empty content, got %v", err)
	}

	_, err = f.c.Visibility.Submit(context.Background(), SubmitInput{
		LockID:        granted.ID,
		ParticipantID: "part-1",
		Blocks:        blocksOf(strings.Repeat("a", campaign.DefaultContentLimit+1)),
	})
	if platformerrors.CodeOf(err) != platformerrors.CodeContentTooLong {
		t.Fatalf("expected content too long, got %v", err)
	}

	// Failed validation left the lock intact.
	if _, err := f.c.Locks.Heartbeat(context.Background(), granted.ID, "part-1"); err != nil {
		t.Fatalf("expected lock to survive failed validation: %v", err)
	}
}

func TestSubmitHonorsHiddenIntent(t *testing.T) {
	f := newFixture(t)
	f.seedWorld(campaign.PhasePlayers)
	granted, err := f.c.Locks.Acquire(context.Background(), AcquireInput{
		SceneID:       "scene-1",
		CharacterID:   "char-1",
		ParticipantID: "part-1",
		HiddenIntent:  true,
	})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	events, cancel := f.c.Bus.Subscribe(8)
	defer cancel()

	submitted, err := f.c.Visibility.Submit(context.Background(), SubmitInput{
		LockID:        granted.ID,
		ParticipantID: "part-1",
		Blocks:        blocksOf("a private scheme"),
	})
	if err != nil {
		t.Fatalf("submit hidden: %v", err)
	}
	if !submitted.Hidden || len(submitted.Witnesses) != 0 {
		t.Fatalf("expected hidden post without witnesses, got %+v", submitted)
	}

	published := drain(events)
	if len(published) != 1 || published[0].Audience != AudienceModerator {
		t.Fatalf("expected hidden post announced to moderator only, got %+v", published)
	}
}

func TestSubmitExpiredLock(t *testing.T) {
	f := newFixture(t)
	f.seedWorld(campaign.PhasePlayers)
	granted := f.acquire("char-1", "part-1")
	f.advance(lock.TTL + time.Second)

	_, err := f.c.Visibility.Submit(context.Background(), SubmitInput{
		LockID:        granted.ID,
		ParticipantID: "part-1",
		Blocks:        blocksOf("too late"),
	})
	if platformerrors.CodeOf(err) != platformerrors.CodeLockNotHeld {
		t.Fatalf("expected expired lock rejected, got %v", err)
	}
}

func TestSubmitAfterGateExpiry(t *testing.T) {
	f := newFixture(t)
	f.seedWorld(campaign.PhasePlayers)
	gate := time.Hour
	record, err := f.store.GetCampaign(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	record.TimeGate = &gate
	if err := f.store.PutCampaign(context.Background(), record); err != nil {
		t.Fatalf("set time gate: %v", err)
	}

	// The lock is granted well before the deadline.
	granted := f.acquire("char-1", "part-1")
	f.advance(gate + time.Minute)

	_, err = f.c.Visibility.Submit(context.Background(), SubmitInput{
		LockID:        granted.ID,
		ParticipantID: "part-1",
		Blocks:        blocksOf("too late to land"),
	})
	if platformerrors.CodeOf(err) != platformerrors.CodeTimeGateExpired {
		t.Fatalf("expected time gate expired, got %v", err)
	}

	// The rejected submit still fired the gate.
	record, err = f.store.GetCampaign(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("get campaign after submit: %v", err)
	}
	if !record.TimeGateFired {
		t.Fatalf("expected gate fired by the submit attempt")
	}
}

func TestNarrateModeratorOnly(t *testing.T) {
	f := newFixture(t)
	f.seedWorld(campaign.PhaseGM)

	_, err := f.c.Visibility.Narrate(context.Background(), NarrateInput{
		SceneID:       "scene-1",
		ParticipantID: "part-1",
		Blocks:        blocksOf("the wind rises"),
	})
	if platformerrors.CodeOf(err) != platformerrors.CodeModeratorOnly {
		t.Fatalf("expected moderator only, got %v", err)
	}

	submitted, err := f.c.Visibility.Narrate(context.Background(), NarrateInput{
		SceneID:       "scene-1",
		ParticipantID: moderatorID,
		Blocks:        blocksOf("the wind rises"),
	})
	if err != nil {
		t.Fatalf("narrate: %v", err)
	}
	if submitted.CharacterID != "" {
		t.Fatalf("expected narrator post without character, got %+v", submitted)
	}
}

func TestCorrectWitnessesModeratorOnly(t *testing.T) {
	f := newFixture(t)
	f.seedWorld(campaign.PhasePlayers)
	granted := f.acquire("char-1", "part-1")
	submitted, err := f.c.Visibility.Submit(context.Background(), SubmitInput{
		LockID:        granted.ID,
		ParticipantID: "part-1",
		Blocks:        blocksOf("a whisper"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err = f.c.Visibility.Correct(context.Background(), submitted.ID, "part-1", []string{"char-1"})
	if platformerrors.CodeOf(err) != platformerrors.CodeModeratorOnly {
		t.Fatalf("expected moderator only, got %v", err)
	}

	_, err = f.c.Visibility.Correct(context.Background(), submitted.ID, moderatorID, []string{"char-elsewhere"})
	if platformerrors.CodeOf(err) != platformerrors.CodeWitnessNotInScene {
		t.Fatalf("expected witness off roster rejected, got %v", err)
	}

	corrected, err := f.c.Visibility.Correct(context.Background(), submitted.ID, moderatorID, []string{"char-1"})
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if len(corrected.Witnesses) != 1 || corrected.Witnesses[0] != "char-1" {
		t.Fatalf("expected corrected witness set, got %v", corrected.Witnesses)
	}

	audits, err := f.c.Visibility.WitnessAudits(context.Background(), submitted.ID, moderatorID)
	if err != nil {
		t.Fatalf("list audits: %v", err)
	}
	if len(audits) != 1 {
		t.Fatalf("expected one audit, got %d", len(audits))
	}
}

func TestScenePostsVisibility(t *testing.T) {
	f := newFixture(t)
	f.seedWorld(campaign.PhasePlayers)

	// char-1 posts openly; char-2 posts hidden.
	open := f.acquire("char-1", "part-1")
	if _, err := f.c.Visibility.Submit(context.Background(), SubmitInput{
		LockID: open.ID, ParticipantID: "part-1", Blocks: blocksOf("in the open"),
	}); err != nil {
		t.Fatalf("submit open: %v", err)
	}
	hidden := f.acquire("char-2", "part-2")
	if _, err := f.c.Visibility.Submit(context.Background(), SubmitInput{
		LockID: hidden.ID, ParticipantID: "part-2", Blocks: blocksOf("in secret"), Hidden: true,
	}); err != nil {
		t.Fatalf("submit hidden: %v", err)
	}

	// The moderator sees both.
	posts, err := f.c.Visibility.ScenePosts(context.Background(), "scene-1", moderatorID)
	if err != nil {
		t.Fatalf("moderator posts: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected moderator to see both posts, got %d", len(posts))
	}

	// part-1 sees the open post only.
	posts, err = f.c.Visibility.ScenePosts(context.Background(), "scene-1", "part-1")
	if err != nil {
		t.Fatalf("part-1 posts: %v", err)
	}
	if len(posts) != 1 || posts[0].CharacterID != "char-1" {
		t.Fatalf("expected part-1 to see only the open post, got %+v", posts)
	}

	// part-2 sees the open post plus their own hidden one.
	posts, err = f.c.Visibility.ScenePosts(context.Background(), "scene-1", "part-2")
	if err != nil {
		t.Fatalf("part-2 posts: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected part-2 to see their hidden post too, got %+v", posts)
	}
}

func TestVisibleScenesFogOfWar(t *testing.T) {
	f := newFixture(t)
	f.seedWorld(campaign.PhasePlayers)
	record, err := f.store.GetCampaign(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	record.FogOfWar = true
	if err := f.store.PutCampaign(context.Background(), record); err != nil {
		t.Fatalf("enable fog of war: %v", err)
	}

	// Nothing witnessed yet: players see nothing, the moderator everything.
	scenes, err := f.c.Visibility.VisibleScenes(context.Background(), "camp-1", "part-1", "")
	if err != nil {
		t.Fatalf("visible scenes: %v", err)
	}
	if len(scenes) != 0 {
		t.Fatalf("expected nothing visible before witnessing, got %+v", scenes)
	}
	scenes, err = f.c.Visibility.VisibleScenes(context.Background(), "camp-1", moderatorID, "")
	if err != nil {
		t.Fatalf("moderator scenes: %v", err)
	}
	if len(scenes) != 1 {
		t.Fatalf("expected moderator to see the scene, got %+v", scenes)
	}

	granted := f.acquire("char-1", "part-1")
	if _, err := f.c.Visibility.Submit(context.Background(), SubmitInput{
		LockID: granted.ID, ParticipantID: "part-1", Blocks: blocksOf("first light"),
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	scenes, err = f.c.Visibility.VisibleScenes(context.Background(), "camp-1", "part-1", "")
	if err != nil {
		t.Fatalf("visible scenes after post: %v", err)
	}
	if len(scenes) != 1 || scenes[0].ID != "scene-1" {
		t.Fatalf("expected witnessed scene visible, got %+v", scenes)
	}

	// Viewing as a character someone else controls is rejected.
	_, err = f.c.Visibility.VisibleScenes(context.Background(), "camp-1", "part-1", "char-2")
	if platformerrors.CodeOf(err) != platformerrors.CodeNotAssigned {
		t.Fatalf("expected not assigned, got %v", err)
	}
}

func TestVisibleScenesWithoutFog(t *testing.T) {
	f := newFixture(t)
	f.seedWorld(campaign.PhasePlayers)

	scenes, err := f.c.Visibility.VisibleScenes(context.Background(), "camp-1", "part-1", "")
	if err != nil {
		t.Fatalf("visible scenes: %v", err)
	}
	if len(scenes) != 1 {
		t.Fatalf("expected every active scene visible without fog, got %+v", scenes)
	}
}
