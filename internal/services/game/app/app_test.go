package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lorebound/lorebound/internal/services/game/domain/campaign"
	"github.com/lorebound/lorebound/internal/services/game/domain/character"
	"github.com/lorebound/lorebound/internal/services/game/domain/scene"
	storagesqlite "github.com/lorebound/lorebound/internal/services/game/storage/sqlite"
)

// fakeRolls reports pending rolls per "scene/character" key.
type fakeRolls struct {
	pending map[string]bool
}

func (f *fakeRolls) HasPendingRoll(_ context.Context, sceneID, characterID string) (bool, error) {
	if f == nil {
		return false, nil
	}
	return f.pending[sceneID+"/"+characterID], nil
}

// fixture wires the component set over a temp store with a controllable
// clock.
type fixture struct {
	t     *testing.T
	store *storagesqlite.Store
	rolls *fakeRolls
	c     Components
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storagesqlite.Open(filepath.Join(t.TempDir(), "game.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})

	f := &fixture{
		t:     t,
		store: store,
		rolls: &fakeRolls{pending: make(map[string]bool)},
		now:   time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
	}
	f.c = NewComponents(store, f.rolls)
	clock := func() time.Time { return f.now }
	f.c.Locks.now = clock
	f.c.Phases.now = clock
	f.c.Visibility.now = clock
	f.c.Lifecycle.now = clock
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

const (
	moderatorID = "mod-1"
)

// seedWorld creates one campaign in the players phase with a scene and three
// roster characters: two assigned pcs and a npc.
func (f *fixture) seedWorld(phase campaign.Phase) {
	f.t.Helper()
	ctx := context.Background()
	if err := f.store.PutCampaign(ctx, campaign.Campaign{
		ID:                     "camp-1",
		Name:                   "Emberfall",
		ModeratorParticipantID: moderatorID,
		Phase:                  phase,
		PhaseStartedAt:         f.now,
		ContentLimit:           campaign.DefaultContentLimit,
		CreatedAt:              f.now,
		UpdatedAt:              f.now,
	}); err != nil {
		f.t.Fatalf("seed campaign: %v", err)
	}
	if err := f.store.PutScene(ctx, scene.Scene{
		ID:         "scene-1",
		CampaignID: "camp-1",
		Name:       "The Broken Gate",
		CreatedAt:  f.now,
		UpdatedAt:  f.now,
	}); err != nil {
		f.t.Fatalf("seed scene: %v", err)
	}
	cast := []character.Character{
		{ID: "char-1", CampaignID: "camp-1", Name: "Aster", Kind: character.KindPC, ParticipantID: "part-1"},
		{ID: "char-2", CampaignID: "camp-1", Name: "Brann", Kind: character.KindPC, ParticipantID: "part-2"},
		{ID: "char-npc", CampaignID: "camp-1", Name: "Warden", Kind: character.KindNPC},
	}
	for _, record := range cast {
		record.CreatedAt = f.now
		record.UpdatedAt = f.now
		if err := f.store.PutCharacter(ctx, record); err != nil {
			f.t.Fatalf("seed character %s: %v", record.ID, err)
		}
		if err := f.store.AddSceneMember(ctx, scene.Member{
			SceneID:     "scene-1",
			CharacterID: record.ID,
			PassState:   scene.PassNone,
			JoinedAt:    f.now,
		}); err != nil {
			f.t.Fatalf("seed member %s: %v", record.ID, err)
		}
	}
}

// drain collects currently buffered events.
func drain(ch <-chan Event) []Event {
	var events []Event
	for {
		select {
		case event := <-ch:
			events = append(events, event)
		default:
			return events
		}
	}
}
