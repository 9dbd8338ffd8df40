package app

import (
	"context"
	"errors"
	"time"

	platformerrors "github.com/lorebound/lorebound/internal/platform/errors"
	"github.com/lorebound/lorebound/internal/platform/id"
	"github.com/lorebound/lorebound/internal/services/game/domain/campaign"
	"github.com/lorebound/lorebound/internal/services/game/domain/character"
	"github.com/lorebound/lorebound/internal/services/game/domain/scene"
	"github.com/lorebound/lorebound/internal/services/game/storage"
)

// Lifecycle owns campaign, scene, and character management. Roster and cast
// mutations are moderator work and happen during the moderator phase.
type Lifecycle struct {
	store storage.Store
	roles Roles
	now   func() time.Time
	newID func() (string, error)
}

// NewLifecycle creates a lifecycle service over the given store.
func NewLifecycle(store storage.Store, roles Roles) *Lifecycle {
	return &Lifecycle{
		store: store,
		roles: roles,
		now:   time.Now,
		newID: id.NewID,
	}
}

// CreateCampaign creates a campaign with its caller as moderator.
func (l *Lifecycle) CreateCampaign(ctx context.Context, input campaign.CreateInput) (campaign.Campaign, error) {
	record, err := campaign.Create(input, l.now, l.newID)
	if err != nil {
		return campaign.Campaign{}, err
	}
	if err := l.store.PutCampaign(ctx, record); err != nil {
		return campaign.Campaign{}, err
	}
	return record, nil
}

// Campaign loads a campaign.
func (l *Lifecycle) Campaign(ctx context.Context, campaignID string) (campaign.Campaign, error) {
	record, err := l.store.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return campaign.Campaign{}, platformerrors.New(platformerrors.CodeCampaignNotFound, "campaign not found")
		}
		return campaign.Campaign{}, err
	}
	return record, nil
}

// SetPaused pauses or resumes a campaign. Pausing freezes lock acquisition,
// passing, and submissions, and suspends the time gate. Moderator only.
func (l *Lifecycle) SetPaused(ctx context.Context, campaignID, actorParticipantID string, paused bool) error {
	if err := l.requireModerator(ctx, campaignID, actorParticipantID); err != nil {
		return err
	}
	if err := l.store.SetPaused(ctx, campaignID, paused, l.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return platformerrors.New(platformerrors.CodeCampaignNotFound, "campaign not found")
		}
		return err
	}
	return nil
}

// CreateScene opens a new empty scene. Moderator only, moderator phase only.
func (l *Lifecycle) CreateScene(ctx context.Context, input scene.CreateInput, actorParticipantID string) (scene.Scene, error) {
	if err := l.requireModeratorPhase(ctx, input.CampaignID, actorParticipantID); err != nil {
		return scene.Scene{}, err
	}
	record, err := scene.Create(input, l.now, l.newID)
	if err != nil {
		return scene.Scene{}, err
	}
	if err := l.store.PutScene(ctx, record); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return scene.Scene{}, platformerrors.New(platformerrors.CodeCampaignNotFound, "campaign not found")
		}
		return scene.Scene{}, err
	}
	return record, nil
}

// ArchiveScene retires a scene. Its posts stay readable; its roster frees up.
func (l *Lifecycle) ArchiveScene(ctx context.Context, sceneID, actorParticipantID string) error {
	sceneRecord, err := l.getScene(ctx, sceneID)
	if err != nil {
		return err
	}
	if err := l.requireModeratorPhase(ctx, sceneRecord.CampaignID, actorParticipantID); err != nil {
		return err
	}
	if err := l.store.ArchiveScene(ctx, sceneID, l.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return platformerrors.New(platformerrors.CodeSceneNotFound, "scene not found")
		}
		return err
	}
	return nil
}

// AddToScene places a character on a scene roster. A character occupies at
// most one active scene at a time.
func (l *Lifecycle) AddToScene(ctx context.Context, sceneID, characterID, actorParticipantID string) error {
	sceneRecord, err := l.getScene(ctx, sceneID)
	if err != nil {
		return err
	}
	if sceneRecord.Archived {
		return platformerrors.New(platformerrors.CodeSceneArchived, "scene is archived")
	}
	if err := l.requireModeratorPhase(ctx, sceneRecord.CampaignID, actorParticipantID); err != nil {
		return err
	}

	characterRecord, err := l.getCharacter(ctx, characterID)
	if err != nil {
		return err
	}
	if characterRecord.Archived {
		return platformerrors.New(platformerrors.CodeCharacterArchived, "character is archived")
	}
	if characterRecord.CampaignID != sceneRecord.CampaignID {
		return platformerrors.New(platformerrors.CodeCharacterNotFound, "character belongs to another campaign")
	}

	err = l.store.AddSceneMember(ctx, scene.Member{
		SceneID:     sceneID,
		CharacterID: characterID,
		PassState:   scene.PassNone,
		JoinedAt:    l.now(),
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCharacterInScene):
			return platformerrors.New(platformerrors.CodeCharacterInScene, "character is already in another active scene")
		case errors.Is(err, storage.ErrConflict):
			return platformerrors.New(platformerrors.CodeAlreadyInScene, "character is already in the scene")
		case errors.Is(err, storage.ErrNotFound):
			return platformerrors.New(platformerrors.CodeSceneNotFound, "scene not found")
		}
		return err
	}
	return nil
}

// RemoveFromScene takes a character off a scene roster. Already-written posts
// keep the character in their witness sets.
func (l *Lifecycle) RemoveFromScene(ctx context.Context, sceneID, characterID, actorParticipantID string) error {
	sceneRecord, err := l.getScene(ctx, sceneID)
	if err != nil {
		return err
	}
	if err := l.requireModeratorPhase(ctx, sceneRecord.CampaignID, actorParticipantID); err != nil {
		return err
	}
	if err := l.store.RemoveSceneMember(ctx, sceneID, characterID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return platformerrors.New(platformerrors.CodeNotInScene, "character is not in the scene")
		}
		return err
	}
	return nil
}

// CreateCharacter adds a character to the campaign cast. Moderator only.
func (l *Lifecycle) CreateCharacter(ctx context.Context, input character.CreateInput, actorParticipantID string) (character.Character, error) {
	if err := l.requireModerator(ctx, input.CampaignID, actorParticipantID); err != nil {
		return character.Character{}, err
	}
	record, err := character.Create(input, l.now, l.newID)
	if err != nil {
		return character.Character{}, err
	}
	if err := l.store.PutCharacter(ctx, record); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return character.Character{}, platformerrors.New(platformerrors.CodeCampaignNotFound, "campaign not found")
		}
		return character.Character{}, err
	}
	return record, nil
}

// AssignCharacter hands control of a pc to a participant. An empty
// participant id unassigns. Moderator only.
func (l *Lifecycle) AssignCharacter(ctx context.Context, characterID, participantID, actorParticipantID string) error {
	characterRecord, err := l.getCharacter(ctx, characterID)
	if err != nil {
		return err
	}
	if err := l.requireModerator(ctx, characterRecord.CampaignID, actorParticipantID); err != nil {
		return err
	}
	if characterRecord.Kind != character.KindPC && participantID != "" {
		return platformerrors.New(platformerrors.CodeCharacterInvalidKind, "only pcs take participant assignment")
	}
	if err := l.store.SetCharacterParticipant(ctx, characterID, participantID, l.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return platformerrors.New(platformerrors.CodeCharacterNotFound, "character not found")
		}
		return err
	}
	return nil
}

// ArchiveCharacter retires a character and clears its assignment.
func (l *Lifecycle) ArchiveCharacter(ctx context.Context, characterID, actorParticipantID string) error {
	characterRecord, err := l.getCharacter(ctx, characterID)
	if err != nil {
		return err
	}
	if err := l.requireModerator(ctx, characterRecord.CampaignID, actorParticipantID); err != nil {
		return err
	}
	if err := l.store.ArchiveCharacter(ctx, characterID, l.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return platformerrors.New(platformerrors.CodeCharacterNotFound, "character not found")
		}
		return err
	}
	return nil
}

// Characters lists the campaign cast.
func (l *Lifecycle) Characters(ctx context.Context, campaignID string) ([]character.Character, error) {
	return l.store.ListCharactersByCampaign(ctx, campaignID)
}

// SceneMembers lists a scene roster in position order.
func (l *Lifecycle) SceneMembers(ctx context.Context, sceneID string) ([]scene.Member, error) {
	return l.store.ListSceneMembers(ctx, sceneID)
}

func (l *Lifecycle) getScene(ctx context.Context, sceneID string) (scene.Scene, error) {
	record, err := l.store.GetScene(ctx, sceneID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return scene.Scene{}, platformerrors.New(platformerrors.CodeSceneNotFound, "scene not found")
		}
		return scene.Scene{}, err
	}
	return record, nil
}

func (l *Lifecycle) getCharacter(ctx context.Context, characterID string) (character.Character, error) {
	record, err := l.store.GetCharacter(ctx, characterID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return character.Character{}, platformerrors.New(platformerrors.CodeCharacterNotFound, "character not found")
		}
		return character.Character{}, err
	}
	return record, nil
}

func (l *Lifecycle) requireModerator(ctx context.Context, campaignID, participantID string) error {
	moderator, err := l.roles.IsModerator(ctx, campaignID, participantID)
	if err != nil {
		return err
	}
	if !moderator {
		return platformerrors.New(platformerrors.CodeModeratorOnly, "moderator role required")
	}
	return nil
}

// requireModeratorPhase gates structural mutations: moderator role plus the
// campaign sitting in the moderator phase.
func (l *Lifecycle) requireModeratorPhase(ctx context.Context, campaignID, participantID string) error {
	if err := l.requireModerator(ctx, campaignID, participantID); err != nil {
		return err
	}
	record, err := l.store.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return platformerrors.New(platformerrors.CodeCampaignNotFound, "campaign not found")
		}
		return err
	}
	if record.Phase != campaign.PhaseGM {
		return platformerrors.New(platformerrors.CodePhaseMismatch, "roster changes require the moderator phase")
	}
	return nil
}
