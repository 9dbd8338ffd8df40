package app

import (
	"context"
	"errors"
	"time"

	platformerrors "github.com/lorebound/lorebound/internal/platform/errors"
	"github.com/lorebound/lorebound/internal/platform/id"
	"github.com/lorebound/lorebound/internal/services/game/domain/campaign"
	"github.com/lorebound/lorebound/internal/services/game/domain/post"
	"github.com/lorebound/lorebound/internal/services/game/domain/scene"
	"github.com/lorebound/lorebound/internal/services/game/storage"
)

// VisibilityLedger turns held locks into posts and answers who may see what.
// A post's witness set is written once at submission and never recomputed;
// later roster changes cannot rewrite history.
type VisibilityLedger struct {
	store storage.Store
	roles Roles
	bus   *Bus
	now   func() time.Time
	newID func() (string, error)
}

// NewVisibilityLedger creates a visibility ledger over the given store.
func NewVisibilityLedger(store storage.Store, roles Roles, bus *Bus) *VisibilityLedger {
	return &VisibilityLedger{
		store: store,
		roles: roles,
		bus:   bus,
		now:   time.Now,
		newID: id.NewID,
	}
}

// SubmitInput describes one post submission against a held lock.
type SubmitInput struct {
	LockID        string
	ParticipantID string
	Blocks        []post.Block
	OOCNote       string
	Hidden        bool
}

// Submit consumes the caller's lock into a post. The store applies the whole
// submission atomically; a lock that expired or was force-released in the
// meantime fails without side effects, and any draft survives for retry.
func (v *VisibilityLedger) Submit(ctx context.Context, input SubmitInput) (post.Post, error) {
	held, err := v.store.GetLock(ctx, input.LockID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return post.Post{}, platformerrors.New(platformerrors.CodeLockNotHeld, "lock is not held")
		}
		return post.Post{}, err
	}

	campaignRecord, err := v.campaignForScene(ctx, held.SceneID)
	if err != nil {
		return post.Post{}, err
	}
	if campaignRecord.Paused {
		return post.Post{}, platformerrors.New(platformerrors.CodeCampaignPaused, "campaign is paused")
	}

	moderator, err := v.roles.IsModerator(ctx, campaignRecord.ID, input.ParticipantID)
	if err != nil {
		return post.Post{}, err
	}
	expired, err := fireTimeGate(ctx, v.store, v.bus, campaignRecord, v.now())
	if err != nil {
		return post.Post{}, err
	}
	if expired && !moderator {
		return post.Post{}, platformerrors.New(platformerrors.CodeTimeGateExpired, "the players phase time gate has expired")
	}

	if err := post.ValidateContent(input.Blocks, campaignRecord.ContentLimit); err != nil {
		return post.Post{}, err
	}

	postID, err := v.newID()
	if err != nil {
		return post.Post{}, err
	}
	hidden := input.Hidden || held.HiddenIntent
	submitted, err := v.store.SubmitPost(ctx, storage.SubmitInput{
		PostID:              postID,
		LockID:              input.LockID,
		HolderParticipantID: input.ParticipantID,
		Blocks:              input.Blocks,
		OOCNote:             input.OOCNote,
		Hidden:              hidden,
		Now:                 v.now(),
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return post.Post{}, platformerrors.New(platformerrors.CodeLockNotHeld, "lock is not held")
		case errors.Is(err, storage.ErrNotHolder):
			return post.Post{}, platformerrors.New(platformerrors.CodeNotYourLock, "lock is held by another participant")
		}
		return post.Post{}, err
	}

	v.publishPost(campaignRecord.ID, submitted)
	return submitted, nil
}

// NarrateInput describes one moderator narrator post.
type NarrateInput struct {
	SceneID       string
	ParticipantID string
	Blocks        []post.Block
	OOCNote       string
	Hidden        bool
}

// Narrate inserts a narrator post. Narration bypasses locks and carries no
// character; moderator only.
func (v *VisibilityLedger) Narrate(ctx context.Context, input NarrateInput) (post.Post, error) {
	campaignRecord, err := v.campaignForScene(ctx, input.SceneID)
	if err != nil {
		return post.Post{}, err
	}
	if err := v.requireModerator(ctx, campaignRecord.ID, input.ParticipantID); err != nil {
		return post.Post{}, err
	}
	if err := post.ValidateContent(input.Blocks, campaignRecord.ContentLimit); err != nil {
		return post.Post{}, err
	}

	postID, err := v.newID()
	if err != nil {
		return post.Post{}, err
	}
	submitted, err := v.store.SubmitNarration(ctx, storage.NarrationInput{
		PostID:              postID,
		SceneID:             input.SceneID,
		AuthorParticipantID: input.ParticipantID,
		Blocks:              input.Blocks,
		OOCNote:             input.OOCNote,
		Hidden:              input.Hidden,
		Now:                 v.now(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return post.Post{}, platformerrors.New(platformerrors.CodeSceneNotFound, "scene not found")
		}
		return post.Post{}, err
	}

	v.publishPost(campaignRecord.ID, submitted)
	return submitted, nil
}

// Correct replaces a post's witness set. This is the only mutation a post
// permits after submission, it is moderator-only, and every application is
// recorded in the audit log. Granting a hidden post a non-empty witness set
// reveals it.
func (v *VisibilityLedger) Correct(ctx context.Context, postID, actorParticipantID string, witnesses []string) (post.Post, error) {
	record, err := v.store.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return post.Post{}, platformerrors.New(platformerrors.CodePostNotFound, "post not found")
		}
		return post.Post{}, err
	}
	campaignRecord, err := v.campaignForScene(ctx, record.SceneID)
	if err != nil {
		return post.Post{}, err
	}
	if err := v.requireModerator(ctx, campaignRecord.ID, actorParticipantID); err != nil {
		return post.Post{}, err
	}

	auditID, err := v.newID()
	if err != nil {
		return post.Post{}, err
	}
	corrected, err := v.store.CorrectWitnesses(ctx, storage.CorrectionInput{
		AuditID:            auditID,
		PostID:             postID,
		ActorParticipantID: actorParticipantID,
		NewWitnesses:       witnesses,
		Now:                v.now(),
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrWitnessNotInScene):
			return post.Post{}, platformerrors.New(platformerrors.CodeWitnessNotInScene, "witness is not on the scene roster")
		case errors.Is(err, storage.ErrWitnessFrozen):
			return post.Post{}, platformerrors.New(platformerrors.CodeWitnessFrozen, "witness set is frozen")
		case errors.Is(err, storage.ErrNotFound):
			return post.Post{}, platformerrors.New(platformerrors.CodePostNotFound, "post not found")
		}
		return post.Post{}, err
	}
	return corrected, nil
}

// WitnessAudits lists a post's correction history. Moderator only.
func (v *VisibilityLedger) WitnessAudits(ctx context.Context, postID, actorParticipantID string) ([]post.WitnessAudit, error) {
	record, err := v.store.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, platformerrors.New(platformerrors.CodePostNotFound, "post not found")
		}
		return nil, err
	}
	campaignRecord, err := v.campaignForScene(ctx, record.SceneID)
	if err != nil {
		return nil, err
	}
	if err := v.requireModerator(ctx, campaignRecord.ID, actorParticipantID); err != nil {
		return nil, err
	}
	return v.store.ListWitnessAudits(ctx, postID)
}

// ScenePosts lists the posts the participant may read in a scene. Moderators
// see everything; everyone else sees posts witnessed by a character they
// control, plus their own posts regardless of witnessing.
func (v *VisibilityLedger) ScenePosts(ctx context.Context, sceneID, participantID string) ([]post.Post, error) {
	campaignRecord, err := v.campaignForScene(ctx, sceneID)
	if err != nil {
		return nil, err
	}

	posts, err := v.store.ListPostsByScene(ctx, sceneID)
	if err != nil {
		return nil, err
	}

	moderator, err := v.roles.IsModerator(ctx, campaignRecord.ID, participantID)
	if err != nil {
		return nil, err
	}
	if moderator {
		return posts, nil
	}

	mine, err := v.store.ListCharactersByParticipant(ctx, campaignRecord.ID, participantID)
	if err != nil {
		return nil, err
	}
	owned := make(map[string]struct{}, len(mine))
	for _, characterRecord := range mine {
		owned[characterRecord.ID] = struct{}{}
	}

	var visible []post.Post
	for _, record := range posts {
		if record.AuthorParticipantID == participantID {
			visible = append(visible, record)
			continue
		}
		if record.Hidden {
			continue
		}
		for _, witness := range record.Witnesses {
			if _, ok := owned[witness]; ok {
				visible = append(visible, record)
				break
			}
		}
	}
	return visible, nil
}

// VisibleScenes lists the scenes the participant may browse in a campaign.
// With fog of war off, every active scene is visible. With it on, a scene is
// visible only if one of the viewer's characters witnessed a post in it;
// characterID narrows the view to one controlled character.
func (v *VisibilityLedger) VisibleScenes(ctx context.Context, campaignID, participantID, characterID string) ([]scene.Scene, error) {
	campaignRecord, err := v.store.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, platformerrors.New(platformerrors.CodeCampaignNotFound, "campaign not found")
		}
		return nil, err
	}

	scenes, err := v.store.ListScenesByCampaign(ctx, campaignID, false)
	if err != nil {
		return nil, err
	}

	moderator, err := v.roles.IsModerator(ctx, campaignID, participantID)
	if err != nil {
		return nil, err
	}
	if moderator || !campaignRecord.FogOfWar {
		return scenes, nil
	}

	var viewpoint []string
	if characterID != "" {
		characterRecord, err := v.store.GetCharacter(ctx, characterID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, platformerrors.New(platformerrors.CodeCharacterNotFound, "character not found")
			}
			return nil, err
		}
		if !characterRecord.AssignedTo(participantID) {
			return nil, platformerrors.New(platformerrors.CodeNotAssigned, "character is not controlled by participant")
		}
		viewpoint = []string{characterID}
	} else {
		mine, err := v.store.ListCharactersByParticipant(ctx, campaignID, participantID)
		if err != nil {
			return nil, err
		}
		for _, characterRecord := range mine {
			viewpoint = append(viewpoint, characterRecord.ID)
		}
	}
	if len(viewpoint) == 0 {
		return nil, nil
	}

	witnessed, err := v.store.ListWitnessedSceneIDs(ctx, campaignID, viewpoint)
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]struct{}, len(witnessed))
	for _, sceneID := range witnessed {
		allowed[sceneID] = struct{}{}
	}

	var visible []scene.Scene
	for _, record := range scenes {
		if _, ok := allowed[record.ID]; ok {
			visible = append(visible, record)
		}
	}
	return visible, nil
}

func (v *VisibilityLedger) publishPost(campaignID string, record post.Post) {
	audience := AudienceScene
	if record.Hidden {
		// Hidden posts exist only for the author and moderator until
		// revealed by a correction.
		audience = AudienceModerator
	}
	v.bus.Publish(Event{
		Type:        EventPostSubmitted,
		Audience:    audience,
		CampaignID:  campaignID,
		SceneID:     record.SceneID,
		CharacterID: record.CharacterID,
		At:          v.now().UTC(),
		Metadata:    map[string]string{"post_id": record.ID},
	})
}

func (v *VisibilityLedger) campaignForScene(ctx context.Context, sceneID string) (campaign.Campaign, error) {
	sceneRecord, err := v.store.GetScene(ctx, sceneID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return campaign.Campaign{}, platformerrors.New(platformerrors.CodeSceneNotFound, "scene not found")
		}
		return campaign.Campaign{}, err
	}
	record, err := v.store.GetCampaign(ctx, sceneRecord.CampaignID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return campaign.Campaign{}, platformerrors.New(platformerrors.CodeCampaignNotFound, "campaign not found")
		}
		return campaign.Campaign{}, err
	}
	return record, nil
}

func (v *VisibilityLedger) requireModerator(ctx context.Context, campaignID, participantID string) error {
	moderator, err := v.roles.IsModerator(ctx, campaignID, participantID)
	if err != nil {
		return err
	}
	if !moderator {
		return platformerrors.New(platformerrors.CodeModeratorOnly, "moderator role required")
	}
	return nil
}
