package app

import (
	"context"
	"errors"
	"time"

	platformerrors "github.com/lorebound/lorebound/internal/platform/errors"
	"github.com/lorebound/lorebound/internal/services/game/domain/campaign"
	"github.com/lorebound/lorebound/internal/services/game/domain/lock"
	"github.com/lorebound/lorebound/internal/services/game/domain/scene"
	"github.com/lorebound/lorebound/internal/services/game/storage"
)

// PhaseCoordinator drives the campaign phase machine and per-character pass
// states. Time-gate expiry is evaluated lazily against stored timestamps; no
// in-process timer owns correctness.
type PhaseCoordinator struct {
	store storage.Store
	roles Roles
	rolls RollSignal
	bus   *Bus
	now   func() time.Time
}

// NewPhaseCoordinator creates a phase coordinator over the given store.
func NewPhaseCoordinator(store storage.Store, roles Roles, rolls RollSignal, bus *Bus) *PhaseCoordinator {
	return &PhaseCoordinator{
		store: store,
		roles: roles,
		rolls: rolls,
		bus:   bus,
		now:   time.Now,
	}
}

// BeginPCPhase moves the campaign from the moderator phase to the players
// phase. Moderator only.
func (c *PhaseCoordinator) BeginPCPhase(ctx context.Context, campaignID, actorParticipantID string) (campaign.Campaign, error) {
	record, err := c.getCampaign(ctx, campaignID)
	if err != nil {
		return campaign.Campaign{}, err
	}
	if err := c.requireModerator(ctx, campaignID, actorParticipantID); err != nil {
		return campaign.Campaign{}, err
	}
	if record.Phase != campaign.PhaseGM {
		return campaign.Campaign{}, platformerrors.New(platformerrors.CodePhaseMismatch, "campaign is not in the moderator phase")
	}

	result, err := c.store.TransitionPhase(ctx, storage.TransitionInput{
		CampaignID: campaignID,
		Now:        c.now(),
	})
	if err != nil {
		return campaign.Campaign{}, c.mapTransitionErr(err)
	}

	c.publishTransition(result)
	return result.Campaign, nil
}

// SetPassInput describes one pass-state change.
type SetPassInput struct {
	SceneID       string
	CharacterID   string
	ParticipantID string
	State         scene.PassState
}

// SetPass records that a character yields the rest of the players phase. A
// soft pass is undone by later activity; a hard pass holds until the phase
// ends. A pending roll blocks passing.
func (c *PhaseCoordinator) SetPass(ctx context.Context, input SetPassInput) error {
	if !input.State.Valid() {
		return platformerrors.New(platformerrors.CodeInvalidPassState, "pass state is invalid")
	}

	sceneRecord, err := c.store.GetScene(ctx, input.SceneID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return platformerrors.New(platformerrors.CodeSceneNotFound, "scene not found")
		}
		return err
	}

	campaignRecord, err := c.getCampaign(ctx, sceneRecord.CampaignID)
	if err != nil {
		return err
	}
	if campaignRecord.Paused {
		return platformerrors.New(platformerrors.CodeCampaignPaused, "campaign is paused")
	}

	characterRecord, err := c.store.GetCharacter(ctx, input.CharacterID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return platformerrors.New(platformerrors.CodeCharacterNotFound, "character not found")
		}
		return err
	}
	moderator, err := c.roles.IsModerator(ctx, campaignRecord.ID, input.ParticipantID)
	if err != nil {
		return err
	}
	if !characterRecord.AssignedTo(input.ParticipantID) && !moderator {
		return platformerrors.New(platformerrors.CodeNotAssigned, "character is not controlled by participant")
	}

	expired, err := fireTimeGate(ctx, c.store, c.bus, campaignRecord, c.now())
	if err != nil {
		return err
	}
	if expired && !moderator {
		return platformerrors.New(platformerrors.CodeTimeGateExpired, "the players phase time gate has expired")
	}

	if c.rolls != nil {
		pending, err := c.rolls.HasPendingRoll(ctx, input.SceneID, input.CharacterID)
		if err != nil {
			return err
		}
		if pending {
			return platformerrors.New(platformerrors.CodeRollPending, "character has an unresolved roll")
		}
	}

	err = c.store.SetPassState(ctx, input.SceneID, input.CharacterID, input.State, campaign.PhasePlayers, c.now())
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrPhaseMismatch):
			return platformerrors.New(platformerrors.CodePhaseMismatch, "pass states change only during the players phase")
		case errors.Is(err, storage.ErrNotFound):
			return platformerrors.New(platformerrors.CodeNotInScene, "character is not in the scene")
		}
		return err
	}

	c.bus.Publish(Event{
		Type:        EventPassStateChanged,
		Audience:    AudienceScene,
		CampaignID:  campaignRecord.ID,
		SceneID:     input.SceneID,
		CharacterID: input.CharacterID,
		At:          c.now().UTC(),
		Metadata:    map[string]string{"pass_state": string(input.State)},
	})
	return nil
}

// AutoExpireIfNeeded applies the time gate if the players phase has outlived
// it: every idle pc is soft-passed and the gate fires exactly once. Callers
// run this before phase-sensitive reads; repeated calls are no-ops.
func (c *PhaseCoordinator) AutoExpireIfNeeded(ctx context.Context, campaignID string) error {
	record, err := c.getCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	_, err = fireTimeGate(ctx, c.store, c.bus, record, c.now())
	return err
}

// fireTimeGate evaluates the time gate against a campaign snapshot, firing it
// at most once across concurrent callers. Reports whether the gate stands
// expired afterward.
func fireTimeGate(ctx context.Context, store storage.Store, bus *Bus, record campaign.Campaign, now time.Time) (bool, error) {
	if record.TimeGateFired {
		return true, nil
	}
	if !record.GateExpired(now) {
		return false, nil
	}

	fired, err := store.MarkTimeGateFired(ctx, record.ID, now)
	if err != nil {
		return true, err
	}
	if !fired {
		// Another caller observed the expiry first.
		return true, nil
	}

	passed, err := store.AutoPassIdlePCs(ctx, record.ID, now)
	if err != nil {
		return true, err
	}

	at := now.UTC()
	bus.Publish(Event{
		Type:       EventTimeGateExpired,
		Audience:   AudienceScene,
		CampaignID: record.ID,
		At:         at,
	})
	for _, characterID := range passed {
		bus.Publish(Event{
			Type:        EventPassStateChanged,
			Audience:    AudienceScene,
			CampaignID:  record.ID,
			CharacterID: characterID,
			At:          at,
			Metadata:    map[string]string{"pass_state": string(scene.PassSoft), "auto": "true"},
		})
	}
	return true, nil
}

// TransitionStatus reports whether the campaign can flip phase right now and
// what blocks it.
type TransitionStatus struct {
	CanTransition bool
	BlockingLocks []lock.Lock
	// BlockingRolls lists (scene, character) pairs with unresolved rolls.
	BlockingRolls []RollRef
}

// RollRef names one outstanding roll.
type RollRef struct {
	SceneID     string
	CharacterID string
}

// Status computes the current transition blockers without changing anything.
func (c *PhaseCoordinator) Status(ctx context.Context, campaignID string) (TransitionStatus, error) {
	if _, err := c.getCampaign(ctx, campaignID); err != nil {
		return TransitionStatus{}, err
	}

	locks, err := c.store.ListLocksByCampaign(ctx, campaignID)
	if err != nil {
		return TransitionStatus{}, err
	}
	now := c.now()
	var live []lock.Lock
	for _, record := range locks {
		if !record.Expired(now) {
			live = append(live, record)
		}
	}

	rolls, err := c.pendingRolls(ctx, campaignID)
	if err != nil {
		return TransitionStatus{}, err
	}

	return TransitionStatus{
		CanTransition: len(live) == 0 && len(rolls) == 0,
		BlockingLocks: live,
		BlockingRolls: rolls,
	}, nil
}

// RequestTransition flips the campaign phase. Moderator only. Without force
// the transition fails while locks or rolls are outstanding; force bypasses
// both guards, clearing the locks.
func (c *PhaseCoordinator) RequestTransition(ctx context.Context, campaignID, actorParticipantID string, force bool) (campaign.Campaign, error) {
	if err := c.requireModerator(ctx, campaignID, actorParticipantID); err != nil {
		return campaign.Campaign{}, err
	}

	if !force {
		rolls, err := c.pendingRolls(ctx, campaignID)
		if err != nil {
			return campaign.Campaign{}, err
		}
		if len(rolls) > 0 {
			return campaign.Campaign{}, platformerrors.New(platformerrors.CodeRollsPending, "unresolved rolls block the transition")
		}
	}

	result, err := c.store.TransitionPhase(ctx, storage.TransitionInput{
		CampaignID: campaignID,
		Force:      force,
		Now:        c.now(),
	})
	if err != nil {
		return campaign.Campaign{}, c.mapTransitionErr(err)
	}

	c.publishTransition(result)
	return result.Campaign, nil
}

// pendingRolls asks the external resolver about every roster pairing in the
// campaign. The signal lives outside the transition transaction; the roll
// system is an external boundary, not shared state.
func (c *PhaseCoordinator) pendingRolls(ctx context.Context, campaignID string) ([]RollRef, error) {
	if c.rolls == nil {
		return nil, nil
	}
	scenes, err := c.store.ListScenesByCampaign(ctx, campaignID, false)
	if err != nil {
		return nil, err
	}
	var refs []RollRef
	for _, sceneRecord := range scenes {
		members, err := c.store.ListSceneMembers(ctx, sceneRecord.ID)
		if err != nil {
			return nil, err
		}
		for _, member := range members {
			pending, err := c.rolls.HasPendingRoll(ctx, sceneRecord.ID, member.CharacterID)
			if err != nil {
				return nil, err
			}
			if pending {
				refs = append(refs, RollRef{SceneID: sceneRecord.ID, CharacterID: member.CharacterID})
			}
		}
	}
	return refs, nil
}

func (c *PhaseCoordinator) publishTransition(result storage.TransitionResult) {
	at := c.now().UTC()
	for _, cleared := range result.ClearedLocks {
		c.bus.Publish(Event{
			Type:        EventLockReleased,
			Audience:    AudienceScene,
			CampaignID:  result.Campaign.ID,
			SceneID:     cleared.SceneID,
			CharacterID: cleared.CharacterID,
			At:          at,
			Metadata:    map[string]string{"forced": "true"},
		})
		c.bus.Publish(Event{
			Type:          EventLockForceReleased,
			Audience:      AudienceParticipant,
			CampaignID:    result.Campaign.ID,
			SceneID:       cleared.SceneID,
			CharacterID:   cleared.CharacterID,
			ParticipantID: cleared.HolderParticipantID,
			At:            at,
		})
	}
	c.bus.Publish(Event{
		Type:       EventPhaseTransitioned,
		Audience:   AudienceScene,
		CampaignID: result.Campaign.ID,
		At:         at,
		Metadata:   map[string]string{"phase": string(result.Campaign.Phase)},
	})
}

func (c *PhaseCoordinator) getCampaign(ctx context.Context, campaignID string) (campaign.Campaign, error) {
	record, err := c.store.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return campaign.Campaign{}, platformerrors.New(platformerrors.CodeCampaignNotFound, "campaign not found")
		}
		return campaign.Campaign{}, err
	}
	return record, nil
}

func (c *PhaseCoordinator) requireModerator(ctx context.Context, campaignID, participantID string) error {
	moderator, err := c.roles.IsModerator(ctx, campaignID, participantID)
	if err != nil {
		return err
	}
	if !moderator {
		return platformerrors.New(platformerrors.CodeModeratorOnly, "only the moderator may change the campaign phase")
	}
	return nil
}

func (c *PhaseCoordinator) mapTransitionErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrLocksHeld):
		return platformerrors.New(platformerrors.CodeLocksHeld, "outstanding locks block the transition")
	case errors.Is(err, storage.ErrNotFound):
		return platformerrors.New(platformerrors.CodeCampaignNotFound, "campaign not found")
	}
	return err
}
