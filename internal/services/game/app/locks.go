package app

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	platformerrors "github.com/lorebound/lorebound/internal/platform/errors"
	"github.com/lorebound/lorebound/internal/platform/id"
	"github.com/lorebound/lorebound/internal/services/game/domain/campaign"
	"github.com/lorebound/lorebound/internal/services/game/domain/character"
	"github.com/lorebound/lorebound/internal/services/game/domain/lock"
	"github.com/lorebound/lorebound/internal/services/game/storage"
)

// LockManager grants, refreshes, and reclaims compose locks. At most one live
// lock exists per (scene, character); the store's conditional insert is the
// arbiter, so two racing acquires can never both win.
type LockManager struct {
	store storage.Store
	roles Roles
	bus   *Bus
	now   func() time.Time
	newID func() (string, error)

	mu         sync.Mutex
	lastLockOp map[string]time.Time
}

// NewLockManager creates a lock manager over the given store.
func NewLockManager(store storage.Store, roles Roles, bus *Bus) *LockManager {
	return &LockManager{
		store:      store,
		roles:      roles,
		bus:        bus,
		now:        time.Now,
		newID:      id.NewID,
		lastLockOp: make(map[string]time.Time),
	}
}

// inCooldown reports whether the participant acquired or released a lock
// within AcquireCooldown before now. Only Acquire is gated on it; Release
// always goes through.
func (m *LockManager) inCooldown(participantID string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastLockOp[participantID]
	return ok && now.Sub(last) < lock.AcquireCooldown
}

func (m *LockManager) recordLockOp(participantID string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLockOp[participantID] = now
}

// AcquireInput describes one lock acquisition attempt.
type AcquireInput struct {
	SceneID       string
	CharacterID   string
	ParticipantID string
	// HiddenIntent marks the eventual post as hidden before any content
	// exists.
	HiddenIntent bool
}

// Acquire grants the compose lock for a (scene, character) to the calling
// participant. The character must be on the scene roster and controlled by
// the caller; non-moderators may acquire only during the players phase.
func (m *LockManager) Acquire(ctx context.Context, input AcquireInput) (lock.Lock, error) {
	if m.inCooldown(input.ParticipantID, m.now()) {
		return lock.Lock{}, platformerrors.New(platformerrors.CodeRateLimited, "lock acquisition is rate limited")
	}

	sceneRecord, err := m.store.GetScene(ctx, input.SceneID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return lock.Lock{}, platformerrors.New(platformerrors.CodeSceneNotFound, "scene not found")
		}
		return lock.Lock{}, err
	}
	if sceneRecord.Archived {
		return lock.Lock{}, platformerrors.New(platformerrors.CodeSceneArchived, "scene is archived")
	}

	campaignRecord, err := m.store.GetCampaign(ctx, sceneRecord.CampaignID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return lock.Lock{}, platformerrors.New(platformerrors.CodeCampaignNotFound, "campaign not found")
		}
		return lock.Lock{}, err
	}
	if campaignRecord.Paused {
		return lock.Lock{}, platformerrors.New(platformerrors.CodeCampaignPaused, "campaign is paused")
	}

	characterRecord, err := m.store.GetCharacter(ctx, input.CharacterID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return lock.Lock{}, platformerrors.New(platformerrors.CodeCharacterNotFound, "character not found")
		}
		return lock.Lock{}, err
	}
	if characterRecord.Archived {
		return lock.Lock{}, platformerrors.New(platformerrors.CodeCharacterArchived, "character is archived")
	}

	moderator, err := m.roles.IsModerator(ctx, campaignRecord.ID, input.ParticipantID)
	if err != nil {
		return lock.Lock{}, err
	}
	if !m.mayCompose(characterRecord, input.ParticipantID, moderator) {
		return lock.Lock{}, platformerrors.New(platformerrors.CodeNotAssigned, "character is not controlled by participant")
	}

	expired, err := fireTimeGate(ctx, m.store, m.bus, campaignRecord, m.now())
	if err != nil {
		return lock.Lock{}, err
	}
	if expired && !moderator {
		return lock.Lock{}, platformerrors.New(platformerrors.CodeTimeGateExpired, "the players phase time gate has expired")
	}

	members, err := m.store.ListSceneMembers(ctx, input.SceneID)
	if err != nil {
		return lock.Lock{}, err
	}
	onRoster := false
	for _, member := range members {
		if member.CharacterID == input.CharacterID {
			onRoster = true
			break
		}
	}
	if !onRoster {
		return lock.Lock{}, platformerrors.New(platformerrors.CodeNotInScene, "character is not in the scene")
	}

	record, err := lock.New(input.SceneID, input.CharacterID, input.ParticipantID, input.HiddenIntent, m.now, m.newID)
	if err != nil {
		return lock.Lock{}, err
	}

	// Moderators may compose during either phase; everyone else only while
	// the players act. The phase is re-checked inside the insert so a
	// concurrent transition cannot slip a lock in after the flip.
	requirePhase := campaign.PhasePlayers
	if moderator {
		requirePhase = ""
	}
	if err := m.store.InsertLock(ctx, record, requirePhase); err != nil {
		switch {
		case errors.Is(err, storage.ErrConflict):
			return lock.Lock{}, platformerrors.New(platformerrors.CodeLockHeld, "character is already composing")
		case errors.Is(err, storage.ErrPhaseMismatch):
			return lock.Lock{}, platformerrors.New(platformerrors.CodePhaseMismatch, "compose locks require the players phase")
		case errors.Is(err, storage.ErrNotFound):
			return lock.Lock{}, platformerrors.New(platformerrors.CodeSceneNotFound, "scene not found")
		}
		return lock.Lock{}, err
	}

	m.recordLockOp(input.ParticipantID, m.now())
	m.publishLockEvents(EventLockAcquired, campaignRecord.ID, record)
	return record, nil
}

func (m *LockManager) mayCompose(record character.Character, participantID string, moderator bool) bool {
	if record.Kind == character.KindNPC {
		return moderator
	}
	if record.AssignedTo(participantID) {
		return true
	}
	return moderator
}

// Heartbeat stamps activity on a held lock, pushing its expiry forward.
func (m *LockManager) Heartbeat(ctx context.Context, lockID, participantID string) (lock.Lock, error) {
	refreshed, err := m.store.HeartbeatLock(ctx, lockID, participantID, m.now())
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return lock.Lock{}, platformerrors.New(platformerrors.CodeLockNotHeld, "lock is not held")
		case errors.Is(err, storage.ErrNotHolder):
			return lock.Lock{}, platformerrors.New(platformerrors.CodeNotYourLock, "lock is held by another participant")
		}
		return lock.Lock{}, err
	}
	return refreshed, nil
}

// Release gives a held lock back without posting. Any saved draft survives.
// Releasing is never rate limited, but it starts the cooldown for the next
// acquire.
func (m *LockManager) Release(ctx context.Context, lockID, participantID string) error {
	released, err := m.store.ReleaseLock(ctx, lockID, participantID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return platformerrors.New(platformerrors.CodeLockNotHeld, "lock is not held")
		case errors.Is(err, storage.ErrNotHolder):
			return platformerrors.New(platformerrors.CodeNotYourLock, "lock is held by another participant")
		}
		return err
	}

	m.recordLockOp(participantID, m.now())
	campaignID, err := m.campaignForScene(ctx, released.SceneID)
	if err != nil {
		return err
	}
	m.publishLockEvents(EventLockReleased, campaignID, released)
	return nil
}

// ForceRelease lets a moderator break a stuck lock. The displaced holder is
// notified directly.
func (m *LockManager) ForceRelease(ctx context.Context, sceneID, characterID, actorParticipantID string) error {
	campaignID, err := m.campaignForScene(ctx, sceneID)
	if err != nil {
		return err
	}
	moderator, err := m.roles.IsModerator(ctx, campaignID, actorParticipantID)
	if err != nil {
		return err
	}
	if !moderator {
		return platformerrors.New(platformerrors.CodeModeratorOnly, "only the moderator may force-release locks")
	}

	deleted, err := m.store.DeleteLockByKey(ctx, sceneID, characterID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return platformerrors.New(platformerrors.CodeLockNotHeld, "lock is not held")
		}
		return err
	}

	at := m.now().UTC()
	m.bus.Publish(Event{
		Type:        EventLockForceReleased,
		Audience:    AudienceScene,
		CampaignID:  campaignID,
		SceneID:     deleted.SceneID,
		CharacterID: deleted.CharacterID,
		At:          at,
	})
	m.bus.Publish(Event{
		Type:          EventLockForceReleased,
		Audience:      AudienceParticipant,
		CampaignID:    campaignID,
		SceneID:       deleted.SceneID,
		CharacterID:   deleted.CharacterID,
		ParticipantID: deleted.HolderParticipantID,
		At:            at,
	})
	return nil
}

// Sweep reclaims every expired lock. The sweep is cleanup, not correctness:
// expired locks are already dead to every read path.
func (m *LockManager) Sweep(ctx context.Context) ([]lock.Lock, error) {
	reclaimed, err := m.store.DeleteExpiredLocks(ctx, m.now())
	if err != nil {
		return nil, err
	}
	for _, record := range reclaimed {
		campaignID, err := m.campaignForScene(ctx, record.SceneID)
		if err != nil {
			continue
		}
		m.publishLockEvents(EventLockReclaimed, campaignID, record)
	}
	return reclaimed, nil
}

// LiveLocks lists a campaign's live locks in acquisition order. Non-moderator
// viewers see only which (scene, character) keys are busy; the lock id, holder
// identity, and timestamps are blanked.
func (m *LockManager) LiveLocks(ctx context.Context, campaignID, viewerParticipantID string) ([]lock.Lock, error) {
	records, err := m.store.ListLocksByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	live := make([]lock.Lock, 0, len(records))
	for _, record := range records {
		if !record.Expired(now) {
			live = append(live, record)
		}
	}

	moderator, err := m.roles.IsModerator(ctx, campaignID, viewerParticipantID)
	if err != nil {
		return nil, err
	}
	if !moderator {
		for i := range live {
			live[i] = lock.Lock{
				SceneID:     live[i].SceneID,
				CharacterID: live[i].CharacterID,
			}
		}
	}
	return live, nil
}

// SaveDraft stores in-progress content for the holder of a live lock.
func (m *LockManager) SaveDraft(ctx context.Context, draft storage.Draft) error {
	draft.UpdatedAt = m.now()
	if err := m.store.PutDraft(ctx, draft); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return platformerrors.New(platformerrors.CodeLockNotHeld, "drafts require a held lock")
		case errors.Is(err, storage.ErrNotHolder):
			return platformerrors.New(platformerrors.CodeNotYourLock, "lock is held by another participant")
		}
		return err
	}
	return nil
}

// Draft loads a participant's saved draft, surviving lock expiry.
func (m *LockManager) Draft(ctx context.Context, sceneID, characterID, participantID string) (storage.Draft, error) {
	draft, err := m.store.GetDraft(ctx, sceneID, characterID, participantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Draft{}, platformerrors.New(platformerrors.CodeDraftNotFound, "draft not found")
		}
		return storage.Draft{}, err
	}
	return draft, nil
}

func (m *LockManager) campaignForScene(ctx context.Context, sceneID string) (string, error) {
	sceneRecord, err := m.store.GetScene(ctx, sceneID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", platformerrors.New(platformerrors.CodeSceneNotFound, "scene not found")
		}
		return "", err
	}
	return sceneRecord.CampaignID, nil
}

// publishLockEvents emits the scene-scoped event without holder identity and
// the moderator event with the full detail.
func (m *LockManager) publishLockEvents(eventType EventType, campaignID string, record lock.Lock) {
	at := m.now().UTC()
	m.bus.Publish(Event{
		Type:        eventType,
		Audience:    AudienceScene,
		CampaignID:  campaignID,
		SceneID:     record.SceneID,
		CharacterID: record.CharacterID,
		At:          at,
	})
	m.bus.Publish(Event{
		Type:          eventType,
		Audience:      AudienceModerator,
		CampaignID:    campaignID,
		SceneID:       record.SceneID,
		CharacterID:   record.CharacterID,
		ParticipantID: record.HolderParticipantID,
		At:            at,
		Metadata: map[string]string{
			"lock_id":    record.ID,
			"expires_at": strconv.FormatInt(record.ExpiresAt.UnixMilli(), 10),
		},
	})
}
