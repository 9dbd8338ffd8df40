// Package storage defines persistence contracts for the game core.
//
// All state lives in one transactional store. The composite operations here
// (acquire, submit, transition) are specified as single atomic units; an
// implementation must never apply them partially.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/lorebound/lorebound/internal/services/game/domain/campaign"
	"github.com/lorebound/lorebound/internal/services/game/domain/character"
	"github.com/lorebound/lorebound/internal/services/game/domain/lock"
	"github.com/lorebound/lorebound/internal/services/game/domain/post"
	"github.com/lorebound/lorebound/internal/services/game/domain/scene"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a write lost a uniqueness race, including a live
	// compose lock already existing for the key.
	ErrConflict = errors.New("record conflict")
	// ErrNotHolder indicates a lock operation by someone other than the holder.
	ErrNotHolder = errors.New("lock held by another participant")
	// ErrLocksHeld indicates a phase transition blocked by outstanding locks.
	ErrLocksHeld = errors.New("locks outstanding in campaign")
	// ErrPhaseMismatch indicates a guarded write observed the wrong campaign phase.
	ErrPhaseMismatch = errors.New("campaign phase mismatch")
	// ErrWitnessFrozen indicates a witness mutation attempted by anyone but
	// the campaign moderator. The witness set freezes at submission; callers
	// reaching this guard have a bug, not a user error.
	ErrWitnessFrozen = errors.New("witness set is frozen")
	// ErrWitnessNotInScene indicates a witness correction naming a character
	// missing from the post's scene roster.
	ErrWitnessNotInScene = errors.New("witness not on scene roster")
	// ErrCharacterInScene indicates a roster add for a character already
	// present in another active scene.
	ErrCharacterInScene = errors.New("character already in an active scene")
)

// CampaignStore persists campaigns and campaign-wide phase state.
type CampaignStore interface {
	PutCampaign(ctx context.Context, record campaign.Campaign) error
	GetCampaign(ctx context.Context, campaignID string) (campaign.Campaign, error)
	SetPaused(ctx context.Context, campaignID string, paused bool, at time.Time) error

	// TransitionPhase atomically flips the campaign phase. Without force it
	// fails ErrLocksHeld while any live lock exists in the campaign; with
	// force it deletes all locks as part of the transition. Entering
	// pc_phase stamps the phase start and resets every pass state to none.
	TransitionPhase(ctx context.Context, input TransitionInput) (TransitionResult, error)

	// MarkTimeGateFired flips the one-shot expiry marker for the current
	// players phase. It reports whether this call performed the flip.
	MarkTimeGateFired(ctx context.Context, campaignID string, at time.Time) (bool, error)

	// AutoPassIdlePCs sets every pc-kind character currently at pass state
	// none to passed, campaign-wide, and returns the character ids changed.
	// Calling it again immediately is a no-op.
	AutoPassIdlePCs(ctx context.Context, campaignID string, at time.Time) ([]string, error)
}

// TransitionInput describes one atomic phase transition.
type TransitionInput struct {
	CampaignID string
	Force      bool
	Now        time.Time
}

// TransitionResult reports the state after a successful transition.
type TransitionResult struct {
	Campaign campaign.Campaign
	// ClearedLocks lists locks deleted by a forced transition.
	ClearedLocks []lock.Lock
}

// CharacterStore persists characters and their controller assignment.
type CharacterStore interface {
	PutCharacter(ctx context.Context, record character.Character) error
	GetCharacter(ctx context.Context, characterID string) (character.Character, error)
	ListCharactersByCampaign(ctx context.Context, campaignID string) ([]character.Character, error)
	ListCharactersByParticipant(ctx context.Context, campaignID, participantID string) ([]character.Character, error)
	SetCharacterParticipant(ctx context.Context, characterID, participantID string, at time.Time) error
	ArchiveCharacter(ctx context.Context, characterID string, at time.Time) error
}

// SceneStore persists scenes, rosters, and per-character pass state.
type SceneStore interface {
	PutScene(ctx context.Context, record scene.Scene) error
	GetScene(ctx context.Context, sceneID string) (scene.Scene, error)
	ListScenesByCampaign(ctx context.Context, campaignID string, includeArchived bool) ([]scene.Scene, error)
	ArchiveScene(ctx context.Context, sceneID string, at time.Time) error

	// AddSceneMember appends a character to the roster. It fails
	// ErrCharacterInScene when the character is already on the roster of
	// any non-archived scene, and ErrConflict when already on this one.
	AddSceneMember(ctx context.Context, member scene.Member) error
	RemoveSceneMember(ctx context.Context, sceneID, characterID string) error
	ListSceneMembers(ctx context.Context, sceneID string) ([]scene.Member, error)

	// SetPassState writes one character's pass state, verifying the owning
	// campaign is still in requirePhase within the same transaction.
	SetPassState(ctx context.Context, sceneID, characterID string, state scene.PassState, requirePhase campaign.Phase, at time.Time) error
}

// LockStore persists compose locks.
type LockStore interface {
	// InsertLock atomically creates the lock, reclaiming any expired lock on
	// the same key first. A live lock on the key fails ErrConflict. When
	// requirePhase is non-empty the owning campaign must be in that phase
	// within the same transaction, else ErrPhaseMismatch.
	InsertLock(ctx context.Context, record lock.Lock, requirePhase campaign.Phase) error

	GetLock(ctx context.Context, lockID string) (lock.Lock, error)
	GetLockByKey(ctx context.Context, sceneID, characterID string) (lock.Lock, error)
	ListLocksByCampaign(ctx context.Context, campaignID string) ([]lock.Lock, error)

	// HeartbeatLock stamps activity and pushes expiry to now+TTL. It fails
	// ErrNotFound for a missing or expired lock and ErrNotHolder on a
	// holder mismatch.
	HeartbeatLock(ctx context.Context, lockID, holderParticipantID string, now time.Time) (lock.Lock, error)

	// ReleaseLock deletes the lock with the same holder checks as heartbeat.
	ReleaseLock(ctx context.Context, lockID, holderParticipantID string) (lock.Lock, error)

	// DeleteLockByKey deletes the lock unconditionally, returning the
	// deleted record. Used by moderator force-release.
	DeleteLockByKey(ctx context.Context, sceneID, characterID string) (lock.Lock, error)

	// DeleteExpiredLocks reclaims every lock past its expiry and returns the
	// reclaimed records. Re-running after a concurrent release is a no-op.
	DeleteExpiredLocks(ctx context.Context, now time.Time) ([]lock.Lock, error)
}

// SubmitInput describes one atomic post submission against a held lock.
type SubmitInput struct {
	PostID              string
	LockID              string
	HolderParticipantID string
	Blocks              []post.Block
	OOCNote             string
	Hidden              bool
	Now                 time.Time
}

// NarrationInput describes one moderator narrator post, which bypasses locks
// and carries no authoring character.
type NarrationInput struct {
	PostID              string
	SceneID             string
	AuthorParticipantID string
	Blocks              []post.Block
	OOCNote             string
	Hidden              bool
	Now                 time.Time
}

// CorrectionInput describes one moderator witness correction.
type CorrectionInput struct {
	AuditID            string
	PostID             string
	ActorParticipantID string
	NewWitnesses       []string
	Now                time.Time
}

// PostStore persists posts, witness sets, and witness audits.
type PostStore interface {
	// SubmitPost composes, in one transaction: witness snapshot from the
	// roster (empty when hidden), locking of the preceding post, post
	// insertion, lock deletion, passed-to-none reset for the author, and
	// draft deletion. A consumed or expired lock fails ErrNotFound.
	SubmitPost(ctx context.Context, input SubmitInput) (post.Post, error)

	// SubmitNarration inserts a moderator narrator post without a lock.
	SubmitNarration(ctx context.Context, input NarrationInput) (post.Post, error)

	GetPost(ctx context.Context, postID string) (post.Post, error)
	ListPostsByScene(ctx context.Context, sceneID string) ([]post.Post, error)

	// CorrectWitnesses replaces a post's witness set and records the audit
	// in the same transaction. Actors other than the campaign moderator fail
	// ErrWitnessFrozen; witnesses off the current scene roster fail
	// ErrWitnessNotInScene. A hidden post granted a non-empty set is
	// revealed.
	CorrectWitnesses(ctx context.Context, input CorrectionInput) (post.Post, error)

	ListWitnessAudits(ctx context.Context, postID string) ([]post.WitnessAudit, error)

	// ListWitnessedSceneIDs returns ids of non-archived scenes holding at
	// least one post witnessed by any of the given characters.
	ListWitnessedSceneIDs(ctx context.Context, campaignID string, characterIDs []string) ([]string, error)
}

// Draft holds one participant's in-progress content for a (scene, character).
// Drafts survive lock expiry and are deleted on successful submission.
type Draft struct {
	SceneID       string
	CharacterID   string
	ParticipantID string
	Blocks        []post.Block
	OOCNote       string
	UpdatedAt     time.Time
}

// DraftStore persists drafts.
type DraftStore interface {
	// PutDraft upserts a draft. The matching compose lock must be live and
	// held by the same participant, else ErrNotFound / ErrNotHolder.
	PutDraft(ctx context.Context, record Draft) error
	GetDraft(ctx context.Context, sceneID, characterID, participantID string) (Draft, error)
	DeleteDraft(ctx context.Context, sceneID, characterID, participantID string) error
}

// Store aggregates every persistence contract the game core needs.
type Store interface {
	CampaignStore
	CharacterStore
	SceneStore
	LockStore
	PostStore
	DraftStore
}
