// Package lock defines the exclusive compose lock for a (scene, character) pair.
package lock

import (
	"fmt"
	"strings"
	"time"

	"github.com/lorebound/lorebound/internal/platform/id"
)

// TTL is the fixed lock lifetime. Every heartbeat pushes expiry out by this
// much; a lock past its expiry is dead even before the sweep removes it.
const TTL = 10 * time.Minute

// AcquireCooldown is the minimum spacing between acquire/release calls from
// one participant.
const AcquireCooldown = 5 * time.Second

// SweepInterval is the cadence of the expired-lock reclamation sweep. The
// sweep is cleanup only; correctness never depends on its timing.
const SweepInterval = 30 * time.Second

// Lock is the exclusive right to compose the next post as a character in a
// scene. At most one live lock exists per (scene, character).
type Lock struct {
	ID                  string
	SceneID             string
	CharacterID         string
	HolderParticipantID string
	HiddenIntent        bool
	AcquiredAt          time.Time
	LastActivityAt      time.Time
	ExpiresAt           time.Time
}

// Expired reports whether the lock is past its expiry.
func (l Lock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// HeldBy reports whether the participant holds the lock.
func (l Lock) HeldBy(participantID string) bool {
	participantID = strings.TrimSpace(participantID)
	return participantID != "" && l.HolderParticipantID == participantID
}

// Refreshed returns the lock with activity stamped at now and expiry pushed
// to now+TTL. Expiry only ever moves forward.
func (l Lock) Refreshed(now time.Time) Lock {
	now = now.UTC()
	l.LastActivityAt = now
	l.ExpiresAt = now.Add(TTL)
	return l
}

// New builds a fresh lock for the key at now.
func New(sceneID, characterID, holderParticipantID string, hiddenIntent bool, now func() time.Time, idGenerator func() (string, error)) (Lock, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	sceneID = strings.TrimSpace(sceneID)
	characterID = strings.TrimSpace(characterID)
	holderParticipantID = strings.TrimSpace(holderParticipantID)
	if sceneID == "" || characterID == "" || holderParticipantID == "" {
		return Lock{}, fmt.Errorf("scene, character, and holder are required")
	}

	lockID, err := idGenerator()
	if err != nil {
		return Lock{}, fmt.Errorf("generate lock id: %w", err)
	}

	acquiredAt := now().UTC()
	return Lock{
		ID:                  lockID,
		SceneID:             sceneID,
		CharacterID:         characterID,
		HolderParticipantID: holderParticipantID,
		HiddenIntent:        hiddenIntent,
		AcquiredAt:          acquiredAt,
		LastActivityAt:      acquiredAt,
		ExpiresAt:           acquiredAt.Add(TTL),
	}, nil
}
