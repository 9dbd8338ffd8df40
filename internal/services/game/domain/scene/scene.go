// Package scene defines narrative containers, their rosters, and pass state.
package scene

import (
	"fmt"
	"strings"
	"time"

	platformerrors "github.com/lorebound/lorebound/internal/platform/errors"
	"github.com/lorebound/lorebound/internal/platform/id"
)

// PassState is a character's per-phase turn-yield state within a scene.
type PassState string

const (
	// PassNone means the character has not yielded the current phase.
	PassNone PassState = "none"
	// PassSoft means the character yielded but auto-resets on their next post.
	PassSoft PassState = "passed"
	// PassHard means the character yielded for the rest of the phase.
	PassHard PassState = "hard_passed"
)

// Valid reports whether the pass state is a known value.
func (p PassState) Valid() bool {
	return p == PassNone || p == PassSoft || p == PassHard
}

// Scene represents one narrative container within a campaign.
type Scene struct {
	ID         string
	CampaignID string
	Name       string
	Archived   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Member is one roster entry: a character present in a scene, ordered by
// Position, carrying that character's pass state.
type Member struct {
	SceneID     string
	CharacterID string
	Position    int
	PassState   PassState
	JoinedAt    time.Time
}

// CreateInput describes the metadata needed to create a scene.
type CreateInput struct {
	CampaignID string
	Name       string
}

// Create builds a new scene with an empty roster.
func Create(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (Scene, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.CampaignID = strings.TrimSpace(input.CampaignID)
	input.Name = strings.TrimSpace(input.Name)
	if input.CampaignID == "" {
		return Scene{}, platformerrors.New(platformerrors.CodeCampaignNotFound, "scene campaign id is required")
	}
	if input.Name == "" {
		return Scene{}, platformerrors.New(platformerrors.CodeSceneNameEmpty, "scene name is required")
	}

	sceneID, err := idGenerator()
	if err != nil {
		return Scene{}, fmt.Errorf("generate scene id: %w", err)
	}

	createdAt := now().UTC()
	return Scene{
		ID:         sceneID,
		CampaignID: input.CampaignID,
		Name:       input.Name,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}, nil
}

// RosterIDs returns the character ids of a roster in position order. The
// input must already be position-sorted, as stores return it.
func RosterIDs(members []Member) []string {
	ids := make([]string, 0, len(members))
	for _, member := range members {
		ids = append(ids, member.CharacterID)
	}
	return ids
}

// Contains reports whether the roster includes the character.
func Contains(members []Member, characterID string) bool {
	for _, member := range members {
		if member.CharacterID == characterID {
			return true
		}
	}
	return false
}
