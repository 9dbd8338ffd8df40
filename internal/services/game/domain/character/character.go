// Package character defines campaign personas and their controller assignment.
package character

import (
	"fmt"
	"strings"
	"time"

	platformerrors "github.com/lorebound/lorebound/internal/platform/errors"
	"github.com/lorebound/lorebound/internal/platform/id"
)

// Kind distinguishes player characters from moderator-run ones.
type Kind string

const (
	// KindPC is a player-controlled character.
	KindPC Kind = "pc"
	// KindNPC is a moderator-controlled character.
	KindNPC Kind = "npc"
)

// Valid reports whether the kind is a known value.
func (k Kind) Valid() bool {
	return k == KindPC || k == KindNPC
}

// Character represents one persona in a campaign. Characters are never
// deleted, only archived.
type Character struct {
	ID         string
	CampaignID string
	Name       string
	Kind       Kind
	// ParticipantID is the controlling participant, empty while unassigned.
	ParticipantID string
	Archived      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AssignedTo reports whether the participant currently controls the character.
func (c Character) AssignedTo(participantID string) bool {
	participantID = strings.TrimSpace(participantID)
	return participantID != "" && c.ParticipantID == participantID
}

// CreateInput describes the metadata needed to create a character.
type CreateInput struct {
	CampaignID    string
	Name          string
	Kind          Kind
	ParticipantID string
}

// Create builds a new character.
func Create(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (Character, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.CampaignID = strings.TrimSpace(input.CampaignID)
	input.Name = strings.TrimSpace(input.Name)
	input.ParticipantID = strings.TrimSpace(input.ParticipantID)
	if input.CampaignID == "" {
		return Character{}, platformerrors.New(platformerrors.CodeCampaignNotFound, "character campaign id is required")
	}
	if input.Name == "" {
		return Character{}, platformerrors.New(platformerrors.CodeCharacterNameEmpty, "character name is required")
	}
	if !input.Kind.Valid() {
		return Character{}, platformerrors.New(platformerrors.CodeCharacterInvalidKind, "character kind must be pc or npc")
	}

	characterID, err := idGenerator()
	if err != nil {
		return Character{}, fmt.Errorf("generate character id: %w", err)
	}

	createdAt := now().UTC()
	return Character{
		ID:            characterID,
		CampaignID:    input.CampaignID,
		Name:          input.Name,
		Kind:          input.Kind,
		ParticipantID: input.ParticipantID,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}, nil
}
