// Package campaign defines campaign metadata and the global phase model.
package campaign

import (
	"fmt"
	"strings"
	"time"

	platformerrors "github.com/lorebound/lorebound/internal/platform/errors"
	"github.com/lorebound/lorebound/internal/platform/id"
)

// Phase describes the campaign-wide turn mode.
type Phase string

const (
	// PhaseGM means the moderator acts: roster changes, scene setup, narration.
	PhaseGM Phase = "gm_phase"
	// PhasePlayers means participants act: compose locks and posts.
	PhasePlayers Phase = "pc_phase"
)

// Valid reports whether the phase is a known value.
func (p Phase) Valid() bool {
	return p == PhaseGM || p == PhasePlayers
}

// Flip returns the opposite phase.
func (p Phase) Flip() Phase {
	if p == PhaseGM {
		return PhasePlayers
	}
	return PhaseGM
}

// DefaultContentLimit bounds total post content when a campaign sets none.
const DefaultContentLimit = 20000

// Campaign represents one campaign and its phase state.
type Campaign struct {
	ID                     string
	Name                   string
	ModeratorParticipantID string
	Phase                  Phase
	PhaseStartedAt         time.Time
	// TimeGate bounds pc_phase duration. Nil means the phase never expires.
	TimeGate      *time.Duration
	TimeGateFired bool
	Paused        bool
	FogOfWar      bool
	ContentLimit  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// GateExpired reports whether the players phase has outlived its time gate.
// Evaluated lazily against stored timestamps; paused campaigns never expire.
func (c Campaign) GateExpired(now time.Time) bool {
	if c.Phase != PhasePlayers || c.Paused || c.TimeGate == nil {
		return false
	}
	return now.After(c.PhaseStartedAt.Add(*c.TimeGate))
}

// GateDeadline returns the instant the players phase expires, if gated.
func (c Campaign) GateDeadline() (time.Time, bool) {
	if c.Phase != PhasePlayers || c.TimeGate == nil {
		return time.Time{}, false
	}
	return c.PhaseStartedAt.Add(*c.TimeGate), true
}

// CreateInput describes the metadata needed to create a campaign.
type CreateInput struct {
	Name                   string
	ModeratorParticipantID string
	TimeGate               *time.Duration
	FogOfWar               bool
	ContentLimit           int
}

// Create builds a new campaign starting in gm_phase.
func Create(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (Campaign, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.Name = strings.TrimSpace(input.Name)
	input.ModeratorParticipantID = strings.TrimSpace(input.ModeratorParticipantID)
	if input.Name == "" {
		return Campaign{}, platformerrors.New(platformerrors.CodeCampaignNameEmpty, "campaign name is required")
	}
	if input.ModeratorParticipantID == "" {
		return Campaign{}, platformerrors.New(platformerrors.CodeModeratorOnly, "campaign moderator is required")
	}
	if input.ContentLimit <= 0 {
		input.ContentLimit = DefaultContentLimit
	}
	if input.TimeGate != nil && *input.TimeGate < 0 {
		return Campaign{}, platformerrors.New(platformerrors.CodeInvalidPhase, "time gate must be non-negative")
	}

	campaignID, err := idGenerator()
	if err != nil {
		return Campaign{}, fmt.Errorf("generate campaign id: %w", err)
	}

	createdAt := now().UTC()
	return Campaign{
		ID:                     campaignID,
		Name:                   input.Name,
		ModeratorParticipantID: input.ModeratorParticipantID,
		Phase:                  PhaseGM,
		PhaseStartedAt:         createdAt,
		TimeGate:               input.TimeGate,
		FogOfWar:               input.FogOfWar,
		ContentLimit:           input.ContentLimit,
		CreatedAt:              createdAt,
		UpdatedAt:              createdAt,
	}, nil
}
