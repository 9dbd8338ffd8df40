package campaign

import (
	"errors"
	"testing"
	"time"

	platformerrors "github.com/lorebound/lorebound/internal/platform/errors"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
}

func TestCreateStartsInGMPhase(t *testing.T) {
	t.Parallel()

	gate := 30 * time.Minute
	created, err := Create(CreateInput{
		Name:                   "  The Sunken Vault  ",
		ModeratorParticipantID: "participant-gm",
		TimeGate:               &gate,
		FogOfWar:               true,
	}, fixedNow, func() (string, error) { return "campaign-1", nil })
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	if created.Phase != PhaseGM {
		t.Fatalf("expected gm_phase, got %s", created.Phase)
	}
	if created.Name != "The Sunken Vault" {
		t.Fatalf("expected trimmed name, got %q", created.Name)
	}
	if created.ContentLimit != DefaultContentLimit {
		t.Fatalf("expected default content limit, got %d", created.ContentLimit)
	}
	if !created.FogOfWar {
		t.Fatal("expected fog of war enabled")
	}
	if created.PhaseStartedAt != fixedNow() {
		t.Fatalf("expected phase start stamped, got %v", created.PhaseStartedAt)
	}
}

func TestCreateRequiresName(t *testing.T) {
	t.Parallel()

	_, err := Create(CreateInput{ModeratorParticipantID: "participant-gm"}, fixedNow, nil)
	if !errors.Is(err, platformerrors.New(platformerrors.CodeCampaignNameEmpty, "")) {
		t.Fatalf("expected CAMPAIGN_NAME_EMPTY, got %v", err)
	}
}

func TestCreateRejectsNegativeTimeGate(t *testing.T) {
	t.Parallel()

	gate := -time.Second
	_, err := Create(CreateInput{
		Name:                   "Vault",
		ModeratorParticipantID: "participant-gm",
		TimeGate:               &gate,
	}, fixedNow, nil)
	if err == nil {
		t.Fatal("expected negative time gate to be rejected")
	}
}

func TestGateExpired(t *testing.T) {
	t.Parallel()

	gate := 10 * time.Minute
	base := Campaign{
		Phase:          PhasePlayers,
		PhaseStartedAt: fixedNow(),
		TimeGate:       &gate,
	}

	if base.GateExpired(fixedNow().Add(5 * time.Minute)) {
		t.Fatal("expected gate open before deadline")
	}
	if base.GateExpired(fixedNow().Add(10 * time.Minute)) {
		t.Fatal("expected gate open exactly at deadline")
	}
	if !base.GateExpired(fixedNow().Add(10*time.Minute + time.Second)) {
		t.Fatal("expected gate expired past deadline")
	}

	paused := base
	paused.Paused = true
	if paused.GateExpired(fixedNow().Add(time.Hour)) {
		t.Fatal("expected paused campaign never to expire")
	}

	ungated := base
	ungated.TimeGate = nil
	if ungated.GateExpired(fixedNow().Add(24 * time.Hour)) {
		t.Fatal("expected ungated phase never to expire")
	}

	gmPhase := base
	gmPhase.Phase = PhaseGM
	if gmPhase.GateExpired(fixedNow().Add(time.Hour)) {
		t.Fatal("expected gm_phase never to expire")
	}
}

func TestGateExpiredZeroDuration(t *testing.T) {
	t.Parallel()

	gate := time.Duration(0)
	c := Campaign{
		Phase:          PhasePlayers,
		PhaseStartedAt: fixedNow(),
		TimeGate:       &gate,
	}
	if !c.GateExpired(fixedNow().Add(time.Millisecond)) {
		t.Fatal("expected zero gate to expire immediately after phase start")
	}
}

func TestPhaseFlip(t *testing.T) {
	t.Parallel()

	if PhaseGM.Flip() != PhasePlayers {
		t.Fatal("expected gm_phase to flip to pc_phase")
	}
	if PhasePlayers.Flip() != PhaseGM {
		t.Fatal("expected pc_phase to flip to gm_phase")
	}
}
