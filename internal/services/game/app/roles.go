package app

import "context"

// Roles answers authorization questions about campaign participants. Identity
// itself arrives on the request context; role lookups are delegated so the
// game core never owns account data.
type Roles interface {
	// IsModerator reports whether the participant moderates the campaign.
	IsModerator(ctx context.Context, campaignID, participantID string) (bool, error)
}

// RollSignal reports outstanding dice rolls owned by an external resolution
// system. A pending roll blocks passing and phase transitions.
type RollSignal interface {
	HasPendingRoll(ctx context.Context, sceneID, characterID string) (bool, error)
}
