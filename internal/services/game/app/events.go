package app

import (
	"sync"
	"time"
)

// EventType identifies one game core event.
type EventType string

const (
	EventLockAcquired      EventType = "lock_acquired"
	EventLockReleased      EventType = "lock_released"
	EventLockReclaimed     EventType = "lock_reclaimed"
	EventLockForceReleased EventType = "lock_force_released"
	EventPostSubmitted     EventType = "post_submitted"
	EventPassStateChanged  EventType = "pass_state_changed"
	EventPhaseTransitioned EventType = "phase_transitioned"
	EventTimeGateExpired   EventType = "time_gate_expired"
)

// Audience scopes who may observe an event.
type Audience string

const (
	// AudienceScene events go to everyone viewing the scene. They carry no
	// holder identity; scene viewers see that a character is composing, not
	// who controls it.
	AudienceScene Audience = "scene"
	// AudienceModerator events carry the full detail, holder included.
	AudienceModerator Audience = "moderator"
	// AudienceParticipant events target one participant directly, such as
	// the holder of a force-released lock.
	AudienceParticipant Audience = "participant"
)

// Event is one observable state change.
type Event struct {
	Type       EventType
	Audience   Audience
	CampaignID string
	SceneID    string
	// CharacterID names the acting character where one exists.
	CharacterID string
	// ParticipantID is set only for moderator- and participant-scoped
	// events.
	ParticipantID string
	At            time.Time
	Metadata      map[string]string
}

// Bus fans events out to subscribers. Delivery is best effort: a subscriber
// whose buffer is full misses the event rather than blocking the publisher.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a buffered subscriber. The returned cancel func removes
// the subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber with buffer room.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub <- event:
		default:
		}
	}
}
