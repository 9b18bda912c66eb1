package events

import "time"

// Event types published on the bus.
const (
	AnnotationUpdated    = "ANNOTATION_UPDATED"
	ParticipantJoined    = "PARTICIPANT_JOINED"
	ParticipantLeft      = "PARTICIPANT_LEFT"
	PersistenceAlert     = "PERSISTENCE_ALERT"
	PersistenceRecovered = "PERSISTENCE_RECOVERED"
	DocumentImported     = "DOCUMENT_IMPORTED"
)

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the unique code for this event (e.g., "PERSISTENCE_ALERT").
	EventType() string

	Payload() map[string]interface{}

	Timestamp() time.Time
}

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func New(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{Type: eventType, Data: data, OccurredAt: time.Now().UTC()}
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}
