package storage

import "time"

// EventType represents the type of storage event emitted.
type EventType string

// Storage event type constants.
const (
	EventProjectCreated EventType = "project.created"

	EventTestCaseCreated EventType = "test_case.created"
	EventTestCaseUpdated EventType = "test_case.updated"

	EventFileCreated EventType = "test_case_file.created"

	EventRunCreated EventType = "test_run.created"
)

// Event is one committed write. ProjectID scopes it for live project views;
// Data is the record as stored.
type Event struct {
	Type      EventType `json:"type"`
	ProjectID string    `json:"projectId,omitempty"`
	EntityID  string    `json:"entityId,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer reacts to storage events.
type Observer interface {
	HandleStorageEvent(Event)
}

// ObserverFunc is a helper to turn a function into an Observer.
type ObserverFunc func(Event)

// HandleStorageEvent implements the Observer interface.
func (f ObserverFunc) HandleStorageEvent(e Event) {
	f(e)
}

// event stamps a change to entityID, a record of projectID, with the store clock.
func (s *Store) event(eventType EventType, projectID, entityID string, data any) Event {
	return Event{
		Type:      eventType,
		ProjectID: projectID,
		EntityID:  entityID,
		Data:      data,
		Timestamp: s.now(),
	}
}
