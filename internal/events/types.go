// Package events provides a pub/sub event bus for the control plane.
// Policy lifecycle changes and match decisions flow through this hub so
// reconcilers and the UI can react without polling the store.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	// Policy lifecycle events
	EventPolicyCreated EventType = "policy.created"
	EventPolicyUpdated EventType = "policy.updated"
	EventPolicyRemoved EventType = "policy.removed"
	EventPolicyExpired EventType = "policy.expired"

	// Match decisions
	EventPolicyMatched EventType = "policy.matched"
)

// Event is the core message passed through the event bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // Component that emitted: "engine", "reaper", etc.
	Data      any       `json:"data"`   // Type-specific payload
}

// PolicyChangeData is the payload for policy lifecycle events.
type PolicyChangeData struct {
	PID    string `json:"pid"`
	Type   string `json:"type"`
	Target string `json:"target"`
	Action string `json:"action"`
}

// PolicyMatchData is the payload for EventPolicyMatched.
type PolicyMatchData struct {
	PID       string `json:"pid"`
	AlarmKind string `json:"alarm_kind"`
	Device    string `json:"device,omitempty"`
	Candidates int   `json:"candidates"` // How many rules matched before conflict resolution
}
