// Package events provides event types and publishing infrastructure for
// whatif. The API layer streams these over websockets; the CLI prints them.
package events

import (
	"time"
)

// EventType defines the type of event.
type EventType string

const (
	// EventScenarioCreated indicates a scenario was created or branched.
	EventScenarioCreated EventType = "scenario_created"
	// EventScenarioDeleted indicates a scenario was deleted.
	EventScenarioDeleted EventType = "scenario_deleted"
	// EventScenarioMutated indicates a scenario store changed.
	EventScenarioMutated EventType = "scenario_mutated"

	// EventApprovalRequested indicates a mutation is awaiting a decision.
	EventApprovalRequested EventType = "approval_requested"
	// EventApprovalResolved indicates a pending approval was decided.
	EventApprovalResolved EventType = "approval_resolved"

	// EventRequestCompleted indicates a workflow request finished.
	EventRequestCompleted EventType = "request_completed"
	// EventError indicates a request failed.
	EventError EventType = "error"
)

// Event represents a published event, keyed by scenario.
type Event struct {
	Type       EventType `json:"type"`
	ScenarioID string    `json:"scenario_id"`
	Data       any       `json:"data"`
	Time       time.Time `json:"time"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, scenarioID string, data any) Event {
	return Event{
		Type:       eventType,
		ScenarioID: scenarioID,
		Data:       data,
		Time:       time.Now(),
	}
}

// ApprovalUpdate is the payload of approval events.
type ApprovalUpdate struct {
	ApprovalID string `json:"approval_id"`
	Summary    string `json:"summary,omitempty"`
	Decision   string `json:"decision,omitempty"`
}
