package engine

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/whatif/internal/errors"
	"github.com/randalmurphal/whatif/internal/sqlgen"
)

// Intent is the classified purpose of a request.
type Intent string

const (
	IntentRead     Intent = "read"
	IntentModify   Intent = "modify"
	IntentCompare  Intent = "compare"
	IntentFileEdit Intent = "file_edit"
	IntentUnknown  Intent = "unknown"
)

// State is one node of the workflow state machine.
type State string

const (
	StateClassifying          State = "classifying"
	StateReadPath             State = "read_path"
	StateComparePath          State = "compare_path"
	StatePreparing            State = "preparing"
	StateAwaitingApproval     State = "awaiting_approval"
	StateExecuting            State = "executing"
	StateSyncingParameters    State = "syncing_parameters"
	StateTriggeringDownstream State = "triggering_downstream"
	StateFileEditPath         State = "file_edit"
	StateResponding           State = "responding"
	StateTerminal             State = "terminal"
)

// transitions is the explicit transition table. Any move not listed here is
// a bug, not a recoverable condition.
var transitions = map[State][]State{
	StateClassifying:          {StateReadPath, StateComparePath, StatePreparing, StateFileEditPath, StateResponding},
	StateReadPath:             {StateResponding},
	StateComparePath:          {StateResponding},
	StatePreparing:            {StateAwaitingApproval, StateResponding},
	StateAwaitingApproval:     {StateExecuting, StatePreparing, StateResponding},
	StateExecuting:            {StateSyncingParameters},
	StateSyncingParameters:    {StateTriggeringDownstream, StateResponding},
	StateTriggeringDownstream: {StateResponding},
	StateFileEditPath:         {StateResponding},
	StateResponding:           {StateTerminal},
}

// WorkflowState is the serializable state of one request's workflow. It is
// checkpointed as YAML at every approval boundary, and carries everything
// needed to resume: no in-memory context survives a restart, this struct
// does.
type WorkflowState struct {
	ID         string               `yaml:"id"`
	ScenarioID string               `yaml:"scenario_id"`
	Request    string               `yaml:"request"`
	Intent     Intent               `yaml:"intent"`
	State      State                `yaml:"state"`
	Plan       *sqlgen.MutationPlan `yaml:"plan,omitempty"`
	// CurrentValue and NewValue pin the change the human saw: the value the
	// plan was resolved against and the absolute value approval executes.
	CurrentValue float64 `yaml:"current_value,omitempty"`
	NewValue     float64 `yaml:"new_value,omitempty"`
	ApprovalID   string  `yaml:"approval_id,omitempty"`
	Error      string               `yaml:"error,omitempty"`
	CreatedAt  time.Time            `yaml:"created_at"`
}

func newWorkflowState(id, scenarioID, request string) *WorkflowState {
	return &WorkflowState{
		ID:         id,
		ScenarioID: scenarioID,
		Request:    request,
		State:      StateClassifying,
		CreatedAt:  time.Now().UTC(),
	}
}

// transition moves the workflow to next, failing on any move the transition
// table does not allow.
func (ws *WorkflowState) transition(next State) error {
	for _, allowed := range transitions[ws.State] {
		if allowed == next {
			ws.State = next
			return nil
		}
	}
	return fmt.Errorf("illegal workflow transition %s -> %s", ws.State, next)
}

// Marshal serializes the workflow state for checkpointing.
func (ws *WorkflowState) Marshal() (string, error) {
	data, err := yaml.Marshal(ws)
	if err != nil {
		return "", fmt.Errorf("marshal workflow state: %w", err)
	}
	return string(data), nil
}

// UnmarshalState deserializes a checkpointed workflow state.
func UnmarshalState(s string) (*WorkflowState, error) {
	var ws WorkflowState
	if err := yaml.Unmarshal([]byte(s), &ws); err != nil {
		return nil, errors.ErrExecution(fmt.Sprintf("corrupt workflow checkpoint: %v", err))
	}
	return &ws, nil
}
