package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/randalmurphal/whatif/internal/db"
	"github.com/randalmurphal/whatif/internal/errors"
	"github.com/randalmurphal/whatif/internal/events"
	"github.com/randalmurphal/whatif/internal/gate"
	"github.com/randalmurphal/whatif/internal/params"
	"github.com/randalmurphal/whatif/internal/scenario"
	"github.com/randalmurphal/whatif/internal/sqlgen"
)

// Resolve applies a human decision to a pending approval and resumes the
// suspended workflow from its checkpoint. The approval ID alone is enough:
// everything else is reconstructed from the durable state, so Resolve works
// identically after a process restart.
func (e *Engine) Resolve(ctx context.Context, approvalID string, decision gate.Decision, amendedText string) (*Response, error) {
	a, state, err := e.gate.Resolve(ctx, approvalID, decision, amendedText)
	if err != nil {
		return nil, err
	}

	ws, err := UnmarshalState(state)
	if err != nil {
		return nil, err
	}
	ws.ApprovalID = approvalID

	switch decision {
	case gate.DecisionReject:
		if err := e.gate.Discard(ctx, approvalID); err != nil {
			return nil, err
		}
		if err := ws.transition(StateResponding); err != nil {
			return nil, err
		}
		_ = ws.transition(StateTerminal)
		return &Response{
			Text:   "Rejected; nothing was executed.",
			Intent: IntentModify,
		}, nil

	case gate.DecisionAmend:
		// Amending regenerates from the replacement text and reopens the
		// gate. The amended change is never executed without its own
		// approval.
		if err := e.gate.Discard(ctx, approvalID); err != nil {
			return nil, err
		}
		info, err := e.schemas.Get(ctx, ws.ScenarioID)
		if err != nil {
			return nil, err
		}
		amended := newWorkflowState(uuid.NewString(), ws.ScenarioID, amendedText)
		amended.Intent = IntentModify
		return e.modifyPath(ctx, amended, info)

	default:
		return e.execute(ctx, ws, a.ID)
	}
}

// execute runs an approved mutation exactly as it was shown: the statement
// built from the checkpointed absolute value, with before/after snapshots,
// diff verification, sync, and the downstream script.
func (e *Engine) execute(ctx context.Context, ws *WorkflowState, approvalID string) (*Response, error) {
	if err := ws.transition(StateExecuting); err != nil {
		return nil, err
	}
	if ws.Plan == nil {
		return nil, errors.ErrExecution("checkpoint carries no mutation plan")
	}
	plan := ws.Plan

	// The summary shown at request time pinned current -> new. If the value
	// moved while the workflow was suspended, that summary is stale; fail
	// rather than execute a change nobody saw.
	query, args := sqlgen.ReadCurrentStatement(plan)
	raw, err := e.store.ReadValue(ctx, ws.ScenarioID, query, args...)
	if err != nil {
		return nil, err
	}
	current, err := toFloat(raw)
	if err != nil {
		return nil, errors.ErrExecution(fmt.Sprintf(
			"%s.%s holds non-numeric value %v", plan.Table, plan.Column, raw))
	}
	if current != ws.CurrentValue {
		return nil, errors.ErrExecution(fmt.Sprintf(
			"%s.%s changed from %v to %v while awaiting approval; request the change again",
			plan.Table, plan.Column, ws.CurrentValue, current))
	}
	newValue := ws.NewValue

	before, err := e.store.Snapshot(ctx, ws.ScenarioID, plan.Table)
	if err != nil {
		return nil, err
	}

	stmt := sqlgen.BuildStatement(plan, newValue)
	var after *params.Snapshot
	res, err := e.store.Mutate(ctx, ws.ScenarioID, stmt, func(q scenario.Querier) error {
		// Runs inside the mutation's write lock: the after snapshot can
		// observe no interleaved change.
		var snapErr error
		after, snapErr = params.Take(ctx, q, plan.Table)
		return snapErr
	})
	if err != nil {
		return nil, err
	}

	if err := ws.transition(StateSyncingParameters); err != nil {
		return nil, err
	}
	diff, err := params.Compare(before, after)
	if err != nil {
		return nil, err
	}
	expected := []params.Change{{RowKey: plan.RowKey, Column: plan.Column, After: newValue}}
	if err := params.ValidateApplied(expected, diff); err != nil {
		return nil, err
	}

	e.store.AppendHistory(ctx, &db.ExecutionHistoryEntry{
		ScenarioID:  ws.ScenarioID,
		CommandText: ws.Request,
		Stdout:      diff.Summary(),
		DurationMs:  res.Duration.Milliseconds(),
	})

	var artifacts []string
	var downstreamNote string
	if e.run != nil && e.script != "" {
		if err := ws.transition(StateTriggeringDownstream); err != nil {
			return nil, err
		}
		scn, err := e.store.Get(ctx, ws.ScenarioID)
		if err != nil {
			return nil, err
		}
		runRes, runErr := e.run.Run(ctx, scn.StorePath, e.script)
		if runRes != nil {
			artifacts = runRes.ProducedFiles
			e.store.AppendHistory(ctx, &db.ExecutionHistoryEntry{
				ScenarioID:  ws.ScenarioID,
				CommandText: e.script,
				Stdout:      runRes.Stdout,
				Stderr:      runRes.Stderr,
				DurationMs:  runRes.Duration.Milliseconds(),
			})
		}
		if runErr != nil {
			// The mutation stands; the downstream failure is reported, not
			// rolled into it.
			slog.Warn("downstream script failed", "scenario", ws.ScenarioID, "error", runErr)
			downstreamNote = fmt.Sprintf("\nDownstream script failed: %v", runErr)
		}
	}

	if err := e.gate.Discard(ctx, approvalID); err != nil {
		return nil, err
	}
	if err := ws.transition(StateResponding); err != nil {
		return nil, err
	}
	_ = ws.transition(StateTerminal)

	e.publish(events.NewEvent(events.EventRequestCompleted, ws.ScenarioID, nil))

	return &Response{
		Text:      fmt.Sprintf("Applied.\n%s%s", diff.Summary(), downstreamNote),
		Intent:    IntentModify,
		Changes:   diff,
		Artifacts: artifacts,
	}, nil
}
