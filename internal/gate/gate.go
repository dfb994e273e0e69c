// Package gate implements the durable human approval gate. A mutating
// workflow suspends here: the proposed change and the serialized workflow
// state are persisted, and nothing executes until a human records a
// decision. Suspension survives restarts; a decision alone is enough to
// resume, because the checkpoint carries the rest.
package gate

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/randalmurphal/whatif/internal/db"
	"github.com/randalmurphal/whatif/internal/errors"
	"github.com/randalmurphal/whatif/internal/events"
)

// Decision is a recorded human decision.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionAmend   Decision = "amend"
)

// Gate persists pending approvals and their workflow checkpoints.
type Gate struct {
	catalog *db.DB
	pub     events.Publisher
}

// New creates a gate over the catalog database. pub may be nil.
func New(catalog *db.DB, pub events.Publisher) *Gate {
	return &Gate{catalog: catalog, pub: pub}
}

// Request suspends a mutating workflow for approval. The scenario must have
// no open approval; state is the serialized workflow checkpoint resumption
// starts from. The approval row and the checkpoint are written before
// Request returns, so a crash after this point loses nothing.
func (g *Gate) Request(ctx context.Context, scenarioID, intent, statement, summary, state string) (*db.PendingApproval, error) {
	open, err := g.catalog.OpenApproval(ctx, scenarioID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, errors.ErrScenarioBusy(scenarioID, open.ID)
	}

	a := &db.PendingApproval{
		ID:         uuid.NewString(),
		ScenarioID: scenarioID,
		Intent:     intent,
		Statement:  statement,
		Summary:    summary,
	}
	// One transaction for the approval and its checkpoint: a failure on
	// either write leaves the scenario free, never Busy with no way to
	// resume.
	if err := g.catalog.InsertApprovalWithCheckpoint(ctx, a, state); err != nil {
		// The partial unique index catches a concurrent Request that won
		// the race between our OpenApproval check and this insert.
		if open, openErr := g.catalog.OpenApproval(ctx, scenarioID); openErr == nil && open != nil {
			return nil, errors.ErrScenarioBusy(scenarioID, open.ID)
		}
		return nil, err
	}

	g.publish(events.NewEvent(events.EventApprovalRequested, scenarioID,
		events.ApprovalUpdate{ApprovalID: a.ID, Summary: summary}))
	slog.Info("approval requested", "approval", a.ID, "scenario", scenarioID)
	return a, nil
}

// Get returns an approval by ID, failing with NotFound when absent.
func (g *Gate) Get(ctx context.Context, approvalID string) (*db.PendingApproval, error) {
	a, err := g.catalog.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, errors.ErrApprovalNotFound(approvalID)
	}
	return a, nil
}

// Pending returns all unresolved approvals, oldest first.
func (g *Gate) Pending(ctx context.Context) ([]db.PendingApproval, error) {
	return g.catalog.ListOpenApprovals(ctx)
}

// Resolve records a decision on an open approval and returns the approval
// together with its checkpoint state. Resolution is exactly-once: a second
// decision on the same approval fails, whoever it comes from.
func (g *Gate) Resolve(ctx context.Context, approvalID string, decision Decision, amendedText string) (*db.PendingApproval, string, error) {
	switch decision {
	case DecisionApprove, DecisionReject:
		if amendedText != "" {
			return nil, "", errors.ErrValidation("amended text is only valid with an amend decision")
		}
	case DecisionAmend:
		if amendedText == "" {
			return nil, "", errors.ErrValidation("amend decision requires replacement text")
		}
	default:
		return nil, "", errors.ErrValidation("decision must be approve, reject, or amend")
	}

	a, err := g.Get(ctx, approvalID)
	if err != nil {
		return nil, "", err
	}
	if a.Resolved {
		return nil, "", errors.ErrApprovalResolved(approvalID)
	}

	ok, err := g.catalog.ResolveApproval(ctx, approvalID, string(decision), amendedText)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		// Lost a race with another resolver.
		return nil, "", errors.ErrApprovalResolved(approvalID)
	}

	state, err := g.catalog.GetCheckpoint(ctx, approvalID)
	if err != nil {
		return nil, "", err
	}

	a.Resolved = true
	a.Decision = string(decision)
	a.AmendedText = amendedText

	g.publish(events.NewEvent(events.EventApprovalResolved, a.ScenarioID,
		events.ApprovalUpdate{ApprovalID: approvalID, Decision: string(decision)}))
	slog.Info("approval resolved", "approval", approvalID, "decision", decision)
	return a, state, nil
}

// Checkpoint returns the serialized workflow state for an approval, or ""
// when none exists.
func (g *Gate) Checkpoint(ctx context.Context, approvalID string) (string, error) {
	return g.catalog.GetCheckpoint(ctx, approvalID)
}

// Discard removes the checkpoint once the resumed workflow reaches a
// terminal state.
func (g *Gate) Discard(ctx context.Context, approvalID string) error {
	return g.catalog.DeleteCheckpoint(ctx, approvalID)
}

func (g *Gate) publish(ev events.Event) {
	if g.pub != nil {
		g.pub.Publish(ev)
	}
}
