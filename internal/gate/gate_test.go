package gate

import (
	"context"
	"testing"
	"time"

	"github.com/randalmurphal/whatif/internal/db"
	"github.com/randalmurphal/whatif/internal/errors"
	"github.com/randalmurphal/whatif/internal/events"
)

func seedScenario(t *testing.T, catalog *db.DB, id string) {
	t.Helper()
	err := catalog.InsertScenario(context.Background(), &db.Scenario{
		ID: id, Name: id, StorePath: "/tmp/" + id + ".db", IsBase: true,
	})
	if err != nil {
		t.Fatalf("seed scenario: %v", err)
	}
}

func TestRequestAndResolve(t *testing.T) {
	t.Parallel()

	catalog := db.NewTestDB(t)
	seedScenario(t, catalog, "s1")
	pub := events.NewMemoryPublisher()
	defer pub.Close()
	sub := pub.Subscribe(events.GlobalScenarioID)

	g := New(catalog, pub)
	ctx := context.Background()

	a, err := g.Request(ctx, "s1", "modify", "UPDATE ...", "raise max_demand to 20000", "state-yaml")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	select {
	case ev := <-sub:
		if ev.Type != events.EventApprovalRequested {
			t.Errorf("event type = %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no approval event")
	}

	resolved, state, err := g.Resolve(ctx, a.ID, DecisionApprove, "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if state != "state-yaml" {
		t.Errorf("checkpoint state = %q", state)
	}
	if resolved.Decision != "approve" || !resolved.Resolved {
		t.Errorf("unexpected approval after resolve: %+v", resolved)
	}
}

func TestSecondRequestIsBusy(t *testing.T) {
	t.Parallel()

	catalog := db.NewTestDB(t)
	seedScenario(t, catalog, "s1")
	g := New(catalog, nil)
	ctx := context.Background()

	a, err := g.Request(ctx, "s1", "modify", "stmt-1", "first", "state-1")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	_, err = g.Request(ctx, "s1", "modify", "stmt-2", "second", "state-2")
	if !errors.IsCode(err, errors.CodeScenarioBusy) {
		t.Fatalf("expected busy, got %v", err)
	}

	// Resolution frees the scenario for new requests.
	if _, _, err := g.Resolve(ctx, a.ID, DecisionReject, ""); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if _, err := g.Request(ctx, "s1", "modify", "stmt-3", "third", "state-3"); err != nil {
		t.Errorf("request after resolution failed: %v", err)
	}
}

func TestResolveExactlyOnce(t *testing.T) {
	t.Parallel()

	catalog := db.NewTestDB(t)
	seedScenario(t, catalog, "s1")
	g := New(catalog, nil)
	ctx := context.Background()

	a, _ := g.Request(ctx, "s1", "modify", "stmt", "summary", "state")
	if _, _, err := g.Resolve(ctx, a.ID, DecisionApprove, ""); err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}
	if _, _, err := g.Resolve(ctx, a.ID, DecisionReject, ""); !errors.IsCode(err, errors.CodeApprovalResolved) {
		t.Errorf("second Resolve: got %v, want already-resolved", err)
	}
}

func TestResolveValidation(t *testing.T) {
	t.Parallel()

	catalog := db.NewTestDB(t)
	seedScenario(t, catalog, "s1")
	g := New(catalog, nil)
	ctx := context.Background()

	a, _ := g.Request(ctx, "s1", "modify", "stmt", "summary", "state")

	if _, _, err := g.Resolve(ctx, a.ID, DecisionAmend, ""); !errors.IsCode(err, errors.CodeValidation) {
		t.Errorf("amend without text: got %v", err)
	}
	if _, _, err := g.Resolve(ctx, a.ID, DecisionApprove, "extra"); !errors.IsCode(err, errors.CodeValidation) {
		t.Errorf("approve with text: got %v", err)
	}
	if _, _, err := g.Resolve(ctx, a.ID, Decision("maybe"), ""); !errors.IsCode(err, errors.CodeValidation) {
		t.Errorf("unknown decision: got %v", err)
	}
	if _, _, err := g.Resolve(ctx, "missing", DecisionApprove, ""); !errors.IsCode(err, errors.CodeApprovalNotFound) {
		t.Errorf("missing approval: got %v", err)
	}
}

func TestRequestWritesAtomically(t *testing.T) {
	t.Parallel()

	// A failed checkpoint write must not leave an open approval behind:
	// that would hold the scenario Busy with nothing to resume from.
	catalog := db.NewTestDB(t)
	seedScenario(t, catalog, "s1")
	g := New(catalog, nil)
	ctx := context.Background()

	if _, err := catalog.Exec(`DROP TABLE workflow_checkpoints`); err != nil {
		t.Fatalf("drop checkpoints: %v", err)
	}
	if _, err := g.Request(ctx, "s1", "modify", "stmt", "summary", "state"); err == nil {
		t.Fatal("Request succeeded without a checkpoint table")
	}

	open, err := catalog.OpenApproval(ctx, "s1")
	if err != nil {
		t.Fatalf("OpenApproval failed: %v", err)
	}
	if open != nil {
		t.Errorf("approval row survived the failed checkpoint write: %+v", open)
	}
	pending, err := g.Pending(ctx)
	if err != nil || len(pending) != 0 {
		t.Errorf("pending after failed request = %v, %v", pending, err)
	}
}

func TestResumeFromFreshGateInstance(t *testing.T) {
	t.Parallel()

	// A new gate over the same catalog sees the suspension: the durable
	// record alone is enough to resume after a restart.
	catalog := db.NewTestDB(t)
	seedScenario(t, catalog, "s1")
	ctx := context.Background()

	first := New(catalog, nil)
	a, err := first.Request(ctx, "s1", "modify", "stmt", "summary", "serialized-workflow")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	second := New(catalog, nil)
	pending, err := second.Pending(ctx)
	if err != nil || len(pending) != 1 || pending[0].ID != a.ID {
		t.Fatalf("pending after restart = %v, %v", pending, err)
	}

	resolved, state, err := second.Resolve(ctx, a.ID, DecisionAmend, "set it to 18000 instead")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if state != "serialized-workflow" {
		t.Errorf("checkpoint state = %q", state)
	}
	if resolved.AmendedText != "set it to 18000 instead" {
		t.Errorf("amended text = %q", resolved.AmendedText)
	}

	if err := second.Discard(ctx, a.ID); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if state, _ := second.Checkpoint(ctx, a.ID); state != "" {
		t.Errorf("checkpoint survived discard: %q", state)
	}
}
