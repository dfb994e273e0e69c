package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/randalmurphal/whatif/internal/completion"
	"github.com/randalmurphal/whatif/internal/db"
	"github.com/randalmurphal/whatif/internal/errors"
	"github.com/randalmurphal/whatif/internal/gate"
	"github.com/randalmurphal/whatif/internal/scenario"
	"github.com/randalmurphal/whatif/internal/schema"
)

type testEnv struct {
	engine   *Engine
	store    *scenario.Store
	schemas  *schema.Cache
	gate     *gate.Gate
	scenario string
}

// newTestEnv builds a full stack over an in-memory catalog: a base scenario
// seeded with params(max_demand=15000) and the params table whitelisted.
func newTestEnv(t *testing.T, client completion.Client) *testEnv {
	t.Helper()
	ctx := context.Background()

	catalog := db.NewTestDB(t)
	store, err := scenario.NewStore(catalog, t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	base, err := store.Create(ctx, "Base", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.ExecAdmin(ctx, base.ID, `CREATE TABLE params (key TEXT PRIMARY KEY, value REAL)`); err != nil {
		t.Fatalf("create params: %v", err)
	}
	if err := store.ExecAdmin(ctx, base.ID, `INSERT INTO params VALUES ('max_demand', 15000)`); err != nil {
		t.Fatalf("seed params: %v", err)
	}
	if err := store.AllowTable(ctx, base.ID, "params"); err != nil {
		t.Fatalf("whitelist params: %v", err)
	}

	schemas := schema.NewCache(store)
	store.OnMutation(schemas.Invalidate)
	g := gate.New(catalog, nil)

	return &testEnv{
		engine:   New(store, schemas, client, g, WithTimeouts(time.Second, time.Second)),
		store:    store,
		schemas:  schemas,
		gate:     g,
		scenario: base.ID,
	}
}

func (env *testEnv) maxDemand(t *testing.T) float64 {
	t.Helper()
	v, err := env.store.ReadValue(context.Background(), env.scenario,
		`SELECT value FROM params WHERE key = ?`, "max_demand")
	if err != nil {
		t.Fatalf("read max_demand: %v", err)
	}
	f, err := toFloat(v)
	if err != nil {
		t.Fatalf("max_demand not numeric: %v", err)
	}
	return f
}

const classifyModify = `{"intent":"modify"}`
const planSetTo20000 = `{"table":"params","key_column":"key","row_key":"max_demand","column":"value","change":"set to 20000"}`

func TestModifyFlowEndToEnd(t *testing.T) {
	t.Parallel()

	client := completion.NewScriptedClient(classifyModify, planSetTo20000)
	env := newTestEnv(t, client)
	ctx := context.Background()

	// "set max_demand to 20000" suspends for approval; nothing executes.
	resp, err := env.engine.Handle(ctx, env.scenario, "set max_demand to 20000")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if !resp.RequiresApproval || resp.ApprovalID == "" {
		t.Fatalf("expected approval request, got %+v", resp)
	}
	if got := env.maxDemand(t); got != 15000 {
		t.Fatalf("value changed before approval: %v", got)
	}

	// Approving executes the mutation and reports the diff.
	final, err := env.engine.Resolve(ctx, resp.ApprovalID, gate.DecisionApprove, "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got := env.maxDemand(t); got != 20000 {
		t.Errorf("max_demand = %v, want 20000", got)
	}
	if final.Changes == nil || !final.Changes.Contains("max_demand", "value", 20000.0) {
		t.Errorf("diff missing applied change: %+v", final.Changes)
	}

	// Checkpoint is gone and the scenario is free again.
	if state, _ := env.gate.Checkpoint(ctx, resp.ApprovalID); state != "" {
		t.Errorf("checkpoint not discarded: %q", state)
	}
	pending, _ := env.gate.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("pending approvals after completion: %v", pending)
	}
}

func TestModifyRejectedNothingExecutes(t *testing.T) {
	t.Parallel()

	client := completion.NewScriptedClient(classifyModify, planSetTo20000)
	env := newTestEnv(t, client)
	ctx := context.Background()

	resp, err := env.engine.Handle(ctx, env.scenario, "set max_demand to 20000")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	final, err := env.engine.Resolve(ctx, resp.ApprovalID, gate.DecisionReject, "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !strings.Contains(final.Text, "Rejected") {
		t.Errorf("text = %q", final.Text)
	}
	if got := env.maxDemand(t); got != 15000 {
		t.Errorf("rejected mutation still executed: %v", got)
	}
	n, _ := env.store.Catalog().CountHistory(ctx, env.scenario)
	if n != 0 {
		t.Errorf("history entries after rejection: %d", n)
	}
}

func TestModifyAmendReopensGate(t *testing.T) {
	t.Parallel()

	planSetTo18000 := `{"table":"params","key_column":"key","row_key":"max_demand","column":"value","change":"set to 18000"}`
	client := completion.NewScriptedClient(classifyModify, planSetTo20000, planSetTo18000)
	env := newTestEnv(t, client)
	ctx := context.Background()

	resp, err := env.engine.Handle(ctx, env.scenario, "set max_demand to 20000")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	// Amending never auto-executes: it yields a new pending approval.
	amended, err := env.engine.Resolve(ctx, resp.ApprovalID, gate.DecisionAmend, "set max_demand to 18000")
	if err != nil {
		t.Fatalf("amend Resolve failed: %v", err)
	}
	if !amended.RequiresApproval || amended.ApprovalID == resp.ApprovalID {
		t.Fatalf("expected a fresh approval, got %+v", amended)
	}
	if got := env.maxDemand(t); got != 15000 {
		t.Fatalf("amended change executed without approval: %v", got)
	}

	final, err := env.engine.Resolve(ctx, amended.ApprovalID, gate.DecisionApprove, "")
	if err != nil {
		t.Fatalf("approve Resolve failed: %v", err)
	}
	if got := env.maxDemand(t); got != 18000 {
		t.Errorf("max_demand = %v, want 18000", got)
	}
	if final.Changes == nil || !final.Changes.Contains("max_demand", "value", 18000.0) {
		t.Errorf("diff missing amended change: %+v", final.Changes)
	}
}

func TestSecondRequestWhileSuspendedIsBusy(t *testing.T) {
	t.Parallel()

	client := completion.NewScriptedClient(
		classifyModify, planSetTo20000,
		classifyModify, planSetTo20000)
	env := newTestEnv(t, client)
	ctx := context.Background()

	if _, err := env.engine.Handle(ctx, env.scenario, "set max_demand to 20000"); err != nil {
		t.Fatalf("first Handle failed: %v", err)
	}
	_, err := env.engine.Handle(ctx, env.scenario, "set max_demand to 25000")
	if !errors.IsCode(err, errors.CodeScenarioBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
}

func TestResumeAfterRestart(t *testing.T) {
	t.Parallel()

	client := completion.NewScriptedClient(classifyModify, planSetTo20000)
	env := newTestEnv(t, client)
	ctx := context.Background()

	resp, err := env.engine.Handle(ctx, env.scenario, "set max_demand to 20000")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	// A fresh engine over the same durable state resumes from the approval
	// ID alone; no in-memory workflow context survives.
	restarted := New(env.store, env.schemas, completion.NewScriptedClient(), env.gate,
		WithTimeouts(time.Second, time.Second))
	final, err := restarted.Resolve(ctx, resp.ApprovalID, gate.DecisionApprove, "")
	if err != nil {
		t.Fatalf("Resolve after restart failed: %v", err)
	}
	if got := env.maxDemand(t); got != 20000 {
		t.Errorf("max_demand = %v, want 20000", got)
	}
	if final.Changes == nil {
		t.Error("resumed response missing diff")
	}
}

func TestRelativeChangeCompounds(t *testing.T) {
	t.Parallel()

	planIncrease := `{"table":"params","key_column":"key","row_key":"max_demand","column":"value","change":"increase by 10%"}`
	client := completion.NewScriptedClient(
		classifyModify, planIncrease,
		classifyModify, planIncrease)
	env := newTestEnv(t, client)
	ctx := context.Background()

	for _, want := range []float64{16500, 18150} {
		resp, err := env.engine.Handle(ctx, env.scenario, "increase max_demand by 10%")
		if err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
		if _, err := env.engine.Resolve(ctx, resp.ApprovalID, gate.DecisionApprove, ""); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if got := env.maxDemand(t); got != want {
			t.Fatalf("max_demand = %v, want %v", got, want)
		}
	}
}

func TestApprovalExecutesExactlyTheShownValue(t *testing.T) {
	t.Parallel()

	planIncrease := `{"table":"params","key_column":"key","row_key":"max_demand","column":"value","change":"increase by 10%"}`
	client := completion.NewScriptedClient(classifyModify, planIncrease)
	env := newTestEnv(t, client)
	ctx := context.Background()

	// The summary pins 15000 -> 16500.
	resp, err := env.engine.Handle(ctx, env.scenario, "increase max_demand by 10%")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	// The value moves underneath the suspension. Approving must not resolve
	// the 10% against the new value; the stale proposal fails instead.
	if err := env.store.ExecAdmin(ctx, env.scenario,
		`UPDATE params SET value = 20000 WHERE key = 'max_demand'`); err != nil {
		t.Fatalf("update during suspension: %v", err)
	}

	_, err = env.engine.Resolve(ctx, resp.ApprovalID, gate.DecisionApprove, "")
	if !errors.IsCode(err, errors.CodeExecution) {
		t.Fatalf("stale approval: got %v, want execution failure", err)
	}
	if got := env.maxDemand(t); got != 20000 {
		t.Errorf("max_demand = %v; the stale approval must not execute", got)
	}
}

func TestApprovalRejectsMutationSideEffects(t *testing.T) {
	t.Parallel()

	client := completion.NewScriptedClient(classifyModify, planSetTo20000)
	env := newTestEnv(t, client)
	ctx := context.Background()

	// A trigger widens the mutation beyond the single approved cell.
	if err := env.store.ExecAdmin(ctx, env.scenario,
		`INSERT INTO params VALUES ('min_supply', 2000)`); err != nil {
		t.Fatalf("seed min_supply: %v", err)
	}
	if err := env.store.ExecAdmin(ctx, env.scenario, `
		CREATE TRIGGER widen AFTER UPDATE ON params
		BEGIN
			UPDATE params SET value = value + 1 WHERE key = 'min_supply';
		END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	resp, err := env.engine.Handle(ctx, env.scenario, "set max_demand to 20000")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	_, err = env.engine.Resolve(ctx, resp.ApprovalID, gate.DecisionApprove, "")
	if !errors.IsCode(err, errors.CodeExecution) {
		t.Errorf("side-effecting mutation: got %v, want execution failure", err)
	}
}

func TestReadPath(t *testing.T) {
	t.Parallel()

	client := completion.NewScriptedClient(
		`{"intent":"read"}`,
		`{"sql":"SELECT key, value FROM params WHERE key = 'max_demand'"}`)
	env := newTestEnv(t, client)

	resp, err := env.engine.Handle(context.Background(), env.scenario, "what is max_demand?")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if resp.RequiresApproval {
		t.Error("read path must not require approval")
	}
	if len(resp.Rows) != 1 || len(resp.Columns) != 2 {
		t.Errorf("unexpected result: cols=%v rows=%v", resp.Columns, resp.Rows)
	}
}

func TestComparePath(t *testing.T) {
	t.Parallel()

	client := completion.NewScriptedClient(`{"intent":"compare","table":"params"}`)
	env := newTestEnv(t, client)
	ctx := context.Background()

	branch, err := env.store.Branch(ctx, "B", "", env.scenario)
	if err != nil {
		t.Fatalf("Branch failed: %v", err)
	}
	if err := env.store.ExecAdmin(ctx, branch.ID,
		`UPDATE params SET value = 30000 WHERE key = 'max_demand'`); err != nil {
		t.Fatalf("update branch: %v", err)
	}

	resp, err := env.engine.Handle(ctx, env.scenario, "compare params across scenarios")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(resp.Rows) != 2 {
		t.Fatalf("rows = %v, want one per scenario", resp.Rows)
	}

	values := map[string]any{}
	for _, row := range resp.Rows {
		values[row[0].(string)] = row[3]
	}
	baseV, _ := toFloat(values["Base"])
	branchV, _ := toFloat(values["B"])
	if baseV != 15000 || branchV != 30000 {
		t.Errorf("compare values = %v", values)
	}
}

func TestAmbiguousClassificationAsksForClarification(t *testing.T) {
	t.Parallel()

	client := completion.NewScriptedClient(`{"intent":"unknown","clarification":"Do you want to read or change data?"}`)
	env := newTestEnv(t, client)

	resp, err := env.engine.Handle(context.Background(), env.scenario, "hmm do something")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if resp.Intent != IntentUnknown || resp.Text != "Do you want to read or change data?" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestGarbledClassificationAsksForClarification(t *testing.T) {
	t.Parallel()

	client := completion.NewScriptedClient(`certainly! here's what I think`)
	env := newTestEnv(t, client)

	resp, err := env.engine.Handle(context.Background(), env.scenario, "do the thing")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if resp.Intent != IntentUnknown {
		t.Errorf("garbled classification should clarify, got %+v", resp)
	}
}

func TestWorkflowStateRoundTrip(t *testing.T) {
	t.Parallel()

	ws := newWorkflowState("w1", "s1", "set max_demand to 20000")
	ws.Intent = IntentModify
	if err := ws.transition(StatePreparing); err != nil {
		t.Fatal(err)
	}
	if err := ws.transition(StateAwaitingApproval); err != nil {
		t.Fatal(err)
	}

	state, err := ws.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	got, err := UnmarshalState(state)
	if err != nil {
		t.Fatalf("UnmarshalState failed: %v", err)
	}
	if got.ID != "w1" || got.State != StateAwaitingApproval || got.Intent != IntentModify {
		t.Errorf("round trip lost fields: %+v", got)
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	t.Parallel()

	ws := newWorkflowState("w1", "s1", "x")
	if err := ws.transition(StateExecuting); err == nil {
		t.Error("classifying -> executing should be illegal")
	}
	if ws.State != StateClassifying {
		t.Errorf("failed transition moved state to %s", ws.State)
	}
}
