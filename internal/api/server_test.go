package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/randalmurphal/whatif/internal/completion"
	"github.com/randalmurphal/whatif/internal/db"
	"github.com/randalmurphal/whatif/internal/engine"
	"github.com/randalmurphal/whatif/internal/events"
	"github.com/randalmurphal/whatif/internal/gate"
	"github.com/randalmurphal/whatif/internal/scenario"
	"github.com/randalmurphal/whatif/internal/schema"
)

type apiEnv struct {
	srv      *httptest.Server
	store    *scenario.Store
	pub      *events.MemoryPublisher
	scenario string
}

func newAPIEnv(t *testing.T, responses ...string) *apiEnv {
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
		t.Fatalf("seed: %v", err)
	}
	if err := store.ExecAdmin(ctx, base.ID, `INSERT INTO params VALUES ('max_demand', 15000)`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.AllowTable(ctx, base.ID, "params"); err != nil {
		t.Fatalf("whitelist: %v", err)
	}

	pub := events.NewMemoryPublisher()
	t.Cleanup(pub.Close)

	schemas := schema.NewCache(store)
	store.OnMutation(schemas.Invalidate)
	g := gate.New(catalog, pub)
	client := completion.NewScriptedClient(responses...)
	eng := engine.New(store, schemas, client, g,
		engine.WithTimeouts(time.Second, time.Second),
		engine.WithPublisher(pub))

	server := NewServer(store, eng, g, pub, nil)
	srv := httptest.NewServer(server.Routes())
	t.Cleanup(srv.Close)

	return &apiEnv{srv: srv, store: store, pub: pub, scenario: base.ID}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestScenarioEndpoints(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)

	// Create a branch of the seeded base.
	resp := postJSON(t, env.srv.URL+"/api/scenarios", map[string]string{
		"name": "B", "parent_id": env.scenario,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created db.Scenario
	decodeBody(t, resp, &created)
	if created.ParentID != env.scenario {
		t.Errorf("parent = %q", created.ParentID)
	}

	// List shows both.
	resp, err := http.Get(env.srv.URL + "/api/scenarios")
	if err != nil {
		t.Fatal(err)
	}
	var list struct {
		Scenarios []db.Scenario `json:"scenarios"`
	}
	decodeBody(t, resp, &list)
	if len(list.Scenarios) != 2 {
		t.Errorf("scenarios = %d, want 2", len(list.Scenarios))
	}

	// Deleting the base while the branch exists maps to 409.
	req, _ := http.NewRequest(http.MethodDelete, env.srv.URL+"/api/scenarios/"+env.scenario, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("delete-with-branches status = %d, want 409", resp.StatusCode)
	}

	// Deleting the branch works.
	req, _ = http.NewRequest(http.MethodDelete, env.srv.URL+"/api/scenarios/"+created.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", resp.StatusCode)
	}

	// Unknown scenario maps to 404.
	req, _ = http.NewRequest(http.MethodDelete, env.srv.URL+"/api/scenarios/missing", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("delete-missing status = %d, want 404", resp.StatusCode)
	}
}

func TestRequestAndApprovalFlow(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t,
		`{"intent":"modify"}`,
		`{"table":"params","key_column":"key","row_key":"max_demand","column":"value","change":"set to 20000"}`)

	resp := postJSON(t, env.srv.URL+"/api/requests", map[string]string{
		"scenario_id": env.scenario, "text": "set max_demand to 20000",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("request status = %d", resp.StatusCode)
	}
	var reqResp engine.Response
	decodeBody(t, resp, &reqResp)
	if !reqResp.RequiresApproval || reqResp.ApprovalID == "" {
		t.Fatalf("expected approval, got %+v", reqResp)
	}

	// The pending approval shows up in the listing.
	listResp, err := http.Get(env.srv.URL + "/api/approvals")
	if err != nil {
		t.Fatal(err)
	}
	var pending struct {
		Approvals []db.PendingApproval `json:"approvals"`
	}
	decodeBody(t, listResp, &pending)
	if len(pending.Approvals) != 1 || pending.Approvals[0].ID != reqResp.ApprovalID {
		t.Fatalf("pending = %+v", pending.Approvals)
	}

	// Approving executes and returns the diff.
	resolveResp := postJSON(t, env.srv.URL+"/api/approvals/"+reqResp.ApprovalID+"/resolve",
		map[string]string{"decision": "approve"})
	if resolveResp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status = %d", resolveResp.StatusCode)
	}
	var final engine.Response
	decodeBody(t, resolveResp, &final)
	if final.Changes == nil || !strings.Contains(final.Text, "Applied") {
		t.Errorf("final = %+v", final)
	}

	// Second resolve maps to 409.
	again := postJSON(t, env.srv.URL+"/api/approvals/"+reqResp.ApprovalID+"/resolve",
		map[string]string{"decision": "reject"})
	_ = again.Body.Close()
	if again.StatusCode != http.StatusConflict {
		t.Errorf("double resolve status = %d, want 409", again.StatusCode)
	}

	// History recorded the executed request.
	histResp, err := http.Get(env.srv.URL + "/api/history?scenario_id=" + env.scenario)
	if err != nil {
		t.Fatal(err)
	}
	var hist struct {
		History []db.ExecutionHistoryEntry `json:"history"`
	}
	decodeBody(t, histResp, &hist)
	if len(hist.History) != 1 {
		t.Errorf("history entries = %d, want 1", len(hist.History))
	}
}

func TestRequestValidation(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)

	resp := postJSON(t, env.srv.URL+"/api/requests", map[string]string{
		"scenario_id": env.scenario,
	})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty text status = %d, want 400", resp.StatusCode)
	}
}

func TestWebsocketStreamsEvents(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer func() { _ = conn.Close() }()

	// Give the handler a moment to register its subscription.
	time.Sleep(100 * time.Millisecond)
	env.pub.Publish(events.NewEvent(events.EventScenarioMutated, env.scenario, nil))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != events.EventScenarioMutated || ev.ScenarioID != env.scenario {
		t.Errorf("event = %+v", ev)
	}
}
