// Package engine drives a natural-language request through classification,
// statement generation, the approval gate, execution, and parameter sync.
// The workflow is an explicit state machine; every mutating request
// suspends at the approval boundary with its state checkpointed, holding no
// lock and no transaction.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/whatif/internal/completion"
	"github.com/randalmurphal/whatif/internal/db"
	"github.com/randalmurphal/whatif/internal/errors"
	"github.com/randalmurphal/whatif/internal/events"
	"github.com/randalmurphal/whatif/internal/gate"
	"github.com/randalmurphal/whatif/internal/params"
	"github.com/randalmurphal/whatif/internal/runner"
	"github.com/randalmurphal/whatif/internal/scenario"
	"github.com/randalmurphal/whatif/internal/schema"
	"github.com/randalmurphal/whatif/internal/sqlgen"
)

// Response is what a request or a resolved approval produces.
type Response struct {
	Text             string       `json:"text"`
	Intent           Intent       `json:"intent"`
	RequiresApproval bool         `json:"requires_approval,omitempty"`
	ApprovalID       string       `json:"approval_id,omitempty"`
	Columns          []string     `json:"columns,omitempty"`
	Rows             [][]any      `json:"rows,omitempty"`
	Changes          *params.Diff `json:"changes,omitempty"`
	Artifacts        []string     `json:"artifacts,omitempty"`
}

// Engine wires the components of the request workflow together.
type Engine struct {
	store   *scenario.Store
	schemas *schema.Cache
	gen     *sqlgen.Generator
	gate    *gate.Gate
	client  completion.Client
	pub     events.Publisher

	run    *runner.Runner
	script string

	classifyTimeout time.Duration
	generateTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunner sets the downstream script triggered after every successful
// mutation.
func WithRunner(r *runner.Runner, script string) Option {
	return func(e *Engine) {
		e.run = r
		e.script = script
	}
}

// WithPublisher sets the event publisher.
func WithPublisher(pub events.Publisher) Option {
	return func(e *Engine) {
		e.pub = pub
	}
}

// WithTimeouts sets independent bounds for classification and generation.
func WithTimeouts(classify, generate time.Duration) Option {
	return func(e *Engine) {
		e.classifyTimeout = classify
		e.generateTimeout = generate
	}
}

// New creates an engine.
func New(store *scenario.Store, schemas *schema.Cache, client completion.Client, g *gate.Gate, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		schemas:         schemas,
		gen:             sqlgen.NewGenerator(client),
		gate:            g,
		client:          client,
		classifyTimeout: 30 * time.Second,
		generateTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

const classificationSchema = `{
  "type": "object",
  "properties": {
    "intent": {"type": "string", "enum": ["read", "modify", "compare", "file_edit", "unknown"]},
    "table": {"type": "string"},
    "file_path": {"type": "string"},
    "file_content": {"type": "string"},
    "clarification": {"type": "string"}
  },
  "required": ["intent"]
}`

type classification struct {
	Intent        string `json:"intent"`
	Table         string `json:"table"`
	FilePath      string `json:"file_path"`
	FileContent   string `json:"file_content"`
	Clarification string `json:"clarification"`
}

// Handle drives one request through the workflow. A mutating request
// returns with RequiresApproval set and nothing executed; everything else
// completes synchronously.
func (e *Engine) Handle(ctx context.Context, scenarioID, request string) (*Response, error) {
	ws := newWorkflowState(uuid.NewString(), scenarioID, request)

	info, err := e.schemas.Get(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	cls, err := e.classify(ctx, request, info)
	if err != nil {
		if errors.IsCode(err, errors.CodeValidation) {
			// The service returned something unparseable. Ask the user
			// instead of guessing.
			return e.clarify(ws, "I could not work out what this request asks for. Could you rephrase it?")
		}
		return nil, err
	}

	ws.Intent = Intent(cls.Intent)
	slog.Info("request classified", "workflow", ws.ID, "intent", ws.Intent)

	switch ws.Intent {
	case IntentRead:
		return e.readPath(ctx, ws, info)
	case IntentCompare:
		return e.comparePath(ctx, ws, cls.Table)
	case IntentModify:
		return e.modifyPath(ctx, ws, info)
	case IntentFileEdit:
		return e.fileEditPath(ws, cls)
	default:
		msg := cls.Clarification
		if msg == "" {
			msg = "I could not work out what this request asks for. Could you rephrase it?"
		}
		return e.clarify(ws, msg)
	}
}

func (e *Engine) classify(ctx context.Context, request string, info *schema.Info) (*classification, error) {
	ctx, cancel := context.WithTimeout(ctx, e.classifyTimeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Classify the request below against the tables listed.\n"+
			"intent is one of: read (answer from data), modify (change one value),\n"+
			"compare (same table across scenarios; set table), file_edit (change a\n"+
			"workspace file; set file_path and file_content), unknown (set\n"+
			"clarification).\n\nRequest: %s", request)

	res, err := completion.ExecuteWithSchema[classification](ctx, e.client, completion.Request{
		Stage:         "classification",
		Prompt:        prompt,
		SchemaContext: info.Context(),
		JSONSchema:    classificationSchema,
	})
	if err != nil {
		return nil, err
	}
	return &res.Data, nil
}

func (e *Engine) clarify(ws *WorkflowState, text string) (*Response, error) {
	if err := ws.transition(StateResponding); err != nil {
		return nil, err
	}
	_ = ws.transition(StateTerminal)
	return &Response{Text: text, Intent: IntentUnknown}, nil
}

func (e *Engine) readPath(ctx context.Context, ws *WorkflowState, info *schema.Info) (*Response, error) {
	if err := ws.transition(StateReadPath); err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithTimeout(ctx, e.generateTimeout)
	stmt, err := e.gen.GenerateQuery(genCtx, ws.Request, info)
	cancel()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rs, err := e.store.Query(ctx, ws.ScenarioID, *stmt)
	if err != nil {
		return nil, err
	}
	e.store.AppendHistory(ctx, &db.ExecutionHistoryEntry{
		ScenarioID:  ws.ScenarioID,
		CommandText: ws.Request,
		Stdout:      fmt.Sprintf("%d rows via %s", len(rs.Rows), stmt.SQL),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if err := ws.transition(StateResponding); err != nil {
		return nil, err
	}
	_ = ws.transition(StateTerminal)

	e.publish(events.NewEvent(events.EventRequestCompleted, ws.ScenarioID, nil))
	return &Response{
		Text:    fmt.Sprintf("%d row(s)", len(rs.Rows)),
		Intent:  IntentRead,
		Columns: rs.Columns,
		Rows:    rs.Rows,
	}, nil
}

// comparePath reads the same table from every scenario concurrently and
// merges the snapshots in memory. Reads are independent; no lock spans two
// scenarios.
func (e *Engine) comparePath(ctx context.Context, ws *WorkflowState, table string) (*Response, error) {
	if err := ws.transition(StateComparePath); err != nil {
		return nil, err
	}
	if table == "" {
		return e.clarify(ws, "Which table should the scenarios be compared on?")
	}

	scenarios, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}

	type entry struct {
		name string
		snap *params.Snapshot
	}
	var mu sync.Mutex
	var entries []entry

	g, gctx := errgroup.WithContext(ctx)
	for _, scn := range scenarios {
		g.Go(func() error {
			info, err := e.schemas.Get(gctx, scn.ID)
			if err != nil {
				return err
			}
			if !info.HasTable(table) {
				return nil // scenario predates the table; skip, don't fail
			}
			snap, err := e.store.Snapshot(gctx, scn.ID, table)
			if err != nil {
				return err
			}
			mu.Lock()
			entries = append(entries, entry{name: scn.Name, snap: snap})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.ErrValidation(fmt.Sprintf("no scenario has a table named %s", table))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	// One row per (scenario, row key, column).
	resp := &Response{
		Intent:  IntentCompare,
		Columns: []string{"scenario", "row", "column", "value"},
	}
	for _, en := range entries {
		keys := make([]string, 0, len(en.snap.Rows))
		for k := range en.snap.Rows {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			for _, col := range en.snap.Columns {
				if col == en.snap.KeyColumn {
					continue
				}
				resp.Rows = append(resp.Rows, []any{en.name, k, col, en.snap.Rows[k][col]})
			}
		}
	}
	resp.Text = fmt.Sprintf("compared %s across %d scenario(s)", table, len(entries))

	if err := ws.transition(StateResponding); err != nil {
		return nil, err
	}
	_ = ws.transition(StateTerminal)
	e.publish(events.NewEvent(events.EventRequestCompleted, ws.ScenarioID, nil))
	return resp, nil
}

// modifyPath prepares a mutation and suspends at the approval gate. Nothing
// is executed here; the checkpoint carries the plan across the suspension.
func (e *Engine) modifyPath(ctx context.Context, ws *WorkflowState, info *schema.Info) (*Response, error) {
	if err := ws.transition(StatePreparing); err != nil {
		return nil, err
	}

	whitelist, err := e.store.Whitelist(ctx, ws.ScenarioID)
	if err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithTimeout(ctx, e.generateTimeout)
	plan, err := e.gen.GenerateMutation(genCtx, ws.Request, info, whitelist)
	cancel()
	if err != nil {
		return nil, err
	}
	ws.Plan = plan

	current, projected, err := e.projectChange(ctx, ws.ScenarioID, plan)
	if err != nil {
		return nil, err
	}
	// The change resolves to an absolute value exactly once, here. What the
	// summary shows is what approval executes; the checkpoint carries it.
	ws.CurrentValue = current
	ws.NewValue = projected

	summary := fmt.Sprintf("%s: %v -> %v", plan.Describe(), current, projected)
	preview := sqlgen.BuildStatement(plan, projected)

	if err := ws.transition(StateAwaitingApproval); err != nil {
		return nil, err
	}
	state, err := ws.Marshal()
	if err != nil {
		return nil, err
	}

	a, err := e.gate.Request(ctx, ws.ScenarioID, string(IntentModify), preview.SQL, summary, state)
	if err != nil {
		return nil, err
	}
	ws.ApprovalID = a.ID

	return &Response{
		Text:             fmt.Sprintf("Approval required: %s", summary),
		Intent:           IntentModify,
		RequiresApproval: true,
		ApprovalID:       a.ID,
	}, nil
}

// projectChange resolves a plan's change expression against the value stored
// right now. Relative changes compound on repeat application because each
// resolution starts from the current value.
func (e *Engine) projectChange(ctx context.Context, scenarioID string, plan *sqlgen.MutationPlan) (float64, float64, error) {
	query, args := sqlgen.ReadCurrentStatement(plan)
	raw, err := e.store.ReadValue(ctx, scenarioID, query, args...)
	if err != nil {
		return 0, 0, err
	}
	current, err := toFloat(raw)
	if err != nil {
		return 0, 0, errors.ErrValidation(fmt.Sprintf(
			"%s.%s holds non-numeric value %v", plan.Table, plan.Column, raw))
	}
	projected, err := sqlgen.ResolveChange(current, plan.Change)
	if err != nil {
		return 0, 0, err
	}
	return current, projected, nil
}

func (e *Engine) fileEditPath(ws *WorkflowState, cls *classification) (*Response, error) {
	if err := ws.transition(StateFileEditPath); err != nil {
		return nil, err
	}
	if cls.FilePath == "" {
		return e.clarify(ws, "Which file should be edited, and with what content?")
	}
	// Store data never changes on this path; file edits are proposed, not
	// applied, so the user can review them like any other artifact.
	if err := ws.transition(StateResponding); err != nil {
		return nil, err
	}
	_ = ws.transition(StateTerminal)
	return &Response{
		Text:      fmt.Sprintf("Proposed edit to %s:\n%s", cls.FilePath, cls.FileContent),
		Intent:    IntentFileEdit,
		Artifacts: []string{cls.FilePath},
	}, nil
}

func (e *Engine) publish(ev events.Event) {
	if e.pub != nil {
		e.pub.Publish(ev)
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}
