// Package sqlgen turns natural-language requests into validated statements.
//
// The completion service drafts; this package decides. Read statements are
// generated as SQL text and validated token-by-token against the live
// schema. Mutations are never generated as SQL at all: the service returns a
// structured plan (table, row, column, change) and the parameterized UPDATE
// is built here, so service output is never executed directly.
package sqlgen

import (
	"context"
	"fmt"

	"github.com/randalmurphal/whatif/internal/completion"
	"github.com/randalmurphal/whatif/internal/errors"
	"github.com/randalmurphal/whatif/internal/scenario"
	"github.com/randalmurphal/whatif/internal/schema"
)

const querySchema = `{
  "type": "object",
  "properties": {"sql": {"type": "string"}},
  "required": ["sql"]
}`

const mutationSchema = `{
  "type": "object",
  "properties": {
    "table": {"type": "string"},
    "key_column": {"type": "string"},
    "row_key": {"type": "string"},
    "column": {"type": "string"},
    "change": {"type": "string"}
  },
  "required": ["table", "key_column", "row_key", "column", "change"]
}`

// MutationPlan is the structured change the completion service proposes.
// Change is the service's restatement of the requested adjustment, e.g.
// "increase by 10%" or "set to 20000"; it is resolved against the current
// stored value before any statement is built.
type MutationPlan struct {
	Table     string `json:"table"`
	KeyColumn string `json:"key_column"`
	RowKey    string `json:"row_key"`
	Column    string `json:"column"`
	Change    string `json:"change"`
}

// Generator drafts statements via the completion service.
type Generator struct {
	client completion.Client
}

// NewGenerator creates a generator backed by the given completion client.
func NewGenerator(client completion.Client) *Generator {
	return &Generator{client: client}
}

// GenerateQuery produces a validated read-only statement for a question.
func (g *Generator) GenerateQuery(ctx context.Context, question string, info *schema.Info) (*scenario.Statement, error) {
	type queryResponse struct {
		SQL string `json:"sql"`
	}

	prompt := fmt.Sprintf(
		"Write one SQLite SELECT statement answering the question below.\n"+
			"Use only the tables and columns listed. Return JSON {\"sql\": \"...\"}.\n\n"+
			"Question: %s", question)

	res, err := completion.ExecuteWithSchema[queryResponse](ctx, g.client, completion.Request{
		Stage:         "query generation",
		Prompt:        prompt,
		SchemaContext: info.Context(),
		JSONSchema:    querySchema,
	})
	if err != nil {
		return nil, err
	}

	tables, err := ValidateQuery(res.Data.SQL, info)
	if err != nil {
		return nil, err
	}
	return &scenario.Statement{SQL: res.Data.SQL, Tables: tables}, nil
}

// GenerateMutation produces a validated mutation plan for an instruction.
// Whitelist membership is checked here so a disallowed table fails before
// the approval gate, not after.
func (g *Generator) GenerateMutation(ctx context.Context, instruction string, info *schema.Info, whitelist map[string]bool) (*MutationPlan, error) {
	prompt := fmt.Sprintf(
		"Identify the single cell the instruction below changes.\n"+
			"Use only the tables and columns listed. Return JSON with keys\n"+
			"table, key_column, row_key, column, change. The change field\n"+
			"restates the adjustment, e.g. \"increase by 10%%\" or \"set to 20000\".\n\n"+
			"Instruction: %s", instruction)

	res, err := completion.ExecuteWithSchema[MutationPlan](ctx, g.client, completion.Request{
		Stage:         "mutation generation",
		Prompt:        prompt,
		SchemaContext: info.Context(),
		JSONSchema:    mutationSchema,
	})
	if err != nil {
		return nil, err
	}

	plan := res.Data
	if err := ValidatePlan(&plan, info, whitelist); err != nil {
		return nil, err
	}
	return &plan, nil
}

// BuildStatement turns a validated plan and a resolved value into the
// parameterized UPDATE that will be executed. The SQL text is assembled from
// schema-verified identifiers only; values travel as bind arguments.
func BuildStatement(plan *MutationPlan, newValue any) scenario.Statement {
	return scenario.Statement{
		SQL: fmt.Sprintf(`UPDATE %s SET %s = ? WHERE %s = ?`,
			quoteIdent(plan.Table), quoteIdent(plan.Column), quoteIdent(plan.KeyColumn)),
		Args:   []any{newValue, plan.RowKey},
		Tables: []string{plan.Table},
	}
}

// ReadCurrentStatement builds the lookup for the cell a plan targets, used
// to resolve relative changes against the stored value.
func ReadCurrentStatement(plan *MutationPlan) (string, []any) {
	return fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`,
		quoteIdent(plan.Column), quoteIdent(plan.Table), quoteIdent(plan.KeyColumn)), []any{plan.RowKey}
}

// Describe renders a plan for approval prompts.
func (p *MutationPlan) Describe() string {
	return fmt.Sprintf("%s where %s = %s: %s %s",
		p.Table, p.KeyColumn, p.RowKey, p.Column, p.Change)
}

// ValidatePlan checks a mutation plan against the schema and whitelist.
func ValidatePlan(plan *MutationPlan, info *schema.Info, whitelist map[string]bool) error {
	if plan.Table == "" || plan.Column == "" || plan.KeyColumn == "" || plan.RowKey == "" {
		return errors.ErrValidation("mutation plan is missing a required field")
	}
	if !info.HasTable(plan.Table) {
		return errors.ErrValidation(fmt.Sprintf("unknown table %s", plan.Table))
	}
	if !info.HasColumn(plan.Table, plan.Column) {
		return errors.ErrValidation(fmt.Sprintf("unknown column %s.%s", plan.Table, plan.Column))
	}
	if !info.HasColumn(plan.Table, plan.KeyColumn) {
		return errors.ErrValidation(fmt.Sprintf("unknown key column %s.%s", plan.Table, plan.KeyColumn))
	}
	if !whitelisted(whitelist, plan.Table) {
		return errors.ErrValidation(fmt.Sprintf("table %s is not whitelisted for mutation", plan.Table))
	}
	return nil
}
