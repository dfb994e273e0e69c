package sqlgen

import (
	"context"
	"testing"

	"github.com/randalmurphal/whatif/internal/completion"
	"github.com/randalmurphal/whatif/internal/errors"
)

func TestGenerateQuery(t *testing.T) {
	t.Parallel()

	client := completion.NewScriptedClient(
		`{"sql":"SELECT value FROM params WHERE key = 'max_demand'"}`)
	g := NewGenerator(client)

	stmt, err := g.GenerateQuery(context.Background(), "what is max demand?", demandSchema())
	if err != nil {
		t.Fatalf("GenerateQuery failed: %v", err)
	}
	if stmt.SQL != `SELECT value FROM params WHERE key = 'max_demand'` {
		t.Errorf("sql = %q", stmt.SQL)
	}
	if len(stmt.Tables) != 1 || stmt.Tables[0] != "params" {
		t.Errorf("tables = %v", stmt.Tables)
	}

	// The prompt carries the schema context, not the raw store.
	if len(client.Calls) != 1 || client.Calls[0].SchemaContext == "" {
		t.Error("schema context missing from completion request")
	}
}

func TestGenerateQueryRejectsMutatingOutput(t *testing.T) {
	t.Parallel()

	// Service output is drafted, never trusted: a mutating statement from
	// the read path fails validation.
	client := completion.NewScriptedClient(`{"sql":"DELETE FROM params"}`)
	g := NewGenerator(client)

	_, err := g.GenerateQuery(context.Background(), "clear params", demandSchema())
	if !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestGenerateMutation(t *testing.T) {
	t.Parallel()

	client := completion.NewScriptedClient(
		`{"table":"params","key_column":"key","row_key":"max_demand","column":"value","change":"increase by 10%"}`)
	g := NewGenerator(client)

	plan, err := g.GenerateMutation(context.Background(), "raise max demand by 10%",
		demandSchema(), map[string]bool{"params": true})
	if err != nil {
		t.Fatalf("GenerateMutation failed: %v", err)
	}
	if plan.Table != "params" || plan.Column != "value" || plan.RowKey != "max_demand" {
		t.Errorf("unexpected plan: %+v", plan)
	}
	if !IsRelative(plan.Change) {
		t.Errorf("change %q should be relative", plan.Change)
	}
}

func TestGenerateMutationRejectsNonWhitelisted(t *testing.T) {
	t.Parallel()

	client := completion.NewScriptedClient(
		`{"table":"regions","key_column":"name","row_key":"north","column":"demand","change":"set to 100"}`)
	g := NewGenerator(client)

	_, err := g.GenerateMutation(context.Background(), "set north demand to 100",
		demandSchema(), map[string]bool{"params": true})
	if !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected validation failure, got %v", err)
	}
}
