package status

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/agent"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/policy"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/tools/backend"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

var updated = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func newTool() *Tool {
	return NewTool(backend.NewMemoryBackend(backend.Status{
		Ref: "REF-001", Category: "importacao", State: "em análise", Detail: "canal amarelo", UpdatedAt: updated,
	}))
}

func TestToolNameMatchesPolicy(t *testing.T) {
	if ToolName != policy.StatusTool {
		t.Fatalf("ToolName = %q, policy invokes %q", ToolName, policy.StatusTool)
	}
}

func TestTool_Execute(t *testing.T) {
	res, err := newTool().Execute(context.Background(), json.RawMessage(`{"ref":"ref-001"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := "Status do REF-001: em análise (canal amarelo). Atualizado em 01/03/2026 09:30."
	if res.Content != want {
		t.Errorf("Content = %q, want %q", res.Content, want)
	}
	wantFacts := []agent.ContextFact{
		{Kind: models.ContextCurrentSubject, Key: "ref", Value: "REF-001"},
		{Kind: models.ContextCurrentCategory, Key: "category", Value: "importacao"},
	}
	if diff := cmp.Diff(wantFacts, res.ContextUpdates); diff != "" {
		t.Errorf("ContextUpdates mismatch (-want +got):\n%s", diff)
	}
}

func TestTool_NotFound(t *testing.T) {
	res, err := newTool().Execute(context.Background(), json.RawMessage(`{"ref":"REF-404"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError || res.ErrorKind != agent.ToolErrorNotFound {
		t.Errorf("result = %+v, want not_found error", res)
	}
}

func TestTool_SchemaRequiresRef(t *testing.T) {
	registry := agent.NewToolRegistry()
	registry.MustRegister(newTool())
	res, err := registry.Execute(context.Background(), ToolName, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ErrorKind != agent.ToolErrorInvalidInput {
		t.Errorf("ErrorKind = %q, want invalid_input", res.ErrorKind)
	}
}
