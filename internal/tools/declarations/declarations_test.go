package declarations

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/agent"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/tools/backend"
)

func TestCreateTool_ProposesWithoutSideEffect(t *testing.T) {
	b := backend.NewMemoryBackend(backend.DemoStatuses(time.Now())...)
	res, err := NewCreateTool(b, 5*time.Minute).Execute(context.Background(), json.RawMessage(`{"ref":"ref-001","kind":"DI"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.RequiresConfirmation || res.ProposedIntent == nil {
		t.Fatalf("result = %+v, want a proposal", res)
	}
	p := res.ProposedIntent
	if p.ActionType != ActionType || p.ExecuteTool != ExecuteName || p.TTL != 5*time.Minute {
		t.Errorf("proposal = %+v", p)
	}
	if p.Summary != "Criar DI para o processo REF-001" {
		t.Errorf("Summary = %q", p.Summary)
	}
	if len(b.Declarations()) != 0 {
		t.Error("declaration created before confirmation")
	}

	out, err := NewExecuteTool(b).Execute(context.Background(), p.Payload)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Content != "DI DECL-0001 criada para o processo REF-001." {
		t.Errorf("Content = %q", out.Content)
	}
}

func TestCreateTool_DefaultKind(t *testing.T) {
	b := backend.NewMemoryBackend(backend.DemoStatuses(time.Now())...)
	res, err := NewCreateTool(b, 0).Execute(context.Background(), json.RawMessage(`{"ref":"REF-002"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var req backend.DeclarationRequest
	if err := json.Unmarshal(res.ProposedIntent.Payload, &req); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if req.Kind != "DUIMP" {
		t.Errorf("Kind = %q, want DUIMP", req.Kind)
	}
}

func TestExecuteTool_IsInternal(t *testing.T) {
	registry := agent.NewToolRegistry()
	b := backend.NewMemoryBackend()
	registry.MustRegister(NewCreateTool(b, 0), NewExecuteTool(b))
	catalog, _ := registry.Catalog()
	if len(catalog) != 1 || catalog[0].Name() != ToolName {
		t.Errorf("catalog = %v, want only %s", len(catalog), ToolName)
	}
}
