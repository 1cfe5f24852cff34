package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testExecTool implements Tool for testing tool execution.
type testExecTool struct {
	name     string
	schema   json.RawMessage
	execFunc func(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

func (m *testExecTool) Name() string        { return m.name }
func (m *testExecTool) Description() string { return "test exec tool" }
func (m *testExecTool) Schema() json.RawMessage {
	if m.schema != nil {
		return m.schema
	}
	return json.RawMessage(`{"type":"object"}`)
}
func (m *testExecTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return m.execFunc(ctx, params)
}

func textTool(name, text string) *testExecTool {
	return &testExecTool{
		name: name,
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: text}, nil
		},
	}
}

func invocation(id, name string) models.ToolInvocation {
	return models.ToolInvocation{ID: id, Source: models.SourceModel, ToolName: name, Arguments: json.RawMessage(`{}`)}
}

func TestOrchestrator_ExecutesInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string

	registry := NewToolRegistry()
	for _, name := range []string{"first", "second", "third"} {
		name := name
		registry.MustRegister(&testExecTool{
			name: name,
			execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return &ToolResult{Content: name}, nil
			},
		})
	}

	orch := NewOrchestrator(registry, DefaultToolExecConfig())
	results := orch.Execute(context.Background(), []models.ToolInvocation{
		invocation("1", "third"),
		invocation("2", "first"),
		invocation("3", "second"),
	}, nil)

	want := []string{"third", "first", "second"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Fatalf("execution order = %v, want %v", order, want)
	}
	for i, r := range results {
		if r.Index != i {
			t.Errorf("results[%d].Index = %d", i, r.Index)
		}
		if r.Result.Content != want[i] {
			t.Errorf("results[%d] = %q, want %q", i, r.Result.Content, want[i])
		}
	}
}

func TestOrchestrator_FailureIsIsolated(t *testing.T) {
	registry := NewToolRegistry()
	registry.MustRegister(
		textTool("ok_before", "before"),
		&testExecTool{
			name: "broken",
			execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
				return nil, errors.New("backend connection refused")
			},
		},
		&testExecTool{
			name: "panics",
			execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
				panic("boom")
			},
		},
		textTool("ok_after", "after"),
	)

	orch := NewOrchestrator(registry, DefaultToolExecConfig())
	results := orch.Execute(context.Background(), []models.ToolInvocation{
		invocation("1", "ok_before"),
		invocation("2", "broken"),
		invocation("3", "panics"),
		invocation("4", "missing"),
		invocation("5", "ok_after"),
	}, nil)

	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	tests := []struct {
		idx     int
		success bool
		kind    ToolErrorType
	}{
		{0, true, ToolErrorNone},
		{1, false, ToolErrorNetwork},
		{2, false, ToolErrorPanic},
		{3, false, ToolErrorNotFound},
		{4, true, ToolErrorNone},
	}
	for _, tt := range tests {
		got := results[tt.idx].Result
		if got.Success() != tt.success {
			t.Errorf("results[%d].Success() = %v, want %v (%q)", tt.idx, got.Success(), tt.success, got.Content)
		}
		if got.ErrorKind != tt.kind {
			t.Errorf("results[%d].ErrorKind = %q, want %q", tt.idx, got.ErrorKind, tt.kind)
		}
	}
}

func TestOrchestrator_PerToolTimeout(t *testing.T) {
	registry := NewToolRegistry()
	registry.MustRegister(
		&testExecTool{
			name: "slow",
			execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
				select {
				case <-time.After(2 * time.Second):
					return &ToolResult{Content: "late"}, nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			},
		},
		textTool("fast", "quick answer"),
	)

	orch := NewOrchestrator(registry, ToolExecConfig{PerToolTimeout: 50 * time.Millisecond})
	start := time.Now()
	results := orch.Execute(context.Background(), []models.ToolInvocation{
		invocation("1", "slow"),
		invocation("2", "fast"),
	}, nil)

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("batch took %v; slow tool was not bounded", elapsed)
	}
	if !results[0].TimedOut || results[0].Result.ErrorKind != ToolErrorTimeout {
		t.Errorf("slow tool result = %+v, want timeout", results[0])
	}
	if results[1].Result.Content != "quick answer" {
		t.Errorf("fast tool content = %q", results[1].Result.Content)
	}
}

func TestOrchestrator_TimeoutOverride(t *testing.T) {
	cfg := ToolExecConfig{
		PerToolTimeout: time.Second,
		Overrides:      map[string]time.Duration{"report": 5 * time.Second},
	}
	if got := cfg.timeoutFor("report"); got != 5*time.Second {
		t.Errorf("timeoutFor(report) = %v", got)
	}
	if got := cfg.timeoutFor("other"); got != time.Second {
		t.Errorf("timeoutFor(other) = %v", got)
	}
}

func TestOrchestrator_InvalidArguments(t *testing.T) {
	registry := NewToolRegistry()
	registry.MustRegister(&testExecTool{
		name:   "needs_ref",
		schema: json.RawMessage(`{"type":"object","properties":{"ref":{"type":"string"}},"required":["ref"]}`),
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			t.Error("tool must not run with invalid arguments")
			return &ToolResult{}, nil
		},
	})

	orch := NewOrchestrator(registry, DefaultToolExecConfig())
	results := orch.Execute(context.Background(), []models.ToolInvocation{invocation("1", "needs_ref")}, nil)
	if results[0].Result.ErrorKind != ToolErrorInvalidInput {
		t.Fatalf("ErrorKind = %q, want %q", results[0].Result.ErrorKind, ToolErrorInvalidInput)
	}
}

func TestOrchestrator_EmitsEvents(t *testing.T) {
	registry := NewToolRegistry()
	registry.MustRegister(&testExecTool{
		name: "proposer",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{
				Content:              "confirm?",
				RequiresConfirmation: true,
				ProposedIntent:       &ProposedIntent{ActionType: "send_message"},
			}, nil
		},
	})

	var stages []models.ToolEventStage
	orch := NewOrchestrator(registry, DefaultToolExecConfig())
	orch.Execute(context.Background(), []models.ToolInvocation{invocation("1", "proposer")}, func(ev models.ToolEvent) {
		stages = append(stages, ev.Stage)
	})

	want := []models.ToolEventStage{models.ToolEventStarted, models.ToolEventConfirmationSent}
	if len(stages) != len(want) || stages[0] != want[0] || stages[1] != want[1] {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
}

type internalTool struct {
	*testExecTool
}

func (internalTool) Internal() bool { return true }

func TestOrchestrator_RefusesInternalToolFromModel(t *testing.T) {
	registry := NewToolRegistry()
	registry.MustRegister(internalTool{textTool("execute_send_message", "sent")})
	o := NewOrchestrator(registry, DefaultToolExecConfig())

	fromModel := invocation("m1", "execute_send_message")
	fromPolicy := invocation("p1", "execute_send_message")
	fromPolicy.Source = models.SourcePolicy

	results := o.Execute(context.Background(), []models.ToolInvocation{fromModel, fromPolicy}, nil)
	if !results[0].Result.IsError || results[0].Result.ErrorKind != ToolErrorPermission {
		t.Errorf("model call result = %+v, want permission error", results[0].Result)
	}
	if results[1].Result.IsError || results[1].Text() != "sent" {
		t.Errorf("policy call result = %+v, want sent", results[1].Result)
	}

	catalog, _ := registry.Catalog()
	if len(catalog) != 0 {
		t.Errorf("internal tool offered in catalog: %v", catalog[0].Name())
	}
}
