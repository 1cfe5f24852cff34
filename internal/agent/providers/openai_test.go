package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/agent"
)

type schemaTool struct{ name string }

func (s schemaTool) Name() string        { return s.name }
func (s schemaTool) Description() string { return "test tool " + s.name }
func (s schemaTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"ref":{"type":"string"}},"required":["ref"]}`)
}
func (s schemaTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{}, nil
}

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL + "/v1", DefaultModel: "gpt-test"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	return p
}

func TestNewOpenAIProvider_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestOpenAI_BuildRequestShapes(t *testing.T) {
	p, _ := NewOpenAIProvider(OpenAIConfig{APIKey: "k"})
	temp := 0.3
	base := &agent.CompletionRequest{
		System:      "sys",
		Messages:    []agent.CompletionMessage{{Role: "user", Content: "hi"}},
		Tools:       []agent.Tool{schemaTool{"lookup_status"}},
		Temperature: &temp,
		MaxTokens:   512,
	}

	standard := p.buildRequest(base)
	if standard.MaxTokens != 512 || standard.MaxCompletionTokens != 0 {
		t.Errorf("standard shape tokens = %d/%d", standard.MaxTokens, standard.MaxCompletionTokens)
	}
	if standard.Temperature != float32(0.3) {
		t.Errorf("standard temperature = %v", standard.Temperature)
	}
	if standard.Model != "gpt-4o-mini" {
		t.Errorf("default model = %q", standard.Model)
	}
	if len(standard.Messages) != 2 || standard.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("messages = %+v", standard.Messages)
	}
	if len(standard.Tools) != 1 || standard.Tools[0].Function.Name != "lookup_status" {
		t.Errorf("tools = %+v", standard.Tools)
	}

	alt := *base
	alt.Shape = agent.ShapeAlternate
	alternate := p.buildRequest(&alt)
	if alternate.MaxTokens != 0 || alternate.MaxCompletionTokens != 512 {
		t.Errorf("alternate shape tokens = %d/%d", alternate.MaxTokens, alternate.MaxCompletionTokens)
	}
	if alternate.Temperature != 0 {
		t.Errorf("alternate shape must omit temperature, got %v", alternate.Temperature)
	}
}

func TestOpenAI_StreamsToolCalls(t *testing.T) {
	events := []string{
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"create_declaration","arguments":""}}]}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"ref\":"}}]}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"REF-001\"}"}}]},"finish_reason":"tool_calls"}]}`,
	}
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	chunks, err := p.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "create declaration for REF-001"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	var calls []string
	var done int
	for chunk := range chunks {
		if chunk.Error != nil {
			t.Fatalf("stream error: %v", chunk.Error)
		}
		if chunk.ToolCall != nil {
			calls = append(calls, chunk.ToolCall.Name+" "+string(chunk.ToolCall.Input))
		}
		if chunk.Done {
			done++
		}
	}
	if done != 1 {
		t.Errorf("done chunks = %d, want 1", done)
	}
	if len(calls) != 1 || calls[0] != `create_declaration {"ref":"REF-001"}` {
		t.Errorf("tool calls = %v", calls)
	}
}

func TestOpenAI_UnsupportedParameterIsClassified(t *testing.T) {
	var bodies []string
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"Unsupported parameter: 'max_tokens' is not supported with this model. Use 'max_completion_tokens' instead.","type":"invalid_request_error","param":"max_tokens","code":"unsupported_parameter"}}`)
	})

	_, err := p.Complete(context.Background(), &agent.CompletionRequest{
		Model:     "o-test",
		Messages:  []agent.CompletionMessage{{Role: "user", Content: "hi"}},
		MaxTokens: 100,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	perr, ok := GetProviderError(err)
	if !ok {
		t.Fatalf("error is not a ProviderError: %v", err)
	}
	if perr.Reason != FailoverParamIncompatible {
		t.Errorf("Reason = %q, want %q", perr.Reason, FailoverParamIncompatible)
	}
	if perr.Status != http.StatusBadRequest || perr.Param != "max_tokens" {
		t.Errorf("status/param = %d/%q", perr.Status, perr.Param)
	}
	if len(bodies) != 1 || !strings.Contains(bodies[0], `"max_tokens":100`) {
		t.Errorf("request bodies = %v", bodies)
	}
}

func TestOpenAI_AuthErrorIsClassified(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
	})

	_, err := p.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	if ReasonOf(err) != FailoverAuth {
		t.Fatalf("ReasonOf = %q, want auth (%v)", ReasonOf(err), err)
	}
	if IsParamIncompatible(err) {
		t.Error("auth errors must never be treated as shape errors")
	}
}
