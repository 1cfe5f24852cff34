package providers

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"math"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/agent"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

// GoogleConfig configures the Gemini provider.
type GoogleConfig struct {
	APIKey       string
	DefaultModel string
}

// GoogleProvider implements agent.LLMProvider on the Gemini API.
type GoogleProvider struct {
	client       *genai.Client
	defaultModel string
}

func NewGoogleProvider(config GoogleConfig) (*GoogleProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, NewProviderError("google", config.DefaultModel, err)
	}

	return &GoogleProvider{
		client:       client,
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *GoogleProvider) Name() string {
	return "google"
}

func (p *GoogleProvider) SupportsTools() bool {
	return true
}

func (p *GoogleProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.getModel(req.Model)
	contents, err := convertToGeminiContents(req.Messages)
	if err != nil {
		return nil, NewProviderError(p.Name(), model, err).WithCode("invalid_request_error")
	}
	config := buildGeminiConfig(req)

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)
		stream := p.client.Models.GenerateContentStream(ctx, model, contents, config)
		p.processStream(ctx, stream, chunks, model)
	}()
	return chunks, nil
}

func (p *GoogleProvider) processStream(ctx context.Context, stream iter.Seq2[*genai.GenerateContentResponse, error], chunks chan<- *agent.CompletionChunk, model string) {
	var inputTokens, outputTokens int

	for resp, err := range stream {
		if ctx.Err() != nil {
			chunks <- &agent.CompletionChunk{Error: NewProviderError(p.Name(), model, ctx.Err())}
			return
		}
		if err != nil {
			chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model)}
			return
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			inputTokens = int(resp.UsageMetadata.PromptTokenCount)
			outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					chunks <- &agent.CompletionChunk{Text: part.Text}
				}
				if part.FunctionCall != nil {
					args, err := json.Marshal(part.FunctionCall.Args)
					if err != nil || part.FunctionCall.Args == nil {
						args = []byte("{}")
					}
					id := part.FunctionCall.ID
					if id == "" {
						id = "call_" + uuid.NewString()
					}
					chunks <- &agent.CompletionChunk{ToolCall: &models.ToolCall{
						ID:    id,
						Name:  part.FunctionCall.Name,
						Input: args,
					}}
				}
			}
		}
	}

	chunks <- &agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
}

func buildGeminiConfig(req *agent.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		// #nosec G115 -- bounded by min
		config.MaxOutputTokens = int32(min(req.MaxTokens, math.MaxInt32))
	}
	if req.Shape == agent.ShapeStandard && req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if len(req.Tools) > 0 {
		config.Tools = convertToGeminiTools(req.Tools)
	}
	return config
}

func convertToGeminiContents(messages []agent.CompletionMessage) ([]*genai.Content, error) {
	var result []*genai.Content
	callNames := make(map[string]string)

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == "assistant" {
			content.Role = genai.RoleModel
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &args); err != nil {
					return nil, err
				}
			}
			callNames[tc.ID] = tc.Name
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args},
			})
		}
		for _, tr := range msg.ToolResults {
			key := "output"
			if tr.IsError {
				key = "error"
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       tr.ToolCallID,
					Name:     callNames[tr.ToolCallID],
					Response: map[string]any{key: tr.Content},
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result, nil
}

func convertToGeminiTools(tools []agent.Tool) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema(), &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  toGeminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGeminiSchema maps the JSON Schema subset tools use onto genai.Schema.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}
	return schema
}

func (p *GoogleProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *GoogleProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	providerErr := NewProviderError(p.Name(), model, err)

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		providerErr.WithMessage(apiErr.Message)
		providerErr.Reason = ClassifyError(errors.New(apiErr.Message))
		return providerErr.WithStatus(apiErr.Code)
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "unauthenticated"):
		providerErr.WithStatus(http.StatusUnauthorized)
	case strings.Contains(errMsg, "permission denied"):
		providerErr.WithStatus(http.StatusForbidden)
	case strings.Contains(errMsg, "resource exhausted"):
		providerErr.WithStatus(http.StatusTooManyRequests)
	}
	return providerErr
}

var _ agent.LLMProvider = (*GoogleProvider)(nil)
