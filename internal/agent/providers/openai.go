package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/agent"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey string

	// BaseURL points at an OpenAI-compatible endpoint. Empty uses api.openai.com.
	BaseURL string

	DefaultModel string
}

// OpenAIProvider implements agent.LLMProvider on the chat completions API.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gpt-4o-mini"
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) SupportsTools() bool {
	return true
}

// Complete opens a streaming chat completion. Errors from opening the stream
// are returned as *ProviderError so the router can classify them.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	chatReq := p.buildRequest(req)

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err, chatReq.Model)
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, chatReq.Model)
	return chunks, nil
}

func (p *OpenAIProvider) buildRequest(req *agent.CompletionRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      convertToOpenAIMessages(req.Messages, req.System),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}

	switch req.Shape {
	case agent.ShapeAlternate:
		if req.MaxTokens > 0 {
			chatReq.MaxCompletionTokens = req.MaxTokens
		}
	default:
		if req.MaxTokens > 0 {
			chatReq.MaxTokens = req.MaxTokens
		}
		if req.Temperature != nil {
			chatReq.Temperature = float32(*req.Temperature)
		}
	}

	if len(req.Tools) > 0 {
		chatReq.Tools = convertToOpenAITools(req.Tools)
		switch req.ToolChoice {
		case "none", "required", "auto":
			chatReq.ToolChoice = req.ToolChoice
		}
	}
	return chatReq
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	var inputTokens, outputTokens int

	flush := func() {
		indexes := make([]int, 0, len(toolCalls))
		for idx := range toolCalls {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			tc := toolCalls[idx]
			if tc.Name == "" {
				continue
			}
			if len(tc.Input) == 0 {
				tc.Input = json.RawMessage(`{}`)
			}
			chunks <- &agent.CompletionChunk{ToolCall: tc}
		}
		toolCalls = make(map[int]*models.ToolCall)
	}

	for {
		if ctx.Err() != nil {
			chunks <- &agent.CompletionChunk{Error: NewProviderError(p.Name(), model, ctx.Err())}
			return
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				chunks <- &agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
				return
			}
			chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model)}
			return
		}

		if response.Usage != nil {
			inputTokens = response.Usage.PromptTokens
			outputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta
		if delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call := toolCalls[index]
			if call == nil {
				call = &models.ToolCall{}
				toolCalls[index] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				call.Input = append(call.Input, tc.Function.Arguments...)
			}
		}

		if response.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

func convertToOpenAIMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		case "assistant":
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, oaiMsg)
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    msg.Role,
				Content: msg.Content,
			})
		}
	}
	return result
}

func convertToOpenAITools(tools []agent.Tool) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema(), &schemaMap); err != nil {
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  schemaMap,
			},
		}
	}
	return result
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	providerErr := NewProviderError(p.Name(), model, err)

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr.WithMessage(apiErr.Message)
		providerErr.Reason = ClassifyError(errors.New(apiErr.Message))
		if apiErr.HTTPStatusCode != 0 {
			providerErr.WithStatus(apiErr.HTTPStatusCode)
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr.WithCode(code)
		} else if apiErr.Type != "" {
			providerErr.WithCode(apiErr.Type)
		}
		if apiErr.Param != nil {
			providerErr.WithParam(*apiErr.Param)
		}
		return providerErr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		providerErr.WithStatus(reqErr.HTTPStatusCode)
		return providerErr
	}

	return providerErr
}

var _ agent.LLMProvider = (*OpenAIProvider)(nil)

func (p *OpenAIProvider) String() string {
	return fmt.Sprintf("openai(%s)", p.defaultModel)
}
