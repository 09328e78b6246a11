package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/wpierozak/pipiline-agent/internal/chat"
	"github.com/wpierozak/pipiline-agent/internal/retry"
	"github.com/wpierozak/pipiline-agent/internal/tool"
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Retry   retry.Config
}

// OpenAIClient is a chat.Model backed by the Chat Completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
	retry  retry.Config

	tools  []tool.Tool
	induce bool
}

// NewOpenAIClient builds a client from config.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("providers: openai API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.Exponential(3, time.Second, 10*time.Second)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		retry:  cfg.Retry,
	}, nil
}

func (c *OpenAIClient) Name() string { return "openai:" + c.model }

func (c *OpenAIClient) BindTools(tools []tool.Tool, induce bool) {
	c.tools = tools
	c.induce = induce
}

func (c *OpenAIClient) Tools() []tool.Tool { return c.tools }

func (c *OpenAIClient) Invoke(ctx context.Context, messages []chat.Message, schema json.RawMessage) (chat.Response, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: convertOpenAIMessages(messages),
	}
	if !c.induce && len(c.tools) > 0 {
		req.Tools = convertOpenAITools(c.tools)
	}

	resp, result := retry.DoWithValue(ctx, c.retry, func() (openai.ChatCompletionResponse, error) {
		r, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil && !isRetryableOpenAIError(err) {
			return openai.ChatCompletionResponse{}, retry.Permanent(err)
		}
		return r, err
	})
	if result.Err != nil {
		return chat.Response{}, fmt.Errorf("providers: openai call failed after %d attempts: %w", result.Attempts, result.Err)
	}
	if len(resp.Choices) == 0 {
		return chat.Response{}, errors.New("providers: openai returned no choices")
	}

	return c.parseResponse(resp.Choices[0].Message)
}

func convertOpenAIMessages(messages []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case chat.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case chat.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case chat.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleTool,
				Content: m.Content,
				Name:    m.ToolName,
			})
			continue
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func convertOpenAITools(tools []tool.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Meta.Name,
				Description: t.Meta.Docs,
				Parameters:  t.Schema,
			},
		})
	}
	return out
}

func (c *OpenAIClient) parseResponse(msg openai.ChatCompletionMessage) (chat.Response, error) {
	resp := chat.Response{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return chat.Response{}, fmt.Errorf("providers: decode tool call arguments: %w", err)
		}
		resp.ToolCalls = append(resp.ToolCalls, chat.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	if c.induce && !resp.HasToolCalls() {
		resp.ToolCalls = chat.ParseToolCallList(resp.Content)
	}
	return resp, nil
}

func isRetryableOpenAIError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection reset")
}
