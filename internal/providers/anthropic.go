// Package providers implements concrete chat.Model clients for the LLM APIs
// this module talks to. Each client owns request/response translation,
// retries, and error classification for one provider; the rest of the
// module only ever depends on the chat.Model interface.
//
// Grounded on internal/agent/providers/anthropic.go and openai.go in the
// system this package is based on, trimmed from their streaming/vision/
// computer-use surface to the single blocking call a pipeline step needs.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/wpierozak/pipiline-agent/internal/chat"
	"github.com/wpierozak/pipiline-agent/internal/retry"
	"github.com/wpierozak/pipiline-agent/internal/tool"
)

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API (required).
	APIKey string
	// BaseURL overrides the default API base URL (optional).
	BaseURL string
	// Model is the model identifier used for every call, e.g.
	// "claude-sonnet-4-20250514".
	Model string
	// MaxTokens bounds each response. Default: 4096.
	MaxTokens int
	// Retry configures the backoff applied to transient failures. Default:
	// retry.Exponential(3, time.Second, 10*time.Second).
	Retry retry.Config
}

// AnthropicClient is a chat.Model backed by Anthropic's Messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  string
	maxTok int
	retry  retry.Config

	tools  []tool.Tool
	induce bool
}

// NewAnthropicClient builds a client from config, applying the same kind of
// defaults-then-validate pattern the source's NewAnthropicProvider used.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("providers: anthropic API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.Exponential(3, time.Second, 10*time.Second)
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
		maxTok: cfg.MaxTokens,
		retry:  cfg.Retry,
	}, nil
}

func (c *AnthropicClient) Name() string { return "anthropic:" + c.model }

func (c *AnthropicClient) BindTools(tools []tool.Tool, induce bool) {
	c.tools = tools
	c.induce = induce
}

func (c *AnthropicClient) Tools() []tool.Tool { return c.tools }

func (c *AnthropicClient) Invoke(ctx context.Context, messages []chat.Message, schema json.RawMessage) (chat.Response, error) {
	system, params, err := c.convert(messages)
	if err != nil {
		return chat.Response{}, err
	}

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTok),
		Messages:  params,
	}
	if system != "" {
		req.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if !c.induce && len(c.tools) > 0 {
		toolParams, err := c.convertTools()
		if err != nil {
			return chat.Response{}, err
		}
		req.Tools = toolParams
	}

	msg, result := retry.DoWithValue(ctx, c.retry, func() (*anthropic.Message, error) {
		m, err := c.client.Messages.New(ctx, req)
		if err != nil && isRetryableAnthropicError(err) {
			return nil, err
		}
		if err != nil {
			return nil, retry.Permanent(err)
		}
		return m, nil
	})
	if result.Err != nil {
		return chat.Response{}, fmt.Errorf("providers: anthropic call failed after %d attempts: %w", result.Attempts, result.Err)
	}

	return c.parseResponse(msg)
}

func (c *AnthropicClient) convert(messages []chat.Message) (system string, out []anthropic.MessageParam, err error) {
	var systemParts []string
	for _, m := range messages {
		switch m.Role {
		case chat.RoleSystem:
			systemParts = append(systemParts, m.Content)
		case chat.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case chat.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case chat.RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(fmt.Sprintf("[tool:%s] %s", m.ToolName, m.Content))))
		default:
			return "", nil, fmt.Errorf("providers: unknown message role %q", m.Role)
		}
	}
	return strings.Join(systemParts, "\n\n"), out, nil
}

func (c *AnthropicClient) convertTools() ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(c.tools))
	for _, t := range c.tools {
		var schema struct {
			Type       string         `json:"type"`
			Properties map[string]any `json:"properties"`
			Required   []string       `json:"required"`
		}
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			return nil, fmt.Errorf("providers: decode schema for tool %q: %w", t.Meta.Name, err)
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Meta.Name,
				Description: anthropic.String(t.Meta.Docs),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
				},
			},
		})
	}
	return out, nil
}

func (c *AnthropicClient) parseResponse(msg *anthropic.Message) (chat.Response, error) {
	var resp chat.Response
	var text strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			var args map[string]any
			if err := json.Unmarshal(b.Input, &args); err != nil {
				return chat.Response{}, fmt.Errorf("providers: decode tool_use input: %w", err)
			}
			resp.ToolCalls = append(resp.ToolCalls, chat.ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}
	resp.Content = text.String()
	if c.induce && !resp.HasToolCalls() {
		resp.ToolCalls = chat.ParseToolCallList(resp.Content)
	}
	return resp, nil
}

func isRetryableAnthropicError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"rate_limit", "429", "500", "502", "503", "504", "timeout", "connection reset", "connection refused"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
