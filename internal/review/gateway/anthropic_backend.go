package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rohankatakam/coderisk/internal/review/types"
)

// AnthropicBackend talks to Claude's messages API, normalizing tool-use
// content blocks into the canonical types.ToolCall record. Fleshes out the
// stub in internal/llm/client.go's completeAnthropic.
type AnthropicBackend struct {
	client anthropic.Client
	model  anthropic.Model
	temp   float64
}

// NewAnthropicBackend builds an AnthropicBackend from cfg.
func NewAnthropicBackend(cfg Config) *AnthropicBackend {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaude3_7SonnetLatest
	}
	return &AnthropicBackend{
		client: anthropic.NewClient(opts...),
		model:  model,
		temp:   clampTemperature(cfg.Temperature),
	}
}

func toAnthropicTools(tools []types.ToolDefinition) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					// The SDK supplies the "object" type itself; only the
					// schema's "properties" map is forwarded. The schema's
					// "required" list is not sent.
					Properties: t.Parameters["properties"],
				},
			},
		})
	}
	return out
}

// Complete implements Backend.
func (b *AnthropicBackend) Complete(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (types.Message, error) {
	var system string
	var anthMessages []anthropic.MessageParam

	for _, m := range messages {
		switch m.Role {
		case types.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case types.RoleUser:
			anthMessages = append(anthMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case types.RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Args)
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, json.RawMessage(args), tc.Name))
			}
			anthMessages = append(anthMessages, anthropic.NewAssistantMessage(blocks...))
		case types.RoleTool:
			anthMessages = append(anthMessages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       b.model,
		MaxTokens:   4096,
		Temperature: anthropic.Float(b.temp),
		Messages:    anthMessages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if toolParams := toAnthropicTools(tools); len(toolParams) > 0 {
		params.Tools = toolParams
	}

	resp, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return types.Message{}, &TransportError{URL: "anthropic:messages", Body: truncateBody(err.Error()), Cause: err}
	}

	var out types.Message
	out.Role = types.RoleAssistant
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			var args map[string]any
			_ = json.Unmarshal(block.Input, &args)
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{ID: block.ID, Name: block.Name, Args: args})
		}
	}
	if len(resp.Content) == 0 {
		return types.Message{}, &TransportError{URL: "anthropic:messages", Body: "empty content", Cause: fmt.Errorf("no content blocks")}
	}
	return out, nil
}
