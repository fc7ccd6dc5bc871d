package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/rohankatakam/coderisk/internal/review/types"
)

// OpenAIBackend talks to OpenAI's chat-completions API with native tool
// calling. Grounded on internal/agent/risk_investigator.go's use of
// openai-go/v3.
type OpenAIBackend struct {
	client openai.Client
	model  string
	temp   float64
}

// NewOpenAIBackend builds an OpenAIBackend from cfg.
func NewOpenAIBackend(cfg Config) *OpenAIBackend {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIBackend{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		temp:   clampTemperature(cfg.Temperature),
	}
}

func toOpenAIMessages(messages []types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case types.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case types.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			param := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				param.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(m.Content),
				}
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Args)
				param.ToolCalls = append(param.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(args),
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &param})
		case types.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

func toOpenAITools(tools []types.ToolDefinition) []openai.ChatCompletionToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  openai.FunctionParameters(t.Parameters),
		}))
	}
	return out
}

// Complete implements Backend.
func (b *OpenAIBackend) Complete(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (types.Message, error) {
	params := openai.ChatCompletionNewParams{
		Model:       b.model,
		Messages:    toOpenAIMessages(messages),
		Temperature: openai.Float(b.temp),
	}
	if toolParams := toOpenAITools(tools); len(toolParams) > 0 {
		params.Tools = toolParams
	}

	completion, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return types.Message{}, &TransportError{URL: "openai:chat.completions", Body: truncateBody(err.Error()), Cause: err}
	}
	if len(completion.Choices) == 0 {
		return types.Message{}, &TransportError{URL: "openai:chat.completions", Body: "empty choices", Cause: fmt.Errorf("no completion choices")}
	}

	choice := completion.Choices[0]
	msg := types.Message{Role: types.RoleAssistant, Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	return msg, nil
}
