package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/rohankatakam/coderisk/internal/review/types"
)

// GeminiBackend talks to Google's GenAI API. Grounded on
// internal/llm/gemini_client.go.
type GeminiBackend struct {
	client *genai.Client
	model  string
	temp   float64
}

// NewGeminiBackend builds a GeminiBackend from cfg. Unlike the other
// backends, it returns client construction errors immediately.
func NewGeminiBackend(ctx context.Context, cfg Config) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("gemini backend: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-pro"
	}
	return &GeminiBackend{client: client, model: model, temp: clampTemperature(cfg.Temperature)}, nil
}

func toGeminiTools(tools []types.ToolDefinition) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		schemaJSON, _ := json.Marshal(t.Parameters)
		var schema genai.Schema
		_ = json.Unmarshal(schemaJSON, &schema)
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  &schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// Complete implements Backend.
func (b *GeminiBackend) Complete(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (types.Message, error) {
	var system string
	var contents []*genai.Content

	for _, m := range messages {
		switch m.Role {
		case types.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case types.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case types.RoleAssistant:
			parts := []*genai.Part{}
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, tc.Args))
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
		case types.RoleTool:
			var resp map[string]any
			if err := json.Unmarshal([]byte(m.Content), &resp); err != nil {
				resp = map[string]any{"result": m.Content}
			}
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{genai.NewPartFromFunctionResponse(m.Name, resp)},
			})
		}
	}

	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr(float32(b.temp))}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if toolParams := toGeminiTools(tools); len(toolParams) > 0 {
		cfg.Tools = toolParams
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.model, contents, cfg)
	if err != nil {
		return types.Message{}, &TransportError{URL: "gemini:generateContent", Body: truncateBody(err.Error()), Cause: err}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return types.Message{}, &TransportError{URL: "gemini:generateContent", Body: "empty candidates", Cause: fmt.Errorf("no candidates")}
	}

	out := types.Message{Role: types.RoleAssistant}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
		}
		if part.FunctionCall != nil {
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		}
	}
	return out, nil
}
