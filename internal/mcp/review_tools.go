package mcp

import (
	"context"
	"fmt"

	"github.com/rohankatakam/coderisk/internal/review/toolsurface"
)

// surfaceTool adapts one toolsurface.Surface definition to the Tool
// interface so the review tool trio (read_file_snippet, run_grep,
// fetch_repo_map) can be served over the JSON-RPC stdio transport.
type surfaceTool struct {
	name    string
	schema  map[string]interface{}
	surface *toolsurface.Surface
}

// RegisterReviewTools binds every toolsurface.Surface definition onto h
// under its declared name.
func RegisterReviewTools(h *Handler, surface *toolsurface.Surface) {
	for _, def := range surface.Definitions() {
		h.RegisterTool(def.Name, &surfaceTool{
			name:    def.Name,
			schema:  toJSONSchema(def.Description, def.Parameters),
			surface: surface,
		})
	}
}

func toJSONSchema(description string, parameters map[string]any) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"parameters":  parameters,
	}
}

func (t *surfaceTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	result := t.surface.Execute(t.name, args)
	if result.Error != "" {
		return nil, fmt.Errorf("%s", result.Error)
	}
	return result.Data, nil
}

func (t *surfaceTool) GetSchema() map[string]interface{} {
	return t.schema
}
