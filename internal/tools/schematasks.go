package tools

import (
	"context"

	"github.com/taskmcp/tasksvr/internal/aids"
	"github.com/taskmcp/tasksvr/internal/task"
	"github.com/taskmcp/tasksvr/mcp"
)

func (r *Registry) schemaTool() (mcp.Tool, Handler) {
	def := mcp.Tool{
		BaseMetadata: mcp.BaseMetadata{Name: "mcp-schema-tasks"},
		Description:  aids.Ptr("Returns the JSON Schema describing the task objects accepted by the import tools."),
		InputSchema:  mcp.JSONSchema{Type: "object", AdditionalProperties: aids.Ptr(false)},
	}
	handler := func(context.Context, map[string]any) *mcp.CallToolResult {
		return textResult(task.SchemaJSON())
	}
	return def, handler
}
