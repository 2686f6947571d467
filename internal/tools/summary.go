package tools

import (
	"context"
	"log/slog"

	"github.com/taskmcp/tasksvr/internal/aids"
	"github.com/taskmcp/tasksvr/internal/store"
	"github.com/taskmcp/tasksvr/mcp"
)

func (r *Registry) summaryTool() (mcp.Tool, Handler) {
	def := mcp.Tool{
		BaseMetadata: mcp.BaseMetadata{Name: "mcp-tasks-summary"},
		Description:  aids.Ptr("Aggregates the task database: counts by status, the due date range, and the generation instant."),
		InputSchema:  mcp.JSONSchema{Type: "object", AdditionalProperties: aids.Ptr(false)},
	}
	handler := func(ctx context.Context, _ map[string]any) *mcp.CallToolResult {
		s, err := store.Summarize(ctx, r.cfg.Store)
		if err != nil {
			r.cfg.Logger.LogAttrs(ctx, slog.LevelError, "task summary failed", slog.String("error", err.Error()))
			return errorResult(CodeInternal, "Failed to compute task summary")
		}
		return jsonResult(s)
	}
	return def, handler
}
