package tools

import (
	"context"
	"log/slog"

	"github.com/taskmcp/tasksvr/internal/aids"
	"github.com/taskmcp/tasksvr/internal/store"
	"github.com/taskmcp/tasksvr/internal/task"
	"github.com/taskmcp/tasksvr/mcp"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// listPayload is one page of the mcp-tasks-list response. Tasks is never
// null; an out-of-range page returns an empty array with the true total.
type listPayload struct {
	Tasks      []task.Task `json:"tasks"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	TotalPages int64       `json:"totalPages"`
}

func (r *Registry) listTool() (mcp.Tool, Handler) {
	def := mcp.Tool{
		BaseMetadata: mcp.BaseMetadata{Name: "mcp-tasks-list"},
		Description:  aids.Ptr("Lists tasks one page at a time, ordered by id, optionally filtered by status."),
		InputSchema: mcp.JSONSchema{
			Type: "object",
			Properties: map[string]any{
				"page":     map[string]any{"type": "integer", "minimum": 0, "description": "Zero-based page index."},
				"pageSize": map[string]any{"type": "integer", "description": "Tasks per page, 1 to 1000."},
				"status":   map[string]any{"type": "string", "enum": []string{"TODO", "IN_PROGRESS", "DONE"}},
			},
			AdditionalProperties: aids.Ptr(false),
		},
	}
	handler := func(ctx context.Context, args map[string]any) *mcp.CallToolResult {
		q := store.ListQuery{Page: intArg(args, "page", 0), PageSize: intArg(args, "pageSize", defaultPageSize)}
		if clamped := aids.Clamp(q.PageSize, 1, maxPageSize); clamped != q.PageSize {
			r.cfg.Logger.LogAttrs(ctx, slog.LevelWarn, "pageSize out of range, clamped",
				slog.Int("requested", q.PageSize), slog.Int("used", clamped))
			q.PageSize = clamped
		}
		if s := stringArg(args, "status"); s != "" {
			st, err := task.ParseStatus(s)
			if err != nil {
				return errorResultf(CodeValidation, "Invalid arguments: %s", err)
			}
			q.Status = &st
		}

		tasks, total, err := r.cfg.Store.List(ctx, q)
		if err != nil {
			r.cfg.Logger.LogAttrs(ctx, slog.LevelError, "task list failed", slog.String("error", err.Error()))
			return errorResult(CodeInternal, "Failed to list tasks")
		}
		if tasks == nil {
			tasks = []task.Task{}
		}
		p := listPayload{Tasks: tasks, Total: total, Page: q.Page, PageSize: q.PageSize}
		if total > 0 {
			p.TotalPages = (total + int64(q.PageSize) - 1) / int64(q.PageSize)
		}
		return jsonResult(p)
	}
	return def, handler
}
