package tools

import (
	"context"
	"errors"
	"log/slog"

	"github.com/taskmcp/tasksvr/internal/aids"
	"github.com/taskmcp/tasksvr/internal/batch"
	"github.com/taskmcp/tasksvr/internal/task"
	"github.com/taskmcp/tasksvr/mcp"
)

// maxBatchTasks caps one submission; larger imports must be split.
const maxBatchTasks = 5000

// submitPayload acknowledges an accepted batch. Completion is observed by
// polling mcp-job-status.
type submitPayload struct {
	JobID      string       `json:"jobId"`
	Status     batch.Status `json:"status"`
	TotalTasks int          `json:"totalTasks"`
}

func (r *Registry) batchTool() (mcp.Tool, Handler) {
	def := mcp.Tool{
		BaseMetadata: mcp.BaseMetadata{Name: "mcp-tasks"},
		Description:  aids.Ptr("Imports up to 5000 tasks asynchronously; returns a jobId to poll with mcp-job-status."),
		InputSchema: mcp.JSONSchema{
			Type: "object",
			Properties: map[string]any{
				"tasks": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "object"},
					"description": "Task objects to insert; see mcp-schema-tasks for the shape.",
				},
			},
			Required:             []string{"tasks"},
			AdditionalProperties: aids.Ptr(false),
		},
	}
	handler := func(ctx context.Context, args map[string]any) *mcp.CallToolResult {
		tasks, errRes := decodeTasks(aids.MustMarshal(args["tasks"]))
		if errRes != nil {
			return errRes
		}
		return r.submitBatch(ctx, tasks)
	}
	return def, handler
}

// decodeTasks parses and domain-validates a JSON array of tasks. It is shared
// by the inline and file import paths; the returned result is nil on success.
func decodeTasks(data []byte) ([]task.Task, *mcp.CallToolResult) {
	tasks, err := task.UnmarshalTasks(data)
	if err != nil {
		return nil, errorResult(CodeValidation, err.Error())
	}
	if len(tasks) == 0 {
		return nil, errorResult(CodeValidation, "tasks array must not be empty")
	}
	if len(tasks) > maxBatchTasks {
		return nil, errorResultf(CodeValidation, "tasks array exceeds the maximum of %d items", maxBatchTasks)
	}
	if err := task.ValidateAll(tasks); err != nil {
		return nil, errorResult(CodeValidation, err.Error())
	}
	return tasks, nil
}

// submitBatch hands validated tasks to the engine. A saturated pool is the
// caller's problem to retry; anything else is logged and reported generically.
func (r *Registry) submitBatch(ctx context.Context, tasks []task.Task) *mcp.CallToolResult {
	j, err := r.cfg.Engine.Submit(ctx, tasks)
	if err != nil {
		if errors.Is(err, batch.ErrQueueFull) || errors.Is(err, batch.ErrPoolClosed) {
			return errorResult(CodeInternal, "server busy, retry later")
		}
		r.cfg.Logger.LogAttrs(ctx, slog.LevelError, "batch submission failed", slog.String("error", err.Error()))
		return errorResult(CodeInternal, "Failed to submit batch job")
	}
	return jsonResult(submitPayload{JobID: j.ID, Status: j.Status, TotalTasks: j.TotalTasks})
}
