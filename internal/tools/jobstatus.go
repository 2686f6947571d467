package tools

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/taskmcp/tasksvr/internal/aids"
	"github.com/taskmcp/tasksvr/internal/batch"
	"github.com/taskmcp/tasksvr/internal/store"
	"github.com/taskmcp/tasksvr/mcp"
)

// statusPayload is the mcp-job-status response. Derived fields are omitted
// until their inputs are meaningful: progressPercent needs a task count,
// tasksPerSecond needs both work done and elapsed time.
type statusPayload struct {
	JobID           string       `json:"jobId"`
	Status          batch.Status `json:"status"`
	TotalTasks      int          `json:"totalTasks"`
	ProcessedTasks  int          `json:"processedTasks"`
	ProgressPercent *int         `json:"progressPercent,omitempty"`
	DurationMs      int64        `json:"durationMs,omitempty"`
	TasksPerSecond  *float64     `json:"tasksPerSecond,omitempty"`
	ErrorMessage    string       `json:"errorMessage,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	CompletedAt     *time.Time   `json:"completedAt,omitempty"`
}

func (r *Registry) jobStatusTool() (mcp.Tool, Handler) {
	def := mcp.Tool{
		BaseMetadata: mcp.BaseMetadata{Name: "mcp-job-status"},
		Description:  aids.Ptr("Reports the state and progress of a batch job created by mcp-tasks or mcp-tasks-from-file."),
		InputSchema: mcp.JSONSchema{
			Type: "object",
			Properties: map[string]any{
				"jobId": map[string]any{
					"type": "string", "minLength": 1,
					"description": "Job id returned by the import tools.",
				},
			},
			Required:             []string{"jobId"},
			AdditionalProperties: aids.Ptr(false),
		},
	}
	handler := func(ctx context.Context, args map[string]any) *mcp.CallToolResult {
		jobID := stringArg(args, "jobId")
		j, err := r.cfg.Engine.Status(ctx, jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errorResultf(CodeNotFound, "Job not found: %s", jobID)
			}
			r.cfg.Logger.LogAttrs(ctx, slog.LevelError, "job status lookup failed",
				slog.String("jobId", jobID), slog.String("error", err.Error()))
			return errorResult(CodeInternal, "Failed to load job status")
		}

		p := statusPayload{
			JobID:          j.ID,
			Status:         j.Status,
			TotalTasks:     j.TotalTasks,
			ProcessedTasks: j.ProcessedTasks,
			DurationMs:     j.DurationMs,
			ErrorMessage:   j.ErrorMessage,
			CreatedAt:      j.CreatedAt,
			CompletedAt:    j.CompletedAt,
		}
		if pct, ok := j.ProgressPercent(); ok {
			p.ProgressPercent = aids.Ptr(pct)
		}
		if rate, ok := j.TasksPerSecond(); ok {
			p.TasksPerSecond = aids.Ptr(rate)
		}
		return jsonResult(p)
	}
	return def, handler
}
