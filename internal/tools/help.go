package tools

import (
	"context"

	"github.com/taskmcp/tasksvr/internal/aids"
	"github.com/taskmcp/tasksvr/mcp"
)

// helpPayload is the mcp-help response: the tool catalogue plus a suggested
// workflow for a client discovering the server.
type helpPayload struct {
	Server      string      `json:"server"`
	Description string      `json:"description"`
	Tools       []helpEntry `json:"tools"`
	Workflow    []string    `json:"workflow"`
}

type helpEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (r *Registry) helpTool() (mcp.Tool, Handler) {
	def := mcp.Tool{
		BaseMetadata: mcp.BaseMetadata{Name: "mcp-help"},
		Description:  aids.Ptr("Describes every available tool and the recommended workflow for using them."),
		InputSchema:  mcp.JSONSchema{Type: "object", AdditionalProperties: aids.Ptr(false)},
	}
	handler := func(ctx context.Context, _ map[string]any) *mcp.CallToolResult {
		p := helpPayload{
			Server:      "mcp-task-server",
			Description: "Task management over MCP: batch imports, paged queries, and live statistics.",
			Tools:       make([]helpEntry, 0, len(r.order)),
			Workflow: []string{
				"Call mcp-schema-tasks to learn the task JSON shape.",
				"Submit tasks with mcp-tasks (inline) or mcp-tasks-from-file (JSON file).",
				"Poll mcp-job-status with the returned jobId until the job is COMPLETED or FAILED.",
				"Browse results with mcp-tasks-list and mcp-tasks-summary.",
			},
		}
		for _, name := range r.order {
			td := r.tools[name].def
			desc := ""
			if td.Description != nil {
				desc = *td.Description
			}
			p.Tools = append(p.Tools, helpEntry{Name: name, Description: desc})
		}
		return jsonResult(p)
	}
	return def, handler
}
