package tools

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/taskmcp/tasksvr/internal/aids"
	"github.com/taskmcp/tasksvr/mcp"
)

// fromFileTool imports tasks from a file. The gate order is part of the
// contract: home rejection, then extension, then whitelist containment, then
// readability; content checks match mcp-tasks.
func (r *Registry) fromFileTool() (mcp.Tool, Handler) {
	def := mcp.Tool{
		BaseMetadata: mcp.BaseMetadata{Name: "mcp-tasks-from-file"},
		Description:  aids.Ptr("Reads a JSON array of tasks from an allowed file path and imports it like mcp-tasks."),
		InputSchema: mcp.JSONSchema{
			Type: "object",
			Properties: map[string]any{
				"filePath": map[string]any{
					"type": "string", "minLength": 1,
					"description": "Path to a .json file inside an allowed directory.",
				},
			},
			Required:             []string{"filePath"},
			AdditionalProperties: aids.Ptr(false),
		},
	}
	handler := func(ctx context.Context, args map[string]any) *mcp.CallToolResult {
		path := stringArg(args, "filePath")
		if strings.HasPrefix(path, "~") {
			return errorResult(CodeValidation, "Home directory paths are not allowed")
		}
		if !strings.EqualFold(filepath.Ext(path), ".json") {
			return errorResult(CodeValidation, "Only .json files are allowed")
		}
		resolved, err := r.guard.resolve(path)
		if err != nil {
			r.cfg.Logger.LogAttrs(ctx, slog.LevelWarn, "file import path rejected",
				slog.String("path", path), slog.String("error", err.Error()))
			return errorResult(CodeValidation, "File path is outside of allowed directories")
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			r.cfg.Logger.LogAttrs(ctx, slog.LevelWarn, "file import read failed",
				slog.String("path", resolved), slog.String("error", err.Error()))
			return errorResult(CodeValidation, "Could not read file")
		}
		tasks, errRes := decodeTasks(data)
		if errRes != nil {
			return errRes
		}
		return r.submitBatch(ctx, tasks)
	}
	return def, handler
}
