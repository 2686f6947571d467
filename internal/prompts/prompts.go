// Package prompts serves the three server-defined prompt templates. Each
// resolves to a single user-role message; templates that embed statistics
// read the store at call time.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/taskmcp/tasksvr/internal/aids"
	"github.com/taskmcp/tasksvr/internal/audit"
	"github.com/taskmcp/tasksvr/internal/store"
	"github.com/taskmcp/tasksvr/internal/task"
	"github.com/taskmcp/tasksvr/mcp"
)

const (
	nameCreateTasks = "create-tasks-from-description"
	nameSummarize   = "summarize-tasks-by-status"
	nameReport      = "task-report-template"
)

// ErrUnknownPrompt marks a prompts/get for a name this provider does not
// define.
var ErrUnknownPrompt = errors.New("unknown prompt")

// ErrInvalidArguments marks a prompts/get whose arguments fail validation.
var ErrInvalidArguments = errors.New("invalid prompt arguments")

type Config struct {
	Store  store.TaskStore
	Audit  *audit.Log
	Logger *slog.Logger
}

type Provider struct {
	store  store.TaskStore
	audit  *audit.Log
	logger *slog.Logger
}

func NewProvider(cfg Config) *Provider {
	aids.Assert(cfg.Store != nil, "prompt provider needs a task store")
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Provider{store: cfg.Store, audit: cfg.Audit, logger: cfg.Logger}
}

func (p *Provider) List() []mcp.Prompt {
	return []mcp.Prompt{
		{
			BaseMetadata: mcp.BaseMetadata{Name: nameCreateTasks},
			Description:  aids.Ptr("Turn a free-form description into a JSON array of task objects"),
			Arguments: []mcp.PromptArgument{{
				BaseMetadata: mcp.BaseMetadata{Name: "description"},
				Description:  aids.Ptr("Free-form text describing the work to plan"),
				Required:     aids.Ptr(true),
			}},
		},
		{
			BaseMetadata: mcp.BaseMetadata{Name: nameSummarize},
			Description:  aids.Ptr("Summarize the task database, optionally focused on one status"),
			Arguments: []mcp.PromptArgument{{
				BaseMetadata: mcp.BaseMetadata{Name: "status"},
				Description:  aids.Ptr("Restrict the summary to TODO, IN_PROGRESS, or DONE"),
				Required:     aids.Ptr(false),
			}},
		},
		{
			BaseMetadata: mcp.BaseMetadata{Name: nameReport},
			Description:  aids.Ptr("Produce a status report; brief by default, detailed on request"),
			Arguments: []mcp.PromptArgument{{
				BaseMetadata: mcp.BaseMetadata{Name: "format"},
				Description:  aids.Ptr(`"brief" (default) or "detailed"`),
				Required:     aids.Ptr(false),
			}},
		},
	}
}

// Get resolves a prompt by name. Argument problems surface as
// ErrInvalidArguments, unknown names as ErrUnknownPrompt; store faults are
// replaced by a generic error after auditing the cause.
func (p *Provider) Get(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	p.audit.Emit(ctx, audit.Event{
		EventType:   audit.EventPromptGetStart,
		Success:     true,
		Description: "Prompt requested",
		Metadata:    map[string]string{"prompt": name},
	})

	text, desc, err := p.render(ctx, name, args)
	if err != nil {
		clientErr := err
		if !errors.Is(err, ErrUnknownPrompt) && !errors.Is(err, ErrInvalidArguments) {
			p.logger.LogAttrs(ctx, slog.LevelError, "prompt build failed",
				slog.String("prompt", name), slog.String("error", err.Error()))
			clientErr = errors.New("failed to build prompt")
		}
		p.audit.Emit(ctx, audit.Event{
			EventType:    audit.EventPromptGetFailure,
			Success:      false,
			Description:  "Prompt request failed",
			ErrorMessage: err.Error(),
			Metadata:     map[string]string{"prompt": name},
		})
		return nil, clientErr
	}

	p.audit.Emit(ctx, audit.Event{
		EventType:   audit.EventPromptGetSuccess,
		Success:     true,
		Description: "Prompt rendered",
		Metadata:    map[string]string{"prompt": name},
	})
	return &mcp.GetPromptResult{
		Description: aids.Ptr(desc),
		Messages: []mcp.PromptMessage{{
			Role:    mcp.RoleUser,
			Content: mcp.NewTextContent(text),
		}},
	}, nil
}

func (p *Provider) render(ctx context.Context, name string, args map[string]string) (text, desc string, err error) {
	switch name {
	case nameCreateTasks:
		return p.renderCreateTasks(args)
	case nameSummarize:
		return p.renderSummarize(ctx, args)
	case nameReport:
		return p.renderReport(ctx, args)
	default:
		return "", "", fmt.Errorf("%w: %s", ErrUnknownPrompt, name)
	}
}

func (p *Provider) renderCreateTasks(args map[string]string) (string, string, error) {
	description := strings.TrimSpace(args["description"])
	if description == "" {
		return "", "", fmt.Errorf(`%w: missing required argument "description"`, ErrInvalidArguments)
	}

	var b strings.Builder
	b.WriteString("Convert the following description into a JSON array of task objects.\n\n")
	b.WriteString("Description:\n")
	b.WriteString(description)
	b.WriteString("\n\nEach task object must have:\n")
	b.WriteString("- \"title\": string, required, at most 255 characters\n")
	b.WriteString("- \"description\": string, optional, at most 2000 characters\n")
	b.WriteString("- \"status\": one of TODO, IN_PROGRESS, DONE\n")
	b.WriteString("- \"dueDate\": optional, YYYY-MM-DD\n")
	b.WriteString("\nRespond with the JSON array only, no commentary.")
	return b.String(), "Create tasks from a description", nil
}

func (p *Provider) renderSummarize(ctx context.Context, args map[string]string) (string, string, error) {
	var focus *task.Status
	if raw, present := args["status"]; present && raw != "" {
		st, err := task.ParseStatus(raw)
		if err != nil {
			return "", "", fmt.Errorf("%w: status must be one of TODO, IN_PROGRESS, DONE", ErrInvalidArguments)
		}
		focus = &st
	}

	summary, err := store.Summarize(ctx, p.store)
	if err != nil {
		return "", "", err
	}

	var b strings.Builder
	b.WriteString("Summarize the current task database for a project update.\n\n")
	fmt.Fprintf(&b, "Live statistics: %d tasks total", summary.TotalCount)
	for _, st := range task.Statuses() {
		fmt.Fprintf(&b, ", %d %s", summary.CountByStatus[st], st)
	}
	b.WriteString(".\n")
	if summary.EarliestDueDate != nil && summary.LatestDueDate != nil {
		fmt.Fprintf(&b, "Due dates range from %s to %s.\n", summary.EarliestDueDate, summary.LatestDueDate)
	}
	if focus != nil {
		fmt.Fprintf(&b, "\nFocus the summary on tasks with status %s (current count: %d).",
			*focus, summary.CountByStatus[*focus])
	} else {
		b.WriteString("\nHighlight overall workload, progress, and anything due soon.")
	}
	return b.String(), "Summarize tasks by status", nil
}

func (p *Provider) renderReport(ctx context.Context, args map[string]string) (string, string, error) {
	format := args["format"]
	switch format {
	case "", "brief":
		format = "brief"
	case "detailed":
	default:
		return "", "", fmt.Errorf(`%w: format must be "brief" or "detailed"`, ErrInvalidArguments)
	}

	summary, err := store.Summarize(ctx, p.store)
	if err != nil {
		return "", "", err
	}

	var b strings.Builder
	if format == "brief" {
		fmt.Fprintf(&b, "Write a brief status report for a task database currently holding %d tasks.\n", summary.TotalCount)
		b.WriteString("Include the total count, one line per status, and a short outlook paragraph.")
		return b.String(), "Brief task report", nil
	}

	fmt.Fprintf(&b, "Write a detailed status report for a task database currently holding %d tasks.\n\n", summary.TotalCount)
	b.WriteString("Current breakdown:\n")
	for _, st := range task.Statuses() {
		fmt.Fprintf(&b, "- %s: %d\n", st, summary.CountByStatus[st])
	}
	if summary.EarliestDueDate != nil && summary.LatestDueDate != nil {
		fmt.Fprintf(&b, "- due dates from %s to %s\n", summary.EarliestDueDate, summary.LatestDueDate)
	}
	b.WriteString("\nStructure the report with these sections:\n")
	b.WriteString("1. Executive summary\n")
	b.WriteString("2. Full breakdown by status with notable items\n")
	b.WriteString("3. Risks and blockers\n")
	b.WriteString("4. Recommendations for the coming week")
	return b.String(), "Detailed task report", nil
}
