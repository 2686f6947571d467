// Package resources serves the read-only resource URIs: the bounded task
// collection, the per-task template, and the aggregate stats view. Content is
// always JSON text.
package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/taskmcp/tasksvr/internal/aids"
	"github.com/taskmcp/tasksvr/internal/audit"
	"github.com/taskmcp/tasksvr/internal/store"
	"github.com/taskmcp/tasksvr/mcp"
)

const (
	uriAllTasks     = "task://all"
	uriStats        = "db://stats"
	uriTaskPrefix   = "task://"
	uriTaskTemplate = "task://{id}"
	mimeJSON        = "application/json"
	defaultMaxTask  = 1000
)

// ErrNotFound marks a read of a URI this provider does not serve (or a task
// id with no row). The dispatcher turns it into the resource-not-found
// JSON-RPC error.
var ErrNotFound = errors.New("resource not found")

type Config struct {
	Store    store.TaskStore
	Audit    *audit.Log
	Logger   *slog.Logger
	MaxTasks int // cap on task://all, defaulted when <= 0
}

type Provider struct {
	store    store.TaskStore
	audit    *audit.Log
	logger   *slog.Logger
	maxTasks int
}

func NewProvider(cfg Config) *Provider {
	aids.Assert(cfg.Store != nil, "resource provider needs a task store")
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = defaultMaxTask
	}
	return &Provider{store: cfg.Store, audit: cfg.Audit, logger: cfg.Logger, maxTasks: cfg.MaxTasks}
}

// List returns the static resources.
func (p *Provider) List() []mcp.Resource {
	return []mcp.Resource{
		{
			BaseMetadata: mcp.BaseMetadata{Name: "all-tasks"},
			URI:          uriAllTasks,
			Description:  aids.Ptr(fmt.Sprintf("All tasks in the database (first %d, ordered by id)", p.maxTasks)),
			MimeType:     aids.Ptr(mimeJSON),
		},
		{
			BaseMetadata: mcp.BaseMetadata{Name: "database-stats"},
			URI:          uriStats,
			Description:  aids.Ptr("Aggregate task statistics: counts by status and due-date bounds"),
			MimeType:     aids.Ptr(mimeJSON),
		},
	}
}

// Templates returns the templated resources.
func (p *Provider) Templates() []mcp.ResourceTemplate {
	return []mcp.ResourceTemplate{
		{
			BaseMetadata: mcp.BaseMetadata{Name: "task-by-id"},
			URITemplate:  uriTaskTemplate,
			Description:  aids.Ptr("A single task fetched by its numeric id"),
			MimeType:     aids.Ptr(mimeJSON),
		},
	}
}

// Read resolves a URI to its JSON content. Unknown URIs and missing ids
// return ErrNotFound; store faults return a generic error with the detail
// kept in the logs.
func (p *Provider) Read(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	p.audit.Emit(ctx, audit.Event{
		EventType:   audit.EventResourceReadStart,
		Success:     true,
		Description: "Resource read requested",
		Metadata:    map[string]string{"uri": uri},
	})

	payload, err := p.payload(ctx, uri)
	if errors.Is(err, ErrNotFound) {
		p.audit.Emit(ctx, audit.Event{
			EventType:    audit.EventResourceNotFound,
			Success:      false,
			Description:  "Resource not found",
			ErrorMessage: err.Error(),
			Metadata:     map[string]string{"uri": uri},
		})
		return nil, err
	}
	if err != nil {
		p.logger.LogAttrs(ctx, slog.LevelError, "resource read failed",
			slog.String("uri", uri), slog.String("error", err.Error()))
		p.audit.Emit(ctx, audit.Event{
			EventType:    audit.EventResourceReadFailure,
			Success:      false,
			Description:  "Resource read failed",
			ErrorMessage: err.Error(),
			Metadata:     map[string]string{"uri": uri},
		})
		return nil, errors.New("failed to read resource")
	}

	p.audit.Emit(ctx, audit.Event{
		EventType:   audit.EventResourceReadSuccess,
		Success:     true,
		Description: "Resource read succeeded",
		Metadata:    map[string]string{"uri": uri, "bytes": strconv.Itoa(len(payload))},
	})
	return &mcp.ReadResourceResult{
		Contents: []mcp.TextResourceContents{{URI: uri, MimeType: aids.Ptr(mimeJSON), Text: payload}},
	}, nil
}

func (p *Provider) payload(ctx context.Context, uri string) (string, error) {
	switch uri {
	case uriAllTasks:
		tasks, err := p.store.FindAll(ctx, p.maxTasks)
		if err != nil {
			return "", err
		}
		return marshal(tasks)
	case uriStats:
		summary, err := store.Summarize(ctx, p.store)
		if err != nil {
			return "", err
		}
		return marshal(summary)
	}

	id, ok := parseTaskURI(uri)
	if !ok {
		return "", ErrNotFound
	}
	t, err := p.store.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: no task with id %d", ErrNotFound, id)
	}
	if err != nil {
		return "", err
	}
	return marshal(t)
}

// parseTaskURI matches task://{id} with a decimal id. Anything else,
// including nested paths and signed numbers, is a miss.
func parseTaskURI(uri string) (int64, bool) {
	raw, found := strings.CutPrefix(uri, uriTaskPrefix)
	if !found || raw == "" || strings.Contains(raw, "/") {
		return 0, false
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
