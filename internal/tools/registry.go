package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/taskmcp/tasksvr/internal/aids"
	"github.com/taskmcp/tasksvr/internal/audit"
	"github.com/taskmcp/tasksvr/internal/batch"
	"github.com/taskmcp/tasksvr/internal/metrics"
	"github.com/taskmcp/tasksvr/internal/ratelimit"
	"github.com/taskmcp/tasksvr/internal/store"
	"github.com/taskmcp/tasksvr/mcp"
)

// ErrUnknownTool reports a call naming a tool the registry does not serve.
var ErrUnknownTool = errors.New("unknown tool")

// Tool pairs a protocol definition with its compiled argument schema and its
// handler. Schemas are compiled once at registration.
type Tool struct {
	def      mcp.Tool
	compiled *jsonschema.Schema
	handler  Handler
}

// Config carries the registry's collaborators. Audit and Metrics may be nil;
// both are nil-safe.
type Config struct {
	Store       store.TaskStore
	Engine      *batch.Engine
	Limiter     *ratelimit.Limiter
	Audit       *audit.Log
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	AllowedDirs []string
}

// Registry owns the tool set and runs every invocation through the shared
// stage chain.
type Registry struct {
	cfg   Config
	tools map[string]*Tool
	order []string
	guard *pathGuard
}

func NewRegistry(cfg Config) (*Registry, error) {
	aids.Assert(cfg.Store != nil, "tools.NewRegistry requires a task store")
	aids.Assert(cfg.Engine != nil, "tools.NewRegistry requires a batch engine")
	aids.Assert(cfg.Limiter != nil, "tools.NewRegistry requires a rate limiter")
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	guard, err := newPathGuard(cfg.AllowedDirs)
	if err != nil {
		return nil, fmt.Errorf("resolve allowed directories: %w", err)
	}

	r := &Registry{cfg: cfg, tools: map[string]*Tool{}, guard: guard}
	r.register(r.helpTool())
	r.register(r.schemaTool())
	r.register(r.summaryTool())
	r.register(r.listTool())
	r.register(r.batchTool())
	r.register(r.fromFileTool())
	r.register(r.jobStatusTool())
	return r, nil
}

func (r *Registry) register(def mcp.Tool, h Handler) {
	aids.Assert(r.tools[def.Name] == nil, "duplicate tool name: "+def.Name)
	r.tools[def.Name] = &Tool{def: def, compiled: compileInputSchema(def.Name, def.InputSchema), handler: h}
	r.order = append(r.order, def.Name)
}

// compileInputSchema compiles a tool's declared argument schema. Definitions
// are authored in this package, so a compile failure is a programming error.
func compileInputSchema(name string, s mcp.JSONSchema) *jsonschema.Schema {
	url := "mem://tools/" + name + ".json"
	doc := aids.Must(jsonschema.UnmarshalJSON(bytes.NewReader(aids.MustMarshal(s))))
	c := jsonschema.NewCompiler()
	aids.Must0(c.AddResource(url, doc))
	return aids.Must(c.Compile(url))
}

// List returns the tool definitions in registration order.
func (r *Registry) List() []mcp.Tool {
	defs := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Call runs the named tool through the invocation chain. The returned error
// is non-nil only for an unknown name; every other failure is expressed as a
// tool result with IsError set.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	t := r.tools[name]
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	inv := &invocation{reg: r, tool: t, args: args, stages: invocationChain()}
	return inv.next(ctx), nil
}
