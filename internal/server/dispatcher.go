// Package server carries the transports: the JSON-RPC dispatcher shared by
// both, the STDIO loop, the HTTP+SSE endpoint, and the mode selector that
// runs them.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/taskmcp/tasksvr/internal/aids"
	"github.com/taskmcp/tasksvr/internal/audit"
	"github.com/taskmcp/tasksvr/internal/correlation"
	"github.com/taskmcp/tasksvr/internal/prompts"
	"github.com/taskmcp/tasksvr/internal/resources"
	"github.com/taskmcp/tasksvr/internal/tools"
	"github.com/taskmcp/tasksvr/mcp"
)

const (
	serverName    = "mcp-task-server"
	serverVersion = "1.0.0"
)

// Dispatcher routes JSON-RPC 2.0 payloads to the MCP feature providers. It
// never returns an error to the transport; every failure becomes a JSON-RPC
// error object, and notification-only payloads produce no body at all.
type Dispatcher struct {
	tools     *tools.Registry
	resources *resources.Provider
	prompts   *prompts.Provider
	audit     *audit.Log
	logger    *slog.Logger
}

func NewDispatcher(t *tools.Registry, r *resources.Provider, p *prompts.Provider, a *audit.Log, logger *slog.Logger) *Dispatcher {
	aids.Assert(t != nil, "dispatcher needs the tool registry")
	aids.Assert(r != nil, "dispatcher needs the resource provider")
	aids.Assert(p != nil, "dispatcher needs the prompt provider")
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{tools: t, resources: r, prompts: p, audit: a, logger: logger}
}

// Dispatch handles one wire payload, a single object or a batch array, and
// returns the serialised response body. A nil return means the payload was
// notification-only and the transport must not send a body.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte) []byte {
	ctx, _ = correlation.Ensure(ctx)

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return aids.MustMarshal(mcp.NewError(nil, mcp.ParseError, "Parse error"))
	}
	if trimmed[0] == '[' {
		return d.dispatchBatch(ctx, trimmed)
	}
	res := d.dispatchOne(ctx, trimmed)
	if res == nil {
		return nil
	}
	return aids.MustMarshal(res)
}

// dispatchBatch runs each element in arrival order, eliding notification
// responses. An empty batch is itself an invalid request.
func (d *Dispatcher) dispatchBatch(ctx context.Context, body []byte) []byte {
	var elements []json.RawMessage
	if err := json.Unmarshal(body, &elements); err != nil {
		return aids.MustMarshal(mcp.NewError(nil, mcp.ParseError, "Parse error"))
	}
	if len(elements) == 0 {
		return aids.MustMarshal(mcp.NewError(nil, mcp.InvalidRequest, "Invalid Request"))
	}
	responses := make([]any, 0, len(elements))
	for _, el := range elements {
		if res := d.dispatchOne(ctx, el); res != nil {
			responses = append(responses, res)
		}
	}
	if len(responses) == 0 {
		return nil
	}
	return aids.MustMarshal(responses)
}

// dispatchOne handles a single message and returns its response object, or
// nil for a notification.
func (d *Dispatcher) dispatchOne(ctx context.Context, raw []byte) any {
	var req mcp.JSONRPCRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		if !json.Valid(raw) {
			return mcp.NewError(nil, mcp.ParseError, "Parse error")
		}
		return mcp.NewError(nil, mcp.InvalidRequest, "Invalid Request")
	}
	if req.ID != nil && !mcp.ValidRequestID(req.ID) {
		return mcp.NewError(nil, mcp.InvalidRequest, "Invalid Request")
	}
	if req.JSONRPC != mcp.JSONRPCVersion || req.Method == "" {
		return mcp.NewError(req.ID, mcp.InvalidRequest, "Invalid Request")
	}

	if req.ID == nil {
		d.notify(ctx, req)
		return nil
	}
	if strings.HasPrefix(req.Method, "rpc.") {
		return mcp.NewError(req.ID, mcp.MethodNotFound, fmt.Sprintf("Method not found: %s (reserved prefix)", req.Method))
	}
	return d.handle(ctx, req)
}

// notify absorbs a notification. Per JSON-RPC a notification never produces
// a response, not even for unknown methods.
func (d *Dispatcher) notify(ctx context.Context, req mcp.JSONRPCRequest) {
	switch req.Method {
	case mcp.MethodNotifInitialized:
		d.logger.LogAttrs(ctx, slog.LevelDebug, "client initialised")
	case mcp.MethodNotifCancelled:
		d.logger.LogAttrs(ctx, slog.LevelDebug, "client cancelled a request")
	default:
		d.logger.LogAttrs(ctx, slog.LevelDebug, "ignoring notification", slog.String("method", req.Method))
	}
}

// handle routes one request. A panicking handler is converted into -32603
// with the details kept server-side.
func (d *Dispatcher) handle(ctx context.Context, req mcp.JSONRPCRequest) (res any) {
	defer func() {
		if v := recover(); v != nil {
			d.logger.LogAttrs(ctx, slog.LevelError, "request handler panicked",
				slog.String("method", req.Method), slog.Any("panic", v),
				slog.String("stack", string(debug.Stack())))
			d.audit.Emit(ctx, audit.Event{
				EventType:    audit.EventInternalError,
				Success:      false,
				Description:  "Request handler panicked",
				ErrorMessage: fmt.Sprintf("%v", v),
				Metadata:     map[string]string{"method": req.Method},
			})
			res = mcp.NewError(req.ID, mcp.InternalError, "Internal error")
		}
	}()

	switch req.Method {
	case mcp.MethodInitialize:
		return d.initialize(ctx, req)
	case mcp.MethodPing:
		return mcp.NewResponse(req.ID, mcp.EmptyResult{})
	case mcp.MethodToolsList:
		return mcp.NewResponse(req.ID, mcp.ListToolsResult{Tools: d.tools.List()})
	case mcp.MethodToolsCall:
		return d.callTool(ctx, req)
	case mcp.MethodResourcesList:
		return mcp.NewResponse(req.ID, mcp.ListResourcesResult{Resources: d.resources.List()})
	case mcp.MethodResourcesTemplates:
		return mcp.NewResponse(req.ID, mcp.ListResourceTemplatesResult{ResourceTemplates: d.resources.Templates()})
	case mcp.MethodResourcesRead:
		return d.readResource(ctx, req)
	case mcp.MethodPromptsList:
		return mcp.NewResponse(req.ID, mcp.ListPromptsResult{Prompts: d.prompts.List()})
	case mcp.MethodPromptsGet:
		return d.getPrompt(ctx, req)
	default:
		return mcp.NewError(req.ID, mcp.MethodNotFound, "Method not found: "+req.Method)
	}
}

func (d *Dispatcher) initialize(ctx context.Context, req mcp.JSONRPCRequest) any {
	var params mcp.InitializeRequestParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return mcp.NewError(req.ID, mcp.InvalidParams, "Invalid params")
		}
	}
	if params.ProtocolVersion != "" && params.ProtocolVersion != mcp.LatestProtocolVersion {
		d.logger.LogAttrs(ctx, slog.LevelWarn, "client requested another protocol version",
			slog.String("requested", params.ProtocolVersion),
			slog.String("serving", mcp.LatestProtocolVersion))
	}
	return mcp.NewResponse(req.ID, mcp.InitializeResult{
		ProtocolVersion: mcp.LatestProtocolVersion,
		Capabilities: mcp.ServerCapabilities{
			Experimental: map[string]any{"asyncBatch": serverVersion},
			Logging:      struct{}{},
			Prompts:      &mcp.PromptsCapability{},
			Resources:    &mcp.ResourcesCapability{Subscribe: aids.Ptr(false), ListChanged: aids.Ptr(true)},
			Tools:        &mcp.ToolsCapability{ListChanged: aids.Ptr(true)},
		},
		ServerInfo: mcp.Implementation{
			BaseMetadata: mcp.BaseMetadata{Name: serverName},
			Version:      serverVersion,
		},
	})
}

func (d *Dispatcher) callTool(ctx context.Context, req mcp.JSONRPCRequest) any {
	var params mcp.CallToolRequestParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return mcp.NewError(req.ID, mcp.InvalidParams, "Invalid params: tool name is required")
	}
	res, err := d.tools.Call(ctx, params.Name, params.Arguments)
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		return mcp.NewError(req.ID, mcp.InvalidParams, "Unknown tool: "+params.Name)
	case err != nil:
		return mcp.NewError(req.ID, mcp.InternalError, "Internal error")
	}
	return mcp.NewResponse(req.ID, res)
}

func (d *Dispatcher) readResource(ctx context.Context, req mcp.JSONRPCRequest) any {
	var params mcp.ReadResourceRequestParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return mcp.NewError(req.ID, mcp.InvalidParams, "Invalid params: resource uri is required")
	}
	res, err := d.resources.Read(ctx, params.URI)
	switch {
	case errors.Is(err, resources.ErrNotFound):
		return mcp.NewError(req.ID, mcp.ResourceNotFound, "Resource not found: "+params.URI)
	case err != nil:
		return mcp.NewError(req.ID, mcp.InternalError, err.Error())
	}
	return mcp.NewResponse(req.ID, res)
}

func (d *Dispatcher) getPrompt(ctx context.Context, req mcp.JSONRPCRequest) any {
	var params mcp.GetPromptRequestParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return mcp.NewError(req.ID, mcp.InvalidParams, "Invalid params: prompt name is required")
	}
	res, err := d.prompts.Get(ctx, params.Name, params.Arguments)
	switch {
	case errors.Is(err, prompts.ErrUnknownPrompt), errors.Is(err, prompts.ErrInvalidArguments):
		return mcp.NewError(req.ID, mcp.InvalidParams, err.Error())
	case err != nil:
		return mcp.NewError(req.ID, mcp.InternalError, err.Error())
	}
	return mcp.NewResponse(req.ID, res)
}
