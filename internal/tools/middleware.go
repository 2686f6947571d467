package tools

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/taskmcp/tasksvr/internal/audit"
	"github.com/taskmcp/tasksvr/internal/correlation"
	"github.com/taskmcp/tasksvr/internal/metrics"
	"github.com/taskmcp/tasksvr/internal/stages"
	"github.com/taskmcp/tasksvr/mcp"
)

// invocation is one tool call moving through the stage chain. Each stage
// either produces the result itself or calls next to continue.
type invocation struct {
	reg         *Registry
	tool        *Tool
	args        map[string]any
	stages      stages.Stages[*invocation, *mcp.CallToolResult]
	rateLimited bool
}

func (inv *invocation) next(ctx context.Context) *mcp.CallToolResult {
	return inv.stages.Next(ctx, inv)
}

// invocationChain is the pipeline order. Rate limiting sits inside the
// observation stage so denials are audited, but before validation so a
// denied caller pays nothing.
func invocationChain() stages.Stages[*invocation, *mcp.CallToolResult] {
	return stages.Stages[*invocation, *mcp.CallToolResult]{
		correlationStage,
		observeStage,
		rateLimitStage,
		validateStage,
		handlerStage,
	}
}

func correlationStage(ctx context.Context, inv *invocation) *mcp.CallToolResult {
	ctx, _ = correlation.Ensure(ctx)
	return inv.next(ctx)
}

// observeStage brackets the call with audit events and records the latency
// and outcome counters. A rate-limit denial is audited by its own stage and
// deliberately skips the failure event here.
func observeStage(ctx context.Context, inv *invocation) *mcp.CallToolResult {
	name := inv.tool.def.Name
	inv.reg.cfg.Audit.Emit(ctx, audit.Event{
		EventType:   audit.EventToolInvocationStart,
		Success:     true,
		Description: "Tool invoked",
		ToolName:    name,
	})

	start := time.Now()
	res := inv.next(ctx)
	elapsed := time.Since(start)

	if inv.rateLimited {
		return res
	}
	durationMs := strconv.FormatInt(elapsed.Milliseconds(), 10)
	if failure, isErr := decodeError(res); isErr {
		inv.reg.cfg.Metrics.ToolCall(name, metrics.OutcomeError, elapsed)
		inv.reg.cfg.Audit.Emit(ctx, audit.Event{
			EventType:    audit.EventToolInvocationFailure,
			Success:      false,
			Description:  "Tool invocation failed",
			ToolName:     name,
			ErrorMessage: failure.Error,
			Metadata:     map[string]string{"code": string(failure.Code), "durationMs": durationMs},
		})
		return res
	}
	inv.reg.cfg.Metrics.ToolCall(name, metrics.OutcomeSuccess, elapsed)
	inv.reg.cfg.Audit.Emit(ctx, audit.Event{
		EventType:   audit.EventToolInvocationSuccess,
		Success:     true,
		Description: "Tool invocation succeeded",
		ToolName:    name,
		Metadata:    map[string]string{"durationMs": durationMs},
	})
	return res
}

func rateLimitStage(ctx context.Context, inv *invocation) *mcp.CallToolResult {
	name := inv.tool.def.Name
	decision := inv.reg.cfg.Limiter.TryConsume(name)
	if decision.Allowed {
		return inv.next(ctx)
	}

	inv.rateLimited = true
	retryAfter := decision.RetryAfterSeconds()
	inv.reg.cfg.Metrics.RateLimited(name)
	inv.reg.cfg.Audit.Emit(ctx, audit.Event{
		EventType:   audit.EventRateLimitExceeded,
		Success:     false,
		Description: "Tool invocation rate limited",
		ToolName:    name,
		Metadata:    map[string]string{"retryAfterSeconds": strconv.FormatInt(retryAfter, 10)},
	})
	return rateLimitedResult(name, retryAfter)
}

func validateStage(ctx context.Context, inv *invocation) *mcp.CallToolResult {
	if err := inv.tool.compiled.Validate(inv.args); err != nil {
		return errorResultf(CodeValidation, "Invalid arguments: %s", schemaMessage(err))
	}
	return inv.next(ctx)
}

func handlerStage(ctx context.Context, inv *invocation) *mcp.CallToolResult {
	return inv.tool.handler(ctx, inv.args)
}

// schemaMessage flattens a schema validation error into its location-bearing
// detail lines, dropping the library preamble (which names the schema URL).
func schemaMessage(err error) string {
	lines := strings.Split(err.Error(), "\n")
	details := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "jsonschema validation failed") {
			continue
		}
		details = append(details, strings.TrimPrefix(line, "- "))
	}
	if len(details) == 0 {
		return "arguments do not match the tool schema"
	}
	return strings.Join(details, "; ")
}
