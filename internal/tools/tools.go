// Package tools declares the seven MCP tools, their argument schemas, and the
// invocation pipeline every call runs through: correlation, audit, rate
// limiting, schema validation, handler.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taskmcp/tasksvr/internal/aids"
	"github.com/taskmcp/tasksvr/mcp"
)

// Code is the stable error taxonomy clients switch on. Messages are free
// text; codes are contract.
type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	CodeInternal   Code = "INTERNAL_ERROR"
	CodeRateLimit  Code = "RATE_LIMIT_EXCEEDED"
)

// toolError is the client-facing error payload. Field order is part of the
// wire contract; retryAfterSeconds appears only on rate limits.
type toolError struct {
	Error             string `json:"error"`
	Code              Code   `json:"code"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds,omitempty"`
}

// Handler executes a tool call. Arguments have already passed the tool's
// schema; handlers still own domain validation.
type Handler func(ctx context.Context, args map[string]any) *mcp.CallToolResult

func textResult(payload string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.NewTextContent(payload)}}
}

// jsonResult marshals a server-shaped payload. Shapes are under our control,
// so marshal failures are programmer errors.
func jsonResult(v any) *mcp.CallToolResult {
	return textResult(string(aids.MustMarshal(v)))
}

func errorResult(code Code, message string) *mcp.CallToolResult {
	res := textResult(string(aids.MustMarshal(toolError{Error: message, Code: code})))
	res.IsError = aids.Ptr(true)
	return res
}

func errorResultf(code Code, format string, args ...any) *mcp.CallToolResult {
	return errorResult(code, fmt.Sprintf(format, args...))
}

func rateLimitedResult(tool string, retryAfterSeconds int64) *mcp.CallToolResult {
	res := textResult(string(aids.MustMarshal(toolError{
		Error:             fmt.Sprintf("Rate limit exceeded for tool: %s. Please retry in %d seconds.", tool, retryAfterSeconds),
		Code:              CodeRateLimit,
		RetryAfterSeconds: retryAfterSeconds,
	})))
	res.IsError = aids.Ptr(true)
	return res
}

// decodeError recovers the structured error from a result, when it is one.
func decodeError(res *mcp.CallToolResult) (toolError, bool) {
	if res == nil || res.IsError == nil || !*res.IsError || len(res.Content) == 0 {
		return toolError{}, false
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		return toolError{}, false
	}
	var te toolError
	if err := json.Unmarshal([]byte(tc.Text), &te); err != nil {
		return toolError{}, false
	}
	return te, true
}

// stringArg returns the named argument or "" when absent or not a string.
func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// intArg returns the named integer argument or def. JSON numbers decode as
// float64; the schema has already pinned them to integers.
func intArg(args map[string]any, key string, def int) int {
	f, ok := args[key].(float64)
	if !ok {
		return def
	}
	return int(f)
}
