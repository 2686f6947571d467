// Package mcp models the Model Context Protocol wire vocabulary for the
// 2025-06-18 revision: JSON-RPC 2.0 framing plus the tool, resource, and
// prompt primitives this server speaks.
// https://github.com/modelcontextprotocol/modelcontextprotocol/blob/main/schema/2025-06-18/schema.ts
package mcp

import (
	"bytes"
	"encoding/json"
)

// Constants
const (
	LatestProtocolVersion = "2025-06-18"
	JSONRPCVersion        = "2.0"
)

// Standard JSON-RPC error codes, plus the server-defined range.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	AuthRequired     = -32001 // server-defined: transport auth gate failure
	ResourceNotFound = -32002 // server-defined: resources/read miss
)

// Method names routed by the dispatcher.
const (
	MethodInitialize            = "initialize"
	MethodPing                  = "ping"
	MethodToolsList             = "tools/list"
	MethodToolsCall             = "tools/call"
	MethodResourcesList         = "resources/list"
	MethodResourcesTemplates    = "resources/templates/list"
	MethodResourcesRead         = "resources/read"
	MethodPromptsList           = "prompts/list"
	MethodPromptsGet            = "prompts/get"
	MethodNotifInitialized      = "notifications/initialized"
	MethodNotifCancelled        = "notifications/cancelled"
	MethodNotifResourcesChanged = "notifications/resources/list_changed"
)

// RequestID carries a JSON-RPC id verbatim so strings and numbers round-trip
// byte-exact. A nil RequestID marshals as JSON null, which is what the
// protocol requires when the inbound id could not be determined.
type RequestID = json.RawMessage

// NullID is the id used on responses to unidentifiable requests.
var NullID = RequestID("null")

// ValidRequestID reports whether raw is a legal JSON-RPC id: a string, a
// number, or null. Containers and booleans are rejected.
func ValidRequestID(raw RequestID) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	switch trimmed[0] {
	case '"':
		return json.Valid(trimmed)
	case 'n':
		return bytes.Equal(trimmed, []byte("null"))
	case '{', '[', 't', 'f':
		return false
	default: // number or garbage; let the JSON grammar decide
		return json.Valid(trimmed)
	}
}

// Core JSON-RPC framing. Incoming messages keep id and params raw; the
// dispatcher decides shape (request vs notification) from field presence.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      RequestID `json:"id"`
	Result  any       `json:"result"`
}

type JSONRPCError struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      RequestID   `json:"id"`
	Error   ErrorObject `json:"error"`
}

type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func NewResponse(id RequestID, result any) JSONRPCResponse {
	return JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: id, Result: result}
}

func NewError(id RequestID, code int, message string) JSONRPCError {
	if id == nil {
		id = NullID
	}
	return JSONRPCError{JSONRPC: JSONRPCVersion, ID: id, Error: ErrorObject{Code: code, Message: message}}
}

func NewNotification(method string, params any) JSONRPCNotification {
	return JSONRPCNotification{JSONRPC: JSONRPCVersion, Method: method, Params: params}
}

// Meta field for requests and results
type Meta map[string]any

type Result struct {
	Meta Meta `json:"_meta,omitempty"`
}

type EmptyResult = Result

// Base metadata interface
type BaseMetadata struct {
	Name  string  `json:"name"`
	Title *string `json:"title,omitempty"`
}

// Implementation info
type Implementation struct {
	BaseMetadata
	Version string `json:"version"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Initialization
type ClientCapabilities struct {
	Experimental map[string]any `json:"experimental,omitempty"`
	Roots        *struct {
		ListChanged *bool `json:"listChanged,omitempty"`
	} `json:"roots,omitempty"`
	Sampling    any `json:"sampling,omitempty"`
	Elicitation any `json:"elicitation,omitempty"`
}

type PromptsCapability struct {
	ListChanged *bool `json:"listChanged,omitempty"`
}

type ResourcesCapability struct {
	Subscribe   *bool `json:"subscribe,omitempty"`
	ListChanged *bool `json:"listChanged,omitempty"`
}

type ToolsCapability struct {
	ListChanged *bool `json:"listChanged,omitempty"`
}

type ServerCapabilities struct {
	Experimental map[string]any       `json:"experimental,omitempty"`
	Logging      any                  `json:"logging,omitempty"`
	Prompts      *PromptsCapability   `json:"prompts,omitempty"`
	Resources    *ResourcesCapability `json:"resources,omitempty"`
	Tools        *ToolsCapability     `json:"tools,omitempty"`
}

type InitializeRequestParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

type InitializeResult struct {
	Result
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    *string            `json:"instructions,omitempty"`
}

// Cancellation
type CancelledNotificationParams struct {
	RequestID RequestID `json:"requestId"`
	Reason    *string   `json:"reason,omitempty"`
}

// Content types
type ContentBlock interface {
	isContentBlock()
}

type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Meta Meta   `json:"_meta,omitempty"`
}

func (TextContent) isContentBlock() {}

func NewTextContent(text string) TextContent {
	return TextContent{Type: "text", Text: text}
}

// Tools
type JSONSchema struct {
	Type                 string         `json:"type"`
	Properties           map[string]any `json:"properties,omitempty"`
	Required             []string       `json:"required,omitempty"`
	AdditionalProperties *bool          `json:"additionalProperties,omitempty"`
}

type ToolAnnotations struct {
	Title           *string `json:"title,omitempty"`
	ReadOnlyHint    *bool   `json:"readOnlyHint,omitempty"`
	DestructiveHint *bool   `json:"destructiveHint,omitempty"`
	IdempotentHint  *bool   `json:"idempotentHint,omitempty"`
	OpenWorldHint   *bool   `json:"openWorldHint,omitempty"`
}

type Tool struct {
	BaseMetadata
	Description *string          `json:"description,omitempty"`
	InputSchema JSONSchema       `json:"inputSchema"`
	Annotations *ToolAnnotations `json:"annotations,omitempty"`
	Meta        Meta             `json:"_meta,omitempty"`
}

type ListToolsResult struct {
	Result
	Tools []Tool `json:"tools"`
}

type CallToolRequestParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type CallToolResult struct {
	Result
	Content []ContentBlock `json:"content"`
	IsError *bool          `json:"isError,omitempty"`
}

// Resources
type Resource struct {
	BaseMetadata
	URI         string  `json:"uri"`
	Description *string `json:"description,omitempty"`
	MimeType    *string `json:"mimeType,omitempty"`
	Meta        Meta    `json:"_meta,omitempty"`
}

type ResourceTemplate struct {
	BaseMetadata
	URITemplate string  `json:"uriTemplate"`
	Description *string `json:"description,omitempty"`
	MimeType    *string `json:"mimeType,omitempty"`
	Meta        Meta    `json:"_meta,omitempty"`
}

type ListResourcesResult struct {
	Result
	Resources []Resource `json:"resources"`
}

type ListResourceTemplatesResult struct {
	Result
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
}

type ReadResourceRequestParams struct {
	URI string `json:"uri"`
}

type TextResourceContents struct {
	URI      string  `json:"uri"`
	MimeType *string `json:"mimeType,omitempty"`
	Text     string  `json:"text"`
	Meta     Meta    `json:"_meta,omitempty"`
}

type ReadResourceResult struct {
	Result
	Contents []TextResourceContents `json:"contents"`
}

// Prompts
type PromptArgument struct {
	BaseMetadata
	Description *string `json:"description,omitempty"`
	Required    *bool   `json:"required,omitempty"`
}

type Prompt struct {
	BaseMetadata
	Description *string          `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
	Meta        Meta             `json:"_meta,omitempty"`
}

type ListPromptsResult struct {
	Result
	Prompts []Prompt `json:"prompts"`
}

type GetPromptRequestParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

type PromptMessage struct {
	Role    Role         `json:"role"`
	Content ContentBlock `json:"content"`
}

type GetPromptResult struct {
	Result
	Description *string         `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}
