// ABOUTME: JSON-RPC 2.0 envelopes and MCP payload types for the stdio wire protocol.
// ABOUTME: Server-defined payloads are carried opaquely as json.RawMessage.

package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Protocol version sent in the initialize handshake.
const protocolVersion = "2025-03-26"

// Client identity sent in the initialize handshake.
const (
	clientName    = "toolgate"
	clientVersion = "1.0.0"
)

// ErrConnectionClosed is returned for requests against a connection whose
// process has exited or been stopped.
var ErrConnectionClosed = errors.New("mcp connection closed")

// ErrRequestTimeout is returned when a server does not answer a request
// within the call timeout.
var ErrRequestTimeout = errors.New("mcp request timed out")

// JSONRPCRequest is an outbound JSON-RPC 2.0 message. A nil ID makes it a
// notification, which expects no response.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPCError is the error object of a JSON-RPC 2.0 response.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface so protocol-level failures surface
// through normal error returns with their code intact.
func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// jsonrpcMessage is any inbound message from a server. Responses carry an ID
// plus Result or Error; notifications carry a Method and no ID.
type jsonrpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// MCPToolInfo describes a single tool as advertised by a server.
// InputSchema is the tool's JSON Schema, passed through verbatim.
type MCPToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// MCPContent is one block of a tools/call result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ServerInfo      serverInfo     `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []MCPToolInfo `json:"tools"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type callToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}
