// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

// Package mcpserv is the minimal MCP server behind the gateway: JSON-RPC 2.0
// over HTTP POST with initialize, ping, tools/list and tools/call.
package mcpserv

import "encoding/json"

// JSONRPCVersion is the only protocol version accepted
const JSONRPCVersion = "2.0"

// ProtocolVersion is the MCP protocol revision this server speaks
const ProtocolVersion = "2025-03-26"

// JSON-RPC 2.0 error codes
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
)

// ContentTypeText is the MCP text content discriminator
const ContentTypeText = "text"

// JSONRPCRequest is an incoming JSON-RPC 2.0 request or notification.
// Notifications carry a null ID.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// isNotification reports whether the request expects no response
func (r *JSONRPCRequest) isNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// JSONRPCResponse is an outgoing JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError is the error member of a failed response
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func newJSONRPCResponse(id json.RawMessage, result interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: id, Result: result}
}

func newJSONRPCErrorResponse(id json.RawMessage, code int, message string, data interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
	}
}

// Tool describes a callable tool in tools/list
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ToolInputSchema is a JSON Schema object describing tool arguments
type ToolInputSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Required   []string               `json:"required,omitempty"`
}

// CallToolParams are the params of a tools/call request
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// TextContent is a text item in a tool result
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewTextContent creates a text content item
func NewTextContent(text string) TextContent {
	return TextContent{Type: ContentTypeText, Text: text}
}

// CallToolResult is the result of a tools/call request. IsError marks a
// tool-level failure, distinct from a protocol error.
type CallToolResult struct {
	Content []TextContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// NewToolResultText returns a successful single-text result
func NewToolResultText(text string) *CallToolResult {
	return &CallToolResult{Content: []TextContent{NewTextContent(text)}}
}

// NewToolResultError returns a tool-level failure carrying the given message
func NewToolResultError(message string) *CallToolResult {
	return &CallToolResult{Content: []TextContent{NewTextContent(message)}, IsError: true}
}

// initializeResult is the response of the initialize method
type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    serverCapabilities `json:"capabilities"`
	ServerInfo      serverInfo         `json:"serverInfo"`
}

type serverCapabilities struct {
	Tools *toolsCapability `json:"tools,omitempty"`
}

type toolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// listToolsResult is the response of the tools/list method
type listToolsResult struct {
	Tools []Tool `json:"tools"`
}
