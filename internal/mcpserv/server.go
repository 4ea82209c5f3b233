// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

package mcpserv

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// maxRequestBody bounds JSON-RPC request bodies
const maxRequestBody = 4 << 20

// ToolHandler executes a tool call. The authenticated user is available on
// the context via the identity package.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (*CallToolResult, error)

// Server dispatches JSON-RPC requests to registered tools. Authentication
// happens upstream in the gateway middleware; by the time a request reaches
// the server its context already carries the caller's identity.
type Server struct {
	name    string
	version string
	logger  *zap.Logger

	mu       sync.RWMutex
	tools    map[string]Tool
	handlers map[string]ToolHandler
}

// NewServer creates a Server with the given implementation name and version
func NewServer(name, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		name:     name,
		version:  version,
		logger:   logger,
		tools:    make(map[string]Tool),
		handlers: make(map[string]ToolHandler),
	}
}

// RegisterTool adds a tool and its handler. Re-registering a name replaces
// the previous tool.
func (s *Server) RegisterTool(tool Tool, handler ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[tool.Name] = tool
	s.handlers[tool.Name] = handler
}

// ServeHTTP handles POST /mcp: one JSON-RPC request per body
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeResponse(w, newJSONRPCErrorResponse(nil, ErrCodeParse, "failed to read request body", nil))
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, newJSONRPCErrorResponse(nil, ErrCodeParse, "parse error", err.Error()))
		return
	}
	if req.JSONRPC != JSONRPCVersion || req.Method == "" {
		writeResponse(w, newJSONRPCErrorResponse(req.ID, ErrCodeInvalidRequest, "invalid request", nil))
		return
	}

	if req.isNotification() {
		// Notifications get no body; initialized is the only one expected
		w.WriteHeader(http.StatusAccepted)
		return
	}

	writeResponse(w, s.handleRequest(r.Context(), &req))
}

// StreamHandler serves GET /mcp. Server-initiated streaming is not offered;
// the endpoint acknowledges with an empty SSE stream so clients that probe
// with GET get a well-formed answer.
func (s *Server) StreamHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(": no server-initiated messages\n\n"))
	})
}

func (s *Server) handleRequest(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "ping":
		return newJSONRPCResponse(req.ID, struct{}{})
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return newJSONRPCErrorResponse(req.ID, ErrCodeMethodNotFound, "method not found", req.Method)
	}
}

func (s *Server) handleInitialize(req *JSONRPCRequest) *JSONRPCResponse {
	return newJSONRPCResponse(req.ID, initializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    serverCapabilities{Tools: &toolsCapability{}},
		ServerInfo:      serverInfo{Name: s.name, Version: s.version},
	})
}

func (s *Server) handleToolsList(req *JSONRPCRequest) *JSONRPCResponse {
	s.mu.RLock()
	tools := make([]Tool, 0, len(s.tools))
	for _, tool := range s.tools {
		tools = append(tools, tool)
	}
	s.mu.RUnlock()
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return newJSONRPCResponse(req.ID, listToolsResult{Tools: tools})
}

func (s *Server) handleToolsCall(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "invalid params", err.Error())
		}
	}
	if params.Name == "" {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "tool name is required", nil)
	}

	s.mu.RLock()
	handler, ok := s.handlers[params.Name]
	s.mu.RUnlock()
	if !ok {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "unknown tool", params.Name)
	}

	result, err := handler(ctx, params.Arguments)
	if err != nil {
		s.logger.Error("tool call failed",
			zap.String("tool", params.Name), zap.Error(err))
		return newJSONRPCErrorResponse(req.ID, ErrCodeInternal, "tool call failed", err.Error())
	}
	return newJSONRPCResponse(req.ID, result)
}

func writeResponse(w http.ResponseWriter, resp *JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
