// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

package todo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"mcpgateway/internal/identity"
	"mcpgateway/internal/mcpserv"
	"mcpgateway/internal/obo"
)

// Exchanger is the delegation dependency of todo_export
type Exchanger interface {
	TokenForUser(ctx context.Context, assertion, scope string) (string, error)
}

// Tools wires the todo store and the delegation helper into MCP tools
type Tools struct {
	store       Store
	exchanger   Exchanger
	exportScope string
}

// NewTools creates the tool set. exchanger may be nil, in which case
// todo_export reports that delegation is not configured.
func NewTools(store Store, exchanger Exchanger, exportScope string) *Tools {
	return &Tools{store: store, exchanger: exchanger, exportScope: exportScope}
}

// Register adds all todo tools to the server
func (t *Tools) Register(server *mcpserv.Server) {
	server.RegisterTool(mcpserv.Tool{
		Name:        "todo_add",
		Description: "Add a todo item for the current user",
		InputSchema: mcpserv.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"text": map[string]interface{}{"type": "string", "description": "The todo text"},
			},
			Required: []string{"text"},
		},
	}, t.handleAdd)

	server.RegisterTool(mcpserv.Tool{
		Name:        "todo_list",
		Description: "List the current user's todo items",
		InputSchema: mcpserv.ToolInputSchema{Type: "object"},
	}, t.handleList)

	server.RegisterTool(mcpserv.Tool{
		Name:        "todo_complete",
		Description: "Mark one of the current user's todo items as done",
		InputSchema: mcpserv.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{"type": "string", "description": "The todo item id"},
			},
			Required: []string{"id"},
		},
	}, t.handleComplete)

	server.RegisterTool(mcpserv.Tool{
		Name:        "todo_delete",
		Description: "Delete one of the current user's todo items",
		InputSchema: mcpserv.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{"type": "string", "description": "The todo item id"},
			},
			Required: []string{"id"},
		},
	}, t.handleDelete)

	server.RegisterTool(mcpserv.Tool{
		Name:        "todo_export",
		Description: "Export the current user's todo items to their personal storage, acting on their behalf",
		InputSchema: mcpserv.ToolInputSchema{Type: "object"},
	}, t.handleExport)
}

func (t *Tools) handleAdd(ctx context.Context, args map[string]interface{}) (*mcpserv.CallToolResult, error) {
	id, err := callerIdentity(ctx)
	if err != nil {
		return nil, err
	}
	text, _ := args["text"].(string)
	item, err := t.store.Add(id.ObjectID, text)
	if err != nil {
		return mcpserv.NewToolResultError(err.Error()), nil
	}
	return mcpserv.NewToolResultText(fmt.Sprintf("Added todo %s: %s", item.ID, item.Text)), nil
}

func (t *Tools) handleList(ctx context.Context, _ map[string]interface{}) (*mcpserv.CallToolResult, error) {
	id, err := callerIdentity(ctx)
	if err != nil {
		return nil, err
	}
	items, err := t.store.List(id.ObjectID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return mcpserv.NewToolResultText("No todo items"), nil
	}
	encoded, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcpserv.NewToolResultText(string(encoded)), nil
}

func (t *Tools) handleComplete(ctx context.Context, args map[string]interface{}) (*mcpserv.CallToolResult, error) {
	id, err := callerIdentity(ctx)
	if err != nil {
		return nil, err
	}
	itemID, _ := args["id"].(string)
	item, err := t.store.Complete(id.ObjectID, itemID)
	if errors.Is(err, ErrNotFound) {
		return mcpserv.NewToolResultError("todo item not found"), nil
	}
	if err != nil {
		return nil, err
	}
	return mcpserv.NewToolResultText(fmt.Sprintf("Completed todo %s", item.ID)), nil
}

func (t *Tools) handleDelete(ctx context.Context, args map[string]interface{}) (*mcpserv.CallToolResult, error) {
	id, err := callerIdentity(ctx)
	if err != nil {
		return nil, err
	}
	itemID, _ := args["id"].(string)
	if err := t.store.Delete(id.ObjectID, itemID); errors.Is(err, ErrNotFound) {
		return mcpserv.NewToolResultError("todo item not found"), nil
	} else if err != nil {
		return nil, err
	}
	return mcpserv.NewToolResultText("Deleted"), nil
}

// handleExport demonstrates delegated access: the user's own token is
// exchanged for a downstream token before the export runs. Delegation
// failures are tool-level results so the client sees the IdP's verdict.
func (t *Tools) handleExport(ctx context.Context, _ map[string]interface{}) (*mcpserv.CallToolResult, error) {
	id, err := callerIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if t.exchanger == nil || t.exportScope == "" {
		return mcpserv.NewToolResultError("export is not configured on this gateway"), nil
	}

	if _, err := t.exchanger.TokenForUser(ctx, id.Token, t.exportScope); err != nil {
		var exchErr *obo.ExchangeError
		if errors.As(err, &exchErr) {
			return mcpserv.NewToolResultError(exchErr.Error()), nil
		}
		return nil, err
	}

	items, err := t.store.List(id.ObjectID)
	if err != nil {
		return nil, err
	}
	return mcpserv.NewToolResultText(
		fmt.Sprintf("Exported %d todo items on behalf of %s", len(items), id.PreferredUsername)), nil
}

func callerIdentity(ctx context.Context) (*identity.UserIdentity, error) {
	id, ok := identity.FromContext(ctx)
	if !ok || id.ObjectID == "" {
		return nil, fmt.Errorf("no authenticated user on request context")
	}
	return id, nil
}
