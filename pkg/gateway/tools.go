// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/docsgate/docsgate/pkg/logger"
)

// registerTools wires the document API tools onto the MCP server. Every
// handler is a thin adapter: parse arguments, call the downstream API
// through the invoker, return the raw JSON result.
func (g *Gateway) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Search documents by full-text query, optionally scoped to a collection"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Full-text search query"),
		),
		mcp.WithString("collection_id",
			mcp.Description("Restrict the search to one collection"),
		),
	), g.handleSearchDocuments)

	mcpServer.AddTool(mcp.NewTool("create_document",
		mcp.WithDescription("Create a new document in a collection"),
		mcp.WithString("collection_id",
			mcp.Required(),
			mcp.Description("Collection to create the document in"),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Document title"),
		),
		mcp.WithString("content",
			mcp.Description("Document body in Markdown"),
		),
	), g.handleCreateDocument)

	mcpServer.AddTool(mcp.NewTool("get_document",
		mcp.WithDescription("Fetch a document by its ID"),
		mcp.WithString("document_id",
			mcp.Required(),
			mcp.Description("Document identifier"),
		),
	), g.handleGetDocument)

	mcpServer.AddTool(mcp.NewTool("update_document",
		mcp.WithDescription("Update a document's title or content"),
		mcp.WithString("document_id",
			mcp.Required(),
			mcp.Description("Document identifier"),
		),
		mcp.WithString("title",
			mcp.Description("New title, unchanged when omitted"),
		),
		mcp.WithString("content",
			mcp.Description("New body in Markdown, unchanged when omitted"),
		),
	), g.handleUpdateDocument)

	mcpServer.AddTool(mcp.NewTool("delete_document",
		mcp.WithDescription("Delete a document by its ID"),
		mcp.WithString("document_id",
			mcp.Required(),
			mcp.Description("Document identifier"),
		),
	), g.handleDeleteDocument)

	mcpServer.AddTool(mcp.NewTool("list_collections",
		mcp.WithDescription("List the collections visible to the caller"),
	), g.handleListCollections)

	mcpServer.AddTool(mcp.NewTool("move_document",
		mcp.WithDescription("Move a document into another collection"),
		mcp.WithString("document_id",
			mcp.Required(),
			mcp.Description("Document identifier"),
		),
		mcp.WithString("target_collection_id",
			mcp.Required(),
			mcp.Description("Collection to move the document into"),
		),
	), g.handleMoveDocument)
}

func (g *Gateway) handleSearchDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query argument is required"), nil
	}

	payload := map[string]any{"query": query}
	if collection := request.GetString("collection_id", ""); collection != "" {
		payload["collectionId"] = collection
	}

	return g.invoke(ctx, "search_documents", "/documents.search", payload)
}

func (g *Gateway) handleCreateDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collection, err := request.RequireString("collection_id")
	if err != nil {
		return mcp.NewToolResultError("collection_id argument is required"), nil
	}
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("title argument is required"), nil
	}

	payload := map[string]any{
		"collectionId": collection,
		"title":        title,
		"text":         request.GetString("content", ""),
	}

	return g.invoke(ctx, "create_document", "/documents.create", payload)
}

func (g *Gateway) handleGetDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	documentID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError("document_id argument is required"), nil
	}

	return g.invoke(ctx, "get_document", "/documents.info", map[string]any{"id": documentID})
}

func (g *Gateway) handleUpdateDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	documentID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError("document_id argument is required"), nil
	}

	payload := map[string]any{"id": documentID}
	if title := request.GetString("title", ""); title != "" {
		payload["title"] = title
	}
	if content := request.GetString("content", ""); content != "" {
		payload["text"] = content
	}
	if len(payload) == 1 {
		return mcp.NewToolResultError("nothing to update: provide title or content"), nil
	}

	return g.invoke(ctx, "update_document", "/documents.update", payload)
}

func (g *Gateway) handleDeleteDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	documentID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError("document_id argument is required"), nil
	}

	return g.invoke(ctx, "delete_document", "/documents.delete", map[string]any{"id": documentID})
}

func (g *Gateway) handleListCollections(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return g.invoke(ctx, "list_collections", "/collections.list", map[string]any{})
}

func (g *Gateway) handleMoveDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	documentID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError("document_id argument is required"), nil
	}
	target, err := request.RequireString("target_collection_id")
	if err != nil {
		return mcp.NewToolResultError("target_collection_id argument is required"), nil
	}

	payload := map[string]any{
		"id":           documentID,
		"collectionId": target,
	}

	return g.invoke(ctx, "move_document", "/documents.move", payload)
}

// invoke runs one downstream call on behalf of the authenticated caller
// and packages the result for the MCP client. Tool-level failures are
// returned as tool errors, never as protocol errors.
func (g *Gateway) invoke(ctx context.Context, tool, endpoint string, payload map[string]any) (*mcp.CallToolResult, error) {
	identityID, ok := IdentityFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("request is not authenticated"), nil
	}

	if sessionID, ok := SessionIDFromContext(ctx); ok {
		g.sessions.Touch(sessionID)
	}

	result, err := g.invoker.Invoke(ctx, endpoint, payload, identityID)
	if err != nil {
		logger.Warnw("tool call failed",
			"tool", tool,
			"identity_id", identityID,
			"error", err.Error(),
		)
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", tool, err)), nil
	}

	logger.Debugw("tool call completed",
		"tool", tool,
		"identity_id", identityID,
	)

	return mcp.NewToolResultText(string(result)), nil
}
