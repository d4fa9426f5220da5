package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerTools registers the API key tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("keygate_list_api_keys",
			mcp.WithDescription(
				"List your active API keys, newest first. Returns id, name, creation "+
					"time and last use for each key. Secrets are never returned.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListKeys,
	)

	srv.AddTool(
		mcp.NewTool("keygate_create_api_key",
			mcp.WithDescription(
				"Create a new API key. The response contains the plaintext key; it "+
					"cannot be retrieved again, so hand it to the user immediately.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Label for the key, 1 to 100 characters"),
			),
		),
		s.handleCreateKey,
	)

	srv.AddTool(
		mcp.NewTool("keygate_revoke_api_key",
			mcp.WithDescription(
				"Revoke one of your API keys by id. Revocation is permanent.",
			),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("ID of the key to revoke, as returned by keygate_list_api_keys"),
			),
		),
		s.handleRevokeKey,
	)
}

func (s *MCPServer) handleListKeys(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	keys, err := s.registry.ListKeys(ctx, s.authorization(ctx))
	if err != nil {
		return toolError("Failed to list API keys: %s", describeError(err))
	}
	return successJSON(keys)
}

func (s *MCPServer) handleCreateKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	name, err := requireString(request, "name")
	if err != nil {
		return toolError("%v", err)
	}

	nk, err := s.registry.Create(ctx, name, s.authorization(ctx))
	if err != nil {
		return toolError("Failed to create API key: %s", describeError(err))
	}
	s.logger.Info("api key created via mcp", "key_id", nk.ID)
	return successJSON(nk)
}

func (s *MCPServer) handleRevokeKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}

	if err := s.registry.Revoke(ctx, id, s.authorization(ctx)); err != nil {
		return toolError("Failed to revoke API key %q: %s", id, describeError(err))
	}
	return successJSON(map[string]interface{}{"success": true, "id": id})
}
