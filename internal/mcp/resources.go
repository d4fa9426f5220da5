package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const whoamiURI = "keygate://whoami"

// registerResources adds read-only context the client can load.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			whoamiURI,
			"Current Principal",
			mcp.WithResourceDescription(
				"The identity the session token resolves to. Keys created through "+
					"this server are owned by this principal.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleWhoamiResource,
	)
}

func (s *MCPServer) handleWhoamiResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {
	principal, err := s.registry.Authenticate(ctx, s.authorization(ctx))
	if err != nil {
		return nil, fmt.Errorf("whoami: %s", describeError(err))
	}

	b, err := json.MarshalIndent(principal, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal principal: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      whoamiURI,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
