package mcp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/keygate/keygate/internal/model"
)

// KeyRegistry is the registry surface exposed as MCP tools. Each call takes
// the raw Authorization header so the registry authenticates every tool
// invocation on its own.
type KeyRegistry interface {
	Create(ctx context.Context, name, authorization string) (*model.NewKey, error)
	ListKeys(ctx context.Context, authorization string) ([]model.KeySummary, error)
	Revoke(ctx context.Context, id, authorization string) error
	Authenticate(ctx context.Context, authorization string) (*model.Principal, error)
}

type contextKey string

const authorizationKey contextKey = "authorization"

// MCPServer wraps the mcp-go server with the keygate tool and resource
// registrations so agents can manage their own API keys.
type MCPServer struct {
	registry KeyRegistry
	token    string
	logger   *slog.Logger
	server   *server.MCPServer
}

// NewMCPServer creates an MCPServer acting on behalf of the session token.
// In HTTP mode a request's own Authorization header takes precedence over
// token; in stdio mode token is the only credential.
func NewMCPServer(registry KeyRegistry, token, version string, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MCPServer{
		registry: registry,
		token:    token,
		logger:   logger,
	}

	mcpServer := server.NewMCPServer(
		"Keygate API Keys",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode on addr.
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server,
		server.WithHTTPContextFunc(withAuthorization),
	)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

// withAuthorization carries the HTTP Authorization header into tool calls.
func withAuthorization(ctx context.Context, r *http.Request) context.Context {
	if h := r.Header.Get("Authorization"); h != "" {
		return context.WithValue(ctx, authorizationKey, h)
	}
	return ctx
}

// authorization returns the credential for the current tool call.
func (s *MCPServer) authorization(ctx context.Context) string {
	if h, ok := ctx.Value(authorizationKey).(string); ok && h != "" {
		return h
	}
	if s.token == "" {
		return ""
	}
	return "Bearer " + s.token
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(false),
	}
}

func destructiveAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
