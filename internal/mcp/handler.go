package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/keygate/keygate/internal/service"
)

// requireString extracts a required string argument from the tool request.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the model so it can self-correct; they do NOT terminate the MCP
// session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// describeError turns a registry error into a message safe to show the
// client.
func describeError(err error) string {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return "not authenticated: provide a valid session token"
	case errors.Is(err, service.ErrForbidden):
		return "that API key belongs to another user"
	case errors.Is(err, service.ErrNotFound):
		return "API key not found"
	case errors.Is(err, service.ErrInvalid):
		return err.Error()
	case errors.Is(err, service.ErrUpstream):
		return "key store unavailable, try again later"
	default:
		return "internal error"
	}
}
