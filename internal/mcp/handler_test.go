package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/crypto/bcrypt"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/credential"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/session"
)

// tokenAuthority resolves fixed tokens to principals.
type tokenAuthority map[string]model.Principal

func (a tokenAuthority) Verify(_ context.Context, token string) (*model.Principal, error) {
	p, ok := a[token]
	if !ok {
		return nil, session.ErrInvalidToken
	}
	return &p, nil
}

func newTestServer(t *testing.T, token string) *MCPServer {
	t.Helper()
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	authority := tokenAuthority{
		"alice-token": {ID: "alice", Email: "alice@example.com"},
		"bob-token":   {ID: "bob", Email: "bob@example.com"},
	}
	registry := service.NewRegistry(store, authority, credential.NewBcryptHasher(bcrypt.MinCost))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMCPServer(registry, token, "test", logger)
}

func callTool(t *testing.T, ctx context.Context, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]interface{}) (*mcp.CallToolResult, string) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := handler(ctx, req)
	if err != nil {
		t.Fatalf("tool returned protocol error: %v", err)
	}
	if len(res.Content) == 0 {
		t.Fatal("tool returned no content")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want TextContent", res.Content[0])
	}
	return res, text.Text
}

func TestTools_CreateListRevoke(t *testing.T) {
	s := newTestServer(t, "alice-token")
	ctx := context.Background()

	res, text := callTool(t, ctx, s.handleCreateKey, map[string]interface{}{"name": "agent"})
	if res.IsError {
		t.Fatalf("create failed: %s", text)
	}
	var nk model.NewKey
	if err := json.Unmarshal([]byte(text), &nk); err != nil {
		t.Fatalf("decode new key: %v", err)
	}
	if !credential.ValidKeyFormat(nk.Key) {
		t.Errorf("key %q is not 64 lowercase hex", nk.Key)
	}

	res, text = callTool(t, ctx, s.handleListKeys, nil)
	if res.IsError {
		t.Fatalf("list failed: %s", text)
	}
	if strings.Contains(text, nk.Key) {
		t.Error("listing leaked the plaintext key")
	}
	var keys []model.KeySummary
	if err := json.Unmarshal([]byte(text), &keys); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(keys) != 1 || keys[0].ID != nk.ID {
		t.Fatalf("keys = %+v, want the created key", keys)
	}

	res, text = callTool(t, ctx, s.handleRevokeKey, map[string]interface{}{"id": nk.ID})
	if res.IsError {
		t.Fatalf("revoke failed: %s", text)
	}

	_, text = callTool(t, ctx, s.handleListKeys, nil)
	if strings.TrimSpace(text) != "[]" {
		t.Errorf("list after revoke = %s, want []", text)
	}
}

func TestTools_Unauthenticated(t *testing.T) {
	s := newTestServer(t, "")
	ctx := context.Background()

	res, text := callTool(t, ctx, s.handleListKeys, nil)
	if !res.IsError || !strings.Contains(text, "not authenticated") {
		t.Errorf("list without token = %q (error=%v)", text, res.IsError)
	}

	res, _ = callTool(t, ctx, s.handleCreateKey, map[string]interface{}{"name": "x"})
	if !res.IsError {
		t.Error("create without token should fail")
	}
}

func TestTools_MissingArguments(t *testing.T) {
	s := newTestServer(t, "alice-token")
	ctx := context.Background()

	res, text := callTool(t, ctx, s.handleCreateKey, map[string]interface{}{})
	if !res.IsError || !strings.Contains(text, `"name"`) {
		t.Errorf("create without name = %q", text)
	}
	res, text = callTool(t, ctx, s.handleRevokeKey, map[string]interface{}{})
	if !res.IsError || !strings.Contains(text, `"id"`) {
		t.Errorf("revoke without id = %q", text)
	}
}

func TestTools_RevokeForeignKey(t *testing.T) {
	alice := newTestServer(t, "alice-token")
	ctx := context.Background()

	_, text := callTool(t, ctx, alice.handleCreateKey, map[string]interface{}{"name": "mine"})
	var nk model.NewKey
	json.Unmarshal([]byte(text), &nk)

	// Same registry, different caller via the request-scoped header.
	bobCtx := context.WithValue(ctx, authorizationKey, "Bearer bob-token")
	res, text := callTool(t, bobCtx, alice.handleRevokeKey, map[string]interface{}{"id": nk.ID})
	if !res.IsError || !strings.Contains(text, "another user") {
		t.Errorf("foreign revoke = %q (error=%v)", text, res.IsError)
	}
}

func TestAuthorization(t *testing.T) {
	s := &MCPServer{token: "static"}
	if got := s.authorization(context.Background()); got != "Bearer static" {
		t.Errorf("authorization = %q, want configured token", got)
	}

	r := httptest.NewRequest("POST", "/mcp", nil)
	r.Header.Set("Authorization", "Bearer from-header")
	ctx := withAuthorization(context.Background(), r)
	if got := s.authorization(ctx); got != "Bearer from-header" {
		t.Errorf("authorization = %q, want request header", got)
	}

	empty := &MCPServer{}
	if got := empty.authorization(context.Background()); got != "" {
		t.Errorf("authorization = %q, want empty", got)
	}
}

func TestWhoamiResource(t *testing.T) {
	s := newTestServer(t, "bob-token")
	contents, err := s.handleWhoamiResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	text := contents[0].(mcp.TextResourceContents).Text
	if !strings.Contains(text, "bob@example.com") {
		t.Errorf("whoami = %s", text)
	}

	anon := newTestServer(t, "")
	if _, err := anon.handleWhoamiResource(context.Background(), mcp.ReadResourceRequest{}); err == nil {
		t.Error("whoami without token should fail")
	}
}

func TestAnnotations(t *testing.T) {
	if ann := readOnlyAnnotation(); ann.ReadOnlyHint == nil || !*ann.ReadOnlyHint {
		t.Error("readOnlyAnnotation should set ReadOnlyHint")
	}
	if ann := mutatingAnnotation(); *ann.ReadOnlyHint || *ann.DestructiveHint {
		t.Error("mutatingAnnotation should be neither read-only nor destructive")
	}
	if ann := destructiveAnnotation(); !*ann.DestructiveHint {
		t.Error("destructiveAnnotation should set DestructiveHint")
	}
}

func TestDescribeError(t *testing.T) {
	if got := describeError(service.ErrUpstream); strings.Contains(got, "dial") {
		t.Errorf("describeError leaked detail: %q", got)
	}
	if got := describeError(service.ErrNotFound); got != "API key not found" {
		t.Errorf("describeError(ErrNotFound) = %q", got)
	}
}
