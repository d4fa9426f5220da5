package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	kmcp "github.com/keygate/keygate/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
		token     string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes API key management
as tools for AI agents. Supports stdio (default) and HTTP transports.

In stdio mode every tool call acts as the user behind --token or KEYGATE_TOKEN.
In HTTP mode each request's own Authorization header is used when present.`,
		Example: `  keygate mcp --token $KEYGATE_TOKEN            # stdio mode
  keygate mcp --transport http --port 3001       # HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, port, token)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")
	cmd.Flags().StringVar(&token, "token", "", "Session token (default: $KEYGATE_TOKEN)")

	return cmd
}

func runMCP(transport string, port int, token string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)

	if token == "" {
		token = viper.GetString("token")
	}
	if token == "" && transport == "stdio" {
		return fmt.Errorf("stdio mode needs a session token: pass --token or set KEYGATE_TOKEN")
	}

	registry, store, err := openRegistry(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	mcpSrv := kmcp.NewMCPServer(registry, token, versionString(), logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		return mcpSrv.ServeHTTP(fmt.Sprintf(":%d", port))
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
