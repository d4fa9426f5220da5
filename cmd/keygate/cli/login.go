package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/session"
)

func newLoginCmd() *cobra.Command {
	var (
		email      string
		password   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and print a session token",
		Long: `Authenticate against the configured session authority and print the bearer
token used by 'keygate key' and 'keygate mcp'.`,
		Example: `  keygate login --email you@example.com
  export KEYGATE_TOKEN=$(keygate login --email you@example.com --json | jq -r .token)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), email, password, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted if omitted)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the session envelope as JSON")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runLogin(ctx context.Context, email, password string, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	defer store.Close()

	authority, err := buildAuthority(cfg, store, newHasher(cfg), false, logger)
	if err != nil {
		return err
	}

	if password == "" {
		if password, err = promptPassword(false); err != nil {
			return err
		}
	}

	env, err := authority.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			return fmt.Errorf("invalid email or password")
		}
		return fmt.Errorf("login: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}

	fmt.Printf("Signed in as %s\n", env.Principal.Email)
	fmt.Println()
	fmt.Printf("  export KEYGATE_TOKEN=%s\n", env.Token)
	return nil
}
