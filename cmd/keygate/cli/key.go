package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/service"
)

func newKeyCmd() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage your API keys",
		Long: `Create, list, and revoke the API keys owned by the signed-in user. Every
subcommand authenticates with a session token from --token or KEYGATE_TOKEN.`,
	}

	cmd.PersistentFlags().StringVar(&token, "token", "", "Session token (default: $KEYGATE_TOKEN)")

	cmd.AddCommand(newKeyCreateCmd(&token))
	cmd.AddCommand(newKeyListCmd(&token))
	cmd.AddCommand(newKeyRevokeCmd(&token))
	cmd.AddCommand(newKeyPurgeCmd())

	return cmd
}

// withRegistry loads config, opens the registry, and resolves the bearer
// authorization for a key subcommand.
func withRegistry(tokenFlag string, fn func(reg *service.Registry, authorization string) error) error {
	token, err := resolveToken(tokenFlag)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, store, err := openRegistry(cfg, newLogger(cfg.Logging), nil)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(reg, "Bearer "+token)
}

// ---------- key create ----------

func newKeyCreateCmd(token *string) *cobra.Command {
	var (
		name       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  keygate key create --name "CI pipeline"
  keygate key create --name deploy --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(*token, func(reg *service.Registry, auth string) error {
				return runKeyCreate(cmd.Context(), reg, auth, name, jsonOutput)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Label for the key (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyCreate(ctx context.Context, reg *service.Registry, auth, name string, jsonOutput bool) error {
	nk, err := reg.Create(ctx, name, auth)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(nk)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:   %s\n", nk.Key)
	fmt.Printf("  ID:    %s\n", nk.ID)
	fmt.Printf("  Name:  %s\n", nk.Name)
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd(token *string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List your active API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(*token, func(reg *service.Registry, auth string) error {
				return runKeyList(cmd.Context(), reg, auth, jsonOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(ctx context.Context, reg *service.Registry, auth string, jsonOutput bool) error {
	// List soft-fails; authenticate first so a bad token is reported.
	if _, err := reg.Authenticate(ctx, auth); err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}
	keys := reg.List(ctx, auth)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys found. Use 'keygate key create' to create one.")
		return nil
	}

	fmt.Printf("%-38s %-24s %-22s %s\n", "ID", "NAME", "CREATED", "LAST USED")
	fmt.Printf("%-38s %-24s %-22s %s\n", "--", "----", "-------", "---------")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsed != nil {
			lastUsed = k.LastUsed.Format(time.RFC3339)
		}
		fmt.Printf("%-38s %-24s %-22s %s\n", k.ID, k.Name, k.Created.Format(time.RFC3339), lastUsed)
	}
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd(token *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke one of your API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(*token, func(reg *service.Registry, auth string) error {
				if err := reg.Revoke(cmd.Context(), args[0], auth); err != nil {
					return fmt.Errorf("revoke api key: %w", err)
				}
				fmt.Printf("API key %s revoked.\n", args[0])
				return nil
			})
		},
	}

	return cmd
}

// ---------- key purge ----------

func newKeyPurgeCmd() *cobra.Command {
	var olderThan string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete revoked keys older than the retention window",
		Long: `Delete keys that were revoked longer ago than --older-than (default:
retention.revoked_after). Active keys are never touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if olderThan == "" {
				olderThan = cfg.Retention.RevokedAfter
			}
			window, err := config.ParseDuration(olderThan, 0)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open key store: %w", err)
			}
			defer store.Close()

			purger := service.NewRetentionScheduler(store, "", window, nil, newLogger(cfg.Logging))
			n := purger.RunOnce(cmd.Context())
			fmt.Printf("Purged %d revoked key(s).\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&olderThan, "older-than", "", "Minimum age of the revocation, e.g. 720h")

	return cmd
}
