package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/model"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage local users",
		Long: `Create, list, and enable or disable users of the built-in session authority.
These accounts are only used when authority.mode is local.`,
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserSetActiveCmd("disable", false))
	cmd.AddCommand(newUserSetActiveCmd("enable", true))

	return cmd
}

// withStore loads config and opens the key store for a user subcommand.
func withStore(fn func(cfg *config.YAMLConfig, store *config.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Authority.Mode == "pocketbase" {
		fmt.Fprintln(os.Stderr, "warning: authority.mode is pocketbase; local users are not used for sign-in")
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	defer store.Close()
	return fn(cfg, store)
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		email    string
		password string
		name     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user",
		Example: `  keygate user create --email you@example.com --name "Your Name"
  keygate user create --email you@example.com --password secret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(cfg *config.YAMLConfig, store *config.Store) error {
				return runUserCreate(cmd.Context(), cfg, store, email, password, name)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "User email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "User password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "User display name")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runUserCreate(ctx context.Context, cfg *config.YAMLConfig, store *config.Store, email, password, name string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}

	if password == "" {
		var err error
		if password, err = promptPassword(true); err != nil {
			return err
		}
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	digest, err := newHasher(cfg).Hash(password)
	if err != nil {
		return err
	}

	user := &model.User{Email: email, Name: name, PasswordHash: digest, IsActive: true}
	if err := store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, config.ErrConflict) {
			return fmt.Errorf("user %q already exists", email)
		}
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("Created user %q (id %s)\n", email, user.ID)
	return nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(_ *config.YAMLConfig, store *config.Store) error {
				return runUserList(cmd.Context(), store, jsonOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(ctx context.Context, store *config.Store, jsonOutput bool) error {
	users, err := store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	if len(users) == 0 {
		fmt.Println("No users configured. Use 'keygate user create' to create one.")
		return nil
	}

	fmt.Printf("%-30s %-24s %-8s\n", "EMAIL", "NAME", "ACTIVE")
	fmt.Printf("%-30s %-24s %-8s\n", "-----", "----", "------")
	for _, u := range users {
		active := "yes"
		if !u.IsActive {
			active = "no"
		}
		fmt.Printf("%-30s %-24s %-8s\n", u.Email, u.Name, active)
	}

	return nil
}

// ---------- user enable / disable ----------

func newUserSetActiveCmd(use string, active bool) *cobra.Command {
	var email string

	short := "Disable a user; their sessions stop working immediately"
	if active {
		short = "Re-enable a disabled user"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(_ *config.YAMLConfig, store *config.Store) error {
				addr := strings.ToLower(strings.TrimSpace(email))
				if err := store.SetUserActive(cmd.Context(), addr, active); err != nil {
					if errors.Is(err, config.ErrNotFound) {
						return fmt.Errorf("user %q not found", addr)
					}
					return fmt.Errorf("%s user: %w", use, err)
				}
				fmt.Printf("User %q %sd.\n", addr, use)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "User email address (required)")
	cmd.MarkFlagRequired("email")

	return cmd
}
