package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/server"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/session"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the keygate HTTP server",
		Long:  "Start the HTTP server that exposes the API key endpoints, the session endpoints, and the page gate.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().String("frontend", "", "URL of the frontend that serves gated pages")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("frontend.url", cmd.Flags().Lookup("frontend"))

	return cmd
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)

	// 1. Key store
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("init key store: %w", err)
	}
	defer store.Close()
	logger.Info("key store initialized", "driver", store.Driver())

	// 2. Session authority
	hasher := newHasher(cfg)
	authority, err := buildAuthority(cfg, store, hasher, true, logger)
	if err != nil {
		return err
	}
	if pb, ok := authority.(*session.PocketBaseAuthority); ok {
		logger.Info("session authority configured", "mode", cfg.Authority.Mode, "timeout", pb.Timeout())
	} else {
		logger.Info("session authority configured", "mode", cfg.Authority.Mode)
	}

	if cfg.Authority.Mode != "pocketbase" {
		hasUser, err := store.HasAnyUser(ctx)
		if err != nil {
			logger.Warn("failed to check for users", "error", err)
		}
		if !hasUser {
			logger.Warn("no users found - run: keygate user create --email you@example.com")
		}
	}

	// 3. Registry and metrics
	m := metrics.New()
	registry := service.NewRegistry(store, authority, hasher,
		service.WithLogger(logger),
		service.WithMetrics(m),
	)

	// 4. Revoked key retention
	revokedAfter, _ := config.ParseDuration(cfg.Retention.RevokedAfter, 0)
	retention := service.NewRetentionScheduler(store, cfg.Retention.Schedule, revokedAfter, m, logger)
	if err := retention.Start(ctx); err != nil {
		return err
	}
	defer retention.Stop()

	// 5. HTTP server
	shutdown, _ := config.ParseDuration(cfg.Server.ShutdownTimeout, 0)
	srvCfg := server.Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		ShutdownTimeout:    shutdown,
		CORSOrigins:        cfg.Server.CORS.Origins,
		APIKeyHeader:       cfg.Auth.APIKeyHeader,
		RateLimitPerMinute: cfg.RateLimit.RequestsPerMinute,
		CookieName:         cfg.Gate.CookieName,
		SecureCookie:       cfg.Gate.SecureCookie,
		LoginPath:          cfg.Gate.LoginPath,
		ProtectedPrefixes:  cfg.Gate.ProtectedPrefixes,
		LiveCheck:          cfg.Gate.LiveCheck,
		FrontendURL:        cfg.Frontend.URL,
		Version:            versionString(),
	}

	srv, err := server.New(srvCfg, store, registry, authority, m, logger)
	if err != nil {
		return err
	}

	fmt.Printf("→ Keygate %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Metrics:    http://%s:%d/metrics\n", cfg.Server.Host, cfg.Server.Port)
	if cfg.Frontend.URL != "" {
		fmt.Printf("→ Frontend:   %s\n", cfg.Frontend.URL)
	}
	fmt.Println()

	return srv.ListenAndServe(ctx)
}
