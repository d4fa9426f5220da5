package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/handler"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/openapi"
	"github.com/keygate/keygate/internal/server/middleware"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/session"
	"github.com/keygate/keygate/internal/ui"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	APIKeyHeader       string
	RateLimitPerMinute int

	CookieName        string
	SecureCookie      bool
	LoginPath         string
	ProtectedPrefixes []string
	// LiveCheck makes the gate confirm every session with the authority.
	LiveCheck bool

	// FrontendURL, when set, receives gated page traffic through a reverse
	// proxy. Without it the built-in login page is served at LoginPath.
	FrontendURL string

	Version string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ShutdownTimeout:    30 * time.Second,
		CORSOrigins:        []string{"*"},
		APIKeyHeader:       middleware.DefaultAPIKeyHeader,
		RateLimitPerMinute: 60,
		CookieName:         session.DefaultCookieName,
		SecureCookie:       true,
		LoginPath:          "/",
		ProtectedPrefixes:  middleware.DefaultProtectedPrefixes,
		Version:            "dev",
	}
}

// Server is the top-level HTTP server for keygate. It owns the Chi router,
// the key store, the key registry, and the session authority.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *config.Store
	registry   *service.Registry
	authority  session.PasswordAuthority
	metrics    *metrics.Metrics
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, store *config.Store, registry *service.Registry, authority session.PasswordAuthority, m *metrics.Metrics, logger *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		store:     store,
		registry:  registry,
		authority: authority,
		metrics:   m,
		logger:    logger,
	}
	if err := s.setupRouter(); err != nil {
		return nil, err
	}
	m.RegisterActiveKeys(s.activeKeys)
	return s, nil
}

func (s *Server) setupRouter() error {
	r := chi.NewRouter()

	gate := middleware.GateConfig{
		CookieName:        s.cfg.CookieName,
		LoginPath:         s.cfg.LoginPath,
		ProtectedPrefixes: s.cfg.ProtectedPrefixes,
		Metrics:           s.metrics,
		Logger:            s.logger,
	}
	if s.cfg.LiveCheck {
		gate.Authority = s.authority
	}

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger, s.metrics))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", s.apiKeyHeader(), "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.SessionGate(gate))

	sys := handler.NewSystemHandler(s.store)
	keys := handler.NewAPIKeyHandler(s.registry)
	sessions := handler.NewSessionHandler(s.authority, handler.SessionConfig{
		CookieName:   s.cfg.CookieName,
		SecureCookie: s.cfg.SecureCookie,
		LoginPath:    s.cfg.LoginPath,
		Logger:       s.logger,
	})
	spec := handler.NewOpenAPIHandler(openapi.Generate(openapi.Options{
		Version:      s.cfg.Version,
		APIKeyHeader: s.apiKeyHeader(),
		CookieName:   s.cfg.CookieName,
	}))

	// --- Health, metrics, and docs (no auth required) ---
	r.Get("/healthz", sys.Healthz)
	r.Get("/readyz", sys.Readyz)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/openapi.json", spec.ServeSpec)

	// --- Session ---
	r.Route("/session", func(r chi.Router) {
		r.With(middleware.RateLimit(s.cfg.RateLimitPerMinute)).Post("/", sessions.Login)
		r.Delete("/", sessions.Logout)
	})

	// --- API keys ---
	r.Route("/api-keys", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.cfg.RateLimitPerMinute))
			r.Post("/", keys.Create)
			r.Get("/", keys.List)
			r.Delete("/", keys.Revoke)
		})
		r.With(
			middleware.RateLimitByHeader(s.apiKeyHeader(), s.cfg.RateLimitPerMinute),
			middleware.RequireAPIKey(s.registry, s.apiKeyHeader()),
		).Get("/self", keys.Self)
	})

	// --- Pages ---
	if s.cfg.FrontendURL != "" {
		proxy, err := s.frontendProxy()
		if err != nil {
			return err
		}
		r.NotFound(proxy.ServeHTTP)
	} else {
		r.Method(http.MethodGet, s.loginPath(), ui.LoginPage())
	}

	s.router = r
	return nil
}

// frontendProxy forwards page traffic to the configured frontend. The gate
// has already replaced any client-supplied identity headers.
func (s *Server) frontendProxy() (*httputil.ReverseProxy, error) {
	target, err := url.Parse(s.cfg.FrontendURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid frontend url %q", s.cfg.FrontendURL)
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.ErrorContext(r.Context(), "frontend proxy error",
				"path", r.URL.Path,
				"error", err,
				"request_id", middleware.GetRequestID(r.Context()),
			)
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
		},
	}, nil
}

func (s *Server) activeKeys() float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := s.store.CountActiveAPIKeys(ctx)
	if err != nil {
		s.logger.Warn("active key count failed", "error", err)
		return 0
	}
	return float64(n)
}

func (s *Server) apiKeyHeader() string {
	if s.cfg.APIKeyHeader == "" {
		return middleware.DefaultAPIKeyHeader
	}
	return s.cfg.APIKeyHeader
}

func (s *Server) loginPath() string {
	if s.cfg.LoginPath == "" || !strings.HasPrefix(s.cfg.LoginPath, "/") {
		return "/"
	}
	return s.cfg.LoginPath
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled
// or a SIGINT or SIGTERM is received. It then performs a graceful shutdown,
// draining in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
