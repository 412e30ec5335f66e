package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/docvault-io/docvault/internal/api"
	"github.com/docvault-io/docvault/internal/auth"
	"github.com/docvault-io/docvault/internal/cache"
	"github.com/docvault-io/docvault/internal/config"
	"github.com/docvault-io/docvault/internal/db"
	"github.com/docvault-io/docvault/internal/mailer"
	"github.com/docvault-io/docvault/internal/ratelimit"
	"github.com/docvault-io/docvault/internal/rbac"
	"github.com/docvault-io/docvault/internal/repository"
	"github.com/docvault-io/docvault/internal/search"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serverFlags holds the command-line overrides for the operational knobs.
// Everything else is environment-only.
type serverFlags struct {
	httpAddr    string
	dbDriver    string
	databaseURL string
	redisURL    string
	logLevel    string
	debug       bool
}

// apply overlays flags the user actually passed onto the loaded config.
func (f *serverFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fl := cmd.Root().PersistentFlags()
	if fl.Changed("http-addr") {
		cfg.HTTPAddr = f.httpAddr
	}
	if fl.Changed("db-driver") {
		cfg.DBDriver = f.dbDriver
	}
	if fl.Changed("database-url") {
		cfg.DatabaseURL = f.databaseURL
	}
	if fl.Changed("redis-url") {
		cfg.RedisURL = f.redisURL
	}
	if fl.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fl.Changed("debug") {
		cfg.Debug = f.debug
	}
}

func newRootCmd() *cobra.Command {
	flags := &serverFlags{}

	root := &cobra.Command{
		Use:   "docvault-server",
		Short: "Document platform server with RBAC and full-text search",
		Long: `DocVault server is the backend of the DocVault document platform.
It exposes a REST API with role-based access control, JWT sessions with
cache-bound refresh rotation, OIDC login, and PostgreSQL full-text search.
Configuration is read from DOCVAULT_-prefixed environment variables;
flags override the environment.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd, flags)
		},
	}

	root.PersistentFlags().StringVar(&flags.httpAddr, "http-addr", ":8000", "HTTP listen address")
	root.PersistentFlags().StringVar(&flags.dbDriver, "db-driver", "postgres", "Database driver (postgres or sqlite)")
	root.PersistentFlags().StringVar(&flags.databaseURL, "database-url", "", "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&flags.redisURL, "redis-url", "", "Redis connection URL")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging and SQL echo")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newSeedCmd(flags))
	root.AddCommand(newVersionCmd())

	return root
}

func newServeCmd(flags *serverFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd, flags)
		},
	}
}

func newSeedCmd(flags *serverFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Install the default permissions, system roles, and superadmin account, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), cmd, flags)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("docvault-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// bootstrap loads configuration, applies flag overrides, and connects the
// backing stores shared by serve and seed.
func bootstrap(ctx context.Context, cmd *cobra.Command, flags *serverFlags) (*config.Config, *zap.Logger, *repository.Store, *cache.Cache, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	flags.apply(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, nil, err
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	// Debug mode echoes every SQL statement; otherwise only slow queries
	// and errors are logged.
	gormLevel := gormlogger.Warn
	if cfg.Debug {
		gormLevel = gormlogger.Info
	}

	database, err := db.New(db.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DatabaseURL,
		Logger:   logger,
		LogLevel: gormLevel,
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}

	c, err := cache.New(ctx, cfg.RedisURL, logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	return cfg, logger, repository.NewStore(database), c, nil
}

func runSeed(ctx context.Context, cmd *cobra.Command, flags *serverFlags) error {
	cfg, logger, store, c, err := bootstrap(ctx, cmd, flags)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if err := rbac.Seed(ctx, store, c, logger); err != nil {
		return err
	}
	return rbac.Bootstrap(ctx, store, cfg.SuperAdminEmail, cfg.SuperAdminPassword, logger)
}

func runServe(ctx context.Context, cmd *cobra.Command, flags *serverFlags) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, logger, store, c, err := bootstrap(ctx, cmd, flags)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting docvault server",
		zap.String("version", version),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("db_driver", cfg.DBDriver),
		zap.String("environment", cfg.Environment),
	)

	// The permission catalogue and the superadmin account are installed on
	// every start; both are idempotent.
	if err := rbac.Seed(ctx, store, c, logger); err != nil {
		return err
	}
	if err := rbac.Bootstrap(ctx, store, cfg.SuperAdminEmail, cfg.SuperAdminPassword, logger); err != nil {
		return err
	}

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, c)
	reset := auth.NewResetManager(c)

	var mail auth.Mailer
	if cfg.SMTPHost != "" {
		mail = mailer.New(mailer.Config{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUsername,
			Password:    cfg.SMTPPassword,
			From:        cfg.SMTPFrom,
			TLS:         cfg.SMTPPort == 465,
			FrontendURL: cfg.FrontendURL,
		}, logger)
	}

	authSvc := auth.NewService(store, tokens, reset, mail, logger)

	var oidcClient *auth.OIDCClient
	if cfg.OIDCEnabled {
		oidcClient = auth.NewOIDCClient(auth.OIDCConfig{
			Issuer:       cfg.OIDCIssuer,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
			Scopes:       cfg.OIDCScopes,
		}, c)
	}

	rbacSvc := rbac.NewService(store, c, logger)

	// Full-text search needs postgres; on sqlite the endpoints answer 501.
	database := store.DB()
	var engine *search.Engine
	if eng, err := search.New(database, logger); err == nil {
		engine = eng
	} else {
		logger.Warn("full-text search disabled", zap.Error(err))
	}

	router := api.NewRouter(api.RouterConfig{
		Store:   store,
		DB:      database,
		Cache:   c,
		Auth:    authSvc,
		OIDC:    oidcClient,
		RBAC:    rbacSvc,
		Search:  engine,
		Limiter: ratelimit.New(c, logger),
		Logger:  logger,
		Cookies: api.CookieSettings{
			Domain:     cfg.CookieDomain,
			Secure:     cfg.CookieSecure,
			SameSite:   cfg.CookieSameSite,
			AccessTTL:  cfg.AccessTokenTTL,
			RefreshTTL: cfg.RefreshTokenTTL,
		},
		CORSOrigins: cfg.CORSOrigins,
		FrontendURL: cfg.FrontendURL,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down docvault server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	switch cfg.LogLevel {
	case "debug":
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zcfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	if cfg.Debug {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	return zcfg.Build()
}
