// Micrologger serves the microbiology lab log sheets over HTTP.
//
// Configuration is read from ~/.config/micrologger/config.yaml (or the file
// given with -config) and MICROLOGGER_* environment variables. See
// internal/config for details.
//
// Usage:
//
//	# Start with defaults (sqlite file micrologger.db, port 8080)
//	micrologger
//
//	# First start on an empty database creates the admin account
//	MICROLOGGER_AUTH_BOOTSTRAP_ADMIN=admin \
//	MICROLOGGER_AUTH_BOOTSTRAP_PASSWORD=change-me-now micrologger
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/micrologger/internal/audit"
	"github.com/fyrsmithlabs/micrologger/internal/auth"
	"github.com/fyrsmithlabs/micrologger/internal/catalog"
	"github.com/fyrsmithlabs/micrologger/internal/config"
	httpserver "github.com/fyrsmithlabs/micrologger/internal/http"
	"github.com/fyrsmithlabs/micrologger/internal/logbook"
	"github.com/fyrsmithlabs/micrologger/internal/logging"
	"github.com/fyrsmithlabs/micrologger/internal/store"
	"github.com/fyrsmithlabs/micrologger/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  micrologger [-config file]   Start the server\n")
			fmt.Fprintf(os.Stderr, "  micrologger version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("micrologger by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the services and serves until ctx is cancelled:
//  1. configuration, time zone, telemetry and logger
//  2. store, audit recorder, auth, logbook and product catalog
//  3. background loops (catalog sync, session and lockout sweeps)
//  4. the HTTP server
//
// Returns http.ErrServerClosed on graceful shutdown.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	loc, err := cfg.App.Location()
	if err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logCfg, err := logging.FromObservability(cfg.Observability)
	if err != nil {
		return err
	}
	if cfg.App.Debug {
		logCfg.Level = zap.DebugLevel
	}
	appLogger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = appLogger.Sync() }()
	logger := appLogger.Underlying()

	logger.Info("starting micrologger",
		zap.String("version", version),
		zap.String("database", cfg.Database.Driver),
		zap.String("database_url", cfg.Database.DSN.Masked()),
		zap.Int("port", cfg.Server.Port),
		zap.String("timezone", loc.String()),
		zap.Bool("telemetry", tel.Enabled()))

	st, err := store.Open(ctx, store.Config{
		Driver:       cfg.Database.Driver,
		Path:         cfg.Database.Path,
		DSN:          cfg.Database.DSN.Value(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
	}, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = st.Close() }()

	rec := audit.NewRecorder(st, logger.Named("audit"))
	lockout := auth.NewLockout(cfg.Auth.MaxFailures, cfg.Auth.LockoutDuration.Duration())
	authSvc, err := auth.NewService(st, lockout, rec, logger.Named("auth"))
	if err != nil {
		return err
	}
	if err := bootstrapAdmin(ctx, authSvc, cfg.Auth, logger); err != nil {
		return err
	}

	lb, err := logbook.NewService(logbook.Config{
		Tracer: tel.Tracer("github.com/fyrsmithlabs/micrologger/internal/logbook"),
		Meter:  tel.Meter("github.com/fyrsmithlabs/micrologger/internal/logbook"),
	}, st, rec, logger.Named("logbook"))
	if err != nil {
		return err
	}
	syncer, err := catalog.NewSyncer(catalog.Config{
		APIURL:  cfg.Products.APIURL,
		Timeout: cfg.Products.Timeout.Duration(),
	}, st, logger.Named("catalog"))
	if err != nil {
		return err
	}
	sessions := auth.NewSessions(cfg.Session.IdleTimeout.Duration(), logger.Named("sessions"))

	srv, err := httpserver.NewServer(httpserver.Deps{
		Logbook:   lb,
		Auth:      authSvc,
		Sessions:  sessions,
		Catalog:   syncer,
		DB:        st,
		Telemetry: tel,
		Meter:     tel.Meter("github.com/fyrsmithlabs/micrologger/internal/http"),
	}, logger.Named("http"), &httpserver.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
		CookieName:      cfg.Session.CookieName,
		SecureCookie:    cfg.Session.SecureCookie,
		TrustProxy:      cfg.Server.TrustProxy,
		LoginRate:       cfg.Auth.LoginRatePerSec,
		LoginBurst:      cfg.Auth.LoginBurst,
		Location:        loc,
		Version:         version,
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	go syncer.Run(ctx, cfg.Products.SyncInterval.Duration())
	go sessions.Run(ctx, cfg.Session.SweepInterval.Duration())
	go sweepLockouts(ctx, lockout, cfg.Session.SweepInterval.Duration())

	return srv.Start(ctx)
}

// bootstrapAdmin creates the first admin account on an empty database.
func bootstrapAdmin(ctx context.Context, svc *auth.Service, cfg config.AuthConfig, logger *zap.Logger) error {
	if cfg.BootstrapAdmin == "" || !cfg.BootstrapPassword.IsSet() {
		return nil
	}
	created, err := svc.EnsureAdmin(ctx, cfg.BootstrapAdmin, cfg.BootstrapPassword.Value())
	if err != nil {
		return err
	}
	if !created {
		logger.Debug("users exist, bootstrap admin skipped")
	}
	return nil
}

func sweepLockouts(ctx context.Context, l *auth.Lockout, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
