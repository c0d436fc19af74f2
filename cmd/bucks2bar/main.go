// Package main is the entry point for the bucks2bar chart relay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shineum/bucks2bar/internal/config"
	"github.com/shineum/bucks2bar/internal/provider"
	"github.com/shineum/bucks2bar/internal/provider/graph"
	"github.com/shineum/bucks2bar/internal/provider/ses"
	"github.com/shineum/bucks2bar/internal/provider/smtp"
	"github.com/shineum/bucks2bar/internal/provider/stdout"
	"github.com/shineum/bucks2bar/internal/relay"
	"github.com/shineum/bucks2bar/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	envPath := flag.String("env", ".env", "path to .env file; missing files are ignored")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		slog.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Select email delivery provider
	prov, err := selectProvider(ctx, cfg)
	if err != nil {
		slog.Error("failed to create provider", "provider", cfg.Provider, "error", err)
		os.Exit(1)
	}

	metrics := relay.NewMetrics()
	svc := relay.NewService(prov, relay.ServiceConfig{
		Sender:   cfg.Sender(),
		FromName: cfg.Email.FromName,
		Metrics:  metrics,
	})

	server := &http.Server{
		Addr: cfg.ListenAddr(),
		Handler: relay.NewHandler(relay.Options{
			Service:      svc,
			Metrics:      metrics,
			Static:       web.Static(),
			ClientOrigin: cfg.Server.ClientOrigin,
			MaxBodySize:  cfg.Server.MaxBodySize,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("starting bucks2bar",
		"listen", server.Addr,
		"provider", prov.Name(),
		"client_origin", cfg.Server.ClientOrigin,
		"sender", cfg.Sender(),
	)

	if err := run(ctx, server); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("bucks2bar stopped")
}

// run serves until ctx is cancelled, then drains in-flight requests.
func run(ctx context.Context, server *http.Server) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("initiating shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// selectProvider builds the delivery backend named by cfg.Provider. The
// configuration has already been validated.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderSMTP:
		mode, err := smtp.ParseTLSMode(cfg.Email.TLSMode)
		if err != nil {
			return nil, err
		}
		slog.Info("using SMTP provider",
			"host", cfg.Email.Host,
			"port", cfg.Email.Port,
			"tls_mode", mode,
			"auth", cfg.Email.User != "",
		)
		if cfg.Email.TLSInsecure {
			slog.Warn("TLS certificate verification is disabled for the SMTP server")
		}
		return smtp.New(smtp.Config{
			Host:               cfg.Email.Host,
			Port:               cfg.Email.Port,
			TLSMode:            mode,
			Username:           cfg.Email.User,
			Password:           cfg.Email.Password,
			Timeout:            cfg.Email.Timeout,
			InsecureSkipVerify: cfg.Email.TLSInsecure,
		}), nil

	case config.ProviderSES:
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.Sender(),
		)
		return ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.Sender(),
		})

	case config.ProviderGraph:
		slog.Info("using Microsoft Graph provider",
			"sender", cfg.Sender(),
		)
		return graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Sender(),
			Timeout:      cfg.Email.Timeout,
		}), nil

	case config.ProviderStdout:
		slog.Info("using stdout provider")
		return stdout.New(), nil
	}

	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}
