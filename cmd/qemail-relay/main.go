// Package main is the entry point for the qemail relay server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/qemail/qemail-relay/internal/config"
	"github.com/qemail/qemail-relay/internal/lookup"
	"github.com/qemail/qemail-relay/internal/mimedec"
	"github.com/qemail/qemail-relay/internal/sink"
	"github.com/qemail/qemail-relay/internal/sink/forward"
	"github.com/qemail/qemail-relay/internal/sink/stdout"
	"github.com/qemail/qemail-relay/internal/sink/webhook"
	"github.com/qemail/qemail-relay/internal/smtp"
	smtptls "github.com/qemail/qemail-relay/internal/tls"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	// Load or generate TLS certificates
	tlsConfig, err := smtptls.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		slog.Error("failed to setup TLS", "error", err)
		os.Exit(1)
	}

	tlsMode := "self-signed"
	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		tlsMode = "file"
	}

	// Build the delivery sinks
	sinks := buildSinks(cfg)

	// Create SMTP server
	server := smtp.New(smtp.ServerConfig{
		ListenAddr:     cfg.SMTP.Listen,
		Hostname:       "localhost",
		Engine:         mimedec.New(),
		Sinks:          sinks,
		MaxMessageSize: cfg.SMTP.MaxMessageSize,
		TLSConfig:      tlsConfig,
		AuthUsername:   cfg.SMTP.Username,
		AuthPassword:   cfg.SMTP.Password,
	})

	slog.Info("starting qemail-relay",
		"listen", cfg.SMTP.Listen,
		"auth_enabled", cfg.AuthEnabled(),
		"tls_mode", tlsMode,
	)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	// Start the server (blocks until context is cancelled)
	if err := server.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("qemail-relay stopped")
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
	case "info":
		logLevel = slog.LevelInfo
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

// buildSinks assembles the delivery sinks from configuration. Every
// configured sink receives every accepted message; when nothing is
// configured the stdout sink keeps the relay observable.
func buildSinks(cfg *config.Config) []sink.Sink {
	var sinks []sink.Sink

	if cfg.WebhookConfigured() {
		slog.Info("using webhook sink",
			"url", cfg.Webhook.URL,
			"format", cfg.Webhook.Format,
		)
		sinks = append(sinks, webhook.New(webhook.Config{
			URL:    cfg.Webhook.URL,
			Secret: cfg.Webhook.Secret,
			Format: cfg.Webhook.Format,
		}))
	}

	if cfg.ForwardConfigured() {
		var resolver forward.Resolver
		if cfg.LookupConfigured() {
			slog.Info("using lookup service for forward recipients",
				"url", cfg.Lookup.URL,
				"cache_ttl", cfg.Lookup.CacheTTL,
			)
			resolver = lookup.New(cfg.Lookup.URL, cfg.Lookup.Secret, cfg.Lookup.CacheTTL)
		}

		slog.Info("using SES forward sink",
			"region", cfg.Forward.Region,
			"sender", cfg.Forward.Sender,
		)
		fwd, err := forward.New(context.Background(), forward.Config{
			Region:           cfg.Forward.Region,
			AccessKeyID:      cfg.Forward.AccessKeyID,
			SecretAccessKey:  cfg.Forward.SecretAccessKey,
			Sender:           cfg.Forward.Sender,
			DefaultRecipient: cfg.Forward.DefaultRecipient,
		}, resolver)
		if err != nil {
			slog.Error("failed to create SES forward sink", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, fwd)
	}

	if len(sinks) == 0 {
		slog.Info("no sinks configured, using stdout sink")
		sinks = append(sinks, stdout.New())
	}

	return sinks
}
