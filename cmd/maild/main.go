// Command maild is the process entrypoint: load configuration, wire the
// shared auth/storage/metrics collaborators, and run the IMAP and SMTP
// listeners until a termination signal arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/infodancer/maild/internal/auth"
	"github.com/infodancer/maild/internal/config"
	"github.com/infodancer/maild/internal/imap"
	"github.com/infodancer/maild/internal/logging"
	"github.com/infodancer/maild/internal/metrics"
	"github.com/infodancer/maild/internal/server"
	"github.com/infodancer/maild/internal/smtp"
	"github.com/infodancer/maild/internal/storage"
)

func main() {
	flags := config.ParseFlags()

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	tlsConfig, err := server.LoadTLSConfig(cfg.TLS)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading TLS configuration: %v\n", err)
		os.Exit(1)
	}
	if tlsConfig != nil {
		logger.Info("TLS configured",
			slog.String("cert", cfg.TLS.CertPath),
			slog.String("min_version", cfg.TLS.MinVersion))
	}

	var collector metrics.Collector = &metrics.NoopCollector{}
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	var backend auth.Backend
	if cfg.Auth.IsConfigured() {
		b, closer, err := auth.New(cfg.Auth)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening auth backend: %v\n", err)
			os.Exit(1)
		}
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Error("error closing auth backend", "error", err)
			}
		}()
		backend = b
		logger.Info("authentication enabled", "backend", cfg.Auth.Backend)
	} else {
		fmt.Fprintln(os.Stderr, "error: no auth backend configured")
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Mail.MaildirFolders, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "error creating maildir_folders: %v\n", err)
		os.Exit(1)
	}
	store := storage.NewMaildirStore(cfg.Mail.MaildirFolders)

	localDomain := func(domain string) bool {
		return strings.EqualFold(domain, cfg.Mail.Hostname)
	}

	srv, err := server.New(server.Config{
		Cfg:       &cfg,
		TLSConfig: tlsConfig,
		Logger:    logger,
		Metrics:   collector,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating server: %v\n", err)
		os.Exit(1)
	}

	srv.SetIMAPHandler(imap.Handler(cfg.Mail.Hostname, backend, store, tlsConfig, cfg.Auth.AllowPlaintext, collector))
	srv.SetSMTPHandler(smtp.Handler(cfg.Mail.Hostname, backend, store, tlsConfig, cfg.Auth.AllowPlaintext, collector, localDomain))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewPrometheusServer(cfg.Metrics.Address, cfg.Metrics.Path)
		go func() {
			if err := metricsServer.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("metrics server started", "address", cfg.Metrics.Address, "path", cfg.Metrics.Path)
	}

	logger.Info("starting maild", "hostname", cfg.Mail.Hostname, "listeners", len(cfg.Listeners()))

	if err := srv.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	logger.Info("maild stopped")
}
